package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"account-ledger/internal/domain"
	"account-ledger/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "userId"

type Handlers struct {
	eng *ledger.Engine
	log *zap.Logger
}

func NewHandlers(eng *ledger.Engine, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{eng: eng, log: log}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity

	// Context / timeouts
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	switch {
	case code >= 500:
		return "internal error"
	case code == http.StatusForbidden:
		return "you are not authorized"
	}
	return err.Error()
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusForErr(err)
	if code >= 500 {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeErr(w, code, publicErrMessage(code, err))
}

func callerID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(UserIDHeader)))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// GET /accounts
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := callerID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing or invalid userId header")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	accs, err := h.eng.ListAccounts(ctx, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]domain.AccountResponse, 0, len(accs))
	for _, a := range accs {
		out = append(out, domain.NewAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /accounts/{accountID}
func (h *Handlers) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := callerID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing or invalid userId header")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	acc, err := h.eng.GetAccount(ctx, chi.URLParam(r, "accountID"), user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.NewAccountResponse(acc))
}

// POST /accounts/{accountID}/transfer
func (h *Handlers) Transfer(w http.ResponseWriter, r *http.Request) {
	user, ok := callerID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing or invalid userId header")
		return
	}

	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if msg := validateTransfer(req); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := h.eng.Transfer(ctx, ledger.TransferRequest{
		OperatingAccountID:      chi.URLParam(r, "accountID"),
		OperatingAccountVersion: *req.OperatingAccountVersion,
		RecipientAccountID:      strings.TrimSpace(req.RecipientAccountID),
		CurrencyCode:            strings.ToUpper(strings.TrimSpace(req.CurrencyCode)),
		Amount:                  *req.Amount,
		UserID:                  user,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateTransfer rejects malformed bodies before they reach the engine.
func validateTransfer(req domain.TransferRequest) string {
	switch {
	case req.OperatingAccountVersion == nil:
		return "operatingAccountVersion is required"
	case strings.TrimSpace(req.RecipientAccountID) == "":
		return "recipientAccountId is required"
	case len(strings.TrimSpace(req.CurrencyCode)) != 3:
		return "currencyCode must be a 3 letter code"
	case req.Amount == nil:
		return "amount is required"
	case !req.Amount.IsPositive():
		return "amount must be positive"
	case !domain.HasMoneyScale(*req.Amount):
		return "amount must have at most 2 decimal places"
	}
	return ""
}

// GET /accounts/transaction-log
func (h *Handlers) ListTransactionLog(w http.ResponseWriter, r *http.Request) {
	user, ok := callerID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "missing or invalid userId header")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	logs, err := h.eng.ListTransactionLog(ctx, user)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]domain.TransactionLogResponse, 0, len(logs))
	for _, e := range logs {
		out = append(out, domain.NewTransactionLogResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}
