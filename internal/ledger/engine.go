package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	transferOperationType = "TRANSFER"
	transferCodeLength    = 20
	maxCreditAttempts     = 3
)

// Publisher is notified after a transfer has been committed.
type Publisher interface {
	PublishTransferCompleted(ctx context.Context, ev domain.TransferPosted) error
}

type nopPublisher struct{}

func (nopPublisher) PublishTransferCompleted(context.Context, domain.TransferPosted) error {
	return nil
}

// Engine reads accounts and moves funds between them. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	store     domain.Store
	authz     *Authorizer
	codes     *ReferenceCodeGenerator
	publisher Publisher
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithClock overrides the time source used to stamp log entries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(st domain.Store, authz *Authorizer, codes *ReferenceCodeGenerator, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		authz:     authz,
		codes:     codes,
		publisher: nopPublisher{},
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) GetAccount(ctx context.Context, accountID string, userID uuid.UUID) (domain.Account, error) {
	acc, err := e.store.FindAccountByID(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	if err := e.authz.EnsureReadAccess(acc, userID); err != nil {
		e.log.Warn("account read denied", zap.String("account_id", accountID), zap.Stringer("user_id", userID))
		return domain.Account{}, err
	}
	return acc, nil
}

// ListAccounts is scoped to the caller by the query itself.
func (e *Engine) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	return e.store.FindAccountsByOwner(ctx, userID)
}

func (e *Engine) ListTransactionLog(ctx context.Context, userID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	return e.store.FindTransactionLogByOperatingUser(ctx, userID)
}

// TransferRequest asks to move Amount from the operating account, which the caller
// last saw at OperatingAccountVersion, to the recipient account.
type TransferRequest struct {
	OperatingAccountID      string
	OperatingAccountVersion int64
	RecipientAccountID      string
	CurrencyCode            string
	Amount                  decimal.Decimal
	UserID                  uuid.UUID
}

// Transfer debits the operating account and credits the recipient inside one unit
// of work. Both balance writes and both log entries commit together or not at all.
// A stale OperatingAccountVersion fails with domain.ErrConflict and is never retried.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) error {
	if strings.TrimSpace(req.OperatingAccountID) == "" || strings.TrimSpace(req.RecipientAccountID) == "" {
		return fmt.Errorf("%w: operating and recipient account ids are required", domain.ErrInvalidArgument)
	}
	code, err := e.codes.Generate(transferCodeLength)
	if err != nil {
		return err
	}
	reference := transferOperationType + "_" + code

	var posted domain.TransferPosted
	err = e.store.WithinTx(ctx, func(ctx context.Context, repo domain.Repository) error {
		var err error
		posted, err = e.transfer(ctx, repo, req, reference)
		return err
	})
	if err != nil {
		e.logTransferFailure(req, reference, err)
		return err
	}

	e.log.Info("transfer committed",
		zap.String("reference_code", reference),
		zap.String("operating_account_id", req.OperatingAccountID),
		zap.String("recipient_account_id", req.RecipientAccountID),
		zap.String("amount", posted.Amount.StringFixed(domain.MoneyScale)),
		zap.String("currency", posted.CurrencyCode),
	)

	// The transfer is durable at this point; a lost notification must not undo it.
	if err := e.publisher.PublishTransferCompleted(ctx, posted); err != nil {
		e.log.Error("publish transfer completed failed", zap.String("reference_code", reference), zap.Error(err))
	}
	return nil
}

func (e *Engine) transfer(ctx context.Context, repo domain.Repository, req TransferRequest, reference string) (domain.TransferPosted, error) {
	operating, err := repo.FindAccountByID(ctx, req.OperatingAccountID)
	if err != nil {
		return domain.TransferPosted{}, err
	}
	if err := e.authz.EnsureDebitAccess(operating, req.UserID); err != nil {
		return domain.TransferPosted{}, err
	}
	if req.RecipientAccountID == operating.ID {
		return domain.TransferPosted{}, fmt.Errorf("%w: cannot transfer to the operating account itself", domain.ErrInvalidArgument)
	}
	if operating.Version != req.OperatingAccountVersion {
		return domain.TransferPosted{}, conflictErr(operating.ID, req.OperatingAccountVersion)
	}

	recipient, err := repo.FindAccountByID(ctx, req.RecipientAccountID)
	if err != nil {
		return domain.TransferPosted{}, err
	}

	currency := req.CurrencyCode
	if currency != operating.CurrencyCode {
		return domain.TransferPosted{}, fmt.Errorf("%w: transfer in %q against account %s held in %s",
			domain.ErrCurrencyMismatch, req.CurrencyCode, operating.ID, operating.CurrencyCode)
	}
	if currency != recipient.CurrencyCode {
		return domain.TransferPosted{}, fmt.Errorf("%w: transfer in %q to account %s held in %s",
			domain.ErrCurrencyMismatch, req.CurrencyCode, recipient.ID, recipient.CurrencyCode)
	}

	if !req.Amount.IsPositive() {
		return domain.TransferPosted{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	if !domain.HasMoneyScale(req.Amount) {
		return domain.TransferPosted{}, fmt.Errorf("%w: amount %s exceeds %d fractional digits",
			domain.ErrInvalidArgument, req.Amount, domain.MoneyScale)
	}

	newOperatingBalance := operating.Balance.Sub(req.Amount)
	if newOperatingBalance.IsNegative() {
		return domain.TransferPosted{}, &domain.InsufficientBalanceError{AccountID: operating.ID}
	}

	// Postgres keeps microseconds; stamp at that precision so ordering survives a round trip.
	deductAt := e.now().UTC().Truncate(time.Microsecond)
	if _, err := repo.SaveAccountConditional(ctx, operating.WithBalance(newOperatingBalance), req.OperatingAccountVersion); err != nil {
		return domain.TransferPosted{}, saveErr(err, operating.ID, req.OperatingAccountVersion)
	}
	if err := repo.AppendTransactionLog(ctx, domain.TransactionLogEntry{
		ID:                   uuid.New(),
		OperatingAccountID:   operating.ID,
		Operation:            domain.OperationDeduct,
		OperatingUserID:      req.UserID,
		ReferenceCode:        reference,
		CounterpartAccountID: recipient.ID,
		CurrencyCode:         currency,
		Amount:               req.Amount,
		CreatedAtUTC:         deductAt,
	}); err != nil {
		return domain.TransferPosted{}, err
	}

	if err := credit(ctx, repo, recipient.ID, req.Amount); err != nil {
		return domain.TransferPosted{}, err
	}

	addAt := e.now().UTC().Truncate(time.Microsecond)
	if !addAt.After(deductAt) {
		addAt = deductAt.Add(time.Microsecond)
	}
	if err := repo.AppendTransactionLog(ctx, domain.TransactionLogEntry{
		ID:                   uuid.New(),
		OperatingAccountID:   recipient.ID,
		Operation:            domain.OperationAdd,
		OperatingUserID:      req.UserID,
		ReferenceCode:        reference,
		CounterpartAccountID: operating.ID,
		CurrencyCode:         currency,
		Amount:               req.Amount,
		CreatedAtUTC:         addAt,
	}); err != nil {
		return domain.TransferPosted{}, err
	}

	posted := domain.TransferPosted{
		ReferenceCode:      reference,
		OperatingAccountID: operating.ID,
		RecipientAccountID: recipient.ID,
		OperatingUserID:    req.UserID,
		CurrencyCode:       currency,
		Amount:             req.Amount,
		PostedAt:           addAt,
	}
	if err := repo.RecordTransferEvent(ctx, posted); err != nil {
		return domain.TransferPosted{}, err
	}
	return posted, nil
}

// credit adds amount to the recipient against its current version. The caller
// never supplies a recipient version, so the row is re-read under lock inside
// the unit of work and saved against whatever version it holds now.
func credit(ctx context.Context, repo domain.Repository, recipientID string, amount decimal.Decimal) error {
	for attempt := 1; ; attempt++ {
		recipient, err := repo.FindAccountForUpdate(ctx, recipientID)
		if err != nil {
			return err
		}
		_, err = repo.SaveAccountConditional(ctx, recipient.WithBalance(recipient.Balance.Add(amount)), recipient.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt == maxCreditAttempts {
			return saveErr(err, recipient.ID, recipient.Version)
		}
	}
}

func conflictErr(accountID string, version int64) error {
	return fmt.Errorf("%w: account %s, version %d", domain.ErrConflict, accountID, version)
}

// saveErr reports a storage-side version mismatch exactly like the pre-flight check.
func saveErr(err error, accountID string, version int64) error {
	if errors.Is(err, domain.ErrVersionConflict) {
		return conflictErr(accountID, version)
	}
	return err
}

func (e *Engine) logTransferFailure(req TransferRequest, reference string, err error) {
	fields := []zap.Field{
		zap.String("reference_code", reference),
		zap.String("operating_account_id", req.OperatingAccountID),
		zap.String("recipient_account_id", req.RecipientAccountID),
		zap.Stringer("user_id", req.UserID),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, domain.ErrNotAuthorized):
		e.log.Warn("transfer rejected", fields...)
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInvalidArgument):
		e.log.Info("transfer rejected", fields...)
	default:
		e.log.Error("transfer failed", fields...)
	}
}
