package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres implementation of domain.Store. Calls made directly on
// Store run in their own implicit transaction; WithinTx groups them.
type Store struct {
	repo
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{repo: repo{q: db}, db: db} }

// WithinTx runs fn in a READ COMMITTED transaction. The version predicate in
// SaveAccountConditional is what detects concurrent writers.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, r domain.Repository) error) error {
	return s.withinTx(ctx, func(r *repo) error { return fn(ctx, r) })
}

func (s *Store) withinTx(ctx context.Context, fn func(r *repo) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&repo{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateAccount opens an account and records ACCOUNT_OPENED. Version defaults to 1.
func (s *Store) CreateAccount(ctx context.Context, acc domain.Account) error {
	if acc.Version == 0 {
		acc.Version = 1
	}
	acc.CurrencyCode = strings.ToUpper(strings.TrimSpace(acc.CurrencyCode))
	if err := acc.Validate(); err != nil {
		return err
	}

	return s.withinTx(ctx, func(r *repo) error {
		_, err := r.q.Exec(ctx,
			`INSERT INTO accounts(account_id, version, owner_id, currency, balance)
			 VALUES($1,$2,$3,$4,$5::numeric)`,
			acc.ID, acc.Version, acc.OwnerID, acc.CurrencyCode, acc.Balance.StringFixed(domain.MoneyScale),
		)
		if err != nil {
			return err
		}
		payload := accountOpenedPayload{
			AccountID: acc.ID,
			OwnerID:   acc.OwnerID.String(),
			Currency:  acc.CurrencyCode,
			Balance:   acc.Balance.StringFixed(domain.MoneyScale),
		}
		return insertEvent(ctx, r.q, "ACCOUNT_OPENED", "ACCOUNT", acc.ID, acc.ID, payload)
	})
}

type repo struct {
	q querier
}

const accountColumns = `account_id, version, owner_id, currency, balance::text`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc     domain.Account
		balance string
	)
	if err := row.Scan(&acc.ID, &acc.Version, &acc.OwnerID, &acc.CurrencyCode, &balance); err != nil {
		return domain.Account{}, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.Account{}, fmt.Errorf("parse balance of account %s: %w", acc.ID, err)
	}
	acc.Balance = b
	return acc, nil
}

func (r *repo) FindAccountByID(ctx context.Context, id string) (domain.Account, error) {
	return r.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id=$1`, id)
}

// FindAccountForUpdate takes the row lock up front. Concurrent credits to the
// same account queue here and each one reads the version its writer committed.
func (r *repo) FindAccountForUpdate(ctx context.Context, id string) (domain.Account, error) {
	return r.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id=$1 FOR UPDATE`, id)
}

func (r *repo) findAccount(ctx context.Context, query, id string) (domain.Account, error) {
	acc, err := scanAccount(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("%w: account %s does not exist", domain.ErrNotFound, id)
		}
		return domain.Account{}, err
	}
	return acc, nil
}

func (r *repo) FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id=$1 ORDER BY account_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// SaveAccountConditional is a compare-and-swap on the version column. Only the
// balance is written; owner and currency are guarded by a trigger as well.
func (r *repo) SaveAccountConditional(ctx context.Context, acc domain.Account, expectedVersion int64) (domain.Account, error) {
	if err := acc.Validate(); err != nil {
		return domain.Account{}, err
	}

	saved, err := scanAccount(r.q.QueryRow(ctx,
		`UPDATE accounts
		    SET balance = $1::numeric, version = version + 1, updated_at = now()
		  WHERE account_id = $2 AND version = $3
		  RETURNING `+accountColumns,
		acc.Balance.StringFixed(domain.MoneyScale), acc.ID, expectedVersion,
	))
	if err == nil {
		return saved, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCheckViolation:
			return domain.Account{}, &domain.InsufficientBalanceError{AccountID: acc.ID}
		case pgDeadlockDetected, pgSerializationFailure:
			// The transaction is already aborted, so this cannot be retried in place.
			return domain.Account{}, fmt.Errorf("%w: account %s: %s", domain.ErrConflict, acc.ID, pgErr.Message)
		}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, err
	}

	// No row matched: either the account is gone or another writer got there first.
	var exists bool
	if err := r.q.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_id=$1)`, acc.ID,
	).Scan(&exists); err != nil {
		return domain.Account{}, err
	}
	if !exists {
		return domain.Account{}, fmt.Errorf("%w: account %s does not exist", domain.ErrNotFound, acc.ID)
	}
	return domain.Account{}, fmt.Errorf("%w: account %s, expected version %d", domain.ErrVersionConflict, acc.ID, expectedVersion)
}

func (r *repo) AppendTransactionLog(ctx context.Context, e domain.TransactionLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAtUTC.IsZero() {
		e.CreatedAtUTC = time.Now().UTC()
	}
	var counterpart *string
	if e.CounterpartAccountID != "" {
		counterpart = &e.CounterpartAccountID
	}
	_, err := r.q.Exec(ctx,
		`INSERT INTO transaction_log(
			entry_id, operating_account_id, operation, operating_user_id, reference_code,
			counterpart_account_id, currency, amount, created_at_utc
		) VALUES($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9)`,
		e.ID, e.OperatingAccountID, string(e.Operation), e.OperatingUserID, e.ReferenceCode,
		counterpart, e.CurrencyCode, e.Amount.StringFixed(domain.MoneyScale), e.CreatedAtUTC,
	)
	return err
}

func (r *repo) FindTransactionLogByOperatingUser(ctx context.Context, userID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	rows, err := r.q.Query(ctx,
		`SELECT entry_id, operating_account_id, operation, operating_user_id, reference_code,
		        COALESCE(counterpart_account_id, ''), currency, amount::text, created_at_utc
		   FROM transaction_log
		  WHERE operating_user_id=$1
		  ORDER BY created_at_utc DESC, seq DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.TransactionLogEntry{}
	for rows.Next() {
		var (
			e      domain.TransactionLogEntry
			op     string
			amount string
		)
		if err := rows.Scan(&e.ID, &e.OperatingAccountID, &op, &e.OperatingUserID, &e.ReferenceCode,
			&e.CounterpartAccountID, &e.CurrencyCode, &amount, &e.CreatedAtUTC); err != nil {
			return nil, err
		}
		e.Operation = domain.Operation(op)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount of log entry %s: %w", e.ID, err)
		}
		e.CreatedAtUTC = e.CreatedAtUTC.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

type transferPostedPayload struct {
	ReferenceCode string `json:"reference_code"`
	From          string `json:"from"`
	To            string `json:"to"`
	OperatorUser  string `json:"operator_user"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	PostedAt      string `json:"posted_at"`
}

type accountOpenedPayload struct {
	AccountID string `json:"account_id"`
	OwnerID   string `json:"owner_id"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
}

func (r *repo) RecordTransferEvent(ctx context.Context, ev domain.TransferPosted) error {
	payload := transferPostedPayload{
		ReferenceCode: ev.ReferenceCode,
		From:          ev.OperatingAccountID,
		To:            ev.RecipientAccountID,
		OperatorUser:  ev.OperatingUserID.String(),
		Amount:        ev.Amount.StringFixed(domain.MoneyScale),
		Currency:      ev.CurrencyCode,
		PostedAt:      ev.PostedAt.UTC().Format(time.RFC3339Nano),
	}
	return insertEvent(ctx, r.q, "TRANSFER_POSTED", "TRANSFER", ev.ReferenceCode, ev.ReferenceCode, payload)
}

// =========================
// RFC 8785 (JCS) for event payloads
// =========================

type JSONBytes = json.RawMessage

// jcsPayload returns the plain JSON bytes (stored as jsonb) and the RFC 8785
// canonical form used for hashing.
func jcsPayload(v any) (payloadJSON JSONBytes, payloadCanonical string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	return JSONBytes(raw), string(canon), nil
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// insertEvent is the single entry point for event_log inserts.
func insertEvent(
	ctx context.Context,
	q querier,
	eventType, aggregateType, aggregateID, correlationID string,
	payload any,
) error {
	if strings.TrimSpace(eventType) == "" ||
		strings.TrimSpace(aggregateType) == "" ||
		strings.TrimSpace(aggregateID) == "" ||
		strings.TrimSpace(correlationID) == "" {
		return fmt.Errorf("%w: event type, aggregate and correlation id are required", domain.ErrInvalidArgument)
	}

	payloadJSON, payloadCanonical, err := jcsPayload(payload)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		`INSERT INTO event_log(
			event_id, event_type, aggregate_type, aggregate_id, correlation_id,
			payload_json, payload_canonical, payload_sha256
		) VALUES($1,$2,$3,$4,$5,$6::jsonb,$7,$8)`,
		uuid.New(), eventType, aggregateType, aggregateID, correlationID,
		payloadJSON, payloadCanonical, sha256Hex(payloadCanonical),
	)
	return err
}
