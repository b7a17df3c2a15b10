package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits carried by balances and amounts.
const MoneyScale = 2

type Operation string

const (
	OperationDeduct Operation = "DEDUCT"
	OperationAdd    Operation = "ADD"
)

// Account is a money account row. ID, OwnerID and CurrencyCode never change after
// creation; Version is bumped by exactly one on every committed write.
type Account struct {
	ID           string
	Version      int64
	OwnerID      uuid.UUID
	CurrencyCode string
	Balance      decimal.Decimal
}

// WithBalance returns a copy of the account carrying the new balance.
func (a Account) WithBalance(b decimal.Decimal) Account {
	a.Balance = b
	return a
}

// Validate checks the row invariants enforced on every write.
func (a Account) Validate() error {
	if a.ID == "" || a.OwnerID == uuid.Nil || a.CurrencyCode == "" {
		return fmt.Errorf("%w: account id, owner and currency are required", ErrInvalidArgument)
	}
	if !IsCurrencyCode(a.CurrencyCode) {
		return fmt.Errorf("%w: currency %q is not a 3 letter code", ErrInvalidArgument, a.CurrencyCode)
	}
	if a.Balance.IsNegative() {
		return &InsufficientBalanceError{AccountID: a.ID}
	}
	if !HasMoneyScale(a.Balance) {
		return fmt.Errorf("%w: balance %s exceeds %d fractional digits", ErrInvalidArgument, a.Balance, MoneyScale)
	}
	return nil
}

// IsCurrencyCode reports whether s is three upper-case ASCII letters, as stored
// in the CHAR(3) currency columns.
func IsCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// HasMoneyScale reports whether d carries no more than MoneyScale fractional digits.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyScale))
}

// TransactionLogEntry is one immutable side of a transfer.
type TransactionLogEntry struct {
	ID                   uuid.UUID
	OperatingAccountID   string
	Operation            Operation
	OperatingUserID      uuid.UUID
	ReferenceCode        string
	CounterpartAccountID string
	CurrencyCode         string
	Amount               decimal.Decimal
	CreatedAtUTC         time.Time
}

// TransferPosted describes a committed transfer. It is appended to the event log
// inside the unit of work and published once the unit of work commits.
type TransferPosted struct {
	ReferenceCode      string
	OperatingAccountID string
	RecipientAccountID string
	OperatingUserID    uuid.UUID
	CurrencyCode       string
	Amount             decimal.Decimal
	PostedAt           time.Time
}

// =========================
// HTTP shapes
// =========================

type AccountResponse struct {
	ID             string    `json:"id"`
	Version        int64     `json:"version"`
	PrimaryOwnerID uuid.UUID `json:"primaryOwnerId"`
	CurrencyCode   string    `json:"currencyCode"`
	BalanceAmount  string    `json:"balanceAmount"`
}

func NewAccountResponse(a Account) AccountResponse {
	return AccountResponse{
		ID:             a.ID,
		Version:        a.Version,
		PrimaryOwnerID: a.OwnerID,
		CurrencyCode:   a.CurrencyCode,
		BalanceAmount:  a.Balance.StringFixed(MoneyScale),
	}
}

type TransferRequest struct {
	OperatingAccountVersion *int64           `json:"operatingAccountVersion"`
	RecipientAccountID      string           `json:"recipientAccountId"`
	CurrencyCode            string           `json:"currencyCode"`
	Amount                  *decimal.Decimal `json:"amount"`
}

type TransactionLogResponse struct {
	ID                   uuid.UUID `json:"id"`
	OperatingAccountID   string    `json:"operatingAccountId"`
	Operation            Operation `json:"operation"`
	OperatingUserID      uuid.UUID `json:"operatingUserId"`
	ReferenceCode        string    `json:"referenceCode"`
	CounterpartAccountID string    `json:"counterpartAccountId"`
	CurrencyCode         string    `json:"currencyCode"`
	MoneyAmount          string    `json:"moneyAmount"`
	CreateDateTimeUTC    time.Time `json:"createDateTimeUtc"`
}

func NewTransactionLogResponse(e TransactionLogEntry) TransactionLogResponse {
	return TransactionLogResponse{
		ID:                   e.ID,
		OperatingAccountID:   e.OperatingAccountID,
		Operation:            e.Operation,
		OperatingUserID:      e.OperatingUserID,
		ReferenceCode:        e.ReferenceCode,
		CounterpartAccountID: e.CounterpartAccountID,
		CurrencyCode:         e.CurrencyCode,
		MoneyAmount:          e.Amount.StringFixed(MoneyScale),
		CreateDateTimeUTC:    e.CreatedAtUTC,
	}
}
