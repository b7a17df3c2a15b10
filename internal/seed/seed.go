// Package seed opens accounts from a CSV file with the header
// account_id,owner_id,currency_code,balance.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountCreator is implemented by both the Postgres store and memstore.
type AccountCreator interface {
	FindAccountByID(ctx context.Context, id string) (domain.Account, error)
	CreateAccount(ctx context.Context, acc domain.Account) error
}

var columns = []string{"account_id", "owner_id", "currency_code", "balance"}

// ParseAccounts reads every row before anything is written, so a malformed
// file opens no accounts.
func ParseAccounts(r io.Reader) ([]domain.Account, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range columns {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("%w: missing column %s", domain.ErrInvalidArgument, need)
		}
	}

	var out []domain.Account
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		owner, err := uuid.Parse(strings.TrimSpace(rec[col["owner_id"]]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: owner_id: %v", domain.ErrInvalidArgument, line, err)
		}
		balance, err := decimal.NewFromString(strings.TrimSpace(rec[col["balance"]]))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: balance: %v", domain.ErrInvalidArgument, line, err)
		}
		acc := domain.Account{
			ID:           strings.TrimSpace(rec[col["account_id"]]),
			Version:      1,
			OwnerID:      owner,
			CurrencyCode: strings.ToUpper(strings.TrimSpace(rec[col["currency_code"]])),
			Balance:      balance,
		}
		if err := acc.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

// Load opens the accounts in r that do not exist yet and returns how many
// were created. Existing accounts are left untouched.
func Load(ctx context.Context, r io.Reader, st AccountCreator, log *zap.Logger) (int, error) {
	if log == nil {
		log = zap.NewNop()
	}
	accs, err := ParseAccounts(r)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, acc := range accs {
		_, err := st.FindAccountByID(ctx, acc.ID)
		switch {
		case err == nil:
			log.Debug("seed: account exists, skipping", zap.String("account_id", acc.ID))
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return created, fmt.Errorf("lookup %s: %w", acc.ID, err)
		}
		if err := st.CreateAccount(ctx, acc); err != nil {
			return created, fmt.Errorf("create %s: %w", acc.ID, err)
		}
		created++
	}
	log.Info("seed: accounts loaded", zap.Int("created", created), zap.Int("rows", len(accs)))
	return created, nil
}
