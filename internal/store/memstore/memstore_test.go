package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T, accounts ...domain.Account) *Store {
	t.Helper()
	s := New()
	for _, a := range accounts {
		require.NoError(t, s.CreateAccount(context.Background(), a))
	}
	return s
}

func account(id string, owner uuid.UUID, balance string) domain.Account {
	return domain.Account{ID: id, OwnerID: owner, CurrencyCode: "HKD", Balance: decimal.RequireFromString(balance)}
}

func TestCreateAccount(t *testing.T) {
	owner := uuid.New()
	s := seeded(t, account("A1", owner, "10.00"))

	got, err := s.FindAccountByID(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	err = s.CreateAccount(context.Background(), account("A1", owner, "1.00"))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	err = s.CreateAccount(context.Background(), account("A2", owner, "-1.00"))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	for _, code := range []string{"HK", "HKDX", "H1D"} {
		bad := account("A3", owner, "1.00")
		bad.CurrencyCode = code
		assert.ErrorIs(t, s.CreateAccount(context.Background(), bad), domain.ErrInvalidArgument, code)
	}

	_, err = s.FindAccountByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindAccountForUpdate_SeesStagedWrites(t *testing.T) {
	s := seeded(t, account("A1", uuid.New(), "10.00"))
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, r domain.Repository) error {
		a1, err := r.FindAccountForUpdate(ctx, "A1")
		require.NoError(t, err)
		_, err = r.SaveAccountConditional(ctx, a1.WithBalance(decimal.RequireFromString("7.00")), a1.Version)
		require.NoError(t, err)

		again, err := r.FindAccountForUpdate(ctx, "A1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), again.Version)

		_, err = r.FindAccountForUpdate(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestFindAccountsByOwner(t *testing.T) {
	owner := uuid.New()
	s := seeded(t,
		account("C", owner, "1.00"),
		account("A", owner, "1.00"),
		account("B", uuid.New(), "1.00"),
	)

	got, err := s.FindAccountsByOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "C", got[1].ID)

	none, err := s.FindAccountsByOwner(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestSaveAccountConditional(t *testing.T) {
	owner := uuid.New()
	s := seeded(t, account("A1", owner, "10.00"))
	ctx := context.Background()
	acc, _ := s.FindAccountByID(ctx, "A1")

	saved, err := s.SaveAccountConditional(ctx, acc.WithBalance(decimal.RequireFromString("7.50")), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	_, err = s.SaveAccountConditional(ctx, acc.WithBalance(decimal.RequireFromString("1.00")), 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = s.SaveAccountConditional(ctx, acc.WithBalance(decimal.RequireFromString("-1.00")), 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	moved := acc.WithBalance(decimal.RequireFromString("1.00"))
	moved.CurrencyCode = "USD"
	_, err = s.SaveAccountConditional(ctx, moved, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	got, _ := s.FindAccountByID(ctx, "A1")
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "7.50", got.Balance.StringFixed(2))
}

func TestWithinTx_DiscardsOnError(t *testing.T) {
	owner := uuid.New()
	s := seeded(t, account("A1", owner, "10.00"), account("A2", owner, "0.00"))
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(ctx context.Context, r domain.Repository) error {
		a1, _ := r.FindAccountByID(ctx, "A1")
		if _, err := r.SaveAccountConditional(ctx, a1.WithBalance(decimal.RequireFromString("5.00")), 1); err != nil {
			return err
		}
		// Reads inside the unit of work see staged writes.
		staged, _ := r.FindAccountByID(ctx, "A1")
		assert.Equal(t, int64(2), staged.Version)

		if err := r.AppendTransactionLog(ctx, domain.TransactionLogEntry{
			OperatingAccountID: "A1",
			Operation:          domain.OperationDeduct,
			OperatingUserID:    owner,
			ReferenceCode:      "TRANSFER_X",
			CurrencyCode:       "HKD",
			Amount:             decimal.RequireFromString("5.00"),
			CreatedAtUTC:       time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	a1, _ := s.FindAccountByID(ctx, "A1")
	assert.Equal(t, int64(1), a1.Version)
	assert.Equal(t, "10.00", a1.Balance.StringFixed(2))
	logs, err := s.FindTransactionLogByOperatingUser(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestWithinTx_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(context.Context, domain.Repository) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTransactionLog_NewestFirst(t *testing.T) {
	user := uuid.New()
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i, ref := range []string{"R1", "R2", "R3"} {
		require.NoError(t, s.AppendTransactionLog(ctx, domain.TransactionLogEntry{
			OperatingAccountID: "A1",
			Operation:          domain.OperationDeduct,
			OperatingUserID:    user,
			ReferenceCode:      ref,
			CurrencyCode:       "HKD",
			Amount:             decimal.RequireFromString("1.00"),
			CreatedAtUTC:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.AppendTransactionLog(ctx, domain.TransactionLogEntry{
		OperatingAccountID: "B1",
		Operation:          domain.OperationAdd,
		OperatingUserID:    uuid.New(),
		ReferenceCode:      "OTHER",
		CurrencyCode:       "HKD",
		Amount:             decimal.RequireFromString("1.00"),
		CreatedAtUTC:       base.Add(time.Hour),
	}))

	logs, err := s.FindTransactionLogByOperatingUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, []string{"R3", "R2", "R1"}, []string{logs[0].ReferenceCode, logs[1].ReferenceCode, logs[2].ReferenceCode})
	for _, l := range logs {
		assert.NotEqual(t, uuid.Nil, l.ID)
	}

	err = s.AppendTransactionLog(ctx, domain.TransactionLogEntry{OperatingUserID: user, Amount: decimal.Zero})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
