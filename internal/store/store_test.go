package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"account-ledger/internal/domain"
	"account-ledger/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("LEDGER_DB_DSN")
	if dsn == "" {
		t.Skip("missing LEDGER_DB_DSN env var")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 20
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, store.Migrate(ctx, pool))
	return pool
}

// openAccount uses a random id so runs against a reused DB never collide.
func openAccount(t *testing.T, st *store.Store, owner uuid.UUID, currency, balance string) domain.Account {
	t.Helper()
	acc := domain.Account{
		ID:           "ACC-" + uuid.NewString(),
		OwnerID:      owner,
		CurrencyCode: currency,
		Balance:      decimal.RequireFromString(balance),
	}
	require.NoError(t, st.CreateAccount(context.Background(), acc))
	got, err := st.FindAccountByID(context.Background(), acc.ID)
	require.NoError(t, err)
	return got
}

func TestFindAccount(t *testing.T) {
	st := store.New(testPool(t))
	ctx := context.Background()
	owner := uuid.New()

	acc := openAccount(t, st, owner, "hkd", "1000000.00")
	assert.Equal(t, int64(1), acc.Version)
	assert.Equal(t, "HKD", acc.CurrencyCode)
	assert.True(t, acc.Balance.Equal(decimal.RequireFromString("1000000")))

	_, err := st.FindAccountByID(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindAccountsByOwner_OrderedByID(t *testing.T) {
	st := store.New(testPool(t))
	owner := uuid.New()

	b := openAccount(t, st, owner, "HKD", "1.00")
	a := openAccount(t, st, owner, "HKD", "2.00")
	openAccount(t, st, uuid.New(), "HKD", "3.00")

	got, err := st.FindAccountsByOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, got, 2)
	want := []string{a.ID, b.ID}
	if want[0] > want[1] {
		want[0], want[1] = want[1], want[0]
	}
	assert.Equal(t, want, []string{got[0].ID, got[1].ID})

	none, err := st.FindAccountsByOwner(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveAccountConditional(t *testing.T) {
	st := store.New(testPool(t))
	ctx := context.Background()
	acc := openAccount(t, st, uuid.New(), "HKD", "100.00")

	saved, err := st.SaveAccountConditional(ctx, acc.WithBalance(decimal.RequireFromString("40.50")), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)
	assert.Equal(t, "40.50", saved.Balance.StringFixed(2))

	_, err = st.SaveAccountConditional(ctx, acc.WithBalance(decimal.RequireFromString("1.00")), 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = st.SaveAccountConditional(ctx, acc.WithBalance(decimal.RequireFromString("-0.01")), 2)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	missing := acc
	missing.ID = "missing-" + uuid.NewString()
	_, err = st.SaveAccountConditional(ctx, missing, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := st.FindAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "40.50", got.Balance.StringFixed(2))
}

func TestWithinTx_RollsBackEverything(t *testing.T) {
	st := store.New(testPool(t))
	ctx := context.Background()
	user := uuid.New()
	from := openAccount(t, st, user, "HKD", "100.00")
	to := openAccount(t, st, uuid.New(), "HKD", "0.00")

	err := st.WithinTx(ctx, func(ctx context.Context, r domain.Repository) error {
		if _, err := r.SaveAccountConditional(ctx, from.WithBalance(decimal.RequireFromString("90.00")), from.Version); err != nil {
			return err
		}
		if err := r.AppendTransactionLog(ctx, domain.TransactionLogEntry{
			OperatingAccountID:   from.ID,
			Operation:            domain.OperationDeduct,
			OperatingUserID:      user,
			ReferenceCode:        "TRANSFER_ROLLBACK",
			CounterpartAccountID: to.ID,
			CurrencyCode:         "HKD",
			Amount:               decimal.RequireFromString("10.00"),
		}); err != nil {
			return err
		}
		// Stale version on the second write aborts the whole unit of work.
		_, err := r.SaveAccountConditional(ctx, to.WithBalance(decimal.RequireFromString("10.00")), to.Version+5)
		return err
	})
	require.ErrorIs(t, err, domain.ErrVersionConflict)

	got, err := st.FindAccountByID(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, from.Version, got.Version)
	assert.Equal(t, "100.00", got.Balance.StringFixed(2))

	logs, err := st.FindTransactionLogByOperatingUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestTransactionLog_NewestFirst(t *testing.T) {
	st := store.New(testPool(t))
	ctx := context.Background()
	user := uuid.New()
	from := openAccount(t, st, user, "HKD", "100.00")
	to := openAccount(t, st, uuid.New(), "HKD", "0.00")

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	err := st.WithinTx(ctx, func(ctx context.Context, r domain.Repository) error {
		for i, op := range []domain.Operation{domain.OperationDeduct, domain.OperationAdd} {
			if err := r.AppendTransactionLog(ctx, domain.TransactionLogEntry{
				ID:                   uuid.New(),
				OperatingAccountID:   from.ID,
				Operation:            op,
				OperatingUserID:      user,
				ReferenceCode:        "TRANSFER_" + uuid.NewString(),
				CounterpartAccountID: to.ID,
				CurrencyCode:         "HKD",
				Amount:               decimal.RequireFromString("1.25"),
				CreatedAtUTC:         base.Add(time.Duration(i) * time.Second),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	logs, err := st.FindTransactionLogByOperatingUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.OperationAdd, logs[0].Operation)
	assert.Equal(t, domain.OperationDeduct, logs[1].Operation)
	assert.Equal(t, "1.25", logs[0].Amount.StringFixed(2))
	assert.True(t, logs[0].CreatedAtUTC.After(logs[1].CreatedAtUTC))
}

func TestFindAccountForUpdate(t *testing.T) {
	st := store.New(testPool(t))
	ctx := context.Background()
	acc := openAccount(t, st, uuid.New(), "HKD", "12.00")

	err := st.WithinTx(ctx, func(ctx context.Context, r domain.Repository) error {
		locked, err := r.FindAccountForUpdate(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, acc, locked)

		_, err = r.FindAccountForUpdate(ctx, "missing-"+uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
