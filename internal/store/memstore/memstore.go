// Package memstore keeps accounts and the transaction log in process memory.
// A unit of work stages its writes and publishes them only when fn succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"account-ledger/internal/domain"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	logs     []domain.TransactionLogEntry
	events   []domain.TransferPosted
}

func New() *Store {
	return &Store{accounts: make(map[string]domain.Account)}
}

// CreateAccount opens an account. Version defaults to 1.
func (s *Store) CreateAccount(ctx context.Context, acc domain.Account) error {
	if acc.Version == 0 {
		acc.Version = 1
	}
	acc.CurrencyCode = strings.ToUpper(strings.TrimSpace(acc.CurrencyCode))
	if err := acc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; ok {
		return fmt.Errorf("%w: account %s already exists", domain.ErrInvalidArgument, acc.ID)
	}
	s.accounts[acc.ID] = acc
	return nil
}

// Events returns the transfer events committed so far.
func (s *Store) Events() []domain.TransferPosted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TransferPosted(nil), s.events...)
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().FindAccountByID(ctx, id)
}

// FindAccountForUpdate needs no extra locking: units of work already run one at a time.
func (s *Store) FindAccountForUpdate(ctx context.Context, id string) (domain.Account, error) {
	return s.FindAccountByID(ctx, id)
}

func (s *Store) FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().FindAccountsByOwner(ctx, ownerID)
}

func (s *Store) FindTransactionLogByOperatingUser(ctx context.Context, userID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base().FindTransactionLogByOperatingUser(ctx, userID)
}

// Single writes outside WithinTx commit immediately.

func (s *Store) SaveAccountConditional(ctx context.Context, acc domain.Account, expectedVersion int64) (domain.Account, error) {
	var saved domain.Account
	err := s.WithinTx(ctx, func(ctx context.Context, repo domain.Repository) error {
		var err error
		saved, err = repo.SaveAccountConditional(ctx, acc, expectedVersion)
		return err
	})
	return saved, err
}

func (s *Store) AppendTransactionLog(ctx context.Context, entry domain.TransactionLogEntry) error {
	return s.WithinTx(ctx, func(ctx context.Context, repo domain.Repository) error {
		return repo.AppendTransactionLog(ctx, entry)
	})
}

func (s *Store) RecordTransferEvent(ctx context.Context, ev domain.TransferPosted) error {
	return s.WithinTx(ctx, func(ctx context.Context, repo domain.Repository) error {
		return repo.RecordTransferEvent(ctx, ev)
	})
}

// WithinTx serializes units of work. Staged writes become visible only when fn
// returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repo domain.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := s.base()
	tx.staged = make(map[string]domain.Account)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, acc := range tx.staged {
		s.accounts[id] = acc
	}
	s.logs = append(s.logs, tx.newLogs...)
	s.events = append(s.events, tx.newEvents...)
	return nil
}

// base returns a view over committed state. Callers must hold s.mu.
func (s *Store) base() *txRepo {
	return &txRepo{s: s}
}

type txRepo struct {
	s         *Store
	staged    map[string]domain.Account
	newLogs   []domain.TransactionLogEntry
	newEvents []domain.TransferPosted
}

func (r *txRepo) lookup(id string) (domain.Account, bool) {
	if acc, ok := r.staged[id]; ok {
		return acc, true
	}
	acc, ok := r.s.accounts[id]
	return acc, ok
}

func (r *txRepo) FindAccountByID(ctx context.Context, id string) (domain.Account, error) {
	acc, ok := r.lookup(id)
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %s does not exist", domain.ErrNotFound, id)
	}
	return acc, nil
}

func (r *txRepo) FindAccountForUpdate(ctx context.Context, id string) (domain.Account, error) {
	return r.FindAccountByID(ctx, id)
}

func (r *txRepo) FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Account, error) {
	out := []domain.Account{}
	for id := range r.s.accounts {
		acc, _ := r.lookup(id)
		if acc.OwnerID == ownerID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *txRepo) SaveAccountConditional(ctx context.Context, acc domain.Account, expectedVersion int64) (domain.Account, error) {
	if r.staged == nil {
		return domain.Account{}, fmt.Errorf("memstore: write outside unit of work")
	}
	cur, ok := r.lookup(acc.ID)
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: account %s does not exist", domain.ErrNotFound, acc.ID)
	}
	if cur.Version != expectedVersion {
		return domain.Account{}, fmt.Errorf("%w: account %s is at version %d, expected %d",
			domain.ErrVersionConflict, acc.ID, cur.Version, expectedVersion)
	}
	if acc.OwnerID != cur.OwnerID || acc.CurrencyCode != cur.CurrencyCode {
		return domain.Account{}, fmt.Errorf("%w: owner and currency of account %s are immutable", domain.ErrInvalidArgument, acc.ID)
	}
	if err := acc.Validate(); err != nil {
		return domain.Account{}, err
	}
	acc.Version = cur.Version + 1
	r.staged[acc.ID] = acc
	return acc, nil
}

func (r *txRepo) AppendTransactionLog(ctx context.Context, entry domain.TransactionLogEntry) error {
	if r.staged == nil {
		return fmt.Errorf("memstore: write outside unit of work")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if !entry.Amount.IsPositive() {
		return fmt.Errorf("%w: log amount must be positive", domain.ErrInvalidArgument)
	}
	r.newLogs = append(r.newLogs, entry)
	return nil
}

func (r *txRepo) RecordTransferEvent(ctx context.Context, ev domain.TransferPosted) error {
	if r.staged == nil {
		return fmt.Errorf("memstore: write outside unit of work")
	}
	r.newEvents = append(r.newEvents, ev)
	return nil
}

func (r *txRepo) FindTransactionLogByOperatingUser(ctx context.Context, userID uuid.UUID) ([]domain.TransactionLogEntry, error) {
	all := append(append([]domain.TransactionLogEntry(nil), r.s.logs...), r.newLogs...)
	out := []domain.TransactionLogEntry{}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].OperatingUserID == userID {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAtUTC.After(out[j].CreatedAtUTC) })
	return out, nil
}
