package domain

import (
	"context"

	"github.com/google/uuid"
)

// AccountStore holds account rows keyed by id.
type AccountStore interface {
	// FindAccountByID returns ErrNotFound when no row exists.
	FindAccountByID(ctx context.Context, id string) (Account, error)
	// FindAccountForUpdate is FindAccountByID plus a row lock held until the
	// unit of work ends, so a following SaveAccountConditional cannot lose a race.
	FindAccountForUpdate(ctx context.Context, id string) (Account, error)
	// FindAccountsByOwner returns the owner's accounts ordered by id ascending.
	FindAccountsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Account, error)
	// SaveAccountConditional writes the balance only if the stored version equals
	// expectedVersion, bumping the version atomically. Returns ErrVersionConflict
	// on mismatch.
	SaveAccountConditional(ctx context.Context, acc Account, expectedVersion int64) (Account, error)
}

// TransactionLogStore is the append-only transfer log.
type TransactionLogStore interface {
	AppendTransactionLog(ctx context.Context, entry TransactionLogEntry) error
	// FindTransactionLogByOperatingUser returns entries newest first.
	FindTransactionLogByOperatingUser(ctx context.Context, userID uuid.UUID) ([]TransactionLogEntry, error)
}

type Repository interface {
	AccountStore
	TransactionLogStore
	RecordTransferEvent(ctx context.Context, ev TransferPosted) error
}

// UnitOfWork runs fn inside one all-or-nothing boundary. Any error returned by fn
// discards every write made through the repository it was handed.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

type Store interface {
	Repository
	UnitOfWork
}
