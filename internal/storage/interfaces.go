package storage

import (
	"context"

	"token-ledger/internal/domain"
)

// StateStore persists the ledger state together with the events that
// produced it.
type StateStore interface {
	// Load returns the last committed state. Returns ErrNotFound if nothing
	// has been committed yet.
	Load(ctx context.Context) (*domain.LedgerState, error)

	// Commit stores state and appends events in one transaction. events must
	// carry the sequence numbers following the stored state, ending at
	// state.Seq. Returns ErrConflict if the stored state has moved on and
	// ErrDuplicateKey if an event already exists.
	Commit(ctx context.Context, state *domain.LedgerState, events []*domain.Event) error
}

// EventStore provides read access to the committed event journal.
type EventStore interface {
	// GetBySeqRange retrieves events with seq in [from, to] (inclusive), ordered by seq ASC.
	GetBySeqRange(ctx context.Context, from, to uint64) ([]*domain.Event, error)

	// GetByAccount retrieves the most recent limit events touching addr, ordered by seq ASC.
	GetByAccount(ctx context.Context, addr domain.Address, limit int) ([]*domain.Event, error)

	// LastSeq returns the highest committed seq, or 0 for an empty journal.
	LastSeq(ctx context.Context) (uint64, error)
}

// LedgerStore is a StateStore that also serves the journal it writes.
type LedgerStore interface {
	StateStore
	EventStore
}

// EventArchive is the analytics copy of the journal.
type EventArchive interface {
	// InsertBulk archives events. Re-inserting an archived seq replaces it.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetTaxTotals aggregates taxed transfers per UTC day for timestamps in
	// [start, end), ordered by day ASC.
	GetTaxTotals(ctx context.Context, start, end int64) ([]*domain.TaxTotal, error)
}
