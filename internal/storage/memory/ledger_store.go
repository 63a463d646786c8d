package memory

import (
	"context"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.StateStore and
// storage.EventStore.
type LedgerStore struct {
	mu     sync.RWMutex
	state  *domain.LedgerState
	events []*domain.Event // index i holds seq i+1
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// Load returns the last committed state. Returns ErrNotFound if nothing has
// been committed yet.
func (s *LedgerStore) Load(_ context.Context) (*domain.LedgerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, storage.ErrNotFound
	}
	return s.state.Clone(), nil
}

// Commit replaces the state and appends events atomically.
func (s *LedgerStore) Commit(_ context.Context, state *domain.LedgerState, events []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev uint64
	if s.state != nil {
		prev = s.state.Seq
	}
	if err := storage.ValidateCommit(prev, state, events); err != nil {
		return err
	}

	for _, e := range events {
		s.events = append(s.events, e.Clone())
	}
	s.state = state.Clone()
	return nil
}

// GetBySeqRange retrieves events with seq in [from, to], ordered by seq ASC.
func (s *LedgerStore) GetBySeqRange(_ context.Context, from, to uint64) ([]*domain.Event, error) {
	if from == 0 {
		from = 1
	}
	if to < from {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	last := uint64(len(s.events))
	if to > last {
		to = last
	}
	var result []*domain.Event
	for seq := from; seq <= to; seq++ {
		result = append(result, s.events[seq-1].Clone())
	}
	return result, nil
}

// GetByAccount retrieves the most recent limit events touching addr, ordered by seq ASC.
func (s *LedgerStore) GetByAccount(_ context.Context, addr domain.Address, limit int) ([]*domain.Event, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if s.events[i].Touches(addr) {
			result = append(result, s.events[i].Clone())
		}
	}

	// Reverse to ascending
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// LastSeq returns the highest committed seq.
func (s *LedgerStore) LastSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.events)), nil
}

var _ storage.LedgerStore = (*LedgerStore)(nil)
