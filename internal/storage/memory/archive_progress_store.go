package memory

import (
	"context"
	"sync"

	"token-ledger/internal/storage"
)

// ArchiveProgressStore is an in-memory implementation of storage.ArchiveProgressStore.
type ArchiveProgressStore struct {
	mu      sync.RWMutex
	lastSeq uint64
	set     bool
}

// NewArchiveProgressStore creates a new in-memory archive progress store.
func NewArchiveProgressStore() *ArchiveProgressStore {
	return &ArchiveProgressStore{}
}

// GetLastArchived returns the seq of the last archived event.
func (s *ArchiveProgressStore) GetLastArchived(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return 0, storage.ErrNotFound
	}
	return s.lastSeq, nil
}

// SetLastArchived saves the seq of the last archived event.
func (s *ArchiveProgressStore) SetLastArchived(_ context.Context, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq = seq
	s.set = true
	return nil
}

var _ storage.ArchiveProgressStore = (*ArchiveProgressStore)(nil)
