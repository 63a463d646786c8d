package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"token-ledger/internal/storage"
)

// ArchiveProgressStore is a PostgreSQL implementation of storage.ArchiveProgressStore.
// Uses a single-row archive_progress table.
type ArchiveProgressStore struct {
	pool *Pool
}

// NewArchiveProgressStore creates a new PostgreSQL archive progress store.
func NewArchiveProgressStore(pool *Pool) *ArchiveProgressStore {
	return &ArchiveProgressStore{pool: pool}
}

// GetLastArchived returns the seq of the last archived event.
func (s *ArchiveProgressStore) GetLastArchived(ctx context.Context) (uint64, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT last_seq
		FROM archive_progress
		WHERE id = 1
	`)

	var seq int64
	err := row.Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}

	return uint64(seq), nil
}

// SetLastArchived saves the seq of the last archived event.
// Uses upsert to handle initial insert and subsequent updates.
func (s *ArchiveProgressStore) SetLastArchived(ctx context.Context, seq uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_progress (id, last_seq, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET last_seq = EXCLUDED.last_seq,
		    updated_at = NOW()
	`, int64(seq))

	return err
}

var _ storage.ArchiveProgressStore = (*ArchiveProgressStore)(nil)
