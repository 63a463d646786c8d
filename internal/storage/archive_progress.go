package storage

import "context"

// ArchiveProgressStore remembers how far the event journal has been copied
// into the EventArchive. This enables resumption after restarts without
// losing or re-reading the whole journal.
type ArchiveProgressStore interface {
	// GetLastArchived returns the seq of the last archived event.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastArchived(ctx context.Context) (uint64, error)

	// SetLastArchived saves the seq of the last archived event.
	SetLastArchived(ctx context.Context, seq uint64) error
}
