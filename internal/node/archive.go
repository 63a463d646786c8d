package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

// archiveLocked copies freshly committed events to the archive. It only
// appends when the archive is caught up; otherwise SyncArchive fills the gap
// in order. Archive failures never fail the operation.
func (n *Node) archiveLocked(ctx context.Context, events []*domain.Event) {
	if n.archive == nil || len(events) == 0 {
		return
	}
	if n.archived+1 != events[0].Seq {
		n.updateArchiveLag()
		return
	}
	if err := n.appendArchive(ctx, events); err != nil {
		n.logger.Printf("archive seq %d-%d: %v", events[0].Seq, events[len(events)-1].Seq, err)
	}
	n.updateArchiveLag()
}

func (n *Node) appendArchive(ctx context.Context, events []*domain.Event) error {
	start := time.Now()
	err := n.archive.InsertBulk(ctx, events)
	if n.metrics != nil {
		n.metrics.RecordDBQuery("archive", "insert", time.Since(start).Seconds(), err)
	}
	if err != nil {
		return err
	}
	last := events[len(events)-1].Seq
	if err := n.progress.SetLastArchived(ctx, last); err != nil {
		return fmt.Errorf("save archive progress: %w", err)
	}
	n.archived = last
	return nil
}

func (n *Node) updateArchiveLag() {
	if n.metrics != nil {
		n.metrics.ArchiveLag.Set(float64(n.ledger.Seq() - n.archived))
	}
}

// SyncArchive copies every committed event the archive has not seen yet,
// in seq order. It is safe to call repeatedly.
func (n *Node) SyncArchive(ctx context.Context) error {
	if n.archive == nil {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	last, err := n.progress.GetLastArchived(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		last = 0
	case err != nil:
		return fmt.Errorf("load archive progress: %w", err)
	}
	n.archived = last

	head := n.ledger.Seq()
	for n.archived < head {
		if err := ctx.Err(); err != nil {
			return err
		}
		to := n.archived + uint64(n.archiveBatch)
		if to > head {
			to = head
		}
		events, err := n.store.GetBySeqRange(ctx, n.archived+1, to)
		if err != nil {
			return fmt.Errorf("read events %d-%d: %w", n.archived+1, to, err)
		}
		if len(events) == 0 {
			return fmt.Errorf("store has no events after seq %d", n.archived)
		}
		if err := n.appendArchive(ctx, events); err != nil {
			return fmt.Errorf("archive events %d-%d: %w", n.archived+1, to, err)
		}
	}
	n.updateArchiveLag()
	if head > 0 {
		n.logger.Printf("archive synced to seq %d", n.archived)
	}
	return nil
}

// RunArchiveSync calls SyncArchive every interval until ctx is done.
func (n *Node) RunArchiveSync(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := n.SyncArchive(ctx); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Printf("archive sync: %v", err)
			}
		}
	}
}
