package memory

import (
	"context"
	"sort"
	"sync"

	"token-ledger/internal/domain"
	"token-ledger/internal/storage"
)

const dayMs = int64(24 * 60 * 60 * 1000)

// EventArchive is an in-memory implementation of storage.EventArchive.
type EventArchive struct {
	mu   sync.RWMutex
	data map[uint64]*domain.Event // keyed by seq
}

// NewEventArchive creates a new in-memory event archive.
func NewEventArchive() *EventArchive {
	return &EventArchive{
		data: make(map[uint64]*domain.Event),
	}
}

// InsertBulk archives events, replacing any with the same seq.
func (a *EventArchive) InsertBulk(_ context.Context, events []*domain.Event) error {
	for _, e := range events {
		if e == nil || e.Seq == 0 {
			return storage.ErrInvalidInput
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range events {
		a.data[e.Seq] = e.Clone()
	}
	return nil
}

// GetTaxTotals aggregates taxed transfers per UTC day in [start, end).
func (a *EventArchive) GetTaxTotals(_ context.Context, start, end int64) ([]*domain.TaxTotal, error) {
	if end < start {
		return nil, storage.ErrInvalidInput
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	byDay := make(map[int64]*domain.TaxTotal)
	for _, e := range a.data {
		if e.Kind != domain.EventTransfer || e.Classification == domain.ClassUntaxed {
			continue
		}
		if e.Timestamp < start || e.Timestamp >= end {
			continue
		}
		day := e.Timestamp - e.Timestamp%dayMs
		t, ok := byDay[day]
		if !ok {
			t = &domain.TaxTotal{Day: day, Collected: domain.Zero(), Burned: domain.Zero(), Volume: domain.Zero()}
			byDay[day] = t
		}
		t.Volume.Add(t.Volume, e.Amount)
		if e.Tax == nil || e.Tax.IsZero() {
			continue
		}
		t.Transfers++
		switch e.Disposition {
		case domain.TaxCollected:
			t.Collected.Add(t.Collected, e.Tax)
		case domain.TaxBurned:
			t.Burned.Add(t.Burned, e.Tax)
		}
	}

	result := make([]*domain.TaxTotal, 0, len(byDay))
	for _, t := range byDay {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Day < result[j].Day
	})
	return result, nil
}

var _ storage.EventArchive = (*EventArchive)(nil)
