// Package node runs a ledger as a service: it serializes operations, persists
// each successful one together with its events, copies events to the archive
// and fans them out to subscribers.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
	"token-ledger/internal/observability"
	"token-ledger/internal/storage"
)

// ErrPersistence wraps a store failure. The ledger operation it belonged to
// has been rolled back.
var ErrPersistence = errors.New("persistence failed")

// ErrNoArchive is returned by archive queries when no archive is configured.
var ErrNoArchive = errors.New("event archive not configured")

// Options configures a Node.
type Options struct {
	Ledger   *ledger.Ledger
	Store    storage.LedgerStore
	Archive  storage.EventArchive         // optional
	Progress storage.ArchiveProgressStore // required with Archive
	Metrics  *observability.Metrics       // optional
	Logger   *log.Logger                  // defaults to discard

	// ArchiveBatch bounds one archive catch-up read. Defaults to 500.
	ArchiveBatch int
}

// Node serializes access to one ledger.
type Node struct {
	mu       sync.Mutex
	ledger   *ledger.Ledger
	store    storage.LedgerStore
	archive  storage.EventArchive
	progress storage.ArchiveProgressStore
	metrics  *observability.Metrics
	logger   *log.Logger
	feed     *Feed

	archiveBatch int
	archived     uint64
	started      time.Time
}

// New creates a node around an already bootstrapped ledger.
func New(opts Options) (*Node, error) {
	if opts.Ledger == nil || opts.Store == nil {
		return nil, errors.New("node requires a ledger and a store")
	}
	if opts.Archive != nil && opts.Progress == nil {
		return nil, errors.New("archive requires a progress store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	batch := opts.ArchiveBatch
	if batch <= 0 {
		batch = 500
	}
	n := &Node{
		ledger:       opts.Ledger,
		store:        opts.Store,
		archive:      opts.Archive,
		progress:     opts.Progress,
		metrics:      opts.Metrics,
		logger:       logger,
		feed:         NewFeed(),
		archiveBatch: batch,
		started:      time.Now(),
	}
	if n.metrics != nil {
		n.metrics.TotalSupply.Set(observability.Tokens(opts.Ledger.TotalSupply()))
		n.metrics.LastSeq.Set(float64(opts.Ledger.Seq()))
		n.metrics.SetPending(opts.Ledger.PendingTax() != nil, opts.Ledger.PendingMint() != nil)
	}
	return n, nil
}

// Bootstrap loads the ledger from store, or creates it from genesis and
// commits the genesis events when the store is empty.
func Bootstrap(ctx context.Context, store storage.LedgerStore, opts ledger.Options, genesis ledger.Genesis) (*ledger.Ledger, error) {
	state, err := store.Load(ctx)
	if err == nil {
		l, err := ledger.FromState(opts, state)
		if err != nil {
			return nil, fmt.Errorf("restore ledger: %w", err)
		}
		return l, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load state: %w", err)
	}

	l, err := ledger.New(opts, genesis)
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if err := store.Commit(ctx, l.Snapshot(), l.TakeEvents()); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	return l, nil
}

// Execute runs op against the ledger under the node lock. On success the new
// state and its events are committed to the store before they are archived
// and published. If the commit fails the ledger is restored to its state
// before op and ErrPersistence is returned.
func (n *Node) Execute(ctx context.Context, name string, op func(l *ledger.Ledger) error) ([]*domain.Event, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	start := time.Now()
	events, err := n.executeLocked(ctx, op)
	if n.metrics != nil {
		n.metrics.RecordOperation(name, err, time.Since(start).Seconds())
	}
	if err != nil {
		n.logger.Printf("%s failed: %v", name, err)
		return nil, err
	}
	n.logger.Printf("%s committed %d events, seq=%d", name, len(events), n.ledger.Seq())
	return events, nil
}

func (n *Node) executeLocked(ctx context.Context, op func(l *ledger.Ledger) error) ([]*domain.Event, error) {
	before := n.ledger.Snapshot()
	if err := op(n.ledger); err != nil {
		// A multi-step op may have committed earlier steps in memory.
		if len(n.ledger.TakeEvents()) > 0 {
			if rerr := n.ledger.Restore(before); rerr != nil {
				n.logger.Printf("restore after failed op: %v", rerr)
			}
		}
		return nil, err
	}
	events := n.ledger.TakeEvents()
	if len(events) == 0 {
		return nil, nil
	}

	commitStart := time.Now()
	err := n.store.Commit(ctx, n.ledger.Snapshot(), events)
	if n.metrics != nil {
		n.metrics.RecordDBQuery("state", "commit", time.Since(commitStart).Seconds(), err)
	}
	if err != nil {
		if rerr := n.ledger.Restore(before); rerr != nil {
			n.logger.Printf("restore after failed commit: %v", rerr)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if n.metrics != nil {
		n.metrics.RecordEvents(events)
		n.metrics.SetPending(n.ledger.PendingTax() != nil, n.ledger.PendingMint() != nil)
	}
	n.archiveLocked(ctx, events)
	n.feed.Publish(events)
	return events, nil
}

// View runs fn with read access to the ledger under the node lock. fn must not
// call mutating ledger methods.
func (n *Node) View(fn func(l *ledger.Ledger)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n.ledger)
}

// Events returns committed events with seq in [from, to].
func (n *Node) Events(ctx context.Context, from, to uint64) ([]*domain.Event, error) {
	return n.store.GetBySeqRange(ctx, from, to)
}

// AccountEvents returns the most recent limit events touching addr.
func (n *Node) AccountEvents(ctx context.Context, addr domain.Address, limit int) ([]*domain.Event, error) {
	return n.store.GetByAccount(ctx, addr, limit)
}

// TaxTotals returns daily tax aggregates from the archive.
func (n *Node) TaxTotals(ctx context.Context, start, end int64) ([]*domain.TaxTotal, error) {
	if n.archive == nil {
		return nil, ErrNoArchive
	}
	return n.archive.GetTaxTotals(ctx, start, end)
}

// Subscribe registers a feed subscriber. See Feed.Subscribe.
func (n *Node) Subscribe(buffer int) *Subscription {
	sub := n.feed.Subscribe(buffer)
	if n.metrics != nil {
		n.metrics.WSSubscribers.Set(float64(n.feed.Len()))
	}
	return sub
}

// Unsubscribe removes a feed subscriber.
func (n *Node) Unsubscribe(sub *Subscription) {
	n.feed.Unsubscribe(sub)
	if n.metrics != nil {
		n.metrics.WSSubscribers.Set(float64(n.feed.Len()))
	}
}

// Status is a point-in-time summary of the node.
type Status struct {
	Seq         uint64    `json:"seq"`
	Archived    uint64    `json:"archived"`
	TotalSupply string    `json:"total_supply"`
	PendingTax  bool      `json:"pending_tax"`
	PendingMint bool      `json:"pending_mint"`
	Subscribers int       `json:"subscribers"`
	Started     time.Time `json:"started"`
	Uptime      string    `json:"uptime"`
}

// Status returns the current status.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		Seq:         n.ledger.Seq(),
		Archived:    n.archived,
		TotalSupply: domain.FormatTokens(n.ledger.TotalSupply()),
		PendingTax:  n.ledger.PendingTax() != nil,
		PendingMint: n.ledger.PendingMint() != nil,
		Subscribers: n.feed.Len(),
		Started:     n.started,
		Uptime:      time.Since(n.started).Truncate(time.Second).String(),
	}
}

// Close disconnects every feed subscriber.
func (n *Node) Close() {
	n.feed.Close()
}
