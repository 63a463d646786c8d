// Package verification replays the committed event journal and checks that it
// reproduces the stored ledger state.
package verification

import (
	"context"
	"errors"
	"fmt"

	"token-ledger/internal/domain"
	"token-ledger/internal/idhash"
	"token-ledger/internal/storage"
)

// ErrNothingCommitted is returned when the store holds no state yet.
var ErrNothingCommitted = errors.New("no committed state to verify")

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	Field    string      // field name
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s: stored %v, replayed %v", d.Field, d.Expected, d.Actual)
}

// Report is the result of one verification run.
type Report struct {
	Events      int               // events replayed
	LastSeq     uint64            // last replayed seq
	Match       bool              // true if no divergence was found
	Divergences []FieldDivergence // list of divergent fields
}

// Verifier checks a ledger store against its own journal.
type Verifier struct {
	store storage.LedgerStore
	batch int
}

// Options configures a Verifier.
type Options struct {
	Store storage.LedgerStore
	Batch int // events per journal read, defaults to 1000
}

// New creates a Verifier.
func New(opts Options) *Verifier {
	batch := opts.Batch
	if batch <= 0 {
		batch = 1000
	}
	return &Verifier{store: opts.Store, batch: batch}
}

// Verify replays every committed event from seq 1 and compares the result
// with the stored state. Store failures are returned as errors; anything the
// journal and state disagree on is reported as a divergence.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	state, err := v.store.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNothingCommitted
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	report := &Report{}
	r := newReplay()

	for from := uint64(1); from <= state.Seq; from += uint64(v.batch) {
		to := from + uint64(v.batch) - 1
		if to > state.Seq {
			to = state.Seq
		}
		events, err := v.store.GetBySeqRange(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("read events %d-%d: %w", from, to, err)
		}
		for _, e := range events {
			if d, ok := checkEvent(e, report.LastSeq); !ok {
				report.Divergences = append(report.Divergences, d)
			}
			if err := r.apply(e); err != nil {
				report.Divergences = append(report.Divergences, FieldDivergence{
					Field:    fmt.Sprintf("Event[%d]", e.Seq),
					Expected: "valid transition",
					Actual:   err.Error(),
				})
				return finish(report), nil
			}
			if e.TotalSupply != nil && !e.TotalSupply.Eq(r.supply) {
				report.Divergences = append(report.Divergences, FieldDivergence{
					Field:    fmt.Sprintf("TotalSupply[%d]", e.Seq),
					Expected: e.TotalSupply.Dec(),
					Actual:   r.supply.Dec(),
				})
			}
			report.Events++
			report.LastSeq = e.Seq
		}
		if len(events) == 0 {
			break
		}
	}

	report.Divergences = append(report.Divergences, r.compare(state, report.LastSeq)...)
	return finish(report), nil
}

func finish(r *Report) *Report {
	r.Match = len(r.Divergences) == 0
	return r
}

// checkEvent verifies sequence continuity and the deterministic event id.
func checkEvent(e *domain.Event, prev uint64) (FieldDivergence, bool) {
	if e.Seq != prev+1 {
		return FieldDivergence{Field: "Seq", Expected: prev + 1, Actual: e.Seq}, false
	}
	id := idhash.ComputeEventID(e.Seq, e.Kind, e.Actor, e.From, e.To, e.Amount, e.Timestamp)
	if id != e.EventID {
		return FieldDivergence{Field: fmt.Sprintf("EventID[%d]", e.Seq), Expected: e.EventID, Actual: id}, false
	}
	return FieldDivergence{}, true
}
