package storage

import (
	"fmt"

	"token-ledger/internal/domain"
)

// ValidateCommit checks that events extend prevSeq contiguously up to
// state.Seq.
func ValidateCommit(prevSeq uint64, state *domain.LedgerState, events []*domain.Event) error {
	if state == nil {
		return ErrInvalidInput
	}
	if state.Seq != prevSeq+uint64(len(events)) {
		return fmt.Errorf("%w: stored seq %d + %d events != %d", ErrConflict, prevSeq, len(events), state.Seq)
	}
	for i, e := range events {
		if e == nil || e.EventID == "" {
			return ErrInvalidInput
		}
		if e.Seq != prevSeq+uint64(i)+1 {
			return fmt.Errorf("%w: event %d has seq %d, want %d", ErrInvalidInput, i, e.Seq, prevSeq+uint64(i)+1)
		}
	}
	return nil
}

// Touched lists the state keys a batch of events may have changed. Stores use
// it to write only the affected rows.
type Touched struct {
	Accounts   map[domain.Address]bool
	Allowances map[[2]domain.Address]bool // owner, spender
	Pools      map[domain.Address]bool
}

// TouchedBy collects the accounts, allowances and pools referenced by events.
func TouchedBy(events []*domain.Event) Touched {
	t := Touched{
		Accounts:   make(map[domain.Address]bool),
		Allowances: make(map[[2]domain.Address]bool),
		Pools:      make(map[domain.Address]bool),
	}
	mark := func(addrs ...domain.Address) {
		for _, a := range addrs {
			if !a.IsZero() {
				t.Accounts[a] = true
			}
		}
	}
	for _, e := range events {
		switch e.Kind {
		case domain.EventTransfer:
			mark(e.From, e.To, e.FeeRecipient)
			if e.Actor != e.From && !e.From.IsZero() {
				t.Allowances[[2]domain.Address{e.From, e.Actor}] = true
			}
		case domain.EventBurn, domain.EventGenesis, domain.EventMintExecuted:
			mark(e.From, e.To)
		case domain.EventApproval:
			t.Allowances[[2]domain.Address{e.From, e.To}] = true
		case domain.EventPoolAdded, domain.EventPoolRemoved:
			t.Pools[e.To] = true
		}
	}
	return t
}
