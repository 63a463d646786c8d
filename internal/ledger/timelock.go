package ledger

import (
	"fmt"
	"time"

	"token-ledger/internal/domain"
)

// The tax slot is either idle (nil) or pending. The transitions below are pure;
// the entry points only store their results.

func proposeTaxSlot(policy domain.TaxPolicy, now int64, delay time.Duration) (*domain.PendingTax, error) {
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}
	return &domain.PendingTax{Policy: policy, EffectiveAt: now + delay.Milliseconds()}, nil
}

func applyTaxSlot(slot *domain.PendingTax, now int64) (domain.TaxPolicy, error) {
	if slot == nil {
		return domain.TaxPolicy{}, ErrNoPendingProposal
	}
	if now < slot.EffectiveAt {
		return domain.TaxPolicy{}, fmt.Errorf("%w: effective at %s",
			ErrTimelockNotExpired, time.UnixMilli(slot.EffectiveAt).UTC().Format(time.RFC3339))
	}
	return slot.Policy, nil
}

func cancelTaxSlot(slot *domain.PendingTax) error {
	if slot == nil {
		return ErrNoPendingProposal
	}
	return nil
}

// ProposeTax queues policy to become active after the tax delay, replacing any
// pending proposal.
func (l *Ledger) ProposeTax(caller domain.Address, policy domain.TaxPolicy) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		next, err := proposeTaxSlot(policy, l.now, l.params.TaxDelay)
		if err != nil {
			return err
		}
		l.state.PendingTax = next
		p := next.Policy
		l.emit(&domain.Event{Kind: domain.EventTaxProposed, Actor: caller, Policy: &p, EffectiveAt: next.EffectiveAt})
		return nil
	})
}

// ApplyTax activates the pending proposal once its delay has elapsed.
func (l *Ledger) ApplyTax(caller domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		policy, err := applyTaxSlot(l.state.PendingTax, l.now)
		if err != nil {
			return err
		}
		l.state.Policy = policy
		l.state.PendingTax = nil
		l.emit(&domain.Event{Kind: domain.EventTaxApplied, Actor: caller, Policy: &policy})
		return nil
	})
}

// CancelTax discards the pending proposal.
func (l *Ledger) CancelTax(caller domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		if err := cancelTaxSlot(l.state.PendingTax); err != nil {
			return err
		}
		p := l.state.PendingTax.Policy
		l.state.PendingTax = nil
		l.emit(&domain.Event{Kind: domain.EventTaxCancelled, Actor: caller, Policy: &p})
		return nil
	})
}
