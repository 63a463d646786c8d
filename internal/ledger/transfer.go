package ledger

import (
	"fmt"

	"github.com/holiman/uint256"

	"token-ledger/internal/domain"
)

// Transfer moves amount from caller to to, deducting tax according to the
// counterparty class.
func (l *Ledger) Transfer(caller, to domain.Address, amount *domain.Amount) error {
	return l.run(func() error {
		if caller.IsZero() || to.IsZero() {
			return fmt.Errorf("transfer: %w", ErrZeroAddress)
		}
		return l.transferTaxed(caller, caller, to, amount)
	})
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// spender's allowance by the gross amount. An allowance of domain.MaxAmount is
// never decremented. Owners move their own funds with Transfer.
func (l *Ledger) TransferFrom(spender, from, to domain.Address, amount *domain.Amount) error {
	return l.run(func() error {
		if spender.IsZero() || from.IsZero() || to.IsZero() {
			return fmt.Errorf("transfer from: %w", ErrZeroAddress)
		}
		if spender == from {
			return fmt.Errorf("transfer from: %w", ErrSelfAllowance)
		}
		allowed := l.allowance(from, spender)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s may spend %s of %s, needs %s",
				ErrInsufficientAllowance, spender, allowed.Dec(), from, amount.Dec())
		}
		if !allowed.Eq(domain.MaxAmount) {
			l.setAllowance(from, spender, new(uint256.Int).Sub(allowed, amount))
		}
		return l.transferTaxed(spender, from, to, amount)
	})
}

// Approve sets the amount spender may move out of owner's account. The owner
// cannot approve itself.
func (l *Ledger) Approve(owner, spender domain.Address, amount *domain.Amount) error {
	return l.run(func() error {
		if owner.IsZero() || spender.IsZero() {
			return fmt.Errorf("approve: %w", ErrZeroAddress)
		}
		if owner == spender {
			return fmt.Errorf("approve: %w", ErrSelfAllowance)
		}
		l.setAllowance(owner, spender, domain.CloneAmount(amount))
		l.emit(&domain.Event{
			Kind:   domain.EventApproval,
			Actor:  owner,
			From:   owner,
			To:     spender,
			Amount: domain.CloneAmount(amount),
		})
		return nil
	})
}

// Burn destroys amount from caller's balance.
func (l *Ledger) Burn(caller domain.Address, amount *domain.Amount) error {
	return l.run(func() error {
		if caller.IsZero() {
			return fmt.Errorf("burn: %w", ErrZeroAddress)
		}
		if err := l.transferTaxed(caller, caller, domain.ZeroAddress, amount); err != nil {
			return err
		}
		l.emit(&domain.Event{
			Kind:   domain.EventBurn,
			Actor:  caller,
			From:   caller,
			Amount: domain.CloneAmount(amount),
		})
		return nil
	})
}

// transferTaxed is the single path through which balances change. It must run
// inside l.run.
func (l *Ledger) transferTaxed(actor, from, to domain.Address, amount *domain.Amount) error {
	bal := l.balanceOf(from)
	if !from.IsZero() && bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, bal.Dec(), amount.Dec())
	}

	event := &domain.Event{
		Kind:        domain.EventTransfer,
		Actor:       actor,
		From:        from,
		To:          to,
		Amount:      domain.CloneAmount(amount),
		Disposition: domain.TaxNone,
	}

	// The null identifier is reserved for mint/burn accounting and never taxed.
	if from.IsZero() || to.IsZero() {
		if err := l.update(from, to, amount); err != nil {
			return err
		}
		event.Classification = domain.ClassUntaxed
		event.Tax = domain.Zero()
		event.Net = domain.CloneAmount(amount)
		l.emit(event)
		return nil
	}

	class := Classify(l.IsPool(from), l.IsPool(to))
	tax, net := ComputeTax(amount, RateFor(l.state.Policy, class))
	event.Classification = class
	event.Tax = tax
	event.Net = net

	if !tax.IsZero() {
		feeRecipient := l.state.FeeRecipient
		if feeRecipient.IsBurn() {
			if err := l.update(from, domain.ZeroAddress, tax); err != nil {
				return err
			}
			event.Disposition = domain.TaxBurned
		} else {
			if err := l.update(from, feeRecipient, tax); err != nil {
				return err
			}
			event.Disposition = domain.TaxCollected
			event.FeeRecipient = feeRecipient
		}
	}

	if err := l.update(from, to, net); err != nil {
		return err
	}
	l.emit(event)

	if hook, ok := l.hooks[to]; ok {
		if err := hook.OnReceive(l, from, domain.CloneAmount(net)); err != nil {
			return fmt.Errorf("receive hook %s: %w", to, err)
		}
	}
	return nil
}
