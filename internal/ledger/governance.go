package ledger

import (
	"fmt"

	"token-ledger/internal/domain"
)

// Governance is the guard in front of every parameter-changing operation. It
// holds the single privileged identity.
type Governance struct {
	Identity domain.Address
}

// Authorize returns ErrUnauthorized unless caller is the governance identity.
func (g Governance) Authorize(caller domain.Address) error {
	if g.Identity.IsZero() || caller != g.Identity {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

func (l *Ledger) guard() Governance {
	return Governance{Identity: l.state.Governance}
}

// SetGovernance hands governance authority to next.
func (l *Ledger) SetGovernance(caller, next domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		if next.IsZero() {
			return ErrZeroGovernance
		}
		l.state.Governance = next
		l.emit(&domain.Event{Kind: domain.EventGovernanceSet, Actor: caller, From: caller, To: next})
		return nil
	})
}

// SetFeeRecipient changes where collected tax goes. It takes effect on the
// next transfer. domain.BurnAddress (or the zero address) selects burn mode.
func (l *Ledger) SetFeeRecipient(caller, recipient domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		l.state.FeeRecipient = recipient
		l.emit(&domain.Event{Kind: domain.EventFeeRecipientSet, Actor: caller, To: recipient, FeeRecipient: recipient})
		return nil
	})
}

// AddPool registers addr as a market-maker pool.
func (l *Ledger) AddPool(caller, addr domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		if addr.IsZero() {
			return fmt.Errorf("add pool: %w", ErrZeroAddress)
		}
		if l.state.Pools[addr] {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, addr)
		}
		l.setPool(addr, true)
		l.emit(&domain.Event{Kind: domain.EventPoolAdded, Actor: caller, To: addr})
		return nil
	})
}

// RemovePool unregisters addr.
func (l *Ledger) RemovePool(caller, addr domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		if !l.state.Pools[addr] {
			return fmt.Errorf("%w: %s", ErrNotRegistered, addr)
		}
		l.setPool(addr, false)
		l.emit(&domain.Event{Kind: domain.EventPoolRemoved, Actor: caller, To: addr})
		return nil
	})
}
