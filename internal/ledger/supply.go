package ledger

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"token-ledger/internal/domain"
)

// rollWindow returns the mint window in effect at now. A window that has run
// its full length is replaced by a fresh one starting at now.
func rollWindow(w domain.MintWindow, now int64, length time.Duration) domain.MintWindow {
	if now >= w.Start+length.Milliseconds() {
		return domain.MintWindow{Start: now, Minted: domain.Zero()}
	}
	return domain.MintWindow{Start: w.Start, Minted: domain.CloneAmount(w.Minted)}
}

// reserve adds amount to the window counter, failing if the period cap would
// be exceeded.
func reserve(w domain.MintWindow, amount, periodCap *domain.Amount) (domain.MintWindow, error) {
	minted, overflow := new(uint256.Int).AddOverflow(w.Minted, amount)
	if overflow || minted.Gt(periodCap) {
		return w, fmt.Errorf("%w: %s already minted in window, cap %s, requested %s",
			ErrExceedsPeriodCap, w.Minted.Dec(), periodCap.Dec(), amount.Dec())
	}
	return domain.MintWindow{Start: w.Start, Minted: minted}, nil
}

func (l *Ledger) checkMaxSupply(amount *domain.Amount) error {
	next, overflow := new(uint256.Int).AddOverflow(l.state.TotalSupply, amount)
	if overflow || next.Gt(l.params.MaxSupply) {
		return fmt.Errorf("%w: supply %s + %s > %s",
			ErrExceedsMaxSupply, l.state.TotalSupply.Dec(), amount.Dec(), l.params.MaxSupply.Dec())
	}
	return nil
}

// ProposeMint queues a mint of amount to recipient after the mint delay. The
// amount is counted against the current window immediately.
func (l *Ledger) ProposeMint(caller, recipient domain.Address, amount *domain.Amount) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		if recipient.IsZero() {
			return ErrZeroRecipient
		}
		if err := l.checkMaxSupply(amount); err != nil {
			return err
		}
		w, err := reserve(rollWindow(l.state.Window, l.now, l.params.MintWindow), amount, l.params.MintPeriodCap)
		if err != nil {
			return err
		}
		l.state.Window = w
		l.state.PendingMint = &domain.PendingMint{
			Recipient:   recipient,
			Amount:      domain.CloneAmount(amount),
			EffectiveAt: l.now + l.params.MintDelay.Milliseconds(),
			ReservedIn:  w.Start,
		}
		l.emit(&domain.Event{
			Kind:        domain.EventMintProposed,
			Actor:       caller,
			To:          recipient,
			Amount:      domain.CloneAmount(amount),
			EffectiveAt: l.state.PendingMint.EffectiveAt,
		})
		return nil
	})
}

// ExecuteMint performs the pending mint once its delay has elapsed. The supply
// cap and the window are checked again against the state at execution time.
func (l *Ledger) ExecuteMint(caller domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		p := l.state.PendingMint
		if p == nil {
			return ErrNoPendingMint
		}
		if l.now < p.EffectiveAt {
			return fmt.Errorf("%w: effective at %s",
				ErrTimelockNotExpired, time.UnixMilli(p.EffectiveAt).UTC().Format(time.RFC3339))
		}
		if err := l.checkMaxSupply(p.Amount); err != nil {
			return err
		}

		w := rollWindow(l.state.Window, l.now, l.params.MintWindow)
		if w.Start != p.ReservedIn {
			// The reservation belonged to a window that has since closed.
			var err error
			if w, err = reserve(w, p.Amount, l.params.MintPeriodCap); err != nil {
				return err
			}
		}
		l.state.Window = w
		l.state.PendingMint = nil

		if err := l.transferTaxed(caller, domain.ZeroAddress, p.Recipient, p.Amount); err != nil {
			return err
		}
		l.emit(&domain.Event{
			Kind:   domain.EventMintExecuted,
			Actor:  caller,
			To:     p.Recipient,
			Amount: domain.CloneAmount(p.Amount),
		})
		return nil
	})
}

// CancelMint discards the pending mint and releases its reservation if the
// window it was counted in is still current.
func (l *Ledger) CancelMint(caller domain.Address) error {
	return l.run(func() error {
		if err := l.guard().Authorize(caller); err != nil {
			return err
		}
		p := l.state.PendingMint
		if p == nil {
			return ErrNoPendingMint
		}
		if p.ReservedIn == l.state.Window.Start && !l.state.Window.Minted.Lt(p.Amount) {
			l.state.Window = domain.MintWindow{
				Start:  l.state.Window.Start,
				Minted: new(uint256.Int).Sub(l.state.Window.Minted, p.Amount),
			}
		}
		l.state.PendingMint = nil
		l.emit(&domain.Event{
			Kind:   domain.EventMintCancelled,
			Actor:  caller,
			To:     p.Recipient,
			Amount: domain.CloneAmount(p.Amount),
		})
		return nil
	})
}
