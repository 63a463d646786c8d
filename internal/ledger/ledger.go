// Package ledger implements the governed token ledger: balances and supply,
// counterparty classification, tax computation, the governance guard, the
// tax-rate timelock and the rate-limited supply controller.
//
// A Ledger is a sequential state machine and is not safe for concurrent use.
// Callers serialize access (see internal/node). Within one goroutine, every
// mutating entry point holds a reentrancy latch for its whole duration.
package ledger

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/holiman/uint256"

	"token-ledger/internal/domain"
	"token-ledger/internal/idhash"
)

// Clock returns the current time.
type Clock func() time.Time

// ReceiveHook is called after an account has been credited by a transfer,
// while the transfer is still in progress. Returning an error aborts and
// rolls back the whole transfer.
type ReceiveHook interface {
	OnReceive(l *Ledger, from domain.Address, amount *domain.Amount) error
}

// ReceiveHookFunc adapts a function to ReceiveHook.
type ReceiveHookFunc func(l *Ledger, from domain.Address, amount *domain.Amount) error

// OnReceive calls f.
func (f ReceiveHookFunc) OnReceive(l *Ledger, from domain.Address, amount *domain.Amount) error {
	return f(l, from, amount)
}

// Options configures a Ledger.
type Options struct {
	Params Params
	Clock  Clock       // defaults to time.Now
	Logger *log.Logger // defaults to discard
}

// Allocation is a genesis balance.
type Allocation struct {
	Holder domain.Address
	Amount *domain.Amount
}

// Genesis describes the initial state of a new ledger.
type Genesis struct {
	Governance   domain.Address
	Allocations  []Allocation // must sum to Params.InitialSupply
	Policy       domain.TaxPolicy
	FeeRecipient domain.Address
	Pools        []domain.Address
}

// Ledger is the single account-balance table and its governance control plane.
type Ledger struct {
	params Params
	clock  Clock
	logger *log.Logger

	state *domain.LedgerState
	hooks map[domain.Address]ReceiveHook

	// Per-operation state, valid only while entered is true.
	entered bool
	now     int64
	journal *journal
	pending []*domain.Event

	committed []*domain.Event
}

// New creates a ledger from genesis. Each allocation is minted through the
// untaxed transfer path and followed by a GENESIS event; sequence numbers
// start at 1.
func New(opts Options, g Genesis) (*Ledger, error) {
	l, err := newLedger(opts, domain.NewLedgerState())
	if err != nil {
		return nil, err
	}
	if g.Governance.IsZero() {
		return nil, ErrZeroGovernance
	}
	if err := ValidatePolicy(g.Policy); err != nil {
		return nil, fmt.Errorf("genesis policy: %w", err)
	}

	total := domain.Zero()
	for i, a := range g.Allocations {
		if a.Holder.IsZero() {
			return nil, fmt.Errorf("genesis allocation %d: %w", i, ErrZeroAddress)
		}
		if a.Amount == nil {
			return nil, fmt.Errorf("genesis allocation %d: missing amount", i)
		}
		if _, overflow := total.AddOverflow(total, a.Amount); overflow {
			return nil, fmt.Errorf("%w: genesis allocations overflow", ErrInvalidParams)
		}
	}
	if !total.Eq(l.params.InitialSupply) {
		return nil, fmt.Errorf("%w: genesis allocations sum to %s, initial supply is %s",
			ErrInvalidParams, total.Dec(), l.params.InitialSupply.Dec())
	}

	l.state.Governance = g.Governance
	l.state.Policy = g.Policy
	l.state.FeeRecipient = g.FeeRecipient
	for _, p := range g.Pools {
		if p.IsZero() {
			return nil, fmt.Errorf("genesis pool: %w", ErrZeroAddress)
		}
		l.state.Pools[p] = true
	}

	err = l.run(func() error {
		for _, a := range g.Allocations {
			if err := l.transferTaxed(g.Governance, domain.ZeroAddress, a.Holder, a.Amount); err != nil {
				return err
			}
			l.emit(&domain.Event{
				Kind:   domain.EventGenesis,
				Actor:  g.Governance,
				To:     a.Holder,
				Amount: domain.CloneAmount(a.Amount),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// FromState recreates a ledger from a persisted snapshot.
func FromState(opts Options, state *domain.LedgerState) (*Ledger, error) {
	if state == nil {
		return nil, fmt.Errorf("nil state")
	}
	if state.Governance.IsZero() {
		return nil, ErrZeroGovernance
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if state.TotalSupply == nil {
		return nil, fmt.Errorf("state has no total supply")
	}
	if !state.SumBalances().Eq(state.TotalSupply) {
		return nil, fmt.Errorf("state violates conservation: balances %s, supply %s",
			state.SumBalances().Dec(), state.TotalSupply.Dec())
	}
	if state.TotalSupply.Gt(opts.Params.MaxSupply) {
		return nil, fmt.Errorf("%w: restored supply %s above max supply %s",
			ErrExceedsMaxSupply, state.TotalSupply.Dec(), opts.Params.MaxSupply.Dec())
	}
	return newLedger(opts, state.Clone())
}

func newLedger(opts Options, state *domain.LedgerState) (*Ledger, error) {
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Ledger{
		params: opts.Params,
		clock:  clock,
		logger: logger,
		state:  state,
		hooks:  make(map[domain.Address]ReceiveHook),
	}, nil
}

// run executes op as one atomic operation under the reentrancy latch. If op
// fails, every change it made is reverted and its events are dropped.
func (l *Ledger) run(op func() error) (err error) {
	if l.entered {
		return ErrReentrantCall
	}
	l.entered = true
	l.now = l.clock().UnixMilli()
	l.journal = newJournal(l.state)
	l.pending = nil

	defer func() {
		if r := recover(); r != nil {
			l.journal.revert(l.state)
			l.reset()
			panic(r)
		}
		if err != nil {
			l.journal.revert(l.state)
		} else {
			l.commit()
		}
		l.reset()
	}()

	return op()
}

func (l *Ledger) reset() {
	l.journal = nil
	l.pending = nil
	l.entered = false
}

// commit assigns sequence numbers and ids to the pending events.
func (l *Ledger) commit() {
	for _, e := range l.pending {
		l.state.Seq++
		e.Seq = l.state.Seq
		e.Timestamp = l.now
		e.EventID = idhash.ComputeEventID(e.Seq, e.Kind, e.Actor, e.From, e.To, e.Amount, e.Timestamp)
		l.committed = append(l.committed, e)
		l.logger.Printf("committed %s seq=%d actor=%s", e.Kind, e.Seq, e.Actor)
	}
}

// emit queues e with the supply as it stands after the step that produced it.
func (l *Ledger) emit(e *domain.Event) {
	e.TotalSupply = domain.CloneAmount(l.state.TotalSupply)
	l.pending = append(l.pending, e)
}

// TakeEvents returns the events committed since the previous call and
// forgets them.
func (l *Ledger) TakeEvents() []*domain.Event {
	events := l.committed
	l.committed = nil
	return events
}

// update moves value between accounts without tax. A zero from mints and a
// zero to burns; both adjust total supply.
func (l *Ledger) update(from, to domain.Address, value *domain.Amount) error {
	if from.IsZero() {
		supply, overflow := new(uint256.Int).AddOverflow(l.state.TotalSupply, value)
		if overflow {
			return ErrExceedsMaxSupply
		}
		l.state.TotalSupply = supply
	} else {
		bal := l.balanceOf(from)
		if bal.Lt(value) {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from, bal.Dec(), value.Dec())
		}
		l.setBalance(from, new(uint256.Int).Sub(bal, value))
	}

	if to.IsZero() {
		l.state.TotalSupply = new(uint256.Int).Sub(l.state.TotalSupply, value)
	} else {
		l.setBalance(to, new(uint256.Int).Add(l.balanceOf(to), value))
	}
	return nil
}

func (l *Ledger) balanceOf(addr domain.Address) *domain.Amount {
	if bal, ok := l.state.Balances[addr]; ok {
		return bal
	}
	return domain.Zero()
}

func (l *Ledger) setBalance(addr domain.Address, v *domain.Amount) {
	l.journal.recordBalance(l.state, addr)
	if v.IsZero() {
		delete(l.state.Balances, addr)
		return
	}
	l.state.Balances[addr] = v
}

func (l *Ledger) allowance(owner, spender domain.Address) *domain.Amount {
	if m, ok := l.state.Allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return domain.Zero()
}

func (l *Ledger) setAllowance(owner, spender domain.Address, v *domain.Amount) {
	l.journal.recordAllowance(l.state, owner, spender)
	m, ok := l.state.Allowances[owner]
	if v.IsZero() {
		if ok {
			delete(m, spender)
			if len(m) == 0 {
				delete(l.state.Allowances, owner)
			}
		}
		return
	}
	if !ok {
		m = make(map[domain.Address]*domain.Amount)
		l.state.Allowances[owner] = m
	}
	m[spender] = v
}

func (l *Ledger) setPool(addr domain.Address, member bool) {
	l.journal.recordPool(l.state, addr)
	if member {
		l.state.Pools[addr] = true
	} else {
		delete(l.state.Pools, addr)
	}
}

// RegisterHook installs a receive hook for addr, replacing any previous one.
// Hooks live in memory only and are not part of the persisted state.
func (l *Ledger) RegisterHook(addr domain.Address, hook ReceiveHook) {
	l.hooks[addr] = hook
}

// UnregisterHook removes the receive hook for addr.
func (l *Ledger) UnregisterHook(addr domain.Address) {
	delete(l.hooks, addr)
}

// Restore replaces the live state with a copy of state. It fails while an
// operation is in progress.
func (l *Ledger) Restore(state *domain.LedgerState) error {
	if l.entered {
		return ErrReentrantCall
	}
	if state == nil {
		return fmt.Errorf("nil state")
	}
	l.state = state.Clone()
	l.committed = nil
	return nil
}

// Snapshot returns a deep copy of the current state.
func (l *Ledger) Snapshot() *domain.LedgerState {
	return l.state.Clone()
}

// Params returns the fixed economic parameters.
func (l *Ledger) Params() Params {
	return l.params
}

// BalanceOf returns the balance of addr.
func (l *Ledger) BalanceOf(addr domain.Address) *domain.Amount {
	return domain.CloneAmount(l.balanceOf(addr))
}

// Allowance returns how much spender may still move from owner.
func (l *Ledger) Allowance(owner, spender domain.Address) *domain.Amount {
	return domain.CloneAmount(l.allowance(owner, spender))
}

// TotalSupply returns the current total supply.
func (l *Ledger) TotalSupply() *domain.Amount {
	return domain.CloneAmount(l.state.TotalSupply)
}

// Policy returns the active tax policy.
func (l *Ledger) Policy() domain.TaxPolicy {
	return l.state.Policy
}

// PendingTax returns a copy of the pending tax proposal, or nil when idle.
func (l *Ledger) PendingTax() *domain.PendingTax {
	if l.state.PendingTax == nil {
		return nil
	}
	p := *l.state.PendingTax
	return &p
}

// PendingMint returns a copy of the pending mint proposal, or nil when idle.
func (l *Ledger) PendingMint() *domain.PendingMint {
	p := l.state.PendingMint
	if p == nil {
		return nil
	}
	return &domain.PendingMint{
		Recipient:   p.Recipient,
		Amount:      domain.CloneAmount(p.Amount),
		EffectiveAt: p.EffectiveAt,
		ReservedIn:  p.ReservedIn,
	}
}

// MintWindow returns a copy of the rolling-window counters as last stored.
func (l *Ledger) MintWindow() domain.MintWindow {
	return domain.MintWindow{Start: l.state.Window.Start, Minted: domain.CloneAmount(l.state.Window.Minted)}
}

// Governance returns the current governance identity.
func (l *Ledger) Governance() domain.Address {
	return l.state.Governance
}

// FeeRecipient returns the current fee recipient. A burn sentinel or the zero
// address means collected tax is destroyed.
func (l *Ledger) FeeRecipient() domain.Address {
	return l.state.FeeRecipient
}

// IsPool reports whether addr is a registered pool.
func (l *Ledger) IsPool(addr domain.Address) bool {
	return l.state.Pools[addr]
}

// Pools returns the registered pools in deterministic order.
func (l *Ledger) Pools() []domain.Address {
	return l.state.PoolList()
}

// Seq returns the sequence number of the last committed event.
func (l *Ledger) Seq() uint64 {
	return l.state.Seq
}
