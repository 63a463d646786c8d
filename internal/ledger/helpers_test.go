package ledger

import (
	"errors"
	"testing"
	"time"

	"token-ledger/internal/domain"
)

// Helper to build distinct test addresses
func testAddr(b byte) domain.Address {
	var a domain.Address
	a[0] = b
	a[31] = 0xAA
	return a
}

var (
	gov      = testAddr(1)
	alice    = testAddr(2)
	bob      = testAddr(3)
	pool     = testAddr(4)
	pool2    = testAddr(5)
	treasury = testAddr(6)
	carol    = testAddr(7)
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// Genesis: alice 500M, bob 200M, pool 200M, pool2 100M. Default policy, fee
// recipient is treasury, pool and pool2 registered.
func newTestLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()
	return newTestLedgerWithParams(t, DefaultParams())
}

func newTestLedgerWithParams(t *testing.T, params Params) (*Ledger, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	initial := params.InitialSupply

	// Split initial supply 50/20/20/10.
	part := func(pct uint64) *domain.Amount {
		v := domain.CloneAmount(initial)
		v.Mul(v, domain.BaseUnits(pct))
		return v.Div(v, domain.BaseUnits(100))
	}
	l, err := New(Options{Params: params, Clock: clock.Now}, Genesis{
		Governance: gov,
		Allocations: []Allocation{
			{Holder: alice, Amount: part(50)},
			{Holder: bob, Amount: part(20)},
			{Holder: pool, Amount: part(20)},
			{Holder: pool2, Amount: part(10)},
		},
		Policy:       domain.DefaultTaxPolicy(),
		FeeRecipient: treasury,
		Pools:        []domain.Address{pool, pool2},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.TakeEvents()
	return l, clock
}

func assertConserved(t *testing.T, l *Ledger) {
	t.Helper()
	s := l.Snapshot()
	if !s.SumBalances().Eq(s.TotalSupply) {
		t.Fatalf("conservation violated: balances %s, supply %s", s.SumBalances().Dec(), s.TotalSupply.Dec())
	}
}

func assertBalance(t *testing.T, l *Ledger, addr domain.Address, want *domain.Amount) {
	t.Helper()
	if got := l.BalanceOf(addr); !got.Eq(want) {
		t.Fatalf("balance of %s: expected %s, got %s", addr, want.Dec(), got.Dec())
	}
}

func assertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func add(a, b *domain.Amount) *domain.Amount {
	return domain.CloneAmount(a).Add(a, b)
}

func sub(a, b *domain.Amount) *domain.Amount {
	return domain.CloneAmount(a).Sub(a, b)
}
