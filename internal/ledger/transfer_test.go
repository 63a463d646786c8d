package ledger

import (
	"errors"
	"math/rand"
	"testing"

	"token-ledger/internal/domain"
)

func TestComputeTax_Flooring(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		rateBP  uint64
		wantTax uint64
	}{
		{"below reciprocal pays nothing", 99, 100, 0},
		{"exact reciprocal", 100, 100, 1},
		{"floors not rounds", 999, 100, 9},
		{"1000 at 1%", 1000, 100, 10},
		{"1000 at 2%", 1000, 200, 20},
		{"zero rate", 1_000_000, 0, 0},
		{"zero amount", 0, 500, 0},
		{"1 unit at max rate", 1, 500, 0},
		{"19 units at 5%", 19, 500, 0},
		{"20 units at 5%", 20, 500, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := domain.BaseUnits(tt.amount)
			tax, net := ComputeTax(amount, tt.rateBP)
			if tax.Uint64() != tt.wantTax {
				t.Errorf("expected tax %d, got %s", tt.wantTax, tax.Dec())
			}
			if net.Uint64() != tt.amount-tt.wantTax {
				t.Errorf("expected net %d, got %s", tt.amount-tt.wantTax, net.Dec())
			}
		})
	}
}

func TestComputeTax_LargeAmountsDoNotOverflow(t *testing.T) {
	tax, net := ComputeTax(domain.MaxAmount, 500)
	sum := add(tax, net)
	if !sum.Eq(domain.MaxAmount) {
		t.Fatalf("tax + net must equal gross, got %s", sum.Dec())
	}
	if tax.IsZero() {
		t.Fatal("expected non-zero tax on max amount")
	}
}

func TestComputeTax_Deterministic(t *testing.T) {
	amount := domain.Tokens(12345)
	first, _ := ComputeTax(amount, 137)
	for i := 0; i < 10; i++ {
		tax, _ := ComputeTax(amount, 137)
		if !tax.Eq(first) {
			t.Fatalf("run %d: tax changed from %s to %s", i, first.Dec(), tax.Dec())
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		fromPool, toPool bool
		want             domain.Classification
	}{
		{false, false, domain.ClassRegular},
		{true, false, domain.ClassBuy},
		{false, true, domain.ClassSell},
		{true, true, domain.ClassPoolToPool},
	}
	for _, tt := range tests {
		if got := Classify(tt.fromPool, tt.toPool); got != tt.want {
			t.Errorf("Classify(%v, %v): expected %s, got %s", tt.fromPool, tt.toPool, tt.want, got)
		}
	}
}

func TestRateFor(t *testing.T) {
	p := domain.TaxPolicy{Transfer: 100, Sell: 150, Buy: 50}
	tests := []struct {
		class domain.Classification
		want  uint64
	}{
		{domain.ClassRegular, 100},
		{domain.ClassSell, 250},
		{domain.ClassBuy, 50},
		{domain.ClassPoolToPool, 0},
		{domain.ClassUntaxed, 0},
	}
	for _, tt := range tests {
		if got := RateFor(p, tt.class); got != tt.want {
			t.Errorf("RateFor(%s): expected %d, got %d", tt.class, tt.want, got)
		}
	}
}

func TestTransfer_Regular(t *testing.T) {
	l, _ := newTestLedger(t)
	aliceBefore := l.BalanceOf(alice)
	bobBefore := l.BalanceOf(bob)

	if err := l.Transfer(alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	assertBalance(t, l, alice, sub(aliceBefore, domain.BaseUnits(1000)))
	assertBalance(t, l, bob, add(bobBefore, domain.BaseUnits(990)))
	assertBalance(t, l, treasury, domain.BaseUnits(10))
	assertConserved(t, l)

	events := l.TakeEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Kind != domain.EventTransfer || e.Classification != domain.ClassRegular {
		t.Errorf("unexpected event %s/%s", e.Kind, e.Classification)
	}
	if e.Tax.Uint64() != 10 || e.Net.Uint64() != 990 || e.Amount.Uint64() != 1000 {
		t.Errorf("unexpected amounts gross=%s tax=%s net=%s", e.Amount.Dec(), e.Tax.Dec(), e.Net.Dec())
	}
	if e.Disposition != domain.TaxCollected || e.FeeRecipient != treasury {
		t.Errorf("expected tax collected by treasury, got %s to %s", e.Disposition, e.FeeRecipient)
	}
	if e.Actor != alice || e.Seq == 0 || e.EventID == "" {
		t.Errorf("event not stamped: actor=%s seq=%d id=%q", e.Actor, e.Seq, e.EventID)
	}
}

func TestTransfer_DustFlooring(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Transfer(alice, bob, domain.BaseUnits(99)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	assertBalance(t, l, treasury, domain.Zero())

	if err := l.Transfer(alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	assertBalance(t, l, treasury, domain.BaseUnits(10))
}

func TestTransfer_SellCompounds(t *testing.T) {
	l, _ := newTestLedger(t)
	poolBefore := l.BalanceOf(pool)

	if err := l.Transfer(alice, pool, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	assertBalance(t, l, pool, add(poolBefore, domain.BaseUnits(980)))
	assertBalance(t, l, treasury, domain.BaseUnits(20))
	if e := l.TakeEvents()[0]; e.Classification != domain.ClassSell {
		t.Errorf("expected SELL, got %s", e.Classification)
	}
}

func TestTransfer_BuyExempt(t *testing.T) {
	l, _ := newTestLedger(t)
	amount := domain.Tokens(123_456)
	carolBefore := l.BalanceOf(carol)

	if err := l.Transfer(pool, carol, amount); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	assertBalance(t, l, carol, add(carolBefore, amount))
	assertBalance(t, l, treasury, domain.Zero())
	e := l.TakeEvents()[0]
	if e.Classification != domain.ClassBuy || !e.Tax.IsZero() || e.Disposition != domain.TaxNone {
		t.Errorf("expected untaxed BUY, got %s tax=%s disposition=%s", e.Classification, e.Tax.Dec(), e.Disposition)
	}
}

func TestTransfer_PoolToPoolExempt(t *testing.T) {
	l, clock := newTestLedger(t)

	// Even with every rate at its maximum.
	if err := l.ProposeTax(gov, domain.TaxPolicy{Transfer: 500, Sell: 300, Buy: 500}); err != nil {
		t.Fatalf("ProposeTax failed: %v", err)
	}
	clock.Advance(DefaultTaxDelay)
	if err := l.ApplyTax(gov); err != nil {
		t.Fatalf("ApplyTax failed: %v", err)
	}

	amount := domain.Tokens(1_000)
	pool2Before := l.BalanceOf(pool2)
	if err := l.Transfer(pool, pool2, amount); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	assertBalance(t, l, pool2, add(pool2Before, amount))
	assertBalance(t, l, treasury, domain.Zero())
}

func TestTransfer_ClassificationFollowsRegistry(t *testing.T) {
	l, _ := newTestLedger(t)

	// carol is not a pool: regular 1%.
	if err := l.Transfer(alice, carol, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	assertBalance(t, l, treasury, domain.BaseUnits(10))

	if err := l.AddPool(gov, carol); err != nil {
		t.Fatalf("AddPool failed: %v", err)
	}
	// Now a sell: 2%.
	if err := l.Transfer(alice, carol, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	assertBalance(t, l, treasury, domain.BaseUnits(30))
}

func TestTransfer_BurnMode(t *testing.T) {
	l, _ := newTestLedger(t)
	supplyBefore := l.TotalSupply()

	if err := l.SetFeeRecipient(gov, domain.BurnAddress); err != nil {
		t.Fatalf("SetFeeRecipient failed: %v", err)
	}
	if err := l.Transfer(alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	if got := l.TotalSupply(); !got.Eq(sub(supplyBefore, domain.BaseUnits(10))) {
		t.Errorf("expected supply to drop by 10, got %s", got.Dec())
	}
	assertBalance(t, l, domain.BurnAddress, domain.Zero())
	assertConserved(t, l)

	events := l.TakeEvents()
	last := events[len(events)-1]
	if last.Disposition != domain.TaxBurned {
		t.Errorf("expected BURNED disposition, got %s", last.Disposition)
	}
	if !last.TotalSupply.Eq(l.TotalSupply()) {
		t.Errorf("event supply %s does not match ledger %s", last.TotalSupply.Dec(), l.TotalSupply().Dec())
	}
}

func TestTransfer_ZeroFeeRecipientBurns(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.SetFeeRecipient(gov, domain.ZeroAddress); err != nil {
		t.Fatalf("SetFeeRecipient failed: %v", err)
	}
	supplyBefore := l.TotalSupply()
	if err := l.Transfer(alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if got := l.TotalSupply(); !got.Eq(sub(supplyBefore, domain.BaseUnits(10))) {
		t.Errorf("expected supply to drop by 10, got %s", got.Dec())
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	before := l.Snapshot()

	err := l.Transfer(carol, bob, domain.BaseUnits(1))
	assertErrorIs(t, err, ErrInsufficientBalance)
	if KindOf(err) != KindResource {
		t.Errorf("expected resource failure, got %s", KindOf(err))
	}

	after := l.Snapshot()
	if after.Seq != before.Seq || !after.TotalSupply.Eq(before.TotalSupply) {
		t.Error("failed transfer changed state")
	}
	if len(l.TakeEvents()) != 0 {
		t.Error("failed transfer emitted events")
	}
}

func TestTransfer_RejectsNullParties(t *testing.T) {
	l, _ := newTestLedger(t)

	assertErrorIs(t, l.Transfer(alice, domain.ZeroAddress, domain.BaseUnits(1)), ErrZeroAddress)
	assertErrorIs(t, l.Transfer(domain.ZeroAddress, bob, domain.BaseUnits(1)), ErrZeroAddress)
	assertErrorIs(t, l.Approve(alice, domain.ZeroAddress, domain.BaseUnits(1)), ErrZeroAddress)
}

func TestEvents_RecordSupplyPerStep(t *testing.T) {
	params := DefaultParams()
	params.InitialSupply = domain.Tokens(1000)
	params.MaxSupply = MaxSupplyFor(params.InitialSupply)
	params.MintPeriodCap = domain.Tokens(100)
	l, err := New(Options{Params: params, Clock: newFakeClock().Now}, Genesis{
		Governance: gov,
		Allocations: []Allocation{
			{Holder: alice, Amount: domain.Tokens(600)},
			{Holder: bob, Amount: domain.Tokens(400)},
		},
		Policy:       domain.DefaultTaxPolicy(),
		FeeRecipient: treasury,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := []uint64{600, 600, 1000, 1000} // TRANSFER, GENESIS per allocation
	events := l.TakeEvents()
	if len(events) != len(want) {
		t.Fatalf("expected %d genesis events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if !e.TotalSupply.Eq(domain.Tokens(want[i])) {
			t.Errorf("event %d (%s): expected supply %d tokens, got %s", e.Seq, e.Kind, want[i], domain.FormatTokens(e.TotalSupply))
		}
	}

	if err := l.Burn(alice, domain.Tokens(10)); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	for _, e := range l.TakeEvents() {
		if !e.TotalSupply.Eq(domain.Tokens(990)) {
			t.Errorf("%s: expected supply 990 tokens, got %s", e.Kind, domain.FormatTokens(e.TotalSupply))
		}
	}
}

func TestSelfAllowanceRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	before := l.Snapshot()

	assertErrorIs(t, l.Approve(alice, alice, domain.BaseUnits(100)), ErrSelfAllowance)
	assertErrorIs(t, l.TransferFrom(alice, alice, bob, domain.BaseUnits(50)), ErrSelfAllowance)
	if KindOf(ErrSelfAllowance) != KindValidation {
		t.Errorf("expected validation kind, got %s", KindOf(ErrSelfAllowance))
	}

	after := l.Snapshot()
	if after.Seq != before.Seq || !l.Allowance(alice, alice).IsZero() {
		t.Error("rejected self allowance changed state")
	}
}

func TestTransferFrom(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Approve(alice, carol, domain.BaseUnits(1500)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := l.TransferFrom(carol, alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := l.Allowance(alice, carol); got.Uint64() != 500 {
		t.Errorf("expected remaining allowance 500, got %s", got.Dec())
	}
	assertBalance(t, l, treasury, domain.BaseUnits(10))

	err := l.TransferFrom(carol, alice, bob, domain.BaseUnits(501))
	assertErrorIs(t, err, ErrInsufficientAllowance)
	if got := l.Allowance(alice, carol); got.Uint64() != 500 {
		t.Errorf("failed TransferFrom changed allowance to %s", got.Dec())
	}

	events := l.TakeEvents()
	if len(events) != 2 || events[1].Actor != carol || events[1].From != alice {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestTransferFrom_UnlimitedAllowance(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Approve(alice, carol, domain.MaxAmount); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := l.TransferFrom(carol, alice, bob, domain.Tokens(10)); err != nil {
		t.Fatalf("TransferFrom failed: %v", err)
	}
	if got := l.Allowance(alice, carol); !got.Eq(domain.MaxAmount) {
		t.Errorf("unlimited allowance was decremented to %s", got.Dec())
	}
}

func TestTransferFrom_RollsBackAllowanceOnBalanceFailure(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.Approve(carol, alice, domain.BaseUnits(100)); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	err := l.TransferFrom(alice, carol, bob, domain.BaseUnits(100))
	assertErrorIs(t, err, ErrInsufficientBalance)

	if got := l.Allowance(carol, alice); got.Uint64() != 100 {
		t.Errorf("allowance should be restored to 100, got %s", got.Dec())
	}
}

func TestBurn(t *testing.T) {
	l, _ := newTestLedger(t)
	supplyBefore := l.TotalSupply()
	aliceBefore := l.BalanceOf(alice)

	if err := l.Burn(alice, domain.Tokens(5)); err != nil {
		t.Fatalf("Burn failed: %v", err)
	}
	assertBalance(t, l, alice, sub(aliceBefore, domain.Tokens(5)))
	if got := l.TotalSupply(); !got.Eq(sub(supplyBefore, domain.Tokens(5))) {
		t.Errorf("expected supply to drop by 5 tokens, got %s", got.Dec())
	}
	assertConserved(t, l)

	events := l.TakeEvents()
	if len(events) != 2 {
		t.Fatalf("expected TRANSFER and BURN events, got %d", len(events))
	}
	if events[0].Classification != domain.ClassUntaxed || events[1].Kind != domain.EventBurn {
		t.Errorf("unexpected events %s/%s", events[0].Classification, events[1].Kind)
	}

	assertErrorIs(t, l.Burn(carol, domain.BaseUnits(1)), ErrInsufficientBalance)
}

func TestReentrancy_NestedTransferRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	aliceBefore := l.BalanceOf(alice)
	bobBefore := l.BalanceOf(bob)

	var nestedErr error
	l.RegisterHook(bob, ReceiveHookFunc(func(l *Ledger, from domain.Address, amount *domain.Amount) error {
		nestedErr = l.Transfer(bob, alice, amount)
		return nil
	}))

	if err := l.Transfer(alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("outer Transfer failed: %v", err)
	}
	assertErrorIs(t, nestedErr, ErrReentrantCall)

	// Outer transfer applied in full, nested call changed nothing.
	assertBalance(t, l, alice, sub(aliceBefore, domain.BaseUnits(1000)))
	assertBalance(t, l, bob, add(bobBefore, domain.BaseUnits(990)))
	assertConserved(t, l)

	// Latch released afterwards.
	l.UnregisterHook(bob)
	if err := l.Transfer(bob, alice, domain.BaseUnits(10)); err != nil {
		t.Fatalf("Transfer after hook failed: %v", err)
	}
}

func TestReentrancy_GovernanceCallFromHookRejected(t *testing.T) {
	l, _ := newTestLedger(t)

	var nestedErr error
	l.RegisterHook(gov, ReceiveHookFunc(func(l *Ledger, _ domain.Address, _ *domain.Amount) error {
		nestedErr = l.AddPool(gov, carol)
		return nil
	}))

	if err := l.Transfer(alice, gov, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	assertErrorIs(t, nestedErr, ErrReentrantCall)
	if l.IsPool(carol) {
		t.Error("nested AddPool took effect")
	}
}

func TestReentrancy_HookErrorRollsBack(t *testing.T) {
	l, _ := newTestLedger(t)
	before := l.Snapshot()

	hookErr := errors.New("recipient refused")
	l.RegisterHook(bob, ReceiveHookFunc(func(*Ledger, domain.Address, *domain.Amount) error {
		return hookErr
	}))

	err := l.Transfer(alice, bob, domain.BaseUnits(1000))
	assertErrorIs(t, err, hookErr)

	after := l.Snapshot()
	for _, addr := range []domain.Address{alice, bob, treasury} {
		if !domain.CloneAmount(before.Balances[addr]).Eq(domain.CloneAmount(after.Balances[addr])) {
			t.Errorf("balance of %s changed after rollback", addr)
		}
	}
	if after.Seq != before.Seq {
		t.Errorf("seq advanced from %d to %d", before.Seq, after.Seq)
	}
	if len(l.TakeEvents()) != 0 {
		t.Error("rolled back transfer emitted events")
	}
}

func TestReentrancy_PanicReleasesLatch(t *testing.T) {
	l, _ := newTestLedger(t)
	l.RegisterHook(bob, ReceiveHookFunc(func(*Ledger, domain.Address, *domain.Amount) error {
		panic("boom")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		_ = l.Transfer(alice, bob, domain.BaseUnits(1000))
	}()

	assertBalance(t, l, treasury, domain.Zero())
	l.UnregisterHook(bob)
	if err := l.Transfer(alice, bob, domain.BaseUnits(1000)); err != nil {
		t.Fatalf("Transfer after panic failed: %v", err)
	}
}

func TestConservation_RandomSequence(t *testing.T) {
	l, clock := newTestLedger(t)
	rng := rand.New(rand.NewSource(42))
	accounts := []domain.Address{alice, bob, carol, pool, pool2, treasury}

	for i := 0; i < 500; i++ {
		switch rng.Intn(10) {
		case 0:
			// Flip between burn and collect mode.
			recipient := treasury
			if rng.Intn(2) == 0 {
				recipient = domain.BurnAddress
			}
			if err := l.SetFeeRecipient(gov, recipient); err != nil {
				t.Fatalf("step %d: SetFeeRecipient failed: %v", i, err)
			}
		case 1:
			from := accounts[rng.Intn(len(accounts))]
			_ = l.Burn(from, domain.BaseUnits(uint64(rng.Int63n(1_000_000))))
		default:
			from := accounts[rng.Intn(len(accounts))]
			to := accounts[rng.Intn(len(accounts))]
			amount := domain.BaseUnits(uint64(rng.Int63n(1 << 40)))
			if rng.Intn(3) == 0 {
				amount = domain.Tokens(uint64(rng.Intn(1_000_000)))
			}
			err := l.Transfer(from, to, amount)
			if err != nil && !errors.Is(err, ErrInsufficientBalance) {
				t.Fatalf("step %d: unexpected error %v", i, err)
			}
		}
		clock.Advance(1)
		assertConserved(t, l)
	}
}

func TestEvents_SequenceAndIDs(t *testing.T) {
	l, _ := newTestLedger(t)
	start := l.Seq()

	_ = l.Transfer(alice, bob, domain.BaseUnits(1000))
	_ = l.Transfer(carol, bob, domain.BaseUnits(1000)) // fails
	_ = l.Approve(alice, bob, domain.BaseUnits(5))

	events := l.TakeEvents()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Seq != start+uint64(i)+1 {
			t.Errorf("event %d: expected seq %d, got %d", i, start+uint64(i)+1, e.Seq)
		}
	}
	if events[0].EventID == events[1].EventID {
		t.Error("event ids must differ")
	}
	if len(l.TakeEvents()) != 0 {
		t.Error("TakeEvents must drain")
	}
}

func TestNew_GenesisValidation(t *testing.T) {
	params := DefaultParams()

	_, err := New(Options{Params: params}, Genesis{
		Governance:  gov,
		Allocations: []Allocation{{Holder: alice, Amount: domain.Tokens(1)}},
		Policy:      domain.DefaultTaxPolicy(),
	})
	assertErrorIs(t, err, ErrInvalidParams)

	_, err = New(Options{Params: params}, Genesis{
		Allocations: []Allocation{{Holder: alice, Amount: params.InitialSupply}},
		Policy:      domain.DefaultTaxPolicy(),
	})
	assertErrorIs(t, err, ErrZeroGovernance)

	_, err = New(Options{Params: params}, Genesis{
		Governance:  gov,
		Allocations: []Allocation{{Holder: alice, Amount: params.InitialSupply}},
		Policy:      domain.TaxPolicy{Transfer: 600},
	})
	assertErrorIs(t, err, ErrRateTooHigh)

	l, err := New(Options{Params: params}, Genesis{
		Governance:  gov,
		Allocations: []Allocation{{Holder: alice, Amount: params.InitialSupply}},
		Policy:      domain.DefaultTaxPolicy(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !l.TotalSupply().Eq(params.InitialSupply) {
		t.Errorf("expected supply %s, got %s", params.InitialSupply.Dec(), l.TotalSupply().Dec())
	}
	events := l.TakeEvents()
	if len(events) != 2 || events[0].Seq != 1 || events[1].Kind != domain.EventGenesis {
		t.Fatalf("unexpected genesis events %+v", events)
	}
}

func TestFromState_RoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	_ = l.Transfer(alice, bob, domain.Tokens(1))

	restored, err := FromState(Options{Params: l.Params()}, l.Snapshot())
	if err != nil {
		t.Fatalf("FromState failed: %v", err)
	}
	if restored.Seq() != l.Seq() || !restored.BalanceOf(bob).Eq(l.BalanceOf(bob)) {
		t.Error("restored ledger differs")
	}

	broken := l.Snapshot()
	broken.Balances[carol] = domain.BaseUnits(1)
	if _, err := FromState(Options{Params: l.Params()}, broken); err == nil {
		t.Error("expected conservation error")
	}
}

func TestFromState_RejectsSupplyAboveMax(t *testing.T) {
	l, _ := newTestLedger(t)
	params := l.Params()

	state := l.Snapshot()
	excess := add(sub(params.MaxSupply, state.TotalSupply), domain.BaseUnits(1))
	state.Balances[bob] = add(state.Balances[bob], excess)
	state.TotalSupply = add(state.TotalSupply, excess)

	_, err := FromState(Options{Params: params}, state)
	assertErrorIs(t, err, ErrExceedsMaxSupply)

	// Exactly at the cap is allowed.
	state = l.Snapshot()
	headroom := sub(params.MaxSupply, state.TotalSupply)
	state.Balances[bob] = add(state.Balances[bob], headroom)
	state.TotalSupply = domain.CloneAmount(params.MaxSupply)
	if _, err := FromState(Options{Params: params}, state); err != nil {
		t.Fatalf("FromState at cap failed: %v", err)
	}
}
