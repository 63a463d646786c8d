package verification

import (
	"errors"
	"fmt"
	"sort"

	"token-ledger/internal/domain"
)

var errUnderflow = errors.New("balance underflow")

// replay folds events into the parts of the state they determine. Settings
// that only genesis establishes are compared once an event has set them.
type replay struct {
	balances   map[domain.Address]*domain.Amount
	allowances map[domain.Address]map[domain.Address]*domain.Amount
	supply     *domain.Amount

	governance   *domain.Address
	policy       *domain.TaxPolicy
	feeRecipient *domain.Address
	pools        map[domain.Address]bool // pools an event added or removed

	pendingTax  *domain.TaxPolicy
	pendingMint *domain.PendingMint
}

func newReplay() *replay {
	return &replay{
		balances:   make(map[domain.Address]*domain.Amount),
		allowances: make(map[domain.Address]map[domain.Address]*domain.Amount),
		supply:     domain.Zero(),
		pools:      make(map[domain.Address]bool),
	}
}

func (r *replay) balance(a domain.Address) *domain.Amount {
	if b, ok := r.balances[a]; ok {
		return b
	}
	return domain.Zero()
}

func (r *replay) credit(a domain.Address, v *domain.Amount) {
	if a.IsZero() {
		r.supply = new(domain.Amount).Sub(r.supply, v)
		return
	}
	r.balances[a] = new(domain.Amount).Add(r.balance(a), v)
}

func (r *replay) debit(a domain.Address, v *domain.Amount) error {
	if a.IsZero() {
		r.supply = new(domain.Amount).Add(r.supply, v)
		return nil
	}
	bal := r.balance(a)
	if bal.Lt(v) {
		return fmt.Errorf("%w: %s has %s, moves %s", errUnderflow, a, bal.Dec(), v.Dec())
	}
	r.balances[a] = new(domain.Amount).Sub(bal, v)
	return nil
}

func (r *replay) apply(e *domain.Event) error {
	switch e.Kind {
	case domain.EventGenesis:
		if r.governance == nil {
			g := e.Actor
			r.governance = &g
		}
	case domain.EventTransfer:
		return r.applyTransfer(e)
	case domain.EventApproval:
		m, ok := r.allowances[e.From]
		if !ok {
			m = make(map[domain.Address]*domain.Amount)
			r.allowances[e.From] = m
		}
		m[e.To] = domain.CloneAmount(e.Amount)
	case domain.EventTaxProposed:
		p := *e.Policy
		r.pendingTax = &p
	case domain.EventTaxApplied:
		p := *e.Policy
		r.policy = &p
		r.pendingTax = nil
	case domain.EventTaxCancelled:
		r.pendingTax = nil
	case domain.EventMintProposed:
		r.pendingMint = &domain.PendingMint{
			Recipient:   e.To,
			Amount:      domain.CloneAmount(e.Amount),
			EffectiveAt: e.EffectiveAt,
		}
	case domain.EventMintExecuted, domain.EventMintCancelled:
		r.pendingMint = nil
	case domain.EventPoolAdded:
		r.pools[e.To] = true
	case domain.EventPoolRemoved:
		r.pools[e.To] = false
	case domain.EventFeeRecipientSet:
		f := e.FeeRecipient
		r.feeRecipient = &f
	case domain.EventGovernanceSet:
		g := e.To
		r.governance = &g
	case domain.EventBurn:
		// The supply change is carried by the TRANSFER to the null account.
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

func (r *replay) applyTransfer(e *domain.Event) error {
	if e.Amount == nil || e.Net == nil {
		return errors.New("transfer without amount")
	}
	tax := domain.Zero()
	if e.Tax != nil {
		tax = e.Tax
	}
	if !new(domain.Amount).Add(e.Net, tax).Eq(e.Amount) {
		return fmt.Errorf("net %s + tax %s != amount %s", e.Net.Dec(), tax.Dec(), e.Amount.Dec())
	}

	// A spender other than the owner consumes allowance.
	if !e.From.IsZero() && e.Actor != e.From {
		if err := r.spendAllowance(e.From, e.Actor, e.Amount); err != nil {
			return err
		}
	}

	if err := r.debit(e.From, e.Amount); err != nil {
		return err
	}
	switch e.Disposition {
	case domain.TaxCollected:
		r.credit(e.FeeRecipient, tax)
	case domain.TaxBurned:
		r.credit(domain.ZeroAddress, tax)
	default:
		if !tax.IsZero() {
			return fmt.Errorf("tax %s with disposition %s", tax.Dec(), e.Disposition)
		}
	}
	r.credit(e.To, e.Net)
	return nil
}

func (r *replay) spendAllowance(owner, spender domain.Address, v *domain.Amount) error {
	allowed := domain.Zero()
	if m, ok := r.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			allowed = a
		}
	}
	if allowed.Eq(domain.MaxAmount) {
		return nil
	}
	if allowed.Lt(v) {
		return fmt.Errorf("%s spends %s of %s with allowance %s", spender, v.Dec(), owner, allowed.Dec())
	}
	m, ok := r.allowances[owner]
	if !ok {
		m = make(map[domain.Address]*domain.Amount)
		r.allowances[owner] = m
	}
	m[spender] = new(domain.Amount).Sub(allowed, v)
	return nil
}

// compare lists every difference between the replayed and the stored state.
func (r *replay) compare(s *domain.LedgerState, lastSeq uint64) []FieldDivergence {
	var out []FieldDivergence
	add := func(field string, stored, replayed interface{}) {
		out = append(out, FieldDivergence{Field: field, Expected: stored, Actual: replayed})
	}

	if s.Seq != lastSeq {
		add("Seq", s.Seq, lastSeq)
	}
	if !s.TotalSupply.Eq(r.supply) {
		add("TotalSupply", s.TotalSupply.Dec(), r.supply.Dec())
	}
	if sum := s.SumBalances(); !sum.Eq(s.TotalSupply) {
		add("SumBalances", s.TotalSupply.Dec(), sum.Dec())
	}

	for _, a := range addressUnion(s.Balances, r.balances) {
		stored, replayed := amountOr(s.Balances[a]), amountOr(r.balances[a])
		if !stored.Eq(replayed) {
			add("Balance["+a.String()+"]", stored.Dec(), replayed.Dec())
		}
	}
	owners := make(map[domain.Address]bool)
	for o := range s.Allowances {
		owners[o] = true
	}
	for o := range r.allowances {
		owners[o] = true
	}
	for _, o := range domain.SortAddresses(owners) {
		for _, sp := range addressUnion(s.Allowances[o], r.allowances[o]) {
			stored, replayed := amountOr(s.Allowances[o][sp]), amountOr(r.allowances[o][sp])
			if !stored.Eq(replayed) {
				add("Allowance["+o.String()+"]["+sp.String()+"]", stored.Dec(), replayed.Dec())
			}
		}
	}

	if r.governance != nil && s.Governance != *r.governance {
		add("Governance", s.Governance.String(), r.governance.String())
	}
	if r.policy != nil && s.Policy != *r.policy {
		add("Policy", s.Policy, *r.policy)
	}
	if r.feeRecipient != nil && s.FeeRecipient != *r.feeRecipient {
		add("FeeRecipient", s.FeeRecipient.String(), r.feeRecipient.String())
	}
	for _, p := range domain.SortAddresses(keys(r.pools)) {
		if s.Pools[p] != r.pools[p] {
			add("Pool["+p.String()+"]", s.Pools[p], r.pools[p])
		}
	}

	switch {
	case (s.PendingTax == nil) != (r.pendingTax == nil):
		add("PendingTax", s.PendingTax != nil, r.pendingTax != nil)
	case s.PendingTax != nil && s.PendingTax.Policy != *r.pendingTax:
		add("PendingTax.Policy", s.PendingTax.Policy, *r.pendingTax)
	}
	switch {
	case (s.PendingMint == nil) != (r.pendingMint == nil):
		add("PendingMint", s.PendingMint != nil, r.pendingMint != nil)
	case s.PendingMint != nil:
		if s.PendingMint.Recipient != r.pendingMint.Recipient || !s.PendingMint.Amount.Eq(r.pendingMint.Amount) {
			add("PendingMint", s.PendingMint.Amount.Dec()+" to "+s.PendingMint.Recipient.String(),
				r.pendingMint.Amount.Dec()+" to "+r.pendingMint.Recipient.String())
		}
	}
	return out
}

func amountOr(a *domain.Amount) *domain.Amount {
	if a == nil {
		return domain.Zero()
	}
	return a
}

func keys(m map[domain.Address]bool) map[domain.Address]bool {
	out := make(map[domain.Address]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// addressUnion returns the keys of both maps, sorted.
func addressUnion(a, b map[domain.Address]*domain.Amount) []domain.Address {
	set := make(map[domain.Address]bool, len(a)+len(b))
	for k := range a {
		set[k] = true
	}
	for k := range b {
		set[k] = true
	}
	out := make([]domain.Address, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
