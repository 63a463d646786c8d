package domain

import "sort"

// PendingTax is a queued tax-rate change. A nil *PendingTax means idle.
type PendingTax struct {
	Policy      TaxPolicy `json:"policy"`
	EffectiveAt int64     `json:"effective_at"` // unix ms
}

// PendingMint is a queued supply expansion. A nil *PendingMint means idle.
type PendingMint struct {
	Recipient   Address `json:"recipient"`
	Amount      *Amount `json:"amount"`
	EffectiveAt int64   `json:"effective_at"` // unix ms
	ReservedIn  int64   `json:"reserved_in"`  // window start the amount was counted against
}

// MintWindow tracks how much was minted in the current rolling window.
type MintWindow struct {
	Start  int64   `json:"start"` // unix ms, zero before the first mint proposal
	Minted *Amount `json:"minted"`
}

// LedgerState is a full, self-contained copy of the ledger's persisted state.
type LedgerState struct {
	Seq          uint64                          `json:"seq"` // sequence of the last committed event
	TotalSupply  *Amount                         `json:"total_supply"`
	Balances     map[Address]*Amount             `json:"balances"`
	Allowances   map[Address]map[Address]*Amount `json:"allowances"`
	Policy       TaxPolicy                       `json:"policy"`
	PendingTax   *PendingTax                     `json:"pending_tax,omitempty"`
	Pools        map[Address]bool                `json:"pools"`
	FeeRecipient Address                         `json:"fee_recipient"`
	PendingMint  *PendingMint                    `json:"pending_mint,omitempty"`
	Window       MintWindow                      `json:"window"`
	Governance   Address                         `json:"governance"`
}

// NewLedgerState returns an empty state with all maps allocated.
func NewLedgerState() *LedgerState {
	return &LedgerState{
		TotalSupply: Zero(),
		Balances:    make(map[Address]*Amount),
		Allowances:  make(map[Address]map[Address]*Amount),
		Pools:       make(map[Address]bool),
		Window:      MintWindow{Minted: Zero()},
	}
}

// Clone returns a deep copy of s.
func (s *LedgerState) Clone() *LedgerState {
	if s == nil {
		return nil
	}
	c := &LedgerState{
		Seq:          s.Seq,
		TotalSupply:  CloneAmount(s.TotalSupply),
		Balances:     make(map[Address]*Amount, len(s.Balances)),
		Allowances:   make(map[Address]map[Address]*Amount, len(s.Allowances)),
		Policy:       s.Policy,
		Pools:        make(map[Address]bool, len(s.Pools)),
		FeeRecipient: s.FeeRecipient,
		Window:       MintWindow{Start: s.Window.Start, Minted: CloneAmount(s.Window.Minted)},
		Governance:   s.Governance,
	}
	for addr, bal := range s.Balances {
		c.Balances[addr] = CloneAmount(bal)
	}
	for owner, spenders := range s.Allowances {
		m := make(map[Address]*Amount, len(spenders))
		for spender, amt := range spenders {
			m[spender] = CloneAmount(amt)
		}
		c.Allowances[owner] = m
	}
	for addr, ok := range s.Pools {
		if ok {
			c.Pools[addr] = true
		}
	}
	if s.PendingTax != nil {
		p := *s.PendingTax
		c.PendingTax = &p
	}
	if s.PendingMint != nil {
		c.PendingMint = &PendingMint{
			Recipient:   s.PendingMint.Recipient,
			Amount:      CloneAmount(s.PendingMint.Amount),
			EffectiveAt: s.PendingMint.EffectiveAt,
			ReservedIn:  s.PendingMint.ReservedIn,
		}
	}
	return c
}

// SumBalances adds up every balance. Used to check conservation.
func (s *LedgerState) SumBalances() *Amount {
	sum := Zero()
	for _, bal := range s.Balances {
		sum.Add(sum, bal)
	}
	return sum
}

// PoolList returns the registered pools in a deterministic order.
func (s *LedgerState) PoolList() []Address {
	return SortAddresses(s.Pools)
}

// SortAddresses returns the true keys of set ordered by base58 string.
func SortAddresses(set map[Address]bool) []Address {
	out := make([]Address, 0, len(set))
	for addr, ok := range set {
		if ok {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
