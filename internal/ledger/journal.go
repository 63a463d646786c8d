package ledger

import "token-ledger/internal/domain"

type allowanceKey struct {
	owner   domain.Address
	spender domain.Address
}

type priorAmount struct {
	value   *domain.Amount
	present bool
}

// journal records enough of the state at the start of an operation to undo
// it. Amounts in the state are replaced, never mutated in place, so keeping
// the old pointers is sufficient.
type journal struct {
	seq          uint64
	supply       *domain.Amount
	policy       domain.TaxPolicy
	pendingTax   *domain.PendingTax
	pendingMint  *domain.PendingMint
	window       domain.MintWindow
	feeRecipient domain.Address
	governance   domain.Address

	balances   map[domain.Address]priorAmount
	allowances map[allowanceKey]priorAmount
	pools      map[domain.Address]bool
}

func newJournal(s *domain.LedgerState) *journal {
	return &journal{
		seq:          s.Seq,
		supply:       s.TotalSupply,
		policy:       s.Policy,
		pendingTax:   s.PendingTax,
		pendingMint:  s.PendingMint,
		window:       s.Window,
		feeRecipient: s.FeeRecipient,
		governance:   s.Governance,
		balances:     make(map[domain.Address]priorAmount),
		allowances:   make(map[allowanceKey]priorAmount),
		pools:        make(map[domain.Address]bool),
	}
}

// recordBalance saves the balance of addr the first time it is touched.
func (j *journal) recordBalance(s *domain.LedgerState, addr domain.Address) {
	if _, seen := j.balances[addr]; seen {
		return
	}
	v, ok := s.Balances[addr]
	j.balances[addr] = priorAmount{value: v, present: ok}
}

func (j *journal) recordAllowance(s *domain.LedgerState, owner, spender domain.Address) {
	key := allowanceKey{owner: owner, spender: spender}
	if _, seen := j.allowances[key]; seen {
		return
	}
	var prior priorAmount
	if m, ok := s.Allowances[owner]; ok {
		prior.value, prior.present = m[spender]
	}
	j.allowances[key] = prior
}

func (j *journal) recordPool(s *domain.LedgerState, addr domain.Address) {
	if _, seen := j.pools[addr]; seen {
		return
	}
	j.pools[addr] = s.Pools[addr]
}

// revert puts s back to the state at the time the journal was created.
func (j *journal) revert(s *domain.LedgerState) {
	s.Seq = j.seq
	s.TotalSupply = j.supply
	s.Policy = j.policy
	s.PendingTax = j.pendingTax
	s.PendingMint = j.pendingMint
	s.Window = j.window
	s.FeeRecipient = j.feeRecipient
	s.Governance = j.governance

	for addr, prior := range j.balances {
		if prior.present {
			s.Balances[addr] = prior.value
		} else {
			delete(s.Balances, addr)
		}
	}

	for key, prior := range j.allowances {
		m, ok := s.Allowances[key.owner]
		if !prior.present {
			if ok {
				delete(m, key.spender)
				if len(m) == 0 {
					delete(s.Allowances, key.owner)
				}
			}
			continue
		}
		if !ok {
			m = make(map[domain.Address]*domain.Amount)
			s.Allowances[key.owner] = m
		}
		m[key.spender] = prior.value
	}

	for addr, member := range j.pools {
		if member {
			s.Pools[addr] = true
		} else {
			delete(s.Pools, addr)
		}
	}
}
