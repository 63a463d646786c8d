package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"token-ledger/internal/config"
	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
)

// DefaultEventsLimit applies to getEvents without a limit.
const DefaultEventsLimit = 100

func (s *Server) methodTable() map[string]method {
	read := func(fn handler) method { return method{fn: fn} }
	write := func(fn handler) method { return method{write: true, fn: fn} }

	return map[string]method{
		"getBalance":     read(s.getBalance),
		"getAllowance":   read(s.getAllowance),
		"getSupply":      read(s.getSupply),
		"getPolicy":      read(s.getPolicy),
		"getPendingTax":  read(s.getPendingTax),
		"getPendingMint": read(s.getPendingMint),
		"getGovernance":  read(s.getGovernance),
		"getPools":       read(s.getPools),
		"getEvents":      read(s.getEvents),
		"getTaxTotals":   read(s.getTaxTotals),

		"transfer":        write(s.transfer),
		"transferFrom":    write(s.transferFrom),
		"approve":         write(s.approve),
		"burn":            write(s.burn),
		"proposeTax":      write(s.proposeTax),
		"applyTax":        write(s.governanceCall("applyTax", (*ledger.Ledger).ApplyTax)),
		"cancelTax":       write(s.governanceCall("cancelTax", (*ledger.Ledger).CancelTax)),
		"proposeMint":     write(s.proposeMint),
		"executeMint":     write(s.governanceCall("executeMint", (*ledger.Ledger).ExecuteMint)),
		"cancelMint":      write(s.governanceCall("cancelMint", (*ledger.Ledger).CancelMint)),
		"addPool":         write(s.poolCall("addPool", (*ledger.Ledger).AddPool)),
		"removePool":      write(s.poolCall("removePool", (*ledger.Ledger).RemovePool)),
		"setFeeRecipient": write(s.setFeeRecipient),
		"setGovernance":   write(s.setGovernance),
	}
}

// execute runs op on the node and wraps the committed events.
func (s *Server) execute(ctx context.Context, name string, op func(l *ledger.Ledger) error) (any, error) {
	events, err := s.node.Execute(ctx, name, op)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Events: NewEvents(events)}, nil
}

func balanceResult(a *domain.Amount) *BalanceResult {
	return &BalanceResult{Amount: a.Dec(), Tokens: domain.FormatTokens(a)}
}

func (s *Server) getBalance(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	var p AddressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddressParam("address", p.Address)
	if err != nil {
		return nil, err
	}
	var bal *domain.Amount
	s.node.View(func(l *ledger.Ledger) { bal = l.BalanceOf(addr) })
	return balanceResult(bal), nil
}

func (s *Server) getAllowance(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	var p AllowanceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	owner, err := parseAddressParam("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	spender, err := parseAddressParam("spender", p.Spender)
	if err != nil {
		return nil, err
	}
	var allowance *domain.Amount
	s.node.View(func(l *ledger.Ledger) { allowance = l.Allowance(owner, spender) })
	return balanceResult(allowance), nil
}

func (s *Server) getSupply(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	var out SupplyResult
	s.node.View(func(l *ledger.Ledger) {
		params := l.Params()
		window := l.MintWindow()
		out = SupplyResult{
			TotalSupply:   l.TotalSupply().Dec(),
			InitialSupply: params.InitialSupply.Dec(),
			MaxSupply:     params.MaxSupply.Dec(),
			MintPeriodCap: params.MintPeriodCap.Dec(),
			WindowStart:   window.Start,
			WindowMinted:  domain.CloneAmount(window.Minted).Dec(),
		}
	})
	return &out, nil
}

func (s *Server) getPolicy(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	var out PolicyResult
	s.node.View(func(l *ledger.Ledger) {
		recipient := l.FeeRecipient()
		out = PolicyResult{
			Policy:       l.Policy(),
			FeeRecipient: addressText(recipient),
			BurnMode:     recipient.IsBurn(),
		}
	})
	return &out, nil
}

func (s *Server) getPendingTax(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	var out *PendingTaxResult
	s.node.View(func(l *ledger.Ledger) {
		if p := l.PendingTax(); p != nil {
			out = &PendingTaxResult{Policy: p.Policy, EffectiveAt: p.EffectiveAt}
		}
	})
	return out, nil
}

func (s *Server) getPendingMint(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	var out *PendingMintResult
	s.node.View(func(l *ledger.Ledger) {
		if p := l.PendingMint(); p != nil {
			out = &PendingMintResult{
				Recipient:   p.Recipient.String(),
				Amount:      p.Amount.Dec(),
				EffectiveAt: p.EffectiveAt,
			}
		}
	})
	return out, nil
}

func (s *Server) getGovernance(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	var out GovernanceResult
	s.node.View(func(l *ledger.Ledger) { out.Governance = addressText(l.Governance()) })
	return &out, nil
}

func (s *Server) getPools(_ context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	var pools []domain.Address
	s.node.View(func(l *ledger.Ledger) { pools = l.Pools() })
	out := make([]string, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.String())
	}
	return out, nil
}

func (s *Server) getEvents(ctx context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	var p EventsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	var (
		events []*domain.Event
		err    error
	)
	limit := p.Limit
	if limit <= 0 {
		limit = s.eventsLimit
	}
	if p.Account != "" {
		addr, perr := parseAddressParam("account", p.Account)
		if perr != nil {
			return nil, perr
		}
		events, err = s.node.AccountEvents(ctx, addr, limit)
	} else {
		from, to := p.FromSeq, p.ToSeq
		if from == 0 {
			from = 1
		}
		if to == 0 {
			s.node.View(func(l *ledger.Ledger) { to = l.Seq() })
		}
		if to >= from && to-from+1 > uint64(limit) {
			to = from + uint64(limit) - 1
		}
		events, err = s.node.Events(ctx, from, to)
	}
	if err != nil {
		return nil, err
	}
	return NewEvents(events), nil
}

func (s *Server) getTaxTotals(ctx context.Context, _ domain.Address, raw json.RawMessage) (any, error) {
	var p TaxTotalsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.End <= p.Start {
		return nil, fmt.Errorf("%w: end must be after start", errInvalidParams)
	}
	totals, err := s.node.TaxTotals(ctx, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	out := make([]*TaxTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, &TaxTotal{
			Day:       t.Day,
			Transfers: t.Transfers,
			Collected: domain.CloneAmount(t.Collected).Dec(),
			Burned:    domain.CloneAmount(t.Burned).Dec(),
			Volume:    domain.CloneAmount(t.Volume).Dec(),
		})
	}
	return out, nil
}

func (s *Server) transfer(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p TransferParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	to, err := parseAddressParam("to", p.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "transfer", func(l *ledger.Ledger) error {
		return l.Transfer(caller, to, amount)
	})
}

func (s *Server) transferFrom(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p TransferFromParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	from, err := parseAddressParam("from", p.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddressParam("to", p.To)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "transferFrom", func(l *ledger.Ledger) error {
		return l.TransferFrom(caller, from, to, amount)
	})
}

func (s *Server) approve(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p ApproveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	spender, err := parseAddressParam("spender", p.Spender)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "approve", func(l *ledger.Ledger) error {
		return l.Approve(caller, spender, amount)
	})
}

func (s *Server) burn(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p BurnParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "burn", func(l *ledger.Ledger) error {
		return l.Burn(caller, amount)
	})
}

func (s *Server) proposeTax(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p ProposeTaxParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return s.execute(ctx, "proposeTax", func(l *ledger.Ledger) error {
		return l.ProposeTax(caller, p.Policy)
	})
}

func (s *Server) proposeMint(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p ProposeMintParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	recipient, err := parseAddressParam("recipient", p.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmountParam("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "proposeMint", func(l *ledger.Ledger) error {
		return l.ProposeMint(caller, recipient, amount)
	})
}

func (s *Server) setFeeRecipient(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p FeeRecipientParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	recipient := domain.BurnAddress
	if !strings.EqualFold(p.Recipient, config.BurnKeyword) && p.Recipient != "" {
		var err error
		if recipient, err = parseAddressParam("recipient", p.Recipient); err != nil {
			return nil, err
		}
	}
	return s.execute(ctx, "setFeeRecipient", func(l *ledger.Ledger) error {
		return l.SetFeeRecipient(caller, recipient)
	})
}

func (s *Server) setGovernance(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
	var p GovernanceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	next, err := parseAddressParam("governance", p.Governance)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, "setGovernance", func(l *ledger.Ledger) error {
		return l.SetGovernance(caller, next)
	})
}

// governanceCall adapts a parameterless governance operation.
func (s *Server) governanceCall(name string, op func(l *ledger.Ledger, caller domain.Address) error) handler {
	return func(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
		var p Signed
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		return s.execute(ctx, name, func(l *ledger.Ledger) error {
			return op(l, caller)
		})
	}
}

// poolCall adapts a pool registry operation.
func (s *Server) poolCall(name string, op func(l *ledger.Ledger, caller, pool domain.Address) error) handler {
	return func(ctx context.Context, caller domain.Address, raw json.RawMessage) (any, error) {
		var p PoolParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		pool, err := parseAddressParam("pool", p.Pool)
		if err != nil {
			return nil, err
		}
		return s.execute(ctx, name, func(l *ledger.Ledger) error {
			return op(l, caller, pool)
		})
	}
}
