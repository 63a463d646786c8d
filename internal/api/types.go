package api

import (
	"encoding/json"
	"fmt"

	"token-ledger/internal/domain"
)

// Request represents a JSON-RPC 2.0 request. Params is a single object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the failure kind for
// ledger errors.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData classifies a ledger failure.
type ErrorData struct {
	Kind string `json:"kind"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Notification is a server push on the websocket feed.
type Notification struct {
	JSONRPC string              `json:"jsonrpc"`
	Method  string              `json:"method"`
	Params  *NotificationParams `json:"params"`
}

// NotificationParams wraps one event for a subscription.
type NotificationParams struct {
	Subscription uint64 `json:"subscription"`
	Result       *Event `json:"result"`
}

// Event is the wire form of domain.Event. Amounts are base-unit decimal
// strings; absent fields are omitted.
type Event struct {
	EventID        string            `json:"eventId"`
	Seq            uint64            `json:"seq"`
	Kind           string            `json:"kind"`
	Actor          string            `json:"actor"`
	Timestamp      int64             `json:"timestamp"`
	From           string            `json:"from,omitempty"`
	To             string            `json:"to,omitempty"`
	Amount         string            `json:"amount,omitempty"`
	Tax            string            `json:"tax,omitempty"`
	Net            string            `json:"net,omitempty"`
	Classification string            `json:"classification,omitempty"`
	Disposition    string            `json:"disposition,omitempty"`
	FeeRecipient   string            `json:"feeRecipient,omitempty"`
	Policy         *domain.TaxPolicy `json:"policy,omitempty"`
	EffectiveAt    int64             `json:"effectiveAt,omitempty"`
	TotalSupply    string            `json:"totalSupply,omitempty"`
}

// NewEvent converts a domain event to its wire form.
func NewEvent(e *domain.Event) *Event {
	out := &Event{
		EventID:        e.EventID,
		Seq:            e.Seq,
		Kind:           string(e.Kind),
		Actor:          addressText(e.Actor),
		Timestamp:      e.Timestamp,
		From:           addressText(e.From),
		To:             addressText(e.To),
		Amount:         amountText(e.Amount),
		Tax:            amountText(e.Tax),
		Net:            amountText(e.Net),
		Classification: string(e.Classification),
		Disposition:    string(e.Disposition),
		FeeRecipient:   addressText(e.FeeRecipient),
		EffectiveAt:    e.EffectiveAt,
		TotalSupply:    amountText(e.TotalSupply),
	}
	if e.Policy != nil {
		p := *e.Policy
		out.Policy = &p
	}
	return out
}

// NewEvents converts a slice of domain events.
func NewEvents(events []*domain.Event) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		out = append(out, NewEvent(e))
	}
	return out
}

// Domain converts the wire form back to a domain event.
func (e *Event) Domain() (*domain.Event, error) {
	out := &domain.Event{
		EventID:        e.EventID,
		Seq:            e.Seq,
		Kind:           domain.EventKind(e.Kind),
		Timestamp:      e.Timestamp,
		Classification: domain.Classification(e.Classification),
		Disposition:    domain.TaxDisposition(e.Disposition),
		EffectiveAt:    e.EffectiveAt,
	}
	if e.Policy != nil {
		p := *e.Policy
		out.Policy = &p
	}

	var err error
	if out.Actor, err = parseOptionalAddress(e.Actor); err != nil {
		return nil, fmt.Errorf("actor: %w", err)
	}
	if out.From, err = parseOptionalAddress(e.From); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if out.To, err = parseOptionalAddress(e.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if out.FeeRecipient, err = parseOptionalAddress(e.FeeRecipient); err != nil {
		return nil, fmt.Errorf("feeRecipient: %w", err)
	}
	for _, f := range []struct {
		dst **domain.Amount
		src string
	}{
		{&out.Amount, e.Amount},
		{&out.Tax, e.Tax},
		{&out.Net, e.Net},
		{&out.TotalSupply, e.TotalSupply},
	} {
		if f.src == "" {
			continue
		}
		if *f.dst, err = domain.ParseAmount(f.src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// BalanceResult is returned by getBalance and getAllowance.
type BalanceResult struct {
	Amount string `json:"amount"`
	Tokens string `json:"tokens"`
}

// SupplyResult is returned by getSupply.
type SupplyResult struct {
	TotalSupply   string `json:"totalSupply"`
	InitialSupply string `json:"initialSupply"`
	MaxSupply     string `json:"maxSupply"`
	MintPeriodCap string `json:"mintPeriodCap"`
	WindowStart   int64  `json:"windowStart"`
	WindowMinted  string `json:"windowMinted"`
}

// PolicyResult is returned by getPolicy.
type PolicyResult struct {
	Policy       domain.TaxPolicy `json:"policy"`
	FeeRecipient string           `json:"feeRecipient"`
	BurnMode     bool             `json:"burnMode"`
}

// PendingTaxResult is returned by getPendingTax. A null result means no
// proposal is pending.
type PendingTaxResult struct {
	Policy      domain.TaxPolicy `json:"policy"`
	EffectiveAt int64            `json:"effectiveAt"`
}

// PendingMintResult is returned by getPendingMint.
type PendingMintResult struct {
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	EffectiveAt int64  `json:"effectiveAt"`
}

// GovernanceResult is returned by getGovernance.
type GovernanceResult struct {
	Governance string `json:"governance"`
}

// TaxTotal is the wire form of domain.TaxTotal.
type TaxTotal struct {
	Day       int64  `json:"day"`
	Transfers uint64 `json:"transfers"`
	Collected string `json:"collected"`
	Burned    string `json:"burned"`
	Volume    string `json:"volume"`
}

// WriteResult is returned by every write method.
type WriteResult struct {
	Events []*Event `json:"events"`
}

// Read method params.
type (
	AddressParams struct {
		Address string `json:"address"`
	}
	AllowanceParams struct {
		Owner   string `json:"owner"`
		Spender string `json:"spender"`
	}
	// EventsParams selects either a sequence range or the most recent events
	// touching Account.
	EventsParams struct {
		FromSeq uint64 `json:"fromSeq,omitempty"`
		ToSeq   uint64 `json:"toSeq,omitempty"`
		Account string `json:"account,omitempty"`
		Limit   int    `json:"limit,omitempty"`
	}
	TaxTotalsParams struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
)

// Signed carries the freshness timestamp of every write.
type Signed struct {
	IssuedAt int64 `json:"issuedAt"`
}

// Write method params. Amounts are base-unit decimal strings.
type (
	TransferParams struct {
		Signed
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	TransferFromParams struct {
		Signed
		From   string `json:"from"`
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	ApproveParams struct {
		Signed
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}
	BurnParams struct {
		Signed
		Amount string `json:"amount"`
	}
	ProposeTaxParams struct {
		Signed
		Policy domain.TaxPolicy `json:"policy"`
	}
	ProposeMintParams struct {
		Signed
		Recipient string `json:"recipient"`
		Amount    string `json:"amount"`
	}
	PoolParams struct {
		Signed
		Pool string `json:"pool"`
	}
	FeeRecipientParams struct {
		Signed
		Recipient string `json:"recipient"`
	}
	GovernanceParams struct {
		Signed
		Governance string `json:"governance"`
	}
)

// SubscribeParams filters the event feed. Empty lists match everything.
type SubscribeParams struct {
	Accounts []string `json:"accounts,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
}

// UnsubscribeParams names the subscription to cancel.
type UnsubscribeParams struct {
	Subscription uint64 `json:"subscription"`
}

func addressText(a domain.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}

func amountText(a *domain.Amount) string {
	if a == nil {
		return ""
	}
	return a.Dec()
}

func parseOptionalAddress(s string) (domain.Address, error) {
	if s == "" {
		return domain.ZeroAddress, nil
	}
	return domain.ParseAddress(s)
}
