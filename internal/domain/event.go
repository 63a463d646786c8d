package domain

// EventKind identifies the operation that produced an event.
type EventKind string

const (
	EventGenesis         EventKind = "GENESIS"
	EventTransfer        EventKind = "TRANSFER"
	EventApproval        EventKind = "APPROVAL"
	EventBurn            EventKind = "BURN"
	EventTaxProposed     EventKind = "TAX_PROPOSED"
	EventTaxApplied      EventKind = "TAX_APPLIED"
	EventTaxCancelled    EventKind = "TAX_CANCELLED"
	EventMintProposed    EventKind = "MINT_PROPOSED"
	EventMintExecuted    EventKind = "MINT_EXECUTED"
	EventMintCancelled   EventKind = "MINT_CANCELLED"
	EventPoolAdded       EventKind = "POOL_ADDED"
	EventPoolRemoved     EventKind = "POOL_REMOVED"
	EventFeeRecipientSet EventKind = "FEE_RECIPIENT_SET"
	EventGovernanceSet   EventKind = "GOVERNANCE_SET"
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventGenesis, EventTransfer, EventApproval, EventBurn,
		EventTaxProposed, EventTaxApplied, EventTaxCancelled,
		EventMintProposed, EventMintExecuted, EventMintCancelled,
		EventPoolAdded, EventPoolRemoved, EventFeeRecipientSet, EventGovernanceSet:
		return true
	}
	return false
}

// Event is the notification record emitted by every committed operation.
// Fields not relevant to a kind are left zero.
type Event struct {
	EventID   string    // deterministic hash, see idhash.ComputeEventID
	Seq       uint64    // strictly increasing, starts at 1
	Kind      EventKind // operation kind
	Actor     Address   // caller that performed the operation
	Timestamp int64     // unix ms at execution

	From   Address // debited account (transfer, burn)
	To     Address // credited account (transfer, mint), pool, fee recipient, governance
	Amount *Amount // gross amount

	// Transfer specifics
	Tax            *Amount        // tax deducted from Amount
	Net            *Amount        // Amount - Tax, received by To
	Classification Classification // counterparty class
	Disposition    TaxDisposition // collected, burned or none
	FeeRecipient   Address        // recipient of collected tax

	// Governance specifics
	Policy      *TaxPolicy // proposed or applied policy
	EffectiveAt int64      // unix ms, for proposals

	// Resulting state
	TotalSupply *Amount
}

// Touches reports whether the event debits or credits addr.
func (e *Event) Touches(addr Address) bool {
	if e.Actor == addr || e.From == addr || e.To == addr {
		return true
	}
	return e.Disposition == TaxCollected && e.FeeRecipient == addr
}

// TaxTotal aggregates tax outcomes for one UTC day.
type TaxTotal struct {
	Day       int64  // unix ms of 00:00 UTC
	Transfers uint64 // number of taxed transfers
	Collected *Amount
	Burned    *Amount
	Volume    *Amount // gross transfer volume
}

// Clone returns a deep copy of e.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Amount = cloneOptional(e.Amount)
	c.Tax = cloneOptional(e.Tax)
	c.Net = cloneOptional(e.Net)
	c.TotalSupply = cloneOptional(e.TotalSupply)
	if e.Policy != nil {
		p := *e.Policy
		c.Policy = &p
	}
	return &c
}

func cloneOptional(a *Amount) *Amount {
	if a == nil {
		return nil
	}
	return CloneAmount(a)
}
