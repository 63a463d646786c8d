package domain

// TaxPolicy holds the three independent tax rates in basis points.
type TaxPolicy struct {
	Transfer uint16 `json:"transfer"` // regular transfers, also charged on sells
	Sell     uint16 `json:"sell"`     // non-pool -> pool, on top of Transfer
	Buy      uint16 `json:"buy"`      // pool -> non-pool
}

// DefaultTaxPolicy is 1% on transfers, 1% extra on sells and no buy tax.
func DefaultTaxPolicy() TaxPolicy {
	return TaxPolicy{Transfer: 100, Sell: 100, Buy: 0}
}

// Classification is the counterparty class of a transfer.
type Classification string

const (
	ClassRegular    Classification = "REGULAR"
	ClassBuy        Classification = "BUY"
	ClassSell       Classification = "SELL"
	ClassPoolToPool Classification = "POOL_TO_POOL"
	// ClassUntaxed marks the null-identifier path reserved for mint/burn.
	ClassUntaxed Classification = "UNTAXED"
)

// String returns the string representation of Classification.
func (c Classification) String() string {
	return string(c)
}

// TaxDisposition records what happened to the tax of a transfer.
type TaxDisposition string

const (
	TaxNone      TaxDisposition = "NONE"
	TaxCollected TaxDisposition = "COLLECTED"
	TaxBurned    TaxDisposition = "BURNED"
)
