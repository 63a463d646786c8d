package ledger

import (
	"fmt"
	"time"

	"token-ledger/internal/domain"
)

// Reference policy constants.
const (
	MaxRateBP            = 500  // 5% per individual rate
	MaxTransferSellBP    = 800  // transfer + sell
	MaxTransferBuyBP     = 1000 // transfer + buy
	MaxSellBuyBP         = 1000 // sell + buy
	DefaultTaxDelay      = 24 * time.Hour
	DefaultMintDelay     = 7 * 24 * time.Hour
	DefaultMintWindow    = 30 * 24 * time.Hour
	DefaultInitialTokens = 1_000_000_000
	DefaultPeriodTokens  = 100_000_000
	MaxSupplyMultiplier  = 10
)

// Params are the fixed economic parameters of a ledger. They are set once at
// construction and never changed by governance.
type Params struct {
	InitialSupply *domain.Amount // genesis issuance
	MaxSupply     *domain.Amount // absolute cap on total supply
	MintPeriodCap *domain.Amount // max minted per window
	MintWindow    time.Duration
	MintDelay     time.Duration
	TaxDelay      time.Duration
}

// DefaultParams returns the reference parameters: 1B initial tokens, a 10B cap,
// 100M per 30-day window, 7-day mint delay and 24h tax delay.
func DefaultParams() Params {
	initial := domain.Tokens(DefaultInitialTokens)
	return Params{
		InitialSupply: initial,
		MaxSupply:     MaxSupplyFor(initial),
		MintPeriodCap: domain.Tokens(DefaultPeriodTokens),
		MintWindow:    DefaultMintWindow,
		MintDelay:     DefaultMintDelay,
		TaxDelay:      DefaultTaxDelay,
	}
}

// MaxSupplyFor returns MaxSupplyMultiplier times the initial issuance.
func MaxSupplyFor(initial *domain.Amount) *domain.Amount {
	m := domain.BaseUnits(MaxSupplyMultiplier)
	return m.Mul(m, initial)
}

// Validate checks parameter consistency.
func (p Params) Validate() error {
	if p.InitialSupply == nil || p.MaxSupply == nil || p.MintPeriodCap == nil {
		return fmt.Errorf("%w: supply parameters must be set", ErrInvalidParams)
	}
	if p.InitialSupply.Gt(p.MaxSupply) {
		return fmt.Errorf("%w: initial supply %s exceeds max supply %s",
			ErrInvalidParams, p.InitialSupply.Dec(), p.MaxSupply.Dec())
	}
	if p.MintWindow <= 0 {
		return fmt.Errorf("%w: mint window must be positive", ErrInvalidParams)
	}
	if p.MintDelay < 0 || p.TaxDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidParams)
	}
	return nil
}
