// Package config loads the genesis file and process environment for ledgerd.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"token-ledger/internal/domain"
	"token-ledger/internal/ledger"
)

// BurnKeyword selects burn mode for fee_recipient in a genesis file.
const BurnKeyword = "burn"

// Genesis is the JSON genesis document. Token amounts are human decimal
// strings ("1000000.5").
type Genesis struct {
	Name         string            `json:"name"`
	Symbol       string            `json:"symbol"`
	Governance   string            `json:"governance"`
	FeeRecipient string            `json:"fee_recipient"`
	Policy       *domain.TaxPolicy `json:"policy,omitempty"`
	Pools        []string          `json:"pools"`
	Allocations  []Allocation      `json:"allocations"`

	// Optional overrides of the reference parameters.
	InitialSupply string   `json:"initial_supply,omitempty"`
	MaxSupply     string   `json:"max_supply,omitempty"`
	MintPeriodCap string   `json:"mint_period_cap,omitempty"`
	MintWindow    Duration `json:"mint_window,omitempty"`
	MintDelay     Duration `json:"mint_delay,omitempty"`
	TaxDelay      Duration `json:"tax_delay,omitempty"`
}

// Allocation is one initial holder.
type Allocation struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

// Duration is a time.Duration written as a Go duration string ("24h").
type Duration struct {
	time.Duration
}

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalJSON renders the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Load reads and validates a genesis file.
func Load(path string) (*Genesis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads and validates a genesis document.
func Decode(r io.Reader) (*Genesis, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var g Genesis
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the document without building a ledger.
func (g *Genesis) Validate() error {
	if g == nil {
		return errors.New("nil genesis")
	}
	_, _, err := g.Build()
	return err
}

// Build converts the document into ledger parameters and genesis state.
func (g *Genesis) Build() (ledger.Params, ledger.Genesis, error) {
	params := ledger.DefaultParams()
	var out ledger.Genesis

	if g.Symbol == "" {
		return params, out, errors.New("genesis missing symbol")
	}

	gov, err := domain.ParseAddress(g.Governance)
	if err != nil {
		return params, out, fmt.Errorf("governance: %w", err)
	}
	out.Governance = gov

	switch strings.ToLower(strings.TrimSpace(g.FeeRecipient)) {
	case "", BurnKeyword:
		out.FeeRecipient = domain.BurnAddress
	default:
		if out.FeeRecipient, err = domain.ParseAddress(g.FeeRecipient); err != nil {
			return params, out, fmt.Errorf("fee_recipient: %w", err)
		}
	}

	out.Policy = domain.DefaultTaxPolicy()
	if g.Policy != nil {
		out.Policy = *g.Policy
	}
	if err := ledger.ValidatePolicy(out.Policy); err != nil {
		return params, out, fmt.Errorf("policy: %w", err)
	}

	for i, p := range g.Pools {
		addr, err := domain.ParseAddress(p)
		if err != nil {
			return params, out, fmt.Errorf("pools[%d]: %w", i, err)
		}
		out.Pools = append(out.Pools, addr)
	}

	if len(g.Allocations) == 0 {
		return params, out, errors.New("genesis has no allocations")
	}
	total := domain.Zero()
	for i, a := range g.Allocations {
		holder, err := domain.ParseAddress(a.Holder)
		if err != nil {
			return params, out, fmt.Errorf("allocations[%d] holder: %w", i, err)
		}
		amount, err := domain.ParseTokens(a.Amount)
		if err != nil {
			return params, out, fmt.Errorf("allocations[%d] amount: %w", i, err)
		}
		if amount.IsZero() {
			return params, out, fmt.Errorf("allocations[%d] amount is zero", i)
		}
		total.Add(total, amount)
		out.Allocations = append(out.Allocations, ledger.Allocation{Holder: holder, Amount: amount})
	}

	// Initial supply defaults to the allocation total.
	params.InitialSupply = total
	if g.InitialSupply != "" {
		if params.InitialSupply, err = domain.ParseTokens(g.InitialSupply); err != nil {
			return params, out, fmt.Errorf("initial_supply: %w", err)
		}
	}
	params.MaxSupply = ledger.MaxSupplyFor(params.InitialSupply)
	if g.MaxSupply != "" {
		if params.MaxSupply, err = domain.ParseTokens(g.MaxSupply); err != nil {
			return params, out, fmt.Errorf("max_supply: %w", err)
		}
	}
	if g.MintPeriodCap != "" {
		if params.MintPeriodCap, err = domain.ParseTokens(g.MintPeriodCap); err != nil {
			return params, out, fmt.Errorf("mint_period_cap: %w", err)
		}
	}
	if g.MintWindow.Duration != 0 {
		params.MintWindow = g.MintWindow.Duration
	}
	if g.MintDelay.Duration != 0 {
		params.MintDelay = g.MintDelay.Duration
	}
	if g.TaxDelay.Duration != 0 {
		params.TaxDelay = g.TaxDelay.Duration
	}

	if !total.Eq(params.InitialSupply) {
		return params, out, fmt.Errorf("allocations sum to %s tokens, initial_supply is %s",
			domain.FormatTokens(total), domain.FormatTokens(params.InitialSupply))
	}
	if err := params.Validate(); err != nil {
		return params, out, err
	}
	return params, out, nil
}
