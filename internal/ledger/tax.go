package ledger

import (
	"github.com/holiman/uint256"

	"token-ledger/internal/domain"
)

var bpDenominator = uint256.NewInt(domain.BasisPointDenominator)

// RateFor returns the basis-point rate charged for a class under policy.
// A sell pays the transfer rate plus the sell rate.
func RateFor(policy domain.TaxPolicy, class domain.Classification) uint64 {
	switch class {
	case domain.ClassRegular:
		return uint64(policy.Transfer)
	case domain.ClassSell:
		return uint64(policy.Transfer) + uint64(policy.Sell)
	case domain.ClassBuy:
		return uint64(policy.Buy)
	default:
		return 0
	}
}

// ComputeTax returns floor(amount * rate / 10000) and amount - tax.
// Flooring means amounts below 10000/rate pay no tax.
func ComputeTax(amount *domain.Amount, rateBP uint64) (tax, net *domain.Amount) {
	tax = domain.Zero()
	if rateBP > 0 && !amount.IsZero() {
		// 512-bit intermediate; the quotient never exceeds amount.
		tax.MulDivOverflow(amount, uint256.NewInt(rateBP), bpDenominator)
	}
	net = new(uint256.Int).Sub(amount, tax)
	return tax, net
}

// ValidatePolicy checks individual and compound caps.
func ValidatePolicy(p domain.TaxPolicy) error {
	if p.Transfer > MaxRateBP || p.Sell > MaxRateBP || p.Buy > MaxRateBP {
		return ErrRateTooHigh
	}
	if uint32(p.Transfer)+uint32(p.Sell) > MaxTransferSellBP {
		return ErrCombinedCapExceeded
	}
	if uint32(p.Transfer)+uint32(p.Buy) > MaxTransferBuyBP {
		return ErrCombinedCapExceeded
	}
	if uint32(p.Sell)+uint32(p.Buy) > MaxSellBuyBP {
		return ErrCombinedCapExceeded
	}
	return nil
}
