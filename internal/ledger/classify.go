package ledger

import "token-ledger/internal/domain"

// Classify returns the counterparty class of a transfer from its endpoints'
// pool membership. Membership must be read fresh for every call.
func Classify(fromIsPool, toIsPool bool) domain.Classification {
	switch {
	case fromIsPool && toIsPool:
		return domain.ClassPoolToPool
	case fromIsPool:
		return domain.ClassBuy
	case toIsPool:
		return domain.ClassSell
	default:
		return domain.ClassRegular
	}
}
