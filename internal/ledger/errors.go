package ledger

import "errors"

// Authorization failures.
var (
	// ErrUnauthorized is returned when a governance-gated operation is called
	// by anyone other than the governance identity.
	ErrUnauthorized = errors.New("caller is not governance")
)

// Validation failures.
var (
	ErrRateTooHigh         = errors.New("tax rate too high")
	ErrCombinedCapExceeded = errors.New("combined tax cap exceeded")
	ErrZeroAddress         = errors.New("zero address")
	ErrSelfAllowance       = errors.New("owner cannot be its own spender")
	ErrZeroRecipient       = errors.New("zero mint recipient")
	ErrZeroGovernance      = errors.New("zero governance")
	ErrInvalidParams       = errors.New("invalid ledger parameters")
)

// State failures.
var (
	ErrNoPendingProposal  = errors.New("no pending tax proposal")
	ErrNoPendingMint      = errors.New("no pending mint")
	ErrTimelockNotExpired = errors.New("timelock not expired")
	ErrAlreadyRegistered  = errors.New("pool already registered")
	ErrNotRegistered      = errors.New("pool not registered")
	// ErrReentrantCall is returned when an entry point is invoked while another
	// mutation is still in progress on the same ledger.
	ErrReentrantCall = errors.New("reentrant call")
)

// Resource failures.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrExceedsMaxSupply      = errors.New("exceeds max supply")
	ErrExceedsPeriodCap      = errors.New("exceeds mint period cap")
)

// Kind groups failures by cause.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindResource      Kind = "resource"
	KindUnknown       Kind = "unknown"
)

var kinds = map[error]Kind{
	ErrUnauthorized:          KindAuthorization,
	ErrRateTooHigh:           KindValidation,
	ErrCombinedCapExceeded:   KindValidation,
	ErrZeroAddress:           KindValidation,
	ErrSelfAllowance:         KindValidation,
	ErrZeroRecipient:         KindValidation,
	ErrZeroGovernance:        KindValidation,
	ErrInvalidParams:         KindValidation,
	ErrNoPendingProposal:     KindState,
	ErrNoPendingMint:         KindState,
	ErrTimelockNotExpired:    KindState,
	ErrAlreadyRegistered:     KindState,
	ErrNotRegistered:         KindState,
	ErrReentrantCall:         KindState,
	ErrInsufficientBalance:   KindResource,
	ErrInsufficientAllowance: KindResource,
	ErrExceedsMaxSupply:      KindResource,
	ErrExceedsPeriodCap:      KindResource,
}

// KindOf classifies err. Wrapped errors are unwrapped.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}
