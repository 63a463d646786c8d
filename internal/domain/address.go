package domain

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// AddressLength is the size of an account key in bytes.
const AddressLength = 32

// Address identifies an account. Rendered as base58 like a Solana public key.
type Address [AddressLength]byte

// ZeroAddress is the null identifier. It is reserved for mint/burn accounting
// and is never a valid counterparty for an ordinary transfer.
var ZeroAddress Address

// LedgerProgramID namespaces derived addresses owned by the ledger itself.
var LedgerProgramID = Address(sha256.Sum256([]byte("token-ledger/program")))

// BurnAddress is the fee-recipient sentinel meaning "destroy collected tax".
// It is derived off-curve, so no private key can ever control it.
var BurnAddress = mustDeriveAddress([][]byte{[]byte("burn")}, LedgerProgramID)

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	if s == "" {
		return a, fmt.Errorf("empty address")
	}
	decoded, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(decoded) != AddressLength {
		return a, fmt.Errorf("address %q has %d bytes, want %d", s, len(decoded), AddressLength)
	}
	copy(a[:], decoded)
	return a, nil
}

// MustParseAddress is ParseAddress that panics on error. For constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromBytes copies a 32-byte key into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("address has %d bytes, want %d", len(b), AddressLength)
	}
	copy(a[:], b)
	return a, nil
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the null identifier.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// IsBurn reports whether a selects burn mode when used as fee recipient.
// The null identifier is treated the same as the burn sentinel.
func (a Address) IsBurn() bool {
	return a == BurnAddress || a.IsZero()
}

// IsOnCurve reports whether a is a valid ed25519 public key, i.e. an account
// some private key can sign for.
func (a Address) IsOnCurve() bool {
	return isOnCurve(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DeriveAddress derives a program-owned address from seeds. It searches bump
// seeds from 255 down and returns the first hash that is not a point on the
// ed25519 curve, together with the bump used.
func DeriveAddress(seeds [][]byte, programID Address) (Address, byte, error) {
	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 64)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programID[:]...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return Address(hash), bump, nil
		}
	}
	return ZeroAddress, 0, fmt.Errorf("no off-curve address for seeds")
}

func mustDeriveAddress(seeds [][]byte, programID Address) Address {
	a, _, err := DeriveAddress(seeds, programID)
	if err != nil {
		panic(err)
	}
	return a
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
