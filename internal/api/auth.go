package api

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"token-ledger/internal/domain"
)

// Write requests carry the caller and a signature over the raw request body.
const (
	HeaderCaller    = "X-Ledger-Caller"
	HeaderSignature = "X-Ledger-Signature"
)

// DefaultMaxSkew bounds how far issuedAt may drift from the server clock.
const DefaultMaxSkew = 2 * time.Minute

// Authentication failures.
var (
	ErrMissingCredentials = errors.New("missing caller or signature header")
	ErrCallerOffCurve     = errors.New("caller is not a signing key")
	ErrBadSignature       = errors.New("signature does not match caller")
	ErrStaleRequest       = errors.New("issuedAt outside allowed skew")
	ErrReplayedRequest    = errors.New("request already processed")
)

// Verifier authenticates signed write requests. Each signature is accepted
// once while its issuedAt is inside the skew window.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]int64 // signature -> expiry, unix ms
}

// NewVerifier creates a verifier. Zero maxSkew uses DefaultMaxSkew and nil now
// uses time.Now.
func NewVerifier(maxSkew time.Duration, now func() time.Time) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		maxSkew: maxSkew,
		now:     now,
		seen:    make(map[string]int64),
	}
}

// Verify checks the caller and signature headers against body and returns
// the authenticated caller.
func (v *Verifier) Verify(h http.Header, body []byte, issuedAt int64) (domain.Address, error) {
	callerText := h.Get(HeaderCaller)
	sigText := h.Get(HeaderSignature)
	if callerText == "" || sigText == "" {
		return domain.ZeroAddress, ErrMissingCredentials
	}

	caller, err := domain.ParseAddress(callerText)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	if !caller.IsOnCurve() {
		return domain.ZeroAddress, fmt.Errorf("%w: %s", ErrCallerOffCurve, caller)
	}

	sig, err := base58.Decode(sigText)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return domain.ZeroAddress, ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(caller[:]), body, sig) {
		return domain.ZeroAddress, ErrBadSignature
	}

	now := v.now().UnixMilli()
	skew := v.maxSkew.Milliseconds()
	if issuedAt < now-skew || issuedAt > now+skew {
		return domain.ZeroAddress, fmt.Errorf("%w: issuedAt=%d now=%d", ErrStaleRequest, issuedAt, now)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for s, expiry := range v.seen {
		if expiry < now {
			delete(v.seen, s)
		}
	}
	if _, ok := v.seen[sigText]; ok {
		return domain.ZeroAddress, ErrReplayedRequest
	}
	v.seen[sigText] = issuedAt + skew
	return caller, nil
}

// Sign returns the base58 signature headers for body.
func Sign(key ed25519.PrivateKey, body []byte) (caller, signature string) {
	pub := key.Public().(ed25519.PublicKey)
	return base58.Encode(pub), base58.Encode(ed25519.Sign(key, body))
}
