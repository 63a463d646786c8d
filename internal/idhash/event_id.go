package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"token-ledger/internal/domain"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(seq|kind|actor|from|to|amount|timestamp)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	seq uint64,
	kind domain.EventKind,
	actor domain.Address,
	from domain.Address,
	to domain.Address,
	amount *domain.Amount,
	timestamp int64,
) string {
	amountStr := "0"
	if amount != nil {
		amountStr = amount.Dec()
	}

	data := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%d",
		seq,
		string(kind),
		actor.String(),
		from.String(),
		to.String(),
		amountStr,
		timestamp,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
