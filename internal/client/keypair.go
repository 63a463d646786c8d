package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"token-ledger/internal/domain"
)

// GenerateKeypair returns a new random signing key.
func GenerateKeypair() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// LoadKeypair reads a keypair file: a JSON array of the 64 key bytes, seed
// followed by public key.
func LoadKeypair(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair %s: expected %d bytes, got %d", path, ed25519.PrivateKeySize, len(ints))
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}

	key := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !key.Equal(ed25519.PrivateKey(raw)) {
		return nil, fmt.Errorf("keypair %s: public key does not match seed", path)
	}
	return key, nil
}

// SaveKeypair writes key in the LoadKeypair format with owner-only
// permissions.
func SaveKeypair(path string, key ed25519.PrivateKey) error {
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	return nil
}

// AddressOf returns the ledger address of key.
func AddressOf(key ed25519.PrivateKey) domain.Address {
	var a domain.Address
	copy(a[:], key.Public().(ed25519.PublicKey))
	return a
}
