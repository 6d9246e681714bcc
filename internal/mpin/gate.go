// Package mpin implements the local PIN check guarding sensitive re-entry.
// No network round trip is involved; the hash record lives in the vault.
package mpin

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"finpay-client/internal/vault"

	"golang.org/x/crypto/argon2"
)

// PinLength is the required MPIN length.
const PinLength = 4

var (
	ErrInvalidPin  = errors.New("mpin must be 4 digits")
	ErrInvalidHash = errors.New("invalid mpin hash record")
)

type argon2Params struct {
	Memory      uint32 `json:"memory"`
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
	KeyLength   uint32 `json:"key_length"`
}

// hashRecord is the JSON document stored under the vault's MPIN key.
type hashRecord struct {
	Hash      string       `json:"hash"`
	Salt      string       `json:"salt"`
	Params    argon2Params `json:"params"`
	Algorithm string       `json:"algorithm"`
}

func defaultParams() argon2Params {
	return argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		KeyLength:   32,
	}
}

// Gate stores and verifies the MPIN. It counts consecutive failures for the
// caller to inspect but imposes no lockout itself.
type Gate struct {
	vault vault.Vault

	mu       sync.Mutex
	failures int
}

func NewGate(v vault.Vault) *Gate {
	return &Gate{vault: v}
}

// Setup hashes the PIN and stores the record, overwriting any previous one.
func (g *Gate) Setup(ctx context.Context, pin string) error {
	if !validPin(pin) {
		return ErrInvalidPin
	}

	params := defaultParams()
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(pin), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	record := hashRecord{
		Hash:      base64.RawURLEncoding.EncodeToString(hash),
		Salt:      base64.RawURLEncoding.EncodeToString(salt),
		Params:    params,
		Algorithm: "argon2id-v1",
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode mpin record: %w", err)
	}
	if err := g.vault.Set(ctx, vault.KeyMPIN, string(raw)); err != nil {
		return err
	}

	g.mu.Lock()
	g.failures = 0
	g.mu.Unlock()
	return nil
}

// Verify recomputes the hash and compares in constant time. A malformed pin
// counts as a failed attempt without touching the vault record.
func (g *Gate) Verify(ctx context.Context, pin string) (bool, error) {
	if !validPin(pin) {
		g.recordFailure()
		return false, nil
	}

	raw, err := g.vault.Get(ctx, vault.KeyMPIN)
	if errors.Is(err, vault.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var record hashRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	salt, err := base64.RawURLEncoding.DecodeString(record.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawURLEncoding.DecodeString(record.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	computed := argon2.IDKey([]byte(pin), salt,
		record.Params.Iterations, record.Params.Memory, record.Params.Parallelism, uint32(len(expected)))

	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		g.recordFailure()
		return false, nil
	}

	g.mu.Lock()
	g.failures = 0
	g.mu.Unlock()
	return true, nil
}

// Exists reports whether MPIN setup has occurred.
func (g *Gate) Exists(ctx context.Context) (bool, error) {
	_, err := g.vault.Get(ctx, vault.KeyMPIN)
	if errors.Is(err, vault.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the stored MPIN.
func (g *Gate) Clear(ctx context.Context) error {
	return g.vault.Delete(ctx, vault.KeyMPIN)
}

// Failures returns the consecutive failed attempts this session. The caller
// decides what to do with it (e.g. force full re-authentication at 4).
func (g *Gate) Failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

func (g *Gate) recordFailure() {
	g.mu.Lock()
	g.failures++
	g.mu.Unlock()
}

func validPin(pin string) bool {
	if len(pin) != PinLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
