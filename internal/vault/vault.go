// Package vault provides the durable, encrypted-at-rest key/value store that
// holds the credential, the serialized user profile, the MPIN record, and the
// onboarding flag. It stands in for platform secure storage.
package vault

import (
	"context"
	"errors"
)

// Well-known vault keys. No two components write the same key: the session
// controller owns the token and profile, the MPIN gate owns the MPIN record.
const (
	KeyAuthToken  = "authToken"
	KeyUserData   = "userData"
	KeyMPIN       = "user_mpin"
	KeyOnboarding = "has_opened_before"
)

var (
	// ErrNotFound is returned by Get for an absent key.
	ErrNotFound = errors.New("vault: key not found")
	// ErrUnavailable wraps any storage failure. Callers must treat it as fatal
	// to the current operation rather than pretend success.
	ErrUnavailable = errors.New("vault: storage unavailable")
)

// Vault is a scoped key/value store. Each operation is atomic for its key and
// durable across process restarts.
type Vault interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is idempotent; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// ClearSession deletes the credential, profile, and MPIN keys together.
	// The onboarding flag survives so a returning logged-out user is still
	// distinguishable from a first-ever open.
	ClearSession(ctx context.Context) error
}

// SessionKeys lists the keys removed by ClearSession.
func SessionKeys() []string {
	return []string{KeyAuthToken, KeyUserData, KeyMPIN}
}
