// Package session owns the in-memory authentication state and keeps it
// consistent with the credential vault.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"finpay-client/internal/api"
	"finpay-client/internal/util"
	"finpay-client/internal/vault"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backend is the slice of the API client the controller needs: best-effort
// server-side credential invalidation on sign-out.
type Backend interface {
	Logout(ctx context.Context, token string) error
}

// Controller derives authentication state from the vault at startup and
// mutates memory and vault together on sign-in and sign-out.
type Controller struct {
	vault   vault.Vault
	backend Backend
	logger  *zap.Logger

	mu      sync.RWMutex
	user    *api.UserProfile
	token   string
	loading bool
}

// NewController creates a controller in the loading state. Call Restore before
// reading User or IsAuthenticated. backend may be nil (no server-side logout).
func NewController(v vault.Vault, backend Backend, logger *zap.Logger) *Controller {
	return &Controller{vault: v, backend: backend, logger: logger, loading: true}
}

// Restore reads the credential and profile from the vault and decides the
// session state. A half-present or unparsable session is cleared and treated
// as logged out rather than surfaced; only storage failure is an error.
func (c *Controller) Restore(ctx context.Context) error {
	var token, userData string
	var tokenAbsent, dataAbsent bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.vault.Get(gctx, vault.KeyAuthToken)
		if errors.Is(err, vault.ErrNotFound) {
			tokenAbsent = true
			return nil
		}
		token = v
		return err
	})
	g.Go(func() error {
		v, err := c.vault.Get(gctx, vault.KeyUserData)
		if errors.Is(err, vault.ErrNotFound) {
			dataAbsent = true
			return nil
		}
		userData = v
		return err
	})
	if err := g.Wait(); err != nil {
		c.setAnonymous()
		return api.WrapError(api.KindStorageUnavailable, "Could not read stored session", err)
	}

	if tokenAbsent || dataAbsent {
		if !tokenAbsent || !dataAbsent {
			c.logger.Warn("half-present session found at startup, clearing",
				util.Bool("token_present", !tokenAbsent),
				util.Bool("profile_present", !dataAbsent),
			)
		}
		c.clearStoredSession(ctx)
		c.setAnonymous()
		return nil
	}

	var profile api.UserProfile
	if err := json.Unmarshal([]byte(userData), &profile); err != nil || profile.ID == "" {
		c.logger.Warn("stored profile unparsable, clearing session", util.ErrorField(err))
		c.clearStoredSession(ctx)
		c.setAnonymous()
		return nil
	}

	c.mu.Lock()
	c.user = &profile
	c.token = token
	c.loading = false
	c.mu.Unlock()
	c.logger.Info("session restored", util.String("user_id", profile.ID))
	return nil
}

// SignIn persists the credential and profile, token first so a crash between
// the two writes never leaves a profile without a usable token. On a partial
// failure the already-written token is rolled back.
func (c *Controller) SignIn(ctx context.Context, token string, profile *api.UserProfile) error {
	if token == "" || profile == nil {
		return api.NewError(api.KindValidation, "Missing credential or profile")
	}
	userData, err := json.Marshal(profile)
	if err != nil {
		return api.WrapError(api.KindValidation, "Profile could not be serialized", err)
	}

	if err := c.vault.Set(ctx, vault.KeyAuthToken, token); err != nil {
		return api.WrapError(api.KindStorageUnavailable, "Could not store credential", err)
	}
	if err := c.vault.Set(ctx, vault.KeyUserData, string(userData)); err != nil {
		if delErr := c.vault.Delete(ctx, vault.KeyAuthToken); delErr != nil {
			c.logger.Error("failed to roll back credential after profile write failure",
				util.ErrorField(delErr))
		}
		return api.WrapError(api.KindStorageUnavailable, "Could not store profile", err)
	}

	c.mu.Lock()
	c.user = profile
	c.token = token
	c.loading = false
	c.mu.Unlock()
	c.logger.Info("signed in", util.String("user_id", profile.ID))
	return nil
}

// SignOut invalidates the credential server-side (best effort), clears the
// vault session keys, and unconditionally clears memory. Local lock-out never
// fails open, so memory is cleared even when the vault write fails. Safe to
// call when already signed out.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.user = nil
	c.token = ""
	c.loading = false
	c.mu.Unlock()

	if token != "" && c.backend != nil {
		if err := c.backend.Logout(ctx, token); err != nil {
			c.logger.Warn("server-side logout failed, continuing with local sign-out",
				util.ErrorField(err))
		}
	}

	if err := c.vault.ClearSession(ctx); err != nil {
		c.logger.Error("failed to clear vault session keys", util.ErrorField(err))
		return api.WrapError(api.KindStorageUnavailable, "Could not clear stored session", err)
	}
	return nil
}

// User returns the current profile, or nil when anonymous.
func (c *Controller) User() *api.UserProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Token returns the current credential, or empty when anonymous.
func (c *Controller) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// IsAuthenticated reports whether a user is signed in. Derived: user != nil.
func (c *Controller) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user != nil
}

// Loading reports whether Restore has not completed yet.
func (c *Controller) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// HasOpenedBefore reports whether the app has ever completed a first open.
// The flag survives sign-out.
func (c *Controller) HasOpenedBefore(ctx context.Context) bool {
	_, err := c.vault.Get(ctx, vault.KeyOnboarding)
	return err == nil
}

// MarkOpened records that onboarding has been seen.
func (c *Controller) MarkOpened(ctx context.Context) error {
	if err := c.vault.Set(ctx, vault.KeyOnboarding, "true"); err != nil {
		return api.WrapError(api.KindStorageUnavailable, "Could not store onboarding flag", err)
	}
	return nil
}

func (c *Controller) setAnonymous() {
	c.mu.Lock()
	c.user = nil
	c.token = ""
	c.loading = false
	c.mu.Unlock()
}

func (c *Controller) clearStoredSession(ctx context.Context) {
	if err := c.vault.ClearSession(ctx); err != nil {
		c.logger.Error("failed to clear inconsistent session", util.ErrorField(err))
	}
}
