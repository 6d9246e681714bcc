package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"finpay-client/internal/api"
	"finpay-client/internal/vault"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingBackend struct {
	logoutCalls  int
	logoutTokens []string
	fail         bool
}

func (b *recordingBackend) Logout(ctx context.Context, token string) error {
	b.logoutCalls++
	b.logoutTokens = append(b.logoutTokens, token)
	if b.fail {
		return errors.New("server unreachable")
	}
	return nil
}

// profileFailVault fails writes of the profile key, for rollback tests.
type profileFailVault struct {
	*vault.MemoryVault
}

func (v *profileFailVault) Set(ctx context.Context, key, value string) error {
	if key == vault.KeyUserData {
		return fmt.Errorf("%w: disk full", vault.ErrUnavailable)
	}
	return v.MemoryVault.Set(ctx, key, value)
}

func testProfile() *api.UserProfile {
	return &api.UserProfile{
		ID:       "u-1",
		FullName: "John Doe",
		Email:    "user@x.com",
	}
}

func TestSignInThenSignOut(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	c := NewController(v, nil, zap.NewNop())

	require.NoError(t, c.SignIn(ctx, "tok123", testProfile()))
	require.True(t, c.IsAuthenticated())
	require.Equal(t, "tok123", c.Token())

	tok, err := v.Get(ctx, vault.KeyAuthToken)
	require.NoError(t, err)
	require.Equal(t, "tok123", tok)
	_, err = v.Get(ctx, vault.KeyUserData)
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx))
	require.False(t, c.IsAuthenticated())
	require.Nil(t, c.User())

	_, err = v.Get(ctx, vault.KeyAuthToken)
	require.ErrorIs(t, err, vault.ErrNotFound)
	_, err = v.Get(ctx, vault.KeyUserData)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestSignOutIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewController(vault.NewMemoryVault(), nil, zap.NewNop())

	require.NoError(t, c.SignIn(ctx, "tok", testProfile()))
	require.NoError(t, c.SignOut(ctx))
	require.NoError(t, c.SignOut(ctx))
	require.False(t, c.IsAuthenticated())
}

func TestSignOutSwallowsServerFailure(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{fail: true}
	c := NewController(vault.NewMemoryVault(), backend, zap.NewNop())

	require.NoError(t, c.SignIn(ctx, "tok", testProfile()))
	require.NoError(t, c.SignOut(ctx))
	require.Equal(t, 1, backend.logoutCalls)
	require.False(t, c.IsAuthenticated())
}

func TestSignOutClearsMemoryEvenWhenVaultFails(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	c := NewController(v, nil, zap.NewNop())

	require.NoError(t, c.SignIn(ctx, "tok", testProfile()))
	v.FailNext(1)
	err := c.SignOut(ctx)
	require.Error(t, err)
	require.Equal(t, api.KindStorageUnavailable, api.KindOf(err))
	// Local lock-out never fails open.
	require.False(t, c.IsAuthenticated())
}

func TestSignInRollsBackTokenOnProfileWriteFailure(t *testing.T) {
	ctx := context.Background()
	v := &profileFailVault{vault.NewMemoryVault()}
	c := NewController(v, nil, zap.NewNop())

	err := c.SignIn(ctx, "tok", testProfile())
	require.Error(t, err)
	require.Equal(t, api.KindStorageUnavailable, api.KindOf(err))
	require.False(t, c.IsAuthenticated())

	_, err = v.Get(ctx, vault.KeyAuthToken)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestRestoreWithFullSession(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	userData, _ := json.Marshal(testProfile())
	require.NoError(t, v.Set(ctx, vault.KeyAuthToken, "tok"))
	require.NoError(t, v.Set(ctx, vault.KeyUserData, string(userData)))

	c := NewController(v, nil, zap.NewNop())
	require.True(t, c.Loading())
	require.NoError(t, c.Restore(ctx))
	require.False(t, c.Loading())
	require.True(t, c.IsAuthenticated())
	require.Equal(t, "u-1", c.User().ID)
	require.Equal(t, "tok", c.Token())
}

func TestRestoreClearsHalfPresentSession(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	require.NoError(t, v.Set(ctx, vault.KeyUserData, `{"id":"u-1"}`))
	require.NoError(t, v.Set(ctx, vault.KeyMPIN, "record"))

	c := NewController(v, nil, zap.NewNop())
	require.NoError(t, c.Restore(ctx))
	require.False(t, c.IsAuthenticated())

	// Both halves (and the MPIN) are gone after the defensive clear.
	for _, key := range vault.SessionKeys() {
		_, err := v.Get(ctx, key)
		require.ErrorIs(t, err, vault.ErrNotFound, key)
	}
}

func TestRestoreClearsUnparsableProfile(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	require.NoError(t, v.Set(ctx, vault.KeyAuthToken, "tok"))
	require.NoError(t, v.Set(ctx, vault.KeyUserData, "{not json"))

	c := NewController(v, nil, zap.NewNop())
	require.NoError(t, c.Restore(ctx))
	require.False(t, c.IsAuthenticated())

	_, err := v.Get(ctx, vault.KeyAuthToken)
	require.ErrorIs(t, err, vault.ErrNotFound)
}

func TestRestoreStorageFailure(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	v.FailNext(2)

	c := NewController(v, nil, zap.NewNop())
	err := c.Restore(ctx)
	require.Error(t, err)
	require.Equal(t, api.KindStorageUnavailable, api.KindOf(err))
	require.False(t, c.IsAuthenticated())
	require.False(t, c.Loading())
}

func TestOnboardingFlagSurvivesSignOut(t *testing.T) {
	ctx := context.Background()
	v := vault.NewMemoryVault()
	c := NewController(v, nil, zap.NewNop())

	require.False(t, c.HasOpenedBefore(ctx))
	require.NoError(t, c.MarkOpened(ctx))
	require.True(t, c.HasOpenedBefore(ctx))

	require.NoError(t, c.SignIn(ctx, "tok", testProfile()))
	require.NoError(t, c.SignOut(ctx))
	require.True(t, c.HasOpenedBefore(ctx))
}
