package authflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"finpay-client/internal/api"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu          sync.Mutex
	loginCalls  int
	forgotCalls int
	verifyCalls int
	resendCalls int
	resetCalls  int

	loginBlock  chan struct{}
	verifyBlock chan struct{}
	entered     chan struct{}

	submitErr error
	verifyErr error
	resendErr error
	resetErr  error

	resendTokens []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{entered: make(chan struct{}, 8)}
}

func (b *fakeBackend) dispatch() *api.OTPDispatch {
	return &api.OTPDispatch{SentTo: "99999*****", Message: "OTP sent"}
}

func (b *fakeBackend) Login(ctx context.Context, login, password string) (*api.OTPDispatch, error) {
	b.mu.Lock()
	b.loginCalls++
	block := b.loginBlock
	b.mu.Unlock()
	b.entered <- struct{}{}
	if block != nil {
		<-block
	}
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return b.dispatch(), nil
}

func (b *fakeBackend) Register(ctx context.Context, req api.RegisterRequest) (*api.OTPDispatch, error) {
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return b.dispatch(), nil
}

func (b *fakeBackend) ForgotPassword(ctx context.Context, login string) (*api.OTPDispatch, error) {
	b.mu.Lock()
	b.forgotCalls++
	b.mu.Unlock()
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return b.dispatch(), nil
}

func (b *fakeBackend) VerifyOTPLogin(ctx context.Context, login, otp string) (string, *api.UserProfile, error) {
	b.mu.Lock()
	b.verifyCalls++
	block := b.verifyBlock
	b.mu.Unlock()
	b.entered <- struct{}{}
	if block != nil {
		<-block
	}
	if b.verifyErr != nil {
		return "", nil, b.verifyErr
	}
	return "tok-abc", &api.UserProfile{ID: "u-1", FullName: "Demo User"}, nil
}

func (b *fakeBackend) VerifyOTPReset(ctx context.Context, login, otp string) error {
	b.mu.Lock()
	b.verifyCalls++
	b.mu.Unlock()
	return b.verifyErr
}

func (b *fakeBackend) ResendOTP(ctx context.Context, otpType, login, token string) error {
	b.mu.Lock()
	b.resendCalls++
	b.resendTokens = append(b.resendTokens, token)
	b.mu.Unlock()
	return b.resendErr
}

func (b *fakeBackend) ResetPassword(ctx context.Context, login, otp, newPassword, confirmation string) error {
	b.mu.Lock()
	b.resetCalls++
	b.mu.Unlock()
	return b.resetErr
}

type fakeSession struct {
	mu        sync.Mutex
	token     string
	profile   *api.UserProfile
	signInErr error
	signIns   int
}

func (s *fakeSession) SignIn(ctx context.Context, token string, profile *api.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signIns++
	if s.signInErr != nil {
		return s.signInErr
	}
	s.token = token
	s.profile = profile
	return nil
}

func (s *fakeSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func newTestMachine() (*Machine, *fakeBackend, *fakeSession) {
	backend := newFakeBackend()
	session := &fakeSession{}
	m := NewMachine(backend, session, zap.NewNop())
	return m, backend, session
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newTestMachine()

	err := m.SubmitCredentials(ctx, "", "pass", PurposeLogin)
	require.Equal(t, api.KindValidation, api.KindOf(err))

	err = m.SubmitCredentials(ctx, "user@x.com", "", PurposeLogin)
	require.Equal(t, api.KindValidation, api.KindOf(err))

	require.Equal(t, 0, backend.loginCalls)
	require.Equal(t, StateIdle, m.State())
}

func TestLoginHappyPath(t *testing.T) {
	ctx := context.Background()
	m, _, session := newTestMachine()

	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin))
	require.Equal(t, StateOTPPending, m.State())

	ch := m.Challenge()
	require.NotNil(t, ch)
	require.Equal(t, "99999*****", ch.Recipient)
	require.Equal(t, PurposeLogin, ch.Purpose)
	require.Equal(t, OTPLength, ch.Length)

	require.NoError(t, m.VerifyOTP(ctx, "1234"))
	require.Equal(t, StateAuthenticated, m.State())
	require.Equal(t, "tok-abc", session.token)
	require.Equal(t, "u-1", session.profile.ID)
	require.Nil(t, m.Challenge())
}

func TestDuplicateSubmitRejectedWithOneDispatch(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newTestMachine()
	backend.loginBlock = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin)
	}()
	<-backend.entered

	err := m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin)
	require.Equal(t, api.KindInProgress, api.KindOf(err))

	close(backend.loginBlock)
	require.NoError(t, <-done)
	require.Equal(t, 1, backend.loginCalls)
	require.Equal(t, StateOTPPending, m.State())
}

func TestVerifyFormatShortCircuit(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newTestMachine()
	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin))

	for _, code := range []string{"", "12", "12345", "12a4"} {
		err := m.VerifyOTP(ctx, code)
		require.Equal(t, api.KindValidation, api.KindOf(err), code)
	}

	require.Equal(t, 0, backend.verifyCalls)
	require.NotNil(t, m.Challenge())
}

func TestVerifyRejectionKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	m, backend, session := newTestMachine()
	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin))

	backend.verifyErr = api.NewError(api.KindAuthRejected, "Invalid OTP")
	err := m.VerifyOTP(ctx, "1234")
	require.Equal(t, api.KindAuthRejected, api.KindOf(err))
	require.Equal(t, StateFailed, m.State())
	require.NotNil(t, m.Challenge())

	reason, kind := m.Failure()
	require.Equal(t, "Invalid OTP", reason)
	require.Equal(t, api.KindAuthRejected, kind)

	// Retrying from the failed state with the right code succeeds.
	backend.verifyErr = nil
	require.NoError(t, m.VerifyOTP(ctx, "1234"))
	require.Equal(t, StateAuthenticated, m.State())
	require.Equal(t, "tok-abc", session.token)
}

func TestForgotPasswordFlow(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newTestMachine()

	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "", PurposeForgot))
	require.Equal(t, StateOTPPending, m.State())
	require.Equal(t, PurposeForgot, m.Challenge().Purpose)

	require.NoError(t, m.VerifyOTP(ctx, "1234"))
	require.Equal(t, StatePasswordResetReady, m.State())
	require.Nil(t, m.Challenge())

	err := m.ResetPassword(ctx, "newpass", "different")
	require.Equal(t, api.KindValidation, api.KindOf(err))

	// A failed reset retains the verified code for a retry.
	backend.resetErr = api.NewError(api.KindAuthRejected, "Password too weak")
	err = m.ResetPassword(ctx, "newpass", "newpass")
	require.Equal(t, api.KindAuthRejected, api.KindOf(err))
	require.Equal(t, StateFailed, m.State())

	backend.resetErr = nil
	require.NoError(t, m.ResetPassword(ctx, "stronger-pass", "stronger-pass"))
	require.Equal(t, StateIdle, m.State())
	require.Equal(t, 2, backend.resetCalls)
}

func TestSignupFlow(t *testing.T) {
	ctx := context.Background()
	m, _, session := newTestMachine()

	err := m.SubmitSignup(ctx, api.RegisterRequest{Name: "A", Email: "a@x.com"})
	require.Equal(t, api.KindValidation, api.KindOf(err))

	req := api.RegisterRequest{
		Name:                 "Demo User",
		Email:                "demo@x.com",
		Phone:                "9999900000",
		Password:             "secret12",
		PasswordConfirmation: "secret12",
	}
	require.NoError(t, m.SubmitSignup(ctx, req))
	require.Equal(t, PurposeSignup, m.Challenge().Purpose)

	require.NoError(t, m.VerifyOTP(ctx, "1234"))
	require.Equal(t, StateAuthenticated, m.State())
	require.Equal(t, "tok-abc", session.token)
}

func TestResendCountdown(t *testing.T) {
	ctx := context.Background()
	m, backend, session := newTestMachine()
	session.token = "held-token"

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin))
	require.False(t, m.CanResend())
	require.Equal(t, DefaultResendWindow, m.ResendIn())

	err := m.ResendOTP(ctx)
	require.Equal(t, api.KindValidation, api.KindOf(err))
	require.Equal(t, 0, backend.resendCalls)

	// The countdown gates only the resend, never verification attempts.
	verr := m.VerifyOTP(ctx, "12a4")
	require.Equal(t, api.KindValidation, api.KindOf(verr))

	current = current.Add(61 * time.Second)
	require.True(t, m.CanResend())
	issuedBefore := m.Challenge().IssuedAt

	require.NoError(t, m.ResendOTP(ctx))
	require.Equal(t, 1, backend.resendCalls)
	require.Equal(t, []string{"held-token"}, backend.resendTokens)

	// The old challenge is replaced and the countdown restarts.
	require.True(t, m.Challenge().IssuedAt.After(issuedBefore))
	require.False(t, m.CanResend())
}

func TestResetDropsInFlightResult(t *testing.T) {
	ctx := context.Background()
	m, backend, session := newTestMachine()
	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin))
	// Drain the entered signal pushed by Login so the receive below
	// synchronizes with VerifyOTPLogin, not the completed submit.
	<-backend.entered

	backend.verifyBlock = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.VerifyOTP(ctx, "1234")
	}()
	<-backend.entered

	m.Reset()
	close(backend.verifyBlock)

	require.NoError(t, <-done)
	require.Equal(t, StateIdle, m.State())
	require.Equal(t, 0, session.signIns)
	require.Empty(t, session.token)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newTestMachine()

	err := m.VerifyOTP(ctx, "1234")
	require.Equal(t, api.KindValidation, api.KindOf(err))
	require.Equal(t, 0, backend.verifyCalls)

	err = m.ResendOTP(ctx)
	require.Equal(t, api.KindValidation, api.KindOf(err))
}

func TestSubmitFailureClearsChallenge(t *testing.T) {
	ctx := context.Background()
	m, backend, _ := newTestMachine()
	require.NoError(t, m.SubmitCredentials(ctx, "user@x.com", "pass", PurposeLogin))
	require.NotNil(t, m.Challenge())

	backend.submitErr = api.NewError(api.KindAuthRejected, "Invalid credentials")
	err := m.SubmitCredentials(ctx, "user@x.com", "wrong", PurposeLogin)
	require.Equal(t, api.KindAuthRejected, api.KindOf(err))
	require.Equal(t, StateFailed, m.State())
	require.Nil(t, m.Challenge())
}
