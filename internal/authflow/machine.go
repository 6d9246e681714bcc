// Package authflow drives the multi-step verification flow: credential
// submission, OTP dispatch, OTP verification, and the purpose-specific
// terminal states.
package authflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"finpay-client/internal/api"
	"finpay-client/internal/util"

	"go.uber.org/zap"
)

// State is the machine's observable position in the flow.
type State string

const (
	StateIdle                  State = "idle"
	StateSubmittingCredentials State = "submitting_credentials"
	StateOTPPending            State = "otp_pending"
	StateVerifying             State = "verifying"
	StateAuthenticated         State = "authenticated"
	StatePasswordResetReady    State = "password_reset_ready"
	StateFailed                State = "failed"
)

// Purpose selects which backend endpoints and post-verification transition
// apply.
type Purpose string

const (
	PurposeLogin  Purpose = "login"
	PurposeSignup Purpose = "signup"
	PurposeForgot Purpose = "forgot"
)

// OTPLength is the fixed code length the backend dispatches.
const OTPLength = 4

// DefaultResendWindow is the countdown gating the resend action. It never
// gates verification attempts; expiry of the code itself is server-enforced.
const DefaultResendWindow = 60 * time.Second

// Challenge is the active OTP verification context. It is never persisted and
// at most one exists per machine.
type Challenge struct {
	Recipient string
	Purpose   Purpose
	IssuedAt  time.Time
	Length    int
}

// Backend is the slice of the API client the machine drives.
type Backend interface {
	Login(ctx context.Context, login, password string) (*api.OTPDispatch, error)
	Register(ctx context.Context, req api.RegisterRequest) (*api.OTPDispatch, error)
	ForgotPassword(ctx context.Context, login string) (*api.OTPDispatch, error)
	VerifyOTPLogin(ctx context.Context, login, otp string) (string, *api.UserProfile, error)
	VerifyOTPReset(ctx context.Context, login, otp string) error
	ResendOTP(ctx context.Context, otpType, login, token string) error
	ResetPassword(ctx context.Context, login, otp, newPassword, confirmation string) error
}

// SessionWriter is the slice of the session controller the machine writes
// into on successful login/signup verification.
type SessionWriter interface {
	SignIn(ctx context.Context, token string, profile *api.UserProfile) error
	Token() string
}

// Machine is the login/OTP state machine. All transitions happen under the
// mutex; network calls happen outside it, and their results are applied only
// if the machine has not moved on in the meantime (generation check), so a
// stale response after the user abandoned the flow is dropped.
type Machine struct {
	backend Backend
	session SessionWriter
	logger  *zap.Logger

	now          func() time.Time
	resendWindow time.Duration

	mu           sync.Mutex
	state        State
	inflight     bool
	gen          uint64
	purpose      Purpose
	identifier   string
	challenge    *Challenge
	verifiedCode string
	resendAt     time.Time
	failReason   string
	failKind     api.Kind
}

// NewMachine creates an idle machine.
func NewMachine(backend Backend, session SessionWriter, logger *zap.Logger) *Machine {
	return &Machine{
		backend:      backend,
		session:      session,
		logger:       logger,
		now:          time.Now,
		resendWindow: DefaultResendWindow,
		state:        StateIdle,
	}
}

// SubmitCredentials starts a login or forgot-password flow. For login the
// secret is the password; for forgot it is ignored. A second call while one is
// in flight is rejected, not queued: double-taps must not dispatch two OTPs.
func (m *Machine) SubmitCredentials(ctx context.Context, identifier, secret string, purpose Purpose) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return api.NewError(api.KindValidation, "Please enter your email or phone")
	}
	if purpose == PurposeLogin && strings.TrimSpace(secret) == "" {
		return api.NewError(api.KindValidation, "Please enter your password")
	}
	if purpose != PurposeLogin && purpose != PurposeForgot {
		return api.NewError(api.KindValidation, "Unsupported flow")
	}

	gen, err := m.beginSubmit(identifier, purpose)
	if err != nil {
		return err
	}

	var dispatch *api.OTPDispatch
	if purpose == PurposeLogin {
		dispatch, err = m.backend.Login(ctx, identifier, secret)
	} else {
		dispatch, err = m.backend.ForgotPassword(ctx, identifier)
	}
	return m.finishSubmit(gen, purpose, dispatch, err)
}

// SubmitSignup starts a signup flow.
func (m *Machine) SubmitSignup(ctx context.Context, req api.RegisterRequest) error {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" ||
		strings.TrimSpace(req.Phone) == "" || req.Password == "" {
		return api.NewError(api.KindValidation, "Please fill all fields")
	}
	if req.Password != req.PasswordConfirmation {
		return api.NewError(api.KindValidation, "Passwords do not match")
	}

	identifier := req.Phone
	gen, err := m.beginSubmit(identifier, PurposeSignup)
	if err != nil {
		return err
	}

	dispatch, err := m.backend.Register(ctx, req)
	return m.finishSubmit(gen, PurposeSignup, dispatch, err)
}

func (m *Machine) beginSubmit(identifier string, purpose Purpose) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight {
		return 0, api.NewError(api.KindInProgress, "A request is already in progress")
	}
	// Any previously active challenge is discarded before dispatching a new
	// one: at most one challenge exists per flow.
	m.challenge = nil
	m.verifiedCode = ""
	m.state = StateSubmittingCredentials
	m.purpose = purpose
	m.identifier = identifier
	m.inflight = true
	m.gen++
	return m.gen, nil
}

func (m *Machine) finishSubmit(gen uint64, purpose Purpose, dispatch *api.OTPDispatch, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// Superseded while in flight; drop the result.
		return nil
	}
	m.inflight = false

	if err != nil {
		m.fail(err)
		return err
	}

	m.challenge = &Challenge{
		Recipient: dispatch.SentTo,
		Purpose:   purpose,
		IssuedAt:  m.now(),
		Length:    OTPLength,
	}
	m.resendAt = m.now().Add(m.resendWindow)
	m.state = StateOTPPending
	m.logger.Info("otp dispatched",
		util.String("purpose", string(purpose)),
		util.String("sent_to", dispatch.SentTo),
	)
	return nil
}

// VerifyOTP verifies the code for the active challenge. A code of the wrong
// shape fails locally without a network call and leaves the challenge active.
// After a server rejection the challenge also stays valid, so the user may
// retry the code up to the server's own rate limiting.
func (m *Machine) VerifyOTP(ctx context.Context, code string) error {
	m.mu.Lock()
	if m.challenge == nil || (m.state != StateOTPPending && m.state != StateFailed) {
		m.mu.Unlock()
		return api.NewError(api.KindValidation, "No verification in progress")
	}
	if m.inflight {
		m.mu.Unlock()
		return api.NewError(api.KindInProgress, "A request is already in progress")
	}
	if len(code) != m.challenge.Length || !allDigits(code) {
		m.mu.Unlock()
		return api.NewError(api.KindValidation, "Enter the 4-digit code")
	}
	purpose := m.challenge.Purpose
	identifier := m.identifier
	m.state = StateVerifying
	m.inflight = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if purpose == PurposeForgot {
		err := m.backend.VerifyOTPReset(ctx, identifier, code)
		return m.finishForgotVerify(gen, code, err)
	}

	token, profile, err := m.backend.VerifyOTPLogin(ctx, identifier, code)
	if err != nil {
		return m.finishLoginVerify(gen, err)
	}

	// Apply the result only if the user has not abandoned the flow while the
	// request was in flight; a stale credential must never reach the vault.
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	err = m.session.SignIn(ctx, token, profile)
	return m.finishLoginVerify(gen, err)
}

func (m *Machine) finishLoginVerify(gen uint64, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	m.inflight = false

	if err != nil {
		// Challenge survives a rejected code so the user can retry without a
		// full resend.
		m.fail(err)
		return err
	}

	m.challenge = nil
	m.state = StateAuthenticated
	m.logger.Info("otp verified, session established", util.String("purpose", string(m.purpose)))
	return nil
}

func (m *Machine) finishForgotVerify(gen uint64, code string, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	m.inflight = false

	if err != nil {
		m.fail(err)
		return err
	}

	m.challenge = nil
	m.verifiedCode = code
	m.state = StatePasswordResetReady
	m.logger.Info("otp verified for password reset")
	return nil
}

// ResendOTP dispatches a fresh code once the countdown has elapsed. The call
// is Authorization-bearing when a credential is already held; the previous
// challenge is replaced regardless of its server-side expiry.
func (m *Machine) ResendOTP(ctx context.Context) error {
	m.mu.Lock()
	if m.challenge == nil || (m.state != StateOTPPending && m.state != StateFailed) {
		m.mu.Unlock()
		return api.NewError(api.KindValidation, "No verification in progress")
	}
	if m.inflight {
		m.mu.Unlock()
		return api.NewError(api.KindInProgress, "A request is already in progress")
	}
	if m.now().Before(m.resendAt) {
		m.mu.Unlock()
		return api.NewError(api.KindValidation, "Please wait before requesting a new code")
	}
	purpose := m.challenge.Purpose
	recipient := m.challenge.Recipient
	identifier := m.identifier
	m.inflight = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	err := m.backend.ResendOTP(ctx, string(purpose), identifier, m.session.Token())

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	m.inflight = false

	if err != nil {
		m.fail(err)
		return err
	}

	m.challenge = &Challenge{
		Recipient: recipient,
		Purpose:   purpose,
		IssuedAt:  m.now(),
		Length:    OTPLength,
	}
	m.resendAt = m.now().Add(m.resendWindow)
	m.state = StateOTPPending
	m.logger.Info("otp resent", util.String("purpose", string(purpose)))
	return nil
}

// ResetPassword finalizes a forgot-password flow with the verified code. On
// failure the reset data is retained so the user can correct and resubmit
// without re-verifying the OTP.
func (m *Machine) ResetPassword(ctx context.Context, newSecret, confirmSecret string) error {
	if newSecret == "" || confirmSecret == "" {
		return api.NewError(api.KindValidation, "Please enter the new password twice")
	}
	if newSecret != confirmSecret {
		return api.NewError(api.KindValidation, "Passwords do not match")
	}

	m.mu.Lock()
	if m.verifiedCode == "" || (m.state != StatePasswordResetReady && m.state != StateFailed) {
		m.mu.Unlock()
		return api.NewError(api.KindValidation, "No verified reset in progress")
	}
	if m.inflight {
		m.mu.Unlock()
		return api.NewError(api.KindInProgress, "A request is already in progress")
	}
	identifier := m.identifier
	code := m.verifiedCode
	m.inflight = true
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	err := m.backend.ResetPassword(ctx, identifier, code, newSecret, confirmSecret)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil
	}
	m.inflight = false

	if err != nil {
		m.fail(err)
		return err
	}

	m.verifiedCode = ""
	m.identifier = ""
	m.state = StateIdle
	m.logger.Info("password reset completed")
	return nil
}

// SetResendWindow overrides the resend countdown. Zero disables the gate
// entirely; the backend still rate limits on its side.
func (m *Machine) SetResendWindow(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resendWindow = d
}

// Reset returns the machine to idle, destroying any active challenge. Results
// of requests still in flight are dropped when they land.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.inflight = false
	m.gen++
	m.challenge = nil
	m.verifiedCode = ""
	m.identifier = ""
	m.failReason = ""
	m.failKind = ""
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Challenge returns a copy of the active challenge, or nil.
func (m *Machine) Challenge() *Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return nil
	}
	ch := *m.challenge
	return &ch
}

// CanResend reports whether the resend countdown has elapsed.
func (m *Machine) CanResend() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenge != nil && !m.now().Before(m.resendAt)
}

// ResendIn returns the time remaining on the resend countdown.
func (m *Machine) ResendIn() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return 0
	}
	remaining := m.resendAt.Sub(m.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Failure returns the reason and kind of the last failure, valid in
// StateFailed.
func (m *Machine) Failure() (string, api.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failReason, m.failKind
}

// fail must be called with the mutex held.
func (m *Machine) fail(err error) {
	m.state = StateFailed
	m.failReason = api.MessageOf(err)
	m.failKind = api.KindOf(err)
	m.logger.Warn("flow failed",
		util.String("purpose", string(m.purpose)),
		util.String("kind", string(m.failKind)),
		util.String("reason", m.failReason),
	)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
