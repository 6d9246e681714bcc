package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"finpay-client/internal/config"
	"finpay-client/internal/util"

	"go.uber.org/zap"
)

// Client talks to the tenant backend. Every request carries the tenant domain
// and, when configured, the device geolocation; authenticated calls carry the
// bearer token instead of the domain header (the backend treats them as
// mutually exclusive on /resend-otp).
type Client struct {
	baseURL   string
	domain    string
	latitude  string
	longitude string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a backend client with a bounded per-request timeout.
func NewClient(cfg config.ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		domain:    cfg.Domain,
		latitude:  cfg.Latitude,
		longitude: cfg.Longitude,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// Login submits credentials and returns where the OTP was dispatched.
func (c *Client) Login(ctx context.Context, login, password string) (*OTPDispatch, error) {
	var resp otpSentResponse
	if err := c.post(ctx, "/login", loginRequest{Login: login, Password: password}, c.tenantHeaders(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	sentTo := resp.Data.OTPSentTo
	if sentTo == "" {
		sentTo = login
	}
	return &OTPDispatch{SentTo: sentTo, Message: resp.Message}, nil
}

// Register submits a signup request; the backend dispatches an OTP to the
// registered contact on success.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*OTPDispatch, error) {
	var resp otpSentResponse
	if err := c.post(ctx, "/register", req, c.tenantHeaders(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	sentTo := resp.Data.OTPSentTo
	if sentTo == "" {
		sentTo = req.Phone
	}
	return &OTPDispatch{SentTo: sentTo, Message: resp.Message}, nil
}

// ForgotPassword requests a password-reset OTP.
func (c *Client) ForgotPassword(ctx context.Context, login string) (*OTPDispatch, error) {
	var resp otpSentResponse
	if err := c.post(ctx, "/forgot-password", forgotPasswordRequest{Login: login}, c.tenantHeaders(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	sentTo := resp.Data.OTPSentTo
	if sentTo == "" {
		sentTo = login
	}
	return &OTPDispatch{SentTo: sentTo, Message: resp.Message}, nil
}

// VerifyOTPLogin verifies a login or signup OTP and returns the issued
// credential and profile. Login and signup share this endpoint.
func (c *Client) VerifyOTPLogin(ctx context.Context, login, otp string) (string, *UserProfile, error) {
	var resp verifyLoginResponse
	if err := c.post(ctx, "/verify-otp-login", verifyOTPRequest{Login: login, OTP: otp}, c.tenantHeaders(), &resp); err != nil {
		return "", nil, err
	}
	if !resp.Success {
		return "", nil, NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	if resp.Data.AccessToken == "" || resp.Data.User == nil {
		return "", nil, NewError(KindNetwork, "Server response was incomplete")
	}
	return resp.Data.AccessToken, resp.Data.User, nil
}

// VerifyOTPReset verifies a password-reset OTP. No credential is issued; the
// backend only marks the code as usable for /reset-password.
func (c *Client) VerifyOTPReset(ctx context.Context, login, otp string) error {
	var resp basicResponse
	if err := c.post(ctx, "/verify-otp", verifyOTPRequest{Login: login, OTP: otp}, c.tenantHeaders(), &resp); err != nil {
		return err
	}
	if !resp.Success {
		return NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	return nil
}

// ResendOTP asks the backend to dispatch a fresh code. When a credential is
// already held (re-authentication flows) the call is Authorization-bearing and
// the domain header is omitted.
func (c *Client) ResendOTP(ctx context.Context, otpType, login, token string) error {
	headers := c.tenantHeaders()
	if token != "" {
		headers = map[string]string{"Authorization": "Bearer " + token}
	}
	var resp basicResponse
	if err := c.post(ctx, "/resend-otp", resendOTPRequest{Type: otpType, Login: login}, headers, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	return nil
}

// ResetPassword finalizes a password reset with a previously verified OTP.
func (c *Client) ResetPassword(ctx context.Context, login, otp, newPassword, confirmation string) error {
	req := resetPasswordRequest{
		Login:                   login,
		OTP:                     otp,
		NewPassword:             newPassword,
		NewPasswordConfirmation: confirmation,
	}
	var resp basicResponse
	if err := c.post(ctx, "/reset-password", req, c.tenantHeaders(), &resp); err != nil {
		return err
	}
	if !resp.Success {
		return NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	return nil
}

// Logout invalidates the credential server-side. Best effort: callers are
// expected to clear local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context, token string) error {
	headers := c.tenantHeaders()
	headers["Authorization"] = "Bearer " + token
	var resp basicResponse
	if err := c.post(ctx, "/logout", nil, headers, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return NewError(KindAuthRejected, serverMessage(resp.Message))
	}
	return nil
}

// KYCStatus fetches the raw KYC status payload. Idempotent, so a transport
// failure is retried once before giving up.
func (c *Client) KYCStatus(ctx context.Context, token string) (*KYCStatusResponse, error) {
	headers := map[string]string{"Authorization": "Bearer " + token}
	if c.latitude != "" {
		headers["latitude"] = c.latitude
	}
	if c.longitude != "" {
		headers["longitude"] = c.longitude
	}

	var resp KYCStatusResponse
	err := c.do(ctx, http.MethodGet, "/kyc/status", nil, headers, &resp)
	if err != nil && KindOf(err) == KindNetwork {
		c.logger.Debug("retrying KYC status fetch", util.ErrorField(err))
		err = c.do(ctx, http.MethodGet, "/kyc/status", nil, headers, &resp)
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) tenantHeaders() map[string]string {
	headers := map[string]string{"domain": c.domain}
	if c.latitude != "" {
		headers["latitude"] = c.latitude
	}
	if c.longitude != "" {
		headers["longitude"] = c.longitude
	}
	return headers
}

func (c *Client) post(ctx context.Context, endpoint string, body interface{}, headers map[string]string, out interface{}) error {
	return c.do(ctx, http.MethodPost, endpoint, body, headers, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return WrapError(KindNetwork, "Failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return WrapError(KindNetwork, "Failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			util.String("endpoint", endpoint),
			util.ErrorField(err),
		)
		return WrapError(KindNetwork, "Could not reach the server", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return WrapError(KindNetwork, "Could not read the server response", err)
	}

	c.logger.Debug("backend request",
		util.String("method", method),
		util.String("endpoint", endpoint),
		util.Int("status", resp.StatusCode),
		util.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		var failure basicResponse
		if jsonErr := json.Unmarshal(raw, &failure); jsonErr == nil && failure.Message != "" && resp.StatusCode < 500 {
			return NewError(KindAuthRejected, failure.Message)
		}
		return NewError(KindNetwork, fmt.Sprintf("Server returned status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return WrapError(KindNetwork, "Server response was malformed", err)
	}
	return nil
}

func serverMessage(message string) string {
	if message == "" {
		return "Request was rejected by the server"
	}
	return message
}
