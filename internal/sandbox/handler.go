package sandbox

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"finpay-client/internal/config"
	"finpay-client/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxOTPAttempts = 5

// Handler implements the tenant backend's auth endpoints for development.
type Handler struct {
	users  *UserDirectory
	otps   *OTPStore
	tokens *TokenIssuer
	cfg    config.SandboxConfig
	logger *zap.Logger
}

func NewHandler(users *UserDirectory, otps *OTPStore, tokens *TokenIssuer, cfg config.SandboxConfig, logger *zap.Logger) *Handler {
	return &Handler{users: users, otps: otps, tokens: tokens, cfg: cfg, logger: logger}
}

// Response is the fixed JSON envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(message string) Response {
	return Response{Success: false, Message: message}
}

// RegisterRoutes mounts the auth contract.
func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Post("/login", h.Login)
	router.Post("/register", h.Register)
	router.Post("/forgot-password", h.ForgotPassword)
	router.Post("/verify-otp-login", h.VerifyOTPLogin)
	router.Post("/verify-otp", h.VerifyOTPReset)
	router.Post("/resend-otp", h.ResendOTP)
	router.Post("/reset-password", h.ResetPassword)
	router.Post("/logout", h.Logout)
	router.Get("/kyc/status", h.KYCStatus)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("Invalid request body"))
		return
	}
	if r.Header.Get("domain") == "" {
		h.respond(w, http.StatusBadRequest, errorResponse("Missing tenant domain"))
		return
	}

	user, err := h.users.FindByLogin(req.Login)
	if err != nil || !CheckPassword(user.PasswordHash, req.Password) {
		h.respond(w, http.StatusUnauthorized, errorResponse("Invalid credentials"))
		return
	}

	if err := h.dispatchOTP(r.Context(), req.Login); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not dispatch OTP"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(
		map[string]string{"otp_sent_to": maskRecipient(user.Phone)},
		"OTP sent",
	))
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name                 string `json:"name"`
		Email                string `json:"email"`
		Phone                string `json:"phone"`
		Role                 string `json:"role"`
		Password             string `json:"password"`
		PasswordConfirmation string `json:"password_confirmation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("Invalid request body"))
		return
	}
	if req.Name == "" || req.Email == "" || req.Phone == "" || req.Password == "" {
		h.respond(w, http.StatusBadRequest, errorResponse("Missing required fields"))
		return
	}
	if req.Password != req.PasswordConfirmation {
		h.respond(w, http.StatusBadRequest, errorResponse("Passwords do not match"))
		return
	}

	if _, err := h.users.Create(req.Name, req.Email, req.Phone, req.Role, req.Password); err != nil {
		if errors.Is(err, ErrUserExists) {
			h.respond(w, http.StatusConflict, errorResponse("Account already exists"))
			return
		}
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not create account"))
		return
	}

	if err := h.dispatchOTP(r.Context(), req.Phone); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not dispatch OTP"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(
		map[string]string{"otp_sent_to": maskRecipient(req.Phone)},
		"OTP sent",
	))
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("Invalid request body"))
		return
	}

	user, err := h.users.FindByLogin(req.Login)
	if err != nil {
		h.respond(w, http.StatusNotFound, errorResponse("Account not found"))
		return
	}

	if err := h.dispatchOTP(r.Context(), req.Login); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not dispatch OTP"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(
		map[string]string{"otp_sent_to": maskRecipient(user.Phone)},
		"OTP sent",
	))
}

func (h *Handler) VerifyOTPLogin(w http.ResponseWriter, r *http.Request) {
	login, ok := h.verifyCode(w, r)
	if !ok {
		return
	}

	if err := h.otps.ConsumeOTP(r.Context(), login); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Verification failed"))
		return
	}
	user, err := h.users.FindByLogin(login)
	if err != nil {
		h.respond(w, http.StatusUnauthorized, errorResponse("Account not found"))
		return
	}
	token, err := h.tokens.Issue(user.ID, uuid.New().String())
	if err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not issue token"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(map[string]interface{}{
		"access_token": token,
		"user":         user.Profile(),
	}, "Login successful"))
}

func (h *Handler) VerifyOTPReset(w http.ResponseWriter, r *http.Request) {
	login, ok := h.verifyCode(w, r)
	if !ok {
		return
	}

	// The code is kept; /reset-password presents it again.
	if err := h.otps.MarkVerified(r.Context(), login); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Verification failed"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(nil, "OTP verified"))
}

// verifyCode handles the shared decode-and-check half of both verification
// endpoints. It writes the error response itself when returning ok=false.
func (h *Handler) verifyCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Login string `json:"login"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("Invalid request body"))
		return "", false
	}

	match, err := h.otps.CheckOTP(r.Context(), req.Login, req.OTP)
	if errors.Is(err, ErrNoOTP) {
		h.respond(w, http.StatusUnauthorized, errorResponse("OTP expired, request a new one"))
		return "", false
	}
	if err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Verification failed"))
		return "", false
	}
	if !match {
		attempts, err := h.otps.IncrementAttempts(r.Context(), req.Login)
		if err == nil && attempts >= maxOTPAttempts {
			if err := h.otps.ConsumeOTP(r.Context(), req.Login); err != nil {
				h.logger.Warn("failed to discard OTP after max attempts", util.ErrorField(err))
			}
			h.respond(w, http.StatusUnauthorized, errorResponse("Too many attempts, request a new OTP"))
			return "", false
		}
		h.respond(w, http.StatusUnauthorized, errorResponse("Invalid OTP"))
		return "", false
	}
	return req.Login, true
}

func (h *Handler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type  string `json:"type"`
		Login string `json:"login"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("Invalid request body"))
		return
	}

	// Authorization-bearing when a credential exists, domain-bearing
	// otherwise; never both.
	if token := bearerToken(r); token != "" {
		if _, err := h.tokens.Verify(token); err != nil {
			h.respond(w, http.StatusUnauthorized, errorResponse("Invalid token"))
			return
		}
	} else if r.Header.Get("domain") == "" {
		h.respond(w, http.StatusBadRequest, errorResponse("Missing tenant domain"))
		return
	}

	allowed, err := h.otps.AllowResend(r.Context(), req.Login, h.cfg.ResendWindow, h.cfg.ResendPerWindow)
	if err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not dispatch OTP"))
		return
	}
	if !allowed {
		h.respond(w, http.StatusTooManyRequests, errorResponse("Too many OTP requests, try again later"))
		return
	}

	if err := h.dispatchOTP(r.Context(), req.Login); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not dispatch OTP"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(nil, "OTP resent"))
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login                   string `json:"login"`
		OTP                     string `json:"otp"`
		NewPassword             string `json:"new_password"`
		NewPasswordConfirmation string `json:"new_password_confirmation"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("Invalid request body"))
		return
	}
	if req.NewPassword == "" || req.NewPassword != req.NewPasswordConfirmation {
		h.respond(w, http.StatusBadRequest, errorResponse("Passwords do not match"))
		return
	}

	verified, err := h.otps.IsVerified(r.Context(), req.Login)
	if err != nil || !verified {
		h.respond(w, http.StatusUnauthorized, errorResponse("OTP not verified"))
		return
	}
	match, err := h.otps.CheckOTP(r.Context(), req.Login, req.OTP)
	if err != nil || !match {
		h.respond(w, http.StatusUnauthorized, errorResponse("Invalid OTP"))
		return
	}

	user, err := h.users.FindByLogin(req.Login)
	if err != nil {
		h.respond(w, http.StatusNotFound, errorResponse("Account not found"))
		return
	}
	if err := h.users.UpdatePassword(user.ID, req.NewPassword); err != nil {
		h.respond(w, http.StatusInternalServerError, errorResponse("Could not update password"))
		return
	}
	if err := h.otps.ConsumeOTP(r.Context(), req.Login); err != nil {
		h.logger.Warn("failed to consume OTP after reset", util.ErrorField(err))
	}

	h.logger.Info("password reset", util.String("user_id", user.ID))
	h.respond(w, http.StatusOK, successResponse(nil, "Password updated"))
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.respond(w, http.StatusUnauthorized, errorResponse("Missing token"))
		return
	}
	if err := h.tokens.Revoke(token); err != nil {
		h.respond(w, http.StatusUnauthorized, errorResponse("Invalid token"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(nil, "Logged out"))
}

func (h *Handler) KYCStatus(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.respond(w, http.StatusUnauthorized, errorResponse("Missing token"))
		return
	}
	userID, err := h.tokens.Verify(token)
	if err != nil {
		h.respond(w, http.StatusUnauthorized, errorResponse("Invalid token"))
		return
	}
	user, err := h.users.FindByID(userID)
	if err != nil {
		h.respond(w, http.StatusUnauthorized, errorResponse("Account not found"))
		return
	}
	if user.KYCStatus == "" {
		h.respond(w, http.StatusOK, errorResponse("KYC not submitted"))
		return
	}
	h.respond(w, http.StatusOK, successResponse(
		map[string]string{"kyc_status": user.KYCStatus}, "",
	))
}

// dispatchOTP issues a code for login and logs it; the sandbox has no SMS or
// mail transport.
func (h *Handler) dispatchOTP(ctx context.Context, login string) error {
	code := h.cfg.FixedOTP
	if code == "" {
		var err error
		code, err = randomCode(h.cfg.OTPLength)
		if err != nil {
			return err
		}
	}
	if err := h.otps.SetOTP(ctx, login, code); err != nil {
		return err
	}
	h.logger.Info("sandbox otp issued",
		util.String("login", login),
		util.String("code", code),
	)
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", util.ErrorField(err))
	}
}

func randomCode(length int) (string, error) {
	if length <= 0 {
		length = 4
	}
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func maskRecipient(recipient string) string {
	if len(recipient) <= 4 {
		return recipient
	}
	return strings.Repeat("*", len(recipient)-4) + recipient[len(recipient)-4:]
}
