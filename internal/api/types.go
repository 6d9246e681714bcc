package api

// UserProfile is the backend's user record as returned by /verify-otp-login.
type UserProfile struct {
	ID           string `json:"id"`
	FullName     string `json:"full_name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Username     string `json:"username,omitempty"`
	ProfileImage string `json:"profile_image"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// RegisterRequest is the /register payload.
type RegisterRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Phone                string `json:"phone"`
	Role                 string `json:"role"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// OTPDispatch reports where the backend sent a one-time code.
type OTPDispatch struct {
	SentTo  string
	Message string
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Login string `json:"login"`
}

type verifyOTPRequest struct {
	Login string `json:"login"`
	OTP   string `json:"otp"`
}

type resendOTPRequest struct {
	Type  string `json:"type"`
	Login string `json:"login"`
}

type resetPasswordRequest struct {
	Login                   string `json:"login"`
	OTP                     string `json:"otp"`
	NewPassword             string `json:"new_password"`
	NewPasswordConfirmation string `json:"new_password_confirmation"`
}

// envelope is the fixed response shape shared by every endpoint. Endpoint
// specific payloads live under Data and are decoded separately per call so an
// unexpected shape is rejected instead of optimistically read.
type basicResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type otpSentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		OTPSentTo string `json:"otp_sent_to"`
	} `json:"data"`
}

type verifyLoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		AccessToken string       `json:"access_token"`
		User        *UserProfile `json:"user"`
	} `json:"data"`
}

// KYCStatusResponse is the raw /kyc/status payload. Interpretation (including
// the fail-closed default) belongs to the KYC gate, not the transport.
type KYCStatusResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    *KYCData `json:"data"`
}

type KYCData struct {
	KYCStatus string `json:"kyc_status"`
}
