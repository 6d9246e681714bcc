package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"finpay-client/internal/util"

	"github.com/redis/go-redis/v9"
)

const (
	otpPrefix         = "otp:"
	otpAttemptPrefix  = "otp_attempts:"
	otpVerifiedPrefix = "otp_verified:"
	resendRatePrefix  = "otp_resend"
)

// ErrNoOTP is returned when no active code exists for a login.
var ErrNoOTP = errors.New("no active otp")

// NewRedis connects to the sandbox redis from a redis:// URL.
func NewRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// OTPStore keeps dispatched codes hashed in redis with a TTL, plus attempt
// counters and windowed resend rate limits.
type OTPStore struct {
	client  *redis.Client
	buckets *Buckets
	ttl     time.Duration
}

func NewOTPStore(client *redis.Client, buckets *Buckets, ttl time.Duration) *OTPStore {
	return &OTPStore{client: client, buckets: buckets, ttl: ttl}
}

// SetOTP stores the hash of a freshly dispatched code, replacing any previous
// one for the login.
func (s *OTPStore) SetOTP(ctx context.Context, login, code string) error {
	key := otpPrefix + login
	if err := s.client.Set(ctx, key, hashCode(code), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set OTP: %w", err)
	}
	if err := s.client.Del(ctx, otpAttemptPrefix+login, otpVerifiedPrefix+login).Err(); err != nil {
		util.Warn("failed to reset OTP counters", util.String("login", login), util.ErrorField(err))
	}
	return nil
}

// CheckOTP compares code against the stored hash without consuming it.
func (s *OTPStore) CheckOTP(ctx context.Context, login, code string) (bool, error) {
	stored, err := s.client.Get(ctx, otpPrefix+login).Result()
	if errors.Is(err, redis.Nil) {
		return false, ErrNoOTP
	}
	if err != nil {
		return false, fmt.Errorf("failed to get OTP: %w", err)
	}
	return stored == hashCode(code), nil
}

// ConsumeOTP deletes the code after a successful verification.
func (s *OTPStore) ConsumeOTP(ctx context.Context, login string) error {
	if err := s.client.Del(ctx, otpPrefix+login, otpAttemptPrefix+login).Err(); err != nil {
		return fmt.Errorf("failed to consume OTP: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the failed-verification counter for a login.
func (s *OTPStore) IncrementAttempts(ctx context.Context, login string) (int, error) {
	key := otpAttemptPrefix + login
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			util.Warn("failed to expire OTP attempt counter", util.ErrorField(err))
		}
	}
	return int(count), nil
}

// MarkVerified records that the reset code was verified, for /reset-password.
func (s *OTPStore) MarkVerified(ctx context.Context, login string) error {
	if err := s.client.Set(ctx, otpVerifiedPrefix+login, "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark OTP verified: %w", err)
	}
	return nil
}

// IsVerified reports whether the reset code for login was verified.
func (s *OTPStore) IsVerified(ctx context.Context, login string) (bool, error) {
	err := s.client.Get(ctx, otpVerifiedPrefix+login).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check OTP verification: %w", err)
	}
	return true, nil
}

// AllowResend enforces the per-window resend limit for a login.
func (s *OTPStore) AllowResend(ctx context.Context, login string, window time.Duration, limit int) (bool, error) {
	key := s.buckets.RateKey(resendRatePrefix, login, window)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to bump resend counter: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			util.Warn("failed to expire resend counter", util.ErrorField(err))
		}
	}
	return count <= int64(limit), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
