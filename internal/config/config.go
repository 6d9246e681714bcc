package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Environment string
	Logging     LoggingConfig
	Client      ClientConfig
	Vault       VaultConfig
	Sandbox     SandboxConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

// ClientConfig configures the tenant backend client.
type ClientConfig struct {
	BaseURL        string
	Domain         string
	Latitude       string
	Longitude      string
	RequestTimeout time.Duration
}

// VaultConfig configures the credential vault.
type VaultConfig struct {
	Path       string
	KMSEnabled bool
	KMSKeyID   string
}

// SandboxConfig configures the sandbox tenant backend.
type SandboxConfig struct {
	Port            int
	RedisURL        string
	JWTSecret       string
	TokenTTL        time.Duration
	OTPLength       int
	OTPTTL          time.Duration
	FixedOTP        string
	ResendWindow    time.Duration
	ResendPerWindow int
}

// LoadConfig reads configuration from the environment, with an optional .env file.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Client: ClientConfig{
			BaseURL:        getEnv("API_BASE_URL", "http://localhost:8085/api/v1"),
			Domain:         getEnv("TENANT_DOMAIN", "sandbox.finpay.local"),
			Latitude:       getEnv("GEO_LATITUDE", ""),
			Longitude:      getEnv("GEO_LONGITUDE", ""),
			RequestTimeout: getEnvDuration("API_REQUEST_TIMEOUT", 15*time.Second),
		},
		Vault: VaultConfig{
			Path:       getEnv("VAULT_PATH", defaultVaultPath()),
			KMSEnabled: getEnvBool("VAULT_KMS_ENABLED", false),
			KMSKeyID:   getEnv("VAULT_KMS_KEY_ID", ""),
		},
		Sandbox: SandboxConfig{
			Port:            getEnvInt("SANDBOX_PORT", 8085),
			RedisURL:        getEnv("SANDBOX_REDIS_URL", "redis://localhost:6379/0"),
			JWTSecret:       getEnv("SANDBOX_JWT_SECRET", "sandbox-dev-secret"),
			TokenTTL:        getEnvDuration("SANDBOX_TOKEN_TTL", 24*time.Hour),
			OTPLength:       getEnvInt("SANDBOX_OTP_LENGTH", 4),
			OTPTTL:          getEnvDuration("SANDBOX_OTP_TTL", 5*time.Minute),
			FixedOTP:        getEnv("SANDBOX_FIXED_OTP", ""),
			ResendWindow:    getEnvDuration("SANDBOX_RESEND_WINDOW", 5*time.Minute),
			ResendPerWindow: getEnvInt("SANDBOX_RESEND_PER_WINDOW", 5),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultVaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "finpay-vault.json"
	}
	return dir + "/finpay/vault.json"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
