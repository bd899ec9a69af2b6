package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName       = "ScholarBridge"
	defaultAppEnv        = "development"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultShutdownDelay = 10 * time.Second

	defaultSessionTokenTTL  = 24 * time.Hour
	defaultVerifiedTokenTTL = 15 * time.Minute
	defaultOTPTTL           = 10 * time.Minute
	defaultOTPAttempts      = 5
	defaultPendingTTL       = 24 * time.Hour
	defaultFeeCents         = 500
	defaultReaperInterval   = time.Minute

	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration

	// SessionSecret signs long-lived session tokens, VerifiedSecret signs
	// the short-lived verification capability handed to students between
	// OTP verification and payment. WebhookSecret authenticates inbound
	// payment-provider webhooks.
	SessionSecret  string
	VerifiedSecret string
	WebhookSecret  string
	TokenIssuer    string
	TokenAudience  string

	SessionTokenTTL  time.Duration
	VerifiedTokenTTL time.Duration

	OTPTTL      time.Duration
	OTPAttempts int
	PendingTTL  time.Duration

	RegistrationFeeCents int64
	ReaperInterval       time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,

		SessionSecret:  os.Getenv("SESSION_TOKEN_SECRET"),
		VerifiedSecret: os.Getenv("VERIFIED_TOKEN_SECRET"),
		WebhookSecret:  os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		TokenIssuer:    getEnv("TOKEN_ISSUER", "scholarbridge"),
		TokenAudience:  getEnv("TOKEN_AUDIENCE", "scholarbridge-api"),

		SessionTokenTTL:  defaultSessionTokenTTL,
		VerifiedTokenTTL: defaultVerifiedTokenTTL,
		OTPTTL:           defaultOTPTTL,
		OTPAttempts:      defaultOTPAttempts,
		PendingTTL:       defaultPendingTTL,

		RegistrationFeeCents: defaultFeeCents,
		ReaperInterval:       defaultReaperInterval,

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     getEnv("SMTP_FROM", "no-reply@scholarbridge.org"),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	var err error
	if cfg.SessionTokenTTL, err = durationEnv("SESSION_TOKEN_TTL", cfg.SessionTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.VerifiedTokenTTL, err = durationEnv("VERIFIED_TOKEN_TTL", cfg.VerifiedTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL, err = durationEnv("OTP_TTL", cfg.OTPTTL); err != nil {
		return Config{}, err
	}
	if cfg.PendingTTL, err = durationEnv("PENDING_REGISTRATION_TTL", cfg.PendingTTL); err != nil {
		return Config{}, err
	}
	if cfg.ReaperInterval, err = durationEnv("REAPER_INTERVAL", cfg.ReaperInterval); err != nil {
		return Config{}, err
	}
	if cfg.OTPAttempts, err = intEnv("OTP_MAX_ATTEMPTS", cfg.OTPAttempts); err != nil {
		return Config{}, err
	}
	if cfg.SMTPPort, err = intEnv("SMTP_PORT", 587); err != nil {
		return Config{}, err
	}
	fee, err := intEnv("REGISTRATION_FEE_CENTS", int(cfg.RegistrationFeeCents))
	if err != nil {
		return Config{}, err
	}
	cfg.RegistrationFeeCents = int64(fee)

	if cfg.IsDev() {
		// Development fallbacks so the service boots with no environment at all.
		if cfg.SessionSecret == "" {
			cfg.SessionSecret = "dev-session-secret"
		}
		if cfg.VerifiedSecret == "" {
			cfg.VerifiedSecret = "dev-verified-secret"
		}
		if cfg.WebhookSecret == "" {
			cfg.WebhookSecret = "dev-webhook-secret"
		}
	} else {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.SessionSecret == "" || cfg.VerifiedSecret == "" || cfg.WebhookSecret == "" {
			return Config{}, fmt.Errorf("SESSION_TOKEN_SECRET, VERIFIED_TOKEN_SECRET and PAYMENT_WEBHOOK_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// IsDev reports whether the service runs in a development-style environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
