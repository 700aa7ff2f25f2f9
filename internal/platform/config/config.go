// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	pstrings "portal/pkg/platform/strings"
)

// DevJWTSigningKey is the development default; production refuses it.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

const minProductionKeyLength = 32

type Config struct {
	Env       string
	Server    Server
	Auth      Auth
	Redis     RedisConfig
	Database  DatabaseConfig
	Mail      MailConfig
	Audit     AuditConfig
	RateLimit RateLimitConfig
}

type Server struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
	// PublicBaseURL is where browsers reach the frontend, used in mail links.
	PublicBaseURL string
	// TrustProxy honors X-Forwarded-For; enable only behind a proxy that
	// overwrites it.
	TrustProxy bool
	// MetricsToken, when set, is required in X-Admin-Token to scrape /metrics.
	MetricsToken string
}

type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	JWTTTL        time.Duration
	BcryptCost    int
	ResetTokenTTL time.Duration
	ResetURL      string
	// ConcurrencyWarn is the live-session count above which a login is
	// logged as unusual. It never blocks.
	ConcurrencyWarn int
	SweepInterval   time.Duration
}

// RedisConfig is optional; an empty URL keeps sessions in process memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig is optional; an empty URL keeps users in process memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MailConfig is optional; an empty host logs reset mail instead of sending it.
type MailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// AuditConfig is optional; without brokers audit events stay in the local
// store only.
type AuditConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	AsyncBuffer  int
}

type RateLimitConfig struct {
	Disabled      bool
	LoginRequests int
	LoginWindow   time.Duration
	ResetRequests int
	ResetWindow   time.Duration
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Load reads .env from the working directory when present, then applies
// environment overrides and defaults, and validates the result.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		// a missing file is fine; env vars and defaults still apply
		_ = v.ReadInConfig()
	}
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Env: v.GetString("APP_ENV"),
		Server: Server{
			Addr:              v.GetString("PORTAL_ADDR"),
			ReadHeaderTimeout: v.GetDuration("READ_HEADER_TIMEOUT"),
			ShutdownTimeout:   v.GetDuration("SHUTDOWN_TIMEOUT"),
			LogLevel:          v.GetString("LOG_LEVEL"),
			PublicBaseURL:     strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
			TrustProxy:        v.GetBool("TRUST_PROXY"),
			MetricsToken:      v.GetString("METRICS_TOKEN"),
		},
		Auth: Auth{
			JWTSigningKey:   v.GetString("JWT_SIGNING_KEY"),
			JWTIssuer:       v.GetString("JWT_ISSUER"),
			JWTAudience:     v.GetString("JWT_AUDIENCE"),
			JWTTTL:          v.GetDuration("JWT_TTL"),
			BcryptCost:      v.GetInt("BCRYPT_COST"),
			ResetTokenTTL:   v.GetDuration("RESET_TOKEN_TTL"),
			ResetURL:        v.GetString("RESET_PASSWORD_URL"),
			ConcurrencyWarn: v.GetInt("SESSION_CONCURRENCY_WARN"),
			SweepInterval:   v.GetDuration("SESSION_SWEEP_INTERVAL"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
			DialTimeout:  v.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  v.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: v.GetDuration("REDIS_WRITE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			URL:             v.GetString("DATABASE_URL"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Mail: MailConfig{
			SMTPHost: v.GetString("SMTP_HOST"),
			SMTPPort: v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("MAIL_FROM"),
			Timeout:  v.GetDuration("SMTP_TIMEOUT"),
		},
		Audit: AuditConfig{
			KafkaBrokers: splitList(v.GetString("AUDIT_KAFKA_BROKERS")),
			KafkaTopic:   v.GetString("AUDIT_KAFKA_TOPIC"),
			AsyncBuffer:  v.GetInt("AUDIT_ASYNC_BUFFER"),
		},
		RateLimit: RateLimitConfig{
			Disabled:      v.GetBool("RATE_LIMIT_DISABLED"),
			LoginRequests: v.GetInt("RATE_LIMIT_LOGIN_REQUESTS"),
			LoginWindow:   v.GetDuration("RATE_LIMIT_LOGIN_WINDOW"),
			ResetRequests: v.GetInt("RATE_LIMIT_RESET_REQUESTS"),
			ResetWindow:   v.GetDuration("RATE_LIMIT_RESET_WINDOW"),
		},
	}
	if cfg.Auth.ResetURL == "" {
		cfg.Auth.ResetURL = cfg.Server.PublicBaseURL + "/reset-password"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORTAL_ADDR", ":8080")
	v.SetDefault("READ_HEADER_TIMEOUT", "5s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:3000")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("METRICS_TOKEN", "")

	v.SetDefault("JWT_SIGNING_KEY", DevJWTSigningKey)
	v.SetDefault("JWT_ISSUER", "portal")
	v.SetDefault("JWT_AUDIENCE", "portal-api")
	v.SetDefault("JWT_TTL", "8h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("RESET_PASSWORD_URL", "")
	v.SetDefault("SESSION_CONCURRENCY_WARN", 5)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "5m")

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "no-reply@portal.local")
	v.SetDefault("SMTP_TIMEOUT", "10s")

	v.SetDefault("AUDIT_KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "portal-audit")
	v.SetDefault("AUDIT_ASYNC_BUFFER", 1024)

	v.SetDefault("RATE_LIMIT_DISABLED", false)
	v.SetDefault("RATE_LIMIT_LOGIN_REQUESTS", 10)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW", "1m")
	v.SetDefault("RATE_LIMIT_RESET_REQUESTS", 5)
	v.SetDefault("RATE_LIMIT_RESET_WINDOW", "15m")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("PORTAL_ADDR must be set"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set"))
	}
	if c.IsProduction() {
		if c.Auth.JWTSigningKey == DevJWTSigningKey {
			errs = append(errs, errors.New("JWT_SIGNING_KEY must be overridden when APP_ENV=production"))
		} else if len(c.Auth.JWTSigningKey) < minProductionKeyLength {
			errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY must be at least %d bytes when APP_ENV=production", minProductionKeyLength))
		}
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	for name, d := range map[string]time.Duration{
		"JWT_TTL":                 c.Auth.JWTTTL,
		"RESET_TOKEN_TTL":         c.Auth.ResetTokenTTL,
		"SESSION_SWEEP_INTERVAL":  c.Auth.SweepInterval,
		"SHUTDOWN_TIMEOUT":        c.Server.ShutdownTimeout,
		"RATE_LIMIT_LOGIN_WINDOW": c.RateLimit.LoginWindow,
		"RATE_LIMIT_RESET_WINDOW": c.RateLimit.ResetWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", name))
		}
	}
	if c.Auth.ConcurrencyWarn < 1 {
		errs = append(errs, errors.New("SESSION_CONCURRENCY_WARN must be at least 1"))
	}
	if c.RateLimit.LoginRequests < 1 || c.RateLimit.ResetRequests < 1 {
		errs = append(errs, errors.New("rate limit request counts must be at least 1"))
	}
	if len(c.Audit.KafkaBrokers) > 0 && c.Audit.KafkaTopic == "" {
		errs = append(errs, errors.New("AUDIT_KAFKA_TOPIC must be set when AUDIT_KAFKA_BROKERS is"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func splitList(raw string) []string {
	out := pstrings.DedupeAndTrim(strings.Split(raw, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
