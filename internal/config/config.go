// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/textblast/internal/backup"
	"github.com/dukerupert/textblast/internal/billing/stripe"
	"github.com/dukerupert/textblast/internal/carrier"
	"github.com/dukerupert/textblast/internal/media"
	"github.com/dukerupert/textblast/internal/push"
)

type Config struct {
	Development bool

	Port      int
	DBPath    string
	BaseURL   string
	LogLevel  string
	LogFormat string

	JWTSecret string
	JWTTTL    time.Duration

	// AllowedOrigins restricts cross-origin websocket upgrades.
	AllowedOrigins []string

	Stripe   stripe.Config
	Carrier  carrier.Config
	S3       media.S3Config
	MediaDir string
	Push     push.Config

	PostmarkToken string
	FromEmail     string

	RedisURL  string
	SeedPlans bool

	Backup backup.Config

	AuthRateLimit int
}

// Load reads a .env file when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := getEnvInt("PORT", 8080)
	baseURL := strings.TrimRight(getEnv("BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/")

	cfg := &Config{
		Development: getEnvBool("DEVELOPMENT", false),
		Port:        port,
		DBPath:      getEnv("DB_PATH", "textblast.db"),
		BaseURL:     baseURL,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getEnvDuration("JWT_TTL", 24*time.Hour),

		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),

		Stripe: stripe.Config{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("CHECKOUT_SUCCESS_URL", baseURL+"/payment/success?session_id={CHECKOUT_SESSION_ID}"),
			CancelURL:     getEnv("CHECKOUT_CANCEL_URL", baseURL+"/plans"),
		},
		Carrier: carrier.Config{
			APIKey:             getEnv("TELNYX_API_KEY", ""),
			MessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
			FromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),
			BaseURL:            getEnv("TELNYX_BASE_URL", ""),
		},
		S3: media.S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Bucket:    getEnv("S3_BUCKET", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		MediaDir: getEnv("MEDIA_DIR", "./media"),
		Push: push.Config{
			VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
			Subscriber:      getEnv("VAPID_SUBJECT", ""),
		},

		PostmarkToken: getEnv("POSTMARK_TOKEN", ""),
		FromEmail:     getEnv("FROM_EMAIL", ""),

		RedisURL:  getEnv("REDIS_URL", ""),
		SeedPlans: getEnvBool("SEED_PLANS", true),

		AuthRateLimit: getEnvInt("AUTH_RATE_LIMIT", 10),
	}

	// Backups share the media credentials unless given their own bucket.
	cfg.Backup = backup.Config{
		S3:         cfg.S3,
		Prefix:     getEnv("BACKUP_PREFIX", "backups/"),
		Passphrase: getEnv("BACKUP_PASSPHRASE", ""),
		Keep:       getEnvInt("BACKUP_KEEP", 14),
		Interval:   getEnvDuration("BACKUP_INTERVAL", 24*time.Hour),
	}
	if b := getEnv("BACKUP_BUCKET", ""); b != "" {
		cfg.Backup.S3.Bucket = b
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// devSecret signs tokens when running locally without JWT_SECRET.
const devSecret = "textblast-dev-secret-change-me"

// Validate checks required settings. In development a missing JWT secret
// falls back to a fixed local value.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		if !c.Development {
			return errors.New("JWT_SECRET is required")
		}
		c.JWTSecret = devSecret
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH is required")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q (want text or json)", c.LogFormat)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if s, ok := os.LookupEnv(key); ok {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if s, ok := os.LookupEnv(key); ok {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if s, ok := os.LookupEnv(key); ok {
		if v, err := time.ParseDuration(s); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
