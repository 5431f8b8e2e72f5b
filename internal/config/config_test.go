package config

import (
	"os"
	"testing"
	"time"
)

var configKeys = []string{
	"DEVELOPMENT", "PORT", "DB_PATH", "BASE_URL", "LOG_LEVEL", "LOG_FORMAT",
	"JWT_SECRET", "JWT_TTL", "ALLOWED_ORIGINS", "STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"CHECKOUT_SUCCESS_URL", "CHECKOUT_CANCEL_URL", "TELNYX_API_KEY", "TELNYX_MESSAGING_PROFILE_ID",
	"TELNYX_FROM_NUMBER", "TELNYX_BASE_URL", "S3_ENDPOINT", "S3_BUCKET", "S3_REGION",
	"S3_ACCESS_KEY", "S3_SECRET_KEY", "MEDIA_DIR", "VAPID_PUBLIC_KEY", "VAPID_PRIVATE_KEY",
	"VAPID_SUBJECT", "POSTMARK_TOKEN", "FROM_EMAIL", "REDIS_URL", "SEED_PLANS", "AUTH_RATE_LIMIT",
	"BACKUP_PREFIX", "BACKUP_PASSPHRASE", "BACKUP_KEEP", "BACKUP_INTERVAL", "BACKUP_BUCKET",
}

// clearEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if cfg.DBPath != "textblast.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.JWTTTL != 24*time.Hour {
		t.Errorf("JWTTTL = %v, want 24h", cfg.JWTTTL)
	}
	if !cfg.SeedPlans {
		t.Error("SeedPlans should default to true")
	}
	if cfg.MediaDir != "./media" {
		t.Errorf("MediaDir = %q", cfg.MediaDir)
	}
	if cfg.Stripe.CancelURL != "http://localhost:8080/plans" {
		t.Errorf("CancelURL = %q", cfg.Stripe.CancelURL)
	}
	if cfg.S3.Enabled() {
		t.Error("S3 should be disabled without a bucket")
	}
	if cfg.AuthRateLimit != 10 {
		t.Errorf("AuthRateLimit = %d, want 10", cfg.AuthRateLimit)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9090")
	t.Setenv("BASE_URL", "https://api.example.com/")
	t.Setenv("JWT_TTL", "2h")
	t.Setenv("SEED_PLANS", "false")
	t.Setenv("TELNYX_API_KEY", "KEY")
	t.Setenv("ALLOWED_ORIGINS", "app.example.com, admin.example.com")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.JWTTTL != 2*time.Hour {
		t.Errorf("JWTTTL = %v", cfg.JWTTTL)
	}
	if cfg.SeedPlans {
		t.Error("SeedPlans = true, want false")
	}
	if cfg.Carrier.APIKey != "KEY" {
		t.Errorf("Carrier.APIKey = %q", cfg.Carrier.APIKey)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "admin.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadBackupSharesMediaCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("S3_BUCKET", "media")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Backup.Enabled() {
		t.Error("backup enabled without a passphrase")
	}
	if cfg.Backup.S3.Bucket != "media" || cfg.Backup.Prefix != "backups/" {
		t.Errorf("Backup = %+v", cfg.Backup)
	}
	if cfg.Backup.Interval != 24*time.Hour || cfg.Backup.Keep != 14 {
		t.Errorf("Backup schedule = %v keep %d", cfg.Backup.Interval, cfg.Backup.Keep)
	}

	t.Setenv("BACKUP_BUCKET", "vault")
	t.Setenv("BACKUP_PASSPHRASE", "pw")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Backup.Enabled() {
		t.Error("backup disabled with bucket, keys and passphrase")
	}
	if cfg.Backup.S3.Bucket != "vault" || cfg.S3.Bucket != "media" {
		t.Errorf("buckets = %q/%q, want vault/media", cfg.Backup.S3.Bucket, cfg.S3.Bucket)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}

	t.Setenv("DEVELOPMENT", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() in development: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Error("expected development fallback secret")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{JWTSecret: "x", Port: 8080, JWTTTL: time.Hour, DBPath: "db", LogFormat: "text"}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"ttl", func(c *Config) { c.JWTTTL = 0 }},
		{"db path", func(c *Config) { c.DBPath = "" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
