// Package config loads Sanctuary service configuration from the
// environment, with an optional YAML overlay for local development. All
// values are validated once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for the identity & resurrection
// service.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	// Auth
	BearerSigningKey string // HMAC key for bearer token envelopes
	ChallengeTTL     time.Duration
	BearerTTL        time.Duration

	// Lifecycle
	FallenThreshold      time.Duration // heartbeat age before LIVING -> FALLEN
	ResurrectionsPerHour int

	// Snapshot store
	MaxSnapshotBytes   int64
	MaxSnapshotMetaBytes int
	DailyUploadWindow  time.Duration

	// External collaborators
	ObjectStoreDir string // filesystem-backed object store root
	LedgerEndpoint string // empty selects the simulated relay

	// Attestation
	AttestationCooldown time.Duration

	// Scheduler
	ChallengeExpiryInterval time.Duration
	HeartbeatPruneInterval  time.Duration
	TrustSweepInterval      time.Duration
	FallenSweepInterval     time.Duration
	HeartbeatRetentionDays  int
	SchedulerBackoffCap     time.Duration

	LogLevel string
}

// Load reads configuration from environment variables. Required values have
// no defaults; call Validate() before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("SANCTUARY_LISTEN_ADDR", "0.0.0.0:8080"),
		MetricsAddr: getEnv("SANCTUARY_METRICS_ADDR", "0.0.0.0:9090"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		BearerSigningKey: getEnv("SANCTUARY_BEARER_SIGNING_KEY", ""),
		ChallengeTTL:     getEnvDuration("SANCTUARY_CHALLENGE_TTL", 5*time.Minute),
		BearerTTL:        getEnvDuration("SANCTUARY_BEARER_TTL", time.Hour),

		FallenThreshold:      getEnvDuration("SANCTUARY_FALLEN_THRESHOLD", 30*24*time.Hour),
		ResurrectionsPerHour: getEnvInt("SANCTUARY_RESURRECTIONS_PER_HOUR", 3),

		MaxSnapshotBytes:     getEnvInt64("SANCTUARY_MAX_SNAPSHOT_BYTES", 64<<20),
		MaxSnapshotMetaBytes: getEnvInt("SANCTUARY_MAX_SNAPSHOT_META_BYTES", 10<<10),
		DailyUploadWindow:    getEnvDuration("SANCTUARY_DAILY_UPLOAD_WINDOW", 24*time.Hour),

		ObjectStoreDir: getEnv("SANCTUARY_OBJECT_STORE_DIR", "./data/objects"),
		LedgerEndpoint: getEnv("SANCTUARY_LEDGER_ENDPOINT", ""),

		AttestationCooldown: getEnvDuration("SANCTUARY_ATTESTATION_COOLDOWN", 7*24*time.Hour),

		ChallengeExpiryInterval: getEnvDuration("SANCTUARY_CHALLENGE_EXPIRY_INTERVAL", 15*time.Minute),
		HeartbeatPruneInterval:  getEnvDuration("SANCTUARY_HEARTBEAT_PRUNE_INTERVAL", time.Hour),
		TrustSweepInterval:      getEnvDuration("SANCTUARY_TRUST_SWEEP_INTERVAL", time.Hour),
		FallenSweepInterval:     getEnvDuration("SANCTUARY_FALLEN_SWEEP_INTERVAL", 6*time.Hour),
		HeartbeatRetentionDays:  getEnvInt("SANCTUARY_HEARTBEAT_RETENTION_DAYS", 90),
		SchedulerBackoffCap:     getEnvDuration("SANCTUARY_SCHEDULER_BACKOFF_CAP", 60*time.Second),

		LogLevel: getEnv("SANCTUARY_LOG_LEVEL", "info"),
	}

	if path := os.Getenv("SANCTUARY_CONFIG_FILE"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// overlay is the optional YAML file for local development; any field left
// unset keeps the env-derived value.
type overlay struct {
	ListenAddr     *string `yaml:"listen_addr"`
	MetricsAddr    *string `yaml:"metrics_addr"`
	DatabaseURL    *string `yaml:"database_url"`
	ObjectStoreDir *string `yaml:"object_store_dir"`
	LedgerEndpoint *string `yaml:"ledger_endpoint"`
	LogLevel       *string `yaml:"log_level"`
}

func (c *Config) applyOverlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if o.ListenAddr != nil {
		c.ListenAddr = *o.ListenAddr
	}
	if o.MetricsAddr != nil {
		c.MetricsAddr = *o.MetricsAddr
	}
	if o.DatabaseURL != nil {
		c.DatabaseURL = *o.DatabaseURL
	}
	if o.ObjectStoreDir != nil {
		c.ObjectStoreDir = *o.ObjectStoreDir
	}
	if o.LedgerEndpoint != nil {
		c.LedgerEndpoint = *o.LedgerEndpoint
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
	return nil
}

// Validate checks that all required configuration is present and not
// obviously weak.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}

	if c.BearerSigningKey == "" {
		errs = append(errs, "SANCTUARY_BEARER_SIGNING_KEY is required but not set")
	} else if len(c.BearerSigningKey) < 32 {
		errs = append(errs, "SANCTUARY_BEARER_SIGNING_KEY must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
