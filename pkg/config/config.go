// Package config loads process configuration from environment variables and
// the YAML network registry. Nothing here reaches the network; key material
// is referenced by path only and loaded by the caller.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	LogLevel      string
	DatabasePath  string // sqlite file, ":memory:" for ephemeral
	RegistryPath  string // YAML network registry
	RedisAddr     string // empty disables the distributed issuance lock
	SignerKeyFile string // hex-encoded ed25519 seed
	SignerKeyID   string
	EpochSize     int
	EpochInterval time.Duration
	CommitRetries int
	RetryBase     time.Duration
	OTLPEndpoint  string
	TelemetryOn   bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbPath := os.Getenv("VERITAS_DB_PATH")
	if dbPath == "" {
		dbPath = "veritas.db"
	}

	registryPath := os.Getenv("VERITAS_REGISTRY_PATH")
	if registryPath == "" {
		registryPath = "networks.yaml"
	}

	keyID := os.Getenv("VERITAS_SIGNER_KEY_ID")
	if keyID == "" {
		keyID = "veritas-signer-1"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	return &Config{
		LogLevel:      logLevel,
		DatabasePath:  dbPath,
		RegistryPath:  registryPath,
		RedisAddr:     os.Getenv("VERITAS_REDIS_ADDR"),
		SignerKeyFile: os.Getenv("VERITAS_SIGNER_KEY_FILE"),
		SignerKeyID:   keyID,
		EpochSize:     envInt("VERITAS_EPOCH_SIZE", 32),
		EpochInterval: envDuration("VERITAS_EPOCH_INTERVAL", 5*time.Second),
		CommitRetries: envInt("VERITAS_COMMIT_RETRIES", 3),
		RetryBase:     envDuration("VERITAS_RETRY_BASE", 200*time.Millisecond),
		OTLPEndpoint:  otlp,
		TelemetryOn:   os.Getenv("VERITAS_TELEMETRY") == "true",
	}
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
