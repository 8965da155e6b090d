package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the server
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Chain     ChainConfig
	Explorer  ExplorerConfig
	Foundry   FoundryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    int // seconds
	WriteTimeout   int // seconds
	IdleTimeout    int // seconds
	RequestTimeout int // seconds; bounds a whole verification
	MaxBodySizeKB  int
	TrustProxy     bool // honour X-Forwarded-For / X-Real-IP
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite" or "postgres"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerMin int
	BurstSize      int
	// VerifyCost is the number of tokens a verification request takes.
	VerifyCost     int
	CleanupMinutes int
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// ChainConfig holds the JSON-RPC node settings
type ChainConfig struct {
	RPCURL            string
	DefaultEVMVersion string
}

// ExplorerConfig holds block explorer API settings
type ExplorerConfig struct {
	URL    string
	APIKey string
	RPS    float64
}

// FoundryConfig holds the project the server verifies against
type FoundryConfig struct {
	Root  string
	Forge string
	// OutDir is the artifacts directory relative to Root
	OutDir string
	// Build runs forge on an artifact cache miss
	Build bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnvInt("PORT", 8080),
			Host:           getEnv("HOST", "0.0.0.0"),
			ReadTimeout:    getEnvInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:   getEnvInt("SERVER_WRITE_TIMEOUT", 300),
			IdleTimeout:    getEnvInt("SERVER_IDLE_TIMEOUT", 120),
			RequestTimeout: getEnvInt("SERVER_REQUEST_TIMEOUT", 240),
			MaxBodySizeKB:  getEnvInt("SERVER_MAX_BODY_SIZE_KB", 512),
			TrustProxy:     getEnvBool("TRUST_PROXY", false),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/codeproof.db"),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getEnvBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMin: getEnvInt("RATE_LIMIT_RPM", 300),
			BurstSize:      getEnvInt("RATE_LIMIT_BURST", 50),
			VerifyCost:     getEnvInt("RATE_LIMIT_VERIFY_COST", 25),
			CleanupMinutes: getEnvInt("RATE_LIMIT_CLEANUP_MINUTES", 10),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
		},
		Chain: ChainConfig{
			RPCURL:            getEnv("ETH_RPC_URL", ""),
			DefaultEVMVersion: getEnv("DEFAULT_EVM_VERSION", "cancun"),
		},
		Explorer: ExplorerConfig{
			URL:    getEnv("ETHERSCAN_API_URL", "https://api.etherscan.io/v2/api"),
			APIKey: getEnv("ETHERSCAN_API_KEY", ""),
			RPS:    getEnvFloat("EXPLORER_RPS", 5),
		},
		Foundry: FoundryConfig{
			Root:   getEnv("FOUNDRY_ROOT", "."),
			Forge:  getEnv("FORGE_BIN", "forge"),
			OutDir: getEnv("FOUNDRY_OUT", "out"),
			Build:  getEnvBool("FOUNDRY_BUILD", true),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	if cfg.Chain.RPCURL == "" {
		return nil, errors.New("ETH_RPC_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
