package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Secrets   SecretsConfig
	Chain     ChainConfig
	Vault     VaultConfig
	Compute   ComputeConfig
	LLM       LLMConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name              string
	Port              int
	Environment       string
	LogLevel          string
	LogFormat         string
	PublicURL         string
	KeepAliveInterval time.Duration
	CORSOrigins       []string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// QueueConfig holds the Redis-backed run queue settings
type QueueConfig struct {
	RedisURL    string
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	// Completed/failed job retention (keep-last counts)
	KeepCompleted int
	KeepFailed    int
}

// SecretsConfig holds connector secret encryption settings
type SecretsConfig struct {
	EncryptionKey string
}

// ChainConfig holds Zcash RPC node settings
type ChainConfig struct {
	RPCURL           string
	RPCUser          string
	RPCPassword      string
	DefaultFrom      string
	DefaultPrivacy   string
	OperationTimeout time.Duration
}

// VaultConfig holds encrypted-storage (nilDB) settings
type VaultConfig struct {
	BaseURL string
	APIKey  string
}

// ComputeConfig holds confidential-compute (nilCC) settings
type ComputeConfig struct {
	BaseURL string
	APIKey  string
}

// LLMConfig holds LLM gateway (nilAI) settings
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:              serviceName,
			Port:              getEnvInt("PORT", 8080),
			Environment:       getEnv("ENVIRONMENT", "development"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "text"),
			PublicURL:         getEnv("PUBLIC_URL", ""),
			KeepAliveInterval: getEnvMillis("KEEP_ALIVE_INTERVAL_MS", 0),
			CORSOrigins:       getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "veilflow"),
			User:        getEnv("POSTGRES_USER", "veilflow"),
			Password:    getEnv("POSTGRES_PASSWORD", "veilflow"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Queue: QueueConfig{
			RedisURL:      getEnv("QUEUE_REDIS_URL", "redis://localhost:6379/0"),
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 5),
			MaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
			BackoffBase:   getEnvMillis("QUEUE_BACKOFF_BASE_MS", 5000),
			KeepCompleted: getEnvInt("QUEUE_KEEP_COMPLETED", 100),
			KeepFailed:    getEnvInt("QUEUE_KEEP_FAILED", 500),
		},
		Secrets: SecretsConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Chain: ChainConfig{
			RPCURL:           getEnv("ZCASH_RPC_URL", "http://localhost:8232"),
			RPCUser:          getEnv("ZCASH_RPC_USER", ""),
			RPCPassword:      getEnv("ZCASH_RPC_PASSWORD", ""),
			DefaultFrom:      getEnv("ZCASH_DEFAULT_FROM_ADDRESS", ""),
			DefaultPrivacy:   getEnv("ZCASH_DEFAULT_PRIVACY_POLICY", "AllowRevealedAmounts"),
			OperationTimeout: getEnvMillis("ZCASH_OPERATION_TIMEOUT_MS", 120000),
		},
		Vault: VaultConfig{
			BaseURL: getEnv("NILDB_BASE_URL", ""),
			APIKey:  getEnv("NILDB_API_KEY", ""),
		},
		Compute: ComputeConfig{
			BaseURL: getEnv("NILCC_BASE_URL", ""),
			APIKey:  getEnv("NILCC_API_KEY", ""),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("NILAI_BASE_URL", ""),
			APIKey:  getEnv("NILAI_API_KEY", ""),
			Model:   getEnv("NILAI_MODEL", "meta-llama/Llama-3.1-8B-Instruct"),
			Timeout: getEnvMillis("NILAI_TIMEOUT_MS", 60000),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be >= 1")
	}

	if c.Service.Environment == "production" && c.Secrets.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvMillis reads an integer millisecond value (the *_MS convention)
func getEnvMillis(key string, defaultMS int) time.Duration {
	ms := getEnvInt(key, defaultMS)
	return time.Duration(ms) * time.Millisecond
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
