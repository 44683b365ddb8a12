package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/weftworks/weft/common/sdk"
)

// Config holds all service configuration
type Config struct {
	Service     ServiceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Engine      EngineConfig
	LLM         LLMConfig
	SMTP        SMTPConfig
	Credentials CredentialsConfig
	Telemetry   TelemetryConfig
	Features    FeatureFlags
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string

	// FrontendOrigin is forwarded to nodes that mint absolute URLs
	// (interaction review links).
	FrontendOrigin string
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

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// EngineConfig holds the execution defaults. Workflow definitions may
// override per execution through execution_constraints.
type EngineConfig struct {
	MaxConcurrentNodes int
	AIConcurrentLimit  int
	DefaultTimeout     time.Duration
	WorkflowTimeout    time.Duration
	StopOnError        bool
	MaxRetries         int
	RetryDelay         time.Duration
	BackoffMultiplier  float64
	MaxRetryDelay      time.Duration
	InteractionTimeout time.Duration
	SweepInterval      time.Duration
	ExportDir          string
}

// LLMConfig holds language model gateway settings
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	DefaultModel   string
	RequestTimeout time.Duration
}

// SMTPConfig holds outbound mail defaults. Per-node credentials override
// username/password through credential injection.
type SMTPConfig struct {
	Host string
	Port int
	From string
}

// CredentialsConfig holds the credential store settings
type CredentialsConfig struct {
	// MasterKey is the hex-encoded 32-byte AES key sealing stored
	// credential fields.
	MasterKey string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// FeatureFlags for deployment toggles
type FeatureFlags struct {
	EnableRedisEvents      bool
	EnableSpawnRateLimit   bool
	EnableInteractionSweep bool
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:           serviceName,
			Port:           getEnvInt("PORT", 8080),
			Environment:    getEnv("ENVIRONMENT", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "text"), // Default to text for development
			FrontendOrigin: getEnv("FRONTEND_ORIGIN", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "weft"),
			User:        getEnv("POSTGRES_USER", "weft"),
			Password:    getEnv("POSTGRES_PASSWORD", "weft"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			MaxConcurrentNodes: getEnvInt("ENGINE_MAX_CONCURRENT_NODES", 5),
			AIConcurrentLimit:  getEnvInt("ENGINE_AI_CONCURRENT_LIMIT", 1),
			DefaultTimeout:     getEnvDuration("ENGINE_NODE_TIMEOUT", 300*time.Second),
			WorkflowTimeout:    getEnvDuration("ENGINE_WORKFLOW_TIMEOUT", 1800*time.Second),
			StopOnError:        getEnvBool("ENGINE_STOP_ON_ERROR", true),
			MaxRetries:         getEnvInt("ENGINE_MAX_RETRIES", 3),
			RetryDelay:         getEnvDuration("ENGINE_RETRY_DELAY", 5*time.Second),
			BackoffMultiplier:  getEnvFloat("ENGINE_BACKOFF_MULTIPLIER", 1.5),
			MaxRetryDelay:      getEnvDuration("ENGINE_MAX_RETRY_DELAY", 60*time.Second),
			InteractionTimeout: getEnvDuration("ENGINE_INTERACTION_TIMEOUT", 24*time.Hour),
			SweepInterval:      getEnvDuration("ENGINE_SWEEP_INTERVAL", 1*time.Minute),
			ExportDir:          getEnv("ENGINE_EXPORT_DIR", "/tmp/weft-exports"),
		},
		LLM: LLMConfig{
			APIKey:         getEnv("LLM_API_KEY", ""),
			BaseURL:        getEnv("LLM_BASE_URL", ""),
			DefaultModel:   getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			RequestTimeout: getEnvDuration("LLM_REQUEST_TIMEOUT", 120*time.Second),
		},
		SMTP: SMTPConfig{
			Host: getEnv("SMTP_HOST", "localhost"),
			Port: getEnvInt("SMTP_PORT", 587),
			From: getEnv("SMTP_FROM", "noreply@localhost"),
		},
		Credentials: CredentialsConfig{
			MasterKey: getEnv("CREDENTIALS_MASTER_KEY", ""),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", true),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
		Features: FeatureFlags{
			EnableRedisEvents:      getEnvBool("ENABLE_REDIS_EVENTS", false),
			EnableSpawnRateLimit:   getEnvBool("ENABLE_SPAWN_RATE_LIMIT", false),
			EnableInteractionSweep: getEnvBool("ENABLE_INTERACTION_SWEEP", true),
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

	if c.Engine.MaxConcurrentNodes < 1 {
		return fmt.Errorf("max_concurrent_nodes must be >= 1")
	}

	if c.Engine.AIConcurrentLimit < 1 {
		return fmt.Errorf("ai_concurrent_limit must be >= 1")
	}

	if c.Engine.BackoffMultiplier <= 0 {
		return fmt.Errorf("backoff_multiplier must be > 0")
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

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Constraints converts the engine section into execution constraint defaults
func (c *Config) Constraints() sdk.ExecutionConstraints {
	return sdk.ExecutionConstraints{
		MaxConcurrentNodes: c.Engine.MaxConcurrentNodes,
		AIConcurrentLimit:  c.Engine.AIConcurrentLimit,
		DefaultTimeout:     c.Engine.DefaultTimeout.Seconds(),
		WorkflowTimeout:    c.Engine.WorkflowTimeout.Seconds(),
		StopOnError:        c.Engine.StopOnError,
		MaxRetries:         c.Engine.MaxRetries,
		RetryDelay:         c.Engine.RetryDelay.Seconds(),
		BackoffMultiplier:  c.Engine.BackoffMultiplier,
		MaxRetryDelay:      c.Engine.MaxRetryDelay.Seconds(),
		InteractionTimeout: c.Engine.InteractionTimeout.Seconds(),
	}
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
