package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/image-gateway/models"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: generation history is disabled when nil
	Redis         *RedisConfig    // Optional: the failure memo is process-local when nil
	Provider      ProviderConfig
	Generation    GenerationConfig
	History       HistoryConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the shared failure-cache connection
type RedisConfig struct {
	URL       string
	KeyPrefix string
	OpTimeout time.Duration
}

// ProviderConfig holds the generation provider credentials
type ProviderConfig struct {
	APIToken string
	BaseURL  string
	Timeout  time.Duration
}

// GenerationConfig holds the orchestration budgets and the candidate catalog
type GenerationConfig struct {
	PollInterval        time.Duration
	MaxPolls            int
	RateLimitedPollWait time.Duration
	SubmitRetries       int
	BackoffBase         time.Duration
	BillingRequiredTTL  time.Duration
	RateLimitedTTL      time.Duration
	CandidatesFile      string
	Candidates          []models.Candidate
}

// HistoryConfig holds the generation history worker pool settings
type HistoryConfig struct {
	BufferSize  int
	WorkerCount int
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 5*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: loadDatabaseConfig(),
		Redis:    loadRedisConfig(),
		Provider: ProviderConfig{
			APIToken: getEnv("GENERATION_API_TOKEN", ""),
			BaseURL:  getEnv("GENERATION_API_BASE_URL", "https://api.replicate.com/v1"),
			Timeout:  getEnvAsDuration("GENERATION_API_TIMEOUT", 30*time.Second),
		},
		Generation: GenerationConfig{
			PollInterval:        getEnvAsDuration("GENERATION_POLL_INTERVAL", time.Second),
			MaxPolls:            getEnvAsInt("GENERATION_MAX_POLLS", 120),
			RateLimitedPollWait: getEnvAsDuration("GENERATION_RATE_LIMITED_POLL_WAIT", 2*time.Second),
			SubmitRetries:       getEnvAsInt("GENERATION_SUBMIT_RETRIES", 3),
			BackoffBase:         getEnvAsDuration("GENERATION_BACKOFF_BASE", time.Second),
			BillingRequiredTTL:  getEnvAsDuration("GENERATION_BILLING_TTL", models.BillingRequiredTTL),
			RateLimitedTTL:      getEnvAsDuration("GENERATION_RATE_LIMIT_TTL", models.RateLimitedTTL),
			CandidatesFile:      getEnv("CANDIDATES_FILE", ""),
		},
		History: HistoryConfig{
			BufferSize:  getEnvAsInt("HISTORY_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("HISTORY_WORKER_COUNT", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	candidates, err := LoadCandidates(cfg.Generation.CandidatesFile)
	if err != nil {
		return nil, err
	}
	cfg.Generation.Candidates = candidates

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.IsProduction() && c.Provider.APIToken == "" {
		return fmt.Errorf("GENERATION_API_TOKEN is required in production")
	}

	if c.Generation.MaxPolls <= 0 {
		return fmt.Errorf("generation max polls must be positive")
	}
	if c.Generation.SubmitRetries < 0 {
		return fmt.Errorf("generation submit retries cannot be negative")
	}
	if c.Generation.BillingRequiredTTL <= 0 || c.Generation.RateLimitedTTL <= 0 {
		return fmt.Errorf("failure memo TTLs must be positive")
	}

	if err := validateCandidates(c.Generation.Candidates); err != nil {
		return err
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.History.WorkerCount <= 0 || c.History.BufferSize <= 0 {
		return fmt.Errorf("history worker count and buffer size must be positive")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// HistoryEnabled reports whether a database is configured for generation history
func (c *Config) HistoryEnabled() bool {
	return c.Database != nil
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		return redactURL(c.ConnectionString, "5432")
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// LogString returns a safe string for logging (no password)
func (c *RedisConfig) LogString() string {
	return redactURL(c.URL, "6379")
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := func(cfg *DatabaseConfig) *DatabaseConfig {
		cfg.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 10)
		cfg.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 2)
		cfg.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
		return cfg
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return pool(&DatabaseConfig{ConnectionString: dbURL})
	}
	if host := getEnv("DB_HOST", ""); host != "" {
		return pool(&DatabaseConfig{
			Host:     host,
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", ""),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		})
	}
	return nil
}

// loadRedisConfig loads the shared failure cache from REDIS_URL or FAILURE_CACHE_URL.
// Returns nil when not set.
func loadRedisConfig() *RedisConfig {
	redisURL := getEnv("REDIS_URL", getEnv("FAILURE_CACHE_URL", ""))
	if redisURL == "" {
		return nil
	}
	return &RedisConfig{
		URL:       redisURL,
		KeyPrefix: getEnv("FAILURE_CACHE_PREFIX", "genfail:"),
		OpTimeout: getEnvAsDuration("FAILURE_CACHE_OP_TIMEOUT", 500*time.Millisecond),
	}
}

func redactURL(raw, defaultPort string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "host=<redacted>"
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", 8080)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
