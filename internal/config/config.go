// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.firsthand/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive values (Postgres password, upstream API key) are never logged;
// MarshalJSON masks them.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the upstream API key is missing.
	ErrMissingAPIKey = errors.New("missing upstream API key")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidUpstreamURL indicates the upstream base URL is empty.
	ErrInvalidUpstreamURL = errors.New("invalid upstream base URL")

	// ErrInvalidRetries indicates the retry budget is negative.
	ErrInvalidRetries = errors.New("invalid retry count")
)

// Defaults for the generation gateway.
const (
	// DefaultModel is the default chat model routed through the upstream.
	DefaultModel = "moonshotai/kimi-k2"

	// DefaultEmbedderModel is the default embeddings model.
	DefaultEmbedderModel = "openai/text-embedding-3-small"

	// DefaultReplayChunkRunes is the number of runes per replayed chunk
	// when a cached response is served as a stream.
	DefaultReplayChunkRunes = 5

	// DefaultReplayDelay is the pause between replayed chunks.
	DefaultReplayDelay = 25 * time.Millisecond
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding new
// secrets, update MarshalJSON.
type Config struct {
	// Upstream generation API (OpenAI-compatible, e.g. OpenRouter).
	UpstreamBaseURL string  `mapstructure:"upstream_base_url" json:"upstream_base_url"`
	UpstreamAPIKey  string  `mapstructure:"upstream_api_key" json:"upstream_api_key"` // SENSITIVE
	ModelName       string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel   string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature     float32 `mapstructure:"temperature" json:"temperature"`
	TopP            float32 `mapstructure:"top_p" json:"top_p"`
	MaxTokens       int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Retry budget for upstream calls.
	Retries      int           `mapstructure:"retries" json:"retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay" json:"initial_delay"`

	// Streaming replay shape for cache hits.
	ReplayChunkRunes int           `mapstructure:"replay_chunk_runes" json:"replay_chunk_runes"`
	ReplayDelay      time.Duration `mapstructure:"replay_delay" json:"replay_delay"`

	// Rate limiting: requests per day per (identity, mode). 0 disables.
	RateLimitPerDay int `mapstructure:"rate_limit_per_day" json:"rate_limit_per_day"`

	// Storage configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode.
	ListenAddr            string   `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy            bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	CORSOrigins           []string `mapstructure:"cors_origins" json:"cors_origins"`
	HTTPRequestsPerMinute int      `mapstructure:"http_requests_per_minute" json:"http_requests_per_minute"`

	// Observability.
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
	Environment string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".firsthand")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("model_name", DefaultModel)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("temperature", 0.6)
	v.SetDefault("top_p", 0.95)
	v.SetDefault("max_tokens", 4096)

	v.SetDefault("retries", 3)
	v.SetDefault("initial_delay", 500*time.Millisecond)

	v.SetDefault("replay_chunk_runes", DefaultReplayChunkRunes)
	v.SetDefault("replay_delay", DefaultReplayDelay)

	v.SetDefault("rate_limit_per_day", 0)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "firsthand")
	v.SetDefault("postgres_password", "firsthand_dev_password")
	v.SetDefault("postgres_db_name", "firsthand")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("http_requests_per_minute", 120)
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "firsthand")
	v.SetDefault("tracing.environment", "dev")
}

// bindEnvVariables binds secret environment variables explicitly.
// Secrets never go through the config file by default.
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("upstream_api_key", "OPENROUTER_KEY")
	_ = v.BindEnv("postgres_password", "FIRSTHAND_POSTGRES_PASSWORD")
	_ = v.BindEnv("rate_limit_per_day", "RATE_LIMIT_REQUESTS_PER_DAY")
}

// MarshalJSON masks sensitive fields so the config can be logged safely.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := *c
	if masked.UpstreamAPIKey != "" {
		masked.UpstreamAPIKey = "***"
	}
	if masked.PostgresPassword != "" {
		masked.PostgresPassword = "***"
	}
	return json.Marshal((*alias)(&masked))
}
