package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		UpstreamBaseURL: "https://openrouter.ai/api/v1",
		UpstreamAPIKey:  "sk-test",
		ModelName:       DefaultModel,
		EmbedderModel:   DefaultEmbedderModel,
		Temperature:     0.6,
		TopP:            0.95,
		MaxTokens:       4096,
		Retries:         3,
		InitialDelay:    500 * time.Millisecond,

		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresUser:    "firsthand",
		PostgresDBName:  "firsthand",
		PostgresSSLMode: "disable",
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: nil,
		},
		{
			name:    "empty upstream URL",
			mutate:  func(c *Config) { c.UpstreamBaseURL = " " },
			wantErr: ErrInvalidUpstreamURL,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "" },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.Temperature = -0.1 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.MaxTokens = 0 },
			wantErr: ErrInvalidMaxTokens,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Retries = -1 },
			wantErr: ErrInvalidRetries,
		},
		{
			name:    "empty postgres host",
			mutate:  func(c *Config) { c.PostgresHost = "" },
			wantErr: ErrInvalidPostgresHost,
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 70000 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "empty db name",
			mutate:  func(c *Config) { c.PostgresDBName = "" },
			wantErr: ErrInvalidPostgresDBName,
		},
		{
			name:    "bogus sslmode",
			mutate:  func(c *Config) { c.PostgresSSLMode = "yes-please" },
			wantErr: ErrInvalidPostgresSSLMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServe_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.UpstreamAPIKey = ""

	if err := cfg.ValidateServe(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("ValidateServe() = %v, want ErrMissingAPIKey", err)
	}
}

func TestPostgresConnectionString_QuotesPassword(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PostgresPassword = "pa ss'word"

	dsn := cfg.PostgresConnectionString()
	want := `password='pa ss\'word'`
	if !strings.Contains(dsn, want) {
		t.Errorf("DSN %q missing quoted password %q", dsn, want)
	}
}

func TestPostgresURL_EncodesCredentials(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PostgresUser = "user@host"
	cfg.PostgresPassword = "p@ss/word"

	u := cfg.PostgresURL()
	if strings.Contains(u, "p@ss/word") {
		t.Errorf("URL %q leaks unencoded password", u)
	}
	if !strings.Contains(u, "sslmode=disable") {
		t.Errorf("URL %q missing sslmode", u)
	}
}
