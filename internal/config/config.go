// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"search-agent/internal/gateway"
)

// Common holds the settings shared by the Lambda and local binaries.
type Common struct {
	GeminiModel       string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiBaseURL     string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	SearchBaseURL     string `env:"SEARCH_BASE_URL" envDefault:"https://www.googleapis.com"`
	SearchResultCount int    `env:"SEARCH_RESULT_COUNT" envDefault:"5"`
	MaxQueryLength    int    `env:"MAX_QUERY_LENGTH" envDefault:"1000"`

	ModelMaxResponseBytes  int64         `env:"MODEL_MAX_RESPONSE_BYTES" envDefault:"1048576"`
	ModelCallTimeout       time.Duration `env:"MODEL_CALL_TIMEOUT" envDefault:"30s"`
	SearchMaxResponseBytes int64         `env:"SEARCH_MAX_RESPONSE_BYTES" envDefault:"1048576"`
	SearchCallTimeout      time.Duration `env:"SEARCH_CALL_TIMEOUT" envDefault:"10s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Lambda is the configuration of the API Gateway deployment.
type Lambda struct {
	Common
	StateTable  string `env:"STATE_TABLE,required,notEmpty"`
	ParamPrefix string `env:"PARAM_PREFIX,required,notEmpty"`
}

// Local is the configuration of the standalone HTTP server. Missing API keys
// are reported when a call needs them, not at startup.
type Local struct {
	Common
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"search-agent.db"`
	HTTPPort     int    `env:"HTTP_PORT" envDefault:"8080"`
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	CSEAPIKey    string `env:"GOOGLE_CSE_API_KEY"`
	CSEID        string `env:"GOOGLE_CSE_ID"`
}

func LoadLambda() (Lambda, error) {
	return load[Lambda](nil)
}

func LoadLocal() (Local, error) {
	return load[Local](nil)
}

type validator interface {
	validate() error
}

// load parses T from environ, or from the process environment when environ
// is nil.
func load[T validator](environ map[string]string) (T, error) {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	cfg, err := env.ParseAsWithOptions[T](opts)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		var zero T
		return zero, err
	}
	return cfg, nil
}

func (c Lambda) validate() error {
	c.ParamPrefix = strings.TrimSpace(c.ParamPrefix)
	if !strings.HasPrefix(c.ParamPrefix, "/") {
		return errors.New("config: PARAM_PREFIX must start with /")
	}
	return c.Common.validate()
}

func (c Local) validate() error {
	if strings.TrimSpace(c.SQLitePath) == "" {
		return errors.New("config: SQLITE_PATH must not be empty")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("config: HTTP_PORT %d out of range", c.HTTPPort)
	}
	return c.Common.validate()
}

func (c Common) validate() error {
	if c.SearchResultCount < 1 || c.SearchResultCount > 10 {
		return fmt.Errorf("config: SEARCH_RESULT_COUNT must be between 1 and 10, got %d", c.SearchResultCount)
	}
	if c.MaxQueryLength <= 0 {
		return errors.New("config: MAX_QUERY_LENGTH must be positive")
	}
	if c.ModelMaxResponseBytes <= 0 || c.SearchMaxResponseBytes <= 0 {
		return errors.New("config: response size budgets must be positive")
	}
	if c.ModelCallTimeout <= 0 || c.SearchCallTimeout <= 0 {
		return errors.New("config: call timeouts must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// ModelBudget is the per-call quota for generative model calls.
func (c Common) ModelBudget() gateway.Budget {
	return gateway.Budget{MaxResponseBytes: c.ModelMaxResponseBytes, Timeout: c.ModelCallTimeout}
}

// SearchBudget is the per-call quota for search calls.
func (c Common) SearchBudget() gateway.Budget {
	return gateway.Budget{MaxResponseBytes: c.SearchMaxResponseBytes, Timeout: c.SearchCallTimeout}
}

func (c Common) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return level, nil
}

// LoadDotEnv loads the given .env files (".env" when none are given) into
// the process environment. Missing files are skipped; variables already set
// win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}
