// Package config loads server configuration from an optional TOML file and
// the process environment.
//
// Precedence, lowest first: built-in defaults, the TOML file, environment
// variables. Values that look like template placeholders
// ("your-groq-api-key-here") count as unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/KamdynS/chatwithme/llm"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the root configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Log      LogConfig      `toml:"log"`
	Auth     AuthConfig     `toml:"auth"`
	Store    StoreConfig    `toml:"store"`
	Groq     ProviderConfig `toml:"groq"`
	Gemini   ProviderConfig `toml:"gemini"`
	RAG      ProviderConfig `toml:"rag"`
	Fallback FallbackConfig `toml:"fallback"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	EnableCORS      bool          `toml:"enable_cors"`
}

// LogConfig configures logrus
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// AuthConfig holds the session token secret
type AuthConfig struct {
	Secret string `toml:"secret"`
}

// StoreConfig selects and configures the conversation store
type StoreConfig struct {
	Driver      string        `toml:"driver"`
	SQLitePath  string        `toml:"sqlite_path"`
	DatabaseURL string        `toml:"database_url"`
	RedisURL    string        `toml:"redis_url"`
	RedisPrefix string        `toml:"redis_prefix"`
	RedisTTL    time.Duration `toml:"redis_ttl"`
}

// ProviderConfig configures one upstream model provider. For the RAG
// backend BaseURL is the query endpoint.
type ProviderConfig struct {
	APIKey      string        `toml:"api_key"`
	Model       string        `toml:"model"`
	BaseURL     string        `toml:"base_url"`
	Temperature float64       `toml:"temperature"`
	MaxTokens   int           `toml:"max_tokens"`
	Timeout     time.Duration `toml:"timeout"`
}

// FallbackConfig configures the canned responder
type FallbackConfig struct {
	Delay time.Duration `toml:"delay"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Driver:      DriverSQLite,
			SQLitePath:  "data/chatwithme.db",
			RedisPrefix: "chatwithme",
		},
	}
}

// Load builds the configuration from path (skipped when empty) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg. Unknown keys are an error.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnvOverrides overlays environment variables on the configuration.
// Malformed numeric or duration values are ignored.
func (c *Config) ApplyEnvOverrides() {
	setString := func(dst *string, name string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	setString(&c.Groq.APIKey, "GROQ_API_KEY")
	setString(&c.Groq.Model, "GROQ_MODEL")
	setString(&c.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&c.Gemini.Model, "GEMINI_MODEL")
	setString(&c.RAG.APIKey, "RAG_API_KEY")
	setString(&c.RAG.BaseURL, "RAG_API_URL")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")
	setString(&c.Store.RedisURL, "REDIS_URL")
	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")
	setString(&c.Auth.Secret, "AUTH_SECRET")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := os.Getenv("HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("FALLBACK_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Fallback.Delay = d
		} else if ms, err := strconv.Atoi(v); err == nil {
			c.Fallback.Delay = time.Duration(ms) * time.Millisecond
		}
	}
}

// SetDefaults fills zero values and normalises case
func (c *Config) SetDefaults() {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Store.Driver == "" {
		c.Store.Driver = d.Store.Driver
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = d.Store.SQLitePath
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = d.Store.RedisPrefix
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Store.Driver = strings.ToLower(c.Store.Driver)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. Missing provider credentials are not
// an error: the router falls back for those models.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("port %d out of range", c.Server.Port)})
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{"log.level", err.Error()})
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, ValidationError{"log.format", fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format)})
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, ValidationError{"store.database_url", "required for the postgres driver"})
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, ValidationError{"store.redis_url", "required for the redis driver"})
		}
	default:
		errs = append(errs, ValidationError{"store.driver", fmt.Sprintf("invalid driver '%s', must be one of: memory, sqlite, postgres, redis", c.Store.Driver)})
	}

	for name, p := range map[string]ProviderConfig{"groq": c.Groq, "gemini": c.Gemini, "rag": c.RAG} {
		if p.Temperature < 0 || p.Temperature > 2 {
			errs = append(errs, ValidationError{name + ".temperature", "must be between 0 and 2"})
		}
		if p.MaxTokens < 0 {
			errs = append(errs, ValidationError{name + ".max_tokens", "must be non-negative"})
		}
	}
	if c.Fallback.Delay < 0 {
		errs = append(errs, ValidationError{"fallback.delay", "must be non-negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// IsPlaceholder reports whether v is empty or a template placeholder
func IsPlaceholder(v string) bool {
	return !llm.HasCredential(v)
}

// LLM converts a provider section into the adapter config
func (p ProviderConfig) LLM() llm.Config {
	return llm.Config{
		APIKey:      p.APIKey,
		Model:       p.Model,
		BaseURL:     p.BaseURL,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     p.Timeout,
	}
}

// Addr is the listen address for the HTTP server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ErrNoAuthSecret is returned by RequireAuthSecret
var ErrNoAuthSecret = errors.New("auth.secret (AUTH_SECRET) is not set")

// RequireAuthSecret reports an error when no usable session secret is set
func (c *Config) RequireAuthSecret() error {
	if IsPlaceholder(c.Auth.Secret) {
		return ErrNoAuthSecret
	}
	return nil
}

// NewLogger builds a logrus logger from the log section
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
