// Package config loads the process configuration once at startup: YAML with
// ${VAR} / ${VAR:-default} expansion, optional .env files, defaults and
// validation. The resulting Config is passed by pointer into constructors;
// request handling never looks configuration up globally.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Server        ServerConfig        `yaml:"server"`
	Runner        RunnerConfig        `yaml:"runner"`
	Session       SessionConfig       `yaml:"session"`
	Memory        MemoryConfig        `yaml:"memory"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Auth          AuthConfig          `yaml:"auth"`
	Model         ModelConfig         `yaml:"model"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AppConfig names the application; it is the app component of session keys.
type AppConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is the sustained requests per second allowed per client.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// RunnerConfig configures turn orchestration.
type RunnerConfig struct {
	MaxDelegationDepth int           `yaml:"max_delegation_depth"`
	EventBuffer        int           `yaml:"event_buffer"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	// RememberTurns defaults to true.
	RememberTurns *bool `yaml:"remember_turns"`
}

// Remember reports whether successful turns are written to long-term memory.
func (c RunnerConfig) Remember() bool { return c.RememberTurns == nil || *c.RememberTurns }

// SessionConfig selects the short-term memory backend.
type SessionConfig struct {
	Backend string `yaml:"backend"` // memory, sqlite, postgres
	DSN     string `yaml:"dsn"`
}

// QdrantConfig addresses a qdrant instance.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// MemoryConfig selects the long-term memory backend.
type MemoryConfig struct {
	Backend    string       `yaml:"backend"` // memory, chromem, sqlite, qdrant
	TopK       int          `yaml:"top_k"`
	Collection string       `yaml:"collection"`
	Path       string       `yaml:"path"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// KnowledgeConfig binds the product knowledge base.
type KnowledgeConfig struct {
	Collection string `yaml:"collection"`
	Directory  string `yaml:"directory"`
	TopK       int    `yaml:"top_k"`
}

// Enabled reports whether a knowledge directory is configured.
func (c KnowledgeConfig) Enabled() bool { return c.Directory != "" }

// JWTConfig configures bearer token validation.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	JWKSURL  string `yaml:"jwks_url"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	Claim    string `yaml:"claim"`
}

// AuthConfig selects how the gate derives identity.
type AuthConfig struct {
	Mode              string    `yaml:"mode"` // static, header, jwt
	DefaultCustomerID string    `yaml:"default_customer_id"`
	Header            string    `yaml:"header"`
	JWT               JWTConfig `yaml:"jwt"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ModelConfig selects the inference provider.
type ModelConfig struct {
	Provider        string        `yaml:"provider"` // openai, anthropic, scripted
	Name            string        `yaml:"name"`
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Temperature     float64       `yaml:"temperature"`
	MaxTokens       int64         `yaml:"max_tokens"`
	IncludeThoughts bool          `yaml:"include_thoughts"`
	ThinkingBudget  int           `yaml:"thinking_budget"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// EmbeddingConfig selects the embedder.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // hash, openai
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"api_key"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// On reports whether metrics are enabled (default true).
func (c MetricsConfig) On() bool { return c.Enabled == nil || *c.Enabled }

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter     string  `yaml:"exporter"` // none, stdout, otlp
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// ObservabilityConfig groups metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	setDefault(&c.App.Name, "customer_support")

	setDefault(&c.Server.Addr, ":8000")
	setDefault(&c.Server.ReadHeaderTimeout, 10*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 15*time.Second)

	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		c.Server.RateBurst = max(1, int(c.Server.RateLimit))
	}

	setDefault(&c.Runner.MaxDelegationDepth, 3)
	setDefault(&c.Runner.EventBuffer, 64)
	setDefault(&c.Runner.TurnTimeout, 2*time.Minute)

	setDefault(&c.Session.Backend, "memory")

	setDefault(&c.Memory.Backend, "memory")
	setDefault(&c.Memory.TopK, 3)
	setDefault(&c.Memory.Collection, "customer_memory")
	setDefault(&c.Memory.Qdrant.Port, 6334)

	setDefault(&c.Knowledge.Collection, "product_docs")
	setDefault(&c.Knowledge.TopK, 4)

	setDefault(&c.Auth.Mode, "static")
	setDefault(&c.Auth.DefaultCustomerID, "CUST001")
	setDefault(&c.Auth.Header, "user_id")
	setDefault(&c.Auth.JWT.Claim, "customer_id")

	setDefault(&c.Model.Provider, "openai")
	setDefault(&c.Model.Temperature, 0.7)
	setDefault(&c.Model.MaxTokens, int64(4096))
	setDefault(&c.Model.ThinkingBudget, 1024)
	setDefault(&c.Model.Breaker.MaxFailures, uint32(5))
	setDefault(&c.Model.Breaker.Timeout, 30*time.Second)

	setDefault(&c.Embedding.Provider, "hash")
	setDefault(&c.Embedding.Dimensions, 256)

	setDefault(&c.Observability.Tracing.Exporter, "none")
	setDefault(&c.Observability.Tracing.SamplingRate, 1.0)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks enumerations and cross-field requirements. All problems
// are reported together.
func (c *Config) Validate() error {
	var errs []error

	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}

		errs = append(errs, fmt.Errorf("%s: unsupported value %q (allowed: %s)", field, value, strings.Join(allowed, ", ")))
	}

	check("session.backend", c.Session.Backend, "memory", "sqlite", "postgres")
	check("memory.backend", c.Memory.Backend, "memory", "chromem", "sqlite", "qdrant")
	check("auth.mode", c.Auth.Mode, "static", "header", "jwt")
	check("model.provider", c.Model.Provider, "openai", "anthropic", "scripted")
	check("embedding.provider", c.Embedding.Provider, "hash", "openai")
	check("observability.tracing.exporter", c.Observability.Tracing.Exporter, "none", "stdout", "otlp")
	check("logging.format", c.Logging.Format, "json", "text")

	if c.Session.Backend != "memory" && c.Session.DSN == "" {
		errs = append(errs, fmt.Errorf("session.dsn is required for backend %q", c.Session.Backend))
	}

	if c.Memory.Backend == "sqlite" && c.Memory.Path == "" {
		errs = append(errs, errors.New("memory.path is required for the sqlite backend"))
	}

	if c.Memory.Backend == "qdrant" && c.Memory.Qdrant.Host == "" {
		errs = append(errs, errors.New("memory.qdrant.host is required for the qdrant backend"))
	}

	if c.Auth.Mode == "jwt" && (c.Auth.JWT.Secret == "") == (c.Auth.JWT.JWKSURL == "") {
		errs = append(errs, errors.New("auth.jwt: exactly one of secret or jwks_url is required"))
	}

	if c.Runner.MaxDelegationDepth < 1 {
		errs = append(errs, errors.New("runner.max_delegation_depth must be at least 1"))
	}

	if c.Memory.TopK < 1 || c.Knowledge.TopK < 1 {
		errs = append(errs, errors.New("top_k values must be positive"))
	}

	if r := c.Observability.Tracing.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("observability.tracing.sampling_rate must be within [0,1]"))
	}

	if c.Observability.Tracing.Exporter == "otlp" && c.Observability.Tracing.Endpoint == "" {
		errs = append(errs, errors.New("observability.tracing.endpoint is required for the otlp exporter"))
	}

	return errors.Join(errs...)
}
