package supportmesh

import (
	"context"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/supportmesh/auth"
	"github.com/hupe1980/supportmesh/config"
	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/embedding"
	"github.com/hupe1980/supportmesh/knowledge"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/memory"
	"github.com/hupe1980/supportmesh/model"
	"github.com/hupe1980/supportmesh/model/anthropic"
	"github.com/hupe1980/supportmesh/model/openai"
	"github.com/hupe1980/supportmesh/session"
)

// closer releases a resource acquired while wiring.
type closer func(ctx context.Context) error

func ioCloser(c io.Closer) closer {
	return func(context.Context) error { return c.Close() }
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Config{Level: level, Format: cfg.Format, Output: out}), nil
}

// NewModel builds the configured provider wrapped in a circuit breaker.
func NewModel(cfg config.ModelConfig, logger logging.Logger) (model.Model, error) {
	var m model.Model

	switch cfg.Provider {
	case "openai":
		m = openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}

			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		})
	case "anthropic":
		m = anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}

			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		})
	case "scripted":
		// Offline smoke testing: every call answers with a fixed text.
		sm := model.NewScriptedModel("scripted")
		sm.Fallback = func(model.Request) model.Step { return model.Text("This is a scripted reply.") }
		m = sm
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}

	return model.NewBreaker(m, func(o *model.BreakerOptions) {
		o.MaxFailures = cfg.Breaker.MaxFailures
		o.Timeout = cfg.Breaker.Timeout
		o.Logger = logger
	}), nil
}

// NewEmbedder builds the embedder shared by memory and knowledge.
func NewEmbedder(cfg config.EmbeddingConfig) (core.Embedder, error) {
	switch cfg.Provider {
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimensions), nil
	case "openai":
		return openai.NewEmbedder(func(o *openai.EmbedderOptions) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}

			if cfg.Dimensions > 0 {
				o.Dimensions = cfg.Dimensions
			}

			o.APIKey = cfg.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}

// NewSessionStore builds short-term memory.
func NewSessionStore(cfg config.SessionConfig, logger logging.Logger) (core.SessionStore, closer, error) {
	if cfg.Backend == "memory" {
		return session.NewInMemoryStore(), nil, nil
	}

	store, err := session.OpenSQLStore(cfg.Backend, cfg.DSN, func(o *session.SQLOptions) {
		o.Logger = logger
	})
	if err != nil {
		return nil, nil, err
	}

	return store, ioCloser(store), nil
}

// NewLongTermMemory builds the long-term memory backend.
func NewLongTermMemory(cfg config.MemoryConfig, embedder core.Embedder, logger logging.Logger) (core.LongTermMemory, closer, error) {
	opt := func(o *memory.Options) {
		o.Embedder = embedder
		o.Logger = logger
		o.Collection = cfg.Collection
	}

	switch cfg.Backend {
	case "memory":
		return memory.NewInMemoryStore(opt), nil, nil
	case "chromem":
		if cfg.Path != "" {
			store, err := memory.NewPersistentChromemStore(cfg.Path, false, opt)
			return store, nil, err
		}

		store, err := memory.NewChromemStore(nil, opt)

		return store, nil, err
	case "sqlite":
		store, err := memory.NewSQLiteStore(cfg.Path, opt)
		if err != nil {
			return nil, nil, err
		}

		return store, ioCloser(store), nil
	case "qdrant":
		store, err := memory.NewQdrantStore(memory.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		}, opt)
		if err != nil {
			return nil, nil, err
		}

		return store, ioCloser(store), nil
	default:
		return nil, nil, fmt.Errorf("unsupported memory backend %q", cfg.Backend)
	}
}

// NewKnowledgeBase loads the knowledge directory. It returns nil when no
// directory is configured.
func NewKnowledgeBase(ctx context.Context, cfg config.KnowledgeConfig, embedder core.Embedder, logger logging.Logger) (core.KnowledgeBase, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	kb, err := knowledge.NewChromemBase(nil, func(o *knowledge.Options) {
		o.Embedder = embedder
		o.Logger = logger
		o.Collection = cfg.Collection
	})
	if err != nil {
		return nil, err
	}

	n, err := kb.LoadDirectory(ctx, cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("load knowledge from %s: %w", cfg.Directory, err)
	}

	logger.Info("knowledge.loaded", "collection", cfg.Collection, "documents", n, "chunks", kb.Count())

	return kb, nil
}

// NewIdentityResolver builds the resolver the auth gate consults.
func NewIdentityResolver(ctx context.Context, cfg config.AuthConfig) (auth.IdentityResolver, error) {
	switch cfg.Mode {
	case "static":
		return auth.NewStaticResolver(cfg.DefaultCustomerID), nil
	case "header":
		return auth.NewHeaderResolver(cfg.Header), nil
	case "jwt":
		return auth.NewJWTResolver(ctx, func(o *auth.JWTOptions) {
			o.Secret = cfg.JWT.Secret
			o.JWKSURL = cfg.JWT.JWKSURL
			o.Issuer = cfg.JWT.Issuer
			o.Audience = cfg.JWT.Audience
			o.Claim = cfg.JWT.Claim
		})
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}
