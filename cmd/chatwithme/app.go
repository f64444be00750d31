package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/chat"
	"github.com/KamdynS/chatwithme/config"
	"github.com/KamdynS/chatwithme/llm"
	"github.com/KamdynS/chatwithme/llm/gemini"
	"github.com/KamdynS/chatwithme/llm/openai"
	"github.com/KamdynS/chatwithme/llm/retrieval"
	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/memory/inmemory"
	"github.com/KamdynS/chatwithme/memory/postgres"
	"github.com/KamdynS/chatwithme/memory/redis"
	"github.com/KamdynS/chatwithme/memory/sqlite"
	"github.com/KamdynS/chatwithme/observability"
	"github.com/KamdynS/chatwithme/observability/otel"
	"github.com/KamdynS/chatwithme/observability/prom"
	httpserver "github.com/KamdynS/chatwithme/server/http"
)

// app holds the wired components of a running server
type app struct {
	store  memory.Store
	router *llm.Router
	server *httpserver.Server
	log    *logrus.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	logger.WithField("driver", cfg.Store.Driver).Info("Conversation store ready")

	exporter := prom.New()
	tracer := otel.NewTracer("chatwithme", nil)
	router, err := newRouter(cfg, logger, exporter, tracer)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	for _, m := range router.Models() {
		logger.WithFields(logrus.Fields{"model": m.ID, "configured": m.Configured}).Info("Model registered")
	}

	// the titler checks its credentials per request
	titler, err := openai.NewClient(cfg.Groq.LLM())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("groq: %w", err)
	}
	svc, err := chat.NewService(chat.Config{
		Store:    store,
		Router:   router,
		Titler:   titler,
		Searcher: retrieval.NewClient(cfg.RAG.LLM()),
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	server := httpserver.NewServer(svc, router, auth.NewJWTResolver(cfg.Auth.Secret), httpserver.Config{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		EnableCORS:      cfg.Server.EnableCORS,
		Logger:          logger,
		Metrics:         exporter,
		Tracer:          tracer,
		MetricsHandler:  prom.Handler(exporter),
	})

	return &app{store: store, router: router, server: server, log: logger}, nil
}

// Close releases the store
func (a *app) Close() error {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Closing store failed")
		return err
	}
	return nil
}

// openStore opens the conversation store selected by cfg.Driver
func openStore(ctx context.Context, cfg config.StoreConfig) (memory.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return inmemory.NewStore(), nil
	case config.DriverSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case config.DriverPostgres:
		return postgres.Connect(ctx, cfg.DatabaseURL)
	case config.DriverRedis:
		return redis.Connect(ctx, cfg.RedisURL, cfg.RedisPrefix, cfg.RedisTTL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newRouter builds one provider per model from cfg. Providers without
// credentials are still registered and report themselves unconfigured.
func newRouter(cfg *config.Config, logger logrus.FieldLogger, metrics observability.Metrics, tracer observability.Tracer) (*llm.Router, error) {
	groq, err := openai.NewClient(cfg.Groq.LLM())
	if err != nil {
		return nil, fmt.Errorf("groq: %w", err)
	}
	return llm.NewRouter(llm.RouterConfig{
		Providers: map[llm.ModelID]llm.Provider{
			llm.ModelFast:      groq,
			llm.ModelHosted:    gemini.NewClient(cfg.Gemini.LLM()),
			llm.ModelRetrieval: retrieval.NewClient(cfg.RAG.LLM()),
		},
		Fallback: llm.NewResponder(cfg.Fallback.Delay),
		Logger:   logger,
		Metrics:  metrics,
		Tracer:   tracer,
	})
}
