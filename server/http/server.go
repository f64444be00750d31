package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/chat"
	"github.com/KamdynS/chatwithme/llm"
	"github.com/KamdynS/chatwithme/observability"
)

// Catalog exposes the model list served by GET /models
type Catalog interface {
	Models() []llm.ModelInfo
	Default() llm.ModelID
}

// Server exposes the chat service over HTTP
type Server struct {
	chat     *chat.Service
	catalog  Catalog
	resolver auth.Resolver
	config   Config
	log      logrus.FieldLogger
	metrics  observability.Metrics
	tracer   observability.Tracer
	router   chi.Router
	server   *http.Server
	active   int64
}

// Config holds HTTP server configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	EnableCORS      bool
	// MaxBodyBytes caps request bodies (1 MiB when zero)
	MaxBodyBytes int64

	Logger  logrus.FieldLogger
	Metrics observability.Metrics
	Tracer  observability.Tracer
	// MetricsHandler serves GET /metrics when set
	MetricsHandler http.Handler
}

// NewServer creates a new HTTP server for the chat service
func NewServer(svc *chat.Service, catalog Catalog, resolver auth.Resolver, config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 15 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 60 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Metrics == nil {
		config.Metrics = &observability.NoOpMetrics{}
	}
	if config.Tracer == nil {
		config.Tracer = &observability.NoOpTracer{}
	}

	s := &Server{
		chat:     svc,
		catalog:  catalog,
		resolver: resolver,
		config:   config,
		log:      config.Logger.WithField("component", "http"),
		metrics:  config.Metrics,
		tracer:   config.Tracer,
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	if config.EnableCORS {
		r.Use(corsMiddleware)
	}
	s.setupRoutes(r)
	s.router = r

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      config.WriteTimeout,
	}
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(r chi.Router) {
	r.Get("/health", s.healthHandler)
	r.Get("/models", s.modelsHandler)
	if s.config.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.config.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.resolver))
		r.Post("/chat", s.sendHandler)
		r.Get("/chat/history", s.historyHandler)
		r.Get("/chat/{id}", s.conversationHandler)
		r.Patch("/chat/{id}", s.renameHandler)
		r.Delete("/chat/{id}", s.deleteHandler)
		r.Post("/chat/cleanup", s.cleanupHandler)
		r.Get("/preferences", s.preferencesHandler)
		r.Put("/preferences", s.updatePreferencesHandler)
		r.Post("/search", s.searchHandler)
	})
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestIDMiddleware propagates or assigns X-Request-ID
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.ExtractHTTPContext(r.Context(), r)
		if _, ok := observability.RequestIDFromContext(ctx); !ok {
			ctx = observability.WithRequestID(ctx, observability.GenerateRequestID())
		}
		observability.InjectHTTPHeaders(w, ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs request start/end with timing, records metrics and
// wraps the request in a span
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := observability.RequestIDFromContext(r.Context())
		span, ctx := s.tracer.StartSpan(r.Context(), "http.request")
		defer span.End()
		r = r.WithContext(ctx)
		s.metrics.SetActiveRequests(int(atomic.AddInt64(&s.active, 1)))
		defer func() {
			s.metrics.SetActiveRequests(int(atomic.AddInt64(&s.active, -1)))
		}()

		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"event":      "started",
		}).Debug("Request started")

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		labels := map[string]string{
			"route":       route,
			"method":      r.Method,
			"status_code": strconv.Itoa(status),
		}
		s.metrics.IncrementRequests(labels)
		s.metrics.RecordLatency(time.Since(start), labels)

		span.SetAttribute(observability.AttrHTTPMethod, r.Method)
		span.SetAttribute(observability.AttrHTTPRoute, route)
		span.SetAttribute(observability.AttrHTTPStatus, status)
		if status >= http.StatusInternalServerError {
			span.SetStatus(observability.StatusCodeError, http.StatusText(status))
		}

		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"event":      "completed",
		}).Info("Request completed")
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", observability.HeaderRequestID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.config.Addr).Info("HTTP server starting")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
