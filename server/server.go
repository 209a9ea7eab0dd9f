package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/core"
	"github.com/hupe1980/supportmesh/logging"
	"github.com/hupe1980/supportmesh/observability"
)

const (
	tracerName = "github.com/hupe1980/supportmesh/server"

	// HeaderUserID and HeaderSessionID route a turn to its session.
	HeaderUserID    = "user_id"
	HeaderSessionID = "session_id"
	// HeaderTurnID is set on /invoke responses.
	HeaderTurnID = "X-Turn-ID"

	maxBodyBytes = 1 << 20
)

// Options configures the HTTP server.
type Options struct {
	// AppName is the app component of every session key.
	AppName string
	// MetricsHandler serves GET /metrics; nil disables the route.
	MetricsHandler    http.Handler
	Recorder          observability.Recorder
	Tracer            trace.Tracer
	RateLimit         float64
	RateBurst         int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            logging.Logger
}

// Server is the HTTP surface of a runner.
type Server struct {
	runner core.Runner
	opts   Options
	router chi.Router
}

// New builds the router. ctx bounds background work such as the rate
// limiter's cleanup loop.
func New(ctx context.Context, runner core.Runner, optFns ...func(o *Options)) *Server {
	opts := Options{
		AppName:           "customer_support",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Recorder == nil {
		opts.Recorder = observability.NoopRecorder{}
	}

	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{runner: runner, opts: opts}
	s.router = s.routes(ctx)

	return s
}

func (s *Server) routes(ctx context.Context) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMiddleware(s.opts.Tracer, s.opts.Recorder, routePattern))

	r.Get("/ping", handlePing)

	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(newRateLimiter(ctx, s.opts.RateLimit, s.opts.RateBurst).middleware)
		}

		r.Post("/invoke", s.handleInvoke)
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves addr until ctx is cancelled, then shuts down
// gracefully within ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		s.opts.Logger.Info("server.start", "addr", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}

		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}

		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()

	s.opts.Logger.Info("server.shutdown")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong!"))
}

type invokeRequest struct {
	Prompt string         `json:"prompt"`
	State  map[string]any `json:"state,omitempty"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var body invokeRequest

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req := core.TurnRequest{
		AppName:   s.opts.AppName,
		UserID:    r.Header.Get(HeaderUserID),
		SessionID: r.Header.Get(HeaderSessionID),
		Prompt:    body.Prompt,
		State:     body.State,
		Headers:   r.Header.Clone(),
	}

	turnID, events, err := s.runner.RunTurn(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}

		writeJSONError(w, status, err.Error())

		return
	}

	logger := logging.With(s.opts.Logger, "turn_id", turnID, "request_id", middleware.GetReqID(r.Context()))

	w.Header().Set(HeaderTurnID, turnID)
	sse := newSSEWriter(w)
	w.WriteHeader(http.StatusOK)

	for ev := range events {
		if err := sse.write(frameOf(ev)); err != nil {
			// A failed write is a disconnect: stop the turn, the runner
			// persists it as cancelled.
			logger.Warn("server.stream.write.error", "error", err.Error())

			if cerr := s.runner.Cancel(turnID); cerr != nil {
				logger.Debug("server.stream.cancel", "error", cerr.Error())
			}

			return
		}
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorFrame{Error: msg})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}

	return "unmatched"
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.opts.Logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
