package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hookline/internal/auth"
	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/storage"
	"github.com/mattjoyce/hookline/internal/tracing"
)

// ReceiptReader defines the read side of the receipt store.
type ReceiptReader interface {
	Get(ctx context.Context, id string) (*storage.Receipt, error)
	Recent(ctx context.Context, f storage.RecentFilter) ([]*storage.Receipt, error)
}

// DeliveryQueue defines the outbound queue operations the API exposes.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Get(ctx context.Context, id string) (*queue.Delivery, error)
	History(ctx context.Context, id string) ([]queue.Attempt, error)
	Depth(ctx context.Context) (int, error)
}

// ReceiverCatalog describes configured receivers.
type ReceiverCatalog interface {
	Names() []string
	Lookup(name string) (receiver.Metadata, bool)
}

// HandlerIndex reports which receivers have handlers.
type HandlerIndex interface {
	Registered(receiver string) bool
}

// SecretIndex lists the sub-ids with a configured secret. Values are never exposed.
type SecretIndex interface {
	IDs(receiver string) []string
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is a single bearer token with admin/full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// Targets are the outbound targets POST /deliveries may address.
	Targets map[string]config.TargetConfig
	// MaxAttempts applies to targets without their own limit.
	MaxAttempts int
	Tracing     bool
}

// Deps are the collaborators of a Server. Deliveries may be nil when the
// sender is not configured.
type Deps struct {
	Receipts   ReceiptReader
	Deliveries DeliveryQueue
	Receivers  ReceiverCatalog
	Handlers   HandlerIndex
	Secrets    SecretIndex
	Events     *events.Hub
	Logger     *slog.Logger
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	events    *events.Hub
	// draining is closed when shutdown begins so streams end and Shutdown can drain.
	draining  chan struct{}
	drainOnce sync.Once
}

// New creates a new API server instance
func New(config Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := deps.Events
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
		events:    hub,
		draining:  make(chan struct{}),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams indefinitely
		IdleTimeout:  60 * time.Second,
	}
	s.server.RegisterOnShutdown(func() {
		s.drainOnce.Do(func() { close(s.draining) })
	})

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the HTTP handler, instrumented when tracing is enabled.
func (s *Server) Handler() http.Handler {
	return tracing.WrapHandler(s.config.Tracing, "api", s.setupRoutes())
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeReceiptsRO)).Get("/receivers", s.handleListReceivers)
		r.With(s.requireScopes(auth.ScopeReceiptsRO)).Get("/receipts", s.handleListReceipts)
		r.With(s.requireScopes(auth.ScopeReceiptsRO)).Get("/receipts/{receiptID}", s.handleGetReceipt)
		r.With(s.requireScopes(auth.ScopeDeliveriesRW)).Post("/deliveries", s.handleEnqueueDelivery)
		r.With(s.requireScopes(auth.ScopeDeliveriesRO)).Get("/deliveries/{deliveryID}", s.handleGetDelivery)
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
