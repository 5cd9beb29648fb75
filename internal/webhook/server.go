package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mattjoyce/hookline/internal/dispatch"
	"github.com/mattjoyce/hookline/internal/event"
	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/log"
	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/secrets"
	"github.com/mattjoyce/hookline/internal/storage"
	"github.com/mattjoyce/hookline/internal/tracing"
	"github.com/mattjoyce/hookline/internal/verify"
)

// Deps are the collaborators of a Server. Receipts and Events are optional.
type Deps struct {
	Receivers  *receiver.Table
	Secrets    secrets.Resolver
	Dispatcher *dispatch.Dispatcher
	Receipts   ReceiptRecorder
	Events     events.Publisher
	Logger     *slog.Logger
}

// Server represents the webhook HTTP server.
type Server struct {
	config   Config
	deps     Deps
	logger   *slog.Logger
	limiters *limiters
	server   *http.Server
	now      func() time.Time
}

// New creates a new webhook server instance.
func New(config Config, deps Deps) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.WithComponent("webhook")
	}
	return &Server{
		config:   config,
		deps:     deps,
		logger:   logger,
		limiters: newLimiters(config.RateLimit, config.ReceiverRateLimits),
		now:      time.Now,
	}
}

// DefaultMaxBodySize applies when Config.MaxBodySize is unset.
const DefaultMaxBodySize = 1 << 20

// Start listens on Config.Listen and serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("webhook server error: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It returns only
// after in-flight requests have finished or the shutdown timeout expires.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", ln.Addr().String(), "receivers", len(s.deps.Receivers.Names()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the HTTP handler, instrumented when tracing is enabled.
func (s *Server) Handler() http.Handler {
	return tracing.WrapHandler(s.config.Tracing, "webhook", s.setupRoutes())
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.HandleFunc(BasePath+"/{receiver}", s.handleWebhook)
	r.HandleFunc(BasePath+"/{receiver}/{id}", s.handleWebhook)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "not found")
	})

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "receiver"))
	id := chi.URLParam(r, "id")
	logger := log.WithReceiver(s.logger, name, id)

	meta, ok := s.deps.Receivers.Lookup(name)
	if !ok || !s.deps.Dispatcher.Registered(name) {
		logger.Info("webhook rejected", "stage", dispatch.StageReceived, "reason", "unknown receiver")
		s.publish(events.WebhookRejected, name, id, dispatch.Unknown())
		s.respondError(w, http.StatusNotFound, "unknown receiver")
		return
	}

	switch r.Method {
	case http.MethodPost:
	case http.MethodGet, http.MethodHead:
		s.handleHandshake(w, r, meta, logger)
		return
	default:
		s.methodNotAllowed(w, meta)
		return
	}

	if !s.limiters.allow(name) {
		logger.Warn("webhook rejected", "stage", dispatch.StageReceived, "reason", "rate limited")
		s.publish(events.WebhookRejected, name, id, dispatch.Reject(dispatch.StageReceived, http.StatusTooManyRequests, "rate limited"))
		w.Header().Set("Retry-After", "1")
		s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	limit := meta.MaxBodySize
	if limit <= 0 {
		limit = s.config.MaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > limit {
		logger.Warn("webhook rejected", "stage", dispatch.StageReceived, "reason", "payload too large", "limit", limit)
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	req := &receiver.Request{
		ReceiptID: uuid.NewString(),
		Receiver:  meta.Name,
		ID:        id,
		Method:    r.Method,
		URL:       s.signedURL(r),
		Body:      body,
		Header:    r.Header.Clone(),
		Query:     r.URL.Query(),
	}
	s.publish(events.WebhookReceived, name, id, dispatch.Outcome{Stage: dispatch.StageReceived})

	out := s.process(r.Context(), meta, req, logger)
	if out.Kind == dispatch.Completed && out.Body == nil && meta.Ack != nil {
		out.Header = http.Header{"Content-Type": {meta.Ack.ContentType}}
		out.Body = []byte(meta.Ack.Body)
	}

	s.record(r, req, out, logger)
	s.publish(eventType(out), name, id, out)
	s.writeOutcome(w, out)
}

// process runs verification, extraction and dispatch for one POST.
func (s *Server) process(ctx context.Context, meta receiver.Metadata, req *receiver.Request, logger *slog.Logger) dispatch.Outcome {
	in := dispatch.Input{Request: req, MismatchStatus: meta.RejectStatus()}

	if meta.Verifies() {
		res, cfgErr, err := s.verify(meta, req)
		if err != nil {
			logger.Info("webhook rejected", "stage", dispatch.StageVerifying, "reason", "malformed body", "error", err)
			return dispatch.Reject(dispatch.StageVerifying, http.StatusBadRequest, "malformed body")
		}
		if res != verify.Verified || cfgErr != nil {
			if res == verify.MissingHeader || res == verify.BadEncoding {
				logger.Info("signature header problem", "header", signatureLocation(meta.Signature))
			}
			in.Result, in.ConfigErr = res, cfgErr
			return s.deps.Dispatcher.Dispatch(ctx, in)
		}
	}
	in.Result = verify.Verified

	names, err := event.Extract(req, meta.Event)
	switch {
	case errors.Is(err, event.ErrMalformedBody):
		logger.Info("webhook rejected", "stage", dispatch.StageExtracting, "reason", "malformed body")
		return dispatch.Reject(dispatch.StageExtracting, http.StatusBadRequest, "malformed body")
	case err != nil && !errors.Is(err, event.ErrMissingEvent):
		logger.Error("event extraction failed", "error", err)
		return dispatch.Reject(dispatch.StageExtracting, http.StatusBadRequest, "missing event")
	}
	in.Events = names

	if meta.PingEvent != "" && len(names) == 1 && strings.EqualFold(names[0], meta.PingEvent) {
		logger.Info("webhook ping", "event", names[0])
		return dispatch.Outcome{Kind: dispatch.Completed, Stage: dispatch.StageCompleted, At: dispatch.StageExtracting, Status: http.StatusOK, Reason: "ping", Events: names}
	}

	return s.deps.Dispatcher.Dispatch(ctx, in)
}

// verify authenticates req. cfgErr reports a misconfigured secret; bodyErr is
// set only when the body holding a shared code cannot be parsed.
func (s *Server) verify(meta receiver.Metadata, req *receiver.Request) (res verify.Result, cfgErr, bodyErr error) {
	spec := meta.Signature

	secret, err := s.deps.Secrets.Resolve(req.Receiver, req.SecretID())
	if errors.Is(err, secrets.ErrNotConfigured) {
		return verify.SecretNotConfigured, nil, nil
	}
	if err != nil {
		return verify.SecretNotConfigured, err, nil
	}

	switch spec.Mode {
	case receiver.ModeCode:
		values, err := event.Values(req, spec.CodeSource, spec.CodeKey)
		if err != nil {
			return verify.BadEncoding, nil, err
		}
		presented := ""
		if len(values) > 0 {
			presented = values[0]
		}
		res, cfgErr = verify.Code(presented, secret, spec.MinSecretLength, spec.MaxSecretLength)
		return res, cfgErr, nil

	default:
		if err := verify.CheckSecretLength(secret, spec.MinSecretLength, spec.MaxSecretLength); err != nil {
			return verify.SecretNotConfigured, err, nil
		}
		res = verify.HMAC(verify.Input{
			Body:   req.Body,
			Header: req.Header.Get(spec.Header),
			Secret: secret,
			Spec:   spec,
			URL:    req.URL,
			Now:    s.now(),
		})
		return res, nil, nil
	}
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request, meta receiver.Metadata, logger *slog.Logger) {
	hs, ok := meta.HandshakeFor(r.Method)
	if !ok {
		s.methodNotAllowed(w, meta)
		return
	}

	switch hs.Mode {
	case receiver.HandshakeChallenge:
		challenge := r.URL.Query().Get(hs.Param)
		if challenge == "" {
			logger.Info("handshake rejected", "reason", "missing challenge", "param", hs.Param)
			s.respondError(w, http.StatusBadRequest, "missing "+hs.Param+" parameter")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = io.WriteString(w, challenge)
		}
	default:
		w.WriteHeader(http.StatusOK)
	}
	logger.Debug("handshake answered", "method", r.Method, "mode", hs.Mode)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, meta receiver.Metadata) {
	allowed := []string{http.MethodPost}
	if meta.Handshake != nil {
		allowed = append(allowed, meta.Handshake.Methods...)
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// signedURL is the absolute URL a vendor signs. Behind a proxy the request's
// own host differs, so PublicBaseURL takes precedence.
func (s *Server) signedURL(r *http.Request) string {
	if s.config.PublicBaseURL != "" {
		return s.config.PublicBaseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (s *Server) record(r *http.Request, req *receiver.Request, out dispatch.Outcome, logger *slog.Logger) {
	if s.deps.Receipts == nil {
		return
	}
	rec := &storage.Receipt{
		ID:         req.ReceiptID,
		RequestID:  middleware.GetReqID(r.Context()),
		Receiver:   req.Receiver,
		ReceiverID: req.ID,
		Method:     req.Method,
		Events:     out.Events,
		Outcome:    out.Kind.String(),
		Stage:      string(out.At),
		Status:     out.Status,
		Reason:     out.Reason,
		BodyDigest: storage.BodyDigest(req.Body),
		BodySize:   len(req.Body),
		RemoteAddr: r.RemoteAddr,
		ReceivedAt: s.now().UTC(),
	}
	// Recorded even when the client has gone away.
	if err := s.deps.Receipts.Record(context.WithoutCancel(r.Context()), rec); err != nil {
		logger.Error("failed to record receipt", "error", err)
	}
}

func (s *Server) publish(eventType, receiverName, id string, out dispatch.Outcome) {
	if s.deps.Events == nil {
		return
	}
	data := map[string]any{
		"receiver": receiverName,
		"stage":    out.Stage,
	}
	if id != "" {
		data["receiver_id"] = id
	}
	if out.Status != 0 {
		data["status"] = out.Status
	}
	if out.Reason != "" {
		data["reason"] = out.Reason
	}
	if len(out.Events) > 0 {
		data["events"] = out.Events
	}
	if len(out.Invoked) > 0 {
		data["handlers"] = out.Invoked
	}
	s.deps.Events.Publish(eventType, data)
}

func eventType(out dispatch.Outcome) string {
	switch out.Kind {
	case dispatch.Completed:
		return events.WebhookDispatched
	case dispatch.Faulted:
		return events.WebhookFaulted
	default:
		return events.WebhookRejected
	}
}

func (s *Server) writeOutcome(w http.ResponseWriter, out dispatch.Outcome) {
	switch out.Kind {
	case dispatch.Completed:
		for k, v := range out.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(out.Status)
		if len(out.Body) > 0 {
			_, _ = w.Write(out.Body)
		}
	case dispatch.Faulted:
		s.respondError(w, out.Status, "internal error")
	default:
		s.respondError(w, out.Status, out.Reason)
	}
}

func signatureLocation(spec receiver.SignatureSpec) string {
	if spec.Mode == receiver.ModeCode {
		return string(spec.CodeSource) + ":" + spec.CodeKey
	}
	return spec.Header
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
