// Package sender delivers queued outbound notifications to configured targets.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/tracing"
)

const (
	userAgent        = "hookline-sender/1"
	maxResponseBytes = 64 * 1024
)

// Target is where and how a delivery is sent.
type Target struct {
	URL     string
	Secret  string
	Headers map[string]string
}

// TargetsFromConfig converts configured targets.
func TargetsFromConfig(cfg map[string]config.TargetConfig) map[string]Target {
	out := make(map[string]Target, len(cfg))
	for name, t := range cfg {
		out[name] = Target{URL: t.URL, Secret: t.Secret, Headers: t.Headers}
	}
	return out
}

// Options tune the worker. Zero values take config.DefaultSenderConfig().
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter  float64
	Tracing bool
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// OptionsFromConfig maps sender and tracing config to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval: cfg.Sender.PollInterval,
		Timeout:      cfg.Sender.Timeout,
		BackoffBase:  cfg.Sender.BackoffBase,
		BackoffMax:   cfg.Sender.BackoffMax,
		Jitter:       0.2,
		Tracing:      cfg.Tracing.Enabled,
	}
}

// Worker polls the delivery queue and sends due deliveries one at a time.
type Worker struct {
	queue   DeliveryQueue
	targets map[string]Target
	opts    Options
	client  *http.Client
	events  events.Publisher
	logger  *slog.Logger
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a sender Worker.
func New(q DeliveryQueue, targets map[string]Target, opts Options, hub events.Publisher, logger *slog.Logger) *Worker {
	def := config.DefaultSenderConfig()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = def.BackoffMax
	}
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Worker{
		queue:   q,
		targets: targets,
		opts:    opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: tracing.Transport(opts.Tracing, opts.Transport),
		},
		events: hub,
		logger: logger.With("component", "sender"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start recovers deliveries interrupted by a previous run and begins polling.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("starting sender", "targets", len(w.targets))

	n, err := w.queue.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("sender crash recovery failed: %w", err)
	}
	if n > 0 {
		w.logger.Warn("re-queued interrupted deliveries", "count", n)
	}

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop waits for the in-flight delivery to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	w.logger.Info("sender stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything due before sleeping again.
		for {
			sent, err := w.ProcessOne(ctx)
			if err != nil {
				w.logger.Error("sender poll failed", "error", err)
				break
			}
			if !sent {
				break
			}
			select {
			case <-w.stopCh:
				return
			default:
			}
		}

		select {
		case <-ticker.C:
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ProcessOne sends at most one due delivery. It reports whether one was sent.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	d, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	return true, w.deliver(ctx, d)
}

func (w *Worker) deliver(ctx context.Context, d *queue.Delivery) error {
	logger := w.logger.With("delivery_id", d.ID, "target", d.Target, "attempt", d.Attempt)

	target, ok := w.targets[d.Target]
	if !ok {
		logger.Error("delivery target not configured")
		return w.dead(ctx, d, 0, "target not configured")
	}

	body, err := Encode(d.Payload, d.ID, d.Attempt)
	if err != nil {
		logger.Error("invalid delivery payload", "error", err)
		return w.dead(ctx, d, 0, err.Error())
	}

	status, sendErr := w.send(ctx, target, body)
	switch {
	case sendErr == nil && status >= 200 && status < 300:
		logger.Info("delivery sent", "http_status", status)
		if err := w.queue.Complete(ctx, d.ID, queue.StatusDelivered, status, ""); err != nil {
			return fmt.Errorf("complete delivery %s: %w", d.ID, err)
		}
		w.events.Publish(events.DeliveryDelivered, map[string]any{
			"delivery_id": d.ID, "target": d.Target, "attempt": d.Attempt, "http_status": status,
		})
		return nil

	case sendErr == nil && status == http.StatusGone:
		logger.Warn("target is gone, dropping delivery")
		return w.dead(ctx, d, status, "target returned 410 Gone")
	}

	reason := fmt.Sprintf("target returned %d", status)
	if sendErr != nil {
		reason = sendErr.Error()
	}
	if d.Attempt >= d.MaxAttempts {
		logger.Warn("delivery attempts exhausted", "http_status", status, "error", reason)
		return w.dead(ctx, d, status, reason)
	}

	nextAt := w.now().Add(w.Delay(d.Attempt))
	logger.Info("delivery failed, will retry", "http_status", status, "error", reason, "next_at", nextAt)
	if err := w.queue.Retry(ctx, d.ID, nextAt, status, reason); err != nil {
		return fmt.Errorf("retry delivery %s: %w", d.ID, err)
	}
	w.events.Publish(events.DeliveryRetry, map[string]any{
		"delivery_id": d.ID, "target": d.Target, "attempt": d.Attempt, "http_status": status, "next_at": nextAt,
	})
	return nil
}

func (w *Worker) dead(ctx context.Context, d *queue.Delivery, status int, reason string) error {
	if err := w.queue.Complete(ctx, d.ID, queue.StatusDead, status, reason); err != nil {
		return fmt.Errorf("complete delivery %s: %w", d.ID, err)
	}
	w.events.Publish(events.DeliveryDead, map[string]any{
		"delivery_id": d.ID, "target": d.Target, "attempt": d.Attempt, "http_status": status, "reason": reason,
	})
	return nil
}

func (w *Worker) send(ctx context.Context, target Target, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(SignatureHeader, Signature(target.Secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

// Delay returns the wait before the attempt after attempt (1-based).
func (w *Worker) Delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.BackoffBase
	b.MaxInterval = w.opts.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = w.opts.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
