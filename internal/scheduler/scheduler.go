// Package scheduler runs periodic maintenance: pruning receipts and finished
// deliveries past the configured retention.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/events"
)

// Options tune the scheduler. A zero Retention disables pruning.
type Options struct {
	Interval  time.Duration
	Retention time.Duration
}

// OptionsFromConfig maps service settings to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Interval:  cfg.Service.MaintenanceInterval,
		Retention: cfg.Service.ReceiptRetention,
	}
}

// Scheduler prunes storage on a fixed interval.
type Scheduler struct {
	opts       Options
	receipts   ReceiptPruner
	deliveries DeliveryPruner
	events     events.Publisher
	logger     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Scheduler. deliveries may be nil when no queue is in use.
func New(opts Options, receipts ReceiptPruner, deliveries DeliveryPruner, hub events.Publisher, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = config.Defaults().Service.MaintenanceInterval
	}
	if hub == nil {
		hub = events.NewHub(16)
	}
	return &Scheduler{
		opts:       opts,
		receipts:   receipts,
		deliveries: deliveries,
		events:     hub,
		logger:     logger.With("component", "scheduler"),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the tick loop. The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("starting scheduler", "interval", s.opts.Interval, "retention", s.opts.Retention)
	s.wg.Add(1)
	go s.tickLoop(ctx)
	return nil
}

// Stop waits for the running pass to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	s.Tick(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one maintenance pass. Failures are logged and retried on the
// next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.opts.Retention <= 0 {
		return
	}

	var receipts, deliveries int64
	if s.receipts != nil {
		n, err := s.receipts.Prune(ctx, s.opts.Retention)
		if err != nil {
			s.logger.Error("failed to prune receipts", "error", err)
		}
		receipts = n
	}
	if s.deliveries != nil {
		n, err := s.deliveries.PruneTerminal(ctx, s.opts.Retention)
		if err != nil {
			s.logger.Error("failed to prune deliveries", "error", err)
		}
		deliveries = n
	}

	if receipts == 0 && deliveries == 0 {
		s.logger.Debug("maintenance pass found nothing to prune")
		return
	}
	s.logger.Info("pruned expired records", "receipts", receipts, "deliveries", deliveries)
	s.events.Publish(events.MaintenancePruned, map[string]any{
		"receipts":   receipts,
		"deliveries": deliveries,
	})
}
