package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_pruner.go -package=mocks github.com/mattjoyce/hookline/internal/scheduler ReceiptPruner,DeliveryPruner

// ReceiptPruner deletes receipts older than a retention window.
type ReceiptPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// DeliveryPruner deletes finished deliveries older than a retention window.
type DeliveryPruner interface {
	PruneTerminal(ctx context.Context, retention time.Duration) (int64, error)
}
