package sender

import (
	"context"
	"time"

	"github.com/mattjoyce/hookline/internal/queue"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks github.com/mattjoyce/hookline/internal/sender DeliveryQueue

// DeliveryQueue defines the queue operations used by the sender.
type DeliveryQueue interface {
	Dequeue(ctx context.Context) (*queue.Delivery, error)
	Complete(ctx context.Context, id string, status queue.Status, httpStatus int, lastError string) error
	Retry(ctx context.Context, id string, nextAt time.Time, httpStatus int, lastError string) error
	RecoverInFlight(ctx context.Context) (int64, error)
}
