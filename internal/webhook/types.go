package webhook

import (
	"context"

	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/storage"
)

// ReceiptRecorder persists one receipt per handled request.
type ReceiptRecorder interface {
	Record(ctx context.Context, r *storage.Receipt) error
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	// PublicBaseURL, when set, replaces scheme and host of URLs that receivers sign.
	PublicBaseURL string
	// MaxBodySize applies to receivers without their own limit.
	MaxBodySize int64
	RateLimit   config.RateLimitConfig
	// ReceiverRateLimits override RateLimit per receiver name.
	ReceiverRateLimits map[string]config.RateLimitConfig
	Tracing            bool
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Path prefix for inbound webhooks.
const BasePath = "/api/webhooks/incoming"
