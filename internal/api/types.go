package api

import (
	"time"

	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/storage"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Receivers     int    `json:"receivers"`
	Registered    int    `json:"registered"`
}

// ReceiverSummary describes one receiver in GET /receivers.
type ReceiverSummary struct {
	Name       string   `json:"name"`
	Body       string   `json:"body"`
	Mode       string   `json:"mode"`
	Verifies   bool     `json:"verifies"`
	Registered bool     `json:"registered"`
	Handshake  []string `json:"handshake,omitempty"`
	SecretIDs  []string `json:"secret_ids"`
}

// ReceiverListResponse is returned by GET /receivers.
type ReceiverListResponse struct {
	Receivers []ReceiverSummary `json:"receivers"`
}

// ReceiptListResponse is returned by GET /receipts.
type ReceiptListResponse struct {
	Receipts []*storage.Receipt `json:"receipts"`
}

// DeliveryRequest is the JSON body for POST /deliveries.
type DeliveryRequest struct {
	Target      string         `json:"target"`
	Actions     []string       `json:"actions"`
	Properties  map[string]any `json:"properties,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	// NotBefore delays the first attempt.
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// DeliveryResponse is returned on successful enqueue.
type DeliveryResponse struct {
	DeliveryID string `json:"delivery_id"`
	Status     string `json:"status"`
	Target     string `json:"target"`
}

// DeliveryStatusResponse is returned by GET /deliveries/{id}.
type DeliveryStatusResponse struct {
	*queue.Delivery
	History []queue.Attempt `json:"history"`
}
