package queue

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of an outbound delivery.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	// StatusFailed is a failed attempt awaiting retry at NextAt.
	StatusFailed    Status = "failed"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

// Terminal reports whether no further attempts will be made.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusDead
}

// Delivery is one outbound webhook notification to a target.
type Delivery struct {
	ID          string          `json:"id"`
	Target      string          `json:"target"`
	ReceiptID   string          `json:"receipt_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	NextAt      time.Time       `json:"next_at"`
	LastStatus  int             `json:"last_status,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// EnqueueRequest describes a new delivery.
type EnqueueRequest struct {
	Target      string
	ReceiptID   string
	Payload     json.RawMessage
	MaxAttempts int
	// NotBefore delays the first attempt.
	NotBefore time.Time
}

// Attempt is one row of a delivery's history.
type Attempt struct {
	Attempt    int       `json:"attempt"`
	Status     Status    `json:"status"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Error      string    `json:"error,omitempty"`
	LoggedAt   time.Time `json:"logged_at"`
}

var ErrDeliveryNotFound = errors.New("delivery not found")

// DefaultMaxAttempts applies when EnqueueRequest.MaxAttempts is zero.
const DefaultMaxAttempts = 4
