package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// ErrReceiptNotFound is returned by Get for an unknown id.
var ErrReceiptNotFound = errors.New("receipt not found")

// Receipt records one inbound webhook request and how it was handled.
// The body itself is never stored, only its BLAKE3 digest and size.
type Receipt struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	Receiver   string    `json:"receiver"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Method     string    `json:"method"`
	Events     []string  `json:"events"`
	Outcome    string    `json:"outcome"`
	Stage      string    `json:"stage"`
	Status     int       `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	BodyDigest string    `json:"body_digest"`
	BodySize   int       `json:"body_size"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// BodyDigest returns the hex BLAKE3-256 digest of body.
func BodyDigest(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ReceiptStore persists receipts in SQLite.
type ReceiptStore struct {
	db *sql.DB
}

// NewReceiptStore wraps db.
func NewReceiptStore(db *sql.DB) *ReceiptStore {
	return &ReceiptStore{db: db}
}

// Record inserts r, assigning an ID and ReceivedAt when unset.
func (s *ReceiptStore) Record(ctx context.Context, r *Receipt) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	events := r.Events
	if events == nil {
		events = []string{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO receipts(id, request_id, receiver, receiver_id, method, events, outcome, stage, status, reason, body_digest, body_size, remote_addr, received_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		r.ID, r.RequestID, r.Receiver, r.ReceiverID, r.Method, string(eventsJSON),
		r.Outcome, r.Stage, r.Status, r.Reason, r.BodyDigest, r.BodySize, r.RemoteAddr,
		r.ReceivedAt.UTC().Format(TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

const receiptColumns = `id, COALESCE(request_id, ''), receiver, receiver_id, method, events, outcome, stage, status,
COALESCE(reason, ''), body_digest, body_size, COALESCE(remote_addr, ''), received_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r          Receipt
		eventsJSON string
		receivedAt string
	)
	if err := row.Scan(&r.ID, &r.RequestID, &r.Receiver, &r.ReceiverID, &r.Method, &eventsJSON,
		&r.Outcome, &r.Stage, &r.Status, &r.Reason, &r.BodyDigest, &r.BodySize, &r.RemoteAddr, &receivedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventsJSON), &r.Events); err != nil {
		return nil, fmt.Errorf("decode events for receipt %s: %w", r.ID, err)
	}
	t, err := time.Parse(TimeFormat, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("parse received_at for receipt %s: %w", r.ID, err)
	}
	r.ReceivedAt = t
	return &r, nil
}

// Get returns one receipt by id.
func (s *ReceiptStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?;`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	return r, nil
}

// RecentFilter narrows Recent.
type RecentFilter struct {
	Receiver string
	Limit    int
}

// Recent returns receipts newest-first.
func (s *ReceiptStore) Recent(ctx context.Context, f RecentFilter) ([]*Receipt, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	query := `SELECT ` + receiptColumns + ` FROM receipts`
	args := []any{}
	if f.Receiver != "" {
		query += ` WHERE receiver = ?`
		args = append(args, f.Receiver)
	}
	query += ` ORDER BY received_at DESC, id DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes receipts older than retention and returns the count removed.
func (s *ReceiptStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(TimeFormat)
	res, err := s.db.ExecContext(ctx, `DELETE FROM receipts WHERE received_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune receipts: %w", err)
	}
	return res.RowsAffected()
}
