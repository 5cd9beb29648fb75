package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hookline/internal/storage"
)

const maxErrorBytes = 4 * 1024

// Queue is the SQLite-backed outbound delivery queue.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func ts(t time.Time) string { return t.UTC().Format(storage.TimeFormat) }

func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Target == "" {
		return "", fmt.Errorf("target is empty")
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("payload is empty")
	}

	id := uuid.NewString()
	now := q.now()
	next := now
	if req.NotBefore.After(now) {
		next = req.NotBefore
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var receiptID any
	if req.ReceiptID != "" {
		receiptID = req.ReceiptID
	}

	_, err := q.db.ExecContext(ctx, `
INSERT INTO deliveries(id, target, receipt_id, payload, status, attempt, max_attempts, created_at, updated_at, next_at)
VALUES(?, ?, ?, ?, ?, 0, ?, ?, ?, ?);
`, id, req.Target, receiptID, string(req.Payload), StatusQueued, maxAttempts, ts(now), ts(now), ts(next))
	if err != nil {
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	return id, nil
}

const deliveryColumns = `id, target, COALESCE(receipt_id, ''), payload, status, attempt, max_attempts,
created_at, updated_at, next_at, COALESCE(last_status, 0), COALESCE(last_error, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*Delivery, error) {
	var (
		d                            Delivery
		payload, status              string
		createdAt, updatedAt, nextAt string
	)
	if err := row.Scan(&d.ID, &d.Target, &d.ReceiptID, &payload, &status, &d.Attempt, &d.MaxAttempts,
		&createdAt, &updatedAt, &nextAt, &d.LastStatus, &d.LastError); err != nil {
		return nil, err
	}
	d.Payload = []byte(payload)
	d.Status = Status(status)
	for _, f := range []struct {
		s   string
		dst *time.Time
	}{{createdAt, &d.CreatedAt}, {updatedAt, &d.UpdatedAt}, {nextAt, &d.NextAt}} {
		t, err := time.Parse(storage.TimeFormat, f.s)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp for delivery %s: %w", d.ID, err)
		}
		*f.dst = t
	}
	return &d, nil
}

// Dequeue claims the oldest due delivery, marks it sending and increments its
// attempt counter. Returns (nil, nil) if nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	now := ts(q.now())

	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT id
  FROM deliveries
  WHERE status IN (?, ?) AND next_at <= ?
  ORDER BY next_at ASC, rowid ASC
  LIMIT 1
)
UPDATE deliveries
SET status = ?, attempt = attempt + 1, updated_at = ?
WHERE id IN (SELECT id FROM next)
RETURNING `+deliveryColumns+`;
`, StatusQueued, StatusFailed, now, StatusSending, now)

	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue delivery: %w", err)
	}
	return d, nil
}

// Complete marks a delivery delivered or dead and appends to delivery_log.
func (q *Queue) Complete(ctx context.Context, id string, status Status, httpStatus int, lastError string) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}
	return q.transition(ctx, id, status, httpStatus, lastError, time.Time{})
}

// Retry records a failed attempt and schedules the next one at nextAt.
func (q *Queue) Retry(ctx context.Context, id string, nextAt time.Time, httpStatus int, lastError string) error {
	return q.transition(ctx, id, StatusFailed, httpStatus, lastError, nextAt)
}

func (q *Queue) transition(ctx context.Context, id string, status Status, httpStatus int, lastError string, nextAt time.Time) error {
	if id == "" {
		return fmt.Errorf("delivery id is empty")
	}
	if len(lastError) > maxErrorBytes {
		lastError = lastError[:maxErrorBytes]
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempt int
	err = tx.QueryRowContext(ctx, `SELECT attempt FROM deliveries WHERE id = ?;`, id).Scan(&attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDeliveryNotFound
	}
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}

	now := q.now()
	var httpVal, errVal any
	if httpStatus != 0 {
		httpVal = httpStatus
	}
	if lastError != "" {
		errVal = lastError
	}

	if nextAt.IsZero() {
		_, err = tx.ExecContext(ctx, `
UPDATE deliveries SET status = ?, updated_at = ?, last_status = ?, last_error = ? WHERE id = ?;
`, status, ts(now), httpVal, errVal, id)
	} else {
		_, err = tx.ExecContext(ctx, `
UPDATE deliveries SET status = ?, updated_at = ?, next_at = ?, last_status = ?, last_error = ? WHERE id = ?;
`, status, ts(now), ts(nextAt), httpVal, errVal, id)
	}
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO delivery_log(delivery_id, attempt, status, http_status, error, logged_at)
VALUES(?, ?, ?, ?, ?, ?);
`, id, attempt, status, httpVal, errVal, ts(now))
	if err != nil {
		return fmt.Errorf("insert delivery_log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns one delivery by id.
func (q *Queue) Get(ctx context.Context, id string) (*Delivery, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?;`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ByReceipt returns the deliveries spawned by one receipt, oldest first.
func (q *Queue) ByReceipt(ctx context.Context, receiptID string) ([]*Delivery, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE receipt_id = ? ORDER BY created_at ASC, id ASC;`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("query deliveries by receipt: %w", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// History returns the attempt log for a delivery, oldest first.
func (q *Queue) History(ctx context.Context, id string) ([]Attempt, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT attempt, status, COALESCE(http_status, 0), COALESCE(error, ''), logged_at
FROM delivery_log WHERE delivery_id = ? ORDER BY id ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("query delivery_log: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a        Attempt
			status   string
			loggedAt string
		)
		if err := rows.Scan(&a.Attempt, &status, &a.HTTPStatus, &a.Error, &loggedAt); err != nil {
			return nil, fmt.Errorf("scan delivery_log: %w", err)
		}
		a.Status = Status(status)
		if t, err := time.Parse(storage.TimeFormat, loggedAt); err == nil {
			a.LoggedAt = t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Depth returns the number of deliveries not yet terminal.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM deliveries WHERE status IN (?, ?, ?);
`, StatusQueued, StatusSending, StatusFailed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// PruneTerminal deletes delivered and dead deliveries last updated before
// retention ago, along with their attempt log.
func (q *Queue) PruneTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := ts(q.now().Add(-retention))
	res, err := q.db.ExecContext(ctx, `
DELETE FROM deliveries WHERE status IN (?, ?) AND updated_at < ?;
`, StatusDelivered, StatusDead, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}

// RecoverInFlight returns deliveries left in sending by a previous process to
// queued. The interrupted attempt is not counted.
func (q *Queue) RecoverInFlight(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
UPDATE deliveries SET status = ?, attempt = MAX(attempt - 1, 0), updated_at = ? WHERE status = ?;
`, StatusQueued, ts(q.now()), StatusSending)
	if err != nil {
		return 0, fmt.Errorf("recover in-flight deliveries: %w", err)
	}
	return res.RowsAffected()
}
