package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattjoyce/hookline/internal/storage"
)

func openQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := New(db)
	q.now = func() time.Time { return clock }
	return q, &clock
}

func payload(id string) json.RawMessage {
	return json.RawMessage(`{"Id":"` + id + `","Attempt":1}`)
}

func TestQueueEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()
	q, _ := openQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("a")})
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	id2, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("b"), MaxAttempts: 2})
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}

	d1, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue 1: %v", err)
	}
	if d1 == nil || d1.ID != id1 || d1.Status != StatusSending || d1.Attempt != 1 {
		t.Fatalf("unexpected delivery1: %#v", d1)
	}
	if d1.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want %d", d1.MaxAttempts, DefaultMaxAttempts)
	}

	d2, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue 2: %v", err)
	}
	if d2 == nil || d2.ID != id2 || d2.MaxAttempts != 2 {
		t.Fatalf("unexpected delivery2: %#v", d2)
	}
	if string(d2.Payload) != string(payload("b")) {
		t.Fatalf("payload = %s", d2.Payload)
	}

	d3, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue 3: %v", err)
	}
	if d3 != nil {
		t.Fatalf("expected empty queue, got %#v", d3)
	}
}

func TestQueueEnqueueValidates(t *testing.T) {
	t.Parallel()
	q, _ := openQueue(t)

	if _, err := q.Enqueue(context.Background(), EnqueueRequest{Payload: payload("a")}); err == nil {
		t.Fatal("expected error for empty target")
	}
	if _, err := q.Enqueue(context.Background(), EnqueueRequest{Target: "ops"}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestQueueRetryDelaysNextAttempt(t *testing.T) {
	t.Parallel()
	q, clock := openQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("a")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Retry(ctx, id, clock.Add(time.Minute), 503, "service unavailable"); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue before due: %v", err)
	}
	if d != nil {
		t.Fatalf("delivery dequeued before next_at: %#v", d)
	}

	*clock = clock.Add(2 * time.Minute)
	d, err = q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue after due: %v", err)
	}
	if d == nil || d.ID != id || d.Attempt != 2 {
		t.Fatalf("unexpected delivery: %#v", d)
	}
	if d.LastStatus != 503 || d.LastError != "service unavailable" {
		t.Fatalf("last attempt not recorded: %#v", d)
	}
}

func TestQueueCompleteWritesDeliveryLog(t *testing.T) {
	t.Parallel()
	q, clock := openQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("a")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Retry(ctx, id, *clock, 500, "boom"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Complete(ctx, id, StatusDelivered, 200, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	d, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Status != StatusDelivered || d.LastStatus != 200 || d.LastError != "" {
		t.Fatalf("unexpected delivery: %#v", d)
	}

	history, err := q.History(ctx, id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 delivery_log rows, got %d", len(history))
	}
	if history[0].Status != StatusFailed || history[0].HTTPStatus != 500 || history[0].Attempt != 1 {
		t.Fatalf("unexpected first attempt: %#v", history[0])
	}
	if history[1].Status != StatusDelivered || history[1].Attempt != 2 {
		t.Fatalf("unexpected second attempt: %#v", history[1])
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Fatalf("Depth = %d, want 0", depth)
	}
}

func TestQueueCompleteRejectsNonTerminal(t *testing.T) {
	t.Parallel()
	q, _ := openQueue(t)

	if err := q.Complete(context.Background(), "x", StatusQueued, 0, ""); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
	if err := q.Complete(context.Background(), "missing", StatusDead, 410, ""); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("Complete missing = %v, want ErrDeliveryNotFound", err)
	}
	if _, err := q.Get(context.Background(), "missing"); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("Get missing = %v, want ErrDeliveryNotFound", err)
	}
}

func TestQueueRecoverInFlight(t *testing.T) {
	t.Parallel()
	q, _ := openQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("a")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	n, err := q.RecoverInFlight(ctx)
	if err != nil {
		t.Fatalf("RecoverInFlight: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d, want 1", n)
	}

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d == nil || d.ID != id || d.Attempt != 1 {
		t.Fatalf("unexpected delivery after recovery: %#v", d)
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("Depth = %d, want 1", depth)
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusDead} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusSending, StatusFailed} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestQueueByReceipt(t *testing.T) {
	t.Parallel()
	q, clock := openQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", ReceiptID: "r1", Payload: payload("a")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	*clock = clock.Add(time.Second)
	second, err := q.Enqueue(ctx, EnqueueRequest{Target: "crm", ReceiptID: "r1", Payload: payload("b")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", ReceiptID: "r2", Payload: payload("c")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.ByReceipt(ctx, "r1")
	if err != nil {
		t.Fatalf("ByReceipt: %v", err)
	}
	if len(got) != 2 || got[0].ID != first || got[1].ID != second {
		t.Fatalf("ByReceipt(r1) = %#v", got)
	}

	none, err := q.ByReceipt(ctx, "missing")
	if err != nil {
		t.Fatalf("ByReceipt: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no deliveries, got %d", len(none))
	}
}

func TestQueuePruneTerminal(t *testing.T) {
	t.Parallel()
	q, clock := openQueue(t)
	ctx := context.Background()

	done, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("a")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Complete(ctx, done, StatusDelivered, 200, ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	pending, err := q.Enqueue(ctx, EnqueueRequest{Target: "ops", Payload: payload("b")})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	*clock = clock.Add(48 * time.Hour)

	n, err := q.PruneTerminal(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneTerminal: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d deliveries, want 1", n)
	}
	if _, err := q.Get(ctx, done); !errors.Is(err, ErrDeliveryNotFound) {
		t.Fatalf("Get pruned = %v, want ErrDeliveryNotFound", err)
	}
	history, err := q.History(ctx, done)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("delivery_log rows should cascade, got %d", len(history))
	}
	if _, err := q.Get(ctx, pending); err != nil {
		t.Fatalf("pending delivery should survive: %v", err)
	}

	if n, err := q.PruneTerminal(ctx, 0); err != nil || n != 0 {
		t.Fatalf("PruneTerminal(0) = %d, %v", n, err)
	}
}
