package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/sender/mocks"
	"github.com/mattjoyce/hookline/internal/storage"
)

const testSecret = "outbound-secret-0123456789"

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func storedPayload(t *testing.T) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(NewPayload(map[string]any{"receiver": "github"}, "push"))
	require.NoError(t, err)
	return b
}

func newDelivery(t *testing.T, attempt, maxAttempts int) *queue.Delivery {
	return &queue.Delivery{
		ID:          "d1",
		Target:      "ops",
		Payload:     storedPayload(t),
		Status:      queue.StatusSending,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
}

type received struct {
	body      []byte
	signature string
	header    http.Header
}

func targetServer(t *testing.T, status int, got *received) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if got != nil {
			got.body = body
			got.signature = r.Header.Get(SignatureHeader)
			got.header = r.Header.Clone()
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newWorker(q DeliveryQueue, url string, hub *events.Hub) (*Worker, *TestLogBuffer) {
	logger, buf := NewTestSlogger()
	targets := map[string]Target{"ops": {URL: url, Secret: testSecret, Headers: map[string]string{"X-Env": "test"}}}
	w := New(q, targets, Options{BackoffBase: time.Minute, BackoffMax: time.Hour}, hub, logger)
	w.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return w, buf
}

func TestProcessOneDelivered(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var got received
	srv := targetServer(t, http.StatusOK, &got)
	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	hub := events.NewHub(16)
	w, _ := newWorker(mockQueue, srv.URL, hub)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(newDelivery(t, 1, 4), nil)
	mockQueue.EXPECT().Complete(gomock.Any(), "d1", queue.StatusDelivered, http.StatusOK, "").Return(nil)

	sent, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, Signature(testSecret, got.body), got.signature)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Equal(t, "test", got.header.Get("X-Env"))

	var p Payload
	require.NoError(t, json.Unmarshal(got.body, &p))
	assert.Equal(t, "d1", p.ID)
	assert.Equal(t, 1, p.Attempt)
	require.Len(t, p.Notifications, 1)
	assert.Equal(t, "push", p.Notifications[0].Action())
	assert.Equal(t, "github", p.Properties["receiver"])

	snap := hub.SnapshotSince(0)
	require.Len(t, snap, 1)
	assert.Equal(t, events.DeliveryDelivered, snap[0].Type)
}

func TestProcessOneGoneIsDead(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := targetServer(t, http.StatusGone, nil)
	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, _ := newWorker(mockQueue, srv.URL, nil)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(newDelivery(t, 1, 4), nil)
	mockQueue.EXPECT().Complete(gomock.Any(), "d1", queue.StatusDead, http.StatusGone, gomock.Any()).Return(nil)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
}

func TestProcessOneRetriesWithBackoff(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := targetServer(t, http.StatusServiceUnavailable, nil)
	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, buf := newWorker(mockQueue, srv.URL, nil)
	want := w.now().Add(2 * time.Minute)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(newDelivery(t, 2, 4), nil)
	mockQueue.EXPECT().Retry(gomock.Any(), "d1", want, http.StatusServiceUnavailable, "target returned 503").Return(nil)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "will retry")
}

func TestProcessOneExhaustedIsDead(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := targetServer(t, http.StatusInternalServerError, nil)
	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, _ := newWorker(mockQueue, srv.URL, nil)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(newDelivery(t, 4, 4), nil)
	mockQueue.EXPECT().Complete(gomock.Any(), "d1", queue.StatusDead, http.StatusInternalServerError, "target returned 500").Return(nil)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
}

func TestProcessOneNetworkErrorRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := targetServer(t, http.StatusOK, nil)
	url := srv.URL
	srv.Close()

	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, _ := newWorker(mockQueue, url, nil)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(newDelivery(t, 1, 4), nil)
	mockQueue.EXPECT().Retry(gomock.Any(), "d1", gomock.Any(), 0, gomock.Any()).Return(nil)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
}

func TestProcessOneUnknownTargetIsDead(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, _ := newWorker(mockQueue, "http://127.0.0.1:1", nil)

	d := newDelivery(t, 1, 4)
	d.Target = "removed"
	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(d, nil)
	mockQueue.EXPECT().Complete(gomock.Any(), "d1", queue.StatusDead, 0, "target not configured").Return(nil)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
}

func TestProcessOneEmptyAndErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, _ := newWorker(mockQueue, "http://127.0.0.1:1", nil)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, nil)
	sent, err := w.ProcessOne(context.Background())
	assert.NoError(t, err)
	assert.False(t, sent)

	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, errors.New("db locked"))
	_, err = w.ProcessOne(context.Background())
	assert.EqualError(t, err, "db locked")
}

func TestStartRecoversInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockQueue := mocks.NewMockDeliveryQueue(ctrl)
	w, buf := newWorker(mockQueue, "http://127.0.0.1:1", nil)

	mockQueue.EXPECT().RecoverInFlight(gomock.Any()).Return(int64(2), nil)
	mockQueue.EXPECT().Dequeue(gomock.Any()).Return(nil, nil).AnyTimes()

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	assert.Contains(t, buf.String(), "re-queued interrupted deliveries")

	failing, _ := newWorker(mockQueue, "http://127.0.0.1:1", nil)
	mockQueue.EXPECT().RecoverInFlight(gomock.Any()).Return(int64(0), errors.New("db error"))
	assert.Error(t, failing.Start(context.Background()))
}

func TestDelay(t *testing.T) {
	logger, _ := NewTestSlogger()
	w := New(nil, nil, Options{BackoffBase: time.Minute, BackoffMax: 3 * time.Minute}, nil, logger)

	assert.Equal(t, time.Minute, w.Delay(1))
	assert.Equal(t, 2*time.Minute, w.Delay(2))
	assert.Equal(t, 3*time.Minute, w.Delay(3))
	assert.Equal(t, 3*time.Minute, w.Delay(10))

	jittered := New(nil, nil, Options{BackoffBase: time.Minute, BackoffMax: time.Hour, Jitter: 0.5}, nil, logger)
	for range 50 {
		d := jittered.Delay(1)
		assert.GreaterOrEqual(t, d, 30*time.Second)
		assert.LessOrEqual(t, d, 90*time.Second)
	}
}

func TestEncode(t *testing.T) {
	body, err := Encode(storedPayload(t), "abc", 3)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Id":"abc","Attempt":3,"Properties":{"receiver":"github"},"Notifications":[{"Action":"push"}]}`, string(body))

	_, err = Encode(json.RawMessage(`{"Notifications":[]}`), "abc", 1)
	assert.Error(t, err)
	_, err = Encode(json.RawMessage(`{"Notifications":[{"Other":1}]}`), "abc", 1)
	assert.Error(t, err)
	_, err = Encode(json.RawMessage(`not json`), "abc", 1)
	assert.Error(t, err)
}

// End to end against the SQLite queue: two failures then success.
func TestWorkerWithSQLiteQueue(t *testing.T) {
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	q := queue.New(db)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logger, _ := NewTestSlogger()
	w := New(q, map[string]Target{"ops": {URL: srv.URL, Secret: testSecret}},
		Options{BackoffBase: time.Millisecond, BackoffMax: time.Millisecond}, nil, logger)

	ctx := context.Background()
	id, err := q.Enqueue(ctx, queue.EnqueueRequest{Target: "ops", Payload: storedPayload(t), MaxAttempts: 5})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		if _, err := w.ProcessOne(ctx); err != nil {
			return false
		}
		d, err := q.Get(ctx, id)
		return err == nil && d.Status == queue.StatusDelivered
	}, 5*time.Second, 5*time.Millisecond)

	history, err := q.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, queue.StatusFailed, history[0].Status)
	assert.Equal(t, http.StatusBadGateway, history[0].HTTPStatus)
	assert.Equal(t, queue.StatusDelivered, history[2].Status)
	assert.Equal(t, 3, history[2].Attempt)
}
