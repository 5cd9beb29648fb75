package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/hookline/internal/auth"
	"github.com/mattjoyce/hookline/internal/config"
	"github.com/mattjoyce/hookline/internal/events"
	"github.com/mattjoyce/hookline/internal/queue"
	"github.com/mattjoyce/hookline/internal/receiver"
	"github.com/mattjoyce/hookline/internal/sender"
	"github.com/mattjoyce/hookline/internal/storage"
)

// mockReceipts implements ReceiptReader for testing
type mockReceipts struct {
	getFunc    func(ctx context.Context, id string) (*storage.Receipt, error)
	recentFunc func(ctx context.Context, f storage.RecentFilter) ([]*storage.Receipt, error)
}

func (m *mockReceipts) Get(ctx context.Context, id string) (*storage.Receipt, error) {
	if m.getFunc == nil {
		return nil, storage.ErrReceiptNotFound
	}
	return m.getFunc(ctx, id)
}

func (m *mockReceipts) Recent(ctx context.Context, f storage.RecentFilter) ([]*storage.Receipt, error) {
	if m.recentFunc == nil {
		return nil, nil
	}
	return m.recentFunc(ctx, f)
}

// mockQueue implements DeliveryQueue for testing
type mockQueue struct {
	enqueueFunc func(ctx context.Context, req queue.EnqueueRequest) (string, error)
	getFunc     func(ctx context.Context, id string) (*queue.Delivery, error)
	historyFunc func(ctx context.Context, id string) ([]queue.Attempt, error)
	depthFunc   func(ctx context.Context) (int, error)
}

func (m *mockQueue) Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error) {
	return m.enqueueFunc(ctx, req)
}

func (m *mockQueue) Get(ctx context.Context, id string) (*queue.Delivery, error) {
	if m.getFunc == nil {
		return nil, queue.ErrDeliveryNotFound
	}
	return m.getFunc(ctx, id)
}

func (m *mockQueue) History(ctx context.Context, id string) ([]queue.Attempt, error) {
	if m.historyFunc == nil {
		return nil, nil
	}
	return m.historyFunc(ctx, id)
}

func (m *mockQueue) Depth(ctx context.Context) (int, error) {
	if m.depthFunc == nil {
		return 0, nil
	}
	return m.depthFunc(ctx)
}

type registeredSet map[string]bool

func (r registeredSet) Registered(name string) bool { return r[name] }

type secretIDs map[string][]string

func (s secretIDs) IDs(name string) []string { return s[name] }

func newTestServer(t *testing.T, q *mockQueue, receipts *mockReceipts) *Server {
	t.Helper()
	table, err := receiver.Build(nil)
	if err != nil {
		t.Fatalf("build receivers: %v", err)
	}
	cfg := Config{
		Listen: "localhost:8080",
		APIKey: "test-key-123",
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{"receipts:ro", "deliveries:ro", "events:ro"}},
			{Token: "writer", Scopes: []string{"deliveries:rw"}},
		},
		Targets:     map[string]config.TargetConfig{"crm": {URL: "https://crm.example.com/hook", MaxAttempts: 6}},
		MaxAttempts: queue.DefaultMaxAttempts,
	}
	deps := Deps{
		Receipts:  receipts,
		Receivers: table,
		Handlers:  registeredSet{"github": true, "stripe": true},
		Secrets:   secretIDs{"github": {"default", "repo1"}},
		Events:    events.NewHub(10),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if q != nil {
		deps.Deliveries = q
	}
	return New(cfg, deps)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func authed(method, target, token string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	q := &mockQueue{
		depthFunc: func(ctx context.Context) (int, error) { return 7, nil },
	}
	server := newTestServer(t, q, &mockReceipts{})

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.QueueDepth != 7 {
		t.Fatalf("expected queue_depth 7, got %d", resp.QueueDepth)
	}
	if resp.Registered != 2 {
		t.Fatalf("expected 2 registered receivers, got %d", resp.Registered)
	}
	if resp.Receivers < resp.Registered {
		t.Fatalf("expected receivers >= registered, got %d", resp.Receivers)
	}
}

func TestHandleHealthz_QueueError(t *testing.T) {
	q := &mockQueue{
		depthFunc: func(ctx context.Context) (int, error) { return 0, errors.New("db locked") },
	}
	server := newTestServer(t, q, &mockReceipts{})

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{name: "missing token", method: http.MethodGet, path: "/receipts", want: http.StatusUnauthorized},
		{name: "invalid token", method: http.MethodGet, path: "/receipts", token: "nope", want: http.StatusUnauthorized},
		{name: "admin key", method: http.MethodGet, path: "/receipts", token: "test-key-123", want: http.StatusOK},
		{name: "reader lists receipts", method: http.MethodGet, path: "/receipts", token: "reader", want: http.StatusOK},
		{name: "writer cannot list receipts", method: http.MethodGet, path: "/receipts", token: "writer", want: http.StatusForbidden},
		{name: "reader cannot enqueue", method: http.MethodPost, path: "/deliveries", token: "reader", want: http.StatusForbidden},
		{name: "writer reads deliveries", method: http.MethodGet, path: "/deliveries/missing", token: "writer", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(server, authed(tt.method, tt.path, tt.token, nil))
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAuth_NotConfigured(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})
	server.config.APIKey = ""
	server.config.Tokens = nil

	rr := serve(server, authed(http.MethodGet, "/receipts", "anything", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleListReceivers(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})

	rr := serve(server, authed(http.MethodGet, "/receivers", "reader", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret\"") {
		t.Fatalf("response must not carry secret values: %s", rr.Body.String())
	}

	var resp ReceiverListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	byName := map[string]ReceiverSummary{}
	for _, r := range resp.Receivers {
		byName[r.Name] = r
	}
	gh, ok := byName["github"]
	if !ok {
		t.Fatalf("expected github in receivers: %+v", resp.Receivers)
	}
	if !gh.Registered || !gh.Verifies || gh.Mode != "hmac" {
		t.Fatalf("unexpected github summary: %+v", gh)
	}
	if len(gh.SecretIDs) != 2 {
		t.Fatalf("expected 2 secret ids, got %v", gh.SecretIDs)
	}
	if tr := byName["trello"]; len(tr.Handshake) != 2 || tr.Registered {
		t.Fatalf("unexpected trello summary: %+v", tr)
	}
}

func TestHandleListReceipts(t *testing.T) {
	receivedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var got storage.RecentFilter
	receipts := &mockReceipts{
		recentFunc: func(ctx context.Context, f storage.RecentFilter) ([]*storage.Receipt, error) {
			got = f
			return []*storage.Receipt{{ID: "r-1", Receiver: "github", Events: []string{"push"}, Outcome: "completed", Status: 200, ReceivedAt: receivedAt}}, nil
		},
	}
	server := newTestServer(t, &mockQueue{}, receipts)

	rr := serve(server, authed(http.MethodGet, "/receipts?receiver=GitHub&limit=5", "reader", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got.Receiver != "github" || got.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", got)
	}

	var resp ReceiptListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Receipts) != 1 || resp.Receipts[0].ID != "r-1" {
		t.Fatalf("unexpected receipts: %+v", resp.Receipts)
	}

	rr = serve(server, authed(http.MethodGet, "/receipts?limit=zero", "reader", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad limit, got %d", rr.Code)
	}
}

func TestHandleListReceipts_EmptyIsArray(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})

	rr := serve(server, authed(http.MethodGet, "/receipts", "reader", nil))
	if !strings.Contains(rr.Body.String(), `"receipts":[]`) {
		t.Fatalf("expected empty array, got %s", rr.Body.String())
	}
}

func TestHandleGetReceipt(t *testing.T) {
	receipts := &mockReceipts{
		getFunc: func(ctx context.Context, id string) (*storage.Receipt, error) {
			switch id {
			case "r-1":
				return &storage.Receipt{ID: "r-1", Receiver: "stripe", Outcome: "rejected", Status: 400, Reason: "signature mismatch"}, nil
			case "broken":
				return nil, errors.New("disk I/O error")
			}
			return nil, storage.ErrReceiptNotFound
		},
	}
	server := newTestServer(t, &mockQueue{}, receipts)

	rr := serve(server, authed(http.MethodGet, "/receipts/r-1", "reader", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var r storage.Receipt
	if err := json.NewDecoder(rr.Body).Decode(&r); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if r.Reason != "signature mismatch" {
		t.Fatalf("unexpected receipt: %+v", r)
	}

	rr = serve(server, authed(http.MethodGet, "/receipts/unknown", "reader", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}

	rr = serve(server, authed(http.MethodGet, "/receipts/broken", "reader", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "disk") {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}

func TestHandleEnqueueDelivery_Success(t *testing.T) {
	var got queue.EnqueueRequest
	q := &mockQueue{
		enqueueFunc: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			got = req
			return "d-123", nil
		},
	}
	server := newTestServer(t, q, &mockReceipts{})

	body := bytes.NewBufferString(`{"target":"crm","actions":["created"],"properties":{"customer":"42"}}`)
	rr := serve(server, authed(http.MethodPost, "/deliveries", "writer", body))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp DeliveryResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DeliveryID != "d-123" || resp.Status != "queued" || resp.Target != "crm" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.Target != "crm" || got.MaxAttempts != 6 {
		t.Fatalf("unexpected enqueue request: %+v", got)
	}

	var payload sender.Payload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("stored payload is not JSON: %v", err)
	}
	if len(payload.Notifications) != 1 || payload.Notifications[0].Action() != "created" {
		t.Fatalf("unexpected notifications: %+v", payload.Notifications)
	}
	if payload.Properties["customer"] != "42" {
		t.Fatalf("unexpected properties: %+v", payload.Properties)
	}

	snap := server.events.SnapshotSince(0)
	if len(snap) != 1 || snap[0].Type != events.DeliveryEnqueued {
		t.Fatalf("expected delivery.enqueued event, got %+v", snap)
	}
}

func TestHandleEnqueueDelivery_Invalid(t *testing.T) {
	q := &mockQueue{
		enqueueFunc: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			t.Fatalf("enqueue should not be called for invalid request")
			return "", nil
		},
	}
	server := newTestServer(t, q, &mockReceipts{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed", body: `{"target":`},
		{name: "unknown field", body: `{"target":"crm","actions":["a"],"extra":1}`},
		{name: "unknown target", body: `{"target":"billing","actions":["a"]}`},
		{name: "no actions", body: `{"target":"crm","actions":[]}`},
		{name: "blank action", body: `{"target":"crm","actions":[" "]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(server, authed(http.MethodPost, "/deliveries", "writer", strings.NewReader(tt.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestHandleEnqueueDelivery_BodyTooLarge(t *testing.T) {
	q := &mockQueue{
		enqueueFunc: func(ctx context.Context, req queue.EnqueueRequest) (string, error) {
			t.Fatalf("enqueue should not be called for an oversized body")
			return "", nil
		},
	}
	server := newTestServer(t, q, &mockReceipts{})

	blob := strings.Repeat("a", maxDeliveryBody+1)
	body := strings.NewReader(`{"target":"crm","actions":["created"],"properties":{"blob":"` + blob + `"}}`)
	rr := serve(server, authed(http.MethodPost, "/deliveries", "writer", body))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rr.Code)
	}
}

func TestHandleEnqueueDelivery_NoSender(t *testing.T) {
	server := newTestServer(t, nil, &mockReceipts{})

	body := strings.NewReader(`{"target":"crm","actions":["created"]}`)
	rr := serve(server, authed(http.MethodPost, "/deliveries", "writer", body))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestHandleGetDelivery(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := &mockQueue{
		getFunc: func(ctx context.Context, id string) (*queue.Delivery, error) {
			if id != "d-1" {
				return nil, queue.ErrDeliveryNotFound
			}
			return &queue.Delivery{ID: "d-1", Target: "crm", Status: queue.StatusFailed, Attempt: 1, MaxAttempts: 4, NextAt: now}, nil
		},
		historyFunc: func(ctx context.Context, id string) ([]queue.Attempt, error) {
			return []queue.Attempt{{Attempt: 1, Status: queue.StatusFailed, HTTPStatus: 503, Error: "target returned 503", LoggedAt: now}}, nil
		},
	}
	server := newTestServer(t, q, &mockReceipts{})

	rr := serve(server, authed(http.MethodGet, "/deliveries/d-1", "reader", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		ID      string          `json:"id"`
		Status  string          `json:"status"`
		History []queue.Attempt `json:"history"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "d-1" || resp.Status != "failed" {
		t.Fatalf("unexpected delivery: %+v", resp)
	}
	if len(resp.History) != 1 || resp.History[0].HTTPStatus != 503 {
		t.Fatalf("unexpected history: %+v", resp.History)
	}

	rr = serve(server, authed(http.MethodGet, "/deliveries/d-2", "reader", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func waitFor(t *testing.T, w *streamWriter, substr string) {
	t.Helper()
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %q in stream, got: %q", substr, w.String())
}

func TestHandleEvents_Unauthorized(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})

	rr := serve(server, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleEvents_ReplaysAndStreamsFiltered(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})
	server.events.Publish(events.WebhookRejected, map[string]any{"receiver": "github"})
	server.events.Publish(events.DeliveryDead, map[string]any{"target": "crm"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := authed(http.MethodGet, "/events?types=webhook.*", "reader", nil).WithContext(ctx)

	w := newStreamWriter()
	router := server.setupRoutes()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	waitFor(t, w, "event: webhook.rejected\n")

	deadline := time.Now().Add(time.Second)
	for server.events.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	server.events.Publish(events.DeliveryRetry, nil)
	server.events.Publish(events.WebhookDispatched, map[string]any{"receiver": "stripe"})
	waitFor(t, w, "event: webhook.dispatched\n")

	if strings.Contains(w.String(), "delivery.") {
		t.Fatalf("filtered events leaked into stream: %q", w.String())
	}
	if strings.Count(w.String(), "event: webhook.rejected\n") != 1 {
		t.Fatalf("replayed event duplicated: %q", w.String())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("stream did not exit after context cancel")
	}
}

func TestHandleEvents_LastEventID(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})
	server.events.Publish("first", nil)
	server.events.Publish("second", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := authed(http.MethodGet, "/events", "reader", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		server.setupRoutes().ServeHTTP(w, req)
		close(done)
	}()

	waitFor(t, w, "event: second\n")
	if strings.Contains(w.String(), "event: first\n") {
		t.Fatalf("event before Last-Event-ID replayed: %q", w.String())
	}
	cancel()
	<-done
}

func TestParseLastEventID(t *testing.T) {
	cases := map[string]int64{"": 0, "12": 12, "-3": 0, "abc": 0}
	for in, want := range cases {
		if got := parseLastEventID(in); got != want {
			t.Fatalf("parseLastEventID(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestServe_ShutdownEndsEventStreams(t *testing.T) {
	server := newTestServer(t, &mockQueue{}, &mockReceipts{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, ln) }()

	req, _ := http.NewRequest(http.MethodGet, "http://"+ln.Addr().String()+"/events", nil)
	req.Header.Set("Authorization", "Bearer reader")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-served:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Serve did not return while a stream was open")
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("stream did not end cleanly: %v", err)
	}
}
