package watch

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hookline/internal/events"
)

func event(id int64, typ string, data map[string]any) events.Event {
	raw, _ := json.Marshal(data)
	return events.Event{ID: id, Type: typ, At: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Data: raw}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestReadSSE(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"id: 7",
		"event: webhook.dispatched",
		`data: {"receiver":"github","status":200}`,
		"",
		"id: 8",
		"event: delivery.dead",
		`data: {"delivery_id":"d1","target":"crm"}`,
		"",
		"event: ignored",
		"",
	}, "\n")

	ch := make(chan events.Event, 4)
	readSSE(bufio.NewScanner(strings.NewReader(stream)), ch)
	close(ch)

	var got []events.Event
	for e := range ch {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int64(7), got[0].ID)
	assert.Equal(t, events.WebhookDispatched, got[0].Type)
	assert.JSONEq(t, `{"receiver":"github","status":200}`, string(got[0].Data))
	assert.Equal(t, events.DeliveryDead, got[1].Type)
}

func TestUpdateReceiverState(t *testing.T) {
	receivers := map[string]*ReceiverState{}
	updateReceiverState(receivers, event(1, events.WebhookReceived, map[string]any{"receiver": "github"}))
	updateReceiverState(receivers, event(2, events.WebhookDispatched, map[string]any{"receiver": "github", "status": 200}))
	updateReceiverState(receivers, event(3, events.WebhookRejected, map[string]any{"receiver": "github", "status": 400, "reason": "signature mismatch"}))
	updateReceiverState(receivers, event(4, events.WebhookFaulted, map[string]any{"receiver": "kudu", "status": 500}))
	updateReceiverState(receivers, event(5, events.DeliveryEnqueued, map[string]any{"receiver": "github", "target": "crm"}))
	updateReceiverState(receivers, event(6, events.WebhookRejected, map[string]any{}))

	require.Len(t, receivers, 2)
	gh := receivers["github"]
	assert.Equal(t, 1, gh.Received)
	assert.Equal(t, 1, gh.Dispatched)
	assert.Equal(t, 1, gh.Rejected)
	assert.Equal(t, 400, gh.LastStatus)
	assert.Equal(t, "signature mismatch", gh.LastReason)
	assert.Equal(t, 1, receivers["kudu"].Faulted)

	rows := receiverRows(receivers)
	require.Len(t, rows, 2)
	assert.Equal(t, "github", rows[0][0])
	assert.Equal(t, "400", rows[0][5])
	assert.Equal(t, "kudu", rows[1][0])
}

func TestUpdateTargetState(t *testing.T) {
	targets := map[string]*TargetState{}
	updateTargetState(targets, event(1, events.DeliveryEnqueued, map[string]any{"target": "crm", "delivery_id": "d1"}))
	updateTargetState(targets, event(2, events.DeliveryRetry, map[string]any{"target": "crm", "http_status": 503}))
	assert.Equal(t, "HTTP 503", targets["crm"].LastError)

	updateTargetState(targets, event(3, events.DeliveryDelivered, map[string]any{"target": "crm"}))
	updateTargetState(targets, event(4, events.DeliveryDead, map[string]any{"target": "crm", "reason": "max attempts"}))
	updateTargetState(targets, event(5, events.WebhookDispatched, map[string]any{"target": "crm"}))

	crm := targets["crm"]
	assert.Equal(t, 1, crm.Enqueued)
	assert.Equal(t, 1, crm.Retries)
	assert.Equal(t, 1, crm.Delivered)
	assert.Equal(t, 1, crm.Dead)
	assert.Equal(t, "max attempts", crm.LastError)
}

func TestExtractEventDesc(t *testing.T) {
	desc := extractEventDesc(event(1, events.WebhookRejected, map[string]any{
		"receiver": "github", "receiver_id": "repo1", "status": 400, "reason": "missing signature",
	}))
	assert.Contains(t, desc, "github/repo1")
	assert.Contains(t, desc, "400")
	assert.Contains(t, desc, "missing signature")

	desc = extractEventDesc(event(2, events.DeliveryRetry, map[string]any{
		"delivery_id": "0123456789abcdef", "target": "crm", "http_status": 502,
	}))
	assert.Contains(t, desc, "[01234567]")
	assert.Contains(t, desc, "crm")
	assert.Contains(t, desc, "502")
}

func TestModelUpdate(t *testing.T) {
	m := *New("http://localhost:8081", "key")
	assert.Equal(t, "Initializing hookline watch...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, eventMsg(event(9, events.WebhookDispatched, map[string]any{"receiver": "github", "status": 200})))
	m = update(t, m, eventMsg(event(4, events.DeliveryEnqueued, map[string]any{"target": "crm"})))

	assert.Equal(t, int64(9), m.lastID)
	require.Len(t, m.eventLog, 2)
	assert.Equal(t, events.DeliveryEnqueued, m.eventLog[0].Type)
	assert.True(t, m.health.Connected)
	assert.Len(t, m.table.Rows(), 1)
	assert.Contains(t, m.targets, "crm")

	m = update(t, m, healthMsg{Status: "ok", UptimeSeconds: 90, QueueDepth: 3, Receivers: 12, Registered: 2})
	assert.Equal(t, 3, m.health.QueueDepth)
	assert.Equal(t, 2, m.health.Registered)

	m = update(t, m, sseDisconnectedMsg{})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.lastError, "reconnecting")

	view := m.View()
	assert.Contains(t, view, "HOOKLINE WATCH")
	assert.Contains(t, view, "RECEIVERS (1)")
	assert.Contains(t, view, "OUTBOUND")
}

func TestModelEventLogIsBounded(t *testing.T) {
	m := *New("http://localhost:8081", "key")
	for i := 1; i <= maxEventLog+10; i++ {
		m = update(t, m, eventMsg(event(int64(i), events.WebhookReceived, map[string]any{"receiver": "github"})))
	}
	assert.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+10), m.eventLog[0].ID)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "1m 30s", formatDuration(90*time.Second))
	assert.Equal(t, "2h 5m", formatDuration(125*time.Minute))
}

func TestActivityLanes(t *testing.T) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewActivity()
	a.now = func() time.Time { return clock }

	a.Record(event(1, events.WebhookDispatched, nil))
	a.Record(event(2, events.MaintenancePruned, nil))
	clock = clock.Add(3 * time.Second)
	a.Record(event(3, events.DeliveryDead, nil))

	seen, failed := a.slots(LaneInbound)
	assert.Equal(t, [activitySlots]bool{false, true, false, false, false}, seen)
	assert.Equal(t, [activitySlots]bool{}, failed)

	seen, failed = a.slots(LaneOutbound)
	assert.Equal(t, [activitySlots]bool{true, false, false, false, false}, seen)
	assert.Equal(t, [activitySlots]bool{true, false, false, false, false}, failed)
	assert.Equal(t, clock, a.LastEvent())

	first := a.Beat()
	a.Tick()
	assert.NotEqual(t, first, a.Beat())

	clock = clock.Add(activityWindow)
	a.Tick()
	assert.Empty(t, a.lanes[LaneInbound])
	assert.Empty(t, a.lanes[LaneOutbound])
	assert.Equal(t, "in ○○○○○  out ○○○○○", a.Render(Theme{}))
}

func TestModelRecordsActivity(t *testing.T) {
	m := *New("http://localhost:8081", "key")
	m = update(t, m, eventMsg(event(1, events.WebhookRejected, map[string]any{"receiver": "github"})))

	_, failed := m.activity.slots(LaneInbound)
	assert.True(t, failed[0])
	assert.False(t, m.activity.LastEvent().IsZero())
}
