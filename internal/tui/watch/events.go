package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookline/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func eventStyle(eventType string, theme Theme) lipgloss.Style {
	switch eventType {
	case events.WebhookDispatched, events.DeliveryDelivered:
		return theme.StatusOK
	case events.WebhookFaulted, events.DeliveryDead:
		return theme.StatusFailed
	case events.WebhookRejected, events.DeliveryRetry:
		return theme.StatusRunning
	case events.DeliveryEnqueued:
		return theme.StatusQueued
	default:
		return theme.Dim
	}
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))
	typeName := eventStyle(e.Type, theme).Render(fmt.Sprintf("%-20s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, extractEventDesc(e))
}

// eventData is the union of fields the webhook server and sender publish.
type eventData struct {
	Receiver   string   `json:"receiver"`
	ReceiverID string   `json:"receiver_id"`
	Status     int      `json:"status"`
	Reason     string   `json:"reason"`
	Events     []string `json:"events"`
	DeliveryID string   `json:"delivery_id"`
	Target     string   `json:"target"`
	Attempt    int      `json:"attempt"`
	HTTPStatus int      `json:"http_status"`
	Error      string   `json:"error"`
}

func decodeEventData(e events.Event) eventData {
	var d eventData
	_ = json.Unmarshal(e.Data, &d)
	return d
}

func extractEventDesc(e events.Event) string {
	d := decodeEventData(e)

	var parts []string
	if d.Receiver != "" {
		name := d.Receiver
		if d.ReceiverID != "" {
			name += "/" + d.ReceiverID
		}
		parts = append(parts, name)
	}
	if d.DeliveryID != "" {
		id := d.DeliveryID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}
	if d.Target != "" {
		parts = append(parts, "→ "+d.Target)
	}
	if len(d.Events) > 0 {
		parts = append(parts, strings.Join(d.Events, ","))
	}
	if d.Status != 0 {
		parts = append(parts, fmt.Sprintf("%d", d.Status))
	} else if d.HTTPStatus != 0 {
		parts = append(parts, fmt.Sprintf("%d", d.HTTPStatus))
	}
	if d.Attempt != 0 {
		parts = append(parts, fmt.Sprintf("attempt %d", d.Attempt))
	}
	if d.Reason != "" {
		parts = append(parts, d.Reason)
	} else if d.Error != "" {
		parts = append(parts, d.Error)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
