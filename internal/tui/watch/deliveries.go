package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookline/internal/events"
)

// TargetState counts outbound deliveries for one target.
type TargetState struct {
	Name      string
	Enqueued  int
	Delivered int
	Retries   int
	Dead      int
	LastError string
}

// updateTargetState folds one delivery.* event into targets.
func updateTargetState(targets map[string]*TargetState, e events.Event) {
	if !strings.HasPrefix(e.Type, "delivery.") {
		return
	}
	d := decodeEventData(e)
	if d.Target == "" {
		return
	}

	t, ok := targets[d.Target]
	if !ok {
		t = &TargetState{Name: d.Target}
		targets[d.Target] = t
	}

	switch e.Type {
	case events.DeliveryEnqueued:
		t.Enqueued++
	case events.DeliveryDelivered:
		t.Delivered++
		t.LastError = ""
	case events.DeliveryRetry:
		t.Retries++
		if d.HTTPStatus != 0 {
			t.LastError = fmt.Sprintf("HTTP %d", d.HTTPStatus)
		}
	case events.DeliveryDead:
		t.Dead++
		t.LastError = d.Reason
	}
}

func renderTargets(targets map[string]*TargetState, theme Theme, width int) string {
	innerWidth := width - 4

	if len(targets) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("OUTBOUND"),
			theme.Dim.Render("  No deliveries yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{theme.Title.Render("OUTBOUND")}
	for _, name := range names {
		t := targets[name]
		pending := t.Enqueued - t.Delivered - t.Dead
		if pending < 0 {
			pending = 0
		}
		line := fmt.Sprintf("  %-16s %s %s %s %s",
			theme.Header.Render(t.Name),
			theme.StatusOK.Render(fmt.Sprintf("%d delivered", t.Delivered)),
			theme.StatusQueued.Render(fmt.Sprintf("%d pending", pending)),
			theme.StatusRunning.Render(fmt.Sprintf("%d retries", t.Retries)),
			theme.StatusFailed.Render(fmt.Sprintf("%d dead", t.Dead)),
		)
		if t.LastError != "" {
			line += theme.Dim.Render("  " + t.LastError)
		}
		lines = append(lines, line)
	}

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
