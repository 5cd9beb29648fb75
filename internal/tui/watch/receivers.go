package watch

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/hookline/internal/events"
)

// ReceiverState counts webhook outcomes for one receiver.
type ReceiverState struct {
	Name       string
	Received   int
	Dispatched int
	Rejected   int
	Faulted    int
	LastStatus int
	LastReason string
	LastSeen   time.Time
}

// updateReceiverState folds one webhook.* event into receivers.
func updateReceiverState(receivers map[string]*ReceiverState, e events.Event) {
	switch e.Type {
	case events.WebhookReceived, events.WebhookDispatched, events.WebhookRejected, events.WebhookFaulted:
	default:
		return
	}
	d := decodeEventData(e)
	if d.Receiver == "" {
		return
	}

	r, ok := receivers[d.Receiver]
	if !ok {
		r = &ReceiverState{Name: d.Receiver}
		receivers[d.Receiver] = r
	}
	r.LastSeen = e.At

	switch e.Type {
	case events.WebhookReceived:
		r.Received++
		return
	case events.WebhookDispatched:
		r.Dispatched++
	case events.WebhookRejected:
		r.Rejected++
	case events.WebhookFaulted:
		r.Faulted++
	}
	r.LastStatus = d.Status
	r.LastReason = d.Reason
}

func receiverColumns(width int) []table.Column {
	reason := width - 4 - (14 + 6*4 + 8 + 10) - 2*7
	if reason < 10 {
		reason = 10
	}
	return []table.Column{
		{Title: "Receiver", Width: 14},
		{Title: "Recv", Width: 6},
		{Title: "OK", Width: 6},
		{Title: "Rej", Width: 6},
		{Title: "Fault", Width: 6},
		{Title: "Last", Width: 8},
		{Title: "Seen", Width: 10},
		{Title: "Reason", Width: reason},
	}
}

// receiverRows returns one table row per receiver, sorted by name.
func receiverRows(receivers map[string]*ReceiverState) []table.Row {
	names := make([]string, 0, len(receivers))
	for name := range receivers {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		r := receivers[name]
		last := "-"
		if r.LastStatus != 0 {
			last = strconv.Itoa(r.LastStatus)
		}
		seen := "-"
		if !r.LastSeen.IsZero() {
			seen = r.LastSeen.Format("15:04:05")
		}
		rows = append(rows, table.Row{
			r.Name,
			strconv.Itoa(r.Received),
			strconv.Itoa(r.Dispatched),
			strconv.Itoa(r.Rejected),
			strconv.Itoa(r.Faulted),
			last,
			seen,
			r.LastReason,
		})
	}
	return rows
}

func newReceiverTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns(receiverColumns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	s := table.DefaultStyles()
	s.Header = theme.TableHeader
	s.Selected = theme.TableSelected
	t.SetStyles(s)
	return t
}

func renderReceivers(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render(fmt.Sprintf("RECEIVERS (%d)", count))
	if count == 0 {
		return theme.Border.Width(innerWidth).Render(title + "\n" + theme.Dim.Render("  No webhook traffic yet..."))
	}
	return theme.Border.Width(innerWidth).Render(title + "\n" + t.View())
}
