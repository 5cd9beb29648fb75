package watch

import (
	"strings"
	"time"

	"github.com/mattjoyce/hookline/internal/events"
)

const (
	activitySlots   = 5
	activitySlotLen = 2 * time.Second
	activityWindow  = activitySlots * activitySlotLen
)

// Lane is a traffic direction shown in the header.
type Lane int

const (
	LaneInbound Lane = iota
	LaneOutbound
	laneCount
)

var laneLabels = [laneCount]string{"in", "out"}

// beatFrames advance once per UI tick; a frozen frame means the program stopped redrawing.
var beatFrames = []string{"◐", "◓", "◑", "◒"}

type mark struct {
	at     time.Time
	failed bool
}

// Activity keeps the last ten seconds of webhook and delivery traffic as two
// lanes of two-second slots.
type Activity struct {
	lanes [laneCount][]mark
	last  time.Time
	frame int
	now   func() time.Time
}

func NewActivity() Activity {
	return Activity{now: time.Now}
}

// laneFor maps an event type to its lane. Events outside the webhook and
// delivery families are not traffic.
func laneFor(eventType string) (Lane, bool) {
	switch {
	case strings.HasPrefix(eventType, "webhook."):
		return LaneInbound, true
	case strings.HasPrefix(eventType, "delivery."):
		return LaneOutbound, true
	}
	return 0, false
}

func failedEvent(eventType string) bool {
	switch eventType {
	case events.WebhookRejected, events.WebhookFaulted, events.DeliveryRetry, events.DeliveryDead:
		return true
	}
	return false
}

// Record notes an event arrival.
func (a *Activity) Record(e events.Event) {
	lane, ok := laneFor(e.Type)
	if !ok {
		return
	}
	now := a.now()
	a.lanes[lane] = append(a.lanes[lane], mark{at: now, failed: failedEvent(e.Type)})
	a.last = now
}

// Tick advances the heartbeat and drops marks older than the window.
func (a *Activity) Tick() {
	a.frame = (a.frame + 1) % len(beatFrames)
	cutoff := a.now().Add(-activityWindow)
	for i, marks := range a.lanes {
		keep := marks[:0]
		for _, mk := range marks {
			if mk.at.After(cutoff) {
				keep = append(keep, mk)
			}
		}
		a.lanes[i] = keep
	}
}

func (a Activity) Beat() string {
	return beatFrames[a.frame]
}

func (a Activity) LastEvent() time.Time {
	return a.last
}

// slots reports, newest first, whether each slot saw traffic and whether any
// of it failed.
func (a Activity) slots(lane Lane) (seen, failed [activitySlots]bool) {
	now := a.now()
	for _, mk := range a.lanes[lane] {
		idx := int(now.Sub(mk.at) / activitySlotLen)
		if idx < 0 || idx >= activitySlots {
			continue
		}
		seen[idx] = true
		if mk.failed {
			failed[idx] = true
		}
	}
	return seen, failed
}

// Render draws both lanes, e.g. "in ●●○○○  out ○●○○○".
func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for lane := Lane(0); lane < laneCount; lane++ {
		if lane > 0 {
			b.WriteString("  ")
		}
		b.WriteString(theme.Dim.Render(laneLabels[lane]))
		b.WriteString(" ")
		seen, failed := a.slots(lane)
		for i := range activitySlots {
			switch {
			case failed[i]:
				b.WriteString(theme.StatusFailed.Render("●"))
			case seen[i]:
				b.WriteString(theme.ActivityOn.Render("●"))
			default:
				b.WriteString(theme.ActivityOff.Render("○"))
			}
		}
	}
	return b.String()
}
