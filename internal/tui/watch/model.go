package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/hookline/internal/events"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string
	// types is an optional comma-separated event type filter.
	types string

	width  int
	height int

	// State
	health    HealthState
	receivers map[string]*ReceiverState
	targets   map[string]*TargetState
	eventLog  []events.Event
	lastID    int64

	activity Activity

	// UI state
	theme Theme
	table table.Model

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model.
func New(apiURL, apiKey string) *Model {
	theme := NewDefaultTheme()
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		receivers: make(map[string]*ReceiverState),
		targets:   make(map[string]*TargetState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		activity:  NewActivity(),
		theme:     theme,
		table:     newReceiverTable(theme),
	}
}

// WithTypes restricts the stream to the given event types.
func (m *Model) WithTypes(types string) *Model {
	m.types = types
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.apiKey, m.types, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.apiKey) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(receiverColumns(msg.Width))

	case tickMsg:
		m.activity.Tick()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		// Newest first
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}

		m.activity.Record(e)

		updateReceiverState(m.receivers, e)
		updateTargetState(m.targets, e)
		m.table.SetRows(receiverRows(m.receivers))

		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.Receivers = msg.Receivers
		m.health.Registered = msg.Registered
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the shared channel,
		// so only the subscription needs restarting.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.apiKey, m.types, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.apiKey)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing hookline watch..."
	}

	header := renderHeader(m.health, m.activity, m.theme, m.width)
	receivers := renderReceivers(m.table, len(m.receivers), m.theme, m.width)
	targets := renderTargets(m.targets, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Navigate Receivers")

	parts := []string{header, receivers, targets, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
