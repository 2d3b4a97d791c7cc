package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/litescript/ls-fleet/internal/fleet"
)

// EventsModel lists pending notifications and the event log, newest first.
type EventsModel struct {
	width    int
	height   int
	offset   int
	snapshot fleet.Snapshot
}

// NewEventsModel creates a new event log model.
func NewEventsModel() EventsModel {
	return EventsModel{}
}

// SetSize updates the viewport size.
func (m EventsModel) SetSize(width, height int) EventsModel {
	m.width = width
	m.height = height
	return m
}

// UpdateData updates the model with a new snapshot.
func (m EventsModel) UpdateData(snapshot fleet.Snapshot) EventsModel {
	m.snapshot = snapshot
	if m.offset >= len(snapshot.Events) {
		m.offset = max(len(snapshot.Events)-1, 0)
	}
	return m
}

// Update handles messages.
func (m EventsModel) Update(msg tea.Msg) (EventsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if m.offset > 0 {
				m.offset--
			}
		case "down", "j":
			if m.offset < len(m.snapshot.Events)-1 {
				m.offset++
			}
		case "home":
			m.offset = 0
		}
	}
	return m, nil
}

// View renders notifications and events.
func (m EventsModel) View() string {
	var b strings.Builder

	if notes := m.snapshot.Notifications; len(notes) > 0 {
		b.WriteString(titleStyle.Render(fmt.Sprintf("Notifications (%d)", len(notes))))
		b.WriteString("\n")
		for _, n := range notes {
			b.WriteString("  " + renderNotification(n) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render("Events"))
	b.WriteString("\n")

	events := newestFirst(m.snapshot.Events)
	if len(events) == 0 {
		b.WriteString(mutedStyle.Render("  No events yet"))
		b.WriteString("\n")
		return b.String()
	}

	rows := max(m.height-len(m.snapshot.Notifications)-4, 5)
	end := min(m.offset+rows, len(events))
	for _, e := range events[m.offset:end] {
		b.WriteString("  " + formatEvent(e) + "\n")
	}
	if len(events) > rows {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("\n  Showing %d-%d of %d events", m.offset+1, end, len(events))))
	}
	return b.String()
}

func renderNotification(n fleet.Notification) string {
	style := liveStyle
	tag := "INFO "
	if n.Level == fleet.LevelError {
		style = errorStyle
		tag = "ERROR"
	}
	return style.Render(tag) + " " + n.Message + mutedStyle.Render("  "+humanize.Time(n.Timestamp))
}

func newestFirst(events []fleet.Event) []fleet.Event {
	out := make([]fleet.Event, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e
	}
	return out
}

func formatEvent(e fleet.Event) string {
	vehicle := e.VehicleID
	if vehicle == "" {
		vehicle = "-"
	}
	typ := lipgloss.NewStyle().Foreground(lipgloss.Color(eventColor(e.Type))).Render(fmt.Sprintf("%-16s", e.Type))
	return fmt.Sprintf("%s  %s %-12s %s", e.Timestamp.Format("15:04:05"), typ, truncate(vehicle, 12), e.Message)
}

func eventColor(t fleet.EventType) string {
	switch t {
	case fleet.EventServerError, fleet.EventCommandFailed, fleet.EventLowBattery, fleet.EventDisconnected:
		return "196"
	case fleet.EventReconnecting, fleet.EventPolling, fleet.EventArmed:
		return "214"
	case fleet.EventConnected, fleet.EventMissionComplete:
		return "46"
	default:
		return "39"
	}
}
