package ui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/litescript/ls-fleet/internal/fleet"
	"github.com/litescript/ls-fleet/internal/geo"
	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/motion"
)

// Styles for the dashboard
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("45"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	selectedRowStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("229")).
				Background(lipgloss.Color("24"))

	liveStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// fleetRow joins an engine frame with the latest telemetry for one vehicle.
// Either side may be missing.
type fleetRow struct {
	ID      string
	Frame   *motion.Frame
	Vehicle *fleet.Vehicle
}

// buildRows merges frames and vehicles into rows sorted by id.
func buildRows(snapshot fleet.Snapshot, frames []motion.Frame) []fleetRow {
	byID := make(map[string]*fleetRow)
	for i := range frames {
		f := &frames[i]
		byID[f.ID] = &fleetRow{ID: f.ID, Frame: f}
	}
	for i := range snapshot.Vehicles {
		v := &snapshot.Vehicles[i]
		if r, ok := byID[v.ID]; ok {
			r.Vehicle = v
			continue
		}
		byID[v.ID] = &fleetRow{ID: v.ID, Vehicle: v}
	}

	rows := make([]fleetRow, 0, len(byID))
	for _, r := range byID {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// source labels where a row's position comes from.
func (r fleetRow) source() string {
	if r.Frame == nil {
		return "TELEM"
	}
	switch {
	case r.Frame.Paused:
		return "PAUSED"
	case r.Frame.Fallback:
		return "NOFIX"
	case r.Frame.Live:
		return "LIVE"
	case r.Frame.Completed:
		return "DONE"
	default:
		return "ANIM"
	}
}

func (r fleetRow) position() (geo.Position, bool) {
	if r.Frame != nil {
		return r.Frame.Position, true
	}
	if r.Vehicle != nil && r.Vehicle.Record.Position != nil {
		return *r.Vehicle.Record.Position, true
	}
	return geo.Position{}, false
}

func (r fleetRow) heading() (float64, bool) {
	if r.Frame != nil {
		return r.Frame.Heading, true
	}
	if r.Vehicle != nil {
		return r.Vehicle.Record.Heading()
	}
	return 0, false
}

// DashboardModel is the fleet overview table.
type DashboardModel struct {
	width    int
	height   int
	cursor   int
	snapshot fleet.Snapshot
	frames   []motion.Frame
	rows     []fleetRow
}

// NewDashboardModel creates a new dashboard model.
func NewDashboardModel() DashboardModel {
	return DashboardModel{}
}

// SetSize updates the viewport size.
func (m DashboardModel) SetSize(width, height int) DashboardModel {
	m.width = width
	m.height = height
	return m
}

// UpdateData updates the model with a new fleet snapshot.
func (m DashboardModel) UpdateData(snapshot fleet.Snapshot) DashboardModel {
	m.snapshot = snapshot
	return m.rebuild()
}

// UpdateFrames updates the model with the latest engine frames.
func (m DashboardModel) UpdateFrames(frames []motion.Frame) DashboardModel {
	m.frames = frames
	return m.rebuild()
}

func (m DashboardModel) rebuild() DashboardModel {
	selected := m.SelectedID()
	m.rows = buildRows(m.snapshot, m.frames)
	// Keep the cursor on the same vehicle when rows appear or vanish.
	for i, r := range m.rows {
		if r.ID == selected {
			m.cursor = i
			return m
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = max(len(m.rows)-1, 0)
	}
	return m
}

// SelectedID returns the id under the cursor, or "".
func (m DashboardModel) SelectedID() string {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return ""
	}
	return m.rows[m.cursor].ID
}

// Update handles messages.
func (m DashboardModel) Update(msg tea.Msg) (DashboardModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case "home":
			m.cursor = 0
		case "end":
			if len(m.rows) > 0 {
				m.cursor = len(m.rows) - 1
			}
		}
	}
	return m, nil
}

// View renders the dashboard.
func (m DashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Link"))
	b.WriteString("\n  ")
	b.WriteString(renderLinkIndicator(m.snapshot.Link, "●"))
	if !m.snapshot.Link.LastFrame.IsZero() {
		b.WriteString(mutedStyle.Render("  last frame " + humanize.Time(m.snapshot.Link.LastFrame)))
	}
	if m.snapshot.Link.LastError != "" {
		b.WriteString("\n  " + errorStyle.Render(m.snapshot.Link.LastError))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderFleetTable())
	return b.String()
}

func (m DashboardModel) renderFleetTable() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Fleet"))
	b.WriteString("\n")

	header := fmt.Sprintf("%-12s %-6s %-21s %7s %-6s %8s %-15s %-5s %-10s %s",
		"Vehicle", "Source", "Position", "Alt", "Hdg", "Speed", "Battery", "Arm", "Mode", "Updated")
	b.WriteString(headerStyle.Render(header))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString("  Waiting for vehicles...\n")
		return b.String()
	}

	maxRows := m.height - 8
	if maxRows < 5 {
		maxRows = 5
	}

	startIdx := 0
	if m.cursor >= maxRows {
		startIdx = m.cursor - maxRows + 1
	}
	endIdx := min(startIdx+maxRows, len(m.rows))

	for i := startIdx; i < endIdx; i++ {
		row := m.formatRow(m.rows[i])
		if i == m.cursor {
			b.WriteString(selectedRowStyle.Render(row))
		} else {
			b.WriteString(rowStyle.Render(row))
		}
		b.WriteString("\n")
	}

	if len(m.rows) > maxRows {
		b.WriteString(fmt.Sprintf("\n  Showing %d-%d of %d vehicles", startIdx+1, endIdx, len(m.rows)))
	}
	return b.String()
}

func (m DashboardModel) formatRow(r fleetRow) string {
	pos, alt := "-", "-"
	if p, ok := r.position(); ok {
		pos = fmt.Sprintf("%9.5f,%10.5f", p.Latitude, p.Longitude)
		alt = fmt.Sprintf("%.1fm", p.Altitude)
	}

	hdg := "-"
	if h, ok := r.heading(); ok {
		hdg = fmt.Sprintf("%03.0f %s", h, geo.Compass(h))
	}

	speed, battery, armed, mode, updated := "-", "", "-", "-", "-"
	if v := r.Vehicle; v != nil {
		rec := v.Record
		if s, ok := rec.Speed(); ok {
			speed = humanize.FtoaWithDigits(s, 1) + "m/s"
		}
		if rec.Battery != nil && rec.Battery.RemainingPct != nil {
			battery = renderBatteryBar(*rec.Battery.RemainingPct, 8)
		}
		if rec.Armed != nil {
			armed = "no"
			if *rec.Armed {
				armed = "YES"
			}
		}
		if rec.FlightMode != nil {
			mode = *rec.FlightMode
		}
		updated = humanize.Time(v.LastUpdate)
	}
	if battery == "" {
		battery = fmt.Sprintf("%-15s", "-")
	}

	return fmt.Sprintf("%-12s %-6s %-21s %7s %-6s %8s %s %-5s %-10s %s",
		truncate(r.ID, 12),
		r.source(),
		pos,
		alt,
		hdg,
		speed,
		battery,
		armed,
		truncate(mode, 10),
		updated,
	)
}

// renderBatteryBar draws a bracketed bar for a 0-100 charge percentage.
func renderBatteryBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	filled = max(min(filled, width), 0)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	style := liveStyle
	switch {
	case pct < 20:
		style = errorStyle
	case pct < 40:
		style = warnStyle
	}

	return "[" + style.Render(bar) + "]" + fmt.Sprintf(" %3.0f%%", pct)
}

// renderLinkIndicator renders the connection mode with a glyph, the retry
// attempt while reconnecting.
func renderLinkIndicator(s link.Status, glyph string) string {
	label := strings.ToUpper(s.Mode)
	switch s.State {
	case link.Open:
		return liveStyle.Render(glyph + " " + label)
	case link.ClosedPolling:
		return warnStyle.Render(glyph + " " + label)
	case link.ClosedRetrying:
		return warnStyle.Render(fmt.Sprintf("%s %s (attempt %d)", glyph, label, s.Attempt))
	case link.Connecting:
		return mutedStyle.Render(glyph + " " + label)
	default:
		return errorStyle.Render(glyph + " " + label)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
