// Package ui provides the terminal user interface using Bubble Tea.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/litescript/ls-fleet/internal/command"
	"github.com/litescript/ls-fleet/internal/fleet"
	"github.com/litescript/ls-fleet/internal/motion"
	"github.com/litescript/ls-fleet/internal/version"
)

// ViewMode represents the current UI view.
type ViewMode int

const (
	ViewDashboard ViewMode = iota
	ViewVehicle
	ViewEvents
)

const viewCount = 3

// Msg types for Bubble Tea
type (
	// TickMsg triggers periodic state refreshes.
	TickMsg time.Time

	// AnimTickMsg advances the motion engine.
	AnimTickMsg time.Time

	// commandResultMsg carries the outcome of a backend command.
	commandResultMsg struct {
		action command.Action
		result command.Result
		err    error
	}
)

// Commander sends flight commands. *command.Client implements it.
type Commander interface {
	Do(ctx context.Context, action command.Action, missionID string) (command.Result, error)
}

// commandKeys maps key presses to backend commands.
var commandKeys = map[string]command.Action{
	"c": command.Connect,
	"a": command.Arm,
	"A": command.Disarm,
	"t": command.Takeoff,
	"l": command.Land,
	"r": command.ReturnToLaunch,
	"s": command.StartMission,
	"S": command.StopMission,
	"u": command.UploadMission,
}

// Model is the root Bubble Tea model.
type Model struct {
	// Dependencies
	session  *fleet.Session
	commands Commander

	// UI state
	viewMode ViewMode
	width    int
	height   int
	ready    bool
	animTick int
	pending  map[command.Action]bool
	lastErr  error

	// Sub-models
	dashboard DashboardModel
	vehicle   VehicleModel
	events    EventsModel

	snapshot fleet.Snapshot
	frames   []motion.Frame
}

// New creates a new root UI model. commands may be nil, in which case the
// command keys are disabled.
func New(session *fleet.Session, commands Commander) Model {
	return Model{
		session:   session,
		commands:  commands,
		viewMode:  ViewDashboard,
		pending:   make(map[command.Action]bool),
		dashboard: NewDashboardModel(),
		vehicle:   NewVehicleModel(),
		events:    NewEventsModel(),
		snapshot:  session.State().Snapshot(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		animTickCmd(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "1", "d":
			m.viewMode = ViewDashboard
		case "2", "v", "enter":
			if m.viewMode != ViewVehicle {
				m.vehicle = m.vehicle.Select(m.dashboard.SelectedID())
			}
			m.viewMode = ViewVehicle
		case "3", "e":
			m.viewMode = ViewEvents
		case "tab":
			m.viewMode = (m.viewMode + 1) % viewCount

		case " ":
			engine := m.session.Engine()
			if engine.Paused() {
				engine.Resume()
			} else {
				engine.Pause()
			}

		case "p":
			m.toggleEntityPause()

		case "x":
			m.session.State().DismissOldest()
			m.snapshot = m.session.State().Snapshot()

		default:
			if action, ok := commandKeys[key]; ok {
				if cmd := m.sendCommand(action); cmd != nil {
					cmds = append(cmds, cmd)
				}
				break
			}
			cmds = append(cmds, m.updateActiveView(msg))
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

		// Logo takes ~10 lines, footer ~3
		contentHeight := msg.Height - 13
		m.dashboard = m.dashboard.SetSize(msg.Width, contentHeight)
		m.vehicle = m.vehicle.SetSize(msg.Width, contentHeight)
		m.events = m.events.SetSize(msg.Width, contentHeight)

	case TickMsg:
		cmds = append(cmds, tickCmd())
		m.refresh()

	case AnimTickMsg:
		cmds = append(cmds, animTickCmd())
		m.animTick++
		m.frames = m.session.Tick()
		m.dashboard = m.dashboard.UpdateFrames(m.frames)
		m.vehicle = m.vehicle.UpdateFrames(m.frames, m.session.Engine())

	case commandResultMsg:
		delete(m.pending, msg.action)
		m.recordCommand(msg)
		m.refresh()

	default:
		cmds = append(cmds, m.updateActiveView(msg))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) refresh() {
	m.snapshot = m.session.State().Snapshot()
	m.dashboard = m.dashboard.UpdateData(m.snapshot)
	m.vehicle = m.vehicle.UpdateData(m.snapshot, m.session.State())
	m.events = m.events.UpdateData(m.snapshot)
}

func (m *Model) updateActiveView(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch m.viewMode {
	case ViewDashboard:
		m.dashboard, cmd = m.dashboard.Update(msg)
	case ViewVehicle:
		m.vehicle, cmd = m.vehicle.Update(msg)
	case ViewEvents:
		m.events, cmd = m.events.Update(msg)
	}
	return cmd
}

func (m *Model) selectedID() string {
	if m.viewMode == ViewVehicle {
		return m.vehicle.selectedID
	}
	return m.dashboard.SelectedID()
}

func (m *Model) toggleEntityPause() {
	id := m.selectedID()
	if id == "" {
		return
	}
	engine := m.session.Engine()
	st, ok := engine.State(id)
	if !ok {
		return
	}
	if err := engine.SetEntityPaused(id, !st.Paused); err != nil {
		m.lastErr = err
	}
}

// sendCommand issues action against the tracked mission. Duplicate presses
// while a command is outstanding are ignored.
func (m *Model) sendCommand(action command.Action) tea.Cmd {
	if m.commands == nil || m.pending[action] {
		return nil
	}
	m.pending[action] = true
	commands := m.commands
	missionID := m.session.Key()
	return func() tea.Msg {
		res, err := commands.Do(context.Background(), action, missionID)
		return commandResultMsg{action: action, result: res, err: err}
	}
}

func (m *Model) recordCommand(msg commandResultMsg) {
	state := m.session.State()
	missionID := m.session.Key()

	if msg.err != nil {
		text := msg.err.Error()
		state.Notify(fleet.LevelError, text)
		state.AddEvent(fleet.Event{Type: fleet.EventCommandFailed, VehicleID: missionID, Message: text})
		return
	}

	text := msg.result.Message
	if text == "" {
		text = string(msg.action) + " accepted"
	}
	state.Notify(fleet.LevelInfo, text)
	state.AddEvent(fleet.Event{Type: fleet.EventCommand, VehicleID: missionID, Message: text})
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var content string
	switch m.viewMode {
	case ViewDashboard:
		content = m.dashboard.View()
	case ViewVehicle:
		content = m.vehicle.View()
	case ViewEvents:
		content = m.events.View()
	}

	return m.renderFrame(content)
}

func (m Model) renderFrame(content string) string {
	header := m.renderHeader()
	footer := m.renderFooter()

	return header + "\n" + content + "\n" + footer
}

func (m Model) renderHeader() string {
	return m.renderLogo() + m.renderTabs() + "\n" + m.renderNotifications()
}

func (m Model) renderLogo() string {
	logo := []string{
		`  ██╗     ███████╗      ███████╗██╗     ███████╗███████╗████████╗`,
		`  ██║     ██╔════╝      ██╔════╝██║     ██╔════╝██╔════╝╚══██╔══╝`,
		`  ██║     ███████╗█████╗█████╗  ██║     █████╗  █████╗     ██║   `,
		`  ██║     ╚════██║╚════╝██╔══╝  ██║     ██╔══╝  ██╔══╝     ██║   `,
		`  ███████╗███████║      ██║     ███████╗███████╗███████╗   ██║   `,
		`  ╚══════╝╚══════╝      ╚═╝     ╚══════╝╚══════╝╚══════╝   ╚═╝   `,
	}

	var b strings.Builder
	b.WriteString("\n")

	for row, line := range logo {
		runes := []rune(line)
		for col, r := range runes {
			color := gradientColor(col, row, len(runes), len(logo))
			style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
			b.WriteString(style.Render(string(r)))
		}
		b.WriteString("\n")
	}

	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))
	mission := m.session.Key()
	if mission == "" {
		mission = "none"
	}
	b.WriteString(muted.Render(fmt.Sprintf("  UAV Fleet Telemetry · v%s · mission %s", version.Version, mission)))
	b.WriteString("\n\n")

	return b.String()
}

// gradientColor returns a hex color for a position in the logo gradient:
// teal -> sky -> violet, darkening toward the bottom rows.
func gradientColor(col, row, width, height int) string {
	xRatio := float64(col) / float64(width)
	yRatio := float64(row) / float64(height)

	var r, g, b float64
	if xRatio < 0.5 {
		t := xRatio / 0.5
		r = 20 + t*(56-20)
		g = 184 + t*(189-184)
		b = 166 + t*(248-166)
	} else {
		t := (xRatio - 0.5) / 0.5
		r = 56 + t*(139-56)
		g = 189 + t*(92-189)
		b = 248 + t*(246-248)
	}

	brightness := 1.0 - (yRatio * 0.5)
	return fmt.Sprintf("#%02X%02X%02X", clampByte(r*brightness), clampByte(g*brightness), clampByte(b*brightness))
}

func clampByte(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return int(v)
	}
}

func (m Model) renderTabs() string {
	tabs := []string{"[1] Fleet", "[2] Vehicle", "[3] Events"}
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#38BDF8")).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))

	var parts []string
	for i, tab := range tabs {
		if ViewMode(i) == m.viewMode {
			parts = append(parts, activeStyle.Render("▶ "+tab))
		} else {
			parts = append(parts, dimStyle.Render("  "+tab))
		}
	}
	return "  " + strings.Join(parts, "  ")
}

// renderNotifications shows the oldest pending notification, if any.
func (m Model) renderNotifications() string {
	notes := m.snapshot.Notifications
	if len(notes) == 0 {
		return ""
	}
	n := notes[0]
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("#38BDF8"))
	if n.Level == fleet.LevelError {
		style = lipgloss.NewStyle().Foreground(lipgloss.Color("#E84A27"))
	}
	line := "  " + style.Render(n.Message)
	if len(notes) > 1 {
		line += lipgloss.NewStyle().Foreground(lipgloss.Color("60")).Render(fmt.Sprintf("  (+%d more)", len(notes)-1))
	}
	return line + lipgloss.NewStyle().Foreground(lipgloss.Color("60")).Render("  [x] dismiss") + "\n"
}

func (m Model) renderFooter() string {
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#E84A27"))

	spinnerFrames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	spinner := spinnerFrames[m.animTick%len(spinnerFrames)]

	status := renderLinkIndicator(m.snapshot.Link, spinner)
	if m.session.Engine().Paused() {
		status += "  " + pausedStyle.Render("PAUSED")
	}
	if m.snapshot.Link.Mode == "connecting" && m.snapshot.LastUpdate.IsZero() {
		status += " " + m.renderShimmerText("Waiting for telemetry...")
	}

	var help string
	switch m.viewMode {
	case ViewVehicle:
		help = dimStyle.Render("←/→: vehicle | p: pause vehicle | space: pause all")
	case ViewEvents:
		help = dimStyle.Render("↑↓: scroll | x: dismiss")
	default:
		help = dimStyle.Render("↑↓: select | enter: detail | tab: switch view")
	}

	footer := "  " + status + "  " + dimStyle.Render("|") + "  " + help
	if m.commands != nil {
		footer += "\n  " + dimStyle.Render("c connect · a/A arm/disarm · t takeoff · l land · r rtl · s/S start/stop · u upload")
	}
	if m.lastErr != nil {
		footer += "\n  " + errorStyle.Render("ERROR: "+m.lastErr.Error())
	}
	return footer
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func animTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return AnimTickMsg(t)
	})
}

// renderShimmerText renders text with a subtle moving shine effect.
func (m Model) renderShimmerText(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return ""
	}

	pos := m.animTick % (len(runes) + 8)

	var result strings.Builder
	for i, r := range runes {
		dist := i - pos + 4
		if dist < 0 {
			dist = -dist
		}

		var r8, g8, b8 int
		switch {
		case dist <= 1:
			r8, g8, b8 = 160, 220, 240
		case dist <= 3:
			r8, g8, b8 = 120, 180, 210
		case dist <= 5:
			r8, g8, b8 = 90, 150, 180
		default:
			r8, g8, b8 = 70, 110, 140
		}

		style := lipgloss.NewStyle().Foreground(lipgloss.Color(fmt.Sprintf("#%02X%02X%02X", r8, g8, b8)))
		result.WriteString(style.Render(string(r)))
	}
	return result.String()
}
