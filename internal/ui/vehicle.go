package ui

import (
	"fmt"
	"math"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/litescript/ls-fleet/internal/fleet"
	"github.com/litescript/ls-fleet/internal/geo"
	"github.com/litescript/ls-fleet/internal/motion"
	"github.com/litescript/ls-fleet/internal/trail"
)

const (
	glyphRoute = '·'
	glyphTrail = '•'
	glyphNorth = 'N'

	colorRoute    = "60"
	colorTrail    = "45"
	colorWaypoint = "252"
	colorVehicle  = "229"

	// minSpanDeg keeps a single point from filling the whole canvas.
	minSpanDeg = 0.0005
)

// headingArrows are indexed by 45° sector starting at north.
var headingArrows = []rune{'↑', '↗', '→', '↘', '↓', '↙', '←', '↖'}

// VehicleModel shows one vehicle's telemetry and a plan view of its route
// and flight path.
type VehicleModel struct {
	width      int
	height     int
	selectedID string
	ids        []string

	snapshot fleet.Snapshot
	history  *fleet.History
	frame    *motion.Frame
	route    motion.Route
	hasRoute bool
	trail    []trail.Point
}

// NewVehicleModel creates a new vehicle detail model.
func NewVehicleModel() VehicleModel {
	return VehicleModel{}
}

// SetSize updates the viewport size.
func (m VehicleModel) SetSize(width, height int) VehicleModel {
	m.width = width
	m.height = height
	return m
}

// Select focuses the model on id. An empty id keeps the current focus.
func (m VehicleModel) Select(id string) VehicleModel {
	if id != "" {
		m.selectedID = id
	}
	return m
}

// SelectedID returns the focused vehicle.
func (m VehicleModel) SelectedID() string {
	return m.selectedID
}

// UpdateData updates the model with a new snapshot and the focused
// vehicle's metric history.
func (m VehicleModel) UpdateData(snapshot fleet.Snapshot, state *fleet.Manager) VehicleModel {
	m.snapshot = snapshot
	m = m.mergeIDs(nil)
	if m.selectedID != "" {
		m.history = state.History(m.selectedID)
	}
	return m
}

// UpdateFrames refreshes the focused entity's frame, route and trail.
func (m VehicleModel) UpdateFrames(frames []motion.Frame, engine *motion.Engine) VehicleModel {
	m = m.mergeIDs(frames)

	m.frame = nil
	for i := range frames {
		if frames[i].ID == m.selectedID {
			f := frames[i]
			m.frame = &f
			break
		}
	}
	m.route, m.hasRoute = engine.Route(m.selectedID)
	m.trail = engine.Trail(m.selectedID)
	return m
}

func (m VehicleModel) mergeIDs(frames []motion.Frame) VehicleModel {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, f := range frames {
		add(f.ID)
	}
	for _, v := range m.snapshot.Vehicles {
		add(v.ID)
	}
	if frames == nil {
		for _, id := range m.ids {
			add(id)
		}
	}
	sort.Strings(ids)
	m.ids = ids

	if m.selectedID == "" && len(ids) > 0 {
		m.selectedID = ids[0]
	}
	return m
}

// Update handles messages.
func (m VehicleModel) Update(msg tea.Msg) (VehicleModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "left", "h":
			m = m.cycle(-1)
		case "right":
			m = m.cycle(1)
		}
	}
	return m, nil
}

func (m VehicleModel) cycle(delta int) VehicleModel {
	if len(m.ids) == 0 {
		return m
	}
	idx := 0
	for i, id := range m.ids {
		if id == m.selectedID {
			idx = i
			break
		}
	}
	idx = (idx + delta + len(m.ids)) % len(m.ids)
	m.selectedID = m.ids[idx]
	m.frame = nil
	m.history = nil
	m.trail = nil
	m.hasRoute = false
	return m
}

// View renders the vehicle detail.
func (m VehicleModel) View() string {
	if m.selectedID == "" {
		return "  No vehicle selected\n"
	}

	var b strings.Builder
	title := fmt.Sprintf("Vehicle %s", m.selectedID)
	if len(m.ids) > 1 {
		title += fmt.Sprintf("  (%d of %d)", m.indexOf(m.selectedID)+1, len(m.ids))
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	details := m.renderDetails()
	canvasW := max(m.width-lipgloss.Width(details)-6, 20)
	canvasH := max(m.height-4, 8)
	plan := m.renderPlanView(canvasW, canvasH)

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, details, "    ", plan))
	b.WriteString("\n")
	return b.String()
}

func (m VehicleModel) indexOf(id string) int {
	for i, v := range m.ids {
		if v == id {
			return i
		}
	}
	return 0
}

func (m VehicleModel) renderDetails() string {
	label := func(s string) string { return mutedStyle.Render(fmt.Sprintf("%-11s", s)) }
	var lines []string

	if f := m.frame; f != nil {
		src := fleetRow{ID: f.ID, Frame: f}.source()
		lines = append(lines,
			label("Source")+src,
			label("Position")+fmt.Sprintf("%.6f, %.6f", f.Position.Latitude, f.Position.Longitude),
			label("Altitude")+fmt.Sprintf("%.1f m", f.Position.Altitude),
			label("Heading")+fmt.Sprintf("%03.0f° %s", f.Heading, geo.Compass(f.Heading)),
		)
		if m.hasRoute && !f.Live {
			lines = append(lines, label("Waypoint")+fmt.Sprintf("%d/%d  %3.0f%%", f.WaypointIndex+1, m.route.Len(), f.Progress*100))
		}
	}

	v, ok := m.snapshot.Vehicle(m.selectedID)
	if !ok {
		lines = append(lines, "", mutedStyle.Render("No telemetry received"))
		return strings.Join(lines, "\n")
	}
	rec := v.Record
	lines = append(lines, "")

	if s, ok := rec.Speed(); ok {
		lines = append(lines, label("Speed")+humanize.FtoaWithDigits(s, 1)+" m/s")
	}
	if bat := rec.Battery; bat != nil {
		if bat.RemainingPct != nil {
			lines = append(lines, label("Battery")+renderBatteryBar(*bat.RemainingPct, 10))
		}
		var parts []string
		if bat.VoltageV != nil {
			parts = append(parts, fmt.Sprintf("%.2f V", *bat.VoltageV))
		}
		if bat.CurrentA != nil {
			parts = append(parts, fmt.Sprintf("%.1f A", *bat.CurrentA))
		}
		if len(parts) > 0 {
			lines = append(lines, label("")+strings.Join(parts, "  "))
		}
	}
	if gps := rec.GPS; gps != nil {
		var parts []string
		if gps.FixQuality != nil {
			parts = append(parts, gps.FixQuality.String())
		}
		if gps.Satellites != nil {
			parts = append(parts, fmt.Sprintf("%d sats", *gps.Satellites))
		}
		if gps.HDOP != nil {
			parts = append(parts, fmt.Sprintf("hdop %.1f", *gps.HDOP))
		}
		lines = append(lines, label("GPS")+strings.Join(parts, "  "))
	}
	if att := rec.Attitude; att != nil {
		lines = append(lines, label("Attitude")+fmt.Sprintf("r %s  p %s  y %s", optDeg(att.Roll), optDeg(att.Pitch), optDeg(att.Yaw)))
	}
	if rec.Armed != nil {
		armed := mutedStyle.Render("disarmed")
		if *rec.Armed {
			armed = warnStyle.Render("ARMED")
		}
		lines = append(lines, label("Armed")+armed)
	}
	if rec.FlightMode != nil {
		lines = append(lines, label("Mode")+*rec.FlightMode)
	}
	if rec.MissionIndex != nil {
		item := fmt.Sprintf("%d", *rec.MissionIndex)
		if rec.MissionTotal != nil {
			item += fmt.Sprintf("/%d", *rec.MissionTotal)
		}
		lines = append(lines, label("Mission")+item)
	}
	lines = append(lines, label("Updated")+humanize.Time(v.LastUpdate)+mutedStyle.Render(fmt.Sprintf(" (%s msgs)", humanize.Comma(int64(v.Updates)))))

	if h := m.history; h != nil {
		lines = append(lines, "")
		if len(h.Battery) > 1 {
			lines = append(lines, label("Battery")+renderSparkline(seriesValues(h.Battery), 24))
		}
		if len(h.Altitude) > 1 {
			lines = append(lines, label("Altitude")+renderSparkline(seriesValues(h.Altitude), 24))
		}
		if len(h.Speed) > 1 {
			lines = append(lines, label("Speed")+renderSparkline(seriesValues(h.Speed), 24))
		}
	}
	if len(m.trail) > 1 {
		lines = append(lines, label("Path")+humanize.SIWithDigits(trail.Length(m.trail), 1, "m"))
	}

	return strings.Join(lines, "\n")
}

func optDeg(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f°", *v)
}

func seriesValues(ts []fleet.TimeSeries) []float64 {
	out := make([]float64, len(ts))
	for i, p := range ts {
		out[i] = p.Value
	}
	return out
}

// renderSparkline draws the last width values scaled between their min and
// max.
func renderSparkline(values []float64, width int) string {
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	out := make([]rune, len(values))
	for i, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(chars)-1))
		}
		out[i] = chars[max(min(idx, len(chars)-1), 0)]
	}
	return string(out)
}

// arrowFor returns the arrow glyph closest to heading.
func arrowFor(heading float64) rune {
	h := geo.NormalizeHeading(heading + 22.5)
	return headingArrows[int(h/45)%len(headingArrows)]
}

// projection maps positions onto a character grid. Cells are treated as
// twice as tall as they are wide, and longitude is scaled by cos(latitude)
// so the plan keeps its shape.
type projection struct {
	minX, minY float64
	unit       float64
	offX, offY float64
	cosLat     float64
	width      int
	height     int
}

func newProjection(points []geo.Position, width, height int) projection {
	minLat, maxLat := points[0].Latitude, points[0].Latitude
	minLon, maxLon := points[0].Longitude, points[0].Longitude
	for _, p := range points[1:] {
		minLat, maxLat = math.Min(minLat, p.Latitude), math.Max(maxLat, p.Latitude)
		minLon, maxLon = math.Min(minLon, p.Longitude), math.Max(maxLon, p.Longitude)
	}

	cosLat := math.Cos((minLat + maxLat) / 2 * math.Pi / 180)
	spanX := (maxLon - minLon) * cosLat
	spanY := maxLat - minLat

	unit := math.Max(spanX/float64(width-1), spanY/float64(2*(height-1)))
	if unit == 0 {
		unit = minSpanDeg / float64(width-1)
	}

	return projection{
		minX:   minLon * cosLat,
		minY:   minLat,
		unit:   unit,
		offX:   (float64(width-1) - spanX/unit) / 2,
		offY:   (float64(height-1) - spanY/(2*unit)) / 2,
		cosLat: cosLat,
		width:  width,
		height: height,
	}
}

func (p projection) cell(pos geo.Position) (int, int) {
	x := math.Round(p.offX + (pos.Longitude*p.cosLat-p.minX)/p.unit)
	y := math.Round(float64(p.height-1) - p.offY - (pos.Latitude-p.minY)/(2*p.unit))
	col := max(min(int(x), p.width-1), 0)
	row := max(min(int(y), p.height-1), 0)
	return col, row
}

// planCanvas draws the route legs, the flight path, numbered waypoints and
// the vehicle arrow, in that order, onto a width x height grid.
func planCanvas(route []motion.Waypoint, loop bool, path []trail.Point, current *geo.Position, heading float64, width, height int) [][]rune {
	canvas := make([][]rune, height)
	for y := range canvas {
		canvas[y] = []rune(strings.Repeat(" ", width))
	}

	var points []geo.Position
	for _, wp := range route {
		points = append(points, wp.Position)
	}
	for _, pt := range path {
		points = append(points, pt.Position)
	}
	if current != nil {
		points = append(points, *current)
	}
	if len(points) == 0 || width < 2 || height < 2 {
		return canvas
	}
	proj := newProjection(points, width, height)

	canvas[0][width-1] = glyphNorth

	legs := len(route) - 1
	if loop && len(route) > 1 {
		legs = len(route)
	}
	for i := 0; i < legs; i++ {
		a := route[i].Position
		b := route[(i+1)%len(route)].Position
		drawLine(canvas, proj, a, b, glyphRoute)
	}

	for _, pt := range path {
		col, row := proj.cell(pt.Position)
		canvas[row][col] = glyphTrail
	}

	for i, wp := range route {
		col, row := proj.cell(wp.Position)
		canvas[row][col] = waypointGlyph(i)
	}

	if current != nil {
		col, row := proj.cell(*current)
		canvas[row][col] = arrowFor(heading)
	}
	return canvas
}

func drawLine(canvas [][]rune, proj projection, a, b geo.Position, glyph rune) {
	c0, r0 := proj.cell(a)
	c1, r1 := proj.cell(b)
	steps := max(abs(c1-c0), abs(r1-r0))
	for s := 0; s <= steps; s++ {
		t := 0.0
		if steps > 0 {
			t = float64(s) / float64(steps)
		}
		col := c0 + int(math.Round(t*float64(c1-c0)))
		row := r0 + int(math.Round(t*float64(r1-r0)))
		canvas[row][col] = glyph
	}
}

func waypointGlyph(i int) rune {
	if i < 9 {
		return rune('1' + i)
	}
	return '+'
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (m VehicleModel) renderPlanView(width, height int) string {
	var route []motion.Waypoint
	loop := false
	if m.hasRoute {
		route = m.route.Waypoints
		loop = m.route.Loop
	}
	var current *geo.Position
	heading := 0.0
	if m.frame != nil {
		pos := m.frame.Position
		current = &pos
		heading = m.frame.Heading
	}

	canvas := planCanvas(route, loop, m.trail, current, heading, width, height)

	var b strings.Builder
	for y, line := range canvas {
		for _, r := range line {
			b.WriteString(styleForGlyph(r).Render(string(r)))
		}
		if y < len(canvas)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func styleForGlyph(r rune) lipgloss.Style {
	switch {
	case r == glyphRoute:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorRoute))
	case r == glyphTrail:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorTrail))
	case r == glyphNorth, r == '+', r >= '1' && r <= '9':
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorWaypoint)).Bold(true)
	case r == ' ':
		return lipgloss.NewStyle()
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(colorVehicle)).Bold(true)
	}
}
