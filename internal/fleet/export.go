package fleet

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/litescript/ls-fleet/internal/geo"
	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/motion"
	"github.com/litescript/ls-fleet/internal/trail"
)

// SnapshotExport is the JSON-serializable representation of fleet state.
type SnapshotExport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Link        LinkExport      `json:"link"`
	Vehicles    []VehicleExport `json:"vehicles"`
	Events      []Event         `json:"events,omitempty"`
}

// LinkExport is a JSON-friendly link status.
type LinkExport struct {
	State     string    `json:"state"`
	Mode      string    `json:"mode"`
	Mission   string    `json:"mission,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	LastFrame time.Time `json:"last_frame,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// VehicleExport combines the latest telemetry with the animated state and
// flight path of one vehicle.
type VehicleExport struct {
	ID            string        `json:"id"`
	Position      *geo.Position `json:"position,omitempty"`
	Heading       *float64      `json:"heading,omitempty"`
	Live          bool          `json:"live"`
	Completed     bool          `json:"completed,omitempty"`
	WaypointIndex int           `json:"waypoint_index"`
	Progress      float64       `json:"progress"`
	SpeedMPS      *float64      `json:"speed_mps,omitempty"`
	BatteryPct    *float64      `json:"battery_pct,omitempty"`
	Armed         *bool         `json:"armed,omitempty"`
	FlightMode    *string       `json:"flight_mode,omitempty"`
	LastUpdate    time.Time     `json:"last_update,omitempty"`
	Trail         []trail.Point `json:"trail,omitempty"`
}

// ExportSnapshot merges fleet state, engine frames and trails into an
// exportable form. Vehicles are sorted by id.
func ExportSnapshot(snap Snapshot, frames []motion.Frame, trails map[string][]trail.Point, at time.Time) *SnapshotExport {
	export := &SnapshotExport{
		GeneratedAt: at,
		Link:        exportLink(snap.Link),
		Events:      snap.Events,
	}

	byID := make(map[string]*VehicleExport)
	get := func(id string) *VehicleExport {
		if v, ok := byID[id]; ok {
			return v
		}
		v := &VehicleExport{ID: id}
		byID[id] = v
		return v
	}

	for _, v := range snap.Vehicles {
		ve := get(v.ID)
		rec := v.Record
		ve.Position = rec.Position
		if h, ok := rec.Heading(); ok {
			ve.Heading = &h
		}
		if s, ok := rec.Speed(); ok {
			ve.SpeedMPS = &s
		}
		if rec.Battery != nil {
			ve.BatteryPct = rec.Battery.RemainingPct
		}
		ve.Armed = rec.Armed
		ve.FlightMode = rec.FlightMode
		ve.LastUpdate = v.LastUpdate
	}

	// Engine frames win for position and heading: they are what is drawn.
	for _, f := range frames {
		ve := get(f.ID)
		pos := f.Position
		heading := f.Heading
		ve.Position = &pos
		ve.Heading = &heading
		ve.Live = f.Live
		ve.Completed = f.Completed
		ve.WaypointIndex = f.WaypointIndex
		ve.Progress = f.Progress
	}

	for id, pts := range trails {
		get(id).Trail = pts
	}

	export.Vehicles = make([]VehicleExport, 0, len(byID))
	for _, v := range byID {
		export.Vehicles = append(export.Vehicles, *v)
	}
	sort.Slice(export.Vehicles, func(i, j int) bool { return export.Vehicles[i].ID < export.Vehicles[j].ID })
	return export
}

func exportLink(s link.Status) LinkExport {
	return LinkExport{
		State:     s.State.String(),
		Mode:      s.Mode,
		Mission:   s.Key,
		Attempt:   s.Attempt,
		LastFrame: s.LastFrame,
		LastError: s.LastError,
	}
}

// WriteJSON writes the snapshot as JSON to the given writer.
func (s *SnapshotExport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// SummaryRow represents one row in the summary table.
type SummaryRow struct {
	Vehicle  string
	Source   string
	Position string
	Heading  string
	Speed    string
	Battery  string
	Armed    string
	Mode     string
	Updated  string
}

// GenerateSummaryRows creates summary rows from an export.
func GenerateSummaryRows(export *SnapshotExport, now time.Time) []SummaryRow {
	if export == nil {
		return nil
	}

	rows := make([]SummaryRow, 0, len(export.Vehicles))
	for _, v := range export.Vehicles {
		row := SummaryRow{
			Vehicle:  v.ID,
			Source:   "sim",
			Position: "-",
			Heading:  "-",
			Speed:    "-",
			Battery:  "-",
			Armed:    "-",
			Mode:     "-",
			Updated:  "-",
		}
		switch {
		case v.Completed:
			row.Source = "done"
		case v.Live:
			row.Source = "live"
		}
		if v.Position != nil {
			row.Position = fmt.Sprintf("%.5f,%.5f", v.Position.Latitude, v.Position.Longitude)
		}
		if v.Heading != nil {
			row.Heading = fmt.Sprintf("%03.0f %s", *v.Heading, geo.Compass(*v.Heading))
		}
		if v.SpeedMPS != nil {
			row.Speed = humanize.FtoaWithDigits(*v.SpeedMPS, 1) + " m/s"
		}
		if v.BatteryPct != nil {
			row.Battery = fmt.Sprintf("%.0f%%", *v.BatteryPct)
		}
		if v.Armed != nil {
			row.Armed = "no"
			if *v.Armed {
				row.Armed = "yes"
			}
		}
		if v.FlightMode != nil {
			row.Mode = *v.FlightMode
		}
		if !v.LastUpdate.IsZero() {
			row.Updated = humanize.RelTime(v.LastUpdate, now, "ago", "from now")
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteSummaryTable writes a text table to the given writer.
func WriteSummaryTable(w io.Writer, export *SnapshotExport, now time.Time) {
	rows := GenerateSummaryRows(export, now)

	fmt.Fprintf(w, "Fleet Status @ %s\n", now.Format(time.RFC3339))
	if export != nil {
		fmt.Fprintf(w, "Link: %s", export.Link.Mode)
		if export.Link.Mission != "" {
			fmt.Fprintf(w, " (mission %s)", export.Link.Mission)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, strings.Repeat("─", 100))

	if len(rows) == 0 {
		fmt.Fprintln(w, "No vehicles")
		return
	}

	// Header
	fmt.Fprintf(w, "%-12s %-5s %-21s %-8s %-10s %-5s %-5s %-14s %s\n",
		"Vehicle", "Src", "Position", "Heading", "Speed", "Batt", "Armed", "Mode", "Updated")
	fmt.Fprintln(w, strings.Repeat("─", 100))

	// Rows
	for _, r := range rows {
		fmt.Fprintf(w, "%-12s %-5s %-21s %-8s %-10s %-5s %-5s %-14s %s\n",
			truncateStr(r.Vehicle, 12),
			r.Source,
			r.Position,
			r.Heading,
			r.Speed,
			r.Battery,
			r.Armed,
			truncateStr(r.Mode, 14),
			r.Updated,
		)
	}

	fmt.Fprintf(w, "\nTotal: %d vehicles\n", len(rows))
}

// truncateStr shortens s to n runes, marking the cut with an ellipsis.
func truncateStr(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
