package fleet

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/litescript/ls-fleet/internal/geo"
	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/motion"
	"github.com/litescript/ls-fleet/internal/telemetry"
	"github.com/litescript/ls-fleet/internal/trail"
)

func testExport(now time.Time) *SnapshotExport {
	snap := Snapshot{
		Link: link.Status{State: link.ClosedPolling, Mode: "polling", Key: "m1"},
		Vehicles: []Vehicle{{
			ID: "m1",
			Record: telemetry.Record{
				Position:    &geo.Position{Latitude: 1, Longitude: 1},
				GroundSpeed: ptr(12.34),
				Battery:     &telemetry.Battery{RemainingPct: ptr(76.0)},
				Armed:       ptr(true),
				FlightMode:  ptr("AUTO.MISSION"),
			},
			LastUpdate: now.Add(-3 * time.Second),
		}},
	}
	frames := []motion.Frame{
		{ID: "m1", State: motion.State{Position: geo.Position{Latitude: 47.397742, Longitude: 8.545594}, Heading: 92, Live: true}},
		{ID: "demo-1", State: motion.State{Position: geo.Position{Latitude: 47.4, Longitude: 8.55}, Heading: 180, WaypointIndex: 2, Progress: 0.25}},
	}
	trails := map[string][]trail.Point{
		"demo-1": {{Position: geo.Position{Latitude: 47.39, Longitude: 8.55}, Timestamp: now}},
	}
	return ExportSnapshot(snap, frames, trails, now)
}

func TestExportSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	export := testExport(now)

	if export.Link.Mode != "polling" || export.Link.Mission != "m1" || export.Link.State != "closed-polling" {
		t.Errorf("Link = %+v", export.Link)
	}
	if len(export.Vehicles) != 2 {
		t.Fatalf("Vehicles = %d, want 2", len(export.Vehicles))
	}
	if export.Vehicles[0].ID != "demo-1" || export.Vehicles[1].ID != "m1" {
		t.Errorf("order = %s, %s", export.Vehicles[0].ID, export.Vehicles[1].ID)
	}

	m1 := export.Vehicles[1]
	if m1.Position.Latitude != 47.397742 {
		t.Errorf("m1 position = %v, want the engine frame", m1.Position)
	}
	if m1.BatteryPct == nil || *m1.BatteryPct != 76 || !m1.Live {
		t.Errorf("m1 = %+v", m1)
	}
	if len(export.Vehicles[0].Trail) != 1 {
		t.Errorf("demo-1 trail = %v", export.Vehicles[0].Trail)
	}

	var buf bytes.Buffer
	if err := export.WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := decoded["vehicles"]; !ok {
		t.Error("JSON missing vehicles")
	}
}

func TestWriteSummaryTable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	WriteSummaryTable(&buf, testExport(now), now)
	out := buf.String()

	for _, want := range []string{
		"Link: polling (mission m1)",
		"demo-1",
		"180 S",
		"092 E",
		"12.3 m/s",
		"76%",
		"AUTO.MISSION",
		"3 seconds ago",
		"Total: 2 vehicles",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSummaryTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	WriteSummaryTable(&buf, ExportSnapshot(Snapshot{}, nil, nil, time.Now()), time.Now())
	if !strings.Contains(buf.String(), "No vehicles") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTruncateStr(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much-too-long-name", 8, "much-to…"},
	}
	for _, tt := range tests {
		if got := truncateStr(tt.in, tt.max); got != tt.want {
			t.Errorf("truncateStr(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
