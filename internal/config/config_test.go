package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: https://gcs.example.com/api
link:
  max_attempts: 8
  poll_interval: 2s
animation:
  mode: geodesic
  trail_capacity: 200
mission:
  id: survey-3
  route:
    - position: {lat: 47.39, lon: 8.54, alt: 30}
      label: start
    - position: {lat: 47.40, lon: 8.55, alt: 30}
demo:
  - id: d1
    loop: true
    route:
      - position: {lat: 1, lon: 1}
      - position: {lat: 1, lon: 2}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Link.MaxAttempts != 8 || cfg.Link.PollInterval.Std() != 2*time.Second {
		t.Errorf("Link = %+v", cfg.Link)
	}
	if cfg.Link.BaseDelay.Std() != time.Second {
		t.Errorf("BaseDelay = %v, want default 1s", cfg.Link.BaseDelay.Std())
	}
	if got := cfg.ChannelURL(); got != "wss://gcs.example.com/api/ws/telemetry" {
		t.Errorf("ChannelURL = %q", got)
	}

	mm := cfg.MissionMotion()
	if mm == nil || len(mm.Route.Waypoints) != 2 || mm.Route.Waypoints[0].Label != "start" {
		t.Fatalf("MissionMotion = %+v", mm)
	}
	if mm.SpeedMPS != cfg.Animation.SpeedMPS {
		t.Errorf("mission speed = %v, want animation default", mm.SpeedMPS)
	}
	if d := cfg.DemoMotion(0); !d.Route.Loop || d.Route.Waypoints[1].Position.Longitude != 2 {
		t.Errorf("DemoMotion = %+v", d)
	}

	ls := cfg.LinkSettings()
	if ls.MaxAttempts != 8 || ls.URL != cfg.ChannelURL() {
		t.Errorf("LinkSettings = %+v", ls)
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: ftp://nope
link:
  max_attempts: 0
  poll_interval: 0s
animation:
  mode: warp
demo:
  - id: x
    route:
      - position: {lat: 0, lon: 0}
  - id: x
log:
  level: chatty
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load succeeded, want validation error")
	}
	for _, want := range []string{
		"api.base_url",
		"link.max_attempts",
		"link.poll_interval",
		"animation.mode",
		"demo[0].route",
		`duplicate id "x"`,
		"demo[1]: route is empty",
		"log.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "link:\n  base_delay: soon\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "soon") {
		t.Errorf("err = %v, want duration parse error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestChannelURL(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ChannelURL(); got != "ws://localhost:8000/ws/telemetry" {
		t.Errorf("ChannelURL = %q", got)
	}
	cfg.API.WSURL = "ws://other:9000/live"
	if got := cfg.ChannelURL(); got != "ws://other:9000/live" {
		t.Errorf("explicit ChannelURL = %q", got)
	}
}

func TestDemoFleetIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Demo = DemoFleet(cfg.Animation.Fallback)
	if err := cfg.Validate(); err != nil {
		t.Errorf("demo fleet invalid: %v", err)
	}
}
