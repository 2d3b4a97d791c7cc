package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/litescript/ls-fleet/internal/command"
	"github.com/litescript/ls-fleet/internal/fleet"
	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/logging"
	"github.com/litescript/ls-fleet/internal/motion"
)

// run registers flags on the default flag set, so it can only be called
// once per test binary.
func TestRun_ReturnsExitCode(t *testing.T) {
	args := os.Args
	defer func() { os.Args = args }()
	os.Args = []string{"ls-fleet", "-config", filepath.Join(t.TempDir(), "missing.yaml")}

	if got := run(); got != 2 {
		t.Errorf("run() with a missing config = %d, want 2", got)
	}
}

func TestRunCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/vehicle/arm":
			_, _ = w.Write([]byte(`{"success": true, "message": "armed"}`))
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"success": false, "message": "vehicle not armed"}`))
		}
	}))
	defer srv.Close()

	client := command.NewClient(srv.URL)

	tests := []struct {
		name string
		want int
	}{
		{"arm", 0},
		{"takeoff", 1},
		{"fly-away", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commandName = tt.name
			defer func() { commandName = "" }()
			if got := runCommand(context.Background(), client, "m1"); got != tt.want {
				t.Errorf("runCommand(%s) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestWriteSnapshot(t *testing.T) {
	snap := fleet.Snapshot{Link: link.Status{State: link.Open, Mode: link.Open.Mode()}}
	frames := []motion.Frame{{ID: "uav-1"}}
	export := fleet.ExportSnapshot(snap, frames, nil, time.Now())

	path := filepath.Join(t.TempDir(), "snap.json")
	if err := writeSnapshot(path, export); err != nil {
		t.Fatalf("writeSnapshot: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("snapshot is not JSON: %v\n%s", err, data)
	}
}

func TestWriteSnapshot_BadPath(t *testing.T) {
	export := fleet.ExportSnapshot(fleet.Snapshot{}, nil, nil, time.Now())
	if err := writeSnapshot(filepath.Join(t.TempDir(), "missing", "snap.json"), export); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestRunTicker_StopsOnCancel(t *testing.T) {
	dialer := link.DialerFunc(func(ctx context.Context, url string) (link.Conn, error) {
		return nil, errors.New("refused")
	})
	lm := link.NewManager(link.DefaultConfig("ws://test"), dialer)
	session := fleet.NewSession(lm, motion.NewEngine(), fleet.NewManager(fleet.DefaultConfig()), logging.Discard())
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runTicker(ctx, session, 10*time.Millisecond)
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runTicker = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runTicker did not stop")
	}
}
