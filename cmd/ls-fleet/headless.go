package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/litescript/ls-fleet/internal/fleet"
)

// runHeadless prints summaries and snapshots without starting the TUI.
func runHeadless(ctx context.Context, session *fleet.Session) error {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	outputOnce := func() error {
		export := buildExport(session, time.Now())

		if snapshotPath != "" {
			if err := writeSnapshot(snapshotPath, export); err != nil {
				return err
			}
		}
		if summaryMode {
			fleet.WriteSummaryTable(os.Stdout, export, time.Now())
		}
		return nil
	}

	// Single run
	if watchInterval == 0 {
		if session.Key() != "" {
			waitForData(ctx, session.State(), settle)
		}
		return outputOnce()
	}

	// Watch mode: repeat at interval
	if err := outputOnce(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if isTTY && summaryMode {
				fmt.Print("\033[H\033[2J")
			} else {
				fmt.Println()
			}
			if err := outputOnce(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
	}
}

func buildExport(session *fleet.Session, now time.Time) *fleet.SnapshotExport {
	frames := session.Engine().Frames()
	return fleet.ExportSnapshot(session.State().Snapshot(), frames, session.Trails(frames), now)
}

// waitForData blocks until the first telemetry arrives, the timeout passes
// or ctx is done.
func waitForData(ctx context.Context, state *fleet.Manager, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for !state.HasData() {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-poll.C:
		}
	}
}

func writeSnapshot(path string, export *fleet.SnapshotExport) error {
	if path == "-" {
		if err := export.WriteJSON(os.Stdout); err != nil {
			return fmt.Errorf("write JSON to stdout: %w", err)
		}
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if err := writeAndClose(f, export); err != nil {
		return fmt.Errorf("write JSON to file: %w", err)
	}
	return nil
}

func writeAndClose(f io.WriteCloser, export *fleet.SnapshotExport) error {
	if err := export.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
