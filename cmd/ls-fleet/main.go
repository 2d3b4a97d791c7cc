// Command ls-fleet is a terminal dashboard for monitoring and commanding a
// UAV fleet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/litescript/ls-fleet/internal/command"
	"github.com/litescript/ls-fleet/internal/config"
	"github.com/litescript/ls-fleet/internal/fleet"
	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/logging"
	"github.com/litescript/ls-fleet/internal/motion"
	"github.com/litescript/ls-fleet/internal/ui"
	"github.com/litescript/ls-fleet/internal/version"
)

// CLI flags for headless mode
var (
	summaryMode   bool
	watchInterval time.Duration
	snapshotPath  string
	settle        time.Duration
	commandName   string
)

func main() {
	os.Exit(run())
}

// run does the work of main and returns the exit code, so deferred cleanup
// runs before the process exits.
func run() int {
	configPath := flag.String("config", "", "Path to YAML config file")
	baseURL := flag.String("base-url", "", "Backend base URL (overrides config)")
	wsURL := flag.String("ws-url", "", "Telemetry channel URL (default derived from base URL)")
	mission := flag.String("mission", "", "Mission id to track")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := flag.String("log-file", "", "Log file (TUI mode defaults to a file in the temp dir)")
	demo := flag.Bool("demo", false, "Add simulated demo vehicles")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(&summaryMode, "summary", false, "Print text summary instead of TUI")
	flag.DurationVar(&watchInterval, "watch", 0, "Repeat summary at interval (e.g., 5s)")
	flag.StringVar(&snapshotPath, "snapshot-path", "", "Export JSON snapshot to file (use - for stdout)")
	flag.DurationVar(&settle, "settle", 3*time.Second, "How long a single headless run waits for telemetry")
	flag.StringVar(&commandName, "command", "", "Send one command (connect, arm, disarm, takeoff, land, rtl, start, stop, upload) and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("ls-fleet", version.Version)
		return 0
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		cfg = loaded
	}
	if *baseURL != "" {
		cfg.API.BaseURL = *baseURL
	}
	if *wsURL != "" {
		cfg.API.WSURL = *wsURL
	}
	if *mission != "" {
		cfg.Mission.ID = *mission
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *demo && len(cfg.Demo) == 0 {
		cfg.Demo = config.DemoFleet(cfg.Animation.Fallback)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration:\n%v\n", err)
		return 2
	}

	headless := summaryMode || snapshotPath != "" || commandName != ""

	// Set up logging. The TUI owns the terminal, so its log goes to a file.
	level := logging.ParseLevel(cfg.Log.Level)
	var logger *logging.Logger
	switch {
	case cfg.Log.File != "":
		logger = logging.NewFile(level, logging.FileConfig{Path: cfg.Log.File, MaxBackups: 3})
	case !headless:
		logger = logging.NewFile(level, logging.FileConfig{Path: filepath.Join(os.TempDir(), "ls-fleet.log"), MaxBackups: 3})
	default:
		logger = logging.New(level)
	}
	defer logger.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	commands := command.NewClient(cfg.API.BaseURL,
		command.WithTimeout(cfg.API.CommandTimeout.Std()),
		command.WithLogger(logger.With("command")),
	)

	if commandName != "" {
		return runCommand(ctx, commands, cfg.Mission.ID)
	}

	// Initialize components
	registry := prometheus.NewRegistry()
	metrics, err := link.NewMetrics(registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	linkMgr := link.NewManager(cfg.LinkSettings(), link.NewWSDialer(cfg.Link.DialTimeout.Std()),
		link.WithPoller(link.NewHTTPPoller(cfg.API.BaseURL)),
		link.WithLogger(logger.With("link")),
		link.WithMetrics(metrics),
	)

	engine := motion.NewEngine(
		motion.WithTrailCapacity(cfg.Animation.TrailCapacity),
		motion.WithFallback(cfg.Animation.Fallback),
	)
	for i, d := range cfg.Demo {
		if err := engine.Track(d.ID, cfg.DemoMotion(i)); err != nil {
			logger.Warn("demo vehicle %s: %v", d.ID, err)
		}
	}

	stateMgr := fleet.NewManager(fleet.DefaultConfig())
	session := fleet.NewSession(linkMgr, engine, stateMgr, logger.With("session"))
	defer session.Close()

	if cfg.Mission.ID != "" {
		if err := session.Start(cfg.Mission.ID, cfg.MissionMotion()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	} else {
		logger.Info("no mission configured; showing demo vehicles only")
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Addr, metrics, logger)
		})
	}

	// Headless mode: no TUI
	if headless {
		g.Go(func() error {
			return runTicker(gctx, session, cfg.Animation.TickInterval.Std())
		})
		g.Go(func() error {
			defer cancel()
			return runHeadless(gctx, session)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	model := ui.New(session, commands)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Run TUI (blocks until quit)
	_, runErr := p.Run()
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("metrics server: %v", err)
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", runErr)
		return 1
	}
	return 0
}

// runCommand sends one command and reports the backend's answer verbatim.
func runCommand(ctx context.Context, commands *command.Client, missionID string) int {
	action, err := command.ParseAction(commandName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	res, err := commands.Do(ctx, action, missionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	msg := res.Message
	if msg == "" {
		msg = string(action) + " accepted"
	}
	fmt.Println(msg)
	return 0
}

// runTicker advances the motion engine until ctx is done.
func runTicker(ctx context.Context, session *fleet.Session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	session.Tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			session.Tick()
		}
	}
}

func serveMetrics(ctx context.Context, addr string, metrics *link.Metrics, logger *logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
