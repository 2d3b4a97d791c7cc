// Package config loads the dashboard configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/litescript/ls-fleet/internal/geo"
	"github.com/litescript/ls-fleet/internal/link"
	"github.com/litescript/ls-fleet/internal/motion"
)

// Duration is a time.Duration written as a Go duration string ("1s",
// "250ms") in YAML.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config.Duration: failed to parse %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete dashboard configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Link      LinkConfig      `yaml:"link"`
	Animation AnimationConfig `yaml:"animation"`
	Mission   MissionConfig   `yaml:"mission"`
	Demo      []DemoVehicle   `yaml:"demo"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// APIConfig locates the backend.
type APIConfig struct {
	BaseURL        string   `yaml:"base_url"`
	WSURL          string   `yaml:"ws_url"`
	CommandTimeout Duration `yaml:"command_timeout"`
}

// LinkConfig holds connection recovery timings.
type LinkConfig struct {
	BaseDelay         Duration `yaml:"base_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	MaxAttempts       int      `yaml:"max_attempts"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	PollInterval      Duration `yaml:"poll_interval"`
	DialTimeout       Duration `yaml:"dial_timeout"`
}

// AnimationConfig controls the motion engine.
type AnimationConfig struct {
	SpeedMPS      float64      `yaml:"speed_mps"`
	Mode          string       `yaml:"mode"`
	TrailCapacity int          `yaml:"trail_capacity"`
	TickInterval  Duration     `yaml:"tick_interval"`
	Fallback      geo.Position `yaml:"fallback_position"`
}

// MissionConfig selects the mission tracked at startup.
type MissionConfig struct {
	ID       string            `yaml:"id"`
	SpeedMPS float64           `yaml:"speed_mps"`
	Loop     bool              `yaml:"loop"`
	Route    []motion.Waypoint `yaml:"route"`
}

// DemoVehicle is a simulated vehicle flying a fixed route.
type DemoVehicle struct {
	ID       string            `yaml:"id"`
	SpeedMPS float64           `yaml:"speed_mps"`
	Loop     bool              `yaml:"loop"`
	Route    []motion.Waypoint `yaml:"route"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:        "http://localhost:8000",
			CommandTimeout: Duration(15 * time.Second),
		},
		Link: LinkConfig{
			BaseDelay:         Duration(link.DefaultBaseDelay),
			MaxDelay:          Duration(link.DefaultMaxDelay),
			MaxAttempts:       link.DefaultMaxAttempts,
			HeartbeatInterval: Duration(link.DefaultHeartbeatInterval),
			PollInterval:      Duration(link.DefaultPollInterval),
			DialTimeout:       Duration(link.DefaultDialTimeout),
		},
		Animation: AnimationConfig{
			SpeedMPS:      15,
			Mode:          motion.Planar.String(),
			TrailCapacity: 500,
			TickInterval:  Duration(80 * time.Millisecond),
			Fallback:      geo.Position{Latitude: 47.397742, Longitude: 8.545594},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error

	if err := checkURL(c.API.BaseURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	}
	if c.API.WSURL != "" {
		if err := checkURL(c.API.WSURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("api.ws_url: %w", err))
		}
	}

	for name, d := range map[string]Duration{
		"link.base_delay":         c.Link.BaseDelay,
		"link.max_delay":          c.Link.MaxDelay,
		"link.heartbeat_interval": c.Link.HeartbeatInterval,
		"link.poll_interval":      c.Link.PollInterval,
		"animation.tick_interval": c.Animation.TickInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", name))
		}
	}
	if c.Link.MaxDelay < c.Link.BaseDelay {
		errs = append(errs, errors.New("link.max_delay: must not be below base_delay"))
	}
	if c.Link.MaxAttempts < 1 {
		errs = append(errs, errors.New("link.max_attempts: must be at least 1"))
	}

	if c.Animation.SpeedMPS < 0 {
		errs = append(errs, errors.New("animation.speed_mps: must not be negative"))
	}
	if c.Animation.TrailCapacity < 1 {
		errs = append(errs, errors.New("animation.trail_capacity: must be at least 1"))
	}
	if c.Animation.Mode != motion.Planar.String() && c.Animation.Mode != motion.Geodesic.String() {
		errs = append(errs, fmt.Errorf("animation.mode: unknown mode %q", c.Animation.Mode))
	}
	if c.Animation.Fallback != (geo.Position{}) && !c.Animation.Fallback.IsValid() {
		errs = append(errs, fmt.Errorf("animation.fallback_position: invalid position %s", c.Animation.Fallback))
	}

	if len(c.Mission.Route) > 0 {
		if err := checkRoute(c.Mission.Route); err != nil {
			errs = append(errs, fmt.Errorf("mission.route: %w", err))
		}
	}

	seen := make(map[string]bool)
	for i, d := range c.Demo {
		if d.ID == "" {
			errs = append(errs, fmt.Errorf("demo[%d]: id is required", i))
		} else if seen[d.ID] {
			errs = append(errs, fmt.Errorf("demo[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
		if len(d.Route) == 0 {
			errs = append(errs, fmt.Errorf("demo[%d]: route is empty", i))
		} else if err := checkRoute(d.Route); err != nil {
			errs = append(errs, fmt.Errorf("demo[%d].route: %w", i, err))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("want %s URL, got %q", strings.Join(schemes, " or "), raw)
}

func checkRoute(wps []motion.Waypoint) error {
	for i, wp := range wps {
		if !wp.Position.IsValid() {
			return fmt.Errorf("waypoint %d: invalid position %s", i, wp.Position)
		}
	}
	return nil
}

// ChannelURL returns the live channel URL, derived from the base URL when
// not set explicitly.
func (c Config) ChannelURL() string {
	if c.API.WSURL != "" {
		return c.API.WSURL
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/telemetry"
	return u.String()
}

// LinkSettings converts the link section for link.NewManager.
func (c Config) LinkSettings() link.Config {
	return link.Config{
		URL:               c.ChannelURL(),
		BaseDelay:         c.Link.BaseDelay.Std(),
		MaxDelay:          c.Link.MaxDelay.Std(),
		MaxAttempts:       c.Link.MaxAttempts,
		HeartbeatInterval: c.Link.HeartbeatInterval.Std(),
		PollInterval:      c.Link.PollInterval.Std(),
		DialTimeout:       c.Link.DialTimeout.Std(),
	}
}

// MissionMotion returns the animation for the configured mission, or nil
// when no route is configured.
func (c Config) MissionMotion() *motion.Config {
	if len(c.Mission.Route) == 0 {
		return nil
	}
	return &motion.Config{
		Route:    motion.Route{Waypoints: c.Mission.Route, Loop: c.Mission.Loop},
		SpeedMPS: pickSpeed(c.Mission.SpeedMPS, c.Animation.SpeedMPS),
		Mode:     motion.ParseMode(c.Animation.Mode),
	}
}

// DemoMotion returns the animation for demo vehicle i.
func (c Config) DemoMotion(i int) motion.Config {
	d := c.Demo[i]
	return motion.Config{
		Route:    motion.Route{Waypoints: d.Route, Loop: d.Loop},
		SpeedMPS: pickSpeed(d.SpeedMPS, c.Animation.SpeedMPS),
		Mode:     motion.ParseMode(c.Animation.Mode),
	}
}

func pickSpeed(own, fallback float64) float64 {
	if own > 0 {
		return own
	}
	return fallback
}

// DemoFleet returns a small patrol fleet around center, used when the
// dashboard runs without a configured demo section.
func DemoFleet(center geo.Position) []DemoVehicle {
	at := func(dLat, dLon float64) motion.Waypoint {
		return motion.Waypoint{Position: geo.Position{
			Latitude:  center.Latitude + dLat,
			Longitude: center.Longitude + dLon,
			Altitude:  40,
		}}
	}
	return []DemoVehicle{
		{
			ID:       "demo-alpha",
			SpeedMPS: 12,
			Loop:     true,
			Route:    []motion.Waypoint{at(0.002, -0.003), at(0.002, 0.003), at(-0.002, 0.003), at(-0.002, -0.003)},
		},
		{
			ID:       "demo-bravo",
			SpeedMPS: 18,
			Loop:     true,
			Route:    []motion.Waypoint{at(0, -0.004), at(0.003, 0), at(0, 0.004), at(-0.003, 0)},
		},
		{
			ID:       "demo-charlie",
			SpeedMPS: 9,
			Route:    []motion.Waypoint{at(-0.001, -0.001), at(0.001, 0.002), at(0.003, 0.004)},
		},
	}
}
