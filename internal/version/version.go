// Package version provides build and version information.
package version

// Version is the current application version.
const Version = "0.3.0"

// Milestones:
// 0.3.0 - Command keys with notifications, Prometheus link metrics, rotating log file
// 0.2.0 - Polling fallback after repeated reconnect failures, geodesic animation mode
// 0.1.0 - Initial release: live telemetry channel, waypoint animation, fleet dashboard, headless summary
