// Package buildinfo carries version metadata stamped at link time.
package buildinfo

import "time"

// These variables are intended to be set via -ldflags at build time:
//
//	-X 'github.com/m3rciful/wabot/core/buildinfo.Version=v0.3.0'
//	-X 'github.com/m3rciful/wabot/core/buildinfo.Commit=abcdef0'
//	-X 'github.com/m3rciful/wabot/core/buildinfo.Date=2026-01-30T12:00:00Z'
var (
	// Version reports the semantic version or tag of the build.
	Version = "dev"
	// Commit reports the source control commit used for the build.
	Commit = "local"
	// Date reports the build timestamp in RFC3339 format.
	Date = ""
)

var startedAt = time.Now()

// Uptime reports how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startedAt)
}
