// Package build holds version information set at link time.
package build

// Set with -ldflags "-X go.trai.ch/xnail/internal/build.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
