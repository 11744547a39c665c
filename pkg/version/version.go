// Package version provides build version information.
// Version is set at build time via ldflags:
// go build -ldflags "-X github.com/Rorqualx/pagesnap/pkg/version.Version=1.0.0"
package version

import "runtime"

// Version is the application version, set at build time.
var Version = "dev"

// Commit is the git commit the binary was built from, set at build time.
var Commit = ""

// UserAgent is the browser identification string reported for every
// capture, regardless of the emulated device. Keep the Chrome major
// version current; stale versions are a bot signal.
var UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36"

// Full returns the full version string.
func Full() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}

// GoVersion returns the Go runtime version.
func GoVersion() string {
	return runtime.Version()
}
