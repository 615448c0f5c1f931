// Package version carries the build version.
package version

// Version is set at build time via
// -ldflags "-X github.com/chrisgavin/trailbot/internal/version.Version=v1.2.3".
var Version = "dev"
