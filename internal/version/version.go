// Package version holds the build version of pbi.
package version

// Version is set at build time with
// -ldflags "-X github.com/hashicorp-forge/pbi/internal/version.Version=...".
var Version = "0.1.0-dev"
