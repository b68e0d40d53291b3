// Package version exposes the release version compiled into the binary.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the version string, trimmed. A blank VERSION file reads
// as a dev build.
func Get() string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "0.0.0-dev"
	}
	return v
}
