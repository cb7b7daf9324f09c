// Package version reports the qkd-cascade release.
package version

import (
	"fmt"

	"github.com/brunorijsman/qkd-cascade/pkg/protocol"
)

// Semantic version components.
const (
	// Major is the major version (breaking changes).
	Major = 0
	// Minor is the minor version (new features).
	Minor = 3
	// Patch is the patch version (bug fixes).
	Patch = 0
	// Label is the optional pre-release label.
	Label = ""
)

// String returns the full version string.
func String() string {
	v := fmt.Sprintf("v%d.%d.%d", Major, Minor, Patch)
	if Label != "" {
		v += "-" + Label
	}
	return v
}

// Full returns a descriptive version string including the wire protocol.
func Full() string {
	return fmt.Sprintf("QKD-Cascade %s (protocol %s)", String(), protocol.Current)
}
