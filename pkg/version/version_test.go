package version

import (
	"strings"
	"testing"

	"github.com/brunorijsman/qkd-cascade/pkg/protocol"
)

func TestVersionStrings(t *testing.T) {
	v := String()
	if !strings.HasPrefix(v, "v") {
		t.Errorf("version string should start with v, got %s", v)
	}

	full := Full()
	if !strings.Contains(full, "QKD-Cascade") {
		t.Errorf("full version should contain project name, got %s", full)
	}
	if !strings.Contains(full, v) {
		t.Errorf("full version should contain version string, got %s", full)
	}
	if !strings.Contains(full, protocol.Current.String()) {
		t.Errorf("full version should contain the protocol version, got %s", full)
	}
}
