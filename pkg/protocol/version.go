// Package protocol defines the wire protocol of the Cascade classical channel.
//
// Protocol Version: 1.0
//
// The protocol carries:
//   - Reconciliation setup with key size agreement
//   - Parity queries over shuffled key ranges
//   - Post-reconciliation key fingerprint comparison
//   - Alerts for malformed or unexpected messages
//
// Authentication of the channel is left to the transport.
package protocol

import (
	"fmt"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
)

// Version represents the protocol version.
type Version struct {
	Major uint8
	Minor uint8
}

// Current is the current protocol version.
var Current = VersionFromUint16(constants.ProtocolVersion)

// Bytes returns the version as a 2-byte value.
func (v Version) Bytes() []byte {
	return []byte{v.Major, v.Minor}
}

// Uint16 returns the version as a 16-bit value (major << 8 | minor).
func (v Version) Uint16() uint16 {
	return uint16(v.Major)<<8 | uint16(v.Minor)
}

// VersionFromUint16 splits a 16-bit version value.
func VersionFromUint16(v uint16) Version {
	return Version{Major: uint8(v >> 8), Minor: uint8(v)}
}

// ParseVersion parses a version from a 2-byte value.
func ParseVersion(data []byte) Version {
	if len(data) < 2 {
		return Version{}
	}
	return Version{Major: data[0], Minor: data[1]}
}

// IsCompatible returns true if this version is compatible with another version.
// Versions are compatible if they have the same major version.
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

// String returns a string representation of the version.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ProtocolID is the protocol identifier used for domain separation.
const ProtocolID = constants.ProtocolName
