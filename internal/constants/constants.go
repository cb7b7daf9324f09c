// Package constants defines protocol constants and engine limits for the
// qkd-cascade reconciliation system.
package constants

// Protocol version and identification
const (
	// ProtocolVersion is the current version of the classical channel protocol (major << 8 | minor)
	ProtocolVersion uint16 = 0x0100

	// ProtocolName is used for domain separation in key fingerprints
	ProtocolName = "QKD-CASCADE-v1"
)

// Domain separators for SHAKE-256 derivations
const (
	// DomainSeparatorFingerprint is used when hashing a reconciled key for verification
	DomainSeparatorFingerprint = "QKD-CASCADE-Key-Fingerprint"

	// DomainSeparatorShuffle is used when expanding a shuffle seed into a permutation stream
	DomainSeparatorShuffle = "QKD-CASCADE-Shuffle"
)

// Key and shuffle limits
const (
	// MaxKeySize is the largest key, in bits, that a shuffle identifier can describe
	MaxKeySize = 1_000_000_000

	// ShuffleIdentifierSize is the encoded size of a shuffle identifier:
	// algorithm (1B) | size (4B BE) | seed (8B BE)
	ShuffleIdentifierSize = 13

	// FingerprintSize is the size of a key fingerprint in bytes
	FingerprintSize = 32

	// SessionIDSize is the size of session identifiers in bytes (a UUID)
	SessionIDSize = 16
)

// Cascade engine defaults
const (
	// MinEstimatedErrorRate is the floor applied to the estimated bit error
	// rate before computing block sizes
	MinEstimatedErrorRate = 0.00001

	// DefaultAlgorithm is the Cascade variant used when none is configured
	DefaultAlgorithm = "original"
)

// Message Size Limits
const (
	// MaxMessageSize is the maximum size of a single protocol message
	MaxMessageSize = 65536

	// MaxAlertDescription is the maximum length of an alert description
	MaxAlertDescription = 255
)

// Network defaults
const (
	// DefaultServerAddr is the default address of the Alice-side server
	DefaultServerAddr = "localhost:8484"

	// DefaultMetricsAddr is the default address of the Prometheus endpoint
	DefaultMetricsAddr = ":9090"

	// DefaultShuffleCacheSize is the default number of shuffles Alice keeps rebuilt
	DefaultShuffleCacheSize = 64

	// DefaultTimeoutSeconds is the default read/write timeout of the classical channel
	DefaultTimeoutSeconds = 30
)
