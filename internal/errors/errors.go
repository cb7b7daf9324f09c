// Package errors defines the error values shared by the qkd-cascade packages.
//
// Contract violations (out-of-range indexes, mismatched key sizes, duplicate
// block registration) are programming errors and panic at the call site.
// Everything in this package describes runtime conditions a caller may want to
// inspect: malformed input, channel failures, and protocol errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for key and shuffle construction
var (
	// ErrInvalidKeySize indicates a negative or oversized key size
	ErrInvalidKeySize = errors.New("key: invalid key size")

	// ErrInvalidErrorCount indicates a noise error count outside [0, size]
	ErrInvalidErrorCount = errors.New("key: invalid error count")

	// ErrInvalidKeyString indicates a key string containing characters other than 0 and 1
	ErrInvalidKeyString = errors.New("key: invalid key string")

	// ErrInvalidShuffleIdentifier indicates a shuffle identifier that cannot be decoded
	ErrInvalidShuffleIdentifier = errors.New("shuffle: invalid identifier")

	// ErrUnknownAlgorithm indicates an unknown shuffle algorithm
	ErrUnknownAlgorithm = errors.New("shuffle: unknown algorithm")
)

// Sentinel errors for derivations
var (
	// ErrInvalidLength indicates a requested derivation output length out of range
	ErrInvalidLength = errors.New("crypto: invalid output length")
)

// Sentinel errors for the reconciliation engine
var (
	// ErrUnknownParameters indicates a request for an unknown Cascade algorithm
	ErrUnknownParameters = errors.New("cascade: unknown algorithm")

	// ErrInvalidParameters indicates parameters that cannot drive a reconciliation
	ErrInvalidParameters = errors.New("cascade: invalid parameters")

	// ErrInvalidErrorRate indicates an estimated bit error rate outside [0, 1)
	ErrInvalidErrorRate = errors.New("cascade: invalid estimated error rate")

	// ErrBisectionInvariant indicates that bisection descended into a block with
	// even parity, which means the reference parities are inconsistent
	ErrBisectionInvariant = errors.New("cascade: bisection invariant violated")
)

// Sentinel errors for protocol operations
var (
	// ErrInvalidMessage indicates a protocol message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrUnsupportedVersion indicates an unsupported protocol version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrUnexpectedMessage indicates a message arrived out of sequence
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrInvalidState indicates an invalid protocol state
	ErrInvalidState = errors.New("protocol: invalid state")

	// ErrAlert indicates the peer reported an error
	ErrAlert = errors.New("protocol: alert received")
)

// Sentinel errors for the classical channel
var (
	// ErrChannelClosed indicates the channel has been closed
	ErrChannelClosed = errors.New("channel: closed")

	// ErrKeySizeMismatch indicates Bob and Alice disagree on the key size
	ErrKeySizeMismatch = errors.New("channel: key size mismatch")

	// ErrRateLimited indicates the server refused to start a reconciliation
	ErrRateLimited = errors.New("channel: rate limited")

	// ErrRangeOutOfBounds indicates a parity query for a range outside the key
	ErrRangeOutOfBounds = errors.New("channel: range out of bounds")
)

// ChannelError wraps a classical channel failure with the operation that failed
type ChannelError struct {
	Op  string // Operation that failed (e.g. "ask-parity")
	Err error  // Underlying error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError
func NewChannelError(op string, err error) *ChannelError {
	return &ChannelError{Op: op, Err: err}
}

// ProtocolError wraps a protocol error with additional context
type ProtocolError struct {
	Phase string // Protocol phase (e.g., "start", "parity")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
