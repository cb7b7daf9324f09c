// messages.go defines the message flow of one reconciliation:
//
//	Bob                                    Alice
//	 |                                       |
//	 | -------- StartReconciliation -------> |
//	 | <------- StartAck ------------------- |
//	 |                                       |
//	 | -------- AskParity -----------------> |  repeated
//	 | <------- ParityReply ---------------- |
//	 |                                       |
//	 | -------- EndReconciliation ---------> |
//	 |                                       |
//	 | -------- Verify --------------------> |  optional
//	 | <------- VerifyReply ---------------- |
//
// Either side may send an Alert instead of the expected message; a fatal
// alert ends the connection.
package protocol

import (
	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// MessageType identifies the type of protocol message.
type MessageType uint8

// Protocol message types.
const (
	// MessageTypeStartReconciliation announces a reconciliation and the key size.
	MessageTypeStartReconciliation MessageType = 0x01
	// MessageTypeStartAck accepts a reconciliation and assigns a session ID.
	MessageTypeStartAck MessageType = 0x02
	// MessageTypeEndReconciliation closes the current reconciliation.
	MessageTypeEndReconciliation MessageType = 0x03

	// MessageTypeAskParity requests the parity of a shuffled key range.
	MessageTypeAskParity MessageType = 0x10
	// MessageTypeParityReply answers an AskParity.
	MessageTypeParityReply MessageType = 0x11

	// MessageTypeVerify carries Bob's key fingerprint.
	MessageTypeVerify MessageType = 0x20
	// MessageTypeVerifyReply reports whether the fingerprints match.
	MessageTypeVerifyReply MessageType = 0x21

	// MessageTypeAlert signals an error condition.
	MessageTypeAlert MessageType = 0xF0
)

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeStartReconciliation:
		return "StartReconciliation"
	case MessageTypeStartAck:
		return "StartAck"
	case MessageTypeEndReconciliation:
		return "EndReconciliation"
	case MessageTypeAskParity:
		return "AskParity"
	case MessageTypeParityReply:
		return "ParityReply"
	case MessageTypeVerify:
		return "Verify"
	case MessageTypeVerifyReply:
		return "VerifyReply"
	case MessageTypeAlert:
		return "Alert"
	default:
		return "Unknown"
	}
}

// AlertCode identifies specific error conditions.
type AlertCode uint8

// Alert codes.
const (
	// AlertCodeUnexpectedMessage indicates a message arrived out of sequence.
	AlertCodeUnexpectedMessage AlertCode = 0x01
	// AlertCodeInvalidMessage indicates a malformed message.
	AlertCodeInvalidMessage AlertCode = 0x02
	// AlertCodeUnsupportedVersion indicates no common protocol version.
	AlertCodeUnsupportedVersion AlertCode = 0x03
	// AlertCodeKeySizeMismatch indicates the peers hold keys of different sizes.
	AlertCodeKeySizeMismatch AlertCode = 0x04
	// AlertCodeRangeOutOfBounds indicates a parity query outside the key.
	AlertCodeRangeOutOfBounds AlertCode = 0x05
	// AlertCodeRateLimited indicates the server refused a reconciliation.
	AlertCodeRateLimited AlertCode = 0x06
	// AlertCodeInternalError indicates an internal implementation error.
	AlertCodeInternalError AlertCode = 0x07
	// AlertCodeCloseNotify indicates graceful connection closure.
	AlertCodeCloseNotify AlertCode = 0x08
)

// String returns a human-readable name for the alert code.
func (c AlertCode) String() string {
	switch c {
	case AlertCodeUnexpectedMessage:
		return "unexpected_message"
	case AlertCodeInvalidMessage:
		return "invalid_message"
	case AlertCodeUnsupportedVersion:
		return "unsupported_version"
	case AlertCodeKeySizeMismatch:
		return "key_size_mismatch"
	case AlertCodeRangeOutOfBounds:
		return "range_out_of_bounds"
	case AlertCodeRateLimited:
		return "rate_limited"
	case AlertCodeInternalError:
		return "internal_error"
	case AlertCodeCloseNotify:
		return "close_notify"
	default:
		return "unknown"
	}
}

// Err maps an alert code to the sentinel error a local caller should see.
func (c AlertCode) Err() error {
	switch c {
	case AlertCodeUnexpectedMessage:
		return qerrors.ErrUnexpectedMessage
	case AlertCodeInvalidMessage:
		return qerrors.ErrInvalidMessage
	case AlertCodeUnsupportedVersion:
		return qerrors.ErrUnsupportedVersion
	case AlertCodeKeySizeMismatch:
		return qerrors.ErrKeySizeMismatch
	case AlertCodeRangeOutOfBounds:
		return qerrors.ErrRangeOutOfBounds
	case AlertCodeRateLimited:
		return qerrors.ErrRateLimited
	case AlertCodeCloseNotify:
		return qerrors.ErrChannelClosed
	default:
		return qerrors.ErrAlert
	}
}

// StartReconciliation is sent by Bob to begin a reconciliation.
type StartReconciliation struct {
	// Protocol version spoken by Bob
	Version Version

	// Size of Bob's key in bits
	KeySize int
}

// StartAck is Alice's acceptance of a reconciliation.
type StartAck struct {
	// SessionID assigned by Alice (16 bytes)
	SessionID []byte
}

// AskParity requests the parity of Alice's key over the original indexes
// that the shuffle maps the shuffled range [Start, End) onto.
type AskParity struct {
	Shuffle shuffle.Identifier
	Start   int
	End     int
}

// ParityReply carries a single parity bit.
type ParityReply struct {
	Parity int
}

// Verify carries the fingerprint of Bob's reconciled key.
type Verify struct {
	Fingerprint []byte
}

// VerifyReply reports whether Bob's fingerprint matches Alice's key.
type VerifyReply struct {
	Match bool
}

// AlertLevel indicates the severity of the alert.
type AlertLevel uint8

// Alert severity levels.
const (
	// AlertLevelWarning indicates a non-fatal condition; the connection stays open.
	AlertLevelWarning AlertLevel = 0x01
	// AlertLevelFatal indicates an unrecoverable error requiring connection termination.
	AlertLevelFatal AlertLevel = 0x02
)

// AlertMessage signals an error condition or connection closure.
type AlertMessage struct {
	Level       AlertLevel
	Code        AlertCode
	Description string // at most MaxAlertDescription bytes
}

// Error makes an alert usable as an error. It unwraps to the sentinel of
// its code.
func (m *AlertMessage) Error() string {
	if m.Description == "" {
		return "protocol: alert " + m.Code.String()
	}
	return "protocol: alert " + m.Code.String() + ": " + m.Description
}

// Unwrap implements errors.Unwrap.
func (m *AlertMessage) Unwrap() error {
	return m.Code.Err()
}

// Validate checks if the AlertMessage is valid.
func (m *AlertMessage) Validate() error {
	if m.Level != AlertLevelWarning && m.Level != AlertLevelFatal {
		return qerrors.ErrInvalidMessage
	}
	if len(m.Description) > constants.MaxAlertDescription {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// Validate checks if the StartReconciliation message is valid.
func (m *StartReconciliation) Validate() error {
	if !m.Version.IsCompatible(Current) {
		return qerrors.ErrUnsupportedVersion
	}
	if m.KeySize < 0 || m.KeySize > constants.MaxKeySize {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// Validate checks if the StartAck message is valid.
func (m *StartAck) Validate() error {
	if len(m.SessionID) != constants.SessionIDSize {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// Validate checks if the AskParity message is valid. The range must be
// non-empty and lie within the shuffle.
func (m *AskParity) Validate() error {
	if err := m.Shuffle.Validate(); err != nil {
		return err
	}
	if m.Start < 0 || m.Start >= m.End || m.End > m.Shuffle.Size {
		return qerrors.ErrRangeOutOfBounds
	}
	return nil
}

// Validate checks if the ParityReply message is valid.
func (m *ParityReply) Validate() error {
	if m.Parity != 0 && m.Parity != 1 {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// Validate checks if the Verify message is valid.
func (m *Verify) Validate() error {
	if len(m.Fingerprint) != constants.FingerprintSize {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// HeaderSize is the size of the message header (type + length).
const HeaderSize = 5 // 1 byte type + 4 bytes length

// MaxMessageSize is the maximum size of a protocol message.
const MaxMessageSize = constants.MaxMessageSize
