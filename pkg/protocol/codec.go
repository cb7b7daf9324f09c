// codec.go implements serialization and deserialization of protocol messages.
//
// Wire Format:
//
// All messages follow this structure:
//
//	+------+--------+----------+
//	| Type | Length | Payload  |
//	| 1B   | 4B BE  | Variable |
//	+------+--------+----------+
//
// Length is big-endian uint32, not including header bytes. Integers in
// payloads are big-endian.
//
// StartReconciliation: Version (2B) | KeySize (4B)
//
// StartAck: SessionID (16B)
//
// AskParity:
//
//	+---------------------+--------+--------+
//	| Shuffle Identifier  | Start  | End    |
//	| 13B                 | 4B     | 4B     |
//	+---------------------+--------+--------+
//
// ParityReply: Parity (1B, 0 or 1)
//
// EndReconciliation: empty
//
// Verify: Fingerprint (32B)
//
// VerifyReply: Match (1B, 0 or 1)
//
// Alert: Level (1B) | Code (1B) | DescriptionLength (1B) | Description
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

const (
	startPayloadSize  = 2 + 4
	askPayloadSize    = constants.ShuffleIdentifierSize + 4 + 4
	alertMinPayload   = 3
	boolPayloadSize   = 1
	parityPayloadSize = 1
)

// Codec provides message serialization and deserialization.
type Codec struct{}

// NewCodec creates a new protocol codec.
func NewCodec() *Codec {
	return &Codec{}
}

// frame allocates a message of the given type with room for payloadSize bytes.
func frame(t MessageType, payloadSize int) []byte {
	buf := make([]byte, HeaderSize+payloadSize)
	buf[0] = byte(t)
	//nolint:gosec // G115: payloads are bounded by MaxMessageSize
	binary.BigEndian.PutUint32(buf[1:], uint32(payloadSize))
	return buf
}

// payload checks that data holds exactly one message of type t whose payload
// is exactly size bytes, or at least size bytes when atLeast is set.
func payload(data []byte, t MessageType, size int, atLeast bool) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	if MessageType(data[0]) != t {
		return nil, qerrors.ErrInvalidMessage
	}
	n := binary.BigEndian.Uint32(data[1:5])
	if uint64(len(data)) != uint64(HeaderSize)+uint64(n) {
		return nil, qerrors.ErrInvalidMessage
	}
	if int(n) < size || (!atLeast && int(n) != size) {
		return nil, qerrors.ErrInvalidMessage
	}
	return data[HeaderSize:], nil
}

func decodeBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, qerrors.ErrInvalidMessage
	}
}

// EncodeStartReconciliation serializes a StartReconciliation message.
func (c *Codec) EncodeStartReconciliation(m *StartReconciliation) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := frame(MessageTypeStartReconciliation, startPayloadSize)
	buf[HeaderSize] = m.Version.Major
	buf[HeaderSize+1] = m.Version.Minor
	//nolint:gosec // G115: KeySize is validated against MaxKeySize
	binary.BigEndian.PutUint32(buf[HeaderSize+2:], uint32(m.KeySize))
	return buf, nil
}

// DecodeStartReconciliation deserializes a StartReconciliation message.
func (c *Codec) DecodeStartReconciliation(data []byte) (*StartReconciliation, error) {
	p, err := payload(data, MessageTypeStartReconciliation, startPayloadSize, false)
	if err != nil {
		return nil, err
	}

	m := &StartReconciliation{
		Version: ParseVersion(p[0:2]),
		KeySize: int(binary.BigEndian.Uint32(p[2:6])),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeStartAck serializes a StartAck message.
func (c *Codec) EncodeStartAck(m *StartAck) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := frame(MessageTypeStartAck, constants.SessionIDSize)
	copy(buf[HeaderSize:], m.SessionID)
	return buf, nil
}

// DecodeStartAck deserializes a StartAck message.
func (c *Codec) DecodeStartAck(data []byte) (*StartAck, error) {
	p, err := payload(data, MessageTypeStartAck, constants.SessionIDSize, false)
	if err != nil {
		return nil, err
	}

	m := &StartAck{SessionID: make([]byte, constants.SessionIDSize)}
	copy(m.SessionID, p)
	return m, nil
}

// EncodeAskParity serializes an AskParity message.
func (c *Codec) EncodeAskParity(m *AskParity) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := frame(MessageTypeAskParity, askPayloadSize)
	offset := HeaderSize
	copy(buf[offset:], m.Shuffle.Encode())
	offset += constants.ShuffleIdentifierSize
	//nolint:gosec // G115: Start and End are bounded by the shuffle size
	binary.BigEndian.PutUint32(buf[offset:], uint32(m.Start))
	offset += 4
	//nolint:gosec // G115: see above
	binary.BigEndian.PutUint32(buf[offset:], uint32(m.End))
	return buf, nil
}

// DecodeAskParity deserializes an AskParity message.
func (c *Codec) DecodeAskParity(data []byte) (*AskParity, error) {
	p, err := payload(data, MessageTypeAskParity, askPayloadSize, false)
	if err != nil {
		return nil, err
	}

	id, err := shuffle.DecodeIdentifier(p[:constants.ShuffleIdentifierSize])
	if err != nil {
		return nil, err
	}
	offset := constants.ShuffleIdentifierSize
	m := &AskParity{
		Shuffle: id,
		Start:   int(binary.BigEndian.Uint32(p[offset:])),
		End:     int(binary.BigEndian.Uint32(p[offset+4:])),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeParityReply serializes a ParityReply message.
func (c *Codec) EncodeParityReply(m *ParityReply) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := frame(MessageTypeParityReply, parityPayloadSize)
	buf[HeaderSize] = byte(m.Parity)
	return buf, nil
}

// DecodeParityReply deserializes a ParityReply message.
func (c *Codec) DecodeParityReply(data []byte) (*ParityReply, error) {
	p, err := payload(data, MessageTypeParityReply, parityPayloadSize, false)
	if err != nil {
		return nil, err
	}

	m := &ParityReply{Parity: int(p[0])}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeEndReconciliation serializes an EndReconciliation message.
func (c *Codec) EncodeEndReconciliation() []byte {
	return frame(MessageTypeEndReconciliation, 0)
}

// DecodeEndReconciliation checks an EndReconciliation message.
func (c *Codec) DecodeEndReconciliation(data []byte) error {
	_, err := payload(data, MessageTypeEndReconciliation, 0, false)
	return err
}

// EncodeVerify serializes a Verify message.
func (c *Codec) EncodeVerify(m *Verify) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	buf := frame(MessageTypeVerify, constants.FingerprintSize)
	copy(buf[HeaderSize:], m.Fingerprint)
	return buf, nil
}

// DecodeVerify deserializes a Verify message.
func (c *Codec) DecodeVerify(data []byte) (*Verify, error) {
	p, err := payload(data, MessageTypeVerify, constants.FingerprintSize, false)
	if err != nil {
		return nil, err
	}

	m := &Verify{Fingerprint: make([]byte, constants.FingerprintSize)}
	copy(m.Fingerprint, p)
	return m, nil
}

// EncodeVerifyReply serializes a VerifyReply message.
func (c *Codec) EncodeVerifyReply(m *VerifyReply) []byte {
	buf := frame(MessageTypeVerifyReply, boolPayloadSize)
	if m.Match {
		buf[HeaderSize] = 1
	}
	return buf
}

// DecodeVerifyReply deserializes a VerifyReply message.
func (c *Codec) DecodeVerifyReply(data []byte) (*VerifyReply, error) {
	p, err := payload(data, MessageTypeVerifyReply, boolPayloadSize, false)
	if err != nil {
		return nil, err
	}

	match, err := decodeBool(p[0])
	if err != nil {
		return nil, err
	}
	return &VerifyReply{Match: match}, nil
}

// EncodeAlert serializes an alert message. Descriptions longer than
// MaxAlertDescription bytes are truncated.
func (c *Codec) EncodeAlert(level AlertLevel, code AlertCode, description string) []byte {
	if len(description) > constants.MaxAlertDescription {
		description = description[:constants.MaxAlertDescription]
	}

	buf := frame(MessageTypeAlert, alertMinPayload+len(description))
	buf[HeaderSize] = byte(level)
	buf[HeaderSize+1] = byte(code)
	buf[HeaderSize+2] = byte(len(description))
	copy(buf[HeaderSize+3:], description)
	return buf
}

// DecodeAlert deserializes an alert message.
func (c *Codec) DecodeAlert(data []byte) (*AlertMessage, error) {
	p, err := payload(data, MessageTypeAlert, alertMinPayload, true)
	if err != nil {
		return nil, err
	}

	descLen := int(p[2])
	if len(p) != alertMinPayload+descLen {
		return nil, qerrors.ErrInvalidMessage
	}
	m := &AlertMessage{
		Level:       AlertLevel(p[0]),
		Code:        AlertCode(p[1]),
		Description: string(p[3:]),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadMessage reads a complete message from the reader.
func (c *Codec) ReadMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[1:5])
	if payloadLen > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}

	msg := make([]byte, HeaderSize+payloadLen)
	copy(msg, header)

	if payloadLen > 0 {
		if _, err := io.ReadFull(r, msg[HeaderSize:]); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// GetMessageType returns the type of a serialized message.
func (c *Codec) GetMessageType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, qerrors.ErrInvalidMessage
	}
	return MessageType(data[0]), nil
}
