// Package channel carries the Cascade classical channel over a stream
// connection.
//
// Client is Bob's end: it implements cascade.Channel by sending each
// parity query to Alice and waiting for the reply. Server is Alice's end:
// it holds her copy of the key and answers queries from any number of
// connections. Messages are framed by pkg/protocol.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/cascade"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/protocol"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

const closeNotifyTimeout = 100 * time.Millisecond

// ClientConfig holds configuration for Bob's end of the channel.
type ClientConfig struct {
	// ReadTimeout bounds the wait for each reply. 0 means no timeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds each request write. 0 means no timeout.
	WriteTimeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadTimeout:  constants.DefaultTimeoutSeconds * time.Second,
		WriteTimeout: constants.DefaultTimeoutSeconds * time.Second,
	}
}

// Client is Bob's end of the classical channel. Calls are serialized; a
// Client carries one reconciliation at a time.
type Client struct {
	conn   net.Conn
	codec  *protocol.Codec
	config ClientConfig

	mu        sync.Mutex
	sessionID uuid.UUID
	keySize   int
	active    bool
	closed    bool
}

var _ cascade.Channel = (*Client)(nil)

// Dial connects to Alice's server at address.
func Dial(ctx context.Context, address string, config ClientConfig) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, config), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, config ClientConfig) *Client {
	return &Client{
		conn:   conn,
		codec:  protocol.NewCodec(),
		config: config,
	}
}

// SessionID returns the ID Alice assigned to the current or last
// reconciliation, or uuid.Nil before the first one.
func (c *Client) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RemoteAddr returns Alice's network address.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// StartReconciliation implements cascade.Channel.
func (c *Client) StartReconciliation(ctx context.Context, keySize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return qerrors.ErrInvalidState
	}
	req, err := c.codec.EncodeStartReconciliation(&protocol.StartReconciliation{
		Version: protocol.Current,
		KeySize: keySize,
	})
	if err != nil {
		return err
	}

	reply, err := c.exchange(ctx, req, protocol.MessageTypeStartAck)
	if err != nil {
		return err
	}
	ack, err := c.codec.DecodeStartAck(reply)
	if err != nil {
		return c.abort(protocol.AlertCodeInvalidMessage, err)
	}
	id, err := uuid.FromBytes(ack.SessionID)
	if err != nil {
		return c.abort(protocol.AlertCodeInvalidMessage, err)
	}

	c.sessionID = id
	c.keySize = keySize
	c.active = true
	return nil
}

// AskParity implements cascade.Channel.
func (c *Client) AskParity(ctx context.Context, s *shuffle.Shuffle, start, end int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return 0, qerrors.ErrInvalidState
	}
	if s.Size() != c.keySize {
		return 0, qerrors.ErrKeySizeMismatch
	}
	req, err := c.codec.EncodeAskParity(&protocol.AskParity{
		Shuffle: s.Identifier(),
		Start:   start,
		End:     end,
	})
	if err != nil {
		return 0, err
	}

	reply, err := c.exchange(ctx, req, protocol.MessageTypeParityReply)
	if err != nil {
		return 0, err
	}
	m, err := c.codec.DecodeParityReply(reply)
	if err != nil {
		return 0, c.abort(protocol.AlertCodeInvalidMessage, err)
	}
	return m.Parity, nil
}

// EndReconciliation implements cascade.Channel. Alice does not reply.
func (c *Client) EndReconciliation(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return qerrors.ErrInvalidState
	}
	if _, err := c.exchange(ctx, c.codec.EncodeEndReconciliation(), 0); err != nil {
		return err
	}
	c.active = false
	return nil
}

// Verify sends the fingerprint of k to Alice and reports whether it matches
// her key. A mismatch means residual errors remain; it is not an error.
func (c *Client) Verify(ctx context.Context, k *key.Key) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := c.codec.EncodeVerify(&protocol.Verify{Fingerprint: k.Fingerprint()})
	if err != nil {
		return false, err
	}
	reply, err := c.exchange(ctx, req, protocol.MessageTypeVerifyReply)
	if err != nil {
		return false, qerrors.NewChannelError("verify", err)
	}
	m, err := c.codec.DecodeVerifyReply(reply)
	if err != nil {
		return false, qerrors.NewChannelError("verify", c.abort(protocol.AlertCodeInvalidMessage, err))
	}
	return m.Match, nil
}

// Close sends a close notification (best effort) and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeNotifyTimeout))
	_, _ = c.conn.Write(c.codec.EncodeAlert(protocol.AlertLevelWarning, protocol.AlertCodeCloseNotify, "connection closed"))
	c.closed = true
	return c.conn.Close()
}

// exchange writes req and, unless want is zero, reads the reply. An alert
// in place of the reply is returned as a ProtocolError. The caller holds c.mu.
func (c *Client) exchange(ctx context.Context, req []byte, want protocol.MessageType) ([]byte, error) {
	if c.closed {
		return nil, qerrors.ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	_ = c.conn.SetWriteDeadline(c.deadline(ctx, c.config.WriteTimeout))
	if _, err := c.conn.Write(req); err != nil {
		return nil, c.fail(ctx, err)
	}
	if want == 0 {
		return nil, nil
	}

	_ = c.conn.SetReadDeadline(c.deadline(ctx, c.config.ReadTimeout))
	if err := ctx.Err(); err != nil {
		// cancelled before the deadline above took effect
		return nil, c.fail(ctx, err)
	}
	reply, err := c.codec.ReadMessage(c.conn)
	if err != nil {
		return nil, c.fail(ctx, err)
	}

	mt, _ := c.codec.GetMessageType(reply)
	switch mt {
	case want:
		return reply, nil
	case protocol.MessageTypeAlert:
		alert, err := c.codec.DecodeAlert(reply)
		if err != nil {
			return nil, c.abort(protocol.AlertCodeInvalidMessage, err)
		}
		if alert.Level == protocol.AlertLevelFatal {
			c.shutdown()
		}
		return nil, qerrors.NewProtocolError(want.String(), alert)
	default:
		return nil, c.abort(protocol.AlertCodeUnexpectedMessage,
			fmt.Errorf("%w: expected %s, got %s", qerrors.ErrUnexpectedMessage, want, mt))
	}
}

// deadline returns the earlier of now+timeout and the context deadline. The
// zero time means no deadline.
func (c *Client) deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// fail closes the connection after an I/O error, reporting the context
// error if cancellation caused it.
func (c *Client) fail(ctx context.Context, err error) error {
	c.shutdown()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		// the I/O deadline fired before the context timer
		return context.DeadlineExceeded
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", qerrors.ErrChannelClosed, err)
	}
	return err
}

// abort sends a fatal alert for a bad reply and closes the connection.
func (c *Client) abort(code protocol.AlertCode, err error) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(closeNotifyTimeout))
	_, _ = c.conn.Write(c.codec.EncodeAlert(protocol.AlertLevelFatal, code, err.Error()))
	c.shutdown()
	return qerrors.NewProtocolError("reply", err)
}

func (c *Client) shutdown() {
	if !c.closed {
		c.closed = true
		c.active = false
		_ = c.conn.Close()
	}
}
