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
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/protocol"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

const alertWriteTimeout = 5 * time.Second

// ServerConfig holds configuration for Alice's end of the channel.
type ServerConfig struct {
	// ReadTimeout bounds the wait for each request. 0 means no timeout.
	ReadTimeout time.Duration
	// WriteTimeout bounds each reply write. 0 means no timeout.
	WriteTimeout time.Duration
	// ShuffleCacheSize is the number of shuffles kept rebuilt from their
	// identifiers.
	ShuffleCacheSize int
	RateLimit        RateLimitConfig

	// Observer receives connection and reconciliation events.
	Observer ServerObserver
	// RateLimitObserver receives notifications when rate limits are hit.
	RateLimitObserver RateLimitObserver
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// MaxConnectionsPerIP is the maximum number of concurrent connections
	// allowed from a single IP. 0 means no limit.
	MaxConnectionsPerIP int

	// StartsPerSecond is the rate of reconciliation starts allowed across
	// all connections. 0 means no limit.
	StartsPerSecond float64

	// StartBurst is the maximum burst of reconciliation starts. Defaults to
	// 1 when StartsPerSecond is set.
	StartBurst int
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadTimeout:      constants.DefaultTimeoutSeconds * time.Second,
		WriteTimeout:     constants.DefaultTimeoutSeconds * time.Second,
		ShuffleCacheSize: constants.DefaultShuffleCacheSize,
	}
}

// Server is Alice's end of the classical channel. It answers parity
// queries about one key for any number of concurrent connections.
type Server struct {
	key         *key.Key
	fingerprint []byte
	config      ServerConfig
	codec       *protocol.Codec
	observer    ServerObserver

	shuffles     *lru.Cache
	ipLimiter    *IPRateLimiter
	startLimiter *rate.Limiter

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	closed    bool
	wg        sync.WaitGroup
}

// NewServer creates a server answering from Alice's key k. The server keeps
// a reference to k; the caller must not modify it while the server runs.
func NewServer(k *key.Key, config ServerConfig) (*Server, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil key", qerrors.ErrInvalidKeySize)
	}
	if config.ShuffleCacheSize <= 0 {
		config.ShuffleCacheSize = constants.DefaultShuffleCacheSize
	}
	cache, err := lru.New(config.ShuffleCacheSize)
	if err != nil {
		return nil, err
	}
	if config.Observer == nil {
		config.Observer = NoOpServerObserver{}
	}

	return &Server{
		key:          k,
		fingerprint:  k.Fingerprint(),
		config:       config,
		codec:        protocol.NewCodec(),
		observer:     config.Observer,
		shuffles:     cache,
		ipLimiter:    NewIPRateLimiter(config.RateLimit.MaxConnectionsPerIP),
		startLimiter: newStartLimiter(config.RateLimit.StartsPerSecond, config.RateLimit.StartBurst),
		listeners:    make(map[net.Listener]struct{}),
		conns:        make(map[net.Conn]struct{}),
	}, nil
}

// KeySize returns the size of Alice's key.
func (s *Server) KeySize() int {
	return s.key.Size()
}

// Serve accepts connections on ln and serves each on its own goroutine.
// It returns ErrChannelClosed after Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return qerrors.ErrChannelClosed
	}
	s.listeners[ln] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return qerrors.ErrChannelClosed
			}
			return err
		}

		remoteIP := extractRemoteIP(conn)
		if !s.ipLimiter.AllowConnection(remoteIP) {
			if s.config.RateLimitObserver != nil {
				s.config.RateLimitObserver.OnConnectionRateLimit(remoteIP)
			}
			_ = conn.Close()
			continue
		}
		conn = &rateLimitedConn{Conn: conn, limiter: s.ipLimiter, ip: remoteIP}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.serveConn(conn)
		}()
	}
}

// ServeConn serves a single connection until the peer closes it or a
// protocol error occurs, then closes it. A clean close returns nil.
func (s *Server) ServeConn(conn net.Conn) error {
	s.wg.Add(1)
	defer s.wg.Done()
	return s.serveConn(conn)
}

func (s *Server) serveConn(conn net.Conn) error {
	if !s.track(conn) {
		_ = conn.Close()
		return qerrors.ErrChannelClosed
	}
	defer s.untrack(conn)

	remote := conn.RemoteAddr().String()
	s.observer.OnConnectionOpen(remote)

	h := &connHandler{
		server:     s,
		conn:       conn,
		remote:     remote,
		remoteIP:   extractRemoteIP(conn),
		endSession: func(error) {},
	}
	err := h.run()
	if h.active {
		endErr := err
		if endErr == nil {
			endErr = qerrors.ErrChannelClosed
		}
		h.endSession(endErr)
	}
	_ = conn.Close()

	s.observer.OnConnectionClose(remote, err)
	return err
}

// Close stops all listeners, closes open connections and waits for their
// handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// shuffle returns the shuffle for id, rebuilding it on a cache miss.
func (s *Server) shuffle(id shuffle.Identifier) (*shuffle.Shuffle, error) {
	if v, ok := s.shuffles.Get(id); ok {
		s.observer.OnShuffleCache(true)
		return v.(*shuffle.Shuffle), nil
	}
	s.observer.OnShuffleCache(false)

	sh, err := shuffle.FromIdentifier(id)
	if err != nil {
		return nil, err
	}
	s.shuffles.Add(id, sh)
	return sh, nil
}

// errPeerClosed ends the read loop after a close notification.
var errPeerClosed = errors.New("channel: peer closed")

// connHandler holds the per-connection reconciliation state.
type connHandler struct {
	server   *Server
	conn     net.Conn
	remote   string
	remoteIP string

	sessionID  string
	active     bool
	endSession func(error)
}

func (h *connHandler) run() error {
	for {
		if h.server.config.ReadTimeout > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.server.config.ReadTimeout))
		}
		msg, err := h.server.codec.ReadMessage(h.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || h.server.isClosed() {
				return nil
			}
			if errors.Is(err, qerrors.ErrMessageTooLarge) {
				return h.fatal(protocol.AlertCodeInvalidMessage, "read", err)
			}
			return err
		}

		if err := h.handle(msg); err != nil {
			if errors.Is(err, errPeerClosed) {
				return nil
			}
			return err
		}
	}
}

func (h *connHandler) handle(msg []byte) error {
	codec := h.server.codec
	mt, err := codec.GetMessageType(msg)
	if err != nil {
		return h.fatal(protocol.AlertCodeInvalidMessage, "read", err)
	}

	switch mt {
	case protocol.MessageTypeStartReconciliation:
		return h.handleStart(msg)
	case protocol.MessageTypeAskParity:
		return h.handleAskParity(msg)
	case protocol.MessageTypeEndReconciliation:
		if !h.active {
			return h.fatal(protocol.AlertCodeUnexpectedMessage, "end", qerrors.ErrUnexpectedMessage)
		}
		if err := codec.DecodeEndReconciliation(msg); err != nil {
			return h.fatal(protocol.AlertCodeInvalidMessage, "end", err)
		}
		h.active = false
		h.endSession(nil)
		h.endSession = func(error) {}
		return nil
	case protocol.MessageTypeVerify:
		return h.handleVerify(msg)
	case protocol.MessageTypeAlert:
		alert, err := codec.DecodeAlert(msg)
		if err != nil {
			return h.fatal(protocol.AlertCodeInvalidMessage, "alert", err)
		}
		if alert.Code == protocol.AlertCodeCloseNotify {
			return errPeerClosed
		}
		perr := qerrors.NewProtocolError("alert", alert)
		h.server.observer.OnProtocolError(h.remote, perr)
		if alert.Level == protocol.AlertLevelFatal {
			return perr
		}
		return nil
	default:
		return h.fatal(protocol.AlertCodeUnexpectedMessage, "read",
			fmt.Errorf("%w: %s", qerrors.ErrUnexpectedMessage, mt))
	}
}

func (h *connHandler) handleStart(msg []byte) error {
	if h.active {
		return h.fatal(protocol.AlertCodeUnexpectedMessage, "start", qerrors.ErrUnexpectedMessage)
	}
	m, err := h.server.codec.DecodeStartReconciliation(msg)
	if err != nil {
		code := protocol.AlertCodeInvalidMessage
		if errors.Is(err, qerrors.ErrUnsupportedVersion) {
			code = protocol.AlertCodeUnsupportedVersion
		}
		return h.fatal(code, "start", err)
	}
	if m.KeySize != h.server.key.Size() {
		return h.fatal(protocol.AlertCodeKeySizeMismatch, "start",
			fmt.Errorf("%w: bob has %d bits, alice has %d", qerrors.ErrKeySizeMismatch, m.KeySize, h.server.key.Size()))
	}
	if l := h.server.startLimiter; l != nil && !l.Allow() {
		if h.server.config.RateLimitObserver != nil {
			h.server.config.RateLimitObserver.OnStartRateLimit(h.remoteIP)
		}
		return h.fatal(protocol.AlertCodeRateLimited, "start", qerrors.ErrRateLimited)
	}

	id := uuid.New()
	reply, err := h.server.codec.EncodeStartAck(&protocol.StartAck{SessionID: id[:]})
	if err != nil {
		return h.fatal(protocol.AlertCodeInternalError, "start", err)
	}
	h.sessionID = id.String()
	h.active = true
	_, h.endSession = h.server.observer.OnReconcileStart(context.Background(), h.remote, h.sessionID, m.KeySize)
	return h.write(reply)
}

func (h *connHandler) handleAskParity(msg []byte) error {
	if !h.active {
		return h.fatal(protocol.AlertCodeUnexpectedMessage, "ask-parity", qerrors.ErrUnexpectedMessage)
	}
	m, err := h.server.codec.DecodeAskParity(msg)
	if err != nil {
		code := protocol.AlertCodeInvalidMessage
		if errors.Is(err, qerrors.ErrRangeOutOfBounds) {
			code = protocol.AlertCodeRangeOutOfBounds
		}
		return h.fatal(code, "ask-parity", err)
	}
	if m.Shuffle.Size != h.server.key.Size() {
		return h.fatal(protocol.AlertCodeKeySizeMismatch, "ask-parity",
			fmt.Errorf("%w: shuffle of %d bits", qerrors.ErrKeySizeMismatch, m.Shuffle.Size))
	}

	sh, err := h.server.shuffle(m.Shuffle)
	if err != nil {
		return h.fatal(protocol.AlertCodeInvalidMessage, "ask-parity", err)
	}
	parity := sh.Parity(h.server.key, m.Start, m.End)
	h.server.observer.OnParityServed(m.End - m.Start)

	reply, err := h.server.codec.EncodeParityReply(&protocol.ParityReply{Parity: parity})
	if err != nil {
		return h.fatal(protocol.AlertCodeInternalError, "ask-parity", err)
	}
	return h.write(reply)
}

func (h *connHandler) handleVerify(msg []byte) error {
	m, err := h.server.codec.DecodeVerify(msg)
	if err != nil {
		return h.fatal(protocol.AlertCodeInvalidMessage, "verify", err)
	}
	match := crypto.ConstantTimeCompare(m.Fingerprint, h.server.fingerprint)
	h.server.observer.OnVerify(h.remote, match)
	return h.write(h.server.codec.EncodeVerifyReply(&protocol.VerifyReply{Match: match}))
}

func (h *connHandler) write(msg []byte) error {
	if h.server.config.WriteTimeout > 0 {
		_ = h.conn.SetWriteDeadline(time.Now().Add(h.server.config.WriteTimeout))
	}
	_, err := h.conn.Write(msg)
	return err
}

// fatal sends a fatal alert to Bob and returns the error that ends the
// connection.
func (h *connHandler) fatal(code protocol.AlertCode, phase string, err error) error {
	_ = h.conn.SetWriteDeadline(time.Now().Add(alertWriteTimeout))
	_, _ = h.conn.Write(h.server.codec.EncodeAlert(protocol.AlertLevelFatal, code, err.Error()))

	perr := qerrors.NewProtocolError(phase, err)
	h.server.observer.OnProtocolError(h.remote, perr)
	return perr
}
