package channel_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/channel"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/protocol"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// rawServe runs ServeConn on one end of a pipe and returns the other end.
func rawServe(t *testing.T, alice *key.Key) (net.Conn, <-chan error) {
	t.Helper()
	srv, err := channel.NewServer(alice, channel.DefaultServerConfig())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	bobSide, aliceSide := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(aliceSide) }()
	t.Cleanup(func() {
		_ = bobSide.Close()
		_ = srv.Close()
	})
	return bobSide, done
}

func send(t *testing.T, conn net.Conn, msg []byte) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func receive(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msg, err := protocol.NewCodec().ReadMessage(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expectAlert(t *testing.T, conn net.Conn, want protocol.AlertCode) {
	t.Helper()
	alert, err := protocol.NewCodec().DecodeAlert(receive(t, conn))
	if err != nil {
		t.Fatalf("expected an alert: %v", err)
	}
	if alert.Code != want || alert.Level != protocol.AlertLevelFatal {
		t.Errorf("expected fatal %s, got level %d %s", want, alert.Level, alert.Code)
	}
}

func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("ServeConn did not return")
		return nil
	}
}

func start(t *testing.T, conn net.Conn, keySize int) {
	t.Helper()
	codec := protocol.NewCodec()
	msg, err := codec.EncodeStartReconciliation(&protocol.StartReconciliation{Version: protocol.Current, KeySize: keySize})
	if err != nil {
		t.Fatalf("encode start: %v", err)
	}
	send(t, conn, msg)
	if _, err := codec.DecodeStartAck(receive(t, conn)); err != nil {
		t.Fatalf("expected StartAck: %v", err)
	}
}

func askParity(t *testing.T, s *shuffle.Shuffle, start, end int) []byte {
	t.Helper()
	msg, err := protocol.NewCodec().EncodeAskParity(&protocol.AskParity{Shuffle: s.Identifier(), Start: start, End: end})
	if err != nil {
		t.Fatalf("encode ask: %v", err)
	}
	return msg
}

func TestServerAnswersParity(t *testing.T) {
	alice := key.NewRandom(128, crypto.NewRand(1))
	conn, done := rawServe(t, alice)
	codec := protocol.NewCodec()

	start(t, conn, 128)
	sh := shuffle.FromSeed(128, 99)
	for _, r := range [][2]int{{0, 128}, {0, 64}, {17, 18}, {100, 128}} {
		send(t, conn, askParity(t, sh, r[0], r[1]))
		reply, err := codec.DecodeParityReply(receive(t, conn))
		if err != nil {
			t.Fatalf("expected ParityReply: %v", err)
		}
		if want := sh.Parity(alice, r[0], r[1]); reply.Parity != want {
			t.Errorf("range %v: got parity %d, want %d", r, reply.Parity, want)
		}
	}

	send(t, conn, codec.EncodeEndReconciliation())
	send(t, conn, codec.EncodeAlert(protocol.AlertLevelWarning, protocol.AlertCodeCloseNotify, "bye"))
	if err := waitServe(t, done); err != nil {
		t.Errorf("expected clean close, got %v", err)
	}
}

func TestServerRejectsAskParityBeforeStart(t *testing.T) {
	conn, done := rawServe(t, key.NewRandom(64, crypto.NewRand(1)))

	send(t, conn, askParity(t, shuffle.Identity(64), 0, 8))
	expectAlert(t, conn, protocol.AlertCodeUnexpectedMessage)
	if err := waitServe(t, done); !errors.Is(err, qerrors.ErrUnexpectedMessage) {
		t.Errorf("expected ErrUnexpectedMessage, got %v", err)
	}
}

func TestServerRejectsShuffleSizeMismatch(t *testing.T) {
	conn, done := rawServe(t, key.NewRandom(64, crypto.NewRand(1)))

	start(t, conn, 64)
	send(t, conn, askParity(t, shuffle.FromSeed(72, 1), 0, 8))
	expectAlert(t, conn, protocol.AlertCodeKeySizeMismatch)
	if err := waitServe(t, done); !errors.Is(err, qerrors.ErrKeySizeMismatch) {
		t.Errorf("expected ErrKeySizeMismatch, got %v", err)
	}
}

func TestServerRejectsRangeOutOfBounds(t *testing.T) {
	conn, done := rawServe(t, key.NewRandom(64, crypto.NewRand(1)))

	start(t, conn, 64)
	msg := askParity(t, shuffle.Identity(64), 0, 8)
	// rewrite End past the shuffle size
	binary.BigEndian.PutUint32(msg[len(msg)-4:], 65)
	send(t, conn, msg)
	expectAlert(t, conn, protocol.AlertCodeRangeOutOfBounds)
	if err := waitServe(t, done); !errors.Is(err, qerrors.ErrRangeOutOfBounds) {
		t.Errorf("expected ErrRangeOutOfBounds, got %v", err)
	}
}

func TestServerRejectsUnsupportedVersion(t *testing.T) {
	conn, done := rawServe(t, key.NewRandom(64, crypto.NewRand(1)))

	msg, err := protocol.NewCodec().EncodeStartReconciliation(&protocol.StartReconciliation{Version: protocol.Current, KeySize: 64})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg[protocol.HeaderSize] = protocol.Current.Major + 1
	send(t, conn, msg)
	expectAlert(t, conn, protocol.AlertCodeUnsupportedVersion)
	if err := waitServe(t, done); !errors.Is(err, qerrors.ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestServerRejectsSecondStart(t *testing.T) {
	conn, done := rawServe(t, key.NewRandom(64, crypto.NewRand(1)))

	start(t, conn, 64)
	msg, _ := protocol.NewCodec().EncodeStartReconciliation(&protocol.StartReconciliation{Version: protocol.Current, KeySize: 64})
	send(t, conn, msg)
	expectAlert(t, conn, protocol.AlertCodeUnexpectedMessage)
	if err := waitServe(t, done); !errors.Is(err, qerrors.ErrUnexpectedMessage) {
		t.Errorf("expected ErrUnexpectedMessage, got %v", err)
	}
}

// silentPeer accepts requests on a pipe and never replies.
func silentPeer(t *testing.T) net.Conn {
	t.Helper()
	bobSide, aliceSide := net.Pipe()
	go func() { _, _ = io.Copy(io.Discard, aliceSide) }()
	t.Cleanup(func() {
		_ = bobSide.Close()
		_ = aliceSide.Close()
	})
	return bobSide
}

func TestClientHonoursCancellation(t *testing.T) {
	client := channel.NewClient(silentPeer(t), channel.DefaultClientConfig())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	if err := client.StartReconciliation(ctx, 64); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := client.StartReconciliation(context.Background(), 64); !errors.Is(err, qerrors.ErrChannelClosed) {
		t.Errorf("expected the client to be closed after cancellation, got %v", err)
	}
}

func TestClientHonoursDeadline(t *testing.T) {
	client := channel.NewClient(silentPeer(t), channel.DefaultClientConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.StartReconciliation(ctx, 64); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestClientReadTimeout(t *testing.T) {
	client := channel.NewClient(silentPeer(t), channel.ClientConfig{ReadTimeout: 50 * time.Millisecond})

	if err := client.StartReconciliation(context.Background(), 64); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected a read timeout, got %v", err)
	}
}

func TestClientRejectsUnexpectedReply(t *testing.T) {
	bobSide, aliceSide := net.Pipe()
	defer bobSide.Close()
	defer aliceSide.Close()

	go func() {
		codec := protocol.NewCodec()
		if _, err := codec.ReadMessage(aliceSide); err != nil {
			return
		}
		reply, _ := codec.EncodeParityReply(&protocol.ParityReply{Parity: 1})
		_, _ = aliceSide.Write(reply)
		_, _ = io.Copy(io.Discard, aliceSide)
	}()

	client := channel.NewClient(bobSide, channel.DefaultClientConfig())
	err := client.StartReconciliation(context.Background(), 64)
	if !errors.Is(err, qerrors.ErrUnexpectedMessage) {
		t.Fatalf("expected ErrUnexpectedMessage, got %v", err)
	}
	var perr *qerrors.ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("expected a ProtocolError, got %T", err)
	}
}

func TestClientStateChecks(t *testing.T) {
	client := channel.NewClient(silentPeer(t), channel.DefaultClientConfig())
	ctx := context.Background()

	if _, err := client.AskParity(ctx, shuffle.Identity(8), 0, 8); !errors.Is(err, qerrors.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState before start, got %v", err)
	}
	if err := client.EndReconciliation(ctx); !errors.Is(err, qerrors.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState before start, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
