package protocol_test

import (
	"bytes"
	"testing"

	"github.com/brunorijsman/qkd-cascade/pkg/protocol"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// The decoders process untrusted input from the network. Run with:
//
//	go test -fuzz=FuzzDecodeAskParity -fuzztime=30s ./pkg/protocol/

func FuzzDecodeAskParity(f *testing.F) {
	codec := protocol.NewCodec()

	valid, _ := codec.EncodeAskParity(&protocol.AskParity{Shuffle: shuffle.FromSeed(1000, 7).Identifier(), Start: 10, End: 500})
	f.Add(valid)
	identity, _ := codec.EncodeAskParity(&protocol.AskParity{Shuffle: shuffle.Identity(8).Identifier(), Start: 0, End: 8})
	f.Add(identity)

	// Edge cases
	f.Add([]byte{})
	f.Add([]byte{0x10})
	f.Add([]byte{0x10, 0, 0, 0, 21})

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := codec.DecodeAskParity(data)
		if err != nil {
			return
		}
		// a decoded query is in bounds and re-encodes to the same bytes
		if m.Start < 0 || m.Start >= m.End || m.End > m.Shuffle.Size {
			t.Fatalf("decoded out-of-bounds range [%d,%d) for size %d", m.Start, m.End, m.Shuffle.Size)
		}
		again, err := codec.EncodeAskParity(m)
		if err != nil {
			t.Fatalf("re-encode: %v", err)
		}
		if !bytes.Equal(again, data) {
			t.Fatalf("re-encoded message differs")
		}
	})
}

func FuzzDecodeStartReconciliation(f *testing.F) {
	codec := protocol.NewCodec()

	valid, _ := codec.EncodeStartReconciliation(&protocol.StartReconciliation{Version: protocol.Current, KeySize: 10000})
	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte{0x01, 0, 0, 0, 6, 9, 9, 0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := codec.DecodeStartReconciliation(data)
		if err != nil {
			return
		}
		if err := m.Validate(); err != nil {
			t.Errorf("decoded invalid message: %v", err)
		}
	})
}

func FuzzDecodeAlert(f *testing.F) {
	codec := protocol.NewCodec()

	f.Add(codec.EncodeAlert(protocol.AlertLevelFatal, protocol.AlertCodeKeySizeMismatch, "test error"))
	f.Add([]byte{})
	f.Add([]byte{0xF0})
	f.Add([]byte{0xF0, 0, 0, 0, 3, 0x02, 0x01, 0}) // Minimal valid

	f.Fuzz(func(t *testing.T, data []byte) {
		alert, err := codec.DecodeAlert(data)
		if err != nil {
			return
		}
		_ = alert.Error()
		_ = alert.Unwrap()
	})
}

func FuzzReadMessage(f *testing.F) {
	codec := protocol.NewCodec()

	f.Add(codec.EncodeEndReconciliation())
	f.Add(codec.EncodeVerifyReply(&protocol.VerifyReply{Match: true}))
	f.Add([]byte{0x11, 0xFF, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := codec.ReadMessage(bytes.NewReader(data))
		if err != nil {
			return
		}
		if len(msg) < protocol.HeaderSize || len(msg) > protocol.HeaderSize+protocol.MaxMessageSize {
			t.Fatalf("message of %d bytes escaped the size limits", len(msg))
		}
		if !bytes.HasPrefix(data, msg) {
			t.Fatalf("message is not a prefix of the input")
		}
	})
}
