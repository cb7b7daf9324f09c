package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestChannelError tests ChannelError type.
func TestChannelError(t *testing.T) {
	baseErr := errors.New("connection reset")
	cerr := NewChannelError("ask-parity", baseErr)

	errStr := cerr.Error()
	if !strings.Contains(errStr, "ask-parity") {
		t.Errorf("Error string should contain operation: %q", errStr)
	}
	if !strings.Contains(errStr, "connection reset") {
		t.Errorf("Error string should contain base error: %q", errStr)
	}

	if cerr.Unwrap() != baseErr {
		t.Errorf("Unwrap() returned %v, want %v", cerr.Unwrap(), baseErr)
	}
	if cerr.Op != "ask-parity" {
		t.Errorf("Op = %q, want %q", cerr.Op, "ask-parity")
	}
}

// TestProtocolError tests ProtocolError type.
func TestProtocolError(t *testing.T) {
	baseErr := errors.New("invalid message")
	perr := NewProtocolError("start", baseErr)

	errStr := perr.Error()
	if !strings.Contains(errStr, "start") {
		t.Errorf("Error string should contain phase: %q", errStr)
	}
	if !strings.Contains(errStr, "invalid message") {
		t.Errorf("Error string should contain base error: %q", errStr)
	}
	if perr.Unwrap() != baseErr {
		t.Errorf("Unwrap() returned %v, want %v", perr.Unwrap(), baseErr)
	}
	if perr.Phase != "start" {
		t.Errorf("Phase = %q, want %q", perr.Phase, "start")
	}
}

// TestIsFunction tests the Is helper function.
func TestIsFunction(t *testing.T) {
	err := ErrInvalidKeySize
	if !Is(err, ErrInvalidKeySize) {
		t.Error("Is() should return true for matching sentinel error")
	}

	wrappedErr := NewChannelError("start", ErrRateLimited)
	if !Is(wrappedErr, ErrRateLimited) {
		t.Error("Is() should return true for wrapped sentinel error")
	}

	if Is(err, ErrInvalidErrorCount) {
		t.Error("Is() should return false for non-matching error")
	}
}

// TestAsFunction tests the As helper function.
func TestAsFunction(t *testing.T) {
	cerr := NewChannelError("end", ErrChannelClosed)

	var target *ChannelError
	if !As(cerr, &target) {
		t.Error("As() should return true for matching type")
	}
	if target.Op != "end" {
		t.Errorf("As() extracted Op = %q, want %q", target.Op, "end")
	}

	var protocolErr *ProtocolError
	if As(cerr, &protocolErr) {
		t.Error("As() should return false for non-matching type")
	}
}

// TestSentinelErrors tests all sentinel error definitions.
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		prefix string
	}{
		{"ErrInvalidKeySize", ErrInvalidKeySize, "key:"},
		{"ErrInvalidErrorCount", ErrInvalidErrorCount, "key:"},
		{"ErrInvalidKeyString", ErrInvalidKeyString, "key:"},
		{"ErrInvalidShuffleIdentifier", ErrInvalidShuffleIdentifier, "shuffle:"},
		{"ErrUnknownAlgorithm", ErrUnknownAlgorithm, "shuffle:"},
		{"ErrInvalidLength", ErrInvalidLength, "crypto:"},
		{"ErrUnknownParameters", ErrUnknownParameters, "cascade:"},
		{"ErrInvalidParameters", ErrInvalidParameters, "cascade:"},
		{"ErrInvalidErrorRate", ErrInvalidErrorRate, "cascade:"},
		{"ErrBisectionInvariant", ErrBisectionInvariant, "cascade:"},
		{"ErrInvalidMessage", ErrInvalidMessage, "protocol:"},
		{"ErrUnsupportedVersion", ErrUnsupportedVersion, "protocol:"},
		{"ErrMessageTooLarge", ErrMessageTooLarge, "protocol:"},
		{"ErrUnexpectedMessage", ErrUnexpectedMessage, "protocol:"},
		{"ErrInvalidState", ErrInvalidState, "protocol:"},
		{"ErrAlert", ErrAlert, "protocol:"},
		{"ErrChannelClosed", ErrChannelClosed, "channel:"},
		{"ErrKeySizeMismatch", ErrKeySizeMismatch, "channel:"},
		{"ErrRateLimited", ErrRateLimited, "channel:"},
		{"ErrRangeOutOfBounds", ErrRangeOutOfBounds, "channel:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				t.Fatalf("%s is nil", tt.name)
			}
			if !strings.HasPrefix(tt.err.Error(), tt.prefix) {
				t.Errorf("%s.Error() = %q, want prefix %q", tt.name, tt.err.Error(), tt.prefix)
			}
		})
	}
}

// TestErrorWrapping tests nested wrapping through both wrapper types.
func TestErrorWrapping(t *testing.T) {
	inner := NewProtocolError("parity", ErrInvalidMessage)
	outer := NewChannelError("ask-parity", inner)

	if !errors.Is(outer, ErrInvalidMessage) {
		t.Error("Double-wrapped error should still match base error")
	}

	var protocolErr *ProtocolError
	if !errors.As(outer, &protocolErr) {
		t.Fatal("Should be able to extract ProtocolError from ChannelError")
	}
	if protocolErr.Phase != "parity" {
		t.Errorf("Extracted Phase = %q, want %q", protocolErr.Phase, "parity")
	}
}
