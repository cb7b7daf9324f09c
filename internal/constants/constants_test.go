package constants

import "testing"

// TestShuffleIdentifierLayout checks the identifier encoding against its fields.
func TestShuffleIdentifierLayout(t *testing.T) {
	if ShuffleIdentifierSize != 1+4+8 {
		t.Errorf("ShuffleIdentifierSize = %d, want 13", ShuffleIdentifierSize)
	}
	if uint64(MaxKeySize) > uint64(^uint32(0)) {
		t.Errorf("MaxKeySize %d does not fit the 4-byte size field", MaxKeySize)
	}
}

// TestDefaults sanity-checks engine and network defaults.
func TestDefaults(t *testing.T) {
	if MinEstimatedErrorRate <= 0 || MinEstimatedErrorRate >= 1 {
		t.Errorf("MinEstimatedErrorRate = %v, want in (0, 1)", MinEstimatedErrorRate)
	}
	if DefaultShuffleCacheSize <= 0 {
		t.Errorf("DefaultShuffleCacheSize = %d, want > 0", DefaultShuffleCacheSize)
	}
	if FingerprintSize != 32 {
		t.Errorf("FingerprintSize = %d, want 32", FingerprintSize)
	}
	if MaxAlertDescription >= MaxMessageSize {
		t.Errorf("MaxAlertDescription %d must be below MaxMessageSize %d", MaxAlertDescription, MaxMessageSize)
	}
	if DefaultAlgorithm == "" {
		t.Error("DefaultAlgorithm is empty")
	}
}
