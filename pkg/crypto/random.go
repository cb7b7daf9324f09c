// Package crypto provides the randomness and hashing primitives used around
// the reconciliation engine.
//
// Reproducible randomness (keys, noise, shuffles) is always drawn from an
// explicit *rand.Rand handle. This package supplies seeds for those handles
// from the operating system's CSPRNG when the caller does not pin one, a
// deterministic XOF-backed source for shuffle permutations, and SHAKE-256
// derivations for key fingerprints.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	mrand "math/rand/v2"
)

// SecureRandom reads cryptographically secure random bytes into the provided slice.
//
// This function will only return an error if the system's random number generator
// fails, which should be treated as a critical system failure.
func SecureRandom(b []byte) error {
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return fmt.Errorf("crypto: read CSPRNG: %w", err)
	}
	return nil
}

// SecureSeed returns a uint64 seed drawn from the OS CSPRNG.
// It panics if the system's CSPRNG fails.
func SecureSeed() uint64 {
	var b [8]byte
	if err := SecureRandom(b[:]); err != nil {
		panic("crypto: failed to read from CSPRNG: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

// NewRand returns a generator handle deterministically seeded with seed.
// Identical seeds yield identical sequences.
func NewRand(seed uint64) *mrand.Rand {
	return mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewSecureRand returns a generator handle seeded from the OS CSPRNG.
func NewSecureRand() *mrand.Rand {
	return NewRand(SecureSeed())
}

// ConstantTimeCompare compares two byte slices in constant time.
// Used when comparing key fingerprints exchanged over the classical channel.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
