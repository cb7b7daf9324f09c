// Package key implements the fixed-length bit string that Cascade reconciles.
//
// A Key is mutable and not safe for concurrent use. Randomised constructors
// take an explicit *rand.Rand so that a given seed always reproduces the same
// key and concurrent sessions never share generator state.
//
// Out-of-range indexes and size mismatches are programming errors and panic.
package key

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/bits-and-blooms/bitset"

	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
)

// Key is a fixed-length vector of bits.
type Key struct {
	size int
	bits *bitset.BitSet
}

// New returns an all-zero key of the given size.
func New(size int) *Key {
	if size < 0 {
		panic(fmt.Sprintf("key: negative size %d", size))
	}
	return &Key{size: size, bits: bitset.New(uint(size))}
}

// NewRandom returns a key whose bits are drawn independently and uniformly from rng.
func NewRandom(size int, rng *rand.Rand) *Key {
	k := New(size)
	for i := 0; i < size; i++ {
		if rng.IntN(2) == 1 {
			k.bits.Set(uint(i))
		}
	}
	return k
}

// Parse builds a key from a string of '0' and '1' characters.
func Parse(s string) (*Key, error) {
	k := New(len(s))
	for i, c := range s {
		switch c {
		case '0':
		case '1':
			k.bits.Set(uint(i))
		default:
			return nil, fmt.Errorf("%w: %q at position %d", qerrors.ErrInvalidKeyString, c, i)
		}
	}
	return k, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests.
func MustParse(s string) *Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Size returns the number of bits in the key.
func (k *Key) Size() int {
	return k.size
}

func (k *Key) check(index int) {
	if index < 0 || index >= k.size {
		panic(fmt.Sprintf("key: index %d out of range [0,%d)", index, k.size))
	}
}

// Get returns the bit at index as 0 or 1.
func (k *Key) Get(index int) int {
	k.check(index)
	if k.bits.Test(uint(index)) {
		return 1
	}
	return 0
}

// Set sets the bit at index to value, which must be 0 or 1.
func (k *Key) Set(index, value int) {
	k.check(index)
	if value != 0 && value != 1 {
		panic(fmt.Sprintf("key: bit value %d is not 0 or 1", value))
	}
	k.bits.SetTo(uint(index), value == 1)
}

// Flip inverts the bit at index.
func (k *Key) Flip(index int) {
	k.check(index)
	k.bits.Flip(uint(index))
}

// Copy returns an independent copy of the key.
func (k *Key) Copy() *Key {
	return &Key{size: k.size, bits: k.bits.Clone()}
}

// CopyWithNoise returns an independent copy in which exactly errorCount
// distinct positions, chosen without replacement using rng, are flipped.
func (k *Key) CopyWithNoise(errorCount int, rng *rand.Rand) (*Key, error) {
	if errorCount < 0 || errorCount > k.size {
		return nil, fmt.Errorf("%w: %d for key of size %d", qerrors.ErrInvalidErrorCount, errorCount, k.size)
	}
	c := k.Copy()
	// Partial Fisher-Yates: the first errorCount slots end up a uniform sample.
	positions := make([]int, k.size)
	for i := range positions {
		positions[i] = i
	}
	for i := 0; i < errorCount; i++ {
		j := i + rng.IntN(k.size-i)
		positions[i], positions[j] = positions[j], positions[i]
		c.bits.Flip(uint(positions[i]))
	}
	return c, nil
}

// HammingDistance returns the number of positions at which k and other differ.
func (k *Key) HammingDistance(other *Key) int {
	if k.size != other.size {
		panic(fmt.Sprintf("key: size mismatch %d != %d", k.size, other.size))
	}
	return int(k.bits.SymmetricDifferenceCardinality(other.bits))
}

// Equal reports whether both keys have the same size and bits.
func (k *Key) Equal(other *Key) bool {
	return k.size == other.size && k.HammingDistance(other) == 0
}

// Bytes packs the key into ceil(size/8) bytes, bit 0 in the most significant
// bit of the first byte.
func (k *Key) Bytes() []byte {
	out := make([]byte, (k.size+7)/8)
	for i, ok := k.bits.NextSet(0); ok && int(i) < k.size; i, ok = k.bits.NextSet(i + 1) {
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

// Fingerprint returns a SHAKE-256 digest of the key, suitable for comparing
// keys across the classical channel without disclosing them.
func (k *Key) Fingerprint() []byte {
	return crypto.Fingerprint(k.size, k.Bytes())
}

// String renders the key as a string of '0' and '1' characters.
func (k *Key) String() string {
	var b strings.Builder
	b.Grow(k.size)
	for i := 0; i < k.size; i++ {
		if k.bits.Test(uint(i)) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
