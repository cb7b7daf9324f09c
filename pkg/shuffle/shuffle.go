// Package shuffle implements the per-pass permutation of key positions.
//
// A Shuffle maps a "shuffled position" in [0,size) to an "original index" in
// the key, and back, in O(1). Pass 1 of Cascade uses the identity; every later
// pass uses a random permutation. Random permutations are fully determined by
// a compact Identifier so that Bob can tell Alice which shuffle a parity query
// refers to without shipping the permutation itself.
//
// Shuffles are immutable after construction and may be shared freely.
package shuffle

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
)

// Algorithm selects how a shuffle is generated.
type Algorithm uint8

const (
	// AlgorithmIdentity keeps the key bits in their original order.
	AlgorithmIdentity Algorithm = 0
	// AlgorithmRandom applies a seeded pseudo-random permutation.
	AlgorithmRandom Algorithm = 1
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmIdentity:
		return "identity"
	case AlgorithmRandom:
		return "random"
	default:
		return "unknown"
	}
}

// Identifier fully determines a shuffle.
type Identifier struct {
	Algorithm Algorithm
	Size      int
	Seed      uint64
}

// Encode serializes the identifier as algorithm (1B) | size (4B BE) | seed (8B BE).
func (id Identifier) Encode() []byte {
	buf := make([]byte, constants.ShuffleIdentifierSize)
	buf[0] = byte(id.Algorithm)
	binary.BigEndian.PutUint32(buf[1:5], uint32(id.Size))
	binary.BigEndian.PutUint64(buf[5:13], id.Seed)
	return buf
}

// DecodeIdentifier parses an encoded identifier.
func DecodeIdentifier(b []byte) (Identifier, error) {
	if len(b) != constants.ShuffleIdentifierSize {
		return Identifier{}, qerrors.ErrInvalidShuffleIdentifier
	}
	id := Identifier{
		Algorithm: Algorithm(b[0]),
		Size:      int(binary.BigEndian.Uint32(b[1:5])),
		Seed:      binary.BigEndian.Uint64(b[5:13]),
	}
	if err := id.Validate(); err != nil {
		return Identifier{}, err
	}
	return id, nil
}

// Validate checks that the identifier describes a constructible shuffle.
func (id Identifier) Validate() error {
	if id.Algorithm != AlgorithmIdentity && id.Algorithm != AlgorithmRandom {
		return fmt.Errorf("%w: %d", qerrors.ErrUnknownAlgorithm, id.Algorithm)
	}
	if id.Size < 0 || id.Size > constants.MaxKeySize {
		return fmt.Errorf("%w: size %d", qerrors.ErrInvalidShuffleIdentifier, id.Size)
	}
	if id.Algorithm == AlgorithmIdentity && id.Seed != 0 {
		return fmt.Errorf("%w: identity shuffle with seed", qerrors.ErrInvalidShuffleIdentifier)
	}
	return nil
}

// Shuffle is a bijection between shuffled positions and original key indexes.
type Shuffle struct {
	id         Identifier
	toOriginal []int
	toShuffled []int
}

// Identity returns the identity shuffle of the given size.
func Identity(size int) *Shuffle {
	if size < 0 {
		panic(fmt.Sprintf("shuffle: negative size %d", size))
	}
	s := &Shuffle{
		id:         Identifier{Algorithm: AlgorithmIdentity, Size: size},
		toOriginal: make([]int, size),
		toShuffled: make([]int, size),
	}
	for i := 0; i < size; i++ {
		s.toOriginal[i] = i
		s.toShuffled[i] = i
	}
	return s
}

// Random returns a uniformly random shuffle whose seed is drawn from rng.
// A nil rng draws the seed from the OS CSPRNG.
func Random(size int, rng *rand.Rand) *Shuffle {
	var seed uint64
	if rng != nil {
		seed = rng.Uint64()
	} else {
		seed = crypto.SecureSeed()
	}
	return FromSeed(size, seed)
}

// FromSeed returns the random shuffle determined by seed.
func FromSeed(size int, seed uint64) *Shuffle {
	s := Identity(size)
	s.id = Identifier{Algorithm: AlgorithmRandom, Size: size, Seed: seed}

	src := crypto.NewXOFSource(seed)
	for i := size - 1; i > 0; i-- {
		j := int(uniform(src, uint64(i+1)))
		s.toOriginal[i], s.toOriginal[j] = s.toOriginal[j], s.toOriginal[i]
	}
	for pos, idx := range s.toOriginal {
		s.toShuffled[idx] = pos
	}
	return s
}

// FromIdentifier rebuilds the shuffle described by id.
func FromIdentifier(id Identifier) (*Shuffle, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if id.Algorithm == AlgorithmIdentity {
		return Identity(id.Size), nil
	}
	return FromSeed(id.Size, id.Seed), nil
}

// uniform returns an unbiased value in [0,n) by rejection sampling.
func uniform(src rand.Source, n uint64) uint64 {
	limit := ^uint64(0) - (^uint64(0) % n)
	for {
		v := src.Uint64()
		if v < limit {
			return v % n
		}
	}
}

// Size returns the number of positions in the shuffle.
func (s *Shuffle) Size() int {
	return len(s.toOriginal)
}

// Identifier returns the identifier from which the shuffle can be rebuilt.
func (s *Shuffle) Identifier() Identifier {
	return s.id
}

// ToOriginal maps a shuffled position to its original key index.
func (s *Shuffle) ToOriginal(pos int) int {
	if pos < 0 || pos >= len(s.toOriginal) {
		panic(fmt.Sprintf("shuffle: position %d out of range [0,%d)", pos, len(s.toOriginal)))
	}
	return s.toOriginal[pos]
}

// ToShuffled maps an original key index to its shuffled position.
func (s *Shuffle) ToShuffled(index int) int {
	if index < 0 || index >= len(s.toShuffled) {
		panic(fmt.Sprintf("shuffle: index %d out of range [0,%d)", index, len(s.toShuffled)))
	}
	return s.toShuffled[index]
}

// Parity returns the parity of the shuffled range [start,end) of k.
func (s *Shuffle) Parity(k *key.Key, start, end int) int {
	if k.Size() != len(s.toOriginal) {
		panic(fmt.Sprintf("shuffle: key size %d does not match shuffle size %d", k.Size(), len(s.toOriginal)))
	}
	if start < 0 || end > len(s.toOriginal) || start > end {
		panic(fmt.Sprintf("shuffle: invalid range [%d,%d) for size %d", start, end, len(s.toOriginal)))
	}
	parity := 0
	for pos := start; pos < end; pos++ {
		parity ^= k.Get(s.toOriginal[pos])
	}
	return parity
}

// String renders the mapping as "0->3 1->1 ...".
func (s *Shuffle) String() string {
	var b strings.Builder
	for pos, idx := range s.toOriginal {
		if pos > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d->%d", pos, idx)
	}
	return b.String()
}
