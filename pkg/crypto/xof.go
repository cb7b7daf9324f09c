package crypto

import (
	"encoding/binary"

	"github.com/cloudflare/circl/xof"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
)

// XOFSource is a math/rand/v2 Source that squeezes an extendable-output
// function seeded with a domain-separated uint64. Two parties holding the same
// seed obtain the same stream regardless of platform or Go release, which is
// what lets Alice rebuild Bob's shuffles from a shuffle identifier.
//
// An XOFSource is not safe for concurrent use.
type XOFSource struct {
	x   xof.XOF
	buf [8]byte
}

// NewXOFSource returns a SHAKE-256 backed source for the given seed.
func NewXOFSource(seed uint64) *XOFSource {
	x := xof.SHAKE256.New()

	domain := []byte(constants.DomainSeparatorShuffle)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(domain)))
	_, _ = x.Write(lenBuf[:])
	_, _ = x.Write(domain)

	var seedBuf [8]byte
	binary.BigEndian.PutUint64(seedBuf[:], seed)
	_, _ = x.Write(seedBuf[:])

	return &XOFSource{x: x}
}

// Uint64 implements rand.Source.
func (s *XOFSource) Uint64() uint64 {
	_, _ = s.x.Read(s.buf[:]) // XOF reads never fail
	return binary.BigEndian.Uint64(s.buf[:])
}
