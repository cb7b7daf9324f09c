// kdf.go implements SHAKE-256 (FIPS 202) derivations with domain separation.
//
// The derivation follows the construction:
//
//	output = SHAKE-256(
//	    domain_length || domain ||
//	    count || input_1_length || input_1 || ... ,
//	    output_length
//	)
//
// Length prefixes are 4-byte big-endian integers to ensure unambiguous parsing.
// After reconciliation Bob and Alice each hash their key with
// DomainSeparatorFingerprint and compare digests to detect residual errors.
package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
)

// maxDeriveLength caps derivation output at 1MB
const maxDeriveLength = 1 << 20

// DeriveKey derives outputLen bytes from input under the given domain.
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	return DeriveKeyMultiple(domain, [][]byte{input}, outputLen)
}

// DeriveKeyMultiple derives outputLen bytes from several inputs under the given domain.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDeriveLength {
		return nil, qerrors.ErrInvalidLength
	}

	h := sha3.NewShake256()
	lenBuf := make([]byte, 4)

	domainBytes := []byte(domain)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(domainBytes)))
	h.Write(lenBuf)
	h.Write(domainBytes)

	binary.BigEndian.PutUint32(lenBuf, uint32(len(inputs)))
	h.Write(lenBuf)

	for _, input := range inputs {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(input)))
		h.Write(lenBuf)
		h.Write(input)
	}

	output := make([]byte, outputLen)
	_, _ = h.Read(output) // SHAKE256.Read never fails

	return output, nil
}

// Fingerprint returns a FingerprintSize digest binding a key's size and bits.
// bits is the packed key representation; size disambiguates trailing zero bits.
func Fingerprint(size int, bits []byte) []byte {
	sizeBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(sizeBuf, uint64(size))
	out, err := DeriveKeyMultiple(constants.DomainSeparatorFingerprint, [][]byte{sizeBuf, bits}, constants.FingerprintSize)
	if err != nil {
		panic("crypto: fingerprint derivation failed: " + err.Error())
	}
	return out
}
