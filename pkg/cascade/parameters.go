package cascade

import (
	"fmt"
	"math"
	"sort"

	"github.com/brunorijsman/qkd-cascade/internal/constants"
	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
)

// BlockSizeFunc returns the top-level block size for a pass (1-based).
type BlockSizeFunc func(estimatedErrorRate float64, keySize, pass int) int

// Parameters describe a variation of the Cascade algorithm.
type Parameters struct {
	// Name identifies the variation in logs and statistics.
	Name string

	// Passes is the number of Cascade passes (iterations).
	Passes int

	// BlockSize chooses the top-level block size per pass.
	BlockSize BlockSizeFunc

	// SubBlockReuse registers bisection sub-blocks with the session so that
	// later cascades can correct them directly. When false only top-level
	// blocks take part in cascading.
	SubBlockReuse bool
}

// Validate checks that the parameters can drive a reconciliation.
func (p Parameters) Validate() error {
	if p.Passes < 1 {
		return fmt.Errorf("%w: passes %d", qerrors.ErrInvalidParameters, p.Passes)
	}
	if p.BlockSize == nil {
		return fmt.Errorf("%w: nil block size function", qerrors.ErrInvalidParameters)
	}
	return nil
}

// Named variations of Cascade.
var (
	// OriginalParameters is Cascade as described by Brassard and Salvail:
	// four passes, k1 = ceil(0.73/Q), doubling every pass.
	OriginalParameters = Parameters{
		Name:          "original",
		Passes:        4,
		BlockSize:     originalBlockSize,
		SubBlockReuse: false,
	}

	// YanetalParameters follows Yan et al.: ten passes, k1 = ceil(0.80/Q),
	// k2 = 5*k1, then half the key.
	YanetalParameters = Parameters{
		Name:          "yanetal",
		Passes:        10,
		BlockSize:     yanetalBlockSize,
		SubBlockReuse: false,
	}

	// Option7Parameters follows Martinez-Mateo et al. option 7: fourteen passes,
	// power-of-two block sizes and sub-block reuse.
	Option7Parameters = Parameters{
		Name:          "option7",
		Passes:        14,
		BlockSize:     option7BlockSize,
		SubBlockReuse: true,
	}

	// Option8Parameters follows Martinez-Mateo et al. option 8.
	Option8Parameters = Parameters{
		Name:          "option8",
		Passes:        14,
		BlockSize:     option8BlockSize,
		SubBlockReuse: true,
	}
)

var parametersByName = map[string]Parameters{
	OriginalParameters.Name: OriginalParameters,
	YanetalParameters.Name:  YanetalParameters,
	Option7Parameters.Name:  Option7Parameters,
	Option8Parameters.Name:  Option8Parameters,
}

// ParametersByName returns the named Cascade variation.
func ParametersByName(name string) (Parameters, error) {
	p, ok := parametersByName[name]
	if !ok {
		return Parameters{}, fmt.Errorf("%w: %q", qerrors.ErrUnknownParameters, name)
	}
	return p, nil
}

// ParameterNames lists the known variation names in sorted order.
func ParameterNames() []string {
	names := make([]string, 0, len(parametersByName))
	for name := range parametersByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FixedBlockSizes returns a BlockSizeFunc that uses sizes[pass-1], repeating
// the last entry for later passes. Useful for tests and experiments.
func FixedBlockSizes(sizes ...int) BlockSizeFunc {
	if len(sizes) == 0 {
		panic("cascade: FixedBlockSizes needs at least one size")
	}
	return func(_ float64, _ int, pass int) int {
		if pass > len(sizes) {
			return sizes[len(sizes)-1]
		}
		return sizes[pass-1]
	}
}

func flooredRate(rate float64) float64 {
	if rate < constants.MinEstimatedErrorRate {
		return constants.MinEstimatedErrorRate
	}
	return rate
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func halfKey(keySize int) int {
	return atLeastOne((keySize + 1) / 2)
}

// originalBlockSize doubles k1 each pass and stops once a block spans the
// whole key.
func originalBlockSize(rate float64, keySize, pass int) int {
	k := int(math.Ceil(0.73 / flooredRate(rate)))
	for i := 1; i < pass && (keySize < 1 || k < keySize); i++ {
		k *= 2
	}
	if keySize > 0 && k > keySize {
		k = keySize
	}
	return atLeastOne(k)
}

func yanetalBlockSize(rate float64, keySize, pass int) int {
	k1 := int(math.Ceil(0.80 / flooredRate(rate)))
	switch pass {
	case 1:
		return atLeastOne(k1)
	case 2:
		return atLeastOne(5 * k1)
	default:
		return halfKey(keySize)
	}
}

func option7BlockSize(rate float64, keySize, pass int) int {
	k1 := 1 << int(math.Ceil(math.Log2(1/flooredRate(rate))))
	switch pass {
	case 1:
		return atLeastOne(k1)
	case 2:
		return atLeastOne(4 * k1)
	default:
		return halfKey(keySize)
	}
}

func option8BlockSize(rate float64, keySize, pass int) int {
	alpha := math.Log2(1/flooredRate(rate)) - 0.5
	switch pass {
	case 1:
		return atLeastOne(1 << int(math.Ceil(alpha)))
	case 2, 3:
		return atLeastOne(1 << int(math.Ceil((alpha+12)/2)))
	default:
		return halfKey(keySize)
	}
}
