package cascade

import (
	"context"
	"math"
	"time"
)

// Stats counts the work and disclosure of one reconciliation.
type Stats struct {
	// Passes is the number of passes executed.
	Passes int `json:"passes"`

	// AskParityMessages counts parity requests sent over the channel.
	AskParityMessages int `json:"ask_parity_messages"`

	// AskParityBlocks counts blocks whose reference parity was requested.
	// Each request carries one block, so this equals AskParityMessages.
	AskParityBlocks int `json:"ask_parity_blocks"`

	// ReplyParityBits counts parity bits disclosed by Alice.
	ReplyParityBits int `json:"reply_parity_bits"`

	// InferParityBlocks counts reference parities derived locally from a
	// parent and sibling instead of being requested.
	InferParityBlocks int `json:"infer_parity_blocks"`

	// BitsCorrected counts bit flips applied to Bob's key.
	BitsCorrected int `json:"bits_corrected"`

	// BlocksCreated counts blocks created in each pass (index 0 is pass 1).
	BlocksCreated []int `json:"blocks_created"`

	// CascadePushes counts entries pushed onto the pending error queue.
	CascadePushes int `json:"cascade_pushes"`

	// StalePops counts queue entries that turned out even when popped.
	StalePops int `json:"stale_pops"`

	// Elapsed is the wall-clock duration of CorrectKey.
	Elapsed time.Duration `json:"elapsed_ns"`
}

func (s *Stats) addBlocks(pass, n int) {
	for len(s.BlocksCreated) < pass {
		s.BlocksCreated = append(s.BlocksCreated, 0)
	}
	s.BlocksCreated[pass-1] += n
}

// TotalBlocks returns the number of blocks created across all passes.
func (s Stats) TotalBlocks() int {
	total := 0
	for _, n := range s.BlocksCreated {
		total += n
	}
	return total
}

// Efficiency returns the disclosed parity bits relative to the Shannon limit
// n*h(Q) for a key of keySize bits and bit error rate qber. An efficiency of
// 1.0 is optimal. Returns 0 when the limit is zero.
func (s Stats) Efficiency(keySize int, qber float64) float64 {
	limit := float64(keySize) * BinaryEntropy(qber)
	if limit == 0 {
		return 0
	}
	return float64(s.ReplyParityBits) / limit
}

// BinaryEntropy returns h(p) = -p log2 p - (1-p) log2 (1-p).
func BinaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// Observer receives engine events as they happen. It is the statistics sink
// of the engine: write-only from the engine's point of view.
// Implementations should be lightweight; callbacks run inside the bisection loop.
type Observer interface {
	OnReconcileStart(ctx context.Context, keySize int) (context.Context, func(error))
	OnPassStart(ctx context.Context, pass, blockSize int) (context.Context, func(error))
	OnBlocksCreated(pass, count int)
	OnParityQuery(blockSize int)
	OnParityInferred()
	OnBitCorrected(keyIndex int)
	OnCascadePush()
	OnStalePop()
}

// NoOpObserver ignores all events.
type NoOpObserver struct{}

func (NoOpObserver) OnReconcileStart(ctx context.Context, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NoOpObserver) OnPassStart(ctx context.Context, _, _ int) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (NoOpObserver) OnBlocksCreated(int, int) {}
func (NoOpObserver) OnParityQuery(int)        {}
func (NoOpObserver) OnParityInferred()        {}
func (NoOpObserver) OnBitCorrected(int)       {}
func (NoOpObserver) OnCascadePush()           {}
func (NoOpObserver) OnStalePop()              {}
