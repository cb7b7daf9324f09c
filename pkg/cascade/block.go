package cascade

import (
	"context"
	"fmt"

	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// BlockID is a stable handle to a block in a session's block arena.
type BlockID int32

// NoBlock is the handle of an absent parent or child.
const NoBlock BlockID = -1

// ErrorState is the parity of the errors in a block: Bob's local parity XOR
// Alice's reference parity.
type ErrorState int

const (
	// ErrorsEven means the block holds an even (possibly zero) number of errors.
	ErrorsEven ErrorState = iota
	// ErrorsOdd means the block holds an odd number of errors and bisection
	// is guaranteed to find one.
	ErrorsOdd
)

func (e ErrorState) String() string {
	if e == ErrorsOdd {
		return "odd"
	}
	return "even"
}

const unknownParity int8 = -1

// block is a contiguous range [start,end) of shuffled positions.
// Parity state is never stored: Bob's side is recomputed from the key on
// demand and only Alice's reference parity is cached.
type block struct {
	shuffle   *shuffle.Shuffle
	start     int
	end       int
	pass      int
	topLevel  bool
	parent    BlockID
	left      BlockID
	right     BlockID
	refParity int8
}

func (b *block) size() int {
	return b.end - b.start
}

// registry is the capability blocks need from their owner: a reverse index
// for cascading and a notification hook for flipped bits.
type registry interface {
	RegisterBlock(id BlockID)
	NotifyBitFlip(keyIndex int, flipped BlockID)
}

// arena owns every block of a session. Parent/child links are handles into
// blocks, so the hierarchy holds no pointer cycles.
type arena struct {
	blocks   []block
	key      *key.Key
	channel  Channel
	reuse    bool
	stats    *Stats
	observer Observer
}

func (a *arena) get(id BlockID) *block {
	if id < 0 || int(id) >= len(a.blocks) {
		panic(fmt.Sprintf("cascade: unknown block %d", id))
	}
	return &a.blocks[id]
}

func (a *arena) newBlock(s *shuffle.Shuffle, start, end, pass int, topLevel bool, parent BlockID) BlockID {
	if end <= start {
		panic(fmt.Sprintf("cascade: empty block [%d,%d)", start, end))
	}
	if start < 0 || end > s.Size() {
		panic(fmt.Sprintf("cascade: block [%d,%d) outside shuffle of size %d", start, end, s.Size()))
	}
	a.blocks = append(a.blocks, block{
		shuffle:   s,
		start:     start,
		end:       end,
		pass:      pass,
		topLevel:  topLevel,
		parent:    parent,
		left:      NoBlock,
		right:     NoBlock,
		refParity: unknownParity,
	})
	a.stats.addBlocks(pass, 1)
	return BlockID(len(a.blocks) - 1)
}

// createCoveringBlocks partitions [0,s.Size()) into top-level blocks of
// blockSize positions (the last may be shorter), registers each with reg and
// returns them left to right.
func (a *arena) createCoveringBlocks(reg registry, s *shuffle.Shuffle, blockSize, pass int) []BlockID {
	if blockSize < 1 {
		panic(fmt.Sprintf("cascade: block size %d < 1", blockSize))
	}
	ids := make([]BlockID, 0, (s.Size()+blockSize-1)/blockSize)
	for start := 0; start < s.Size(); start += blockSize {
		end := min(start+blockSize, s.Size())
		id := a.newBlock(s, start, end, pass, true, NoBlock)
		reg.RegisterBlock(id)
		ids = append(ids, id)
	}
	a.observer.OnBlocksCreated(pass, len(ids))
	return ids
}

// coveredIndexes returns the original key indexes the block covers.
func (a *arena) coveredIndexes(id BlockID) []int {
	b := a.get(id)
	out := make([]int, 0, b.size())
	for pos := b.start; pos < b.end; pos++ {
		out = append(out, b.shuffle.ToOriginal(pos))
	}
	return out
}

func (a *arena) localParity(id BlockID) int {
	b := a.get(id)
	return b.shuffle.Parity(a.key, b.start, b.end)
}

// knownErrorState returns the block's error state without touching the
// channel. ok is false while the reference parity has not been obtained.
func (a *arena) knownErrorState(id BlockID) (state ErrorState, ok bool) {
	b := a.get(id)
	if b.refParity == unknownParity {
		return ErrorsEven, false
	}
	return ErrorState(a.localParity(id) ^ int(b.refParity)), true
}

// errorState returns the block's error state, asking the channel for the
// reference parity the first time only.
func (a *arena) errorState(ctx context.Context, id BlockID) (ErrorState, error) {
	b := a.get(id)
	if b.refParity == unknownParity {
		shuf, start, end := b.shuffle, b.start, b.end
		parity, err := a.channel.AskParity(ctx, shuf, start, end)
		if err != nil {
			return ErrorsEven, fmt.Errorf("ask parity [%d,%d): %w", start, end, err)
		}
		if parity != 0 && parity != 1 {
			return ErrorsEven, fmt.Errorf("%w: parity %d for [%d,%d)", qerrors.ErrInvalidMessage, parity, start, end)
		}
		a.stats.AskParityMessages++
		a.stats.AskParityBlocks++
		a.stats.ReplyParityBits++
		a.observer.OnParityQuery(end - start)
		a.get(id).refParity = int8(parity)
	}
	state, _ := a.knownErrorState(id)
	return state, nil
}

func (a *arena) leftChild(reg registry, id BlockID) BlockID {
	b := a.get(id)
	if b.left != NoBlock {
		return b.left
	}
	s, start, mid, pass := b.shuffle, b.start, b.start+(b.size()+1)/2, b.pass
	child := a.newBlock(s, start, mid, pass, false, id)
	a.get(id).left = child
	if a.reuse {
		reg.RegisterBlock(child)
	}
	return child
}

// rightChild returns the right half, deriving its reference parity from the
// parent and the left sibling instead of asking the channel.
func (a *arena) rightChild(reg registry, id BlockID) BlockID {
	b := a.get(id)
	left := a.get(b.left)
	derived := int8(unknownParity)
	if b.refParity != unknownParity && left.refParity != unknownParity {
		derived = b.refParity ^ left.refParity
	}
	if b.right != NoBlock {
		r := a.get(b.right)
		if r.refParity == unknownParity && derived != unknownParity {
			r.refParity = derived
			a.stats.InferParityBlocks++
			a.observer.OnParityInferred()
		}
		return b.right
	}
	s, mid, end, pass := b.shuffle, left.end, b.end, b.pass
	child := a.newBlock(s, mid, end, pass, false, id)
	a.get(id).right = child
	if derived != unknownParity {
		a.get(child).refParity = derived
		a.stats.InferParityBlocks++
		a.observer.OnParityInferred()
	}
	if a.reuse {
		reg.RegisterBlock(child)
	}
	return child
}

// correctOneBit locates and flips one erroneous bit in an odd block by
// bisection and returns its shuffled position. The block must be known odd.
func (a *arena) correctOneBit(ctx context.Context, reg registry, id BlockID) (int, error) {
	if state, ok := a.knownErrorState(id); !ok || state != ErrorsOdd {
		panic(fmt.Sprintf("cascade: correctOneBit on block %d that is not known odd", id))
	}
	for {
		b := a.get(id)
		if b.size() == 1 {
			pos := b.start
			index := b.shuffle.ToOriginal(pos)
			a.key.Flip(index)
			a.stats.BitsCorrected++
			a.observer.OnBitCorrected(index)
			reg.NotifyBitFlip(index, id)
			return pos, nil
		}

		left := a.leftChild(reg, id)
		leftState, err := a.errorState(ctx, left)
		if err != nil {
			return 0, err
		}
		if leftState == ErrorsOdd {
			id = left
			continue
		}

		right := a.rightChild(reg, id)
		rightState, ok := a.knownErrorState(right)
		if !ok || rightState != ErrorsOdd {
			r := a.get(right)
			return 0, fmt.Errorf("%w: right half [%d,%d) of odd block is even", qerrors.ErrBisectionInvariant, r.start, r.end)
		}
		id = right
	}
}
