// Package cascade implements the Cascade information reconciliation protocol
// used after quantum key distribution.
//
// Bob holds a noisy copy of Alice's key. A Session corrects it by asking Alice,
// over a classical Channel, for the parities of blocks of key bits:
//   - Each pass partitions a (shuffled) view of the key into top-level blocks
//   - Blocks with odd error parity are bisected to locate and flip one bit
//   - Flipping a bit re-opens every other block covering it (the cascade)
//   - Each block's reference parity is requested from Alice at most once
//
// The corrected key is correct with high probability, not with certainty.
// Confirming the result (for example by comparing fingerprints) is up to the
// caller.
package cascade

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	qerrors "github.com/brunorijsman/qkd-cascade/internal/errors"
	"github.com/brunorijsman/qkd-cascade/pkg/crypto"
	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// BlockInfo describes a block for inspection.
type BlockInfo struct {
	ID       BlockID
	Shuffle  shuffle.Identifier
	Start    int
	End      int
	Pass     int
	TopLevel bool
	Parent   BlockID
	Left     BlockID
	Right    BlockID

	// ReferenceKnown reports whether Alice's parity has been obtained.
	ReferenceKnown bool
}

// Size returns the number of key bits in the block.
func (b BlockInfo) Size() int {
	return b.End - b.Start
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithRand sets the generator used to seed the shuffles of passes 2 and up.
// Sessions built with the same seed and key reproduce the same run.
func WithRand(rng *rand.Rand) SessionOption {
	return func(s *Session) {
		s.rng = rng
	}
}

// WithObserver attaches an event sink, typically a metrics.ReconcileObserver.
func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

// Session reconciles Bob's key against Alice's over a Channel.
//
// A Session is not safe for concurrent use. Independent sessions share no
// state and may run concurrently.
type Session struct {
	id       uuid.UUID
	params   Parameters
	channel  Channel
	rng      *rand.Rand
	observer Observer

	arena arena
	index map[int][]BlockID
	queue *pendingQueue
	stats Stats
}

// NewSession creates a reconciliation session. Without WithRand the shuffles
// are seeded from the operating system CSPRNG.
func NewSession(params Parameters, ch Channel, opts ...SessionOption) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", qerrors.ErrInvalidParameters)
	}
	s := &Session{
		id:       uuid.New(),
		params:   params,
		channel:  ch,
		observer: NoOpObserver{},
		queue:    newPendingQueue(),
		index:    make(map[int][]BlockID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = crypto.NewSecureRand()
	}
	s.arena = arena{
		channel:  ch,
		reuse:    params.SubBlockReuse,
		stats:    &s.stats,
		observer: s.observer,
	}
	return s, nil
}

// NewMockSession builds a session against an in-process Alice. It returns the
// session together with Alice's random key of keySize bits; keySeed seeds
// that key and shuffleSeed seeds the session's shuffles.
func NewMockSession(keySize int, keySeed, shuffleSeed uint64, params Parameters, opts ...SessionOption) (*Session, *MockChannel, *key.Key, error) {
	correct := key.NewRandom(keySize, crypto.NewRand(keySeed))
	ch := NewMockChannel(correct)
	opts = append([]SessionOption{WithRand(crypto.NewRand(shuffleSeed))}, opts...)
	s, err := NewSession(params, ch, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return s, ch, correct, nil
}

// ID returns the session identifier used in logs and traces.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Parameters returns the Cascade variation the session runs.
func (s *Session) Parameters() Parameters {
	return s.params
}

// Stats returns the statistics of the current or last reconciliation.
func (s *Session) Stats() Stats {
	st := s.stats
	st.BlocksCreated = append([]int(nil), s.stats.BlocksCreated...)
	return st
}

// Reset binds the session to Bob's key k and discards all blocks, the
// registry, the pending queue and statistics. CorrectKey calls it; tests use
// it to drive block operations directly.
func (s *Session) Reset(k *key.Key) {
	s.arena.blocks = s.arena.blocks[:0]
	s.arena.key = k
	s.index = make(map[int][]BlockID)
	s.queue.clear()
	s.stats = Stats{}
}

// Key returns the key the session is bound to.
func (s *Session) Key() *key.Key {
	return s.arena.key
}

func (s *Session) mustBound() {
	if s.arena.key == nil {
		panic("cascade: session has no key; call Reset or CorrectKey")
	}
}

// CreateCoveringBlocks partitions the shuffled key into top-level blocks of
// blockSize bits for the given pass, registers them and returns them in order.
func (s *Session) CreateCoveringBlocks(sh *shuffle.Shuffle, blockSize, pass int) []BlockID {
	s.mustBound()
	if sh.Size() != s.arena.key.Size() {
		panic(fmt.Sprintf("cascade: shuffle size %d, key size %d", sh.Size(), s.arena.key.Size()))
	}
	return s.arena.createCoveringBlocks(s, sh, blockSize, pass)
}

// ErrorState returns whether the block holds an odd or even number of errors.
// Alice's parity is requested on first use and cached for the block.
func (s *Session) ErrorState(ctx context.Context, id BlockID) (ErrorState, error) {
	s.mustBound()
	return s.arena.errorState(ctx, id)
}

// CorrectOneBit bisects an odd block down to a single bit, flips it and
// returns its shuffled position. Calling it on a block that is not known to
// be odd panics.
func (s *Session) CorrectOneBit(ctx context.Context, id BlockID) (int, error) {
	s.mustBound()
	return s.arena.correctOneBit(ctx, s, id)
}

// RegisterBlock adds the block to the bucket of every key index it covers.
// Registering a block twice panics.
func (s *Session) RegisterBlock(id BlockID) {
	for _, index := range s.arena.coveredIndexes(id) {
		for _, other := range s.index[index] {
			if other == id {
				panic(fmt.Sprintf("cascade: block %d registered twice", id))
			}
		}
		s.index[index] = append(s.index[index], id)
	}
}

// BlocksContaining returns the registered blocks, across all passes, that
// cover the original key index. The result must not be modified.
func (s *Session) BlocksContaining(index int) []BlockID {
	return s.index[index]
}

// NotifyBitFlip queues every registered block other than flipped that covers
// index and has just become odd. Blocks whose reference parity is still
// unknown are left alone; they are evaluated when their pass reaches them.
func (s *Session) NotifyBitFlip(index int, flipped BlockID) {
	for _, id := range s.index[index] {
		if id == flipped {
			continue
		}
		b := s.arena.get(id)
		if !s.params.SubBlockReuse && !b.topLevel {
			continue
		}
		if state, ok := s.arena.knownErrorState(id); ok && state == ErrorsOdd {
			s.queue.push(id, b.size())
			s.stats.CascadePushes++
			s.observer.OnCascadePush()
		}
	}
}

// PendingErrorBlocks returns the queued blocks in the order they will be
// processed. Entries may be stale.
func (s *Session) PendingErrorBlocks() []BlockID {
	return s.queue.snapshot()
}

// CorrectRegisteredErrorBlocks drains the pending queue, smallest block
// first. A block is corrected only if it is still odd when popped.
func (s *Session) CorrectRegisteredErrorBlocks(ctx context.Context) error {
	for {
		id, ok := s.queue.pop()
		if !ok {
			return nil
		}
		state, known := s.arena.knownErrorState(id)
		if !known || state != ErrorsOdd {
			s.stats.StalePops++
			s.observer.OnStalePop()
			continue
		}
		if _, err := s.arena.correctOneBit(ctx, s, id); err != nil {
			return err
		}
	}
}

// Block describes a block.
func (s *Session) Block(id BlockID) BlockInfo {
	b := s.arena.get(id)
	return BlockInfo{
		ID:             id,
		Shuffle:        b.shuffle.Identifier(),
		Start:          b.start,
		End:            b.end,
		Pass:           b.pass,
		TopLevel:       b.topLevel,
		Parent:         b.parent,
		Left:           b.left,
		Right:          b.right,
		ReferenceKnown: b.refParity != unknownParity,
	}
}

// CoveredIndexes returns the original key indexes covered by the block.
func (s *Session) CoveredIndexes(id BlockID) []int {
	return s.arena.coveredIndexes(id)
}

// CorrectKey reconciles k in place against Alice's key and returns it.
// estimatedErrorRate is the expected fraction of differing bits, in [0, 1).
//
// Any channel failure aborts the reconciliation and is returned. A nil error
// does not guarantee that all errors were corrected.
func (s *Session) CorrectKey(ctx context.Context, k *key.Key, estimatedErrorRate float64) (result *key.Key, err error) {
	if estimatedErrorRate < 0 || estimatedErrorRate >= 1 {
		return nil, fmt.Errorf("%w: %v", qerrors.ErrInvalidErrorRate, estimatedErrorRate)
	}
	s.Reset(k)
	started := time.Now()

	ctx, end := s.observer.OnReconcileStart(ctx, k.Size())
	defer func() {
		s.stats.Elapsed = time.Since(started)
		end(err)
	}()

	if err := s.channel.StartReconciliation(ctx, k.Size()); err != nil {
		return nil, qerrors.NewChannelError("start-reconciliation", err)
	}

	for pass := 1; pass <= s.params.Passes; pass++ {
		if err := s.runPass(ctx, pass, estimatedErrorRate); err != nil {
			return nil, err
		}
	}

	if err := s.channel.EndReconciliation(ctx); err != nil {
		return nil, qerrors.NewChannelError("end-reconciliation", err)
	}
	return k, nil
}

func (s *Session) runPass(ctx context.Context, pass int, estimatedErrorRate float64) (err error) {
	k := s.arena.key
	blockSize := s.params.BlockSize(estimatedErrorRate, k.Size(), pass)
	if blockSize < 1 {
		return fmt.Errorf("%w: pass %d block size %d", qerrors.ErrInvalidParameters, pass, blockSize)
	}
	blockSize = min(blockSize, k.Size())

	ctx, end := s.observer.OnPassStart(ctx, pass, blockSize)
	defer func() { end(err) }()
	s.stats.Passes = pass

	var sh *shuffle.Shuffle
	if pass == 1 {
		sh = shuffle.Identity(k.Size())
	} else {
		sh = shuffle.Random(k.Size(), s.rng)
	}

	for _, id := range s.CreateCoveringBlocks(sh, blockSize, pass) {
		state, err := s.arena.errorState(ctx, id)
		if err != nil {
			return qerrors.NewChannelError("ask-parity", err)
		}
		if state == ErrorsOdd {
			if _, err := s.arena.correctOneBit(ctx, s, id); err != nil {
				return wrapBisection(err)
			}
		}
		if err := s.CorrectRegisteredErrorBlocks(ctx); err != nil {
			return wrapBisection(err)
		}
	}
	return nil
}

// wrapBisection labels channel failures that surface during bisection.
// Invariant breaches are returned unchanged.
func wrapBisection(err error) error {
	if qerrors.Is(err, qerrors.ErrBisectionInvariant) {
		return err
	}
	return qerrors.NewChannelError("ask-parity", err)
}
