package cascade

import (
	"context"
	"fmt"
	"sync"

	"github.com/brunorijsman/qkd-cascade/pkg/key"
	"github.com/brunorijsman/qkd-cascade/pkg/shuffle"
)

// Channel is Bob's view of the classical channel to Alice.
//
// Every call is a blocking request/response round-trip. The engine performs
// no retries and no timeouts of its own; implementations honour ctx for
// cancellation. Any returned error aborts the reconciliation.
type Channel interface {
	// StartReconciliation tells Alice a reconciliation of a key of keySize bits begins.
	StartReconciliation(ctx context.Context, keySize int) error

	// EndReconciliation tells Alice the reconciliation has finished.
	EndReconciliation(ctx context.Context) error

	// AskParity returns the parity Alice computes over the original key
	// indexes that s maps the shuffled range [start,end) onto.
	AskParity(ctx context.Context, s *shuffle.Shuffle, start, end int) (int, error)
}

// RangeID identifies a parity query: a shuffle and a shuffled range.
type RangeID struct {
	Shuffle    shuffle.Identifier
	Start, End int
}

// MockChannel answers parity queries from an in-process copy of Alice's key.
// It records every query so tests can verify disclosure behaviour.
//
// A MockChannel is safe for concurrent use, but each session should own one.
type MockChannel struct {
	mu      sync.Mutex
	correct *key.Key
	queries map[RangeID]int
	total   int
	starts  int
	ends    int
}

// NewMockChannel returns a channel answering from Alice's correct key.
func NewMockChannel(correct *key.Key) *MockChannel {
	return &MockChannel{
		correct: correct,
		queries: make(map[RangeID]int),
	}
}

// StartReconciliation implements Channel.
func (m *MockChannel) StartReconciliation(_ context.Context, keySize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if keySize != m.correct.Size() {
		return fmt.Errorf("mock channel: key size %d, Alice has %d", keySize, m.correct.Size())
	}
	m.starts++
	return nil
}

// EndReconciliation implements Channel.
func (m *MockChannel) EndReconciliation(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ends++
	return nil
}

// AskParity implements Channel.
func (m *MockChannel) AskParity(ctx context.Context, s *shuffle.Shuffle, start, end int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[RangeID{Shuffle: s.Identifier(), Start: start, End: end}]++
	m.total++
	return s.Parity(m.correct, start, end), nil
}

// TotalQueries returns the number of AskParity calls so far.
func (m *MockChannel) TotalQueries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// QueryCounts returns a copy of the per-range query counts.
func (m *MockChannel) QueryCounts() map[RangeID]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[RangeID]int, len(m.queries))
	for k, v := range m.queries {
		out[k] = v
	}
	return out
}

// Exchanges returns how many reconciliations were started and ended.
func (m *MockChannel) Exchanges() (started, ended int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts, m.ends
}
