package cascade

import "github.com/google/btree"

type pendingEntry struct {
	size int
	seq  uint64
	id   BlockID
}

func lessPending(a, b pendingEntry) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.seq < b.seq
}

// pendingQueue is a min-queue of blocks keyed by size, ties broken by
// insertion order. The same block may be queued more than once.
type pendingQueue struct {
	tree *btree.BTreeG[pendingEntry]
	seq  uint64
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{tree: btree.NewG(8, lessPending)}
}

func (q *pendingQueue) push(id BlockID, size int) {
	q.seq++
	q.tree.ReplaceOrInsert(pendingEntry{size: size, seq: q.seq, id: id})
}

func (q *pendingQueue) pop() (BlockID, bool) {
	e, ok := q.tree.DeleteMin()
	if !ok {
		return NoBlock, false
	}
	return e.id, true
}

func (q *pendingQueue) len() int {
	return q.tree.Len()
}

// snapshot returns the queued blocks in pop order without removing them.
func (q *pendingQueue) snapshot() []BlockID {
	out := make([]BlockID, 0, q.tree.Len())
	q.tree.Ascend(func(e pendingEntry) bool {
		out = append(out, e.id)
		return true
	})
	return out
}

func (q *pendingQueue) clear() {
	q.tree.Clear(false)
	q.seq = 0
}
