package planner

import "sync"

// ReadyQueue holds finalized blocks waiting for execution. It is the
// hand-off between the command context, which pushes, and the completion
// context, which pops. The lock is held only for the push or pop itself and
// is never taken from interrupt context.
type ReadyQueue struct {
	mu     sync.Mutex
	blocks []*Block
	head   int
}

// NewReadyQueue creates an empty queue
func NewReadyQueue() *ReadyQueue {
	return &ReadyQueue{blocks: make([]*Block, 0, 32)}
}

// Push appends blocks in order
func (q *ReadyQueue) Push(blocks ...*Block) {
	q.mu.Lock()
	q.blocks = append(q.blocks, blocks...)
	q.mu.Unlock()
}

// Pop removes the oldest block
func (q *ReadyQueue) Pop() (*Block, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.blocks) {
		return nil, false
	}
	b := q.blocks[q.head]
	q.blocks[q.head] = nil
	q.head++

	// Reclaim the consumed prefix
	if q.head == len(q.blocks) {
		q.blocks = q.blocks[:0]
		q.head = 0
	} else if q.head >= 32 && q.head*2 >= len(q.blocks) {
		n := copy(q.blocks, q.blocks[q.head:])
		for i := n; i < len(q.blocks); i++ {
			q.blocks[i] = nil
		}
		q.blocks = q.blocks[:n]
		q.head = 0
	}
	return b, true
}

// Len returns the number of queued blocks
func (q *ReadyQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.blocks) - q.head
}

// Snapshot returns the queued blocks, oldest first
func (q *ReadyQueue) Snapshot() []*Block {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Block, len(q.blocks)-q.head)
	copy(out, q.blocks[q.head:])
	return out
}

// Clear drops every queued block and returns how many were dropped
func (q *ReadyQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.blocks) - q.head
	for i := range q.blocks {
		q.blocks[i] = nil
	}
	q.blocks = q.blocks[:0]
	q.head = 0
	return n
}
