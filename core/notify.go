package core

import (
	"context"
	"sync/atomic"
)

// Notifier is a single-producer/single-consumer wake-up signal. Notify never
// blocks and may be called from interrupt context; Wait blocks the consumer
// task until at least one notification arrived and reports how many were
// raised since the previous Wait returned.
type Notifier struct {
	pending atomic.Uint32
	ch      chan struct{}
}

// NewNotifier creates a ready to use notifier
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify raises the signal
func (n *Notifier) Notify() {
	n.pending.Add(1)
	select {
	case n.ch <- struct{}{}:
	default:
		// Already signalled, the count carries the overflow
	}
}

// Wait blocks until notified or ctx is done. The returned count is the
// number of Notify calls folded into this wake-up; more than one means the
// consumer fell behind.
func (n *Notifier) Wait(ctx context.Context) (uint32, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-n.ch:
		}
		if c := n.pending.Swap(0); c > 0 {
			return c, nil
		}
	}
}

// Pending returns the number of notifications not yet consumed
func (n *Notifier) Pending() uint32 {
	return n.pending.Load()
}
