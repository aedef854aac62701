package decoder

import (
	"context"
	"sync"
	"sync/atomic"
)

// generationNotifier is a broadcast primitive: Bump() wakes every goroutine
// currently parked in Wait(). It is the channel-swap idiom the teacher's
// streaming grounding file (other_examples/.../streaming.go) uses for
// "close a channel to signal done", generalized here to "close-and-replace a
// channel to signal advanced" since the engine-wide generation counter never
// has a final close — only a long sequence of advances.
type generationNotifier struct {
	mu  sync.Mutex
	ch  chan struct{}
	gen atomic.Uint64
}

func newGenerationNotifier() *generationNotifier {
	return &generationNotifier{ch: make(chan struct{})}
}

// Bump increments the global generation counter and wakes every waiter.
func (n *generationNotifier) Bump() {
	n.mu.Lock()
	old := n.ch
	n.ch = make(chan struct{})
	n.mu.Unlock()
	n.gen.Add(1)
	close(old)
}

// Gen returns the current global generation value.
func (n *generationNotifier) Gen() uint64 {
	return n.gen.Load()
}

// wait parks the caller until either the notifier is bumped or ctx is done.
func (n *generationNotifier) wait(ctx context.Context) error {
	n.mu.Lock()
	ch := n.ch
	n.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
