package batch

import (
	"sync"
	"time"
)

const DefaultQuiet = 100 * time.Millisecond

// Batcher coalesces bursts of items into one flush after a quiet period.
//
// Every Add restarts the idle timer; there is no max-wait ceiling, so a
// stream that never pauses for the quiet period keeps deferring the flush.
type Batcher[T any] struct {
	quiet time.Duration
	flush func([]T)

	// deliver serializes flushes; stopped is re-checked once it is held.
	deliver sync.Mutex

	mu      sync.Mutex
	pending []T
	timer   *time.Timer
	gen     uint64
	stopped bool
}

// New returns a batcher that hands each batch to flush, newest item first.
func New[T any](quiet time.Duration, flush func([]T)) *Batcher[T] {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Batcher[T]{quiet: quiet, flush: flush}
}

func (b *Batcher[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.pending = append([]T{item}, b.pending...)

	// A timer that already fired may be waiting on the lock; bumping the
	// generation makes that fire a no-op.
	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.quiet, func() { b.fire(gen) })
}

// Flush delivers the pending buffer now, if any.
func (b *Batcher[T]) Flush() {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.take()
	b.mu.Unlock()

	if len(items) > 0 {
		b.flush(items)
	}
}

// Stop cancels the idle timer and drops anything pending. Add after Stop is
// ignored, and a timer that fired but has not started delivering yet is
// dropped too. A flush already running is left to finish.
func (b *Batcher[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
}

func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher[T]) fire(gen uint64) {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.Lock()
	if gen != b.gen || b.stopped {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	items := b.take()
	b.mu.Unlock()

	if len(items) > 0 {
		b.flush(items)
	}
}

func (b *Batcher[T]) take() []T {
	items := b.pending
	b.pending = nil
	return items
}
