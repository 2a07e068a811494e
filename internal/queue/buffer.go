package queue

import (
	"context"
	"sync"
	"time"
)

// Policy selects behavior when the buffer is full.
type Policy int

const (
	// Block stalls the producer until space frees or BlockTimeout elapses.
	// On timeout the element is dropped, counted, and the buffer is marked
	// degraded; the run continues.
	Block Policy = iota

	// DropOldest evicts the oldest unflushed element and counts the drop.
	DropOldest
)

// Config configures a BoundedBuffer.
type Config struct {
	Capacity     int           // Maximum element count
	SoftBytes    int           // Soft memory-size estimate; 0 disables byte accounting
	Policy       Policy        // Overflow policy
	BlockTimeout time.Duration // Max producer stall under Block; 0 means wait indefinitely
}

// BoundedBuffer is a fixed-capacity FIFO buffer shared between one producer
// and one consumer. It is the single shared-mutation point of the pipeline;
// all access is serialized through one mutex so no element is duplicated or
// lost across concurrent enqueue/drain.
type BoundedBuffer[T any] struct {
	cfg      Config
	sizeOf   func(T) int
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	bytes    int
	closed   bool
	degraded bool

	// Stats
	totalIn  int64
	totalOut int64
	dropped  int64
}

// NewBounded creates a buffer with the given configuration. sizeOf estimates
// an element's footprint for soft byte accounting; nil disables it.
func NewBounded[T any](cfg Config, sizeOf func(T) int) *BoundedBuffer[T] {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	b := &BoundedBuffer[T]{
		cfg:    cfg,
		sizeOf: sizeOf,
		buf:    make([]T, cfg.Capacity),
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Enqueue adds an element, applying the overflow policy when full. It returns
// the number of elements dropped to admit this one (0 or 1 under DropOldest;
// 1 when the element itself is dropped after a Block timeout) and false once
// the buffer is closed.
func (b *BoundedBuffer[T]) Enqueue(ctx context.Context, item T) (dropped int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, false
	}

	if b.full() {
		switch b.cfg.Policy {
		case DropOldest:
			b.evictOldestLocked()
			dropped++
		case Block:
			if !b.waitNotFullLocked(ctx) {
				if b.closed {
					return 0, false
				}
				// Timed out or canceled: drop the incoming element and mark
				// the run degraded rather than aborting.
				b.degraded = true
				b.dropped++
				return 1, true
			}
		}
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.cfg.Capacity
	b.count++
	if b.sizeOf != nil {
		b.bytes += b.sizeOf(item)
	}
	b.totalIn++

	b.notEmpty.Signal()
	return dropped, true
}

// full reports whether either the element or soft byte bound is reached.
// Caller must hold the lock.
func (b *BoundedBuffer[T]) full() bool {
	if b.count >= b.cfg.Capacity {
		return true
	}
	return b.cfg.SoftBytes > 0 && b.bytes >= b.cfg.SoftBytes
}

// waitNotFullLocked waits until space frees, the buffer closes, the context
// is canceled, or BlockTimeout elapses. Returns true if space is available.
func (b *BoundedBuffer[T]) waitNotFullLocked(ctx context.Context) bool {
	var deadline time.Time
	if b.cfg.BlockTimeout > 0 {
		deadline = time.Now().Add(b.cfg.BlockTimeout)
	}

	// Wake the cond waiter when the context ends so a canceled producer does
	// not hang on a full buffer.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notFull.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	// The periodic wakeup below bounds how long a deadline overshoot lasts.
	if !deadline.IsZero() {
		t := time.AfterFunc(time.Until(deadline), func() {
			b.mu.Lock()
			b.notFull.Broadcast()
			b.mu.Unlock()
		})
		defer t.Stop()
	}

	for b.full() && !b.closed {
		if ctx.Err() != nil {
			return false
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
		b.notFull.Wait()
	}
	return !b.closed
}

// evictOldestLocked removes the head element. Caller must hold the lock.
func (b *BoundedBuffer[T]) evictOldestLocked() {
	var zero T
	if b.sizeOf != nil {
		b.bytes -= b.sizeOf(b.buf[b.head])
	}
	b.buf[b.head] = zero
	b.head = (b.head + 1) % b.cfg.Capacity
	b.count--
	b.dropped++
}

// Dequeue removes and returns the oldest element, blocking until one is
// available, the context is canceled, or the buffer is closed and empty.
func (b *BoundedBuffer[T]) Dequeue(ctx context.Context) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.notEmpty.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for b.count == 0 && !b.closed && ctx.Err() == nil {
		b.notEmpty.Wait()
	}

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// TryDequeue removes the oldest element without blocking.
func (b *BoundedBuffer[T]) TryDequeue() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.takeLocked(), true
}

// DrainTo removes up to max elements (all if max <= 0) in FIFO order.
func (b *BoundedBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.takeLocked()
	}
	return result
}

// takeLocked removes and returns the head element. Caller must hold the lock.
func (b *BoundedBuffer[T]) takeLocked() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.cfg.Capacity
	b.count--
	if b.sizeOf != nil {
		b.bytes -= b.sizeOf(item)
	}
	b.totalOut++
	b.notFull.Signal()
	return item
}

// Close closes the buffer. Enqueue returns false afterwards; consumers drain
// remaining elements and then observe the close. Idempotent.
func (b *BoundedBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (b *BoundedBuffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the current number of buffered elements.
func (b *BoundedBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns a snapshot of buffer counters.
func (b *BoundedBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Depth:    b.count,
		Capacity: b.cfg.Capacity,
		Bytes:    b.bytes,
		TotalIn:  b.totalIn,
		TotalOut: b.totalOut,
		Dropped:  b.dropped,
		Degraded: b.degraded,
	}
}

// BufferStats is a snapshot of buffer counters.
type BufferStats struct {
	Depth    int
	Capacity int
	Bytes    int
	TotalIn  int64
	TotalOut int64
	Dropped  int64
	Degraded bool
}
