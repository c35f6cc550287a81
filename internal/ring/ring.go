// Package ring holds the index arithmetic shared by every hoststream queue:
// monotonic producer/consumer counters mapped onto a fixed number of slots,
// the order-array bookkeeping used by the locked discipline, and a small
// generic in-process buffer built on the same math. Nothing here touches
// shared memory, so the rules are tested in isolation.
package ring

// Used returns how many sequences have been produced but not consumed.
// Both counters only grow; wraparound of uint64 is handled by unsigned
// subtraction.
func Used(in, out uint64) uint64 {
	return in - out
}

// Full reports whether a producer at in would lap a consumer at out on a
// ring of n slots.
func Full(in, out uint64, n int) bool {
	return Used(in, out) >= uint64(n)
}

// Slot maps a monotonic sequence number onto one of n slots.
func Slot(seq uint64, n int) int {
	return int(seq % uint64(n))
}

// Buffer is a fixed-capacity FIFO over an arena of n values. It is not safe
// for concurrent use; callers hold their own lock.
type Buffer[T any] struct {
	items    []T
	in, out  uint64
	capacity int
}

// NewBuffer allocates a buffer of capacity n (at least 1).
func NewBuffer[T any](n int) *Buffer[T] {
	if n <= 0 {
		n = 1
	}
	return &Buffer[T]{items: make([]T, n), capacity: n}
}

// Len returns the number of queued values.
func (b *Buffer[T]) Len() int { return int(Used(b.in, b.out)) }

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int { return b.capacity }

// Push appends v. It returns false and leaves the buffer unchanged when full.
func (b *Buffer[T]) Push(v T) bool {
	if Full(b.in, b.out, b.capacity) {
		return false
	}
	b.items[Slot(b.in, b.capacity)] = v
	b.in++
	return true
}

// PushEvict appends v, dropping the oldest value when full. It reports
// whether a value was dropped.
func (b *Buffer[T]) PushEvict(v T) bool {
	evicted := false
	if Full(b.in, b.out, b.capacity) {
		var zero T
		b.items[Slot(b.out, b.capacity)] = zero
		b.out++
		evicted = true
	}
	b.items[Slot(b.in, b.capacity)] = v
	b.in++
	return evicted
}

// Pop removes and returns the oldest value.
func (b *Buffer[T]) Pop() (T, bool) {
	var zero T
	if b.in == b.out {
		return zero, false
	}
	i := Slot(b.out, b.capacity)
	v := b.items[i]
	b.items[i] = zero
	b.out++
	return v, true
}

// Reset drops every queued value.
func (b *Buffer[T]) Reset() {
	clear(b.items)
	b.out = b.in
}
