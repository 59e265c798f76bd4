// Package lbringbuf provides a fixed-size, concurrency-safe ring buffer, used
// to retain the most recent warnings and storage errors.
package lbringbuf

import (
	"sync"
)

// RingBuffer is a fixed-size collection of recent items.
type RingBuffer[T any] struct {
	mtx sync.Mutex
	buf []T // fully allocated at construction
	cur int // index for next write, walk backwards to read
	len int // count of actual values
}

// New returns an empty ring buffer pre-allocated with the given capacity. A
// capacity less than 1 is treated as 1.
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		buf: make([]T, capacity),
	}
}

// Add the value to the ring buffer, overwriting the oldest value if the
// buffer is full. The overwritten value, if any, is returned with true.
func (rb *RingBuffer[T]) Add(val T) (dropped T, ok bool) {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	if rb.len >= len(rb.buf) {
		dropped, ok = rb.buf[rb.cur], true
	}

	rb.buf[rb.cur] = val

	if rb.len < len(rb.buf) {
		rb.len++
	}

	rb.cur++
	if rb.cur >= len(rb.buf) {
		rb.cur -= len(rb.buf)
	}

	return dropped, ok
}

// Walk calls fn for each value, newest first. Walk stops at the first error
// returned by fn and returns it. The buffer is locked for the whole walk.
func (rb *RingBuffer[T]) Walk(fn func(T) error) error {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	for i := 0; i < rb.len; i++ {
		cur := rb.cur - 1 - i
		if cur < 0 {
			cur += len(rb.buf)
		}
		if err := fn(rb.buf[cur]); err != nil {
			return err
		}
	}

	return nil
}

// Values returns a copy of the buffered values, newest first.
func (rb *RingBuffer[T]) Values() []T {
	res := make([]T, 0, rb.Len())
	rb.Walk(func(v T) error {
		res = append(res, v)
		return nil
	})
	return res
}

// Len returns the number of values currently held.
func (rb *RingBuffer[T]) Len() int {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	return rb.len
}

// Reset drops every value.
func (rb *RingBuffer[T]) Reset() {
	rb.mtx.Lock()
	defer rb.mtx.Unlock()

	var zero T
	for i := range rb.buf {
		rb.buf[i] = zero
	}
	rb.cur, rb.len = 0, 0
}
