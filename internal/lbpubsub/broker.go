// Package lbpubsub fans published values out to subscribed channels.
package lbpubsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Broker publishes values to every subscriber whose allow func accepts them.
// Sends never block: a subscriber with a full channel misses the value, and
// the miss is counted as a drop.
type Broker[T any] struct {
	mtx         sync.Mutex
	transform   func(T) T
	subscribers map[chan<- T]*subscriber[T]
	active      atomic.Bool
}

type subscriber[T any] struct {
	allow func(T) bool
	ch    chan<- T
	stats Stats
}

// NewBroker returns an empty broker. If transform is non-nil, it's applied
// once per published value, before any subscriber sees it.
func NewBroker[T any](transform func(T) T) *Broker[T] {
	return &Broker[T]{
		transform:   transform,
		subscribers: map[chan<- T]*subscriber[T]{},
	}
}

// Active returns true if there's at least one subscriber.
func (b *Broker[T]) Active() bool {
	return b.active.Load()
}

// Publish the value to all subscribers.
func (b *Broker[T]) Publish(ctx context.Context, val T) {
	if !b.active.Load() {
		return
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if len(b.subscribers) <= 0 {
		return
	}

	if b.transform != nil {
		val = b.transform(val)
	}

	for _, sub := range b.subscribers {
		if sub.allow != nil && !sub.allow(val) {
			sub.stats.Skips++
			continue
		}
		select {
		case sub.ch <- val:
			sub.stats.Sends++
		default:
			sub.stats.Drops++
		}
	}
}

// Subscribe registers ch and blocks until the context is canceled, at which
// point ch is unsubscribed and its final stats are returned.
func (b *Broker[T]) Subscribe(ctx context.Context, allow func(T) bool, ch chan<- T) (Stats, error) {
	if err := b.Add(allow, ch); err != nil {
		return Stats{}, err
	}

	<-ctx.Done()

	stats, err := b.Remove(ch)
	if err != nil {
		return Stats{}, err
	}

	return stats, ctx.Err()
}

// Add registers ch without blocking. Callers must eventually call Remove.
func (b *Broker[T]) Add(allow func(T) bool, ch chan<- T) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		return fmt.Errorf("already subscribed")
	}

	b.subscribers[ch] = &subscriber[T]{
		allow: allow,
		ch:    ch,
	}

	b.active.Store(len(b.subscribers) > 0)

	return nil
}

// Remove unregisters ch and returns its stats.
func (b *Broker[T]) Remove(ch chan<- T) (Stats, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}, fmt.Errorf("not subscribed")
	}

	delete(b.subscribers, ch)
	b.active.Store(len(b.subscribers) > 0)

	return sub.stats, nil
}

// Stats returns the current stats for ch.
func (b *Broker[T]) Stats(ctx context.Context, ch chan<- T) (Stats, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	sub, ok := b.subscribers[ch]
	if !ok {
		return Stats{}, fmt.Errorf("not subscribed")
	}

	return sub.stats, nil
}

// Stats counts the outcome of publishing values to one subscriber.
type Stats struct {
	Skips uint64 `json:"skips"`
	Sends uint64 `json:"sends"`
	Drops uint64 `json:"drops"`
}

func (s Stats) String() string {
	return fmt.Sprintf("skips=%d sends=%d drops=%d", s.Skips, s.Sends, s.Drops)
}
