// Package events provides a small generic publish/subscribe
// primitive: each subscriber holds a handle whose lifetime it
// controls, so closing the handle removes the subscription without
// the publisher needing to know who is listening.
package events

import "sync"

// Subscription is the handle a subscriber holds. Closing it is
// idempotent and removes the callback from future Publish calls.
type Subscription struct {
	close func()
	once  sync.Once
}

func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.close != nil {
			s.close()
		}
	})
}

// Bus is a single-event-type publish/subscribe channel. The zero
// value is ready to use.
type Bus[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(T)
}

// Subscribe registers fn and returns a handle to unregister it. A
// handshake takes exactly one subscription per edge it cares about
// and closes it on completion or failure, since ownership of the
// underlying connection moves from the handshake to the established
// channel (or is dropped) once the handshake concludes.
func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(T))
	}
	id := b.next
	b.next++
	b.subs[id] = fn

	sub := &Subscription{}
	sub.close = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return sub
}

// Publish invokes every current subscriber with v. Subscribers run
// synchronously on the caller's goroutine — Connection publishes
// data-received events from its single read goroutine and write
// acknowledgements under its write lock, so events of one kind for a
// given connection never run concurrently with themselves.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Clear removes every subscriber, used during teardown.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]func(T))
}
