// Package future is a plain result channel: a producer completes a
// Future[T] exactly once, from any goroutine, and every waiter
// observes the same terminal Result.
package future

import (
	"context"
	"sync"
)

// ErrorKind is the taxonomy a Future can fail with; any error
// satisfies it, so the wrapped herrors sentinels (classified with
// herrors.ClassifyOf) flow straight into a Result without re-wrapping.
type ErrorKind interface {
	error
}

// Result is exactly one of: a value, or a terminal error.
type Result[T any] struct {
	Value T
	Err   error
}

func (r Result[T]) Ok() bool { return r.Err == nil }

// Future is a single-assignment, multi-reader result cell. The zero
// value is not usable; construct with New.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	res  Result[T]
}

func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete fulfills the future with a value. Only the first call
// (value or error) has any effect — later calls are no-ops, so every
// future terminates exactly once regardless of how many producers
// race to complete it.
func (f *Future[T]) Complete(value T) {
	f.once.Do(func() {
		f.res = Result[T]{Value: value}
		close(f.done)
	})
}

// Fail fulfills the future with a terminal error (AuthFailure,
// ChannelClosed, Timeout, ...).
func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.res = Result[T]{Err: err}
		close(f.done)
	})
}

// Wait blocks until the future is completed or ctx is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (Result[T], error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}
}

// Done returns a channel that is closed once the future has been
// completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Peek returns the result without blocking; ok is false if the
// future has not yet been completed.
func (f *Future[T]) Peek() (res Result[T], ok bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result[T]{}, false
	}
}
