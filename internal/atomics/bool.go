// Package atomics holds small lock-free helpers shared across the
// connection, handshake and coordinator packages.
package atomics

import "sync/atomic"

const (
	atomicFalse = int32(iota)
	atomicTrue
)

// Bool is a zero-value-ready atomic boolean, used to guard
// connection/channel up-state without a mutex.
type Bool struct {
	flag int32
}

func (b *Bool) Get() bool {
	return atomic.LoadInt32(&b.flag) == atomicTrue
}

// Swap stores val and returns the previous value.
func (b *Bool) Swap(val bool) bool {
	flag := atomicFalse
	if val {
		flag = atomicTrue
	}
	return atomic.SwapInt32(&b.flag, flag) == atomicTrue
}

func (b *Bool) Set(val bool) {
	flag := atomicFalse
	if val {
		flag = atomicTrue
	}
	atomic.StoreInt32(&b.flag, flag)
}
