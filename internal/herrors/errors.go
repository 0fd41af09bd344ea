// Package herrors is the shared error taxonomy used across the
// handshake, store, codec, cryptosvc and coordinator packages. Each kind is
// a sentinel wrapped with errors.Is-compatible detail via fmt.Errorf's
// %w verb, so callers switch on kind rather than on message text.
package herrors

import "errors"

var (
	// ErrDecode marks a malformed or truncated wire message.
	ErrDecode = errors.New("decode error")
	// ErrAuth marks an AEAD authentication failure, signature
	// mismatch, or password mismatch.
	ErrAuth = errors.New("authentication failure")
	// ErrProtocol marks a legally encoded message that is illegal in
	// the handshake's current state.
	ErrProtocol = errors.New("protocol error")
	// ErrLookupMiss marks a missing pending descriptor or established
	// channel for an incoming message.
	ErrLookupMiss = errors.New("lookup miss")
	// ErrChannelClosed marks a channel that was torn down, either by
	// the peer or locally.
	ErrChannelClosed = errors.New("channel closed")
	// ErrConfig marks an unrecognized cipher/mode/key-exchange value.
	ErrConfig = errors.New("config error")
	// ErrResourceExceeded marks a message larger than the configured
	// maximum.
	ErrResourceExceeded = errors.New("resource exceeded")
	// ErrTimeout marks a setup or inactivity timer expiry.
	ErrTimeout = errors.New("timeout")
)

// Kind classifies an error returned by the handshake/store/coordinator
// packages into one of the eight propagation-policy buckets.
type Kind int

const (
	KindUnknown Kind = iota
	KindDecode
	KindAuth
	KindProtocol
	KindLookupMiss
	KindChannelClosed
	KindConfig
	KindResourceExceeded
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "DecodeError"
	case KindAuth:
		return "AuthFailure"
	case KindProtocol:
		return "ProtocolError"
	case KindLookupMiss:
		return "LookupMiss"
	case KindChannelClosed:
		return "ChannelClosed"
	case KindConfig:
		return "ConfigError"
	case KindResourceExceeded:
		return "ResourceExceeded"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// ClassifyOf maps err to its Kind by walking the sentinel chain with
// errors.Is. Returns KindUnknown if err matches none of the sentinels.
func ClassifyOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrLookupMiss):
		return KindLookupMiss
	case errors.Is(err, ErrChannelClosed):
		return KindChannelClosed
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrResourceExceeded):
		return KindResourceExceeded
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindUnknown
	}
}
