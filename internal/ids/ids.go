// Package ids defines the identifier and small enumeration types
// shared by the handshake, store and coordinator packages.
// DeviceId/UserId are fixed-size comparable values with Equals/IsZero
// helpers, backed by a 128-bit UUID via github.com/google/uuid.
package ids

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// DeviceId is the opaque 128-bit identifier of a paired peer device.
type DeviceId uuid.UUID

// UserId is the opaque 128-bit identifier of the device's owning user.
type UserId uuid.UUID

func NewDeviceId() DeviceId { return DeviceId(uuid.New()) }
func NewUserId() UserId     { return UserId(uuid.New()) }

func (d DeviceId) IsZero() bool       { return d == DeviceId{} }
func (d DeviceId) Equals(o DeviceId) bool { return d == o }
func (d DeviceId) String() string     { return uuid.UUID(d).String() }

func (u UserId) IsZero() bool       { return u == UserId{} }
func (u UserId) Equals(o UserId) bool { return u == o }
func (u UserId) String() string     { return uuid.UUID(u).String() }

func DeviceIdFromString(s string) (DeviceId, error) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return DeviceId{}, err
	}
	return DeviceId(parsed), nil
}

// TransientConnectionId is the short-lived scalar the two peers agree
// on for the duration of a single handshake (init or data). It never
// outlives the pending-descriptor it is attached to.
type TransientConnectionId uint64

// CommandId is monotonic per command channel, used to correlate an
// outbound request with its eventual response.
type CommandId uint64

// ConnectionId is a process-lifetime-unique handle assigned at
// accept/connect time. It never crosses the wire, so a plain
// monotonic counter is sufficient — unlike an identifier two peers
// exchange and must resist guessing, which would need randomness.
type ConnectionId uint64

// ConnectionIdAllocator hands out locally-unique ConnectionIds.
type ConnectionIdAllocator struct {
	next uint64
}

func (a *ConnectionIdAllocator) Next() ConnectionId {
	return ConnectionId(atomic.AddUint64(&a.next, 1))
}

// CommandIdAllocator hands out monotonic CommandIds for one command
// channel; each EstablishedChannel owns exactly one.
type CommandIdAllocator struct {
	next uint64
}

func (a *CommandIdAllocator) Next() CommandId {
	return CommandId(atomic.AddUint64(&a.next, 1))
}

// PeerRole is the role a remote device plays, as recorded on its
// DeviceDescriptor.
type PeerRole int

const (
	RoleClient PeerRole = iota
	RoleServer
)

func (r PeerRole) String() string {
	if r == RoleServer {
		return "SERVER"
	}
	return "CLIENT"
}

// CipherKind enumerates the symmetric block ciphers the CryptoService
// facade can bind a handler to.
type CipherKind int

const (
	CipherAES CipherKind = iota
	CipherTwofish
	CipherSerpent
)

func (c CipherKind) String() string {
	switch c {
	case CipherAES:
		return "AES"
	case CipherTwofish:
		return "TWOFISH"
	case CipherSerpent:
		return "SERPENT"
	default:
		return "UNKNOWN"
	}
}

// CipherMode enumerates the AEAD modes of operation.
type CipherMode int

const (
	ModeGCM CipherMode = iota
	ModeCCM
	ModeEAX
)

func (m CipherMode) String() string {
	switch m {
	case ModeGCM:
		return "GCM"
	case ModeCCM:
		return "CCM"
	case ModeEAX:
		return "EAX"
	default:
		return "UNKNOWN"
	}
}

// KeyExchange enumerates how a command-channel handshake establishes
// its CEK.
type KeyExchange int

const (
	KeyExchangeRSA KeyExchange = iota
	KeyExchangeECDH
)

func (k KeyExchange) String() string {
	if k == KeyExchangeECDH {
		return "ECDH"
	}
	return "RSA"
}
