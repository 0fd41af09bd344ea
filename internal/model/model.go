// Package model holds the plain data entities shared by the store,
// handshake and coordinator packages: device descriptors, local
// authentication entries, the pending-handshake descriptors, and the
// live post-handshake channel record.
package model

import (
	"sync"
	"time"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// Endpoint is a network address/port pair.
type Endpoint struct {
	Addr string
	Port uint16
}

// DeviceDescriptor is the read-through record the core consumes from
// storage: everything needed to open a channel to a known peer.
type DeviceDescriptor struct {
	DeviceId     ids.DeviceId
	OwnerUserId  ids.UserId
	Role         ids.PeerRole
	CommandEndpt Endpoint
	DataEndpt    Endpoint
	InitEndpt    Endpoint
	PublicKey    []byte
	KeyExchange  ids.KeyExchange
}

// LocalAuthenticationEntry is the per-remote-peer secret the local
// side presents to that peer.
type LocalAuthenticationEntry struct {
	RemoteDeviceId ids.DeviceId
	Password       string
}

// PendingInitSetup describes an expected or already-initiated pairing.
type PendingInitSetup struct {
	TransientId  ids.TransientConnectionId
	Password     string
	RemoteRole   ids.PeerRole
	NewDeviceId  ids.DeviceId
	RemoteEndpt  *Endpoint // set only for the outbound (dial) case
	CreatedAt    time.Time
}

// PendingDataChannel describes a soon-to-be-opened data channel whose
// CEK was already negotiated over the command channel.
type PendingDataChannel struct {
	TransientId ids.TransientConnectionId
	Target      DeviceDescriptor
	CEKKey      []byte
	CEKIv       []byte
	Encrypt     bool
	Compress    bool
	CreatedAt   time.Time
}

// HandshakeState is the per-connection state enum. Transitions are
// monotonic; the only legal regression is to Failed.
type HandshakeState int

const (
	StateInitiated HandshakeState = iota
	StateRequestSent
	StateRequestAcknowledged
	StateResponseReceived
	StateResponseSent
	StateCompleted
	StateFailed
)

func (s HandshakeState) String() string {
	switch s {
	case StateInitiated:
		return "Initiated"
	case StateRequestSent:
		return "RequestSent"
	case StateRequestAcknowledged:
		return "RequestAcknowledged"
	case StateResponseReceived:
		return "ResponseReceived"
	case StateResponseSent:
		return "ResponseSent"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ChannelKind distinguishes command channels from data channels.
type ChannelKind int

const (
	ChannelCommand ChannelKind = iota
	ChannelData
)

// PendingInstruction is an outbound command awaiting its response.
type PendingInstruction struct {
	CommandId ids.CommandId
	Name      string
	Complete  func(payload interface{}, failErr error)
}

// EstablishedChannel is a live command or data channel, promoted from
// a completed handshake. Command channels additionally track
// in-flight requests keyed by CommandId.
type EstablishedChannel struct {
	mu sync.Mutex

	DeviceId     ids.DeviceId
	ConnectionId ids.ConnectionId
	Kind         ChannelKind
	CommandIds   ids.CommandIdAllocator

	pending    map[ids.CommandId]*PendingInstruction
	eventCount uint64
	lastEvent  uint64
}

// NewEstablishedChannel constructs a channel record ready to track
// in-flight command/response pairs.
func NewEstablishedChannel(deviceId ids.DeviceId, connId ids.ConnectionId, kind ChannelKind) *EstablishedChannel {
	return &EstablishedChannel{
		DeviceId:     deviceId,
		ConnectionId: connId,
		Kind:         kind,
		pending:      make(map[ids.CommandId]*PendingInstruction),
	}
}

// TrackPending registers an outbound command awaiting its response.
func (c *EstablishedChannel) TrackPending(p *PendingInstruction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[p.CommandId] = p
}

// TakePending removes and returns the pending instruction for id, if
// any, so its matching response can complete it exactly once.
func (c *EstablishedChannel) TakePending(id ids.CommandId) (*PendingInstruction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	return p, ok
}

// DrainPending removes every still-pending instruction, used during
// teardown to fail them all with a channel-closed error.
func (c *EstablishedChannel) DrainPending() []*PendingInstruction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PendingInstruction, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p)
	}
	c.pending = make(map[ids.CommandId]*PendingInstruction)
	return out
}

// Tick records that at least one event occurred since the previous
// tick, and reports whether the channel was active. Used by the
// inactivity timer: if two successive ticks both report false, the
// channel is torn down.
func (c *EstablishedChannel) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.eventCount != c.lastEvent
	c.lastEvent = c.eventCount
	return active
}

// NoteEvent bumps the activity counter that Tick compares against.
// Nothing in this module outside its tests calls it; the coordinator
// does not report a channel's frames here.
func (c *EstablishedChannel) NoteEvent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventCount++
}
