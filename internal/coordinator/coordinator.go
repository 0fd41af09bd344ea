// Package coordinator glues the connection managers to the
// handshakes, tracks established channels, routes outbound commands,
// and owns the global shutdown sequence.
package coordinator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sndnv/syn-server-core/internal/atomics"
	"github.com/sndnv/syn-server-core/internal/codec"
	"github.com/sndnv/syn-server-core/internal/cryptosvc"
	"github.com/sndnv/syn-server-core/internal/handshake"
	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
	"github.com/sndnv/syn-server-core/internal/model"
	"github.com/sndnv/syn-server-core/internal/storage"
	"github.com/sndnv/syn-server-core/internal/store"
	"github.com/sndnv/syn-server-core/internal/transport"
)

// ConnectionKind is the handshake flavor expected for a newly created
// connection, decided by which Manager produced it.
type ConnectionKind int

const (
	KindInit ConnectionKind = iota
	KindCommand
	KindData
)

// Timeouts bundles the three timer floors the coordinator arms.
type Timeouts struct {
	Setup      time.Duration
	Inactivity time.Duration
	Discard    time.Duration
}

// LocalEndpoints bundles the three listener addresses this process
// advertises to a newly paired peer during the pairing handshake.
type LocalEndpoints struct {
	Init    model.Endpoint
	Command model.Endpoint
	Data    model.Endpoint
}

// Config bundles everything the coordinator needs beyond its
// collaborators: the local device identity, its private key (PEM, for
// the RSA command-channel flavor), and size/timing limits.
type Config struct {
	LocalDeviceId   ids.DeviceId
	LocalRole       ids.PeerRole
	LocalPrivateKey []byte

	// LocalECDHPrivateKey is this process's own static X25519 private
	// key, matching the public key advertised in its own
	// DeviceDescriptor, used by the ECDH flavor of the command-channel
	// handshake when acting as acceptor.
	LocalECDHPrivateKey []byte

	// LocalKeyExchange and LocalPublicKey are this process's own
	// long-term identity as advertised to a peer during pairing:
	// LocalPublicKey is the RSA PEM or raw X25519 public key matching
	// whichever of LocalPrivateKey/LocalECDHPrivateKey LocalKeyExchange
	// selects.
	LocalKeyExchange ids.KeyExchange
	LocalPublicKey   []byte

	// Endpoints are this process's own advertised listener addresses,
	// sent to a newly paired peer as part of its SetupAdditional.
	Endpoints LocalEndpoints

	MaxDataSize int
	Timeouts    Timeouts

	// InitHandshakeRate caps how many pairing handshakes this process
	// will accept as an acceptor per second; zero disables the limit.
	InitHandshakeRate  float64
	InitHandshakeBurst int

	// DiscardSweepInterval controls how often stale pending-table
	// entries are checked against Timeouts.Discard. Defaults to 10s.
	DiscardSweepInterval time.Duration
}

// Coordinator is the network coordinator of the secure-connection
// subsystem: it owns connection id allocation, dispatch of newly
// created connections to the right handshake, the established-channel
// registry, and the global shutdown sequence.
type Coordinator struct {
	cfg    Config
	log    logging.Logger
	crypto cryptosvc.Service
	codec  *codec.Registry

	devices storage.DeviceStore
	auth    storage.AuthStore

	connIds *ids.ConnectionIdAllocator

	pendingInit    *store.PendingInitTable
	pendingCommand *store.PendingCommandTable
	pendingData    *store.PendingDataTable
	tokens         *store.TokenTable[string]

	mu       sync.Mutex
	channels map[ids.DeviceId]*model.EstablishedChannel

	connsMu sync.Mutex
	conns   map[ids.ConnectionId]*transport.Connection

	queueMu         sync.Mutex
	pendingByDevice map[ids.DeviceId][]*model.PendingInstruction

	initLimiter *rate.Limiter

	sweepStop chan struct{}
	sweepDone chan struct{}

	shutdown atomics.Bool
}

// New constructs a Coordinator ready to have its handshake-dispatch
// wired against one or more transport.Manager instances. The discard
// sweep and, if InitHandshakeRate is set, the accept limiter start
// immediately.
func New(cfg Config, log logging.Logger, crypto cryptosvc.Service, devices storage.DeviceStore, auth storage.AuthStore) *Coordinator {
	registry := codec.NewRegistry()
	codec.RegisterBuiltinCommands(registry)

	if cfg.DiscardSweepInterval == 0 {
		cfg.DiscardSweepInterval = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.InitHandshakeRate > 0 {
		burst := cfg.InitHandshakeBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.InitHandshakeRate), burst)
	}

	c := &Coordinator{
		cfg:             cfg,
		log:             log,
		crypto:          crypto,
		codec:           registry,
		devices:         devices,
		auth:            auth,
		connIds:         &ids.ConnectionIdAllocator{},
		pendingInit:     store.NewPendingInitTable(),
		pendingCommand:  store.NewPendingCommandTable(),
		pendingData:     store.NewPendingDataTable(),
		tokens:          store.NewTokenTable[string](),
		channels:        make(map[ids.DeviceId]*model.EstablishedChannel),
		conns:           make(map[ids.ConnectionId]*transport.Connection),
		pendingByDevice: make(map[ids.DeviceId][]*model.PendingInstruction),
		initLimiter:     limiter,
		sweepStop:       make(chan struct{}),
		sweepDone:       make(chan struct{}),
	}
	go c.runDiscardSweep()
	return c
}

// runDiscardSweep periodically evicts pending-table entries whose
// handshake neither completed nor failed within Timeouts.Discard.
func (c *Coordinator) runDiscardSweep() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.cfg.DiscardSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.sweepStop:
			return
		case now := <-ticker.C:
			if c.cfg.Timeouts.Discard <= 0 {
				continue
			}
			expiredInit := c.pendingInit.DiscardExpired(c.cfg.Timeouts.Discard, now)
			for range expiredInit {
				c.log.Debugf("discarded stale pending init entry")
			}
			if n := c.pendingData.DiscardExpired(c.cfg.Timeouts.Discard, now); n > 0 {
				c.log.Debugf("discarded %d stale pending data entries", n)
			}
		}
	}
}

// ConnectionIds exposes the shared allocator so every transport.Manager
// the caller constructs draws from the same namespace.
func (c *Coordinator) ConnectionIds() *ids.ConnectionIdAllocator { return c.connIds }

func (c *Coordinator) deps() handshake.Deps {
	return handshake.Deps{Crypto: c.crypto, Coordinator: c, Log: c.log, Now: time.Now}
}

// localDescriptor builds the DeviceDescriptor this process advertises
// of itself to a newly paired peer during the pairing handshake.
func (c *Coordinator) localDescriptor() model.DeviceDescriptor {
	return model.DeviceDescriptor{
		DeviceId:     c.cfg.LocalDeviceId,
		Role:         c.cfg.LocalRole,
		CommandEndpt: c.cfg.Endpoints.Command,
		DataEndpt:    c.cfg.Endpoints.Data,
		InitEndpt:    c.cfg.Endpoints.Init,
		PublicKey:    c.cfg.LocalPublicKey,
		KeyExchange:  c.cfg.LocalKeyExchange,
	}
}

// trackConn registers conn under connId so Shutdown and CloseChannel
// can disconnect it later, and self-prunes the entry once the
// connection disconnects for any other reason.
func (c *Coordinator) trackConn(connId ids.ConnectionId, conn *transport.Connection) {
	c.connsMu.Lock()
	c.conns[connId] = conn
	c.connsMu.Unlock()
	conn.OnDisconnected(func(transport.Disconnected) {
		c.connsMu.Lock()
		delete(c.conns, connId)
		c.connsMu.Unlock()
	})
}

// HandleConnectionCreated inspects kind/origin and delegates to the
// matching handshake's local or remote path, arming a setup-timeout
// timer for every handshake it creates.
func (c *Coordinator) HandleConnectionCreated(kind ConnectionKind, ev transport.ConnectionCreated) {
	if c.shutdown.Get() {
		ev.Conn.Disconnect()
		return
	}

	c.trackConn(ev.Conn.RawId(), ev.Conn)

	switch kind {
	case KindInit:
		if ev.Origin == transport.OriginRemote && c.initLimiter != nil && !c.initLimiter.Allow() {
			c.log.Debugf("rejecting pairing handshake on connection %d: accept rate exceeded", ev.Conn.RawId())
			ev.Conn.Disconnect()
			return
		}
		h := handshake.NewInitSetup(c.deps(), ev.Conn, c.pendingInit, c.localDescriptor())
		if ev.Origin == transport.OriginRemote {
			h.ManageRemote()
		}
		c.armSetupTimeout(h.TimeoutIfIncomplete)
	case KindCommand:
		h := handshake.NewCommandChannel(c.deps(), ev.Conn, c.cfg.LocalDeviceId)
		if ev.Origin == transport.OriginRemote {
			h.ManageRemote(c.cfg.LocalPrivateKey, c.cfg.LocalECDHPrivateKey)
		}
		c.armSetupTimeout(h.TimeoutIfIncomplete)
	case KindData:
		h := handshake.NewDataChannel(c.deps(), ev.Conn, c.pendingData, c.cfg.LocalDeviceId, c.cfg.MaxDataSize)
		if ev.Origin == transport.OriginRemote {
			h.ManageRemote()
		}
		c.armSetupTimeout(h.TimeoutIfIncomplete)
	}
}

// armSetupTimeout schedules fn to run once Timeouts.Setup elapses; fn
// is expected to be idempotent against an already-terminal handshake
// (every TimeoutIfIncomplete implementation is).
func (c *Coordinator) armSetupTimeout(fn func()) {
	if c.cfg.Timeouts.Setup <= 0 {
		return
	}
	time.AfterFunc(c.cfg.Timeouts.Setup, fn)
}

// DeviceDescriptor implements handshake.Coordinator.
func (c *Coordinator) DeviceDescriptor(ctx context.Context, id ids.DeviceId) (model.DeviceDescriptor, error) {
	return c.devices.Get(ctx, id)
}

// UpdateDeviceDescriptor implements handshake.Coordinator.
func (c *Coordinator) UpdateDeviceDescriptor(ctx context.Context, d model.DeviceDescriptor) error {
	return c.devices.Put(ctx, d)
}

// AuthEntry implements handshake.Coordinator.
func (c *Coordinator) AuthEntry(ctx context.Context, remote ids.DeviceId) (model.LocalAuthenticationEntry, error) {
	return c.auth.Get(ctx, remote)
}

// UpdateAuthEntry implements handshake.Coordinator.
func (c *Coordinator) UpdateAuthEntry(ctx context.Context, e model.LocalAuthenticationEntry) error {
	return c.auth.Put(ctx, e)
}

// EmitEstablished implements handshake.Coordinator: registers the new
// EstablishedChannel, rejecting (and tearing down) a duplicate for a
// device that already has one.
func (c *Coordinator) EmitEstablished(connId ids.ConnectionId, deviceId ids.DeviceId, transient *ids.TransientConnectionId) {
	c.mu.Lock()
	if _, exists := c.channels[deviceId]; exists {
		c.mu.Unlock()
		c.log.Errorf("duplicate established channel for device %s rejected", deviceId)
		return
	}
	channel := model.NewEstablishedChannel(deviceId, connId, model.ChannelCommand)
	c.channels[deviceId] = channel
	c.mu.Unlock()

	c.flushPendingQueue(deviceId, channel)
	if c.cfg.Timeouts.Inactivity > 0 {
		go c.watchInactivity(deviceId, channel)
	}
}

// watchInactivity ticks channel every Timeouts.Inactivity and closes it
// once two consecutive ticks observe no activity. It exits as soon as
// channel is no longer the registered channel for deviceId (it was
// closed, superseded, or the coordinator shut down).
func (c *Coordinator) watchInactivity(deviceId ids.DeviceId, channel *model.EstablishedChannel) {
	ticker := time.NewTicker(c.cfg.Timeouts.Inactivity)
	defer ticker.Stop()
	idleTicks := 0
	for range ticker.C {
		c.mu.Lock()
		current, ok := c.channels[deviceId]
		c.mu.Unlock()
		if !ok || current != channel {
			return
		}
		if channel.Tick() {
			idleTicks = 0
			continue
		}
		idleTicks++
		if idleTicks >= 2 {
			c.log.Debugf("closing inactive channel for device %s", deviceId)
			c.CloseChannel(deviceId)
			return
		}
	}
}

// EmitFailed implements handshake.Coordinator.
func (c *Coordinator) EmitFailed(connId ids.ConnectionId, transient *ids.TransientConnectionId, cause error) {
	c.log.Debugf("handshake failed on connection %d: %v (kind=%s)", connId, cause, herrors.ClassifyOf(cause))
}

// EnqueueOrDial implements the coordinator's outbound-instruction
// policy: if device already has an established channel, the
// instruction is tracked there directly; otherwise it is queued and a
// dial is the caller's responsibility (the Config's private key and
// timeouts decide whether a handshake is even attempted).
func (c *Coordinator) EnqueueOrDial(deviceId ids.DeviceId, instr *model.PendingInstruction) (establishedNow bool) {
	c.mu.Lock()
	channel, ok := c.channels[deviceId]
	c.mu.Unlock()
	if ok {
		channel.TrackPending(instr)
		return true
	}

	c.queueMu.Lock()
	c.pendingByDevice[deviceId] = append(c.pendingByDevice[deviceId], instr)
	c.queueMu.Unlock()
	return false
}

func (c *Coordinator) flushPendingQueue(deviceId ids.DeviceId, channel *model.EstablishedChannel) {
	c.queueMu.Lock()
	queue := c.pendingByDevice[deviceId]
	delete(c.pendingByDevice, deviceId)
	c.queueMu.Unlock()

	for _, instr := range queue {
		channel.TrackPending(instr)
	}
}

// CloseChannel removes the established channel for deviceId (if any)
// and completes any still-pending instructions on it with
// ChannelClosed, implementing the established_channel_closed policy.
func (c *Coordinator) CloseChannel(deviceId ids.DeviceId) {
	c.mu.Lock()
	channel, ok := c.channels[deviceId]
	if ok {
		delete(c.channels, deviceId)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range channel.DrainPending() {
		p.Complete(nil, herrors.ErrChannelClosed)
	}
	c.disconnectTracked(channel.ConnectionId)
}

// disconnectTracked disconnects and unregisters the tracked connection
// for connId, if any is still tracked. Disconnect is idempotent, so
// this is safe even if the connection already tore itself down.
func (c *Coordinator) disconnectTracked(connId ids.ConnectionId) {
	c.connsMu.Lock()
	conn, ok := c.conns[connId]
	delete(c.conns, connId)
	c.connsMu.Unlock()
	if ok {
		conn.Disconnect()
	}
}

// Codec exposes the shared command registry, used by callers encoding
// outbound commands or decoding inbound frames.
func (c *Coordinator) Codec() *codec.Registry { return c.codec }

// Shutdown implements the coordinator's cancellation sequence: marks
// the shutdown flag, stops the discard sweep, disconnects every
// Connection still tracked (established channels and in-flight
// handshakes alike), drains every pending queue, and clears the three
// tables.
func (c *Coordinator) Shutdown() {
	c.shutdown.Set(true)
	close(c.sweepStop)
	<-c.sweepDone

	c.mu.Lock()
	channels := make([]*model.EstablishedChannel, 0, len(c.channels))
	for _, ch := range c.channels {
		channels = append(channels, ch)
	}
	c.channels = make(map[ids.DeviceId]*model.EstablishedChannel)
	c.mu.Unlock()

	for _, ch := range channels {
		for _, p := range ch.DrainPending() {
			p.Complete(nil, herrors.ErrChannelClosed)
		}
	}

	c.connsMu.Lock()
	conns := make([]*transport.Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[ids.ConnectionId]*transport.Connection)
	c.connsMu.Unlock()

	for _, conn := range conns {
		conn.Disconnect()
	}

	c.queueMu.Lock()
	for device, queue := range c.pendingByDevice {
		for _, p := range queue {
			p.Complete(nil, herrors.ErrChannelClosed)
		}
		delete(c.pendingByDevice, device)
	}
	c.queueMu.Unlock()

	c.pendingInit.Clear()
	c.pendingCommand.Clear()
	c.pendingData.Clear()
	c.tokens.Clear()
}
