package transport

import (
	"fmt"
	"net"

	"golang.org/x/net/netutil"

	"github.com/sndnv/syn-server-core/internal/events"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
)

// Origin distinguishes a locally-dialed connection from one accepted
// from a listener.
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// ConnectionCreated is published for every accepted or dialed
// connection, before any handshake runs against it.
type ConnectionCreated struct {
	Conn   *Connection
	Origin Origin
}

// InitiationFailed is published when a dial cannot establish.
type InitiationFailed struct {
	Addr string
	Port uint16
	Err  error
}

// Manager owns one listening endpoint and the set of outbound dial
// attempts. It never interprets the bytes flowing over a Connection;
// that is the coordinator's job.
type Manager struct {
	log       logging.Logger
	allocator *ids.ConnectionIdAllocator
	listener  net.Listener

	// maxConnections caps simultaneously open connections accepted by
	// this listener, via LimitConnections. Zero means unlimited.
	maxConnections int

	onConnectionCreated events.Bus[ConnectionCreated]
	onInitiationFailed  events.Bus[InitiationFailed]
}

// NewManager constructs a Manager backed by a shared ConnectionId
// allocator (the coordinator typically owns one allocator per
// process, shared across init/command/data managers).
func NewManager(allocator *ids.ConnectionIdAllocator, log logging.Logger) *Manager {
	return &Manager{allocator: allocator, log: log}
}

func (m *Manager) OnConnectionCreated(fn func(ConnectionCreated)) *events.Subscription {
	return m.onConnectionCreated.Subscribe(fn)
}

func (m *Manager) OnInitiationFailed(fn func(InitiationFailed)) *events.Subscription {
	return m.onInitiationFailed.Subscribe(fn)
}

// LimitConnections caps the number of simultaneously open connections
// this Manager's listener will accept; n<=0 disables the cap. Must be
// called before Start.
func (m *Manager) LimitConnections(n int) {
	m.maxConnections = n
}

// Start begins listening on addr:port and accepting connections in
// the background. When LimitConnections was called with a positive
// value, the listener is wrapped with golang.org/x/net/netutil so
// Accept blocks once that many connections are open, rather than the
// acceptor spinning connections the coordinator will just disconnect.
func (m *Manager) Start(addr string, port uint16) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return err
	}
	if m.maxConnections > 0 {
		listener = netutil.LimitListener(listener, m.maxConnections)
	}
	m.listener = listener
	go m.acceptLoop()
	return nil
}

func (m *Manager) acceptLoop() {
	for {
		raw, err := m.listener.Accept()
		if err != nil {
			return
		}
		rawId := m.allocator.Next()
		conn := NewConnection(rawId, raw, m.log)
		conn.Start()
		m.onConnectionCreated.Publish(ConnectionCreated{Conn: conn, Origin: OriginRemote})
	}
}

// Dial initiates an outbound TCP connection. A failure publishes
// InitiationFailed rather than returning an error, since dialing
// happens off the caller's goroutine to avoid blocking it on network
// I/O.
func (m *Manager) Dial(remoteAddr string, remotePort uint16) {
	go func() {
		raw, err := net.Dial("tcp", fmt.Sprintf("%s:%d", remoteAddr, remotePort))
		if err != nil {
			m.onInitiationFailed.Publish(InitiationFailed{Addr: remoteAddr, Port: remotePort, Err: err})
			return
		}
		rawId := m.allocator.Next()
		conn := NewConnection(rawId, raw, m.log)
		conn.Start()
		m.onConnectionCreated.Publish(ConnectionCreated{Conn: conn, Origin: OriginLocal})
	}()
}

// Stop closes the listener, if any. In-flight connections are
// unaffected; the coordinator disconnects those explicitly during
// shutdown.
func (m *Manager) Stop() error {
	if m.listener == nil {
		return nil
	}
	return m.listener.Close()
}
