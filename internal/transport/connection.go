// Package transport implements the duplex framed-byte connection
// primitive and the manager that listens for, and dials, such
// connections. Each Connection delivers three event edges:
// data-received, write-acknowledged and disconnected.
package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/sndnv/syn-server-core/internal/atomics"
	"github.com/sndnv/syn-server-core/internal/events"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
)

const frameChunkSize = 16 * 1024

// DataReceived is the data-received event payload: a fragment of the
// current logical frame, plus how many bytes of that frame remain
// after this fragment.
type DataReceived struct {
	Bytes           []byte
	RemainingInFrame int
}

// WriteAcknowledged reports whether an enqueued send reached the OS
// successfully.
type WriteAcknowledged struct {
	Success bool
}

// Disconnected carries the raw connection id of the Connection that
// closed. Emitted exactly once per Connection.
type Disconnected struct {
	RawId ids.ConnectionId
}

// Connection is a single TCP-backed duplex channel with a
// length-prefixed (4-byte, big-endian) framing convention. Reads are
// delivered on a dedicated goroutine so events for one Connection
// never run concurrently with themselves; different Connections may
// run fully in parallel.
type Connection struct {
	rawId ids.ConnectionId
	conn  net.Conn
	log   logging.Logger

	eventsEnabled atomics.Bool
	closed        atomics.Bool
	closeOnce     sync.Once

	onDataReceived       events.Bus[DataReceived]
	onWriteAcknowledged   events.Bus[WriteAcknowledged]
	onDisconnected        events.Bus[Disconnected]

	writeMu sync.Mutex
}

// NewConnection wraps an already-established net.Conn. The caller
// must call Start once it has subscribed to the events it needs.
func NewConnection(rawId ids.ConnectionId, conn net.Conn, log logging.Logger) *Connection {
	c := &Connection{rawId: rawId, conn: conn, log: log}
	c.eventsEnabled.Set(true)
	return c
}

func (c *Connection) RawId() ids.ConnectionId { return c.rawId }

// OnDataReceived subscribes to inbound frame fragments.
func (c *Connection) OnDataReceived(fn func(DataReceived)) *events.Subscription {
	return c.onDataReceived.Subscribe(fn)
}

// OnWriteAcknowledged subscribes to outbound send completions.
func (c *Connection) OnWriteAcknowledged(fn func(WriteAcknowledged)) *events.Subscription {
	return c.onWriteAcknowledged.Subscribe(fn)
}

// OnDisconnected subscribes to the terminal disconnect event.
func (c *Connection) OnDisconnected(fn func(Disconnected)) *events.Subscription {
	return c.onDisconnected.Subscribe(fn)
}

// EnableEvents resumes delivery of data-received callbacks.
func (c *Connection) EnableEvents() { c.eventsEnabled.Set(true) }

// DisableEvents suppresses data-received callbacks, used during
// handshake state transitions to avoid reentrant interleaving.
func (c *Connection) DisableEvents() { c.eventsEnabled.Set(false) }

// Start launches the read loop. Must be called at most once.
func (c *Connection) Start() {
	go c.readLoop()
}

func (c *Connection) readLoop() {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			c.Disconnect()
			return
		}
		frameLen := binary.BigEndian.Uint32(header)
		remaining := int(frameLen)
		for remaining > 0 {
			chunkSize := remaining
			if chunkSize > frameChunkSize {
				chunkSize = frameChunkSize
			}
			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(c.conn, buf); err != nil {
				c.Disconnect()
				return
			}
			remaining -= chunkSize
			if c.eventsEnabled.Get() {
				c.onDataReceived.Publish(DataReceived{Bytes: buf, RemainingInFrame: remaining})
			}
		}
	}
}

// Send enqueues a length-prefixed frame and returns immediately; the
// write-acknowledged event reports whether it reached the OS.
func (c *Connection) Send(frame []byte) {
	go c.writeFrame(frame)
}

func (c *Connection) writeFrame(frame []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(frame)))

	success := true
	if _, err := c.conn.Write(header); err != nil {
		success = false
	} else if _, err := c.conn.Write(frame); err != nil {
		success = false
	}
	c.onWriteAcknowledged.Publish(WriteAcknowledged{Success: success})
	if !success {
		c.Disconnect()
	}
}

// Disconnect terminates the transport and emits a disconnected event
// exactly once, regardless of how many times it is called.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		c.closed.Set(true)
		_ = c.conn.Close()
		c.onDisconnected.Publish(Disconnected{RawId: c.rawId})
		c.onDataReceived.Clear()
		c.onWriteAcknowledged.Clear()
		c.onDisconnected.Clear()
	})
}

func (c *Connection) IsClosed() bool { return c.closed.Get() }
