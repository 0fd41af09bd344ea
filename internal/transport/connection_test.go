package transport

import (
	"net"
	"testing"
	"time"

	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
)

func newPipePair(t *testing.T) (*Connection, *Connection) {
	t.Helper()
	a, b := net.Pipe()
	log := logging.NewNop()
	connA := NewConnection(ids.ConnectionId(1), a, log)
	connB := NewConnection(ids.ConnectionId(2), b, log)
	connA.Start()
	connB.Start()
	return connA, connB
}

func TestConnectionSendDeliversWholeFrame(t *testing.T) {
	connA, connB := newPipePair(t)
	defer connA.Disconnect()
	defer connB.Disconnect()

	received := make(chan []byte, 1)
	var buf []byte
	connB.OnDataReceived(func(ev DataReceived) {
		buf = append(buf, ev.Bytes...)
		if ev.RemainingInFrame == 0 {
			received <- buf
		}
	})

	payload := []byte("a length-prefixed frame payload")
	connA.Send(payload)

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("expected %q, got %q", payload, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame delivery")
	}
}

func TestConnectionWriteAcknowledgedReportsSuccess(t *testing.T) {
	connA, connB := newPipePair(t)
	defer connA.Disconnect()
	defer connB.Disconnect()

	connB.OnDataReceived(func(transport DataReceived) {})

	acked := make(chan bool, 1)
	connA.OnWriteAcknowledged(func(ev WriteAcknowledged) {
		acked <- ev.Success
	})

	connA.Send([]byte("ping"))

	select {
	case success := <-acked:
		if !success {
			t.Fatal("expected write to be acknowledged as successful")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write-acknowledged event")
	}
}

func TestConnectionDisconnectIsIdempotentAndNotifiesOnce(t *testing.T) {
	connA, connB := newPipePair(t)
	defer connB.Disconnect()

	count := 0
	done := make(chan struct{})
	connA.OnDisconnected(func(Disconnected) {
		count++
		close(done)
	})

	connA.Disconnect()
	connA.Disconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnected event")
	}
	time.Sleep(20 * time.Millisecond)
	if count != 1 {
		t.Fatalf("expected exactly one disconnected event, got %d", count)
	}
	if !connA.IsClosed() {
		t.Fatal("expected connection to report closed")
	}
}

func TestConnectionDisableEventsSuppressesDataReceived(t *testing.T) {
	connA, connB := newPipePair(t)
	defer connA.Disconnect()
	defer connB.Disconnect()

	var deliveries int
	connB.OnDataReceived(func(DataReceived) { deliveries++ })
	connB.DisableEvents()

	connA.Send([]byte("suppressed"))
	time.Sleep(100 * time.Millisecond)

	if deliveries != 0 {
		t.Fatalf("expected no deliveries while disabled, got %d", deliveries)
	}
}
