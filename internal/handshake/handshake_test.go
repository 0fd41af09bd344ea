package handshake

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sndnv/syn-server-core/internal/cryptosvc"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/logging"
	"github.com/sndnv/syn-server-core/internal/model"
	"github.com/sndnv/syn-server-core/internal/storage"
	"github.com/sndnv/syn-server-core/internal/store"
	"github.com/sndnv/syn-server-core/internal/transport"
)

// fakeCoordinator is a minimal handshake.Coordinator backed by the
// in-memory storage implementations, with completion reported over
// buffered channels instead of a real channel registry.
type fakeCoordinator struct {
	devices *storage.MemoryDeviceStore
	auth    *storage.MemoryAuthStore

	mu        sync.Mutex
	established []establishedCall
	failed      []failedCall
	establishedSignal chan struct{}
	failedSignal      chan struct{}
}

type establishedCall struct {
	connId   ids.ConnectionId
	deviceId ids.DeviceId
}

type failedCall struct {
	connId ids.ConnectionId
	cause  error
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		devices:           storage.NewMemoryDeviceStore(),
		auth:              storage.NewMemoryAuthStore(),
		establishedSignal: make(chan struct{}, 16),
		failedSignal:      make(chan struct{}, 16),
	}
}

func (f *fakeCoordinator) DeviceDescriptor(ctx context.Context, id ids.DeviceId) (model.DeviceDescriptor, error) {
	return f.devices.Get(ctx, id)
}

func (f *fakeCoordinator) UpdateDeviceDescriptor(ctx context.Context, d model.DeviceDescriptor) error {
	return f.devices.Put(ctx, d)
}

func (f *fakeCoordinator) AuthEntry(ctx context.Context, remote ids.DeviceId) (model.LocalAuthenticationEntry, error) {
	return f.auth.Get(ctx, remote)
}

func (f *fakeCoordinator) UpdateAuthEntry(ctx context.Context, e model.LocalAuthenticationEntry) error {
	return f.auth.Put(ctx, e)
}

func (f *fakeCoordinator) EmitEstablished(connId ids.ConnectionId, deviceId ids.DeviceId, transient *ids.TransientConnectionId) {
	f.mu.Lock()
	f.established = append(f.established, establishedCall{connId: connId, deviceId: deviceId})
	f.mu.Unlock()
	f.establishedSignal <- struct{}{}
}

func (f *fakeCoordinator) EmitFailed(connId ids.ConnectionId, transient *ids.TransientConnectionId, cause error) {
	f.mu.Lock()
	f.failed = append(f.failed, failedCall{connId: connId, cause: cause})
	f.mu.Unlock()
	f.failedSignal <- struct{}{}
}

func newPipeConnections(t *testing.T) (*transport.Connection, *transport.Connection) {
	t.Helper()
	a, b := net.Pipe()
	log := logging.NewNop()
	connA := transport.NewConnection(ids.ConnectionId(1), a, log)
	connB := transport.NewConnection(ids.ConnectionId(2), b, log)
	connA.Start()
	connB.Start()
	return connA, connB
}

func waitOrTimeout(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestInitSetupPairingClientAndServerBothComplete(t *testing.T) {
	coordClient := newFakeCoordinator()
	coordServer := newFakeCoordinator()

	connClient, connServer := newPipeConnections(t)

	depsClient := Deps{Crypto: cryptosvc.NewService(), Coordinator: coordClient, Log: logging.NewNop(), Now: time.Now}
	depsServer := Deps{Crypto: cryptosvc.NewService(), Coordinator: coordServer, Log: logging.NewNop(), Now: time.Now}

	newDeviceId := ids.NewDeviceId()
	localClientId := ids.NewDeviceId()

	pendingServer := store.NewPendingInitTable()
	pendingServer.Add(&model.PendingInitSetup{
		TransientId: 99,
		Password:    "shared-pairing-secret",
		RemoteRole:  ids.RoleClient,
		NewDeviceId: newDeviceId,
		CreatedAt:   time.Now(),
	})

	localServerId := ids.NewDeviceId()

	clientLocal := model.DeviceDescriptor{
		DeviceId:     localClientId,
		Role:         ids.RoleClient,
		PublicKey:    []byte("client-public-key"),
		KeyExchange:  ids.KeyExchangeECDH,
		CommandEndpt: model.Endpoint{Addr: "10.0.0.1", Port: 7001},
		DataEndpt:    model.Endpoint{Addr: "10.0.0.1", Port: 7002},
		InitEndpt:    model.Endpoint{Addr: "10.0.0.1", Port: 7000},
	}
	serverLocal := model.DeviceDescriptor{
		DeviceId:     localServerId,
		Role:         ids.RoleServer,
		PublicKey:    []byte("server-public-key"),
		KeyExchange:  ids.KeyExchangeECDH,
		CommandEndpt: model.Endpoint{Addr: "10.0.0.2", Port: 8001},
		DataEndpt:    model.Endpoint{Addr: "10.0.0.2", Port: 8002},
		InitEndpt:    model.Endpoint{Addr: "10.0.0.2", Port: 8000},
	}

	clientHandshake := NewInitSetup(depsClient, connClient, store.NewPendingInitTable(), clientLocal)
	serverHandshake := NewInitSetup(depsServer, connServer, pendingServer, serverLocal)

	serverHandshake.ManageRemote()

	entry := &model.PendingInitSetup{
		TransientId: 99,
		Password:    "shared-pairing-secret",
		RemoteRole:  ids.RoleServer,
		NewDeviceId: newDeviceId,
		CreatedAt:   time.Now(),
	}
	if err := clientHandshake.ManageLocal(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error from ManageLocal: %v", err)
	}

	waitOrTimeout(t, coordClient.establishedSignal, "client-side established event")
	waitOrTimeout(t, coordServer.establishedSignal, "server-side established event")

	if clientHandshake.State() != model.StateCompleted {
		t.Fatalf("expected client handshake completed, got %s", clientHandshake.State())
	}
	if serverHandshake.State() != model.StateCompleted {
		t.Fatalf("expected server handshake completed, got %s", serverHandshake.State())
	}

	serverSeenOfClient, err := coordServer.devices.Get(context.Background(), newDeviceId)
	if err != nil {
		t.Fatalf("expected server to have stored the client's descriptor: %v", err)
	}
	if string(serverSeenOfClient.PublicKey) != string(clientLocal.PublicKey) ||
		serverSeenOfClient.KeyExchange != clientLocal.KeyExchange ||
		serverSeenOfClient.CommandEndpt != clientLocal.CommandEndpt ||
		serverSeenOfClient.DataEndpt != clientLocal.DataEndpt ||
		serverSeenOfClient.InitEndpt != clientLocal.InitEndpt {
		t.Fatalf("expected server-stored descriptor to match client's advertised identity, got %+v", serverSeenOfClient)
	}

	clientSeenOfServer, err := coordClient.devices.Get(context.Background(), newDeviceId)
	if err != nil {
		t.Fatalf("expected client to have stored the server's descriptor: %v", err)
	}
	if string(clientSeenOfServer.PublicKey) != string(serverLocal.PublicKey) ||
		clientSeenOfServer.KeyExchange != serverLocal.KeyExchange ||
		clientSeenOfServer.CommandEndpt != serverLocal.CommandEndpt ||
		clientSeenOfServer.DataEndpt != serverLocal.DataEndpt ||
		clientSeenOfServer.InitEndpt != serverLocal.InitEndpt {
		t.Fatalf("expected client-stored descriptor to match server's advertised identity, got %+v", clientSeenOfServer)
	}
}

func TestInitSetupTimeoutIfIncompleteFailsLiveHandshake(t *testing.T) {
	coord := newFakeCoordinator()
	connA, connB := newPipeConnections(t)
	defer connB.Disconnect()

	deps := Deps{Crypto: cryptosvc.NewService(), Coordinator: coord, Log: logging.NewNop(), Now: time.Now}
	h := NewInitSetup(deps, connA, store.NewPendingInitTable(), model.DeviceDescriptor{DeviceId: ids.NewDeviceId(), Role: ids.RoleClient})
	h.ManageRemote()

	h.TimeoutIfIncomplete()
	waitOrTimeout(t, coord.failedSignal, "timeout failure event")
	if h.State() != model.StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
}

func TestInitSetupTimeoutIfIncompleteIsNoOpOnceFailed(t *testing.T) {
	coord := newFakeCoordinator()
	connA, connB := newPipeConnections(t)
	defer connA.Disconnect()
	defer connB.Disconnect()

	deps := Deps{Crypto: cryptosvc.NewService(), Coordinator: coord, Log: logging.NewNop(), Now: time.Now}
	h := NewInitSetup(deps, connA, store.NewPendingInitTable(), model.DeviceDescriptor{DeviceId: ids.NewDeviceId(), Role: ids.RoleClient})
	h.ManageRemote()

	// force into a terminal state directly without running a full handshake
	h.TimeoutIfIncomplete()
	waitOrTimeout(t, coord.failedSignal, "first timeout failure")

	h.TimeoutIfIncomplete()
	select {
	case <-coord.failedSignal:
		t.Fatal("expected no second EmitFailed call for an already-failed handshake")
	case <-time.After(200 * time.Millisecond):
	}
}

func generateRSAKeyPairPEM(t *testing.T) (privatePEM, publicPEM []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("unexpected error generating RSA key: %v", err)
	}
	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privatePEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("unexpected error marshaling public key: %v", err)
	}
	publicPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return privatePEM, publicPEM
}

func TestCommandChannelRSAHandshakeCompletes(t *testing.T) {
	crypto := cryptosvc.NewService()
	coordInitiator := newFakeCoordinator()
	coordAcceptor := newFakeCoordinator()

	acceptorPrivatePEM, acceptorPublicPEM := generateRSAKeyPairPEM(t)
	initiatorPrivatePEM, initiatorPublicPEM := generateRSAKeyPairPEM(t)
	initiatorId := ids.NewDeviceId()
	acceptorId := ids.NewDeviceId()

	acceptorDescriptorAsSeenByInitiator := model.DeviceDescriptor{
		DeviceId:    acceptorId,
		Role:        ids.RoleServer,
		PublicKey:   acceptorPublicPEM,
		KeyExchange: ids.KeyExchangeRSA,
	}
	coordInitiator.devices.Put(context.Background(), acceptorDescriptorAsSeenByInitiator)

	initiatorDescriptorAsSeenByAcceptor := model.DeviceDescriptor{
		DeviceId:    initiatorId,
		Role:        ids.RoleClient,
		PublicKey:   initiatorPublicPEM,
		KeyExchange: ids.KeyExchangeRSA,
	}
	coordAcceptor.devices.Put(context.Background(), initiatorDescriptorAsSeenByAcceptor)
	coordAcceptor.auth.Put(context.Background(), model.LocalAuthenticationEntry{RemoteDeviceId: initiatorId, Password: "paired-secret"})
	coordInitiator.auth.Put(context.Background(), model.LocalAuthenticationEntry{RemoteDeviceId: acceptorId, Password: "paired-secret"})

	connInitiator, connAcceptor := newPipeConnections(t)

	depsInitiator := Deps{Crypto: crypto, Coordinator: coordInitiator, Log: logging.NewNop(), Now: time.Now}
	depsAcceptor := Deps{Crypto: crypto, Coordinator: coordAcceptor, Log: logging.NewNop(), Now: time.Now}

	initiator := NewCommandChannel(depsInitiator, connInitiator, initiatorId)
	acceptor := NewCommandChannel(depsAcceptor, connAcceptor, acceptorId)

	acceptor.ManageRemote(acceptorPrivatePEM, nil)
	if err := initiator.ManageLocal(context.Background(), acceptorDescriptorAsSeenByInitiator, initiatorPrivatePEM); err != nil {
		t.Fatalf("unexpected error from ManageLocal: %v", err)
	}

	waitOrTimeout(t, coordInitiator.establishedSignal, "initiator established event")
	waitOrTimeout(t, coordAcceptor.establishedSignal, "acceptor established event")

	if initiator.CEK() == nil || acceptor.CEK() == nil {
		t.Fatal("expected both sides to have bound a CEK")
	}

	ciphertext, err := initiator.CEK().Encrypt([]byte("post-handshake"), nil)
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	plain, err := acceptor.CEK().Decrypt(ciphertext, nil)
	if err != nil {
		t.Fatalf("unexpected decrypt error: %v", err)
	}
	if string(plain) != "post-handshake" {
		t.Fatalf("expected matching CEK across both sides, got %q", plain)
	}
}

func TestCommandChannelECDHHandshakeCompletes(t *testing.T) {
	crypto := cryptosvc.NewService()
	coordInitiator := newFakeCoordinator()
	coordAcceptor := newFakeCoordinator()

	acceptorStaticPriv, acceptorStaticPub, err := crypto.NewECDHKeyPair()
	if err != nil {
		t.Fatalf("unexpected error generating ECDH key pair: %v", err)
	}
	initiatorId := ids.NewDeviceId()
	acceptorId := ids.NewDeviceId()

	acceptorDescriptorAsSeenByInitiator := model.DeviceDescriptor{
		DeviceId:    acceptorId,
		Role:        ids.RoleServer,
		PublicKey:   acceptorStaticPub,
		KeyExchange: ids.KeyExchangeECDH,
	}
	coordInitiator.devices.Put(context.Background(), acceptorDescriptorAsSeenByInitiator)
	coordAcceptor.devices.Put(context.Background(), model.DeviceDescriptor{DeviceId: initiatorId, Role: ids.RoleClient, KeyExchange: ids.KeyExchangeECDH})
	coordAcceptor.auth.Put(context.Background(), model.LocalAuthenticationEntry{RemoteDeviceId: initiatorId, Password: "paired-secret"})
	coordInitiator.auth.Put(context.Background(), model.LocalAuthenticationEntry{RemoteDeviceId: acceptorId, Password: "paired-secret"})

	connInitiator, connAcceptor := newPipeConnections(t)

	depsInitiator := Deps{Crypto: crypto, Coordinator: coordInitiator, Log: logging.NewNop(), Now: time.Now}
	depsAcceptor := Deps{Crypto: crypto, Coordinator: coordAcceptor, Log: logging.NewNop(), Now: time.Now}

	initiator := NewCommandChannel(depsInitiator, connInitiator, initiatorId)
	acceptor := NewCommandChannel(depsAcceptor, connAcceptor, acceptorId)

	acceptor.ManageRemote(nil, acceptorStaticPriv)
	if err := initiator.ManageLocal(context.Background(), acceptorDescriptorAsSeenByInitiator, nil); err != nil {
		t.Fatalf("unexpected error from ManageLocal: %v", err)
	}

	waitOrTimeout(t, coordInitiator.establishedSignal, "initiator established event")
	waitOrTimeout(t, coordAcceptor.establishedSignal, "acceptor established event")

	ciphertext, err := initiator.CEK().Encrypt([]byte("ecdh-post-handshake"), nil)
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	plain, err := acceptor.CEK().Decrypt(ciphertext, nil)
	if err != nil {
		t.Fatalf("unexpected decrypt error: %v", err)
	}
	if string(plain) != "ecdh-post-handshake" {
		t.Fatalf("expected matching CEK across both sides, got %q", plain)
	}
}

func TestCommandChannelFailsOnPasswordMismatch(t *testing.T) {
	crypto := cryptosvc.NewService()
	coordInitiator := newFakeCoordinator()
	coordAcceptor := newFakeCoordinator()

	acceptorPrivatePEM, acceptorPublicPEM := generateRSAKeyPairPEM(t)
	initiatorPrivatePEM, initiatorPublicPEM := generateRSAKeyPairPEM(t)
	initiatorId := ids.NewDeviceId()
	acceptorId := ids.NewDeviceId()

	acceptorDescriptorAsSeenByInitiator := model.DeviceDescriptor{
		DeviceId:    acceptorId,
		Role:        ids.RoleServer,
		PublicKey:   acceptorPublicPEM,
		KeyExchange: ids.KeyExchangeRSA,
	}
	coordInitiator.devices.Put(context.Background(), acceptorDescriptorAsSeenByInitiator)

	initiatorDescriptorAsSeenByAcceptor := model.DeviceDescriptor{
		DeviceId:    initiatorId,
		Role:        ids.RoleClient,
		PublicKey:   initiatorPublicPEM,
		KeyExchange: ids.KeyExchangeRSA,
	}
	coordAcceptor.devices.Put(context.Background(), initiatorDescriptorAsSeenByAcceptor)
	coordAcceptor.auth.Put(context.Background(), model.LocalAuthenticationEntry{RemoteDeviceId: initiatorId, Password: "paired-secret"})
	// Initiator's own record of the acceptor's password has drifted from
	// what the acceptor actually presents in its response.
	coordInitiator.auth.Put(context.Background(), model.LocalAuthenticationEntry{RemoteDeviceId: acceptorId, Password: "stale-secret"})

	connInitiator, connAcceptor := newPipeConnections(t)

	depsInitiator := Deps{Crypto: crypto, Coordinator: coordInitiator, Log: logging.NewNop(), Now: time.Now}
	depsAcceptor := Deps{Crypto: crypto, Coordinator: coordAcceptor, Log: logging.NewNop(), Now: time.Now}

	initiator := NewCommandChannel(depsInitiator, connInitiator, initiatorId)
	acceptor := NewCommandChannel(depsAcceptor, connAcceptor, acceptorId)

	acceptor.ManageRemote(acceptorPrivatePEM, nil)
	if err := initiator.ManageLocal(context.Background(), acceptorDescriptorAsSeenByInitiator, initiatorPrivatePEM); err != nil {
		t.Fatalf("unexpected error from ManageLocal: %v", err)
	}

	waitOrTimeout(t, coordInitiator.failedSignal, "initiator auth-failure event")
	if initiator.State() != model.StateFailed {
		t.Fatalf("expected initiator handshake to fail on password mismatch, got %s", initiator.State())
	}
}

func TestDataChannelBindsMatchingCEKFromPendingEntry(t *testing.T) {
	crypto := cryptosvc.NewService()
	coordInitiator := newFakeCoordinator()
	coordAcceptor := newFakeCoordinator()

	cekKey, cekIv, err := crypto.NewSymmetricData(ids.CipherAES, ids.ModeGCM)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	initiatorId := ids.NewDeviceId()
	acceptorId := ids.NewDeviceId()

	pendingAcceptor := store.NewPendingDataTable()
	pendingAcceptor.Add(&model.PendingDataChannel{
		TransientId: 7,
		Target:      model.DeviceDescriptor{DeviceId: initiatorId},
		CEKKey:      cekKey,
		CEKIv:       cekIv,
		CreatedAt:   time.Now(),
	})

	connInitiator, connAcceptor := newPipeConnections(t)

	depsInitiator := Deps{Crypto: crypto, Coordinator: coordInitiator, Log: logging.NewNop(), Now: time.Now}
	depsAcceptor := Deps{Crypto: crypto, Coordinator: coordAcceptor, Log: logging.NewNop(), Now: time.Now}

	initiator := NewDataChannel(depsInitiator, connInitiator, store.NewPendingDataTable(), initiatorId, 1<<20)
	acceptor := NewDataChannel(depsAcceptor, connAcceptor, pendingAcceptor, acceptorId, 1<<20)

	acceptor.ManageRemote()
	entry := &model.PendingDataChannel{TransientId: 7, CEKKey: cekKey, CEKIv: cekIv}
	if err := initiator.ManageLocal(entry, []byte("request-signature-bytes")); err != nil {
		t.Fatalf("unexpected error from ManageLocal: %v", err)
	}

	waitOrTimeout(t, coordInitiator.establishedSignal, "initiator established event")
	waitOrTimeout(t, coordAcceptor.establishedSignal, "acceptor established event")
}

func TestDataChannelRejectsFrameExceedingMaxSize(t *testing.T) {
	crypto := cryptosvc.NewService()
	coordAcceptor := newFakeCoordinator()

	_, connAcceptor := newPipeConnections(t)
	defer connAcceptor.Disconnect()

	deps := Deps{Crypto: crypto, Coordinator: coordAcceptor, Log: logging.NewNop(), Now: time.Now}
	acceptor := NewDataChannel(deps, connAcceptor, store.NewPendingDataTable(), ids.NewDeviceId(), 8)
	acceptor.ManageRemote()

	acceptor.handleData(transport.DataReceived{Bytes: make([]byte, 16), RemainingInFrame: 0})

	waitOrTimeout(t, coordAcceptor.failedSignal, "resource-exceeded failure event")
	if acceptor.State() != model.StateFailed {
		t.Fatalf("expected failed state, got %s", acceptor.State())
	}
}
