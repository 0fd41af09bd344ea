package handshake

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sndnv/syn-server-core/internal/cryptosvc"
	"github.com/sndnv/syn-server-core/internal/events"
	"github.com/sndnv/syn-server-core/internal/herrors"
	"github.com/sndnv/syn-server-core/internal/ids"
	"github.com/sndnv/syn-server-core/internal/model"
	"github.com/sndnv/syn-server-core/internal/store"
	"github.com/sndnv/syn-server-core/internal/transport"
	"github.com/sndnv/syn-server-core/internal/wire"
)

const requestSignatureSize = 16

// InitSetup runs the password-derived-key pairing handshake over a
// single Connection, either as the dialing initiator or the listening
// acceptor.
type InitSetup struct {
	deps    Deps
	conn    *transport.Connection
	pending *store.PendingInitTable

	// local is this process's own identity: its device id, role, long-
	// term public key, key-exchange kind, and advertised listener
	// endpoints, all of which are sent to the peer as part of
	// SetupAdditional.
	local model.DeviceDescriptor

	mu    sync.Mutex
	state model.HandshakeState

	requestSignature []byte
	handler          cryptosvc.SymmetricHandler
	frameBuf         []byte

	subData *events.Subscription
	subAck  *events.Subscription
	subDisc *events.Subscription
}

// NewInitSetup constructs a pairing handshake bound to conn. local
// describes this process's own identity, used to populate the
// SetupAdditional it sends on either path.
func NewInitSetup(deps Deps, conn *transport.Connection, pending *store.PendingInitTable, local model.DeviceDescriptor) *InitSetup {
	return &InitSetup{deps: deps, conn: conn, pending: pending, local: local, state: model.StateInitiated}
}

func (h *InitSetup) wireEvents() {
	h.subData = h.conn.OnDataReceived(h.handleData)
	h.subAck = h.conn.OnWriteAcknowledged(h.handleAck)
	h.subDisc = h.conn.OnDisconnected(func(transport.Disconnected) {
		h.fail(herrors.ErrChannelClosed, nil)
	})
}

func (h *InitSetup) unwire() {
	h.subData.Close()
	h.subAck.Close()
	h.subDisc.Close()
}

// ManageLocal drives the initiator path: derive the key from the
// shared password, build and send SetupRequest.
func (h *InitSetup) ManageLocal(ctx context.Context, entry *model.PendingInitSetup) error {
	h.wireEvents()
	h.pending.Add(entry)

	sig := make([]byte, requestSignatureSize)
	if _, err := rand.Read(sig); err != nil {
		return h.fail(err, &entry.TransientId)
	}
	h.requestSignature = sig

	handler, params, err := h.deps.Crypto.DeriveSymmetricFromPassword(entry.Password, cryptosvc.PBKDFParams{})
	if err != nil {
		return h.fail(err, &entry.TransientId)
	}
	h.handler = handler

	var localPeerId *uuid.UUID
	if h.local.Role != ids.RoleServer {
		u := uuid.UUID(h.local.DeviceId)
		localPeerId = &u
	}

	additional := &wire.SetupAdditional{
		RequestSignature: sig,
		PublicKey:        h.local.PublicKey,
		CommandAddr:      h.local.CommandEndpt.Addr,
		CommandPort:      h.local.CommandEndpt.Port,
		DataAddr:         h.local.DataEndpt.Addr,
		DataPort:         h.local.DataEndpt.Port,
		InitAddr:         h.local.InitEndpt.Addr,
		InitPort:         h.local.InitEndpt.Port,
		KeyExchange:      h.local.KeyExchange,
		RemotePeerId:     uuid.UUID(entry.NewDeviceId),
		LocalPeerId:      localPeerId,
	}
	encrypted, err := handler.Encrypt(additional.Marshal(), nil)
	if err != nil {
		return h.fail(err, &entry.TransientId)
	}

	req := &wire.SetupRequest{
		PbkdSalt:       params.Salt,
		PbkdIV:         params.IV,
		PbkdIterations: params.Iterations,
		PbkdCipher:     params.Cipher,
		PbkdMode:       params.Mode,
		TransientId:    entry.TransientId,
		AdditionalData: encrypted,
	}
	h.conn.Send(req.Marshal())
	h.setState(model.StateRequestSent)
	return nil
}

// ManageRemote drives the acceptor path: wait for an inbound
// SetupRequest (delivered via handleData) and respond once its
// transient id matches a pre-registered PendingInitSetup.
func (h *InitSetup) ManageRemote() {
	h.wireEvents()
}

func (h *InitSetup) handleAck(ev transport.WriteAcknowledged) {
	if !ev.Success {
		h.fail(herrors.ErrChannelClosed, nil)
		return
	}
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()

	switch state {
	case model.StateRequestSent:
		h.setState(model.StateRequestAcknowledged)
	case model.StateResponseSent:
		h.setState(model.StateCompleted)
		h.conn.Disconnect()
	}
}

func (h *InitSetup) handleData(ev transport.DataReceived) {
	h.frameBuf = append(h.frameBuf, ev.Bytes...)
	if ev.RemainingInFrame > 0 {
		return
	}
	frame := h.frameBuf
	h.frameBuf = nil

	h.mu.Lock()
	state := h.state
	h.mu.Unlock()

	switch state {
	case model.StateInitiated:
		h.onRequest(frame)
	case model.StateRequestAcknowledged:
		h.onResponse(frame)
	default:
		h.fail(fmt.Errorf("%w: unexpected frame in state %s", herrors.ErrProtocol, state), nil)
	}
}

func (h *InitSetup) onRequest(frame []byte) {
	req, err := wire.UnmarshalSetupRequest(frame)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err), nil)
		return
	}

	entry, err := h.pending.GetByTransientId(req.TransientId)
	if err != nil {
		h.fail(herrors.ErrLookupMiss, &req.TransientId)
		return
	}

	handler, _, err := h.deps.Crypto.DeriveSymmetricFromPassword(entry.Password, cryptosvc.PBKDFParams{
		Salt: req.PbkdSalt, IV: req.PbkdIV, Iterations: req.PbkdIterations, Cipher: req.PbkdCipher, Mode: req.PbkdMode,
	})
	if err != nil {
		h.fail(err, &req.TransientId)
		return
	}

	plain, err := handler.Decrypt(req.AdditionalData, nil)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err), &req.TransientId)
		return
	}
	additional, err := wire.UnmarshalSetupAdditional(plain)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err), &req.TransientId)
		return
	}
	if entry.RemoteRole == ids.RoleServer && additional.PasswordData == nil {
		h.fail(fmt.Errorf("%w: missing password_data for SERVER role", herrors.ErrDecode), &req.TransientId)
		return
	}
	if len(additional.RequestSignature) != requestSignatureSize {
		h.fail(fmt.Errorf("%w: request_signature size mismatch", herrors.ErrDecode), &req.TransientId)
		return
	}

	descriptor := model.DeviceDescriptor{
		DeviceId:     entry.NewDeviceId,
		Role:         entry.RemoteRole,
		CommandEndpt: model.Endpoint{Addr: additional.CommandAddr, Port: additional.CommandPort},
		DataEndpt:    model.Endpoint{Addr: additional.DataAddr, Port: additional.DataPort},
		InitEndpt:    model.Endpoint{Addr: additional.InitAddr, Port: additional.InitPort},
		PublicKey:    additional.PublicKey,
		KeyExchange:  additional.KeyExchange,
	}
	if err := h.deps.Coordinator.UpdateDeviceDescriptor(context.Background(), descriptor); err != nil {
		h.fail(err, &req.TransientId)
		return
	}

	var responsePassword *string
	if entry.RemoteRole != ids.RoleServer {
		generated, err := h.deps.Crypto.GeneratePassword(24)
		if err != nil {
			h.fail(err, &req.TransientId)
			return
		}
		responsePassword = &generated
		_ = h.deps.Coordinator.UpdateAuthEntry(context.Background(), model.LocalAuthenticationEntry{
			RemoteDeviceId: entry.NewDeviceId,
			Password:       generated,
		})
	}

	var localPeerId *uuid.UUID
	if h.local.Role != ids.RoleServer {
		u := uuid.UUID(h.local.DeviceId)
		localPeerId = &u
	}

	respAdditional := &wire.SetupAdditional{
		RequestSignature: additional.RequestSignature,
		PublicKey:        h.local.PublicKey,
		CommandAddr:      h.local.CommandEndpt.Addr,
		CommandPort:      h.local.CommandEndpt.Port,
		DataAddr:         h.local.DataEndpt.Addr,
		DataPort:         h.local.DataEndpt.Port,
		InitAddr:         h.local.InitEndpt.Addr,
		InitPort:         h.local.InitEndpt.Port,
		KeyExchange:      h.local.KeyExchange,
		RemotePeerId:     uuid.UUID(entry.NewDeviceId),
		LocalPeerId:      localPeerId,
		PasswordData:     responsePassword,
	}
	encrypted, err := handler.Encrypt(respAdditional.Marshal(), nil)
	if err != nil {
		h.fail(err, &req.TransientId)
		return
	}
	resp := &wire.SetupResponse{AdditionalData: encrypted}
	h.conn.Send(resp.Marshal())
	h.setState(model.StateResponseSent)
	h.pending.Discard(req.TransientId)
}

func (h *InitSetup) onResponse(frame []byte) {
	resp, err := wire.UnmarshalSetupResponse(frame)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err), nil)
		return
	}
	plain, err := h.handler.Decrypt(resp.AdditionalData, nil)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err), nil)
		return
	}
	additional, err := wire.UnmarshalSetupAdditional(plain)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err), nil)
		return
	}
	if !bytesEqual(additional.RequestSignature, h.requestSignature) {
		h.fail(fmt.Errorf("%w: request_signature mismatch", herrors.ErrAuth), nil)
		return
	}

	descriptor := model.DeviceDescriptor{
		DeviceId:     ids.DeviceId(additional.RemotePeerId),
		CommandEndpt: model.Endpoint{Addr: additional.CommandAddr, Port: additional.CommandPort},
		DataEndpt:    model.Endpoint{Addr: additional.DataAddr, Port: additional.DataPort},
		InitEndpt:    model.Endpoint{Addr: additional.InitAddr, Port: additional.InitPort},
		PublicKey:    additional.PublicKey,
		KeyExchange:  additional.KeyExchange,
	}
	if err := h.deps.Coordinator.UpdateDeviceDescriptor(context.Background(), descriptor); err != nil {
		h.fail(err, nil)
		return
	}
	if additional.PasswordData != nil {
		_ = h.deps.Coordinator.UpdateAuthEntry(context.Background(), model.LocalAuthenticationEntry{
			RemoteDeviceId: descriptor.DeviceId,
			Password:       *additional.PasswordData,
		})
	}

	h.setState(model.StateResponseReceived)
	h.setState(model.StateCompleted)
	h.conn.Disconnect()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (h *InitSetup) setState(s model.HandshakeState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()

	if s == model.StateCompleted {
		h.unwire()
		h.deps.Coordinator.EmitEstablished(h.conn.RawId(), h.local.DeviceId, nil)
	}
}

// State reports the current handshake state, used by the coordinator's
// setup-timeout timer to decide whether the handshake is still live.
func (h *InitSetup) State() model.HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// TimeoutIfIncomplete fails the handshake with ErrTimeout unless it has
// already reached a terminal state, implementing the per-connection
// setup timeout.
func (h *InitSetup) TimeoutIfIncomplete() {
	switch h.State() {
	case model.StateCompleted, model.StateFailed:
		return
	default:
		h.fail(herrors.ErrTimeout, nil)
	}
}

func (h *InitSetup) fail(cause error, transientId *ids.TransientConnectionId) error {
	h.mu.Lock()
	h.state = model.StateFailed
	h.mu.Unlock()

	h.unwire()
	if transientId != nil {
		h.pending.Discard(*transientId)
	}
	h.deps.Coordinator.EmitFailed(h.conn.RawId(), transientId, cause)
	h.conn.Disconnect()
	return cause
}
