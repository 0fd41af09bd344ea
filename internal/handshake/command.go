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
	"github.com/sndnv/syn-server-core/internal/transport"
	"github.com/sndnv/syn-server-core/internal/wire"
)

// CommandChannel establishes a per-channel content-encryption key
// (CEK) over either the RSA or ECDH key-exchange flavor, chosen by
// the peer's DeviceDescriptor.KeyExchange.
type CommandChannel struct {
	deps Deps
	conn *transport.Connection

	localDeviceId    ids.DeviceId
	localPrivatePEM  []byte                     // RSA flavor: this device's own private key
	localECDHPrivate []byte                     // ECDH flavor: this device's own static private key
	localKeyPair     struct{ priv, pub []byte } // ECDH flavor, initiator's ephemeral pair

	peer model.DeviceDescriptor // initiator path only: the peer ManageLocal was called against

	mu    sync.Mutex
	state model.HandshakeState

	requestSignature []byte
	cek              cryptosvc.SymmetricHandler
	frameBuf         []byte

	subData *events.Subscription
	subAck  *events.Subscription
	subDisc *events.Subscription
}

func NewCommandChannel(deps Deps, conn *transport.Connection, localDeviceId ids.DeviceId) *CommandChannel {
	return &CommandChannel{deps: deps, conn: conn, localDeviceId: localDeviceId, state: model.StateInitiated}
}

func (h *CommandChannel) wireEvents() {
	h.subData = h.conn.OnDataReceived(h.handleData)
	h.subAck = h.conn.OnWriteAcknowledged(h.handleAck)
	h.subDisc = h.conn.OnDisconnected(func(transport.Disconnected) {
		h.fail(herrors.ErrChannelClosed)
	})
}

func (h *CommandChannel) unwire() {
	h.subData.Close()
	h.subAck.Close()
	h.subDisc.Close()
}

// ManageLocal drives the initiator path against a known peer
// descriptor: build a fresh CEK, wrap it per the peer's key-exchange
// kind, and send the outer Request.
func (h *CommandChannel) ManageLocal(ctx context.Context, peer model.DeviceDescriptor, localPrivatePEM []byte) error {
	h.peer = peer
	h.wireEvents()

	cekKey, cekIv, err := h.deps.Crypto.NewSymmetricData(ids.CipherAES, ids.ModeGCM)
	if err != nil {
		return h.fail(err)
	}
	h.cek, err = h.deps.Crypto.BindSymmetric(cekKey, cekIv, ids.CipherAES, ids.ModeGCM)
	if err != nil {
		return h.fail(err)
	}

	sig := make([]byte, requestSignatureSize)
	if _, err := rand.Read(sig); err != nil {
		return h.fail(err)
	}
	h.requestSignature = sig

	localAuth, err := h.deps.Coordinator.AuthEntry(ctx, peer.DeviceId)
	var password *string
	if err == nil {
		password = &localAuth.Password
	}

	inner := &wire.CmdRequestInner{
		Cipher: ids.CipherAES, Mode: ids.ModeGCM,
		RequestSignature: sig, CEKKey: cekKey, CEKIv: cekIv,
		PasswordData: password,
	}
	innerBytes := inner.Marshal()

	var outerData []byte
	var ecdhIV []byte
	switch peer.KeyExchange {
	case ids.KeyExchangeRSA:
		signed, err := h.deps.Crypto.SignWithPrivate(localPrivatePEM, innerBytes)
		if err != nil {
			return h.fail(err)
		}
		envelope := &wire.CmdRequestSigned{Signature: signed, Inner: innerBytes}
		outerData, err = h.deps.Crypto.EncryptWithPublic(peer.PublicKey, envelope.Marshal())
		if err != nil {
			return h.fail(err)
		}
	case ids.KeyExchangeECDH:
		priv, pub, err := h.deps.Crypto.NewECDHKeyPair()
		if err != nil {
			return h.fail(err)
		}
		h.localKeyPair.priv, h.localKeyPair.pub = priv, pub
		kek, err := h.deps.Crypto.ECDHDerive(priv, peer.PublicKey, nil, ids.CipherAES, ids.ModeGCM)
		if err != nil {
			return h.fail(err)
		}
		outerData, err = kek.Encrypt(innerBytes, nil)
		if err != nil {
			return h.fail(err)
		}
		ecdhIV = kek.IV()
	default:
		return h.fail(fmt.Errorf("%w: unrecognized key exchange", herrors.ErrConfig))
	}

	req := &wire.CmdRequest{PeerId: uuid.UUID(h.localDeviceId), Data: outerData, EcdhIV: ecdhIV, EphemeralPublicKey: h.localKeyPair.pub}
	h.conn.Send(req.Marshal())
	h.setState(model.StateRequestSent)
	return nil
}

// ManageRemote drives the acceptor path: waits for the inbound
// CmdRequest, requiring knowledge of the caller's own local private
// key (RSA flavor, localPrivatePEM) or own static ECDH private key
// (ECDH flavor, localECDHPrivate) to decrypt the outer envelope.
func (h *CommandChannel) ManageRemote(localPrivatePEM []byte, localECDHPrivate []byte) {
	h.localPrivatePEM = localPrivatePEM
	h.localECDHPrivate = localECDHPrivate
	h.wireEvents()
}

func (h *CommandChannel) handleAck(ev transport.WriteAcknowledged) {
	if !ev.Success {
		h.fail(herrors.ErrChannelClosed)
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
	}
}

func (h *CommandChannel) handleData(ev transport.DataReceived) {
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
		h.fail(fmt.Errorf("%w: unexpected frame in state %s", herrors.ErrProtocol, state))
	}
}

func (h *CommandChannel) onRequest(frame []byte) {
	req, err := wire.UnmarshalCmdRequest(frame)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err))
		return
	}
	peerDeviceId := ids.DeviceId(req.PeerId)
	peer, err := h.deps.Coordinator.DeviceDescriptor(context.Background(), peerDeviceId)
	if err != nil {
		h.fail(herrors.ErrLookupMiss)
		return
	}

	var innerBytes []byte
	var kek cryptosvc.SymmetricHandler
	switch peer.KeyExchange {
	case ids.KeyExchangeRSA:
		decrypted, err := h.deps.Crypto.DecryptWithPrivate(h.localPrivatePEM, req.Data)
		if err != nil {
			h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err))
			return
		}
		envelope, err := wire.UnmarshalCmdRequestSigned(decrypted)
		if err != nil {
			h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err))
			return
		}
		recovered, err := h.deps.Crypto.VerifyAndRecoverWithPublic(peer.PublicKey, envelope.Signature)
		if err != nil || !bytesEqual(recovered, envelope.Inner) {
			h.fail(fmt.Errorf("%w: request signature does not match its payload", herrors.ErrAuth))
			return
		}
		innerBytes = envelope.Inner
	case ids.KeyExchangeECDH:
		kek, err = h.deps.Crypto.ECDHDerive(h.localECDHPrivate, req.EphemeralPublicKey, req.EcdhIV, ids.CipherAES, ids.ModeGCM)
		if err != nil {
			h.fail(err)
			return
		}
		innerBytes, err = kek.Decrypt(req.Data, nil)
		if err != nil {
			h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err))
			return
		}
	default:
		h.fail(fmt.Errorf("%w: unrecognized key exchange", herrors.ErrConfig))
		return
	}

	inner, err := wire.UnmarshalCmdRequestInner(innerBytes)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err))
		return
	}

	if peer.Role == ids.RoleServer {
		if inner.PasswordData == nil {
			h.fail(fmt.Errorf("%w: missing password_data for SERVER role", herrors.ErrDecode))
			return
		}
		localAuth, err := h.deps.Coordinator.AuthEntry(context.Background(), peerDeviceId)
		if err != nil || localAuth.Password != *inner.PasswordData {
			h.fail(herrors.ErrAuth)
			return
		}
	}

	cek, err := h.deps.Crypto.BindSymmetric(inner.CEKKey, inner.CEKIv, inner.Cipher, inner.Mode)
	if err != nil {
		h.fail(err)
		return
	}
	h.cek = cek

	localAuth, _ := h.deps.Coordinator.AuthEntry(context.Background(), peerDeviceId)
	respPlain := (&wire.CmdResponse{RequestSignature: inner.RequestSignature, PasswordData: localAuth.Password}).Marshal()
	ciphertext, err := h.cek.Encrypt(respPlain, nil)
	if err != nil {
		h.fail(err)
		return
	}
	h.conn.Send(ciphertext)
	h.setState(model.StateResponseSent)
}

func (h *CommandChannel) onResponse(frame []byte) {
	plain, err := h.cek.Decrypt(frame, nil)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err))
		return
	}
	resp, err := wire.UnmarshalCmdResponse(plain)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err))
		return
	}
	if !bytesEqual(resp.RequestSignature, h.requestSignature) {
		h.fail(fmt.Errorf("%w: request_signature mismatch", herrors.ErrAuth))
		return
	}
	if h.peer.Role == ids.RoleServer {
		localAuth, err := h.deps.Coordinator.AuthEntry(context.Background(), h.peer.DeviceId)
		if err != nil || localAuth.Password != resp.PasswordData {
			h.fail(herrors.ErrAuth)
			return
		}
	}
	h.setState(model.StateResponseReceived)
	h.setState(model.StateCompleted)
}

func (h *CommandChannel) setState(s model.HandshakeState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	if s == model.StateCompleted {
		h.unwire()
		h.deps.Coordinator.EmitEstablished(h.conn.RawId(), h.localDeviceId, nil)
	}
}

// State reports the current handshake state, used by the coordinator's
// setup-timeout timer.
func (h *CommandChannel) State() model.HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// TimeoutIfIncomplete fails the handshake with ErrTimeout unless it has
// already reached a terminal state.
func (h *CommandChannel) TimeoutIfIncomplete() {
	switch h.State() {
	case model.StateCompleted, model.StateFailed:
		return
	default:
		h.fail(herrors.ErrTimeout)
	}
}

func (h *CommandChannel) fail(cause error) error {
	h.mu.Lock()
	h.state = model.StateFailed
	h.mu.Unlock()
	h.unwire()
	h.deps.Coordinator.EmitFailed(h.conn.RawId(), nil, cause)
	h.conn.Disconnect()
	return cause
}

// CEK exposes the negotiated content-encryption key once the
// handshake has completed, for the coordinator to bind onto the
// promoted EstablishedChannel.
func (h *CommandChannel) CEK() cryptosvc.SymmetricHandler { return h.cek }
