package handshake

import (
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

// DataChannel binds a previously negotiated CEK (delivered via a
// prior OPEN_DATA_CONNECTION command) to a fresh Connection, enforcing
// maxDataSize on every frame.
type DataChannel struct {
	deps        Deps
	conn        *transport.Connection
	pendingData *store.PendingDataTable
	maxDataSize int

	localDeviceId ids.DeviceId

	mu    sync.Mutex
	state model.HandshakeState

	requestSignature []byte // initiator path only: plaintext sent in ManageLocal, verified back in onResponse
	cek              cryptosvc.SymmetricHandler
	frameBuf         []byte
	subs             []*events.Subscription
}

func NewDataChannel(deps Deps, conn *transport.Connection, pendingData *store.PendingDataTable, localDeviceId ids.DeviceId, maxDataSize int) *DataChannel {
	return &DataChannel{deps: deps, conn: conn, pendingData: pendingData, localDeviceId: localDeviceId, maxDataSize: maxDataSize, state: model.StateInitiated}
}

func (h *DataChannel) wireEvents() (data, ack, disc *events.Subscription) {
	data = h.conn.OnDataReceived(h.handleData)
	ack = h.conn.OnWriteAcknowledged(h.handleAck)
	disc = h.conn.OnDisconnected(func(transport.Disconnected) {
		h.fail(herrors.ErrChannelClosed)
	})
	return
}

// ManageLocal drives the initiator path: it already holds the
// PendingDataChannel descriptor (the command that requested this data
// channel created it), binds its CEK and sends DataRequest.
func (h *DataChannel) ManageLocal(entry *model.PendingDataChannel, requestSignature []byte) error {
	h.requestSignature = requestSignature
	dataSub, ackSub, discSub := h.wireEvents()
	h.subs = []*events.Subscription{dataSub, ackSub, discSub}

	cek, err := h.deps.Crypto.BindSymmetric(entry.CEKKey, entry.CEKIv, ids.CipherAES, ids.ModeGCM)
	if err != nil {
		return h.fail(err)
	}
	h.cek = cek

	ciphertext, err := cek.Encrypt(requestSignature, nil)
	if err != nil {
		return h.fail(err)
	}
	req := &wire.DataRequest{PeerId: uuid.UUID(h.localDeviceId), TransientId: entry.TransientId, RequestSignature: ciphertext}
	h.conn.Send(req.Marshal())
	h.setState(model.StateRequestSent)
	return nil
}

// ManageRemote drives the acceptor path.
func (h *DataChannel) ManageRemote() {
	dataSub, ackSub, discSub := h.wireEvents()
	h.subs = []*events.Subscription{dataSub, ackSub, discSub}
}

func (h *DataChannel) handleAck(ev transport.WriteAcknowledged) {
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

func (h *DataChannel) handleData(ev transport.DataReceived) {
	if len(h.frameBuf)+len(ev.Bytes) > h.maxDataSize {
		h.fail(herrors.ErrResourceExceeded)
		return
	}
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

func (h *DataChannel) onRequest(frame []byte) {
	req, err := wire.UnmarshalDataRequest(frame)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err))
		return
	}
	entry, err := h.pendingData.Take(ids.DeviceId(req.PeerId), req.TransientId)
	if err != nil {
		h.fail(herrors.ErrLookupMiss)
		return
	}

	cek, err := h.deps.Crypto.BindSymmetric(entry.CEKKey, entry.CEKIv, ids.CipherAES, ids.ModeGCM)
	if err != nil {
		h.fail(err)
		return
	}
	h.cek = cek

	plain, err := cek.Decrypt(req.RequestSignature, nil)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err))
		return
	}

	ciphertext, err := cek.Encrypt(plain, nil)
	if err != nil {
		h.fail(err)
		return
	}
	resp := &wire.DataResponse{RequestSignature: ciphertext}
	h.conn.Send(resp.Marshal())
	h.setState(model.StateResponseSent)
}

func (h *DataChannel) onResponse(frame []byte) {
	resp, err := wire.UnmarshalDataResponse(frame)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrDecode, err))
		return
	}
	plain, err := h.cek.Decrypt(resp.RequestSignature, nil)
	if err != nil {
		h.fail(fmt.Errorf("%w: %v", herrors.ErrAuth, err))
		return
	}
	if !bytesEqual(plain, h.requestSignature) {
		h.fail(fmt.Errorf("%w: request_signature mismatch", herrors.ErrAuth))
		return
	}
	h.setState(model.StateResponseReceived)
	h.setState(model.StateCompleted)
}

func (h *DataChannel) setState(s model.HandshakeState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	if s == model.StateCompleted {
		h.closeSubs()
		h.deps.Coordinator.EmitEstablished(h.conn.RawId(), h.localDeviceId, nil)
	}
}

// State reports the current handshake state, used by the coordinator's
// setup-timeout timer.
func (h *DataChannel) State() model.HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// TimeoutIfIncomplete fails the handshake with ErrTimeout unless it has
// already reached a terminal state.
func (h *DataChannel) TimeoutIfIncomplete() {
	switch h.State() {
	case model.StateCompleted, model.StateFailed:
		return
	default:
		h.fail(herrors.ErrTimeout)
	}
}

func (h *DataChannel) fail(cause error) error {
	h.mu.Lock()
	h.state = model.StateFailed
	h.mu.Unlock()
	h.closeSubs()
	h.deps.Coordinator.EmitFailed(h.conn.RawId(), nil, cause)
	h.conn.Disconnect()
	return cause
}

func (h *DataChannel) closeSubs() {
	for _, s := range h.subs {
		s.Close()
	}
}

// CEK exposes the bound content-encryption key once completed.
func (h *DataChannel) CEK() cryptosvc.SymmetricHandler { return h.cek }
