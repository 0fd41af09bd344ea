package wire

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// SetupAdditional is the payload encrypted under the pairing
// handshake's password-derived key.
type SetupAdditional struct {
	RequestSignature []byte
	PublicKey        []byte
	CommandAddr      string
	CommandPort      uint16
	DataAddr         string
	DataPort         uint16
	InitAddr         string
	InitPort         uint16
	KeyExchange      ids.KeyExchange
	RemotePeerId     uuid.UUID
	LocalPeerId      *uuid.UUID // present iff sender's role != SERVER
	PasswordData     *string    // present iff receiver's role == SERVER
}

func (a *SetupAdditional) Marshal() []byte {
	w := NewWriter()
	w.WriteBytes(a.RequestSignature)
	w.WriteBytes(a.PublicKey)
	w.WriteString(a.CommandAddr)
	w.WriteU16(a.CommandPort)
	w.WriteString(a.DataAddr)
	w.WriteU16(a.DataPort)
	w.WriteString(a.InitAddr)
	w.WriteU16(a.InitPort)
	w.WriteU16(uint16(a.KeyExchange))
	idBytes, _ := a.RemotePeerId.MarshalBinary()
	w.WriteFixed(idBytes)
	w.WriteBool(a.LocalPeerId != nil)
	if a.LocalPeerId != nil {
		b, _ := a.LocalPeerId.MarshalBinary()
		w.WriteFixed(b)
	}
	w.WriteBool(a.PasswordData != nil)
	if a.PasswordData != nil {
		w.WriteString(*a.PasswordData)
	}
	return w.Bytes()
}

func UnmarshalSetupAdditional(data []byte) (*SetupAdditional, error) {
	r := NewReader(data)
	a := &SetupAdditional{}

	var err error
	if a.RequestSignature, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("request_signature: %w", err)
	}
	if a.PublicKey, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("public_key: %w", err)
	}
	if a.CommandAddr, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("command_addr: %w", err)
	}
	if a.CommandPort, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("command_port: %w", err)
	}
	if a.DataAddr, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("data_addr: %w", err)
	}
	if a.DataPort, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("data_port: %w", err)
	}
	if a.InitAddr, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("init_addr: %w", err)
	}
	if a.InitPort, err = r.ReadU16(); err != nil {
		return nil, fmt.Errorf("init_port: %w", err)
	}
	kx, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("key_exchange: %w", err)
	}
	a.KeyExchange = ids.KeyExchange(kx)

	idRaw, err := r.ReadFixed(16)
	if err != nil {
		return nil, fmt.Errorf("remote_peer_id: %w", err)
	}
	if a.RemotePeerId, err = uuid.FromBytes(idRaw); err != nil {
		return nil, fmt.Errorf("remote_peer_id: %w", err)
	}

	hasLocal, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("local_peer_id presence: %w", err)
	}
	if hasLocal {
		raw, err := r.ReadFixed(16)
		if err != nil {
			return nil, fmt.Errorf("local_peer_id: %w", err)
		}
		localId, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("local_peer_id: %w", err)
		}
		a.LocalPeerId = &localId
	}

	hasPwd, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("password_data presence: %w", err)
	}
	if hasPwd {
		pwd, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("password_data: %w", err)
		}
		a.PasswordData = &pwd
	}

	if !r.AtEnd() {
		return nil, fmt.Errorf("setup_additional: %w", ErrTruncated)
	}
	return a, nil
}

// SetupRequest is the first message of the pairing handshake.
type SetupRequest struct {
	PbkdSalt       []byte
	PbkdIV         []byte
	PbkdIterations uint32
	PbkdCipher     ids.CipherKind
	PbkdMode       ids.CipherMode
	TransientId    ids.TransientConnectionId
	AdditionalData []byte // encrypted SetupAdditional
}

func (m *SetupRequest) Marshal() []byte {
	w := NewWriter()
	w.WriteBytes(m.PbkdSalt)
	w.WriteBytes(m.PbkdIV)
	w.WriteU32(m.PbkdIterations)
	w.WriteU16(uint16(m.PbkdCipher))
	w.WriteU16(uint16(m.PbkdMode))
	w.WriteU64(uint64(m.TransientId))
	w.WriteBytes(m.AdditionalData)
	return w.Bytes()
}

func UnmarshalSetupRequest(data []byte) (*SetupRequest, error) {
	r := NewReader(data)
	m := &SetupRequest{}
	var err error
	if m.PbkdSalt, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("pbkd_salt: %w", err)
	}
	if m.PbkdIV, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("pbkd_iv: %w", err)
	}
	if m.PbkdIterations, err = r.ReadU32(); err != nil {
		return nil, fmt.Errorf("pbkd_iterations: %w", err)
	}
	cipher, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("pbkd_cipher: %w", err)
	}
	m.PbkdCipher = ids.CipherKind(cipher)
	mode, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("pbkd_mode: %w", err)
	}
	m.PbkdMode = ids.CipherMode(mode)
	transientId, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("transient_id: %w", err)
	}
	m.TransientId = ids.TransientConnectionId(transientId)
	if m.AdditionalData, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("additional_data: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("setup_request: %w", ErrTruncated)
	}
	return m, nil
}

// SetupResponse mirrors SetupAdditional, encrypted under the same
// password-derived key, echoing the initiator's request_signature.
type SetupResponse struct {
	AdditionalData []byte
}

func (m *SetupResponse) Marshal() []byte {
	w := NewWriter()
	w.WriteBytes(m.AdditionalData)
	return w.Bytes()
}

func UnmarshalSetupResponse(data []byte) (*SetupResponse, error) {
	r := NewReader(data)
	m := &SetupResponse{}
	var err error
	if m.AdditionalData, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("additional_data: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("setup_response: %w", ErrTruncated)
	}
	return m, nil
}

// CmdRequest is the outer command-channel handshake message. EcdhIV
// and EphemeralPublicKey are present only for the ECDH flavor: the
// acceptor needs the initiator's ephemeral public key to derive the
// same shared secret, since it holds only its own static key pair.
type CmdRequest struct {
	PeerId             uuid.UUID
	Data               []byte // signed-or-encrypted CmdRequestInner
	EcdhIV             []byte
	EphemeralPublicKey []byte
}

func (m *CmdRequest) Marshal() []byte {
	w := NewWriter()
	idBytes, _ := m.PeerId.MarshalBinary()
	w.WriteFixed(idBytes)
	w.WriteBytes(m.Data)
	w.WriteBool(m.EcdhIV != nil)
	if m.EcdhIV != nil {
		w.WriteBytes(m.EcdhIV)
		w.WriteBytes(m.EphemeralPublicKey)
	}
	return w.Bytes()
}

func UnmarshalCmdRequest(data []byte) (*CmdRequest, error) {
	r := NewReader(data)
	m := &CmdRequest{}
	idRaw, err := r.ReadFixed(16)
	if err != nil {
		return nil, fmt.Errorf("peer_id: %w", err)
	}
	if m.PeerId, err = uuid.FromBytes(idRaw); err != nil {
		return nil, fmt.Errorf("peer_id: %w", err)
	}
	if m.Data, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	hasIV, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("ecdh_iv presence: %w", err)
	}
	if hasIV {
		if m.EcdhIV, err = r.ReadBytes(); err != nil {
			return nil, fmt.Errorf("ecdh_iv: %w", err)
		}
		if m.EphemeralPublicKey, err = r.ReadBytes(); err != nil {
			return nil, fmt.Errorf("ephemeral_public_key: %w", err)
		}
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("cmd_request: %w", ErrTruncated)
	}
	return m, nil
}

// CmdRequestInner carries the freshly generated CEK, signed (RSA
// flavor) or encrypted under the KEK (ECDH flavor) before being
// wrapped into CmdRequest.Data.
type CmdRequestInner struct {
	Cipher           ids.CipherKind
	Mode             ids.CipherMode
	RequestSignature []byte
	CEKKey           []byte
	CEKIv            []byte
	PasswordData     *string
}

func (m *CmdRequestInner) Marshal() []byte {
	w := NewWriter()
	w.WriteU16(uint16(m.Cipher))
	w.WriteU16(uint16(m.Mode))
	w.WriteBytes(m.RequestSignature)
	w.WriteBytes(m.CEKKey)
	w.WriteBytes(m.CEKIv)
	w.WriteBool(m.PasswordData != nil)
	if m.PasswordData != nil {
		w.WriteString(*m.PasswordData)
	}
	return w.Bytes()
}

func UnmarshalCmdRequestInner(data []byte) (*CmdRequestInner, error) {
	r := NewReader(data)
	m := &CmdRequestInner{}
	cipher, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	m.Cipher = ids.CipherKind(cipher)
	mode, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("mode: %w", err)
	}
	m.Mode = ids.CipherMode(mode)
	if m.RequestSignature, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("request_signature: %w", err)
	}
	if m.CEKKey, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("cek_key: %w", err)
	}
	if m.CEKIv, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("cek_iv: %w", err)
	}
	hasPwd, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("password_data presence: %w", err)
	}
	if hasPwd {
		pwd, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("password_data: %w", err)
		}
		m.PasswordData = &pwd
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("cmd_request_inner: %w", ErrTruncated)
	}
	return m, nil
}

// CmdRequestSigned wraps a CmdRequestInner with its RSA signature
// before the pair is encrypted as one blob under the RSA flavor's
// outer EncryptWithPublic: carrying both length-prefixed avoids
// needing to know the modulus length to split them back apart after
// decryption.
type CmdRequestSigned struct {
	Signature []byte
	Inner     []byte
}

func (m *CmdRequestSigned) Marshal() []byte {
	w := NewWriter()
	w.WriteBytes(m.Signature)
	w.WriteBytes(m.Inner)
	return w.Bytes()
}

func UnmarshalCmdRequestSigned(data []byte) (*CmdRequestSigned, error) {
	r := NewReader(data)
	m := &CmdRequestSigned{}
	var err error
	if m.Signature, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if m.Inner, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("inner: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("cmd_request_signed: %w", ErrTruncated)
	}
	return m, nil
}

// CmdResponse is CEK-encrypted; plaintext echoes request_signature
// and carries the responder's locally-stored password for the peer.
type CmdResponse struct {
	RequestSignature []byte
	PasswordData     string
}

func (m *CmdResponse) Marshal() []byte {
	w := NewWriter()
	w.WriteBytes(m.RequestSignature)
	w.WriteString(m.PasswordData)
	return w.Bytes()
}

func UnmarshalCmdResponse(data []byte) (*CmdResponse, error) {
	r := NewReader(data)
	m := &CmdResponse{}
	var err error
	if m.RequestSignature, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("request_signature: %w", err)
	}
	if m.PasswordData, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("password_data: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("cmd_response: %w", ErrTruncated)
	}
	return m, nil
}

// DataRequest opens a data channel against a previously negotiated
// CEK.
type DataRequest struct {
	PeerId           uuid.UUID
	TransientId      ids.TransientConnectionId
	RequestSignature []byte // CEK-encrypted
}

func (m *DataRequest) Marshal() []byte {
	w := NewWriter()
	idBytes, _ := m.PeerId.MarshalBinary()
	w.WriteFixed(idBytes)
	w.WriteU64(uint64(m.TransientId))
	w.WriteBytes(m.RequestSignature)
	return w.Bytes()
}

func UnmarshalDataRequest(data []byte) (*DataRequest, error) {
	r := NewReader(data)
	m := &DataRequest{}
	idRaw, err := r.ReadFixed(16)
	if err != nil {
		return nil, fmt.Errorf("peer_id: %w", err)
	}
	if m.PeerId, err = uuid.FromBytes(idRaw); err != nil {
		return nil, fmt.Errorf("peer_id: %w", err)
	}
	transientId, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("transient_id: %w", err)
	}
	m.TransientId = ids.TransientConnectionId(transientId)
	if m.RequestSignature, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("request_signature: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("data_request: %w", ErrTruncated)
	}
	return m, nil
}

// DataResponse is CEK-encrypted, plaintext echoes request_signature.
type DataResponse struct {
	RequestSignature []byte
}

func (m *DataResponse) Marshal() []byte {
	w := NewWriter()
	w.WriteBytes(m.RequestSignature)
	return w.Bytes()
}

func UnmarshalDataResponse(data []byte) (*DataResponse, error) {
	r := NewReader(data)
	m := &DataResponse{}
	var err error
	if m.RequestSignature, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("request_signature: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("data_response: %w", ErrTruncated)
	}
	return m, nil
}

// ResponseStatus is the status enum of the command envelope.
type ResponseStatus uint8

const (
	StatusOK ResponseStatus = iota
	StatusFailed
)

// Command is the outbound-instruction envelope. Data is the opaque,
// command-specific body a registered serializer produced; the core
// never inspects it beyond handing it to that serializer.
type Command struct {
	Name         string
	CommandId    ids.CommandId
	Data         []byte
	SendResponse bool
}

func (m *Command) Marshal() []byte {
	w := NewWriter()
	w.WriteString(m.Name)
	w.WriteU64(uint64(m.CommandId))
	w.WriteBytes(m.Data)
	w.WriteBool(m.SendResponse)
	return w.Bytes()
}

func UnmarshalCommand(data []byte) (*Command, error) {
	r := NewReader(data)
	m := &Command{}
	var err error
	if m.Name, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	cid, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("command_id: %w", err)
	}
	m.CommandId = ids.CommandId(cid)
	if m.Data, err = r.ReadBytes(); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	if m.SendResponse, err = r.ReadBool(); err != nil {
		return nil, fmt.Errorf("send_response: %w", err)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("command: %w", ErrTruncated)
	}
	return m, nil
}

// Response is the matching reply envelope.
type Response struct {
	Name      string
	CommandId ids.CommandId
	Status    ResponseStatus
	Data      []byte // present only when Status == StatusOK (may be absent even then)
}

func (m *Response) Marshal() []byte {
	w := NewWriter()
	w.WriteString(m.Name)
	w.WriteU64(uint64(m.CommandId))
	w.WriteU16(uint16(m.Status))
	w.WriteBool(m.Data != nil)
	if m.Data != nil {
		w.WriteBytes(m.Data)
	}
	return w.Bytes()
}

func UnmarshalResponse(data []byte) (*Response, error) {
	r := NewReader(data)
	m := &Response{}
	var err error
	if m.Name, err = r.ReadString(); err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	cid, err := r.ReadU64()
	if err != nil {
		return nil, fmt.Errorf("command_id: %w", err)
	}
	m.CommandId = ids.CommandId(cid)
	status, err := r.ReadU16()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	m.Status = ResponseStatus(status)
	hasData, err := r.ReadBool()
	if err != nil {
		return nil, fmt.Errorf("data presence: %w", err)
	}
	if hasData {
		if m.Data, err = r.ReadBytes(); err != nil {
			return nil, fmt.Errorf("data: %w", err)
		}
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("response: %w", ErrTruncated)
	}
	return m, nil
}
