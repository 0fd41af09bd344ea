// Package cryptosvc is the cryptographic services façade consumed by
// the handshake and coordinator packages. Callers only ever see the Service
// interface and its opaque handlers — never a raw cipher.Block or
// *rsa.PrivateKey — so the concrete primitives stay swappable.
package cryptosvc

import (
	"crypto/cipher"
	"fmt"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// SymmetricHandler is an AEAD bound to a concrete key/iv/cipher/mode.
// Both directions are authenticated, so Decrypt fails with ErrAuth on
// any tamper.
type SymmetricHandler interface {
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
	Key() []byte
	IV() []byte
}

type symmetricHandler struct {
	aead cipher.AEAD
	key  []byte
	iv   []byte
}

func (h *symmetricHandler) Encrypt(plaintext, additionalData []byte) ([]byte, error) {
	if len(h.iv) < h.aead.NonceSize() {
		return nil, fmt.Errorf("%w: iv shorter than nonce size", ErrConfig)
	}
	return h.aead.Seal(nil, h.iv[:h.aead.NonceSize()], plaintext, additionalData), nil
}

func (h *symmetricHandler) Decrypt(ciphertext, additionalData []byte) ([]byte, error) {
	if len(h.iv) < h.aead.NonceSize() {
		return nil, fmt.Errorf("%w: iv shorter than nonce size", ErrConfig)
	}
	plain, err := h.aead.Open(nil, h.iv[:h.aead.NonceSize()], ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return plain, nil
}

func (h *symmetricHandler) Key() []byte { return h.key }
func (h *symmetricHandler) IV() []byte  { return h.iv }

// Service is the full cryptographic façade consumed by the handshake
// and store packages.
type Service interface {
	NewSymmetricData(cipher ids.CipherKind, mode ids.CipherMode) (key, iv []byte, err error)
	BindSymmetric(key, iv []byte, cipher ids.CipherKind, mode ids.CipherMode) (SymmetricHandler, error)
	DeriveSymmetricFromPassword(password string, params PBKDFParams) (SymmetricHandler, PBKDFParams, error)
	NewECDHKeyPair() (priv, pub []byte, err error)
	ECDHDerive(localPrivate, remotePublic []byte, iv []byte, cipher ids.CipherKind, mode ids.CipherMode) (SymmetricHandler, error)
	SignWithPrivate(privatePEM []byte, data []byte) ([]byte, error)
	VerifyAndRecoverWithPublic(publicPEM []byte, signed []byte) ([]byte, error)
	EncryptWithPublic(publicPEM []byte, data []byte) ([]byte, error)
	DecryptWithPrivate(privatePEM []byte, data []byte) ([]byte, error)
	GeneratePassword(length int) (string, error)
}

type service struct{}

// NewService constructs the default CryptoService implementation.
func NewService() Service {
	return &service{}
}

func (s *service) NewSymmetricData(kind ids.CipherKind, mode ids.CipherMode) ([]byte, []byte, error) {
	size := KeySize(kind)
	if size == 0 {
		return nil, nil, fmt.Errorf("%w: unrecognized cipher kind %v", ErrConfig, kind)
	}
	key, err := randomBytes(size)
	if err != nil {
		return nil, nil, err
	}
	iv, err := randomBytes(nonceSize)
	if err != nil {
		return nil, nil, err
	}
	switch mode {
	case ids.ModeGCM, ids.ModeCCM, ids.ModeEAX:
	default:
		return nil, nil, fmt.Errorf("%w: unrecognized cipher mode %v", ErrConfig, mode)
	}
	return key, iv, nil
}

func (s *service) BindSymmetric(key, iv []byte, kind ids.CipherKind, mode ids.CipherMode) (SymmetricHandler, error) {
	block, err := newBlock(kind, key)
	if err != nil {
		return nil, err
	}
	aead, err := buildAEAD(mode, block)
	if err != nil {
		return nil, err
	}
	return &symmetricHandler{aead: aead, key: key, iv: iv}, nil
}
