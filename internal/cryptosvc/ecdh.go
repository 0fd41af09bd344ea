package cryptosvc

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// NewECDHKeyPair generates a fresh X25519 key pair.
func (s *service) NewECDHKeyPair() ([]byte, []byte, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, nil, err
	}
	// clamp per RFC 7748.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	return priv, pub, nil
}

// ECDHDerive computes the shared secret between localPrivate and
// remotePublic and binds it as the KEK for the command-channel
// handshake's ECDH flavor. If iv is empty a fresh one is generated,
// the same "absent means generate" convention DeriveSymmetricFromPassword
// uses.
func (s *service) ECDHDerive(localPrivate, remotePublic, iv []byte, kind ids.CipherKind, mode ids.CipherMode) (SymmetricHandler, error) {
	shared, err := curve25519.X25519(localPrivate, remotePublic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	keySize := KeySize(kind)
	if keySize == 0 {
		return nil, ErrConfig
	}
	key := deriveKeyFromSecret(shared, keySize)

	if len(iv) == 0 {
		iv, err = randomBytes(nonceSize)
		if err != nil {
			return nil, err
		}
	}
	return s.BindSymmetric(key, iv, kind, mode)
}
