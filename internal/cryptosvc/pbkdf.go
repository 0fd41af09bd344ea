package cryptosvc

import (
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// PBKDFParams carries the derivation inputs the pairing handshake
// needs to reproduce the same key on the other side: salt/iv/iterations
// are carried in handshake payloads and discarded once the handler is
// built.
type PBKDFParams struct {
	Salt       []byte
	IV         []byte
	Iterations uint32
	Cipher     ids.CipherKind
	Mode       ids.CipherMode
}

const defaultPBKDFIterations = 100_000

// DeriveSymmetricFromPassword derives a symmetric handler from a
// shared password. When Salt/IV/Iterations are absent from params,
// fresh ones are generated for the initiator side of a handshake;
// when present, the same derivation reproduces the acceptor's key.
func (s *service) DeriveSymmetricFromPassword(password string, params PBKDFParams) (SymmetricHandler, PBKDFParams, error) {
	out := params
	if out.Cipher == 0 && out.Mode == 0 && len(out.Salt) == 0 {
		out.Cipher = ids.CipherAES
		out.Mode = ids.ModeGCM
	}

	if len(out.Salt) == 0 {
		salt, err := randomBytes(16)
		if err != nil {
			return nil, PBKDFParams{}, err
		}
		out.Salt = salt
	}
	if len(out.IV) == 0 {
		iv, err := randomBytes(nonceSize)
		if err != nil {
			return nil, PBKDFParams{}, err
		}
		out.IV = iv
	}
	if out.Iterations == 0 {
		out.Iterations = defaultPBKDFIterations
	}

	keySize := KeySize(out.Cipher)
	if keySize == 0 {
		return nil, PBKDFParams{}, ErrConfig
	}

	key := pbkdf2.Key([]byte(password), out.Salt, int(out.Iterations), keySize, sha3.New256)
	handler, err := s.BindSymmetric(key, out.IV, out.Cipher, out.Mode)
	if err != nil {
		return nil, PBKDFParams{}, err
	}
	return handler, out, nil
}
