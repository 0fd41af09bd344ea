package cryptosvc

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/twofish"

	"github.com/sndnv/syn-server-core/internal/ids"
)

// newBlock constructs the raw block cipher behind a CipherKind. AES
// and Twofish are both 16-byte-block ciphers so the same GCM/CCM/EAX
// mode plumbing in modes.go composes over either unchanged.
func newBlock(kind ids.CipherKind, key []byte) (cipher.Block, error) {
	switch kind {
	case ids.CipherAES:
		return aes.NewCipher(key)
	case ids.CipherTwofish:
		return twofish.NewCipher(key)
	case ids.CipherSerpent:
		return newSerpentCipher(key)
	default:
		return nil, fmt.Errorf("%w: unrecognized cipher kind %v", ErrConfig, kind)
	}
}

// KeySize returns the symmetric key length a CipherKind expects.
func KeySize(kind ids.CipherKind) int {
	switch kind {
	case ids.CipherAES, ids.CipherTwofish, ids.CipherSerpent:
		return 32
	default:
		return 0
	}
}
