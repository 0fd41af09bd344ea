package cryptosvc

import (
	"crypto/hmac"
	"hash"

	"golang.org/x/crypto/blake2s"
)

// deriveKeyFromSecret stretches a raw ECDH shared secret into a
// symmetric key using an HMAC-extract-then-expand construction, the
// same shape as HKDF, generalized here to an arbitrary-length
// AES/Twofish/Serpent key instead of a single fixed-size output.
func deriveKeyFromSecret(secret []byte, size int) []byte {
	prk := hmacBlake2s(nil, secret)

	out := make([]byte, 0, size+blake2s.Size)
	var block []byte
	counter := byte(1)
	for len(out) < size {
		input := append(append([]byte{}, block...), counter)
		block = hmacBlake2s(prk, input)
		out = append(out, block...)
		counter++
	}
	return out[:size]
}

func newBlake2sHash() hash.Hash {
	h, err := blake2s.New256(nil)
	if err != nil {
		panic(err)
	}
	return h
}

func hmacBlake2s(key, data []byte) []byte {
	mac := hmac.New(newBlake2sHash, key)
	mac.Write(data)
	return mac.Sum(nil)
}
