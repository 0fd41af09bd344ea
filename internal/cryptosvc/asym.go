package cryptosvc

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
)

func parsePrivateKey(privatePEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(privatePEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in private key", ErrConfig)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrConfig)
	}
	return key, nil
}

func parsePublicKey(publicPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicPEM)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found in public key", ErrConfig)
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		if key, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return key, nil
		}
		return nil, fmt.Errorf("%w: certificate public key is not RSA", ErrConfig)
	}
	generic, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	key, ok := generic.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrConfig)
	}
	return key, nil
}

// signaturePad frames data with a fixed prefix and length so that a
// recovered payload can be checked for integrity without a separate
// digest, since VerifyAndRecoverWithPublic recovers the original bytes
// directly rather than comparing against an independently computed hash.
var signaturePad = []byte("syn-rsa-recoverable:")

// SignWithPrivate produces a recoverable RSA signature: pad(data) is
// raised to the private exponent directly, so the original bytes can
// later be recovered from the public key alone rather than merely
// confirmed against a caller-supplied digest. This is classic textbook
// RSA, not a padded scheme like PSS/PKCS1v15, and is only sound for
// payloads smaller than the modulus minus the pad overhead; it exists
// to satisfy small fixed-size command-channel handshake payloads
// (short keys/nonces), not general-purpose message signing.
func (s *service) SignWithPrivate(privatePEM []byte, data []byte) ([]byte, error) {
	key, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	padded := append(append([]byte{}, signaturePad...), data...)
	modulusLen := (key.N.BitLen() + 7) / 8
	if len(padded) > modulusLen-1 {
		return nil, fmt.Errorf("%w: payload too large for recoverable RSA signature", ErrConfig)
	}

	m := new(big.Int).SetBytes(padded)
	if m.Cmp(key.N) >= 0 {
		return nil, fmt.Errorf("%w: payload exceeds modulus", ErrConfig)
	}
	sig := new(big.Int).Exp(m, key.D, key.N)
	out := make([]byte, modulusLen)
	sig.FillBytes(out)
	return out, nil
}

// VerifyAndRecoverWithPublic inverts SignWithPrivate: raises signed to
// the public exponent and strips the fixed prefix planted there,
// returning ErrAuth if the prefix is absent.
func (s *service) VerifyAndRecoverWithPublic(publicPEM []byte, signed []byte) ([]byte, error) {
	key, err := parsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}
	c := new(big.Int).SetBytes(signed)
	e := big.NewInt(int64(key.E))
	recovered := new(big.Int).Exp(c, e, key.N).Bytes()

	if len(recovered) < len(signaturePad) {
		return nil, fmt.Errorf("%w: recovered payload too short", ErrAuth)
	}
	idx := indexOfPad(recovered, signaturePad)
	if idx < 0 {
		return nil, fmt.Errorf("%w: recoverable signature prefix mismatch", ErrAuth)
	}
	return recovered[idx+len(signaturePad):], nil
}

func indexOfPad(recovered, pad []byte) int {
	if len(recovered) < len(pad) {
		return -1
	}
	for i := 0; i <= len(recovered)-len(pad); i++ {
		match := true
		for j := range pad {
			if recovered[i+j] != pad[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// EncryptWithPublic wraps data (a short symmetric key, in the RSA
// command-channel handshake flavor) with RSA-OAEP.
func (s *service) EncryptWithPublic(publicPEM []byte, data []byte) ([]byte, error) {
	key, err := parsePublicKey(publicPEM)
	if err != nil {
		return nil, err
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key, data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return out, nil
}

// DecryptWithPrivate reverses EncryptWithPublic.
func (s *service) DecryptWithPrivate(privatePEM []byte, data []byte) ([]byte, error) {
	key, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return out, nil
}
