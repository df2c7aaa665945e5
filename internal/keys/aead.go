package keys

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize and TagSize are the 96-bit nonce / 128-bit tag the envelope format
// mandates for the AEAD scheme.
const (
	NonceSize = chacha20poly1305.NonceSize   // 12 bytes
	TagSize   = chacha20poly1305.Overhead    // 16 bytes
	KeySize   = chacha20poly1305.KeySize     // 32 bytes
)

// Seal encrypts plaintext under key with a fresh random nonce, binding aad.
// The returned blob is nonce || ciphertext || tag.
func Seal(key [KeySize]byte, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := aead.Seal(nonce, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts a nonce||ciphertext||tag blob produced by Seal, verifying
// aad. Any tampering with the envelope, the ciphertext, or the aad (e.g.
// substituting a file from a different backup) causes this to fail.
func Open(key [KeySize]byte, blob, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	if len(blob) < NonceSize {
		return nil, errors.New("keys: ciphertext shorter than nonce")
	}
	nonce, ct := blob[:NonceSize], blob[NonceSize:]
	return aead.Open(nil, nonce, ct, aad)
}
