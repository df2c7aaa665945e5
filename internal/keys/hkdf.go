package keys

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Expand derives a KeySize-byte key from secret using HKDF-SHA256 with the
// given salt and info labels — used both for per-file keys
// (salt=fileName) and for ECIES shared-secret expansion.
func Expand(secret, salt, info []byte) ([KeySize]byte, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	var out [KeySize]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return [KeySize]byte{}, err
	}
	return out, nil
}

// PerFileKey derives the per-file encryption key from a snapshot's DEK:
// HKDF(DEK, salt=fileName).
func PerFileKey(dek [KeySize]byte, fileName string) ([KeySize]byte, error) {
	return Expand(dek[:], []byte(fileName), []byte("sanctuary-backup-file-v1"))
}
