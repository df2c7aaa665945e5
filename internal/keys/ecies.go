package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// WrappedKey is the ECIES envelope produced by WrapKey: an ephemeral public
// key, a nonce, and the AEAD-sealed payload.
type WrappedKey struct {
	EphemeralPub [65]byte // uncompressed secp256k1 point
	Blob         []byte   // nonce || ciphertext || tag, sealed under the ECDH-derived key
}

// wrapInfo domain-separates the ECIES key-wrap HKDF expansion from every
// other HKDF use in the package.
const wrapInfo = "sanctuary-ecies-wrap-v1"

// WrapKey encrypts dek to recipientPub so that only the holder of the
// matching private key can recover it. A fresh ephemeral
// keypair is generated per call, so wrapping the same dek to the same
// recipient twice yields unlinkable ciphertexts.
func WrapKey(recipientPub *ecdsa.PublicKey, dek [KeySize]byte) (*WrappedKey, error) {
	ephPriv, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	shared, err := ecdh(ephPriv, recipientPub)
	if err != nil {
		return nil, err
	}
	wrapKey, err := Expand(shared, nil, []byte(wrapInfo))
	if err != nil {
		return nil, err
	}

	blob, err := Seal(wrapKey, dek[:], nil)
	if err != nil {
		return nil, err
	}

	var ephPub [65]byte
	copy(ephPub[:], elliptic.Marshal(crypto.S256(), ephPriv.PublicKey.X, ephPriv.PublicKey.Y))

	return &WrappedKey{EphemeralPub: ephPub, Blob: blob}, nil
}

// UnwrapKey recovers the dek sealed by WrapKey, using recipientPriv.
func UnwrapKey(recipientPriv *ecdsa.PrivateKey, w *WrappedKey) ([KeySize]byte, error) {
	var out [KeySize]byte

	x, y := elliptic.Unmarshal(crypto.S256(), w.EphemeralPub[:])
	if x == nil {
		return out, errors.New("keys: malformed ephemeral public key")
	}
	ephPub := &ecdsa.PublicKey{Curve: crypto.S256(), X: x, Y: y}

	shared, err := ecdh(recipientPriv, ephPub)
	if err != nil {
		return out, err
	}
	wrapKey, err := Expand(shared, nil, []byte(wrapInfo))
	if err != nil {
		return out, err
	}

	plain, err := Open(wrapKey, w.Blob, nil)
	if err != nil {
		return out, errors.New("keys: wrapped key failed to open (wrong key or tampered envelope)")
	}
	if len(plain) != KeySize {
		return out, errors.New("keys: unwrapped key has unexpected length")
	}
	copy(out[:], plain)
	return out, nil
}

// ecdh returns the shared X coordinate of priv*pub, the standard ECDH
// shared secret for secp256k1.
func ecdh(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	x, _ := crypto.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	if x == nil {
		return nil, errors.New("keys: ECDH produced point at infinity")
	}
	return x.Bytes(), nil
}
