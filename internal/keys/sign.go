package keys

import (
	"bytes"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a 65-byte (r, s, v) secp256k1 signature.
type Signature [65]byte

// Sign produces a 65-byte recoverable signature over digest.
func Sign(priv *ecdsa.PrivateKey, digest [32]byte) (Signature, error) {
	raw, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return Signature{}, err
	}
	var sig Signature
	copy(sig[:], raw)
	return sig, nil
}

// Recover recovers the signer address from (digest, signature). It returns
// an error if the signature is malformed; it never errors simply because
// the recovered address doesn't match what the caller expected — that
// comparison is the caller's job.
func Recover(digest [32]byte, sig Signature) (common.Address, error) {
	pub, err := crypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// CanonicalPreimage builds the domain-separated, `|`-joined preimage used
// by every signed message in the system: a literal ASCII tag
// followed by the typed fields in canonical order, Keccak256-hashed.
func CanonicalPreimage(tag string, fields ...[]byte) [32]byte {
	parts := make([][]byte, 0, len(fields)+1)
	parts = append(parts, []byte(tag))
	parts = append(parts, fields...)
	joined := bytes.Join(parts, []byte("|"))
	return crypto.Keccak256Hash(joined)
}
