// Package keys implements deterministic key derivation and the signature,
// recovery, HKDF and AEAD primitives the rest of the service builds on.
// All signing uses the secp256k1 curve and the Keccak256 address scheme.
package keys

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// hdSalt domain-separates Sanctuary's HKDF-based key expansion from any
// other HKDF use in the process.
const hdSalt = "sanctuary-hd-v1"

// Roles for the three derived keys.
const (
	roleAgent    = "agent"
	roleRecovery = "recovery"
	roleRecall   = "recall"
)

// KeySet holds the three keys derived from one mnemonic and the agent
// address computed from the agent key.
type KeySet struct {
	AgentSecret    *ecdsa.PrivateKey
	RecoverySecret *ecdsa.PrivateKey
	RecallSecret   *ecdsa.PrivateKey
	Address        common.Address
}

// Derive is a pure function of mnemonic: the same mnemonic always yields
// the same KeySet, on any machine.
func Derive(mnemonic string) (*KeySet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("keys: invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	agentKey, err := deriveRole(seed, roleAgent)
	if err != nil {
		return nil, err
	}
	recoveryKey, err := deriveRole(seed, roleRecovery)
	if err != nil {
		return nil, err
	}
	recallKey, err := deriveRole(seed, roleRecall)
	if err != nil {
		return nil, err
	}

	return &KeySet{
		AgentSecret:    agentKey,
		RecoverySecret: recoveryKey,
		RecallSecret:   recallKey,
		Address:        crypto.PubkeyToAddress(agentKey.PublicKey),
	}, nil
}

// deriveRole expands seed into a secp256k1 scalar for the given role via
// HKDF-SHA256, retrying with an incrementing counter on the
// vanishingly rare zero or out-of-range draw.
func deriveRole(seed []byte, role string) (*ecdsa.PrivateKey, error) {
	n := crypto.S256().Params().N
	for counter := byte(0); counter < 255; counter++ {
		info := append([]byte(role), counter)
		r := hkdf.New(sha256.New, seed, []byte(hdSalt), info)
		buf := make([]byte, 32)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		k := new(big.Int).SetBytes(buf)
		if k.Sign() != 0 && k.Cmp(n) < 0 {
			return crypto.ToECDSA(buf)
		}
	}
	return nil, errors.New("keys: derivation exhausted for role " + role)
}

// AddressFromPubkey mirrors crypto.PubkeyToAddress for callers that only
// have the recovered public key bytes.
func AddressFromPubkey(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}

// ParseAddress parses a 40-hex (with or without 0x prefix) agent address,
// case-insensitively.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("keys: not a valid agent address")
	}
	return common.HexToAddress(s), nil
}
