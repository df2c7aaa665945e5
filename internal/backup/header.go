// Package backup implements the encrypted snapshot codec: a single
// self-describing byte stream binding a signed JSON header to a set of
// independently-decryptable, per-file AEAD-encrypted blobs.
package backup

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

// HeaderTag domain-separates backup header signatures from every other
// signed preimage in the system.
const HeaderTag = "sanctuary-backup-v1"

// ErrBackupCorrupted is returned for any malformed, truncated, or
// over-length byte stream encountered while decoding a backup.
var ErrBackupCorrupted = errors.New("backup: corrupted byte stream")

// maxFileCount bounds allocation before any length field is validated
// against the remaining buffer.
const maxFileCount = 10000

// Header is the JSON-serialized, partially-signed metadata block that
// precedes the file section of a backup byte stream.
type Header struct {
	Version         int    `json:"version"`
	Agent           string `json:"agent"`
	BackupID        string `json:"backupId"`
	Seq             uint64 `json:"seq"`
	Timestamp       int64  `json:"timestamp"`
	ManifestHash    string `json:"manifestHash"`
	PrevBackupHash  string `json:"prevBackupHash"`
	WrappedRecovery []byte `json:"wrappedRecovery"`
	WrappedRecall   []byte `json:"wrappedRecall"`
	Signature       []byte `json:"signature"`

	// SnapshotMeta is intentionally excluded from the signed preimage
	// so that a server may attach or amend it after the
	// client signs the header.
	SnapshotMeta json.RawMessage `json:"snapshotMeta,omitempty"`
}

// SignPreimage builds the canonical signed digest for h over the given
// sorted file-name-to-ciphertext map: tag, agent, backup
// id, seq, timestamp, manifest hash, prev backup hash, hash of the
// sorted files map, wrapped-recovery hash, wrapped-recall hash.
func SignPreimage(h *Header, files map[string][]byte) [32]byte {
	return keys.CanonicalPreimage(
		HeaderTag,
		[]byte(h.Agent),
		[]byte(h.BackupID),
		[]byte(strconv.FormatUint(h.Seq, 10)),
		[]byte(strconv.FormatInt(h.Timestamp, 10)),
		[]byte(h.ManifestHash),
		[]byte(h.PrevBackupHash),
		filesMapHash(files),
		keccak(h.WrappedRecovery),
		keccak(h.WrappedRecall),
	)
}

// filesMapHash hashes the sorted (name, ciphertext) pairs, so that
// reordering or substituting a file invalidates the header signature.
func filesMapHash(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var joined []byte
	for _, name := range names {
		joined = append(joined, []byte(name)...)
		joined = append(joined, '|')
		joined = append(joined, files[name]...)
		joined = append(joined, '|')
	}
	h := crypto.Keccak256(joined)
	return h
}

func keccak(b []byte) []byte {
	return crypto.Keccak256(b)
}

// Sign computes and stores h.Signature over files, using priv (the
// agent's signing key).
func Sign(h *Header, files map[string][]byte, priv *ecdsa.PrivateKey) error {
	digest := SignPreimage(h, files)
	sig, err := keys.Sign(priv, digest)
	if err != nil {
		return err
	}
	h.Signature = sig[:]
	return nil
}

// VerifySignature checks that h.Signature recovers agentAddr over files.
func VerifySignature(h *Header, files map[string][]byte, agentAddr common.Address) (bool, error) {
	if len(h.Signature) != 65 {
		return false, errors.New("backup: signature must be 65 bytes")
	}
	digest := SignPreimage(h, files)
	var sig keys.Signature
	copy(sig[:], h.Signature)
	recovered, err := keys.Recover(digest, sig)
	if err != nil {
		return false, err
	}
	return recovered == agentAddr, nil
}
