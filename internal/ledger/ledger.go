// Package ledger is the opaque on-chain attestation relay collaborator:
// submit(signedPayload) -> txHandle, with tx state pending -> confirmed |
// failed | simulated. Transaction state lives in a small KV store keyed by
// handle; the relay itself is either a real remote endpoint or a local
// simulation stub.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TxStatus is the lifecycle state of one relayed attestation.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxSimulated TxStatus = "simulated"
)

// TxRecord tracks one submitted payload.
type TxRecord struct {
	Handle      string    `json:"handle"`
	Status      TxStatus  `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FailureNote string    `json:"failure_note,omitempty"`
}

// ErrTxNotFound is returned when a handle has no tracked record.
var ErrTxNotFound = errors.New("ledger: tx not found")

// KV is the minimal key-value contract the tx store persists through.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// MemoryKV is an in-memory KV for tests and single-node deployments.
type MemoryKV struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{store: make(map[string][]byte)}
}

// Get implements KV. A missing key returns (nil, nil); the store treats
// nil as "not present".
func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.store[string(key)]; ok {
		return v, nil
	}
	return nil, nil
}

// Set implements KV.
func (m *MemoryKV) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[string(key)] = value
	return nil
}

// TxStore provides high-level access to relayed-tx state in the KV store.
//
// CONCURRENCY: TxStore assumes a single writer per handle (the relay that
// issued it); parallel readers are fine.
type TxStore struct {
	kv KV
}

// NewTxStore creates a TxStore over kv.
func NewTxStore(kv KV) *TxStore {
	return &TxStore{kv: kv}
}

var keyTxPrefix = []byte("attestledger:tx:")

func txKey(handle string) []byte {
	return append(append([]byte{}, keyTxPrefix...), []byte(handle)...)
}

// MarkSubmitted records a freshly submitted payload in its initial state.
func (s *TxStore) MarkSubmitted(handle string, status TxStatus, at time.Time) error {
	rec := &TxRecord{
		Handle:      handle,
		Status:      status,
		SubmittedAt: at,
		UpdatedAt:   at,
	}
	return s.save(rec)
}

// MarkConfirmed transitions a pending tx to confirmed.
func (s *TxStore) MarkConfirmed(handle string, at time.Time) error {
	return s.transition(handle, TxConfirmed, "", at)
}

// MarkFailed transitions a pending tx to failed with a note.
func (s *TxStore) MarkFailed(handle string, note string, at time.Time) error {
	return s.transition(handle, TxFailed, note, at)
}

// LoadTx returns the tracked record for handle.
func (s *TxStore) LoadTx(handle string) (*TxRecord, error) {
	raw, err := s.kv.Get(txKey(handle))
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to read tx record: %w", err)
	}
	if raw == nil {
		return nil, ErrTxNotFound
	}
	var rec TxRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("ledger: failed to unmarshal tx record: %w", err)
	}
	return &rec, nil
}

func (s *TxStore) transition(handle string, status TxStatus, note string, at time.Time) error {
	rec, err := s.LoadTx(handle)
	if err != nil {
		return err
	}
	if rec.Status != TxPending {
		return fmt.Errorf("ledger: tx %s is %s, cannot transition to %s", handle, rec.Status, status)
	}
	rec.Status = status
	rec.FailureNote = note
	rec.UpdatedAt = at
	return s.save(rec)
}

func (s *TxStore) save(rec *TxRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: failed to marshal tx record: %w", err)
	}
	if err := s.kv.Set(txKey(rec.Handle), b); err != nil {
		return fmt.Errorf("ledger: failed to write tx record: %w", err)
	}
	return nil
}
