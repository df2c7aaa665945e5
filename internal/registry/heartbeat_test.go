package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type memBeatStore struct {
	mu    sync.Mutex
	beats map[common.Address][]time.Time
}

func newMemBeatStore() *memBeatStore {
	return &memBeatStore{beats: make(map[common.Address][]time.Time)}
}

func (m *memBeatStore) Insert(ctx context.Context, agent common.Address, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[agent] = append(m.beats[agent], at)
	return nil
}

func (m *memBeatStore) LastHeartbeat(ctx context.Context, agent common.Address) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	beats := m.beats[agent]
	if len(beats) == 0 {
		return time.Time{}, false, nil
	}
	return beats[len(beats)-1], true, nil
}

func TestHeartbeatRecordAndReadBack(t *testing.T) {
	ks, err := keys.Derive(testMnemonic)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	store := newMemBeatStore()
	svc := NewHeartbeatService(store)

	ts := time.Now().Unix()
	sig, err := keys.Sign(ks.AgentSecret, HeartbeatPreimage(ks.Address, ts))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := svc.Record(context.Background(), ks.Address, ts, sig); err != nil {
		t.Fatalf("Record: %v", err)
	}

	last, ok, err := store.LastHeartbeat(context.Background(), ks.Address)
	if err != nil || !ok {
		t.Fatalf("LastHeartbeat: ok=%v err=%v", ok, err)
	}
	if last.Unix() != ts {
		t.Errorf("stored heartbeat at %d, want %d", last.Unix(), ts)
	}
}

func TestHeartbeatRejectsWrongSigner(t *testing.T) {
	ks, _ := keys.Derive(testMnemonic)
	svc := NewHeartbeatService(newMemBeatStore())

	ts := time.Now().Unix()
	// Signed with the recovery key instead of the agent key.
	sig, err := keys.Sign(ks.RecoverySecret, HeartbeatPreimage(ks.Address, ts))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	err = svc.Record(context.Background(), ks.Address, ts, sig)
	if err == nil {
		t.Fatal("heartbeat with wrong signer must be rejected")
	}
	if apperr.KindOf(err) != apperr.InvalidInput {
		t.Errorf("kind = %s, want invalid_input", apperr.KindOf(err))
	}
}

func TestHeartbeatRejectsSkewedTimestamp(t *testing.T) {
	ks, _ := keys.Derive(testMnemonic)
	svc := NewHeartbeatService(newMemBeatStore())

	ts := time.Now().Add(-time.Hour).Unix()
	sig, _ := keys.Sign(ks.AgentSecret, HeartbeatPreimage(ks.Address, ts))

	if err := svc.Record(context.Background(), ks.Address, ts, sig); err == nil {
		t.Fatal("stale heartbeat timestamp must be rejected")
	}
}

func TestHeartbeatCannotBeReplayedForAnotherAgent(t *testing.T) {
	ks, _ := keys.Derive(testMnemonic)
	svc := NewHeartbeatService(newMemBeatStore())

	ts := time.Now().Unix()
	sig, _ := keys.Sign(ks.AgentSecret, HeartbeatPreimage(ks.Address, ts))

	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	if err := svc.Record(context.Background(), other, ts, sig); err == nil {
		t.Fatal("heartbeat signature bound to one agent must not verify for another")
	}
}
