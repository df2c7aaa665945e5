package snapshotstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/backup"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
	"github.com/suebtwist/sanctuary-sub000/internal/registry"
)

type memStore struct {
	byAgent map[common.Address][]Snapshot
}

func newMemStore() *memStore { return &memStore{byAgent: map[common.Address][]Snapshot{}} }

func (m *memStore) NextSeqAndInsert(ctx context.Context, s *Snapshot) error {
	existing := m.byAgent[s.Agent]
	s.Seq = uint64(len(existing)) + 1
	m.byAgent[s.Agent] = append(existing, *s)
	return nil
}

func (m *memStore) HasAny(ctx context.Context, agent common.Address) (bool, error) {
	return len(m.byAgent[agent]) > 0, nil
}

func (m *memStore) MostRecentUploadTime(ctx context.Context, agent common.Address) (time.Time, bool, error) {
	snaps := m.byAgent[agent]
	if len(snaps) == 0 {
		return time.Time{}, false, nil
	}
	return snaps[len(snaps)-1].ReceivedAt, true, nil
}

func (m *memStore) ListNewestFirst(ctx context.Context, agent common.Address, limit int) ([]Snapshot, error) {
	snaps := m.byAgent[agent]
	out := make([]Snapshot, len(snaps))
	for i, s := range snaps {
		out[len(snaps)-1-i] = s
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Latest(ctx context.Context, agent common.Address) (*Snapshot, error) {
	snaps := m.byAgent[agent]
	if len(snaps) == 0 {
		return nil, apperr.New(apperr.NotFound, "NotFound", "no snapshots")
	}
	last := snaps[len(snaps)-1]
	return &last, nil
}

type memAgents struct {
	agent *registry.Agent
}

func (m *memAgents) Get(ctx context.Context, addr common.Address) (*registry.Agent, error) {
	if m.agent == nil || m.agent.Address != addr {
		return nil, apperr.New(apperr.NotFound, "AgentNotFound", "not found")
	}
	return m.agent, nil
}

type memObjects struct {
	data map[string][]byte
	n    int
}

func newMemObjects() *memObjects { return &memObjects{data: map[string][]byte{}} }

func (m *memObjects) Put(ctx context.Context, data []byte) (string, error) {
	m.n++
	handle := uuid.NewString()
	m.data[handle] = append([]byte(nil), data...)
	return handle, nil
}

func (m *memObjects) Get(ctx context.Context, handle string) ([]byte, error) {
	return m.data[handle], nil
}

type noopTrust struct{ notified []common.Address }

func (n *noopTrust) NotifyRecompute(agent common.Address) { n.notified = append(n.notified, agent) }

func buildSignedBackup(t *testing.T, ks *keys.KeySet, agentHex string, seq uint64, prevHash string, files map[string][]byte, metaJSON []byte) (*backup.Header, map[string][]byte) {
	t.Helper()
	h := &backup.Header{
		Version:        1,
		Agent:          agentHex,
		BackupID:       uuid.NewString(),
		Seq:            seq,
		Timestamp:      time.Now().Unix(),
		ManifestHash:   "0xdeadbeef",
		PrevBackupHash: prevHash,
		SnapshotMeta:   metaJSON,
	}
	dek := [keys.KeySize]byte{1}
	aad := backup.AADFields{BackupID: h.BackupID, Timestamp: h.Timestamp, Agent: h.Agent, ManifestHash: h.ManifestHash}
	fileList := make([]backup.File, 0, len(files))
	for name, data := range files {
		fileList = append(fileList, backup.File{Name: name, Data: data})
	}
	encoded, err := backup.Encode(h, fileList, dek, aad)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decodedHeader, blobs, err := backup.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := backup.Sign(decodedHeader, blobs, ks.AgentSecret); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return decodedHeader, blobs
}

func setup(t *testing.T) (*keys.KeySet, *Service, *memStore) {
	t.Helper()
	ks, err := keys.Derive("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	store := newMemStore()
	agents := &memAgents{agent: &registry.Agent{Address: ks.Address, Status: registry.StatusLiving}}
	objects := newMemObjects()
	svc := NewService(store, agents, objects, &noopTrust{}, 64<<20, 24*time.Hour)
	return ks, svc, store
}

func TestUploadFirstSnapshotSeq1(t *testing.T) {
	ks, svc, _ := setup(t)
	header, blobs := buildSignedBackup(t, ks, ks.Address.Hex(), 1, "", map[string][]byte{"soul.md": []byte("# I am.")}, nil)

	res, err := svc.Upload(context.Background(), ks.Address, header, blobs, []byte("raw-payload"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", res.Seq)
	}

	list, err := svc.List(context.Background(), ks.Address, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(list))
	}
}

func TestSecondUploadWithinDayRejected(t *testing.T) {
	ks, svc, _ := setup(t)
	header1, blobs1 := buildSignedBackup(t, ks, ks.Address.Hex(), 1, "", map[string][]byte{"soul.md": []byte("A")}, nil)
	if _, err := svc.Upload(context.Background(), ks.Address, header1, blobs1, []byte("payload-1")); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	header2, blobs2 := buildSignedBackup(t, ks, ks.Address.Hex(), 2, "", map[string][]byte{"soul.md": []byte("B")}, nil)
	_, err := svc.Upload(context.Background(), ks.Address, header2, blobs2, []byte("payload-2"))
	if apperr.CodeOf(err) != "DailyLimitReached" {
		t.Fatalf("expected DailyLimitReached, got %v", err)
	}

	list, _ := svc.List(context.Background(), ks.Address, 10)
	if len(list) != 1 {
		t.Fatalf("expected list unchanged at 1, got %d", len(list))
	}
}

func TestGenesisCoercedWhenPriorSnapshotExists(t *testing.T) {
	ks, svc, store := setup(t)

	metaGenesisTrue, _ := json.Marshal(SnapshotMeta{Genesis: true})
	header1, blobs1 := buildSignedBackup(t, ks, ks.Address.Hex(), 1, "", map[string][]byte{"soul.md": []byte("A")}, metaGenesisTrue)
	if _, err := svc.Upload(context.Background(), ks.Address, header1, blobs1, []byte("payload-1")); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	// Force past the daily window so a second upload is accepted.
	snaps := store.byAgent[ks.Address]
	snaps[0].ReceivedAt = time.Now().Add(-25 * time.Hour)
	store.byAgent[ks.Address] = snaps

	header2, blobs2 := buildSignedBackup(t, ks, ks.Address.Hex(), 2, "", map[string][]byte{"soul.md": []byte("B")}, metaGenesisTrue)
	if _, err := svc.Upload(context.Background(), ks.Address, header2, blobs2, []byte("payload-2")); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	list, _ := svc.List(context.Background(), ks.Address, 10)
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	var m SnapshotMeta
	if err := json.Unmarshal(list[0].SnapshotMeta, &m); err != nil {
		t.Fatalf("unmarshal meta: %v", err)
	}
	if m.Genesis {
		t.Fatalf("expected second snapshot's genesis flag coerced to false")
	}
}
