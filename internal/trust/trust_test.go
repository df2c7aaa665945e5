package trust

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

type memFacts struct {
	agents    []AgentFacts
	snapsByAddr map[common.Address][]SnapshotRecord
	resurrect map[common.Address][2]int
}

func (m *memFacts) ListAgents(ctx context.Context) ([]AgentFacts, error) { return m.agents, nil }

func (m *memFacts) SnapshotsFor(ctx context.Context, agent common.Address) ([]SnapshotRecord, error) {
	return m.snapsByAddr[agent], nil
}

func (m *memFacts) ResurrectionCounts(ctx context.Context, agent common.Address) (int, int, error) {
	v := m.resurrect[agent]
	return v[0], v[1], nil
}

type memAttestations struct {
	edges     []Edge
	notes     map[[32]byte]string
	created   []*Attestation
	cooldowns map[[2]common.Address]time.Time
}

func newMemAttestations() *memAttestations {
	return &memAttestations{notes: map[[32]byte]string{}, cooldowns: map[[2]common.Address]time.Time{}}
}

func (m *memAttestations) Insert(ctx context.Context, a *Attestation) error {
	m.created = append(m.created, a)
	m.edges = append(m.edges, Edge{From: a.From, About: a.About})
	m.cooldowns[[2]common.Address{a.From, a.About}] = a.CreatedAt
	return nil
}

func (m *memAttestations) ExistsWithinCooldown(ctx context.Context, from, about common.Address, since time.Time) (bool, error) {
	t, ok := m.cooldowns[[2]common.Address{from, about}]
	return ok && t.After(since), nil
}

func (m *memAttestations) InsertNoteIfAbsent(ctx context.Context, hash [32]byte, note string) error {
	if _, ok := m.notes[hash]; !ok {
		m.notes[hash] = note
	}
	return nil
}

func (m *memAttestations) AllEdges(ctx context.Context) ([]Edge, error) { return m.edges, nil }

func (m *memAttestations) CountAttestationsAbout(ctx context.Context, about common.Address) (int, error) {
	n := 0
	for _, e := range m.edges {
		if e.About == about {
			n++
		}
	}
	return n, nil
}

func (m *memAttestations) CountUniqueAttestersAbout(ctx context.Context, about common.Address) (int, error) {
	seen := map[common.Address]bool{}
	for _, e := range m.edges {
		if e.About == about {
			seen[e.From] = true
		}
	}
	return len(seen), nil
}

type memScores struct {
	byAddr map[common.Address]*TrustScore
}

func newMemScores() *memScores { return &memScores{byAddr: map[common.Address]*TrustScore{}} }

func (m *memScores) Save(ctx context.Context, s *TrustScore) error {
	cp := *s
	m.byAddr[s.Agent] = &cp
	return nil
}

func (m *memScores) Get(ctx context.Context, agent common.Address) (*TrustScore, error) {
	return m.byAddr[agent], nil
}

type stubLedger struct{}

func (stubLedger) Submit(ctx context.Context, payload []byte) (string, bool, error) {
	return "tx-stub", true, nil
}

func mustKeySet(t *testing.T, mnemonic string) *keys.KeySet {
	t.Helper()
	ks, err := keys.Derive(mnemonic)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return ks
}

func TestAttestSelfRejected(t *testing.T) {
	ks := mustKeySet(t, "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	facts := &memFacts{}
	att := newMemAttestations()
	engine := NewEngine(facts, att, newMemScores(), stubLedger{}, AttestationCooldown)

	req := &SubmitRequest{From: ks.Address, About: ks.Address, NoteHash: [32]byte{1}, Deadline: time.Now().Add(time.Hour)}
	digest := AttestPreimage(req)
	sig, err := keys.Sign(ks.AgentSecret, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Signature = sig

	_, err = engine.Attest(context.Background(), req)
	if apperr.CodeOf(err) != "SelfAttestation" {
		t.Fatalf("expected SelfAttestation, got %v", err)
	}
}

func TestAttestCooldownActive(t *testing.T) {
	from := mustKeySet(t, "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	about := mustKeySet(t, "legal winner thank year wave sausage worth useful legal winner thank yellow")
	facts := &memFacts{}
	att := newMemAttestations()
	engine := NewEngine(facts, att, newMemScores(), stubLedger{}, AttestationCooldown)

	mkReq := func() *SubmitRequest {
		req := &SubmitRequest{From: from.Address, About: about.Address, NoteHash: [32]byte{2}, Deadline: time.Now().Add(time.Hour)}
		digest := AttestPreimage(req)
		sig, err := keys.Sign(from.AgentSecret, digest)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Signature = sig
		return req
	}

	if _, err := engine.Attest(context.Background(), mkReq()); err != nil {
		t.Fatalf("first attest: %v", err)
	}
	_, err := engine.Attest(context.Background(), mkReq())
	if apperr.CodeOf(err) != "CooldownActive" {
		t.Fatalf("expected CooldownActive, got %v", err)
	}
}

func TestTrustScoreVectorAgedAgentWithOneAttestation(t *testing.T) {
	aged := mustKeySet(t, "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	peer := mustKeySet(t, "legal winner thank year wave sausage worth useful legal winner thank yellow")

	now := time.Now()
	agedRegistered := now.Add(-180 * 24 * time.Hour)
	peerRegistered := now

	var snaps []SnapshotRecord
	for i := 0; i < 10; i++ {
		snaps = append(snaps, SnapshotRecord{
			Timestamp:    now.Add(-time.Duration(9-i) * 24 * time.Hour),
			ManifestHash: fmt.Sprintf("0x%064x", i+1),
		})
	}

	facts := &memFacts{
		agents: []AgentFacts{
			{Address: aged.Address, RegisteredAt: agedRegistered},
			{Address: peer.Address, RegisteredAt: peerRegistered},
		},
		snapsByAddr: map[common.Address][]SnapshotRecord{
			aged.Address: snaps,
		},
		resurrect: map[common.Address][2]int{},
	}
	att := newMemAttestations()
	att.edges = []Edge{{From: peer.Address, About: aged.Address}}
	scores := newMemScores()
	engine := NewEngine(facts, att, scores, stubLedger{}, AttestationCooldown)

	if err := engine.RecomputeAll(context.Background()); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	score := scores.byAddr[aged.Address]
	if score == nil {
		t.Fatalf("expected a cached score for the aged agent")
	}

	if diff := math.Abs(score.Signals.Age - 0.5); diff > 0.01 {
		t.Fatalf("expected age signal ~0.5, got %v", score.Signals.Age)
	}
	if diff := math.Abs(score.Signals.BackupConsistency - 0.0556); diff > 0.01 {
		t.Fatalf("expected backup-consistency signal ~0.055, got %v", score.Signals.BackupConsistency)
	}
	if diff := math.Abs(score.Signals.GenesisCompleteness - 0.6); diff > 1e-9 {
		t.Fatalf("expected genesis-completeness signal 0.6, got %v", score.Signals.GenesisCompleteness)
	}

	wantRaw := score.Signals.Raw()
	if diff := math.Abs(score.Score - wantRaw); diff > 1 {
		t.Fatalf("expected raw score within 1 of the weighted signal sum, got score=%v want=%v", score.Score, wantRaw)
	}
}
