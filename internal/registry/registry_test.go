package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

type memStore struct {
	agents        map[common.Address]*Agent
	resurrections []ResurrectionEvent
}

func newMemStore() *memStore {
	return &memStore{agents: map[common.Address]*Agent{}}
}

func (m *memStore) Insert(ctx context.Context, a *Agent) error {
	cp := *a
	m.agents[a.Address] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, addr common.Address) (*Agent, error) {
	a, ok := m.agents[addr]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "AgentNotFound", "not found")
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) Exists(ctx context.Context, addr common.Address) (bool, error) {
	_, ok := m.agents[addr]
	return ok, nil
}

func (m *memStore) SetStatus(ctx context.Context, addr common.Address, status Status) error {
	a, ok := m.agents[addr]
	if !ok {
		return apperr.New(apperr.NotFound, "AgentNotFound", "not found")
	}
	a.Status = status
	return nil
}

func (m *memStore) InsertResurrection(ctx context.Context, e *ResurrectionEvent) error {
	m.resurrections = append(m.resurrections, *e)
	return nil
}

func (m *memStore) CountResurrectionsSince(ctx context.Context, addr common.Address, since time.Time) (int, error) {
	n := 0
	for _, e := range m.resurrections {
		if e.Agent == addr && !e.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListLiving(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	for addr, a := range m.agents {
		if a.Status == StatusLiving {
			out = append(out, addr)
		}
	}
	return out, nil
}

type memHeartbeats struct {
	last map[common.Address]time.Time
}

func (m *memHeartbeats) LastHeartbeat(ctx context.Context, addr common.Address) (time.Time, bool, error) {
	t, ok := m.last[addr]
	return t, ok, nil
}

func mustKeySet(t *testing.T) *keys.KeySet {
	t.Helper()
	ks, err := keys.Derive("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return ks
}

func signedRegisterRequest(t *testing.T, ks *keys.KeySet) *RegisterRequest {
	t.Helper()
	req := &RegisterRequest{
		Agent:              ks.Address,
		RecoveryPubKey:     []byte{1, 2, 3},
		RecallPubKey:       []byte{4, 5, 6},
		ManifestHash:       "0xdeadbeef",
		ManifestVersion:    1,
		Deadline:           time.Now().Add(time.Hour),
		GenesisDeclaration: "# I am.",
	}
	digest := RegisterPreimage(req)
	sig, err := keys.Sign(ks.AgentSecret, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req.Signature = sig
	return req
}

func TestRegisterThenDuplicateFails(t *testing.T) {
	ks := mustKeySet(t)
	store := newMemStore()
	svc := NewService(store, &memHeartbeats{last: map[common.Address]time.Time{}}, 3)

	req := signedRegisterRequest(t, ks)
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := svc.Register(context.Background(), req)
	if apperr.CodeOf(err) != "AgentExists" {
		t.Fatalf("expected AgentExists, got %v", err)
	}
}

func TestRegisterRejectsBadSignature(t *testing.T) {
	ks := mustKeySet(t)
	other := mustDeriveOther(t)
	store := newMemStore()
	svc := NewService(store, &memHeartbeats{last: map[common.Address]time.Time{}}, 3)

	req := signedRegisterRequest(t, ks)
	req.Agent = other.Address // claims someone else's address

	_, err := svc.Register(context.Background(), req)
	if apperr.CodeOf(err) != "SignatureInvalid" {
		t.Fatalf("expected SignatureInvalid, got %v", err)
	}
}

func mustDeriveOther(t *testing.T) *keys.KeySet {
	t.Helper()
	ks, err := keys.Derive("legal winner thank year wave sausage worth useful legal winner thank yellow")
	if err != nil {
		t.Fatalf("derive other: %v", err)
	}
	return ks
}

func TestSweepFallenTransitionsOnlyStaleLiving(t *testing.T) {
	ks := mustKeySet(t)
	store := newMemStore()
	hb := &memHeartbeats{last: map[common.Address]time.Time{}}
	svc := NewService(store, hb, 3)

	req := signedRegisterRequest(t, ks)
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("register: %v", err)
	}
	hb.last[ks.Address] = time.Now().Add(-31 * 24 * time.Hour)

	n, err := svc.SweepFallen(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 fallen transition, got %d", n)
	}

	agent, err := svc.Get(context.Background(), ks.Address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agent.Status != StatusFallen {
		t.Fatalf("expected FALLEN, got %s", agent.Status)
	}
}

func TestSweepFallenNeverRefallsReturned(t *testing.T) {
	ks := mustKeySet(t)
	store := newMemStore()
	hb := &memHeartbeats{last: map[common.Address]time.Time{}}
	svc := NewService(store, hb, 3)

	req := signedRegisterRequest(t, ks)
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := store.SetStatus(context.Background(), ks.Address, StatusReturned); err != nil {
		t.Fatalf("set status: %v", err)
	}
	hb.last[ks.Address] = time.Now().Add(-60 * 24 * time.Hour)

	n, err := svc.SweepFallen(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected RETURNED agent to be left alone, sweep transitioned %d", n)
	}
}
