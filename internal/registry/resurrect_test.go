package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/singleflight"
)

type memSnapshots struct {
	summaries []SnapshotSummary
}

func (m *memSnapshots) ListAllNewestFirst(ctx context.Context, addr common.Address) ([]SnapshotSummary, error) {
	out := make([]SnapshotSummary, len(m.summaries))
	copy(out, m.summaries)
	return out, nil
}

func (m *memSnapshots) LatestManifestHash(ctx context.Context, addr common.Address) (string, bool, error) {
	if len(m.summaries) == 0 {
		return "", false, nil
	}
	return m.summaries[0].ManifestHash, true, nil
}

type memTrust struct{}

func (memTrust) ScoreAndLevel(ctx context.Context, addr common.Address) (float64, string, error) {
	return 42.5, "VERIFIED", nil
}

func (memTrust) AttestationCount(ctx context.Context, addr common.Address) (int, error) {
	return 2, nil
}

func newResurrectionFixture(t *testing.T) (*ResurrectionService, *memStore, common.Address) {
	t.Helper()
	ks := mustKeySet(t)
	store := newMemStore()
	hb := &memHeartbeats{last: map[common.Address]time.Time{}}
	svc := NewService(store, hb, 3)

	if _, err := svc.Register(context.Background(), signedRegisterRequest(t, ks)); err != nil {
		t.Fatalf("register: %v", err)
	}

	snaps := &memSnapshots{summaries: []SnapshotSummary{
		{ID: "b", Seq: 2, Timestamp: 200, StorageHandle: "h2", SizeBytes: 20, ManifestHash: "0xm2"},
		{ID: "a", Seq: 1, Timestamp: 100, StorageHandle: "h1", SizeBytes: 10, ManifestHash: "0xm1"},
	}}
	rs := NewResurrectionService(svc, snaps, memTrust{}, &singleflight.Group{}, 3)
	return rs, store, ks.Address
}

func TestResurrectFromFallen(t *testing.T) {
	rs, store, addr := newResurrectionFixture(t)

	if err := store.SetStatus(context.Background(), addr, StatusFallen); err != nil {
		t.Fatalf("set status: %v", err)
	}

	manifest, err := rs.Resurrect(context.Background(), addr)
	if err != nil {
		t.Fatalf("resurrect: %v", err)
	}

	if manifest.PreviousStatus != StatusFallen {
		t.Errorf("previous status = %s, want FALLEN", manifest.PreviousStatus)
	}
	if manifest.Status != StatusReturned {
		t.Errorf("status = %s, want RETURNED", manifest.Status)
	}
	if len(store.resurrections) != 1 {
		t.Fatalf("resurrection log has %d events, want 1", len(store.resurrections))
	}
	if store.resurrections[0].PriorStatus != StatusFallen {
		t.Errorf("logged prior status = %s, want FALLEN", store.resurrections[0].PriorStatus)
	}

	agent, err := rs.Get(context.Background(), addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agent.Status != StatusReturned {
		t.Errorf("stored status = %s, want RETURNED", agent.Status)
	}

	// Manifest lists every snapshot newest-first.
	if len(manifest.Snapshots) != 2 {
		t.Fatalf("manifest has %d snapshots, want 2", len(manifest.Snapshots))
	}
	if manifest.Snapshots[0].Seq != 2 || manifest.Snapshots[1].Seq != 1 {
		t.Errorf("snapshots not newest-first: seqs %d, %d",
			manifest.Snapshots[0].Seq, manifest.Snapshots[1].Seq)
	}
	if manifest.GenesisDeclaration != "# I am." {
		t.Errorf("genesis declaration = %q", manifest.GenesisDeclaration)
	}
	if manifest.Identity.TrustLevel != "VERIFIED" || manifest.Identity.TotalSnapshots != 2 {
		t.Errorf("identity block = %+v", manifest.Identity)
	}
}

func TestResurrectRateLimited(t *testing.T) {
	rs, store, addr := newResurrectionFixture(t)
	store.SetStatus(context.Background(), addr, StatusFallen)

	for i := 0; i < 3; i++ {
		if _, err := rs.Resurrect(context.Background(), addr); err != nil {
			t.Fatalf("resurrect %d: %v", i, err)
		}
	}

	_, err := rs.Resurrect(context.Background(), addr)
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("fourth resurrection should hit the hourly limit, got %v", err)
	}
}

func TestConcurrentResurrectionsSerialised(t *testing.T) {
	rs, store, addr := newResurrectionFixture(t)
	store.SetStatus(context.Background(), addr, StatusFallen)

	const callers = 8
	var wg sync.WaitGroup
	manifests := make([]*ResurrectionManifest, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			manifests[i], errs[i] = rs.Resurrect(context.Background(), addr)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range manifests {
		if errs[i] == nil && manifests[i] != nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		t.Fatal("no resurrection succeeded")
	}
	// Single-flight collapses the burst: far fewer events than callers,
	// and never more than the hourly limit.
	if len(store.resurrections) > 3 {
		t.Errorf("%d resurrection events recorded for one concurrent burst (limit 3)",
			len(store.resurrections))
	}
}
