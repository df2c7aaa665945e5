package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
)

// SnapshotSummary is the per-snapshot entry carried in a resurrection
// manifest.
type SnapshotSummary struct {
	ID             string
	Seq            uint64
	Timestamp      int64
	StorageHandle  string
	SizeBytes      int64
	ManifestHash   string
	SnapshotMeta   []byte
}

// SnapshotLister is the subset of internal/snapshotstore this package needs
// to assemble a resurrection manifest, expressed as an interface so
// registry never imports snapshotstore directly; registry sits below
// snapshotstore in the dependency order.
type SnapshotLister interface {
	ListAllNewestFirst(ctx context.Context, addr common.Address) ([]SnapshotSummary, error)
	LatestManifestHash(ctx context.Context, addr common.Address) (string, bool, error)
}

// TrustReader is the subset of internal/trust this package needs for the
// identity summary in a resurrection manifest and agent.status responses.
type TrustReader interface {
	ScoreAndLevel(ctx context.Context, addr common.Address) (score float64, level string, err error)
	AttestationCount(ctx context.Context, addr common.Address) (int, error)
}

// IdentitySummary is the identity block of a resurrection manifest and of
// agent.status.
type IdentitySummary struct {
	Address            string
	TrustScore         float64
	TrustLevel         string
	AttestationCount   int
	RegisteredAt       time.Time
	LastBackup         *time.Time
	LastHeartbeat      *time.Time
	TotalSnapshots     int
	ResurrectionCount  int
}

// ResurrectionManifest is the full payload returned by agent.resurrect
//.
type ResurrectionManifest struct {
	Identity           IdentitySummary
	Snapshots          []SnapshotSummary
	GenesisDeclaration string
	Status             Status
	PreviousStatus     Status
}

// singleFlight abstracts internal/singleflight's Group so this package does
// not need to depend on its concrete type signature beyond Do.
type singleFlight interface {
	Do(key string, fn func() (interface{}, error)) (interface{}, error)
}

// ResurrectionService wires the registry store together with the
// snapshot/trust readers needed to build a full manifest, and serializes
// concurrent resurrection requests for the same agent.
type ResurrectionService struct {
	*Service
	snapshots SnapshotLister
	trust     TrustReader
	sf        singleFlight
	perHour   int
}

func NewResurrectionService(svc *Service, snapshots SnapshotLister, trust TrustReader, sf singleFlight, perHour int) *ResurrectionService {
	return &ResurrectionService{Service: svc, snapshots: snapshots, trust: trust, sf: sf, perHour: perHour}
}

// Resurrect performs the FALLEN -> RETURNED transition (any source status
// is accepted; the prior status is recorded either way) and returns the
// full resurrection manifest. Concurrent calls for the same
// agent collapse onto one computation via the single-flight group.
func (r *ResurrectionService) Resurrect(ctx context.Context, addr common.Address) (*ResurrectionManifest, error) {
	v, err := r.sf.Do("resurrect:"+addr.Hex(), func() (interface{}, error) {
		return r.resurrectOnce(ctx, addr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ResurrectionManifest), nil
}

func (r *ResurrectionService) resurrectOnce(ctx context.Context, addr common.Address) (*ResurrectionManifest, error) {
	agent, err := r.store.Get(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "AgentNotFound", "agent not registered", err)
	}

	since := time.Now().Add(-time.Hour)
	recent, err := r.store.CountResurrectionsSince(ctx, addr, since)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "resurrection_rate_check_failed", "failed to check resurrection rate", err)
	}
	if recent >= r.perHour {
		return nil, apperr.New(apperr.Conflict, "ResurrectionRateLimited", fmt.Sprintf("resurrection rate limit of %d/hour exceeded", r.perHour))
	}

	prior := agent.Status
	event := &ResurrectionEvent{Agent: addr, OccurredAt: time.Now(), PriorStatus: prior}
	if err := r.store.InsertResurrection(ctx, event); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "resurrection_log_failed", "failed to record resurrection event", err)
	}
	if err := r.store.SetStatus(ctx, addr, StatusReturned); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "resurrection_status_failed", "failed to set status to RETURNED", err)
	}

	manifest, err := r.buildManifest(ctx, addr, agent, prior)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func (r *ResurrectionService) buildManifest(ctx context.Context, addr common.Address, agent *Agent, prior Status) (*ResurrectionManifest, error) {
	snaps, err := r.snapshots.ListAllNewestFirst(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "manifest_snapshots_failed", "failed to list snapshots for manifest", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Seq > snaps[j].Seq })

	score, level, err := r.trust.ScoreAndLevel(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "manifest_trust_failed", "failed to compute trust score for manifest", err)
	}
	attCount, err := r.trust.AttestationCount(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "manifest_attestations_failed", "failed to count attestations for manifest", err)
	}

	var lastBackup *time.Time
	if len(snaps) > 0 {
		t := time.Unix(snaps[0].Timestamp, 0)
		lastBackup = &t
	}
	var lastHeartbeat *time.Time
	if lh, ok, err := r.heartbeats.LastHeartbeat(ctx, addr); err == nil && ok {
		lastHeartbeat = &lh
	}

	resurrections, _ := r.store.CountResurrectionsSince(ctx, addr, time.Time{})

	return &ResurrectionManifest{
		Identity: IdentitySummary{
			Address:           addr.Hex(),
			TrustScore:        score,
			TrustLevel:        level,
			AttestationCount:  attCount,
			RegisteredAt:      agent.RegisteredAt,
			LastBackup:        lastBackup,
			LastHeartbeat:     lastHeartbeat,
			TotalSnapshots:    len(snaps),
			ResurrectionCount: resurrections,
		},
		Snapshots:          snaps,
		GenesisDeclaration: agent.GenesisDeclaration,
		Status:             StatusReturned,
		PreviousStatus:     prior,
	}, nil
}
