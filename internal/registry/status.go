package registry

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
)

// StatusSummary is the public response to agent.status: status,
// trust score+level, backup count, last-heartbeat timestamp, attestations
// received. No private key material or bearer-token-gated fields appear
// here — this operation is unauthenticated.
type StatusSummary struct {
	Address          string
	Status           Status
	TrustScore       float64
	TrustLevel       string
	BackupCount      int
	LastHeartbeat    *time.Time
	AttestationCount int
}

// StatusService composes registry, snapshot, and trust readers to answer
// agent.status without requiring a bearer token.
type StatusService struct {
	*Service
	snapshots SnapshotLister
	trust     TrustReader
}

func NewStatusService(svc *Service, snapshots SnapshotLister, trust TrustReader) *StatusService {
	return &StatusService{Service: svc, snapshots: snapshots, trust: trust}
}

// Status answers agent.status.
func (s *StatusService) Status(ctx context.Context, addr common.Address) (*StatusSummary, error) {
	agent, err := s.store.Get(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "AgentNotFound", "agent not registered", err)
	}

	snaps, err := s.snapshots.ListAllNewestFirst(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "status_snapshots_failed", "failed to list snapshots", err)
	}
	score, level, err := s.trust.ScoreAndLevel(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "status_trust_failed", "failed to compute trust score", err)
	}
	attCount, err := s.trust.AttestationCount(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "status_attestations_failed", "failed to count attestations", err)
	}

	var lastHeartbeat *time.Time
	if lh, ok, err := s.heartbeats.LastHeartbeat(ctx, addr); err == nil && ok {
		lastHeartbeat = &lh
	}

	return &StatusSummary{
		Address:          addr.Hex(),
		Status:           agent.Status,
		TrustScore:       score,
		TrustLevel:       level,
		BackupCount:      len(snaps),
		LastHeartbeat:    lastHeartbeat,
		AttestationCount: attCount,
	}, nil
}
