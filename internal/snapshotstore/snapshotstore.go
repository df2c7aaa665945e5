// Package snapshotstore implements the encrypted-backup upload contract:
// fail-fast precondition checks, atomic sequence allocation, the daily
// upload rate limit, and genesis-flag coercion.
package snapshotstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/backup"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
	"github.com/suebtwist/sanctuary-sub000/internal/registry"
)

// Snapshot is the persisted record of one uploaded backup.
type Snapshot struct {
	ID             string
	Agent          common.Address
	Seq            uint64
	StorageHandle  string
	SizeBytes      int64
	ClientTimestamp int64
	ReceivedAt     time.Time
	ManifestHash   string
	PrevBackupHash string
	SnapshotMeta   json.RawMessage
}

// SnapshotMeta is the optional free-form metadata attached to a snapshot
//, bounded to 10 KiB serialized.
type SnapshotMeta struct {
	Model   string `json:"model,omitempty"`
	Platform string `json:"platform,omitempty"`
	Genesis bool   `json:"genesis,omitempty"`
	Session int    `json:"session,omitempty"`
}

const maxSnapshotMetaBytes = 10 << 10

// AgentReader is the subset of internal/registry this package needs to
// check writability without importing the whole registry service.
type AgentReader interface {
	Get(ctx context.Context, addr common.Address) (*registry.Agent, error)
}

// ObjectStore is the opaque off-site blob store contract.
type ObjectStore interface {
	Put(ctx context.Context, data []byte) (handle string, err error)
	Get(ctx context.Context, handle string) ([]byte, error)
}

// Store persists snapshot metadata. A Postgres-backed implementation lives
// in internal/storage; NextSeqAndInsert must run the max(seq)+1 read and the row
// insert inside one transaction.
type Store interface {
	NextSeqAndInsert(ctx context.Context, s *Snapshot) error
	HasAny(ctx context.Context, agent common.Address) (bool, error)
	MostRecentUploadTime(ctx context.Context, agent common.Address) (time.Time, bool, error)
	// ListNewestFirst returns snapshots newest-first; limit<=0 means
	// unlimited (used internally for resurrection manifests and status
	// summaries — the public List operation always caps at 100 first).
	ListNewestFirst(ctx context.Context, agent common.Address, limit int) ([]Snapshot, error)
	Latest(ctx context.Context, agent common.Address) (*Snapshot, error)
}

// TrustNotifier hands off the fire-and-forget trust recompute to the
// scheduler rather than spawning a bare goroutine; the scheduler owns the
// task's lifetime and shutdown.
type TrustNotifier interface {
	NotifyRecompute(agent common.Address)
}

// Service implements snapshot.upload/list/latest.
type Service struct {
	store        Store
	agents       AgentReader
	objects      ObjectStore
	trust        TrustNotifier
	maxPayload   int64
	dailyWindow  time.Duration
	maxMetaBytes int
}

func NewService(store Store, agents AgentReader, objects ObjectStore, trust TrustNotifier, maxPayload int64, dailyWindow time.Duration) *Service {
	return &Service{
		store:        store,
		agents:       agents,
		objects:      objects,
		trust:        trust,
		maxPayload:   maxPayload,
		dailyWindow:  dailyWindow,
		maxMetaBytes: maxSnapshotMetaBytes,
	}
}

// UploadResult is the response to snapshot.upload.
type UploadResult struct {
	ID            string
	Seq           uint64
	StorageHandle string
	SizeBytes     int64
	ReceivedAt    time.Time
}

// Upload runs the fail-fast precondition chain and the atomic insert.
// header and fileBlobs come from internal/backup.Decode(rawPayload);
// tokenAgent is the agent address the caller's bearer token is scoped to.
// rawPayload is stored opaquely in the object store exactly as received.
func (s *Service) Upload(ctx context.Context, tokenAgent common.Address, header *backup.Header, fileBlobs map[string][]byte, rawPayload []byte) (*UploadResult, error) {
	headerAgent, err := keys.ParseAddress(header.Agent)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "HeaderInvalid", "header agent is not a valid address", err)
	}
	if headerAgent != tokenAgent {
		return nil, apperr.New(apperr.Forbidden, "AgentMismatch", "header agent does not match bearer token agent")
	}

	ok, err := backup.VerifySignature(header, fileBlobs, tokenAgent)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "SignatureInvalid", "failed to verify header signature", err)
	}
	if !ok {
		return nil, apperr.New(apperr.InvalidInput, "SignatureInvalid", "header signature does not recover to the claimed agent")
	}

	agent, err := s.agents.Get(ctx, tokenAgent)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "AgentNotFound", "agent not registered", err)
	}
	if !agent.Status.Writable() {
		return nil, apperr.New(apperr.Forbidden, "AgentNotWritable", "agent is not in a writable status")
	}

	if len(rawPayload) == 0 {
		return nil, apperr.New(apperr.InvalidInput, "PayloadEmpty", "snapshot payload must not be empty")
	}
	if int64(len(rawPayload)) > s.maxPayload {
		return nil, apperr.New(apperr.InvalidInput, "PayloadTooLarge", "snapshot payload exceeds the configured size limit")
	}

	last, hasRecent, err := s.store.MostRecentUploadTime(ctx, tokenAgent)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "rate_limit_check_failed", "failed to check daily upload rate", err)
	}
	if hasRecent && time.Since(last) < s.dailyWindow {
		return nil, apperr.New(apperr.Conflict, "DailyLimitReached", "a snapshot was already accepted for this agent within the daily window")
	}

	meta := header.SnapshotMeta
	if len(meta) > 0 {
		var m SnapshotMeta
		if err := json.Unmarshal(meta, &m); err == nil && m.Genesis {
			hasAny, err := s.store.HasAny(ctx, tokenAgent)
			if err != nil {
				return nil, apperr.Wrap(apperr.Internal, "genesis_check_failed", "failed to check for prior snapshots", err)
			}
			if hasAny {
				m.Genesis = false
				coerced, err := json.Marshal(m)
				if err == nil {
					meta = coerced
				}
			}
		}
	}
	if len(meta) > s.maxMetaBytes {
		return nil, apperr.New(apperr.InvalidInput, "SnapshotMetaTooLarge", "snapshotMeta exceeds 10 KiB")
	}

	handle, err := s.objects.Put(ctx, rawPayload)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "StorageUnavailable", "object store unavailable", err)
	}

	snap := &Snapshot{
		ID:              uuid.NewString(),
		Agent:           tokenAgent,
		StorageHandle:   handle,
		SizeBytes:       int64(len(rawPayload)),
		ClientTimestamp: header.Timestamp,
		ReceivedAt:      time.Now(),
		ManifestHash:    header.ManifestHash,
		PrevBackupHash:  header.PrevBackupHash,
		SnapshotMeta:    meta,
	}
	if err := s.store.NextSeqAndInsert(ctx, snap); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "snapshot_insert_failed", "failed to persist snapshot", err)
	}

	if s.trust != nil {
		s.trust.NotifyRecompute(tokenAgent)
	}

	return &UploadResult{
		ID:            snap.ID,
		Seq:           snap.Seq,
		StorageHandle: snap.StorageHandle,
		SizeBytes:     snap.SizeBytes,
		ReceivedAt:    snap.ReceivedAt,
	}, nil
}

// List implements snapshot.list, capped at 100 regardless of the
// caller-requested limit.
func (s *Service) List(ctx context.Context, agent common.Address, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	snaps, err := s.store.ListNewestFirst(ctx, agent, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "snapshot_list_failed", "failed to list snapshots", err)
	}
	return snaps, nil
}

// Latest implements snapshot.latest.
func (s *Service) Latest(ctx context.Context, agent common.Address) (*Snapshot, error) {
	snap, err := s.store.Latest(ctx, agent)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "NotFound", "agent has no snapshots", err)
	}
	return snap, nil
}

// ListAllNewestFirst satisfies registry.SnapshotLister for resurrection
// manifests and status summaries.
func (s *Service) ListAllNewestFirst(ctx context.Context, agent common.Address) ([]registry.SnapshotSummary, error) {
	snaps, err := s.store.ListNewestFirst(ctx, agent, 0)
	if err != nil {
		return nil, err
	}
	out := make([]registry.SnapshotSummary, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, registry.SnapshotSummary{
			ID:            sn.ID,
			Seq:           sn.Seq,
			Timestamp:     sn.ClientTimestamp,
			StorageHandle: sn.StorageHandle,
			SizeBytes:     sn.SizeBytes,
			ManifestHash:  sn.ManifestHash,
			SnapshotMeta:  sn.SnapshotMeta,
		})
	}
	return out, nil
}

// LatestManifestHash satisfies registry.SnapshotLister.
func (s *Service) LatestManifestHash(ctx context.Context, agent common.Address) (string, bool, error) {
	snap, err := s.store.Latest(ctx, agent)
	if err != nil {
		return "", false, nil
	}
	return snap.ManifestHash, true, nil
}
