// Package registry implements agent registration and the lifecycle state
// machine LIVING -> FALLEN -> RETURNED (the fallen sweep never moves a
// RETURNED agent back to FALLEN), plus the
// resurrection flow that returns an agent's full history to a fresh process
// holding only its mnemonic.
package registry

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

// Status is the agent lifecycle state. LIVING and RETURNED are
// operationally equivalent for write permissions; they differ only as a
// historical marker.
type Status string

const (
	StatusLiving   Status = "LIVING"
	StatusFallen   Status = "FALLEN"
	StatusReturned Status = "RETURNED"
)

// Writable reports whether an agent in this status may upload snapshots or
// issue attestations.
func (s Status) Writable() bool {
	return s == StatusLiving || s == StatusReturned
}

// RegisterTag domain-separates the registration signed preimage.
const RegisterTag = "sanctuary-register-v1"

// Agent is the identity anchor: the only stable link between a mnemonic
// and all downstream data.
type Agent struct {
	Address             common.Address
	RecoveryPubKey      []byte // uncompressed secp256k1 point
	RecallPubKey        []byte // uncompressed secp256k1 point
	ManifestHash        string
	ManifestVersion     int
	RegisteredAt        time.Time
	Status              Status
	GenesisDeclaration  string // immutable after registration, <=2000 bytes
}

// ResurrectionEvent is the append-only log of every FALLEN -> RETURNED
// transition.
type ResurrectionEvent struct {
	Agent         common.Address
	OccurredAt    time.Time
	PriorStatus   Status
}

// maxGenesisDeclarationBytes bounds the free-text genesis declaration.
const maxGenesisDeclarationBytes = 2000

// Store persists agents and resurrection events. A Postgres-backed
// implementation lives in internal/storage.
type Store interface {
	Insert(ctx context.Context, a *Agent) error
	Get(ctx context.Context, addr common.Address) (*Agent, error)
	Exists(ctx context.Context, addr common.Address) (bool, error)
	SetStatus(ctx context.Context, addr common.Address, status Status) error
	InsertResurrection(ctx context.Context, e *ResurrectionEvent) error
	CountResurrectionsSince(ctx context.Context, addr common.Address, since time.Time) (int, error)
	// ListLiving returns the addresses of every agent currently LIVING, for
	// the fallen-detection sweep.
	ListLiving(ctx context.Context) ([]common.Address, error)
}

// HeartbeatReader reports the most recent heartbeat for an agent, needed by
// both fallen detection and the public status summary.
type HeartbeatReader interface {
	LastHeartbeat(ctx context.Context, addr common.Address) (time.Time, bool, error)
}

// RegisterRequest is the payload for agent.register. RecallPubKey is part
// of the full registration payload: the backup codec needs it to wrap the
// recall-path DEK independently of the recovery path; see DESIGN.md.
type RegisterRequest struct {
	Agent              common.Address
	RecoveryPubKey     []byte
	RecallPubKey       []byte
	ManifestHash       string
	ManifestVersion    int
	Deadline           time.Time
	Signature          keys.Signature
	GenesisDeclaration string
}

// Service implements the registry & lifecycle operations.
type Service struct {
	store      Store
	heartbeats HeartbeatReader
	resurrectionsPerHour int
}

func NewService(store Store, heartbeats HeartbeatReader, resurrectionsPerHour int) *Service {
	return &Service{store: store, heartbeats: heartbeats, resurrectionsPerHour: resurrectionsPerHour}
}

// RegisterPreimage builds the canonical signed digest for a registration
// request: a literal ASCII tag followed by the typed fields in canonical
// order.
func RegisterPreimage(req *RegisterRequest) [32]byte {
	return keys.CanonicalPreimage(
		RegisterTag,
		req.Agent.Bytes(),
		req.RecoveryPubKey,
		req.RecallPubKey,
		[]byte(req.ManifestHash),
		[]byte(req.Deadline.UTC().Format(time.RFC3339)),
	)
}

// Register creates a new agent. It is one-shot per address: re-registering
// an existing address fails.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*Agent, error) {
	if time.Now().After(req.Deadline) {
		return nil, apperr.New(apperr.InvalidInput, "DeadlineExpired", "registration deadline has passed")
	}
	if len(req.GenesisDeclaration) > maxGenesisDeclarationBytes {
		return nil, apperr.New(apperr.InvalidInput, "GenesisDeclarationTooLarge", "genesis declaration exceeds 2000 bytes")
	}

	digest := RegisterPreimage(req)
	recovered, err := keys.Recover(digest, req.Signature)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "SignatureInvalid", "failed to recover registration signer", err)
	}
	if recovered != req.Agent {
		return nil, apperr.New(apperr.InvalidInput, "SignatureInvalid", "registration signature does not match claimed agent")
	}

	exists, err := s.store.Exists(ctx, req.Agent)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "registry_lookup_failed", "failed to check existing registration", err)
	}
	if exists {
		return nil, apperr.New(apperr.Conflict, "AgentExists", "agent is already registered")
	}

	a := &Agent{
		Address:            req.Agent,
		RecoveryPubKey:     req.RecoveryPubKey,
		RecallPubKey:       req.RecallPubKey,
		ManifestHash:       req.ManifestHash,
		ManifestVersion:    req.ManifestVersion,
		RegisteredAt:       time.Now(),
		Status:             StatusLiving,
		GenesisDeclaration: req.GenesisDeclaration,
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "registry_insert_failed", "failed to persist agent", err)
	}
	return a, nil
}

// Get loads an agent or returns a NotFound apperr.
func (s *Service) Get(ctx context.Context, addr common.Address) (*Agent, error) {
	a, err := s.store.Get(ctx, addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "AgentNotFound", "agent not registered", err)
	}
	return a, nil
}

// SweepFallen transitions every LIVING agent whose most recent heartbeat is
// missing or older than threshold to FALLEN. RETURNED agents are never
// re-fallen by this pass; a resurrected agent keeps a grace window. Returns the count of agents transitioned.
func (s *Service) SweepFallen(ctx context.Context, threshold time.Duration) (int, error) {
	addrs, err := s.store.ListLiving(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "fallen_sweep_list_failed", "failed to list living agents", err)
	}

	cutoff := time.Now().Add(-threshold)
	count := 0
	for _, addr := range addrs {
		last, ok, err := s.heartbeats.LastHeartbeat(ctx, addr)
		if err != nil {
			continue
		}
		if !ok || last.Before(cutoff) {
			if err := s.store.SetStatus(ctx, addr, StatusFallen); err != nil {
				continue
			}
			count++
		}
	}
	return count, nil
}
