package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
	"github.com/suebtwist/sanctuary-sub000/internal/registry"
)

type registerRequest struct {
	Agent              string `json:"agent"`
	RecoveryPubKey     string `json:"recovery_pubkey"`
	RecallPubKey       string `json:"recall_pubkey"`
	ManifestHash       string `json:"manifest_hash"`
	ManifestVersion    int    `json:"manifest_version"`
	Deadline           string `json:"deadline"`
	Signature          string `json:"signature"`
	GenesisDeclaration string `json:"genesis_declaration,omitempty"`
}

type registerResponse struct {
	Agent        string    `json:"agent"`
	RegisteredAt time.Time `json:"registered_at"`
}

// handleRegister handles POST /api/agents/register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	var req registerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	agent, err := keys.ParseAddress(req.Agent)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "AgentInvalid", "agent is not a valid address", err))
		return
	}
	recoveryPub, ok := parseHexBytes(req.RecoveryPubKey)
	if !ok {
		s.writeError(w, apperr.New(apperr.InvalidInput, "RecoveryPubKeyInvalid", "recovery_pubkey is not valid hex"))
		return
	}
	recallPub, ok := parseHexBytes(req.RecallPubKey)
	if !ok {
		s.writeError(w, apperr.New(apperr.InvalidInput, "RecallPubKeyInvalid", "recall_pubkey is not valid hex"))
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "DeadlineInvalid", "deadline must be RFC3339", err))
		return
	}
	sig, ok := parseSignature(req.Signature)
	if !ok {
		s.writeError(w, apperr.New(apperr.InvalidInput, "SignatureInvalid", "signature must be 130 hex characters"))
		return
	}

	a, err := s.registry.Register(r.Context(), &registry.RegisterRequest{
		Agent:              agent,
		RecoveryPubKey:     recoveryPub,
		RecallPubKey:       recallPub,
		ManifestHash:       req.ManifestHash,
		ManifestVersion:    req.ManifestVersion,
		Deadline:           deadline,
		Signature:          sig,
		GenesisDeclaration: req.GenesisDeclaration,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{
		Agent:        a.Address.Hex(),
		RegisteredAt: a.RegisteredAt,
	})
}

type statusResponse struct {
	Address          string     `json:"address"`
	Status           string     `json:"status"`
	TrustScore       float64    `json:"trust_score"`
	TrustLevel       string     `json:"trust_level"`
	BackupCount      int        `json:"backup_count"`
	LastHeartbeat    *time.Time `json:"last_heartbeat,omitempty"`
	AttestationCount int        `json:"attestation_count"`
}

// handleStatus handles GET /api/agents/status/:address (unauthenticated
// public summary).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	addr, ok := s.pathAddress(w, r, "/api/agents/status/")
	if !ok {
		return
	}

	summary, err := s.status.Status(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Address:          summary.Address,
		Status:           string(summary.Status),
		TrustScore:       summary.TrustScore,
		TrustLevel:       summary.TrustLevel,
		BackupCount:      summary.BackupCount,
		LastHeartbeat:    summary.LastHeartbeat,
		AttestationCount: summary.AttestationCount,
	})
}

type snapshotEntry struct {
	ID            string `json:"id"`
	Seq           uint64 `json:"seq"`
	Timestamp     int64  `json:"timestamp"`
	StorageHandle string `json:"storage_handle"`
	SizeBytes     int64  `json:"size_bytes"`
	ManifestHash  string `json:"manifest_hash"`
	SnapshotMeta  json.RawMessage `json:"snapshot_meta,omitempty"`
}

type identityBlock struct {
	Address           string     `json:"address"`
	TrustScore        float64    `json:"trust_score"`
	TrustLevel        string     `json:"trust_level"`
	AttestationCount  int        `json:"attestation_count"`
	RegisteredAt      time.Time  `json:"registered_at"`
	LastBackup        *time.Time `json:"last_backup,omitempty"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
	TotalSnapshots    int        `json:"total_snapshots"`
	ResurrectionCount int        `json:"resurrection_count"`
}

type resurrectionResponse struct {
	Identity           identityBlock   `json:"identity"`
	Snapshots          []snapshotEntry `json:"snapshots"`
	GenesisDeclaration string          `json:"genesis_declaration"`
	Status             string          `json:"status"`
	PreviousStatus     string          `json:"previous_status"`
}

// handleResurrect handles POST /api/agents/resurrect/:address,
// authenticated as that agent.
func (s *Server) handleResurrect(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	addr, ok := s.pathAddress(w, r, "/api/agents/resurrect/")
	if !ok {
		return
	}
	if s.requireAgentToken(w, r, addr.Hex()) == nil {
		return
	}

	manifest, err := s.resurrect.Resurrect(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snaps := make([]snapshotEntry, 0, len(manifest.Snapshots))
	for _, sn := range manifest.Snapshots {
		snaps = append(snaps, snapshotEntry{
			ID:            sn.ID,
			Seq:           sn.Seq,
			Timestamp:     sn.Timestamp,
			StorageHandle: sn.StorageHandle,
			SizeBytes:     sn.SizeBytes,
			ManifestHash:  sn.ManifestHash,
			SnapshotMeta:  sn.SnapshotMeta,
		})
	}
	writeJSON(w, http.StatusOK, resurrectionResponse{
		Identity: identityBlock{
			Address:           manifest.Identity.Address,
			TrustScore:        manifest.Identity.TrustScore,
			TrustLevel:        manifest.Identity.TrustLevel,
			AttestationCount:  manifest.Identity.AttestationCount,
			RegisteredAt:      manifest.Identity.RegisteredAt,
			LastBackup:        manifest.Identity.LastBackup,
			LastHeartbeat:     manifest.Identity.LastHeartbeat,
			TotalSnapshots:    manifest.Identity.TotalSnapshots,
			ResurrectionCount: manifest.Identity.ResurrectionCount,
		},
		Snapshots:          snaps,
		GenesisDeclaration: manifest.GenesisDeclaration,
		Status:             string(manifest.Status),
		PreviousStatus:     string(manifest.PreviousStatus),
	})
}

// pathAddress extracts and validates the :address path segment after
// prefix.
func (s *Server) pathAddress(w http.ResponseWriter, r *http.Request, prefix string) (common.Address, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || raw == r.URL.Path || strings.Contains(raw, "/") {
		s.writeError(w, apperr.New(apperr.InvalidInput, "AgentInvalid", "agent address required in path"))
		return common.Address{}, false
	}
	parsed, err := keys.ParseAddress(raw)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "AgentInvalid", "agent is not a valid address", err))
		return common.Address{}, false
	}
	return parsed, true
}
