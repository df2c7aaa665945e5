package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/backup"
)

type uploadResponse struct {
	ID            string    `json:"id"`
	Seq           uint64    `json:"seq"`
	StorageHandle string    `json:"storage_handle"`
	SizeBytes     int64     `json:"size_bytes"`
	ReceivedAt    time.Time `json:"received_at"`
}

// handleSnapshotUpload handles POST /api/snapshots/upload. The body is the
// raw backup byte stream (the self-describing container); the signed
// header inside it names the agent, which must match the bearer token.
func (s *Server) handleSnapshotUpload(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	token := s.bearerToken(w, r)
	if token == nil {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "PayloadTooLarge", "snapshot payload exceeds the size limit", err))
		return
	}

	header, fileBlobs, err := backup.Decode(body)
	if err != nil {
		if errors.Is(err, backup.ErrBackupCorrupted) {
			s.writeError(w, apperr.Wrap(apperr.Corrupted, "HeaderInvalid", "backup byte stream failed to parse", err))
			return
		}
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "HeaderInvalid", "backup byte stream rejected", err))
		return
	}

	result, err := s.snapshots.Upload(r.Context(), token.Agent, header, fileBlobs, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		ID:            result.ID,
		Seq:           result.Seq,
		StorageHandle: result.StorageHandle,
		SizeBytes:     result.SizeBytes,
		ReceivedAt:    result.ReceivedAt,
	})
}

type snapshotListResponse struct {
	Snapshots []snapshotEntry `json:"snapshots"`
}

// handleSnapshotList handles GET /api/snapshots/list/:address?limit=N,
// authenticated as that agent. The limit is capped at 100 downstream.
func (s *Server) handleSnapshotList(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	addr, ok := s.pathAddress(w, r, "/api/snapshots/list/")
	if !ok {
		return
	}
	if s.requireAgentToken(w, r, addr.Hex()) == nil {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, apperr.Wrap(apperr.InvalidInput, "LimitInvalid", "limit must be an integer", err))
			return
		}
		limit = n
	}

	snaps, err := s.snapshots.List(r.Context(), addr, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries := make([]snapshotEntry, 0, len(snaps))
	for _, sn := range snaps {
		entries = append(entries, snapshotEntry{
			ID:            sn.ID,
			Seq:           sn.Seq,
			Timestamp:     sn.ClientTimestamp,
			StorageHandle: sn.StorageHandle,
			SizeBytes:     sn.SizeBytes,
			ManifestHash:  sn.ManifestHash,
			SnapshotMeta:  json.RawMessage(sn.SnapshotMeta),
		})
	}
	writeJSON(w, http.StatusOK, snapshotListResponse{Snapshots: entries})
}

// handleSnapshotLatest handles GET /api/snapshots/latest/:address,
// authenticated as that agent.
func (s *Server) handleSnapshotLatest(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	addr, ok := s.pathAddress(w, r, "/api/snapshots/latest/")
	if !ok {
		return
	}
	if s.requireAgentToken(w, r, addr.Hex()) == nil {
		return
	}

	sn, err := s.snapshots.Latest(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotEntry{
		ID:            sn.ID,
		Seq:           sn.Seq,
		Timestamp:     sn.ClientTimestamp,
		StorageHandle: sn.StorageHandle,
		SizeBytes:     sn.SizeBytes,
		ManifestHash:  sn.ManifestHash,
		SnapshotMeta:  json.RawMessage(sn.SnapshotMeta),
	})
}
