package httpapi

import (
	"net/http"

	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
)

type heartbeatRequest struct {
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// handleHeartbeat handles POST /api/heartbeat: records one liveness mark
// for the bearer token's agent, with the signature proving the caller held
// the agent key at the stated time.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	token := s.bearerToken(w, r)
	if token == nil {
		return
	}

	var req heartbeatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	sig, ok := parseSignature(req.Signature)
	if !ok {
		s.writeError(w, apperr.New(apperr.InvalidInput, "SignatureInvalid", "signature must be 130 hex characters"))
		return
	}

	if err := s.heartbeats.Record(r.Context(), token.Agent, req.Timestamp, sig); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
