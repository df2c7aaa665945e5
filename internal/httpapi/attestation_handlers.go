package httpapi

import (
	"net/http"
	"time"

	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
	"github.com/suebtwist/sanctuary-sub000/internal/trust"
)

type attestationSubmitRequest struct {
	From      string `json:"from"`
	About     string `json:"about"`
	NoteHash  string `json:"note_hash"`
	Note      string `json:"note"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
}

type attestationSubmitResponse struct {
	TxHandle string `json:"tx_handle"`
	Status   string `json:"status"`
}

// handleAttestationSubmit handles POST /api/attestations/submit,
// authenticated as the from-agent.
func (s *Server) handleAttestationSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	var req attestationSubmitRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	from, err := keys.ParseAddress(req.From)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "FromInvalid", "from is not a valid address", err))
		return
	}
	about, err := keys.ParseAddress(req.About)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "AboutInvalid", "about is not a valid address", err))
		return
	}
	rawHash, ok := parseHexBytes(req.NoteHash)
	if !ok || len(rawHash) != 32 {
		s.writeError(w, apperr.New(apperr.InvalidInput, "NoteHashInvalid", "note_hash must be 64 hex characters"))
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

	if s.requireAgentToken(w, r, from.Hex()) == nil {
		return
	}

	var noteHash [32]byte
	copy(noteHash[:], rawHash)

	result, err := s.trust.Attest(r.Context(), &trust.SubmitRequest{
		From:      from,
		About:     about,
		NoteHash:  noteHash,
		Note:      req.Note,
		Deadline:  deadline,
		Signature: sig,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attestationSubmitResponse{
		TxHandle: result.TxHandle,
		Status:   result.Status,
	})
}
