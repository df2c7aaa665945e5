package httpapi

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

type challengeCreateRequest struct {
	Agent string `json:"agent"`
}

type challengeCreateResponse struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleChallengeCreate handles POST /api/auth/challenge.
func (s *Server) handleChallengeCreate(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	var req challengeCreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	agent, err := keys.ParseAddress(req.Agent)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "AgentInvalid", "agent is not a valid address", err))
		return
	}

	c, err := s.auth.IssueChallenge(agent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeCreateResponse{
		Nonce:     hex.EncodeToString(c.Nonce[:]),
		ExpiresAt: c.Expiry,
	})
}

type challengeVerifyRequest struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

type challengeVerifyResponse struct {
	BearerToken string    `json:"bearer_token"`
	Agent       string    `json:"agent"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// handleChallengeVerify handles POST /api/auth/verify.
func (s *Server) handleChallengeVerify(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}

	var req challengeVerifyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	nonce, ok := parseNonce(req.Nonce)
	if !ok {
		s.writeError(w, apperr.New(apperr.InvalidInput, "NonceInvalid", "nonce must be 32 hex characters"))
		return
	}
	sig, ok := parseSignature(req.Signature)
	if !ok {
		s.writeError(w, apperr.New(apperr.InvalidInput, "SignatureInvalid", "signature must be 130 hex characters"))
		return
	}

	token, err := s.auth.VerifyChallenge(nonce, req.Timestamp, sig)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challengeVerifyResponse{
		BearerToken: s.auth.Encode(token),
		Agent:       token.Agent.Hex(),
		ExpiresAt:   token.Expiry,
	})
}

func parseNonce(s string) ([16]byte, bool) {
	var nonce [16]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 16 {
		return nonce, false
	}
	copy(nonce[:], raw)
	return nonce, true
}

func parseSignature(s string) (keys.Signature, bool) {
	var sig keys.Signature
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 65 {
		return sig, false
	}
	copy(sig[:], raw)
	return sig, true
}

func parseHexBytes(s string) ([]byte, bool) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, false
	}
	return raw, true
}
