package httpapi

import (
	"net/http"
	"strings"

	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/authproto"
)

// bearerToken extracts and verifies the Authorization header, returning
// the decoded token or nil with the error already written.
func (s *Server) bearerToken(w http.ResponseWriter, r *http.Request) *authproto.BearerToken {
	header := r.Header.Get("Authorization")
	if header == "" {
		s.writeError(w, apperr.New(apperr.AuthRequired, "BearerRequired", "missing Authorization header"))
		return nil
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header {
		s.writeError(w, apperr.New(apperr.AuthInvalid, "BearerMalformed", "Authorization header must use the Bearer scheme"))
		return nil
	}

	token, err := s.auth.ParseToken(raw)
	if err != nil {
		s.writeError(w, err)
		return nil
	}
	return token
}

// requireAgentToken verifies the bearer token authorizes claimedAgent
// (case-insensitive 40-hex comparison). Writes the error itself on
// failure.
func (s *Server) requireAgentToken(w http.ResponseWriter, r *http.Request, claimedAgent string) *authproto.BearerToken {
	token := s.bearerToken(w, r)
	if token == nil {
		return nil
	}
	if err := authproto.RequireAgent(token, claimedAgent); err != nil {
		s.writeError(w, err)
		return nil
	}
	return token
}
