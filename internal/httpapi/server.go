// Package httpapi exposes the service's operations over a thin JSON
// surface. Handlers decode a typed request, call the core service, and map
// the apperr taxonomy onto HTTP statuses; no business logic lives here.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/authproto"
	"github.com/suebtwist/sanctuary-sub000/internal/registry"
	"github.com/suebtwist/sanctuary-sub000/internal/snapshotstore"
	"github.com/suebtwist/sanctuary-sub000/internal/storage"
	"github.com/suebtwist/sanctuary-sub000/internal/trust"
)

// Server bundles the handler dependencies.
type Server struct {
	auth        *authproto.Service
	registry    *registry.Service
	status      *registry.StatusService
	resurrect   *registry.ResurrectionService
	snapshots   *snapshotstore.Service
	trust       *trust.Engine
	heartbeats  *registry.HeartbeatService
	db          *storage.Client
	maxBodySize int64
	logger      *log.Logger
}

// Config holds the server's constructor arguments.
type Config struct {
	Auth        *authproto.Service
	Registry    *registry.Service
	Status      *registry.StatusService
	Resurrect   *registry.ResurrectionService
	Snapshots   *snapshotstore.Service
	Trust       *trust.Engine
	Heartbeats  *registry.HeartbeatService
	DB          *storage.Client
	MaxBodySize int64
	Logger      *log.Logger
}

// NewServer creates the handler set.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 64 << 20
	}
	return &Server{
		auth:        cfg.Auth,
		registry:    cfg.Registry,
		status:      cfg.Status,
		resurrect:   cfg.Resurrect,
		snapshots:   cfg.Snapshots,
		trust:       cfg.Trust,
		heartbeats:  cfg.Heartbeats,
		db:          cfg.DB,
		maxBodySize: maxBody,
		logger:      logger,
	}
}

// Routes returns the full route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/auth/challenge", s.handleChallengeCreate)
	mux.HandleFunc("/api/auth/verify", s.handleChallengeVerify)

	mux.HandleFunc("/api/agents/register", s.handleRegister)
	mux.HandleFunc("/api/agents/status/", s.handleStatus)
	mux.HandleFunc("/api/agents/resurrect/", s.handleResurrect)

	mux.HandleFunc("/api/snapshots/upload", s.handleSnapshotUpload)
	mux.HandleFunc("/api/snapshots/list/", s.handleSnapshotList)
	mux.HandleFunc("/api/snapshots/latest/", s.handleSnapshotLatest)

	mux.HandleFunc("/api/attestations/submit", s.handleAttestationSubmit)

	mux.HandleFunc("/api/heartbeat", s.handleHeartbeat)

	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := map[string]interface{}{"status": "ok"}
	if s.db != nil {
		health, err := s.db.Health(r.Context())
		if err != nil || !health.Healthy {
			resp["status"] = "degraded"
			resp["database"] = "disconnected"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			resp["database"] = "connected"
		}
	}
	json.NewEncoder(w).Encode(resp)
}

// writeJSON writes v with status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the uniform error response shape.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RetryHint string `json:"retry_hint,omitempty"`
}

// writeError maps the apperr taxonomy onto HTTP statuses. Input errors are
// reported in full; external and internal failures stay opaque and are
// logged instead.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	code := apperr.CodeOf(err)

	switch kind {
	case apperr.InvalidInput:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: code})
	case apperr.AuthRequired, apperr.AuthInvalid:
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error(), Code: code})
	case apperr.Forbidden:
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: code})
	case apperr.NotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: code})
	case apperr.Conflict:
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: code})
	case apperr.ExternalUnavailable:
		s.logger.Printf("External dependency unavailable: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:     "external service unavailable",
			Code:      code,
			RetryHint: "retry with backoff",
		})
	case apperr.Corrupted:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: code})
	default:
		s.logger.Printf("Internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeJSON decodes the request body into v, rejecting unknown fields
// before any business logic runs.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, apperr.Wrap(apperr.InvalidInput, "BodyInvalid", "invalid request body", err))
		return false
	}
	return true
}

// requirePost short-circuits non-POST requests.
func (s *Server) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return false
	}
	return true
}

// requireGet short-circuits non-GET requests.
func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return false
	}
	return true
}
