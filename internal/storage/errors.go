package storage

import "errors"

// Sentinel errors returned by repositories. Callers translate these into
// the apperr taxonomy at the service layer.
var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeConsumed  = errors.New("challenge already consumed")
	ErrTrustScoreNotFound = errors.New("trust score not found")
)
