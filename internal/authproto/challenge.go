// Package authproto implements the three-step challenge/response
// authentication protocol: issue a single-use nonce, verify a
// signature over it, and mint a bearer token scoped to the signer's agent
// address. The service never sees a mnemonic or a raw secret key.
package authproto

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

// ChallengeTag domain-separates the auth-challenge signed preimage.
const ChallengeTag = "sanctuary-auth-challenge-v1"

// Challenge is a single-use, agent-bound nonce.
type Challenge struct {
	Nonce    [16]byte
	Agent    common.Address
	Expiry   time.Time
	Consumed bool
}

// Store persists challenges. A Postgres-backed implementation lives in
// internal/storage; this package only depends on the interface so it can
// be unit-tested against an in-memory fake.
type Store interface {
	Insert(c *Challenge) error
	Load(nonce [16]byte) (*Challenge, error)
	MarkConsumed(nonce [16]byte) error
	DeleteExpired(before time.Time) (int, error)
}

// Service issues and verifies challenges and mints bearer tokens.
type Service struct {
	store        Store
	challengeTTL time.Duration
	bearerTTL    time.Duration
	signingKey   []byte
}

func NewService(store Store, challengeTTL, bearerTTL time.Duration, signingKey []byte) *Service {
	return &Service{store: store, challengeTTL: challengeTTL, bearerTTL: bearerTTL, signingKey: signingKey}
}

// IssueChallenge generates a fresh 128-bit nonce bound to agent.
func (s *Service) IssueChallenge(agent common.Address) (*Challenge, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "nonce_generation_failed", "failed to generate challenge nonce", err)
	}
	c := &Challenge{
		Nonce:  nonce,
		Agent:  agent,
		Expiry: time.Now().Add(s.challengeTTL),
	}
	if err := s.store.Insert(c); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "challenge_insert_failed", "failed to store challenge", err)
	}
	return c, nil
}

// ChallengePreimage builds the digest the client signs: tag || nonce ||
// timestamp.
func ChallengePreimage(nonce [16]byte, timestamp int64) [32]byte {
	return keys.CanonicalPreimage(ChallengeTag, nonce[:], []byte(strconv.FormatInt(timestamp, 10)))
}

// VerifyChallenge consumes nonce and, on success, returns a signed bearer
// token for the recovered agent.
func (s *Service) VerifyChallenge(nonce [16]byte, timestamp int64, sig keys.Signature) (*BearerToken, error) {
	c, err := s.store.Load(nonce)
	if err != nil {
		return nil, apperr.Wrap(apperr.NotFound, "challenge_missing", "challenge not found", err)
	}
	if c.Consumed {
		return nil, apperr.New(apperr.AuthInvalid, "challenge_consumed", "challenge already consumed")
	}
	if time.Now().After(c.Expiry) {
		return nil, apperr.New(apperr.AuthInvalid, "challenge_expired", "challenge has expired")
	}

	digest := ChallengePreimage(nonce, timestamp)
	recovered, err := keys.Recover(digest, sig)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthInvalid, "signature_invalid", "failed to recover signer", err)
	}
	if recovered != c.Agent {
		return nil, apperr.New(apperr.AuthInvalid, "signature_invalid", "recovered signer does not match challenge agent")
	}

	if err := s.store.MarkConsumed(nonce); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "challenge_consume_failed", "failed to mark challenge consumed", err)
	}

	return s.mintBearerToken(c.Agent)
}

// ExpireChallenges deletes challenges whose expiry has passed, as the
// periodic 15-minute scheduler job does.
func (s *Service) ExpireChallenges(now time.Time) (int, error) {
	return s.store.DeleteExpired(now)
}

// RequireAgent enforces the case-insensitive 40-hex authorization rule: a
// request naming claimedAgent is accepted only when it matches the
// token's bound agent.
func RequireAgent(token *BearerToken, claimedAgent string) error {
	if token == nil {
		return apperr.New(apperr.AuthRequired, "bearer_required", "bearer token required")
	}
	if time.Now().After(token.Expiry) {
		return apperr.New(apperr.AuthInvalid, "bearer_expired", "bearer token has expired")
	}
	if !strings.EqualFold(token.Agent.Hex(), normalizeAddr(claimedAgent)) {
		return apperr.New(apperr.Forbidden, "agent_mismatch", "token does not authorize the named agent")
	}
	return nil
}

func normalizeAddr(s string) string {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "0x" + s
	}
	return s
}
