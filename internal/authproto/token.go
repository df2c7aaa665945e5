package authproto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
)

// BearerToken is the short-lived credential issued by VerifyChallenge,
// scoped to a single agent address. It is carried over the
// wire as an opaque base64 string produced by Encode/ParseToken so the
// transport layer never needs to know its internal shape.
type BearerToken struct {
	Agent    common.Address
	IssuedAt time.Time
	Expiry   time.Time
}

// mintBearerToken issues a token for agent, valid for s.bearerTTL.
func (s *Service) mintBearerToken(agent common.Address) (*BearerToken, error) {
	now := time.Now()
	return &BearerToken{
		Agent:    agent,
		IssuedAt: now,
		Expiry:   now.Add(s.bearerTTL),
	}, nil
}

// Encode serializes t into the opaque "payload.mac" string returned to
// the client and presented on subsequent calls as the bearer credential.
func (s *Service) Encode(t *BearerToken) string {
	payload := tokenPayload(t)
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write(payload)
	sig := mac.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// ParseToken decodes and verifies a token string produced by Encode,
// rejecting any tampering with the payload or an unrecognized signing
// key, and checking expiry: an expired token is always Unauthorized.
func (s *Service) ParseToken(raw string) (*BearerToken, error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return nil, apperr.New(apperr.AuthInvalid, "bearer_malformed", "bearer token malformed")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthInvalid, "bearer_malformed", "bearer token payload undecodable", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthInvalid, "bearer_malformed", "bearer token signature undecodable", err)
	}

	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write(payload)
	want := mac.Sum(nil)
	if subtle.ConstantTimeCompare(want, sig) != 1 {
		return nil, apperr.New(apperr.AuthInvalid, "bearer_signature_invalid", "bearer token signature mismatch")
	}

	t, err := parseTokenPayload(payload)
	if err != nil {
		return nil, apperr.Wrap(apperr.AuthInvalid, "bearer_malformed", "bearer token payload corrupt", err)
	}
	if time.Now().After(t.Expiry) {
		return nil, apperr.New(apperr.AuthInvalid, "bearer_expired", "bearer token has expired")
	}
	return t, nil
}

// tokenPayload is the fixed 36-byte wire form: agent (20) || issuedAt (8,
// unix seconds) || expiry (8, unix seconds), with no padding.
func tokenPayload(t *BearerToken) []byte {
	buf := make([]byte, 20+8+8)
	copy(buf[0:20], t.Agent.Bytes())
	binary.BigEndian.PutUint64(buf[20:28], uint64(t.IssuedAt.Unix()))
	binary.BigEndian.PutUint64(buf[28:36], uint64(t.Expiry.Unix()))
	return buf
}

func parseTokenPayload(buf []byte) (*BearerToken, error) {
	if len(buf) != 36 {
		return nil, apperr.New(apperr.AuthInvalid, "bearer_malformed", "bearer token payload has wrong length")
	}
	return &BearerToken{
		Agent:    common.BytesToAddress(buf[0:20]),
		IssuedAt: time.Unix(int64(binary.BigEndian.Uint64(buf[20:28])), 0),
		Expiry:   time.Unix(int64(binary.BigEndian.Uint64(buf[28:36])), 0),
	}, nil
}
