package trust

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

// AttestTag domain-separates the attestation signed preimage.
const AttestTag = "sanctuary-attestation-v1"

// AttestationCooldown bounds how often one agent may re-attest about the
// same peer.
const AttestationCooldown = 7 * 24 * time.Hour

// Attestation is a signed vouch by one agent about another.
type Attestation struct {
	From        common.Address
	About       common.Address
	NoteHash    [32]byte
	TxHandle    string
	Simulated   bool
	CreatedAt   time.Time
}

// Edge is one (from, about) attestation relationship, the unit the
// propagation pass walks.
type Edge struct {
	From  common.Address
	About common.Address
}

// AttestationStore persists attestations, their notes, and the graph of
// edges the propagation pass needs.
type AttestationStore interface {
	Insert(ctx context.Context, a *Attestation) error
	ExistsWithinCooldown(ctx context.Context, from, about common.Address, since time.Time) (bool, error)
	InsertNoteIfAbsent(ctx context.Context, hash [32]byte, note string) error
	AllEdges(ctx context.Context) ([]Edge, error)
	CountAttestationsAbout(ctx context.Context, about common.Address) (int, error)
	CountUniqueAttestersAbout(ctx context.Context, about common.Address) (int, error)
}

// Ledger is the opaque on-chain attestation relay contract:
// submit a signed payload, get back a handle and whether the ledger
// answered with a live transaction or a stub simulation.
type Ledger interface {
	Submit(ctx context.Context, signedPayload []byte) (txHandle string, simulated bool, err error)
}

// SubmitRequest is the payload for attestation.submit.
type SubmitRequest struct {
	From      common.Address
	About     common.Address
	NoteHash  [32]byte
	Note      string
	Deadline  time.Time
	Signature keys.Signature
}

// SubmitResult is the response to attestation.submit.
type SubmitResult struct {
	TxHandle string
	Status   string // "pending" or "simulated"
}

// AttestPreimage builds the canonical signed digest for an attestation
//.
func AttestPreimage(req *SubmitRequest) [32]byte {
	return keys.CanonicalPreimage(
		AttestTag,
		req.From.Bytes(),
		req.About.Bytes(),
		req.NoteHash[:],
		[]byte(req.Deadline.UTC().Format(time.RFC3339)),
	)
}

// Attest implements attestation.submit: self-attestation rejection, the
// 7-day per-pair cooldown (checked inside the conceptual write transaction
// via the store's predicate-on-read), hash-addressed note insert-if-absent,
// and relay to the ledger.
func (e *Engine) Attest(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	if time.Now().After(req.Deadline) {
		return nil, apperr.New(apperr.InvalidInput, "DeadlineExpired", "attestation deadline has passed")
	}
	if req.From == req.About {
		return nil, apperr.New(apperr.Forbidden, "SelfAttestation", "an agent cannot attest about itself")
	}

	digest := AttestPreimage(req)
	recovered, err := keys.Recover(digest, req.Signature)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "SignatureInvalid", "failed to recover attestation signer", err)
	}
	if recovered != req.From {
		return nil, apperr.New(apperr.InvalidInput, "SignatureInvalid", "attestation signature does not match claimed from-agent")
	}

	withinCooldown, err := e.attestations.ExistsWithinCooldown(ctx, req.From, req.About, time.Now().Add(-e.cooldown))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cooldown_check_failed", "failed to check attestation cooldown", err)
	}
	if withinCooldown {
		return nil, apperr.New(apperr.Conflict, "CooldownActive", "this agent pair is within the attestation cooldown window")
	}

	if err := e.attestations.InsertNoteIfAbsent(ctx, req.NoteHash, req.Note); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "note_insert_failed", "failed to persist attestation note", err)
	}

	txHandle, simulated, err := e.ledger.Submit(ctx, digest[:])
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalUnavailable, "LedgerUnavailable", "attestation ledger unavailable", err)
	}

	att := &Attestation{
		From:      req.From,
		About:     req.About,
		NoteHash:  req.NoteHash,
		TxHandle:  txHandle,
		Simulated: simulated,
		CreatedAt: time.Now(),
	}
	if err := e.attestations.Insert(ctx, att); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "attestation_insert_failed", "failed to persist attestation", err)
	}

	status := "pending"
	if simulated {
		status = "simulated"
	}
	return &SubmitResult{TxHandle: txHandle, Status: status}, nil
}
