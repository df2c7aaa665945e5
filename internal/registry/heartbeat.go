package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/suebtwist/sanctuary-sub000/internal/apperr"
	"github.com/suebtwist/sanctuary-sub000/internal/keys"
)

// HeartbeatTag domain-separates the heartbeat signed preimage.
const HeartbeatTag = "sanctuary-heartbeat-v1"

// maxHeartbeatSkew bounds how far a heartbeat's self-reported timestamp may
// drift from server time in either direction.
const maxHeartbeatSkew = 10 * time.Minute

// HeartbeatStore persists liveness marks.
type HeartbeatStore interface {
	Insert(ctx context.Context, agent common.Address, at time.Time) error
	LastHeartbeat(ctx context.Context, agent common.Address) (time.Time, bool, error)
}

// HeartbeatService records liveness marks after verifying the caller held
// agentSecret at the stated time.
type HeartbeatService struct {
	store HeartbeatStore
}

func NewHeartbeatService(store HeartbeatStore) *HeartbeatService {
	return &HeartbeatService{store: store}
}

// HeartbeatPreimage builds the signed digest: tag, agent, timestamp. The
// agent address is bound in so a heartbeat cannot be replayed for another
// agent even if the nonce-free timestamp repeats.
func HeartbeatPreimage(agent common.Address, timestamp int64) [32]byte {
	return keys.CanonicalPreimage(
		HeartbeatTag,
		agent.Bytes(),
		[]byte(strconv.FormatInt(timestamp, 10)),
	)
}

// Record verifies the signature and stores one liveness mark for agent.
func (s *HeartbeatService) Record(ctx context.Context, agent common.Address, timestamp int64, sig keys.Signature) error {
	at := time.Unix(timestamp, 0)
	if d := time.Since(at); d > maxHeartbeatSkew || d < -maxHeartbeatSkew {
		return apperr.New(apperr.InvalidInput, "TimestampSkewed", "heartbeat timestamp is too far from server time")
	}

	digest := HeartbeatPreimage(agent, timestamp)
	recovered, err := keys.Recover(digest, sig)
	if err != nil {
		return apperr.Wrap(apperr.InvalidInput, "SignatureInvalid", "failed to recover heartbeat signer", err)
	}
	if recovered != agent {
		return apperr.New(apperr.InvalidInput, "SignatureInvalid", "heartbeat signature does not match agent")
	}

	if err := s.store.Insert(ctx, agent, at); err != nil {
		return apperr.Wrap(apperr.Internal, "heartbeat_insert_failed", "failed to persist heartbeat", err)
	}
	return nil
}
