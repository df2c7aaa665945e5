// Package scheduler runs the service's background maintenance jobs:
// challenge expiry, heartbeat pruning, trust-score recomputation, and
// fallen detection. Heavy scans are single-flight behind a shared
// BusyMutex; every job logs structured counts on completion and never
// propagates an error to its caller.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChallengeExpirer deletes expired auth challenges.
type ChallengeExpirer interface {
	ExpireChallenges(now time.Time) (int, error)
}

// HeartbeatPruner trims old heartbeat rows, keeping the most recent per
// agent.
type HeartbeatPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// TrustRecomputer refreshes the trust-score cache. The whole graph is
// recomputed per pass because the attestation-propagation signal needs it.
type TrustRecomputer interface {
	RecomputeAll(ctx context.Context) error
}

// FallenSweeper drives the LIVING -> FALLEN transition.
type FallenSweeper interface {
	SweepFallen(ctx context.Context, threshold time.Duration) (int, error)
}

// Config holds scheduler intervals and thresholds.
type Config struct {
	ChallengeExpiryInterval time.Duration
	HeartbeatPruneInterval  time.Duration
	TrustSweepInterval      time.Duration
	FallenSweepInterval     time.Duration

	HeartbeatRetention time.Duration
	FallenThreshold    time.Duration

	BackoffBase time.Duration
	BackoffCap  time.Duration

	Logger *log.Logger
}

// DefaultConfig returns the intervals the service runs with in production.
func DefaultConfig() *Config {
	return &Config{
		ChallengeExpiryInterval: 15 * time.Minute,
		HeartbeatPruneInterval:  time.Hour,
		TrustSweepInterval:      time.Hour,
		FallenSweepInterval:     6 * time.Hour,
		HeartbeatRetention:      90 * 24 * time.Hour,
		FallenThreshold:         30 * 24 * time.Hour,
		BackoffBase:             time.Second,
		BackoffCap:              60 * time.Second,
		Logger:                  log.New(log.Writer(), "[Scheduler] ", log.LstdFlags),
	}
}

// Scheduler owns the background job goroutines and the shared busy mutex.
type Scheduler struct {
	mu      sync.Mutex
	running bool

	challenges ChallengeExpirer
	heartbeats HeartbeatPruner
	trust      TrustRecomputer
	registry   FallenSweeper

	cfg  *Config
	busy *BusyMutex

	// recomputeCh coalesces fire-and-forget trust recompute requests from
	// snapshot inserts. A full channel drops the request; the hourly sweep
	// catches up, since the cache is advisory.
	recomputeCh chan common.Address

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	logger *log.Logger
}

// New creates a scheduler. Any nil dependency disables its job.
func New(challenges ChallengeExpirer, heartbeats HeartbeatPruner, trust TrustRecomputer, registry FallenSweeper, cfg *Config) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Scheduler] ", log.LstdFlags)
	}
	return &Scheduler{
		challenges:  challenges,
		heartbeats:  heartbeats,
		trust:       trust,
		registry:    registry,
		cfg:         cfg,
		busy:        &BusyMutex{},
		recomputeCh: make(chan common.Address, 64),
		logger:      cfg.Logger,
	}
}

// Busy exposes the shared mutex for observability and tests.
func (s *Scheduler) Busy() *BusyMutex {
	return s.busy
}

// NotifyRecompute satisfies snapshotstore.TrustNotifier: the upload path
// hands the recompute here instead of spawning its own goroutine. Never
// blocks the caller.
func (s *Scheduler) NotifyRecompute(agent common.Address) {
	select {
	case s.recomputeCh <- agent:
	default:
	}
}

// Start launches the job goroutines. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	if s.challenges != nil {
		s.spawn(ctx, "challenge_expiry", s.cfg.ChallengeExpiryInterval, s.runChallengeExpiry)
	}
	if s.heartbeats != nil {
		s.spawn(ctx, "heartbeat_prune", s.cfg.HeartbeatPruneInterval, s.runHeartbeatPrune)
	}
	if s.trust != nil {
		s.spawn(ctx, "trust_sweep", s.cfg.TrustSweepInterval, s.runTrustSweep)
		s.wg.Add(1)
		go s.recomputeLoop(ctx)
	}
	if s.registry != nil {
		s.spawn(ctx, "fallen_sweep", s.cfg.FallenSweepInterval, s.runFallenSweep)
	}

	go func() {
		s.wg.Wait()
		close(s.doneCh)
	}()

	s.logger.Printf("Scheduler started (challenge=%s, heartbeat=%s, trust=%s, fallen=%s)",
		s.cfg.ChallengeExpiryInterval, s.cfg.HeartbeatPruneInterval,
		s.cfg.TrustSweepInterval, s.cfg.FallenSweepInterval)
}

// Stop requests cooperative shutdown and waits for every job to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.busy.RequestStop()
	<-s.doneCh
	s.logger.Println("Scheduler stopped")
}

// spawn runs job on its interval with per-job exponential backoff: a
// failed iteration delays the next eligible run, a success resets to
// baseline. Errors are logged and swallowed; the job retries on its next
// tick. Background work never propagates errors to callers.
func (s *Scheduler) spawn(ctx context.Context, name string, interval time.Duration, job func(ctx context.Context) error) {
	s.wg.Add(1)
	backoff := NewBackoff(s.cfg.BackoffBase, s.cfg.BackoffCap)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var notBefore time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if time.Now().Before(notBefore) {
					jobRuns.WithLabelValues(name, outcomeSkipped).Inc()
					continue
				}
				if err := job(ctx); err != nil {
					delay := backoff.Next()
					notBefore = time.Now().Add(delay)
					jobRuns.WithLabelValues(name, outcomeError).Inc()
					s.logger.Printf("Job %s failed (backoff %s): %v", name, delay, err)
					continue
				}
				backoff.Reset()
				notBefore = time.Time{}
				jobRuns.WithLabelValues(name, outcomeOK).Inc()
			}
		}
	}()
}

// recomputeLoop drains fire-and-forget recompute requests from the upload
// path. Requests arriving while a recompute runs coalesce into one
// follow-up pass.
func (s *Scheduler) recomputeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case agent := <-s.recomputeCh:
			// Drain whatever else queued up behind this request.
			drained := 1
		drain:
			for {
				select {
				case <-s.recomputeCh:
					drained++
				default:
					break drain
				}
			}
			if err := s.recomputeOnce(ctx); err != nil {
				jobRuns.WithLabelValues("trust_recompute", outcomeError).Inc()
				s.logger.Printf("On-insert trust recompute failed (trigger=%s, coalesced=%d): %v",
					agent.Hex(), drained, err)
				continue
			}
			jobRuns.WithLabelValues("trust_recompute", outcomeOK).Inc()
			s.logger.Printf("On-insert trust recompute complete (trigger=%s, coalesced=%d)",
				agent.Hex(), drained)
		}
	}
}

func (s *Scheduler) runChallengeExpiry(ctx context.Context) error {
	n, err := s.challenges.ExpireChallenges(time.Now())
	if err != nil {
		return err
	}
	jobItems.WithLabelValues("challenge_expiry").Add(float64(n))
	s.logger.Printf("Expired %d auth challenges", n)
	return nil
}

func (s *Scheduler) runHeartbeatPrune(ctx context.Context) error {
	cutoff := time.Now().Add(-s.cfg.HeartbeatRetention)
	n, err := s.heartbeats.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	jobItems.WithLabelValues("heartbeat_prune").Add(float64(n))
	s.logger.Printf("Pruned %d heartbeats older than %s", n, cutoff.Format(time.RFC3339))
	return nil
}

func (s *Scheduler) runTrustSweep(ctx context.Context) error {
	if !s.busy.TryEnter("trust_sweep") {
		jobRuns.WithLabelValues("trust_sweep", outcomeSkipped).Inc()
		s.logger.Printf("Trust sweep skipped: %s holds the scan mutex", s.busy.RunningKind())
		return nil
	}
	defer s.busy.Leave()
	return s.trust.RecomputeAll(ctx)
}

func (s *Scheduler) recomputeOnce(ctx context.Context) error {
	if !s.busy.TryEnter("trust_recompute") {
		// The hourly sweep (or another recompute) is already refreshing the
		// cache; this request's work is covered.
		return nil
	}
	defer s.busy.Leave()
	return s.trust.RecomputeAll(ctx)
}

func (s *Scheduler) runFallenSweep(ctx context.Context) error {
	if !s.busy.TryEnter("fallen_sweep") {
		jobRuns.WithLabelValues("fallen_sweep", outcomeSkipped).Inc()
		s.logger.Printf("Fallen sweep skipped: %s holds the scan mutex", s.busy.RunningKind())
		return nil
	}
	defer s.busy.Leave()

	n, err := s.registry.SweepFallen(ctx, s.cfg.FallenThreshold)
	if err != nil {
		return err
	}
	jobItems.WithLabelValues("fallen_sweep").Add(float64(n))
	s.logger.Printf("Fallen sweep transitioned %d agents", n)
	return nil
}
