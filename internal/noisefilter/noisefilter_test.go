package noisefilter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingScorer struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (s *countingScorer) Score(ctx context.Context, postID string) (float64, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return 0.75, nil
}

func TestConcurrentClassifyRunsOnce(t *testing.T) {
	scorer := &countingScorer{gate: make(chan struct{})}
	c := NewClassifier(scorer, 100, time.Minute)

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Classify(context.Background(), "post-1")
			if err != nil {
				t.Errorf("Classify: %v", err)
				return
			}
			if v.Score != 0.75 {
				t.Errorf("score = %v, want 0.75", v.Score)
			}
		}()
	}

	// Let callers pile up on the in-flight computation, then release it.
	time.Sleep(50 * time.Millisecond)
	close(scorer.gate)
	wg.Wait()

	if n := scorer.calls.Load(); n != 1 {
		t.Errorf("scorer ran %d times, want 1", n)
	}
}

func TestCacheHitSkipsScorer(t *testing.T) {
	scorer := &countingScorer{}
	c := NewClassifier(scorer, 100, time.Minute)

	ctx := context.Background()
	c.Classify(ctx, "post-2")
	c.Classify(ctx, "post-2")

	if n := scorer.calls.Load(); n != 1 {
		t.Errorf("scorer ran %d times, want 1 (second call should hit cache)", n)
	}
}

func TestCacheExpiry(t *testing.T) {
	scorer := &countingScorer{}
	c := NewClassifier(scorer, 100, 10*time.Millisecond)

	ctx := context.Background()
	c.Classify(ctx, "post-3")
	time.Sleep(20 * time.Millisecond)
	c.Classify(ctx, "post-3")

	if n := scorer.calls.Load(); n != 2 {
		t.Errorf("scorer ran %d times, want 2 (entry should have expired)", n)
	}
}

func TestCacheBounded(t *testing.T) {
	scorer := &countingScorer{}
	c := NewClassifier(scorer, 2, time.Minute)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Classify(ctx, fmt.Sprintf("post-%d", i))
	}

	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()
	if size > 2 {
		t.Errorf("cache holds %d entries, want <= 2", size)
	}
}
