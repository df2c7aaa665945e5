// Package noisefilter scores third-party posts for signal vs. noise. It is
// deliberately minimal: the classifier shares the service's database and
// process but is otherwise unrelated to the identity core. Concurrent
// requests to classify the same post collapse onto one computation, and
// results are held in a bounded TTL cache.
package noisefilter

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/suebtwist/sanctuary-sub000/internal/singleflight"
)

// Verdict is one classification result.
type Verdict struct {
	PostID     string
	Score      float64 // [0,1], higher = more likely noise
	ComputedAt time.Time
}

// Scorer produces the underlying score for a post; the real implementation
// fetches and analyses content, tests plug in a fake.
type Scorer interface {
	Score(ctx context.Context, postID string) (float64, error)
}

// scoreTimeout bounds every underlying classification call.
const scoreTimeout = 5 * time.Second

// Classifier deduplicates and caches post classifications.
type Classifier struct {
	scorer Scorer
	sf     singleflight.Group

	mu       sync.Mutex
	cache    map[string]*list.Element
	order    *list.List // front = most recently used
	maxCache int
	ttl      time.Duration
}

type cacheEntry struct {
	postID  string
	verdict Verdict
}

// NewClassifier creates a classifier caching up to maxCache verdicts for
// ttl each.
func NewClassifier(scorer Scorer, maxCache int, ttl time.Duration) *Classifier {
	return &Classifier{
		scorer:   scorer,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
		maxCache: maxCache,
		ttl:      ttl,
	}
}

// Classify returns the verdict for postID, computing it at most once across
// concurrent callers.
func (c *Classifier) Classify(ctx context.Context, postID string) (Verdict, error) {
	if v, ok := c.cached(postID); ok {
		return v, nil
	}

	res, err := c.sf.Do("classify:"+postID, func() (interface{}, error) {
		if v, ok := c.cached(postID); ok {
			return v, nil
		}
		sctx, cancel := context.WithTimeout(ctx, scoreTimeout)
		defer cancel()

		score, err := c.scorer.Score(sctx, postID)
		if err != nil {
			return Verdict{}, err
		}
		v := Verdict{PostID: postID, Score: score, ComputedAt: time.Now()}
		c.put(v)
		return v, nil
	})
	if err != nil {
		return Verdict{}, err
	}
	return res.(Verdict), nil
}

func (c *Classifier) cached(postID string) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.cache[postID]
	if !ok {
		return Verdict{}, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.verdict.ComputedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.cache, postID)
		return Verdict{}, false
	}
	c.order.MoveToFront(el)
	return entry.verdict, true
}

func (c *Classifier) put(v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.cache[v.PostID]; ok {
		el.Value.(*cacheEntry).verdict = v
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{postID: v.PostID, verdict: v})
	c.cache[v.PostID] = el
	for c.order.Len() > c.maxCache {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.cache, oldest.Value.(*cacheEntry).postID)
	}
}
