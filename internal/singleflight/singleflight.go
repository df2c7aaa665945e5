// Package singleflight deduplicates concurrent work by key: only one
// underlying computation runs and every concurrent caller awaits its
// result. Used to serialise concurrent resurrection requests for one agent
// and concurrent classification of one post.
package singleflight

import (
	xsingleflight "golang.org/x/sync/singleflight"
)

// Group collapses concurrent Do calls with the same key onto one
// execution. The in-flight entry is removed once the call completes,
// regardless of success, so a later call runs fresh.
type Group struct {
	g xsingleflight.Group
}

// Do runs fn once per key among concurrent callers and returns the shared
// result to all of them.
func (g *Group) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := g.g.Do(key, fn)
	return v, err
}

// Shared reports, alongside the result, whether the value was shared with
// other concurrent callers; useful in tests and metrics.
func (g *Group) Shared(key string, fn func() (interface{}, error)) (interface{}, bool, error) {
	v, err, shared := g.g.Do(key, fn)
	return v, shared, err
}
