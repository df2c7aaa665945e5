package trust

import (
	"github.com/ethereum/go-ethereum/common"
)

const propagationIterations = 3

// propagate runs the three-iteration attestation-propagation pass: seed
// every agent with age + 0.5·min(backups,100) points, then for
// three rounds each agent gains 0.1 times the sum of its unique attesters'
// current score, with mutual pairs down-weighted to 0.5 to avoid
// collusion inflating a pair's score against each other. The result is an
// in-memory scratch map, normalised per agent before it is written
// through the cache.
func propagate(agents []common.Address, seeds map[common.Address]float64, edges []Edge) map[common.Address]float64 {
	mutual := make(map[Edge]bool, len(edges))
	edgeSet := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		edgeSet[e] = true
	}
	for _, e := range edges {
		if edgeSet[Edge{From: e.About, About: e.From}] {
			mutual[e] = true
		}
	}

	byAbout := make(map[common.Address][]Edge)
	for _, e := range edges {
		byAbout[e.About] = append(byAbout[e.About], e)
	}

	current := make(map[common.Address]float64, len(agents))
	for _, a := range agents {
		current[a] = seeds[a]
	}

	for iter := 0; iter < propagationIterations; iter++ {
		next := make(map[common.Address]float64, len(agents))
		for a, v := range current {
			next[a] = v
		}
		for about, incoming := range byAbout {
			seen := map[common.Address]bool{}
			var gain float64
			for _, e := range incoming {
				if seen[e.From] {
					continue
				}
				seen[e.From] = true
				weight := 1.0
				if mutual[e] {
					weight = 0.5
				}
				gain += 0.1 * current[e.From] * weight
			}
			next[about] += gain
		}
		current = next
	}
	return current
}

// seedScore is the per-agent starting value fed into propagate.
func seedScore(ageSig float64, backupCount int) float64 {
	return ageSig + 0.5*float64(min(backupCount, 100))
}

// attestationSignal normalises a propagated score against the raw-score
// cap.
func attestationSignal(propagated float64) float64 {
	return clamp01(propagated / RawScoreCap)
}
