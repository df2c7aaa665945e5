package trust

import (
	"sort"
	"time"
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ageSignal is min(monthsSinceRegistration/12, 1).
func ageSignal(registeredAt, now time.Time) float64 {
	months := now.Sub(registeredAt).Hours() / 24 / 30
	if months < 0 {
		months = 0
	}
	return clamp01(months / 12)
}

// backupConsistencySignal rewards a steady cadence of meaningful uploads.
// Consecutive snapshots sharing a manifest hash collapse to one
// "meaningful" snapshot; expected is the number of elapsed days since
// registration (the daily-upload cadence the rate limit enforces).
func backupConsistencySignal(registeredAt, now time.Time, snaps []SnapshotRecord) float64 {
	ageDays := now.Sub(registeredAt).Hours() / 24
	if ageDays < 1 {
		return 0
	}
	if len(snaps) == 0 {
		return 0
	}

	sorted := make([]SnapshotRecord, len(snaps))
	copy(sorted, snaps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	meaningful := 0
	gapsOver7d := 0
	var prevHash string
	var prevTime time.Time
	for i, s := range sorted {
		if i == 0 || s.ManifestHash != prevHash {
			meaningful++
		}
		if i > 0 && s.Timestamp.Sub(prevTime) > 7*24*time.Hour {
			gapsOver7d++
		}
		prevHash = s.ManifestHash
		prevTime = s.Timestamp
	}

	raw := float64(meaningful)/ageDays - 0.1*float64(gapsOver7d)
	if raw > 1 {
		raw = 1
	}
	return clamp01(raw)
}

// modelStabilitySignal is the fraction of model-reporting snapshots that
// report the agent's current model (the model of the latest such snapshot),
// counted per snapshot rather than weighted by time; neutral 0.5 when no
// snapshot ever reported a model.
func modelStabilitySignal(snaps []SnapshotRecord) float64 {
	reported := make([]SnapshotRecord, 0, len(snaps))
	for _, s := range snaps {
		if s.Model != "" {
			reported = append(reported, s)
		}
	}
	if len(reported) == 0 {
		return 0.5
	}
	sort.Slice(reported, func(i, j int) bool { return reported[i].Timestamp.Before(reported[j].Timestamp) })
	current := reported[len(reported)-1].Model

	onCurrent := 0
	for _, s := range reported {
		if s.Model == current {
			onCurrent++
		}
	}
	return clamp01(float64(onCurrent) / float64(len(reported)))
}

// genesisCompletenessSignal rewards a declaration, a first backup, and a
// first received attestation.
func genesisCompletenessSignal(hasDeclaration, hasAnyBackup, hasAnyAttestation bool) float64 {
	var v float64
	if hasDeclaration {
		v += 0.4
	}
	if hasAnyBackup {
		v += 0.3
	}
	if hasAnyAttestation {
		v += 0.3
	}
	return clamp01(v)
}

// recoveryResilienceSignal rewards surviving resurrections while
// penalising churn in the last 30 days.
func recoveryResilienceSignal(totalResurrections, recent30d int) float64 {
	v := 0.5 + 0.25*float64(min(totalResurrections, 2)) - 0.2*float64(max(0, recent30d-3))
	return clamp01(v)
}
