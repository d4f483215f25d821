// Package risk scores entities from pluggable history signals: per-signal
// percentile normalization, a weighted composite, tier assignment, and
// co-change clustering.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
)

// DefaultWeights is the built-in signal weight set, used whenever the
// configured weights are absent or unusable.
var DefaultWeights = map[string]float64{
	"frequency": 0.30,
	"churn":     0.25,
	"recency":   0.20,
	"ownership": 0.15,
	"fanin":     0.10,
}

// Tier labels, ordered by severity.
const (
	TierCritical = "critical"
	TierHigh     = "high"
	TierMedium   = "medium"
	TierLow      = "low"
	TierStale    = "stale"
)

// Config controls scoring. Zero thresholds mean the defaults 0.90/0.70/0.30.
type Config struct {
	Weights      map[string]float64
	TierCritical float64
	TierHigh     float64
	TierMedium   float64
}

func (c Config) thresholds() (critical, high, medium float64) {
	critical, high, medium = c.TierCritical, c.TierHigh, c.TierMedium
	if critical <= 0 {
		critical = 0.90
	}
	if high <= 0 {
		high = 0.70
	}
	if medium <= 0 {
		medium = 0.30
	}
	return critical, high, medium
}

// EntityStats is the raw input for one entity: its qualifying event count in
// the observation window and its signal values. A signal missing from the
// map is treated as absent, not zero.
type EntityStats struct {
	Entity  string             `json:"entity"`
	Events  int                `json:"events"`
	Signals map[string]float64 `json:"signals"`
}

// Score is the computed risk for one entity.
type Score struct {
	Entity     string
	Composite  float64
	Percentile float64
	Tier       string
	Normalized map[string]float64
}

// Result carries scores in descending composite order plus any degradation
// warnings.
type Result struct {
	Scores   []Score
	Warnings []string
}

// ScoreEntities normalizes every signal to percentiles, combines them with
// renormalized weights, and assigns tiers by composite percentile. Entities
// with zero events in the window are tiered stale regardless of score.
func ScoreEntities(stats []EntityStats, cfg Config) Result {
	var res Result
	if len(stats) == 0 {
		return res
	}
	weights, warnings := NormalizeWeights(cfg.Weights)
	res.Warnings = warnings

	// Per-signal percentile normalization, each signal ranked independently
	// across the entities that provide it.
	normalized := make(map[string]map[string]float64) // signal -> entity -> percentile
	for name := range weights {
		var entities []string
		var values []float64
		for _, st := range stats {
			if v, ok := st.Signals[name]; ok {
				entities = append(entities, st.Entity)
				values = append(values, v)
			}
		}
		if len(entities) == 0 {
			continue
		}
		normalized[name] = Percentiles(entities, values)
	}

	// Composite: weighted sum over the signals the entity actually has,
	// with weights renormalized over those present signals.
	scores := make([]Score, 0, len(stats))
	for _, st := range stats {
		s := Score{Entity: st.Entity, Normalized: make(map[string]float64)}
		presentSum := 0.0
		for name, byEntity := range normalized {
			if v, ok := byEntity[st.Entity]; ok {
				s.Normalized[name] = v
				presentSum += weights[name]
			}
		}
		if presentSum > 0 {
			for name, v := range s.Normalized {
				s.Composite += v * weights[name] / presentSum
			}
		}
		scores = append(scores, s)
	}

	// Tier by composite percentile.
	entities := make([]string, len(scores))
	composites := make([]float64, len(scores))
	for i, s := range scores {
		entities[i] = s.Entity
		composites[i] = s.Composite
	}
	pct := Percentiles(entities, composites)
	critical, high, medium := cfg.thresholds()
	eventsByEntity := make(map[string]int, len(stats))
	for _, st := range stats {
		eventsByEntity[st.Entity] = st.Events
	}
	for i := range scores {
		p := pct[scores[i].Entity]
		scores[i].Percentile = p
		switch {
		case eventsByEntity[scores[i].Entity] == 0:
			scores[i].Tier = TierStale
		case p >= critical:
			scores[i].Tier = TierCritical
		case p >= high:
			scores[i].Tier = TierHigh
		case p >= medium:
			scores[i].Tier = TierMedium
		default:
			scores[i].Tier = TierLow
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Composite != scores[j].Composite {
			return scores[i].Composite > scores[j].Composite
		}
		return scores[i].Entity < scores[j].Entity
	})
	res.Scores = scores
	return res
}

// Percentiles returns rank/N per entity, ties sharing the average rank.
func Percentiles(entities []string, values []float64) map[string]float64 {
	n := len(entities)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make(map[string]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && values[idx[j]] == values[idx[i]] {
			j++
		}
		// Ranks are 1-based; tied values share the average rank.
		avgRank := float64(i+1+j) / 2.0
		for k := i; k < j; k++ {
			out[entities[idx[k]]] = avgRank / float64(n)
		}
		i = j
	}
	return out
}

// NormalizeWeights makes weights sum to 1.0. A sum different from 1.0 is
// divided through with a warning; a zero or non-finite sum falls back to
// DefaultWeights.
func NormalizeWeights(weights map[string]float64) (map[string]float64, []string) {
	return NormalizeWeightsAgainst(weights, DefaultWeights)
}

// NormalizeWeightsAgainst is NormalizeWeights with a caller-chosen default
// set, so other weighted domains fall back to their own dimension names.
func NormalizeWeightsAgainst(weights, defaults map[string]float64) (map[string]float64, []string) {
	if len(weights) == 0 {
		return defaults, nil
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		warn := fmt.Sprintf("weight sum %v unusable, falling back to defaults", sum)
		slog.Warn("invalid weights", "sum", sum)
		return defaults, []string{warn}
	}
	if math.Abs(sum-1.0) < 1e-9 {
		return weights, nil
	}
	out := make(map[string]float64, len(weights))
	for name, w := range weights {
		out[name] = w / sum
	}
	warn := fmt.Sprintf("weights sum to %.3f, renormalized", sum)
	slog.Warn("weights renormalized", "sum", sum)
	return out, []string{warn}
}
