// Package fuse combines deduplicated findings with risk tiers, caution
// scores, and collateral-damage probabilities into a single priority
// ranking with swarm detection over co-change clusters.
package fuse

import (
	"sort"

	"swarmfuse/internal/dedup"
	"swarmfuse/internal/finding"
	"swarmfuse/internal/risk"
)

// Dimension names.
const (
	DimClassification = "classification"
	DimRisk           = "risk"
	DimCaution        = "caution"
	DimCollateral     = "collateral"
)

// DefaultWeights is the built-in priority weight set over the four
// dimensions.
var DefaultWeights = map[string]float64{
	DimClassification: 0.35,
	DimRisk:           0.30,
	DimCaution:        0.15,
	DimCollateral:     0.20,
}

// Priority buckets.
const (
	BucketCritical = "critical"
	BucketHigh     = "high"
	BucketMedium   = "medium"
	BucketLow      = "low"
)

// Collateral signal probabilities for the Noisy-OR combination.
const (
	pCrossConfirmed = 0.5
	pInCluster      = 0.4
	pOwnership      = 0.35
	pFanIn          = 0.3

	ownershipConcentrated = 0.75
	fanInHigh             = 10
)

// Input is everything fusion consumes. All maps are keyed by entity path
// and every one of them is optional; a finding simply loses the dimensions
// its entity has no data for.
type Input struct {
	Findings  []dedup.Representative
	RiskTiers map[string]string
	Clusters  [][]string
	Caution   map[string]float64
	Ownership map[string]float64
	FanIn     map[string]int
	// Weights overrides DefaultWeights; renormalized like risk weights.
	Weights map[string]float64
}

// Dimension is one present score contributing to a finding's priority.
type Dimension struct {
	Name   string
	Score  float64
	Weight float64 // effective weight after renormalization over present dims
}

// Entry is one ranked finding with its full dimension breakdown.
type Entry struct {
	Finding    dedup.Representative
	Priority   float64
	Bucket     string
	Dimensions []Dimension
}

// Swarm flags a co-change cluster acting as a unit risk.
type Swarm struct {
	Entities      []string
	HighRiskCount int
	MaxIndividual float64
	ClusterRisk   float64
}

// Output is the fused ranking.
type Output struct {
	Entries  []Entry
	Swarms   []Swarm
	Warnings []string
}

// Fuse scores every finding over its present dimensions, sorts by priority,
// buckets, and runs swarm detection.
func Fuse(in Input) Output {
	weights, warnings := risk.NormalizeWeightsAgainst(in.Weights, DefaultWeights)
	out := Output{Warnings: warnings}

	inCluster := make(map[string]bool)
	for _, cluster := range in.Clusters {
		for _, e := range cluster {
			inCluster[e] = true
		}
	}

	for _, f := range in.Findings {
		entry := Entry{Finding: f}
		entity := f.Entity.Path

		if score, ok := classificationImpact(f.Classification); ok {
			entry.Dimensions = append(entry.Dimensions, Dimension{Name: DimClassification, Score: score})
		}
		if tier, ok := in.RiskTiers[entity]; ok {
			entry.Dimensions = append(entry.Dimensions, Dimension{Name: DimRisk, Score: tierScore(tier)})
		}
		if caution, ok := in.Caution[entity]; ok {
			entry.Dimensions = append(entry.Dimensions, Dimension{Name: DimCaution, Score: clamp01(caution)})
		}
		if p, ok := collateral(f, entity, inCluster, in.Ownership, in.FanIn); ok {
			entry.Dimensions = append(entry.Dimensions, Dimension{Name: DimCollateral, Score: p})
		}

		// Renormalize weights over the dimensions this finding has; absent
		// dimensions never drag the score down.
		presentSum := 0.0
		for _, d := range entry.Dimensions {
			presentSum += weights[d.Name]
		}
		if presentSum > 0 {
			for i, d := range entry.Dimensions {
				w := weights[d.Name] / presentSum
				entry.Dimensions[i].Weight = w
				entry.Priority += d.Score * w
			}
		}
		entry.Bucket = bucket(entry.Priority)
		out.Entries = append(out.Entries, entry)
	}

	sort.SliceStable(out.Entries, func(i, j int) bool {
		a, b := out.Entries[i], out.Entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Finding.Entity.Path != b.Finding.Entity.Path {
			return a.Finding.Entity.Path < b.Finding.Entity.Path
		}
		return a.Finding.ID < b.Finding.ID
	})

	out.Swarms = detectSwarms(in.Clusters, out.Entries)
	return out
}

// NoisyOR combines independent evidence probabilities: 1 - prod(1-p). Absent
// signals must simply not be passed; they contribute nothing.
func NoisyOR(ps []float64) float64 {
	prod := 1.0
	for _, p := range ps {
		prod *= 1 - clamp01(p)
	}
	return 1 - prod
}

// collateral gathers the collateral-damage signals with actual evidence for
// this finding. Reports false when no signal is present at all, so the
// dimension stays absent rather than contributing zero.
func collateral(f dedup.Representative, entity string, inCluster map[string]bool, ownership map[string]float64, fanIn map[string]int) (float64, bool) {
	var ps []float64
	if f.CrossConfirmed {
		ps = append(ps, pCrossConfirmed)
	}
	if inCluster[entity] {
		ps = append(ps, pInCluster)
	}
	if conc, ok := ownership[entity]; ok && conc >= ownershipConcentrated {
		ps = append(ps, pOwnership)
	}
	if n, ok := fanIn[entity]; ok && n >= fanInHigh {
		ps = append(ps, pFanIn)
	}
	if len(ps) == 0 {
		return 0, false
	}
	return NoisyOR(ps), true
}

func classificationImpact(c finding.Classification) (float64, bool) {
	switch c {
	case finding.ClassMustChange:
		return 1.0, true
	case finding.ClassShouldCheck:
		return 0.6, true
	case finding.ClassMayAffect:
		return 0.3, true
	}
	return 0, false
}

func tierScore(tier string) float64 {
	switch tier {
	case risk.TierCritical:
		return 1.0
	case risk.TierHigh:
		return 0.75
	case risk.TierMedium:
		return 0.5
	case risk.TierLow:
		return 0.25
	case risk.TierStale:
		return 0.1
	}
	return 0
}

func bucket(priority float64) string {
	switch {
	case priority >= 0.80:
		return BucketCritical
	case priority >= 0.60:
		return BucketHigh
	case priority >= 0.40:
		return BucketMedium
	}
	return BucketLow
}

// detectSwarms flags clusters where at least three entities each carry a
// high or critical finding. The cluster risk grows with cluster size and is
// capped at 1.
func detectSwarms(clusters [][]string, entries []Entry) []Swarm {
	maxPriority := make(map[string]float64)
	for _, e := range entries {
		p := e.Finding.Entity.Path
		if e.Priority > maxPriority[p] {
			maxPriority[p] = e.Priority
		}
	}

	var swarms []Swarm
	for _, cluster := range clusters {
		highRisk := 0
		maxIndividual := 0.0
		for _, entity := range cluster {
			p, ok := maxPriority[entity]
			if !ok {
				continue
			}
			if p > maxIndividual {
				maxIndividual = p
			}
			if bucket(p) == BucketHigh || bucket(p) == BucketCritical {
				highRisk++
			}
		}
		if highRisk < 3 {
			continue
		}
		clusterRisk := maxIndividual + 0.10*float64(len(cluster)-1)
		if clusterRisk > 1 {
			clusterRisk = 1
		}
		swarms = append(swarms, Swarm{
			Entities:      append([]string(nil), cluster...),
			HighRiskCount: highRisk,
			MaxIndividual: maxIndividual,
			ClusterRisk:   clusterRisk,
		})
	}
	return swarms
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
