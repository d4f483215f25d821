// Package report assembles the final aggregated report and its
// machine-readable companion. Reports are regenerated wholesale on every
// run, never patched in place.
package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"swarmfuse/internal/finding"
	"swarmfuse/internal/fuse"
	"swarmfuse/internal/risk"
	"swarmfuse/internal/supervise"
	"swarmfuse/internal/verify"
)

// Dimension is one scored dimension in an entry's breakdown.
type Dimension struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Entry is one ranked finding with its full breakdown.
type Entry struct {
	FindingID        string         `json:"finding_id"`
	Producer         string         `json:"producer"`
	Severity         string         `json:"severity"`
	Entity           finding.Entity `json:"entity"`
	Evidence         string         `json:"evidence"`
	Classification   string         `json:"classification,omitempty"`
	Confidence       float64        `json:"confidence"`
	Priority         float64        `json:"priority"`
	Bucket           string         `json:"bucket"`
	CrossConfirmed   bool           `json:"cross_confirmed,omitempty"`
	Dimensions       []Dimension    `json:"dimensions"`
	SourceFindingIDs []string       `json:"source_finding_ids"`
}

// Swarm is a co-change cluster flagged as a unit risk.
type Swarm struct {
	Entities      []string `json:"entities"`
	HighRiskCount int      `json:"high_risk_count"`
	MaxIndividual float64  `json:"max_individual"`
	ClusterRisk   float64  `json:"cluster_risk"`
}

// Completeness states how much of the planned work the report covers.
// A partial run is always presented as partial.
type Completeness struct {
	Completed     int     `json:"completed"`
	Expected      int     `json:"expected"`
	Partial       bool    `json:"partial"`
	TimedOutTasks []int64 `json:"timed_out_tasks,omitempty"`
	ReleasedTasks []int64 `json:"released_tasks,omitempty"`
}

// Verdict mirrors a verification outcome for the report.
type Verdict struct {
	FindingID string `json:"finding_id"`
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason,omitempty"`
}

// Report is the aggregated run artifact.
type Report struct {
	Session           string       `json:"session"`
	GeneratedAt       time.Time    `json:"generated_at"`
	Outcome           string       `json:"outcome"`
	Completeness      Completeness `json:"completeness"`
	Entries           []Entry      `json:"entries"`
	Swarms            []Swarm      `json:"swarms,omitempty"`
	Verdicts          []Verdict    `json:"verdicts,omitempty"`
	MalformedFindings int          `json:"malformed_findings,omitempty"`
	Warnings          []string     `json:"warnings,omitempty"`
}

// Build assembles a report from the run's pieces. Every non-fatal
// degradation lands in Warnings so a consumer can judge confidence.
func Build(session string, sup supervise.Result, fused fuse.Output, entries []fuse.Entry, collected finding.Result, verdicts []verify.Verdict) Report {
	r := Report{
		Session:     session,
		GeneratedAt: time.Now().UTC(),
		Outcome:     string(sup.Outcome),
		Completeness: Completeness{
			Completed:     sup.Completed,
			Expected:      sup.Expected,
			Partial:       sup.Outcome != supervise.OutcomeCompleted,
			TimedOutTasks: sup.TimedOut,
			ReleasedTasks: sup.Released,
		},
		MalformedFindings: collected.Malformed,
	}
	r.Warnings = append(r.Warnings, sup.Warnings...)
	r.Warnings = append(r.Warnings, collected.Missing...)
	r.Warnings = append(r.Warnings, fused.Warnings...)

	for _, e := range entries {
		re := Entry{
			FindingID:        e.Finding.ID,
			Producer:         e.Finding.Producer,
			Severity:         string(e.Finding.Severity),
			Entity:           e.Finding.Entity,
			Evidence:         e.Finding.Evidence,
			Classification:   string(e.Finding.Classification),
			Confidence:       e.Finding.Confidence,
			Priority:         e.Priority,
			Bucket:           e.Bucket,
			CrossConfirmed:   e.Finding.CrossConfirmed,
			SourceFindingIDs: e.Finding.SourceFindingIDs,
		}
		for _, d := range e.Dimensions {
			re.Dimensions = append(re.Dimensions, Dimension{Name: d.Name, Score: d.Score, Weight: d.Weight})
		}
		r.Entries = append(r.Entries, re)
	}
	for _, s := range fused.Swarms {
		r.Swarms = append(r.Swarms, Swarm(s))
	}
	for _, v := range verdicts {
		r.Verdicts = append(r.Verdicts, Verdict{FindingID: v.FindingID, Verified: v.Verified, Reason: v.Reason})
	}
	return r
}

// Write writes the report JSON to path, creating parent directories.
func (r Report) Write(path string) error {
	return writeJSON(path, r)
}

// Companion is the machine-readable sidecar for downstream tooling: an
// entity to tier map plus the cluster list.
type Companion struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Tiers       map[string]string `json:"tiers"`
	Clusters    [][]string        `json:"clusters,omitempty"`
}

// BuildCompanion derives the companion from risk scores and clusters.
func BuildCompanion(scores risk.Result, clusters [][]string) Companion {
	c := Companion{
		GeneratedAt: time.Now().UTC(),
		Tiers:       make(map[string]string, len(scores.Scores)),
		Clusters:    clusters,
	}
	for _, s := range scores.Scores {
		c.Tiers[s.Entity] = s.Tier
	}
	return c
}

// Write writes the companion JSON to path.
func (c Companion) Write(path string) error {
	return writeJSON(path, c)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
