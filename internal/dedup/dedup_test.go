package dedup

import (
	"reflect"
	"testing"

	"swarmfuse/internal/finding"
)

var testConfig = Config{
	LocalityWindow: 5,
	Precedence:     []string{"correctness", "safety", "performance", "style"},
	ProducerCategories: map[string]string{
		"racecheck": "correctness",
		"authscan":  "safety",
		"perfscan":  "performance",
		"linter":    "style",
		"fmtcheck":  "style",
	},
	ProducerOrder: []string{"racecheck", "authscan", "perfscan", "linter", "fmtcheck"},
}

func mk(id, producer, path string, line int, conf float64) finding.Finding {
	return finding.Finding{
		ID:         id,
		Producer:   producer,
		Severity:   finding.SeverityP2,
		Entity:     finding.Entity{Path: path, Line: line},
		Confidence: conf,
		Evidence:   "ev-" + id,
	}
}

func TestDeduplicate_localityGrouping(t *testing.T) {
	t.Parallel()
	in := []finding.Finding{
		mk("f1", "linter", "a.go", 10, 0.5),
		mk("f2", "linter", "a.go", 13, 0.5),  // within window of f1
		mk("f3", "linter", "a.go", 40, 0.5),  // separate group
		mk("f4", "linter", "b.go", 10, 0.5),  // different path
	}
	out := Deduplicate(in, testConfig)
	if len(out) != 3 {
		t.Fatalf("representatives = %d, want 3", len(out))
	}
	if got := out[0].SourceFindingIDs; !reflect.DeepEqual(got, []string{"f1", "f2"}) {
		t.Fatalf("first group ids = %v, want [f1 f2]", got)
	}
}

func TestDeduplicate_precedenceWins(t *testing.T) {
	t.Parallel()
	in := []finding.Finding{
		mk("f1", "linter", "a.go", 10, 0.99),   // style, high confidence
		mk("f2", "racecheck", "a.go", 11, 0.4), // correctness outranks regardless
	}
	out := Deduplicate(in, testConfig)
	if len(out) != 1 {
		t.Fatalf("representatives = %d, want 1", len(out))
	}
	if out[0].ID != "f2" || out[0].Category != "correctness" {
		t.Fatalf("representative = %s (%s), want f2 (correctness)", out[0].ID, out[0].Category)
	}
	if !out[0].CrossConfirmed {
		t.Fatal("two categories in one group must mark cross-confirmed")
	}
	if !reflect.DeepEqual(out[0].SourceFindingIDs, []string{"f1", "f2"}) {
		t.Fatalf("ids = %v, want both sources retained", out[0].SourceFindingIDs)
	}
}

func TestDeduplicate_confidenceTieBreak(t *testing.T) {
	t.Parallel()
	in := []finding.Finding{
		mk("f1", "linter", "a.go", 10, 0.3),
		mk("f2", "linter", "a.go", 12, 0.8),
	}
	out := Deduplicate(in, testConfig)
	if len(out) != 1 || out[0].ID != "f2" {
		t.Fatalf("out = %+v, want f2 (higher confidence)", out)
	}
	if out[0].CrossConfirmed {
		t.Fatal("single-category group must not be cross-confirmed")
	}
}

func TestDeduplicate_declarationOrderTieBreak(t *testing.T) {
	t.Parallel()
	// Same category, equal confidence: the earlier-declared producer wins.
	in := []finding.Finding{
		mk("f1", "fmtcheck", "a.go", 10, 0.5),
		mk("f2", "linter", "a.go", 10, 0.5),
	}
	out := Deduplicate(in, testConfig)
	if len(out) != 1 || out[0].ID != "f2" {
		t.Fatalf("out[0] = %s, want f2 (linter declared before fmtcheck)", out[0].ID)
	}
}

func TestDeduplicate_equalPrecedenceKeepsBoth(t *testing.T) {
	t.Parallel()
	cfg := testConfig
	cfg.ProducerCategories = map[string]string{
		"authscan":  "safety",
		"racecheck": "safety2",
	}
	cfg.Precedence = []string{"correctness"} // both categories unlisted, equal rank
	in := []finding.Finding{
		mk("f1", "authscan", "a.go", 10, 0.5),
		mk("f2", "racecheck", "a.go", 11, 0.5),
	}
	out := Deduplicate(in, cfg)
	if len(out) != 2 {
		t.Fatalf("representatives = %d, want both tied categories kept", len(out))
	}
	for _, r := range out {
		if !r.CrossConfirmed {
			t.Fatalf("representative %s not cross-confirmed", r.ID)
		}
	}
}

func TestDeduplicate_deterministic(t *testing.T) {
	t.Parallel()
	in := []finding.Finding{
		mk("f1", "linter", "a.go", 10, 0.5),
		mk("f2", "racecheck", "a.go", 11, 0.5),
		mk("f3", "authscan", "b.go", 20, 0.7),
		mk("f4", "perfscan", "b.go", 22, 0.7),
		mk("f5", "linter", "c.go", 1, 0.2),
	}
	first := Deduplicate(in, testConfig)
	second := Deduplicate(in, testConfig)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("non-deterministic output:\n%+v\n%+v", first, second)
	}
}

func TestDeduplicate_empty(t *testing.T) {
	t.Parallel()
	if out := Deduplicate(nil, testConfig); len(out) != 0 {
		t.Fatalf("out = %v, want empty", out)
	}
}
