package verify

import (
	"os"
	"path/filepath"
	"testing"

	"swarmfuse/internal/dedup"
	"swarmfuse/internal/finding"
	"swarmfuse/internal/fuse"
)

func entry(id, path string, line int, evidence string) fuse.Entry {
	return fuse.Entry{
		Finding: dedup.Representative{
			Finding: finding.Finding{
				ID:       id,
				Severity: finding.SeverityP2,
				Entity:   finding.Entity{Path: path, Line: line},
				Evidence: evidence,
			},
		},
		Priority: 0.9,
	}
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestTop_verifiesEvidence(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "auth/login.go", "package auth\n\nfunc Login() {\n\ttoken := hardcoded\n}\n")

	c, err := NewChecker(root)
	if err != nil {
		t.Fatalf("NewChecker: %v", err)
	}
	kept, verdicts := c.Top([]fuse.Entry{entry("f1", "auth/login.go", 4, "token := hardcoded")}, 10)
	if len(kept) != 1 {
		t.Fatalf("kept = %d, want 1", len(kept))
	}
	if len(verdicts) != 1 || !verdicts[0].Verified {
		t.Fatalf("verdicts = %+v, want verified", verdicts)
	}
}

func TestTop_evidenceWithinSlack(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.go", "l1\nl2\nl3\nneedle here\nl5\n")

	c, _ := NewChecker(root)
	c.LineSlack = 2
	// Cited line 2, evidence actually on line 4: within slack.
	kept, _ := c.Top([]fuse.Entry{entry("f1", "a.go", 2, "needle")}, 10)
	if len(kept) != 1 {
		t.Fatal("expected evidence within slack to verify")
	}
	// Slack 1 cannot reach line 4 from line 2.
	c2, _ := NewChecker(root)
	c2.LineSlack = 1
	kept, verdicts := c2.Top([]fuse.Entry{entry("f1", "a.go", 2, "needle")}, 10)
	if len(kept) != 0 {
		t.Fatal("expected evidence outside slack to fail")
	}
	if verdicts[0].Verified {
		t.Fatalf("verdict = %+v, want unverified", verdicts[0])
	}
}

func TestTop_missingEntityExcluded(t *testing.T) {
	t.Parallel()
	c, _ := NewChecker(t.TempDir())
	kept, verdicts := c.Top([]fuse.Entry{entry("f1", "ghost.go", 1, "anything")}, 10)
	if len(kept) != 0 {
		t.Fatal("expected missing entity to be excluded")
	}
	if verdicts[0].Verified || verdicts[0].Reason == "" {
		t.Fatalf("verdict = %+v, want unverified with reason", verdicts[0])
	}
}

func TestTop_emptyEvidenceChecksExistenceOnly(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	c, _ := NewChecker(root)
	kept, verdicts := c.Top([]fuse.Entry{entry("f1", "a.go", 1, "")}, 10)
	if len(kept) != 1 || !verdicts[0].Verified {
		t.Fatalf("kept=%d verdicts=%+v, want existence check to pass", len(kept), verdicts)
	}
}

func TestTop_onlyTopNChecked(t *testing.T) {
	t.Parallel()
	c, _ := NewChecker(t.TempDir())
	entries := []fuse.Entry{
		entry("f1", "ghost1.go", 1, "x"),
		entry("f2", "ghost2.go", 1, "x"),
		entry("f3", "ghost3.go", 1, "x"),
	}
	kept, verdicts := c.Top(entries, 1)
	// Only the first is checked (and dropped); the rest pass through.
	if len(kept) != 2 {
		t.Fatalf("kept = %d, want 2 unchecked survivors", len(kept))
	}
	if len(verdicts) != 1 {
		t.Fatalf("verdicts = %d, want 1", len(verdicts))
	}
}

func TestReadLines_cached(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.go", "needle\n")
	c, _ := NewChecker(root)
	if _, err := c.readLines("a.go"); err != nil {
		t.Fatalf("readLines: %v", err)
	}
	// Remove the file; the cached copy must still serve.
	if err := os.Remove(filepath.Join(root, "a.go")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	lines, err := c.readLines("a.go")
	if err != nil {
		t.Fatalf("readLines from cache: %v", err)
	}
	if len(lines) == 0 || lines[0] != "needle" {
		t.Fatalf("cached lines = %v", lines)
	}
}
