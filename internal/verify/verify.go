// Package verify spot-checks the top-ranked findings against the actual
// entity files, excluding findings whose cited evidence cannot be located.
package verify

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"swarmfuse/internal/fuse"
)

// Defaults for the spot check.
const (
	DefaultTopN      = 10
	DefaultLineSlack = 3
	fileCacheSize    = 128
)

// Checker verifies findings against files under Root. File contents are
// cached so repeated findings on the same entity read it once.
type Checker struct {
	Root      string
	LineSlack int
	cache     *lru.Cache[string, []string]
}

// NewChecker returns a Checker rooted at root.
func NewChecker(root string) (*Checker, error) {
	cache, err := lru.New[string, []string](fileCacheSize)
	if err != nil {
		return nil, err
	}
	return &Checker{Root: root, LineSlack: DefaultLineSlack, cache: cache}, nil
}

// Verdict records the outcome of checking one finding.
type Verdict struct {
	FindingID string
	Verified  bool
	Reason    string
}

// Top checks the first topN entries (0 means DefaultTopN) and returns the
// entries that survive plus the verdicts for the checked ones. Entries past
// topN pass through unchecked; an unverifiable entry is dropped rather than
// kept on trust.
func (c *Checker) Top(entries []fuse.Entry, topN int) ([]fuse.Entry, []Verdict) {
	if topN <= 0 {
		topN = DefaultTopN
	}
	var kept []fuse.Entry
	var verdicts []Verdict
	for i, e := range entries {
		if i >= topN {
			kept = append(kept, e)
			continue
		}
		v := c.check(e)
		verdicts = append(verdicts, v)
		if v.Verified {
			kept = append(kept, e)
		} else {
			slog.Warn("finding failed verification", "finding", v.FindingID, "reason", v.Reason)
		}
	}
	return kept, verdicts
}

func (c *Checker) check(e fuse.Entry) Verdict {
	v := Verdict{FindingID: e.Finding.ID}
	lines, err := c.readLines(e.Finding.Entity.Path)
	if err != nil {
		v.Reason = "entity file not found"
		return v
	}
	evidence := strings.TrimSpace(e.Finding.Evidence)
	if evidence == "" {
		// Nothing to match; existence of the entity is the whole check.
		v.Verified = true
		return v
	}

	slack := c.LineSlack
	if slack <= 0 {
		slack = DefaultLineSlack
	}
	cited := e.Finding.Entity.Line
	lo := cited - 1 - slack
	if lo < 0 {
		lo = 0
	}
	hi := cited - 1 + slack
	if hi >= len(lines) {
		hi = len(lines) - 1
	}
	for i := lo; i <= hi; i++ {
		if strings.Contains(lines[i], evidence) {
			v.Verified = true
			return v
		}
	}
	v.Reason = "evidence text not found near cited line"
	return v
}

func (c *Checker) readLines(path string) ([]string, error) {
	if lines, ok := c.cache.Get(path); ok {
		return lines, nil
	}
	full := path
	if c.Root != "" && !filepath.IsAbs(path) {
		full = filepath.Join(c.Root, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(data), "\n")
	c.cache.Add(path, lines)
	return lines, nil
}
