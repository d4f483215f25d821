// Package dedup collapses overlapping findings from different producers into
// representatives, using locality grouping and a category precedence
// hierarchy. Output order is deterministic for identical input order.
package dedup

import (
	"log/slog"

	"swarmfuse/internal/finding"
)

// DefaultLocalityWindow is the line distance within which two findings on
// the same path are considered the same defect.
const DefaultLocalityWindow = 5

// DefaultPrecedence orders producer categories from highest to lowest
// authority.
var DefaultPrecedence = []string{"correctness", "safety", "performance", "style"}

// Config controls grouping and precedence.
type Config struct {
	// LocalityWindow is the maximum line distance for grouping; 0 means
	// DefaultLocalityWindow.
	LocalityWindow int
	// Precedence lists categories from highest to lowest; empty means
	// DefaultPrecedence. Unlisted categories rank below all listed ones.
	Precedence []string
	// ProducerCategories maps producer name to its category.
	ProducerCategories map[string]string
	// ProducerOrder is the producer declaration order, used as the final
	// tie-break.
	ProducerOrder []string
}

// Representative is one deduplicated finding. It keeps the ids of every
// source finding it stands for; the originals are never mutated.
type Representative struct {
	finding.Finding
	Category         string
	CrossConfirmed   bool
	SourceFindingIDs []string
}

func (c Config) window() int {
	if c.LocalityWindow > 0 {
		return c.LocalityWindow
	}
	return DefaultLocalityWindow
}

func (c Config) categoryRank(category string) int {
	prec := c.Precedence
	if len(prec) == 0 {
		prec = DefaultPrecedence
	}
	for i, p := range prec {
		if p == category {
			return i
		}
	}
	return len(prec)
}

func (c Config) producerRank(producer string) int {
	for i, p := range c.ProducerOrder {
		if p == producer {
			return i
		}
	}
	return len(c.ProducerOrder)
}

func (c Config) category(producer string) string {
	if c.ProducerCategories != nil {
		if cat, ok := c.ProducerCategories[producer]; ok {
			return cat
		}
	}
	return ""
}

type group struct {
	path    string
	anchor  int
	members []finding.Finding
}

// Deduplicate groups findings by (path, line within the locality window) and
// emits representatives. Within a group the dominant category's best finding
// wins; when the top categories tie in precedence, one representative per
// tied category is kept. Any group fed by more than one category is marked
// cross-confirmed.
func Deduplicate(findings []finding.Finding, cfg Config) []Representative {
	window := cfg.window()
	var groups []*group
	for _, f := range findings {
		placed := false
		for _, g := range groups {
			if g.path == f.Entity.Path && abs(g.anchor-f.Entity.Line) <= window {
				g.members = append(g.members, f)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{path: f.Entity.Path, anchor: f.Entity.Line, members: []finding.Finding{f}})
		}
	}

	var out []Representative
	for _, g := range groups {
		out = append(out, cfg.reduce(g)...)
	}
	if len(out) < len(findings) {
		slog.Debug("deduplication collapsed findings", "in", len(findings), "out", len(out))
	}
	return out
}

// reduce picks the representatives for one group.
func (c Config) reduce(g *group) []Representative {
	ids := make([]string, 0, len(g.members))
	categories := make(map[string]bool)
	for _, f := range g.members {
		ids = append(ids, f.ID)
		categories[c.category(f.Producer)] = true
	}
	crossConfirmed := len(categories) > 1

	// Best member per category, categories keyed by precedence rank.
	bestByCategory := make(map[string]finding.Finding)
	topRank := -1
	for _, f := range g.members {
		cat := c.category(f.Producer)
		rank := c.categoryRank(cat)
		if topRank == -1 || rank < topRank {
			topRank = rank
		}
		cur, ok := bestByCategory[cat]
		if !ok || betterWithin(c, f, cur) {
			bestByCategory[cat] = f
		}
	}

	// Keep one representative per category sharing the top precedence rank,
	// in first-appearance order for determinism.
	var out []Representative
	seen := make(map[string]bool)
	for _, f := range g.members {
		cat := c.category(f.Producer)
		if c.categoryRank(cat) != topRank || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, Representative{
			Finding:          bestByCategory[cat],
			Category:         cat,
			CrossConfirmed:   crossConfirmed,
			SourceFindingIDs: ids,
		})
	}
	return out
}

// betterWithin reports whether a should replace b as a category's best
// member: higher confidence wins, then earlier producer declaration order.
func betterWithin(c Config, a, b finding.Finding) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return c.producerRank(a.Producer) < c.producerRank(b.Producer)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
