// Package finding defines the finding schema shared by all producers and
// collects findings from worker output artifacts.
package finding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Severity orders findings by urgency: P1 is most severe.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
)

// Rank maps severity to a comparable weight, higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityP1:
		return 3
	case SeverityP2:
		return 2
	case SeverityP3:
		return 1
	}
	return 0
}

// Classification is an optional change-impact label.
type Classification string

const (
	ClassMustChange  Classification = "must-change"
	ClassShouldCheck Classification = "should-check"
	ClassMayAffect   Classification = "may-affect"
)

// Entity locates a finding: a file path and a line within it.
type Entity struct {
	Path string `json:"path"`
	Line int    `json:"line"`
}

func (e Entity) String() string {
	return fmt.Sprintf("%s:%d", e.Path, e.Line)
}

// Finding is one immutable piece of evidence emitted by a producer.
type Finding struct {
	ID             string         `json:"id"`
	Producer       string         `json:"producer"`
	Severity       Severity       `json:"severity"`
	Entity         Entity         `json:"entity"`
	Confidence     float64        `json:"confidence"`
	Evidence       string         `json:"evidence"`
	Classification Classification `json:"classification,omitempty"`
}

// Artifact is the JSON document a worker writes to its task's output path.
type Artifact struct {
	SchemaVersion int       `json:"schema_version"`
	Findings      []Finding `json:"findings"`
}

// SchemaVersion is the artifact format version this build reads and writes.
const SchemaVersion = 1

// WriteArtifact writes an artifact document to path, creating parent
// directories as needed.
func WriteArtifact(path string, a Artifact) error {
	if a.SchemaVersion == 0 {
		a.SchemaVersion = SchemaVersion
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Source names one artifact to collect: the task that produced it, the
// producer identity, and the file path.
type Source struct {
	TaskID   int64
	Producer string
	Path     string
}

// Result is the outcome of collecting a set of artifacts.
type Result struct {
	Findings []Finding
	// Missing notes artifacts that were absent or empty, one per source.
	Missing []string
	// Malformed counts entries that were skipped during validation.
	Malformed int
}

// Collect reads findings from each source artifact. An absent or empty
// artifact becomes a Missing note rather than an error; individual entries
// that fail validation are skipped and counted. Finding IDs are assigned
// as task<id>-<n> so every finding traces back to its task.
func Collect(sources []Source) Result {
	var res Result
	for _, src := range sources {
		data, err := os.ReadFile(src.Path)
		if err != nil || len(data) == 0 {
			res.Missing = append(res.Missing, fmt.Sprintf("task %d (%s): no output at %s", src.TaskID, src.Producer, src.Path))
			continue
		}
		var art Artifact
		if err := json.Unmarshal(data, &art); err != nil {
			res.Missing = append(res.Missing, fmt.Sprintf("task %d (%s): unreadable artifact at %s", src.TaskID, src.Producer, src.Path))
			continue
		}
		n := 0
		for _, f := range art.Findings {
			if !valid(f) {
				res.Malformed++
				continue
			}
			n++
			f.ID = fmt.Sprintf("task%d-%d", src.TaskID, n)
			if f.Producer == "" {
				f.Producer = src.Producer
			}
			res.Findings = append(res.Findings, f)
		}
		if len(art.Findings) == 0 {
			res.Missing = append(res.Missing, fmt.Sprintf("task %d (%s): empty artifact at %s", src.TaskID, src.Producer, src.Path))
		}
	}
	return res
}

func valid(f Finding) bool {
	if f.Entity.Path == "" || f.Entity.Line < 0 {
		return false
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return false
	}
	switch f.Severity {
	case SeverityP1, SeverityP2, SeverityP3:
	default:
		return false
	}
	switch f.Classification {
	case "", ClassMustChange, ClassShouldCheck, ClassMayAffect:
	default:
		return false
	}
	return true
}
