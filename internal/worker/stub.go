package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"swarmfuse/internal/finding"
)

// StubRuntime is a deterministic local runtime that fabricates findings from
// the task subject without spawning subprocesses. Used in tests and demos.
type StubRuntime struct {
	// FindingsPerTask caps the fabricated findings; 0 means 2.
	FindingsPerTask int
	// Fail makes every run return an error, for exercising block paths.
	Fail bool
}

func (StubRuntime) Name() string { return "stub" }

func (r StubRuntime) RunTask(ctx context.Context, req TaskRequest, emit func(Event)) (TaskResult, error) {
	now := time.Now().UTC()
	emit(Event{
		Type:      "task_started",
		Session:   req.Session,
		Worker:    req.Worker,
		TaskID:    &req.TaskID,
		Timestamp: now,
	})
	if r.Fail {
		return TaskResult{}, fmt.Errorf("stub runtime failing task %d", req.TaskID)
	}
	select {
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	default:
	}

	count := r.FindingsPerTask
	if count <= 0 {
		count = 2
	}
	// Derive stable per-subject values so repeated runs produce identical
	// artifacts.
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Subject))
	seed := h.Sum32()

	severities := []finding.Severity{finding.SeverityP1, finding.SeverityP2, finding.SeverityP3}
	art := finding.Artifact{SchemaVersion: finding.SchemaVersion}
	for i := 0; i < count; i++ {
		art.Findings = append(art.Findings, finding.Finding{
			Producer:   "stub",
			Severity:   severities[(int(seed)+i)%len(severities)],
			Entity:     finding.Entity{Path: fmt.Sprintf("%s/file%d.go", req.Subject, i), Line: 10 + i},
			Confidence: 0.5 + 0.1*float64(i%5),
			Evidence:   fmt.Sprintf("stub evidence %d for %s", i, req.Subject),
		})
	}
	if err := finding.WriteArtifact(req.OutputPath, art); err != nil {
		return TaskResult{}, err
	}

	emit(Event{
		Type:      "task_finished",
		Session:   req.Session,
		Worker:    req.Worker,
		TaskID:    &req.TaskID,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"findings": count},
	})
	return TaskResult{FindingCount: count}, nil
}
