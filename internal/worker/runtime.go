// Package worker runs claimed tasks through a pluggable analysis runtime
// and writes each task's findings artifact to its output path.
package worker

import (
	"context"
	"time"
)

// Event is a progress notification emitted while a task runs.
type Event struct {
	Type      string         `json:"type"`
	Session   string         `json:"session,omitempty"`
	Worker    string         `json:"worker,omitempty"`
	TaskID    *int64         `json:"task_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// TaskRequest describes one claimed task handed to a runtime.
type TaskRequest struct {
	Session    string
	Worker     string
	TaskID     int64
	Subject    string
	OutputPath string
}

// TaskResult summarizes a finished execution.
type TaskResult struct {
	// FindingCount is how many findings the runtime wrote to the artifact.
	FindingCount int
}

// Runtime executes one task. Implementations must write a findings artifact
// to req.OutputPath before returning (an empty artifact when the analysis
// produced nothing), and may emit progress events through emit.
type Runtime interface {
	Name() string
	RunTask(ctx context.Context, req TaskRequest, emit func(Event)) (TaskResult, error)
}
