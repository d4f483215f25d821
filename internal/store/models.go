// Package store defines the persistence interface and shared models for
// sessions, tasks, and the task audit trail.
package store

import "time"

// Session is a named group of tasks and workers sharing a namespace.
// UpdatedAt doubles as the heartbeat: the session manager touches it while a
// run is live, and sessions whose heartbeat is too old are considered stale.
type Session struct {
	SessionID string
	Name      string
	Status    string // active, completed, aborted
	TaskCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task is a claimable work item. Owner and ClaimedAt are set only while the
// task is in_progress; a completed task is terminal.
type Task struct {
	TaskID       int64
	SessionID    string
	Subject      string
	Status       string // pending, in_progress, completed, blocked
	Owner        *string
	ClaimedAt    *time.Time
	OutputPath   string
	AttemptCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditRecord is one append-only entry describing a task operation.
type AuditRecord struct {
	AuditID   int64
	TaskID    int64
	Operation string
	Actor     string
	CreatedAt time.Time
}
