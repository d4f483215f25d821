// Package models provides shared types for the swarmfuse HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// Session is a bounded group of tasks and workers sharing a namespace and lifecycle.
type Session struct {
	SessionID string    `json:"session_id,omitempty"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	TaskCount int       `json:"task_count,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Task is a unit of work claimable by exactly one worker at a time.
type Task struct {
	TaskID       int64      `json:"task_id"`
	Subject      string     `json:"subject"`
	Status       string     `json:"status"`
	Owner        *string    `json:"owner,omitempty"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	OutputPath   string     `json:"output_path,omitempty"`
	DependsOn    []int64    `json:"depends_on,omitempty"`
	AttemptCount int        `json:"attempt_count,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at,omitempty"`
}

// AuditRecord is one entry in a session's task audit trail.
type AuditRecord struct {
	AuditID   int64     `json:"audit_id"`
	TaskID    int64     `json:"task_id"`
	Operation string    `json:"operation"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStatus is the /api/sessions/{name} response: the session plus task
// counts by status, enough for a consumer to judge run progress.
type SessionStatus struct {
	Session Session        `json:"session"`
	Tasks   map[string]int `json:"tasks"`
}
