package store

import "context"

// Store is the persistence interface for sessions, tasks, dependencies, and
// the audit trail. Implementations: the default SQLite store (this package)
// and *postgres.Store (PostgreSQL).
//
// Claim, Complete, and Release are the only mutators of task ownership and
// must be atomic: a conditional update that either applies fully or reports
// false, so concurrent callers can never both win the same task.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, name string) (Session, error)
	GetSessionByName(ctx context.Context, name string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	SetSessionStatus(ctx context.Context, name, status string) error
	TouchSession(ctx context.Context, name string) error
	DeleteSessionNamespace(ctx context.Context, name string) error

	// Tasks
	CreateTask(ctx context.Context, sessionName, subject, outputPath string) (int64, error)
	AddTaskDependency(ctx context.Context, taskID, dependsOnTaskID int64) error
	ListTaskDependencies(ctx context.Context, taskID int64) ([]int64, error)
	ListTasks(ctx context.Context, sessionName string, limit int) ([]Task, error)
	GetTaskByID(ctx context.Context, sessionName string, taskID int64) (*Task, error)
	NextEligibleTask(ctx context.Context, sessionName string) (*Task, error)
	ClaimTask(ctx context.Context, taskID int64, workerID string) (bool, error)
	CompleteTask(ctx context.Context, taskID int64, workerID string) (bool, error)
	ReleaseTask(ctx context.Context, taskID int64) (bool, error)
	BlockTask(ctx context.Context, taskID int64) error
	CountTasksByStatus(ctx context.Context, sessionName string) (map[string]int, error)

	// Audit
	AppendAudit(ctx context.Context, taskID int64, operation, actor string) error
	ListAudit(ctx context.Context, sessionName string) ([]AuditRecord, error)

	// Lifecycle
	Close() error
}
