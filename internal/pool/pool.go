// Package pool coordinates a shared task pool across workers: task creation
// with dependency validation, atomic claiming, and ownership-checked
// completion, with every state change audited.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"swarmfuse/internal/otel"
	"swarmfuse/internal/store"
	"swarmfuse/pkg/models"
)

var (
	// ErrNoTask means no pending task is eligible for claiming right now.
	ErrNoTask = errors.New("no eligible task")
	// ErrTaskNotFound means the referenced task does not exist in the session.
	ErrTaskNotFound = errors.New("task not found")
	// ErrOwnershipMismatch means the caller does not own the task it tried to modify.
	ErrOwnershipMismatch = errors.New("task owned by another worker")
	// ErrInvalidDependency means a declared dependency references an unknown task.
	ErrInvalidDependency = errors.New("dependency references unknown task")
)

// Pool mediates task operations for one session namespace.
type Pool struct {
	Store   store.Store
	Session string
}

// New returns a Pool bound to the given session.
func New(st store.Store, session string) *Pool {
	return &Pool{Store: st, Session: session}
}

// CreateTask registers a task with optional dependencies. Every dependency
// must reference an already-registered task; unknown references are rejected
// before the task is persisted.
func (p *Pool) CreateTask(ctx context.Context, subject, outputPath string, dependsOn []int64) (int64, error) {
	for _, dep := range dependsOn {
		t, err := p.Store.GetTaskByID(ctx, p.Session, dep)
		if err != nil {
			return 0, err
		}
		if t == nil {
			return 0, fmt.Errorf("%w: task %d", ErrInvalidDependency, dep)
		}
	}
	id, err := p.Store.CreateTask(ctx, p.Session, subject, outputPath)
	if err != nil {
		return 0, err
	}
	for _, dep := range dependsOn {
		if err := p.Store.AddTaskDependency(ctx, id, dep); err != nil {
			return 0, err
		}
	}
	p.audit(ctx, id, models.OpCreate, "coordinator")
	otel.RecordTaskOp(ctx, models.OpCreate, p.Session, models.StatusPending)
	return id, nil
}

// ClaimNext atomically claims the lowest-id eligible task for workerID.
// A task is eligible when pending and all of its dependencies are completed.
// Returns ErrNoTask when nothing can be claimed; callers poll and retry.
func (p *Pool) ClaimNext(ctx context.Context, workerID string) (*store.Task, error) {
	for {
		candidate, err := p.Store.NextEligibleTask(ctx, p.Session)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			return nil, ErrNoTask
		}
		claimed, err := p.Store.ClaimTask(ctx, candidate.TaskID, workerID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			// Another worker won the race; pick again.
			otel.RecordClaimConflict(ctx, p.Session)
			continue
		}
		task, err := p.Store.GetTaskByID(ctx, p.Session, candidate.TaskID)
		if err != nil {
			return nil, err
		}
		p.audit(ctx, candidate.TaskID, models.OpClaim, workerID)
		otel.RecordTaskOp(ctx, models.OpClaim, p.Session, models.StatusInProgress)
		slog.Debug("task claimed", "session", p.Session, "task_id", candidate.TaskID, "worker", workerID)
		return task, nil
	}
}

// Complete marks a task completed. Only the claiming worker may complete it;
// a mismatched or unclaimed task yields ErrOwnershipMismatch.
func (p *Pool) Complete(ctx context.Context, taskID int64, workerID string) error {
	ok, err := p.Store.CompleteTask(ctx, taskID, workerID)
	if err != nil {
		return err
	}
	if !ok {
		t, err := p.Store.GetTaskByID(ctx, p.Session, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("%w: task %d", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("%w: task %d", ErrOwnershipMismatch, taskID)
	}
	p.audit(ctx, taskID, models.OpComplete, workerID)
	otel.RecordTaskOp(ctx, models.OpComplete, p.Session, models.StatusCompleted)
	return nil
}

// Release returns a claimed task to the pending pool, clearing its owner.
// The attempt count is preserved so supervisors can see retry history.
func (p *Pool) Release(ctx context.Context, taskID int64, actor string) error {
	ok, err := p.Store.ReleaseTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: task %d", ErrTaskNotFound, taskID)
	}
	p.audit(ctx, taskID, models.OpRelease, actor)
	otel.RecordTaskOp(ctx, models.OpRelease, p.Session, models.StatusPending)
	slog.Info("task released", "session", p.Session, "task_id", taskID, "actor", actor)
	return nil
}

// Block marks a task blocked. Blocked tasks are never claimed and gate any
// task depending on them.
func (p *Pool) Block(ctx context.Context, taskID int64, actor string) error {
	t, err := p.Store.GetTaskByID(ctx, p.Session, taskID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: task %d", ErrTaskNotFound, taskID)
	}
	if err := p.Store.BlockTask(ctx, taskID); err != nil {
		return err
	}
	p.audit(ctx, taskID, models.OpBlock, actor)
	otel.RecordTaskOp(ctx, models.OpBlock, p.Session, models.StatusBlocked)
	return nil
}

// Counts returns the number of tasks per status for the session.
func (p *Pool) Counts(ctx context.Context) (map[string]int, error) {
	return p.Store.CountTasksByStatus(ctx, p.Session)
}

// Tasks lists up to limit tasks in the session, ordered by id.
func (p *Pool) Tasks(ctx context.Context, limit int) ([]store.Task, error) {
	return p.Store.ListTasks(ctx, p.Session, limit)
}

// Task returns one task, or ErrTaskNotFound.
func (p *Pool) Task(ctx context.Context, taskID int64) (*store.Task, error) {
	t, err := p.Store.GetTaskByID(ctx, p.Session, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %d", ErrTaskNotFound, taskID)
	}
	return t, nil
}

func (p *Pool) audit(ctx context.Context, taskID int64, op, actor string) {
	if err := p.Store.AppendAudit(ctx, taskID, op, actor); err != nil {
		slog.Warn("audit append failed", "session", p.Session, "task_id", taskID, "op", op, "err", err)
	}
}
