package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"swarmfuse/internal/otel"
	"swarmfuse/internal/pool"
)

const defaultIdleSleep = 200 * time.Millisecond

// Worker claims tasks from the pool and executes them through its runtime
// until the context is cancelled.
type Worker struct {
	ID      string
	Pool    *pool.Pool
	Runtime Runtime
	// IdleSleep is the pause after an empty claim. Zero means 200ms.
	IdleSleep time.Duration
	// Emit receives progress events; nil discards them.
	Emit func(Event)
}

// Run is the claim loop: claim the next eligible task, execute it, mark it
// completed, repeat. A failed execution blocks the task instead of completing
// it so the supervisor and report can account for it. Returns when ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	idle := w.IdleSleep
	if idle <= 0 {
		idle = defaultIdleSleep
	}
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.Pool.ClaimNext(ctx, w.ID)
		if errors.Is(err, pool.ErrNoTask) {
			if !sleepCtx(ctx, idle) {
				return
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("worker claim failed", "worker", w.ID, "err", err)
			if !sleepCtx(ctx, idle) {
				return
			}
			continue
		}
		w.runOne(ctx, task.TaskID, task.Subject, task.OutputPath)
	}
}

func (w *Worker) runOne(ctx context.Context, taskID int64, subject, outputPath string) {
	req := TaskRequest{
		Session:    w.Pool.Session,
		Worker:     w.ID,
		TaskID:     taskID,
		Subject:    subject,
		OutputPath: outputPath,
	}
	emit := w.Emit
	if emit == nil {
		emit = func(Event) {}
	}
	lifecycle := func(eventType string, data map[string]any) {
		emit(Event{
			Type:      eventType,
			Session:   w.Pool.Session,
			Worker:    w.ID,
			TaskID:    &taskID,
			Timestamp: time.Now().UTC(),
			Data:      data,
		})
	}

	lifecycle("task_claimed", nil)
	start := time.Now()
	res, err := w.Runtime.RunTask(ctx, req, emit)
	otel.RecordWorkerRun(ctx, w.Pool.Session, w.ID, time.Since(start))
	if err != nil {
		slog.Error("worker task execution failed", "worker", w.ID, "task_id", taskID, "err", err)
		if berr := w.Pool.Block(ctx, taskID, w.ID); berr != nil {
			slog.Warn("block after failure failed", "task_id", taskID, "err", berr)
		}
		lifecycle("task_blocked", map[string]any{"error": err.Error()})
		return
	}
	if err := w.Pool.Complete(ctx, taskID, w.ID); err != nil {
		slog.Error("worker complete failed", "worker", w.ID, "task_id", taskID, "err", err)
		return
	}
	lifecycle("task_completed", map[string]any{"findings": res.FindingCount})
	slog.Debug("worker completed task", "worker", w.ID, "task_id", taskID, "findings", res.FindingCount)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
