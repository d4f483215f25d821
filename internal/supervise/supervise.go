// Package supervise watches a session's task pool until the expected number
// of tasks complete, warning about stale claims and optionally releasing
// them, and classifies the run when a hard timeout intervenes.
package supervise

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"swarmfuse/internal/pool"
	"swarmfuse/pkg/models"
)

// Outcome classifies how supervision ended.
type Outcome string

const (
	// OutcomeCompleted means every expected task finished.
	OutcomeCompleted Outcome = "completed"
	// OutcomeTimedOut means the hard timeout fired with zero completions.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomePartial means some but not all tasks completed before the run
	// was cut off.
	OutcomePartial Outcome = "partial"
)

// Config holds the supervision knobs. Zero PollInterval means 30s; zero
// HardTimeout means no deadline; zero AutoRelease disables reclaiming.
type Config struct {
	PollInterval time.Duration
	StaleWarn    time.Duration
	HardTimeout  time.Duration
	AutoRelease  time.Duration
}

// Result is the terminal supervision verdict.
type Result struct {
	Outcome   Outcome
	Completed int
	Expected  int
	Released  []int64
	TimedOut  []int64
	Warnings  []string
}

// WaitForCompletion polls the pool until expected tasks are completed, the
// hard timeout fires, or no task can make further progress. A claim older
// than StaleWarn produces one warning per task; older than AutoRelease (when
// enabled) it is released back to pending. The result is always produced
// within HardTimeout plus one poll interval.
func WaitForCompletion(ctx context.Context, p *pool.Pool, expected int, cfg Config) (Result, error) {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	res := Result{Expected: expected}
	var deadline time.Time
	if cfg.HardTimeout > 0 {
		deadline = time.Now().Add(cfg.HardTimeout)
	}
	warned := make(map[int64]bool)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := pollOnce(ctx, p, expected, cfg, &res, warned, deadline)
		if err != nil {
			return res, err
		}
		if done {
			return res, nil
		}
		select {
		case <-ctx.Done():
			finalize(&res, nil)
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func pollOnce(ctx context.Context, p *pool.Pool, expected int, cfg Config, res *Result, warned map[int64]bool, deadline time.Time) (bool, error) {
	tasks, err := p.Tasks(ctx, models.DefaultTaskListLimit)
	if err != nil {
		return false, err
	}

	now := time.Now()
	completed := 0
	runnable := 0
	var inProgress []int64
	for _, t := range tasks {
		switch t.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusInProgress:
			runnable++
			inProgress = append(inProgress, t.TaskID)
			if t.ClaimedAt == nil {
				continue
			}
			age := now.Sub(*t.ClaimedAt)
			if cfg.StaleWarn > 0 && age > cfg.StaleWarn && !warned[t.TaskID] {
				warned[t.TaskID] = true
				msg := fmt.Sprintf("task %d claimed %s ago without completing", t.TaskID, age.Round(time.Second))
				res.Warnings = append(res.Warnings, msg)
				slog.Warn("stale task claim", "session", p.Session, "task_id", t.TaskID, "age", age)
			}
			if cfg.AutoRelease > 0 && age > cfg.AutoRelease {
				if err := p.Release(ctx, t.TaskID, "supervisor"); err != nil {
					slog.Warn("auto-release failed", "task_id", t.TaskID, "err", err)
					continue
				}
				res.Released = append(res.Released, t.TaskID)
				runnable++ // back to pending, still runnable
			}
		case models.StatusPending:
			runnable++
		}
	}
	res.Completed = completed

	if completed >= expected {
		res.Outcome = OutcomeCompleted
		return true, nil
	}
	// Every remaining task is blocked; waiting further cannot help.
	if runnable == 0 {
		finalize(res, inProgress)
		return true, nil
	}
	if !deadline.IsZero() && now.After(deadline) {
		res.TimedOut = inProgress
		finalize(res, inProgress)
		slog.Warn("supervision hard timeout", "session", p.Session,
			"completed", completed, "expected", expected, "in_progress", len(inProgress))
		return true, nil
	}
	return false, nil
}

func finalize(res *Result, inProgress []int64) {
	res.TimedOut = inProgress
	if res.Completed == 0 {
		res.Outcome = OutcomeTimedOut
	} else {
		res.Outcome = OutcomePartial
	}
}
