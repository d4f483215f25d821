package supervise

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"swarmfuse/internal/pool"
	"swarmfuse/internal/store"
)

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if _, err := st.CreateSession(context.Background(), "sup-run"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return pool.New(st, "sup-run")
}

func TestWaitForCompletion_allCompleted(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		id, err := p.CreateTask(ctx, "done", "", nil)
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		if _, err := p.ClaimNext(ctx, "w1"); err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if err := p.Complete(ctx, id, "w1"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	res, err := WaitForCompletion(ctx, p, 2, Config{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("Outcome = %s, want completed", res.Outcome)
	}
	if res.Completed != 2 || res.Expected != 2 {
		t.Fatalf("Completed/Expected = %d/%d, want 2/2", res.Completed, res.Expected)
	}
}

// A worker that claims a task and never finishes must yield a terminal
// timed-out result once the hard timeout fires.
func TestWaitForCompletion_hardTimeout(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "hung", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	start := time.Now()
	res, err := WaitForCompletion(ctx, p, 1, Config{
		PollInterval: 50 * time.Millisecond,
		HardTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("Outcome = %s, want timed_out", res.Outcome)
	}
	if len(res.TimedOut) != 1 || res.TimedOut[0] != id {
		t.Fatalf("TimedOut = %v, want [%d]", res.TimedOut, id)
	}
	// Terminal result must arrive within hard timeout plus one poll interval
	// (with some slack for scheduling).
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("supervision took %s, want about 1s", elapsed)
	}
}

func TestWaitForCompletion_partial(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	done, err := p.CreateTask(ctx, "done", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	hung, err := p.CreateTask(ctx, "hung", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := p.Complete(ctx, done, "w1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w2"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	res, err := WaitForCompletion(ctx, p, 2, Config{
		PollInterval: 20 * time.Millisecond,
		HardTimeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if res.Outcome != OutcomePartial {
		t.Fatalf("Outcome = %s, want partial", res.Outcome)
	}
	if res.Completed != 1 {
		t.Fatalf("Completed = %d, want 1", res.Completed)
	}
	if len(res.TimedOut) != 1 || res.TimedOut[0] != hung {
		t.Fatalf("TimedOut = %v, want [%d]", res.TimedOut, hung)
	}
}

func TestWaitForCompletion_staleWarning(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	if _, err := p.CreateTask(ctx, "slow", "", nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	res, err := WaitForCompletion(ctx, p, 1, Config{
		PollInterval: 20 * time.Millisecond,
		StaleWarn:    time.Nanosecond,
		HardTimeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one stale warning", res.Warnings)
	}
}

func TestWaitForCompletion_autoRelease(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "abandoned", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	res, err := WaitForCompletion(ctx, p, 1, Config{
		PollInterval: 20 * time.Millisecond,
		AutoRelease:  time.Nanosecond,
		HardTimeout:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if len(res.Released) == 0 || res.Released[0] != id {
		t.Fatalf("Released = %v, want [%d]", res.Released, id)
	}
	task, err := p.Task(ctx, id)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task.Status != "pending" || task.Owner != nil {
		t.Fatalf("released task status=%s owner=%v, want pending/nil", task.Status, task.Owner)
	}
}

// When every remaining task is blocked the supervisor must not wait out the
// full hard timeout.
func TestWaitForCompletion_blockedShortCircuit(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "broken", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := p.Block(ctx, id, "w1"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	start := time.Now()
	res, err := WaitForCompletion(ctx, p, 1, Config{
		PollInterval: 10 * time.Millisecond,
		HardTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if res.Outcome != OutcomeTimedOut {
		t.Fatalf("Outcome = %s, want timed_out", res.Outcome)
	}
	if time.Since(start) > time.Second {
		t.Fatal("expected short-circuit well before the hard timeout")
	}
}

func TestWaitForCompletion_contextCancel(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := p.CreateTask(ctx, "pending", "", nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	_, err := WaitForCompletion(ctx, p, 1, Config{PollInterval: 10 * time.Millisecond})
	if err == nil {
		t.Fatal("expected context error")
	}
}
