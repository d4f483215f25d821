package pool

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"swarmfuse/internal/store"
	"swarmfuse/pkg/models"
)

func newTestPool(t testing.TB) *Pool {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if _, err := st.CreateSession(context.Background(), "audit-run"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return New(st, "audit-run")
}

func TestCreateTask_invalidDependency(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	if _, err := p.CreateTask(ctx, "scan auth", "findings/1.json", []int64{999}); !errors.Is(err, ErrInvalidDependency) {
		t.Fatalf("expected ErrInvalidDependency, got %v", err)
	}

	id, err := p.CreateTask(ctx, "scan auth", "findings/1.json", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.CreateTask(ctx, "scan api", "findings/2.json", []int64{id}); err != nil {
		t.Fatalf("CreateTask with valid dep: %v", err)
	}
}

func TestClaimNext_lowestIDFirst(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	var ids []int64
	for _, subject := range []string{"a", "b", "c"} {
		id, err := p.CreateTask(ctx, subject, "", nil)
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		ids = append(ids, id)
	}

	for i := 0; i < 3; i++ {
		task, err := p.ClaimNext(ctx, "w1")
		if err != nil {
			t.Fatalf("ClaimNext: %v", err)
		}
		if task.TaskID != ids[i] {
			t.Fatalf("claim %d: got task %d, want %d", i, task.TaskID, ids[i])
		}
		if err := p.Complete(ctx, task.TaskID, "w1"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}

	if _, err := p.ClaimNext(ctx, "w1"); !errors.Is(err, ErrNoTask) {
		t.Fatalf("expected ErrNoTask, got %v", err)
	}
}

func TestClaimNext_dependencyGating(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	dep, err := p.CreateTask(ctx, "base", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	gated, err := p.CreateTask(ctx, "gated", "", []int64{dep})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	task, err := p.ClaimNext(ctx, "w1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if task.TaskID != dep {
		t.Fatalf("got task %d, want dependency %d first", task.TaskID, dep)
	}
	// The dependent task is not eligible while the base is in_progress.
	if _, err := p.ClaimNext(ctx, "w2"); !errors.Is(err, ErrNoTask) {
		t.Fatalf("expected ErrNoTask while dependency incomplete, got %v", err)
	}
	if err := p.Complete(ctx, dep, "w1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	task, err = p.ClaimNext(ctx, "w2")
	if err != nil {
		t.Fatalf("ClaimNext after dep complete: %v", err)
	}
	if task.TaskID != gated {
		t.Fatalf("got task %d, want %d", task.TaskID, gated)
	}
}

func TestComplete_ownershipAndNotFound(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "solo", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	if err := p.Complete(ctx, id, "w2"); !errors.Is(err, ErrOwnershipMismatch) {
		t.Fatalf("expected ErrOwnershipMismatch, got %v", err)
	}
	if err := p.Complete(ctx, 999, "w1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := p.Complete(ctx, id, "w1"); err != nil {
		t.Fatalf("Complete by owner: %v", err)
	}
}

func TestReleaseAndReclaim(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "flaky", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := p.Release(ctx, id, "supervisor"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(ctx, 999, "supervisor"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	task, err := p.ClaimNext(ctx, "w2")
	if err != nil {
		t.Fatalf("ClaimNext after release: %v", err)
	}
	if task.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", task.AttemptCount)
	}
	if task.Owner == nil || *task.Owner != "w2" {
		t.Fatalf("Owner = %v, want w2", task.Owner)
	}
}

func TestBlock(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "stuck", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := p.Block(ctx, id, "w1"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); !errors.Is(err, ErrNoTask) {
		t.Fatalf("expected ErrNoTask for blocked task, got %v", err)
	}
	if err := p.Block(ctx, 999, "w1"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}

	counts, err := p.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts["blocked"] != 1 {
		t.Fatalf("blocked count = %d, want 1", counts["blocked"])
	}
}

// Ten workers race for three tasks: exactly three claims succeed and each
// task ends up with exactly one owner.
func TestClaimNext_raceOneOwnerPerTask(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	const workers = 10
	const tasks = 3
	for i := 0; i < tasks; i++ {
		if _, err := p.CreateTask(ctx, "contested", "", nil); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	var wins atomic.Int64
	owners := make(map[int64]string)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			worker := "w" + string(rune('0'+n))
			task, err := p.ClaimNext(ctx, worker)
			if errors.Is(err, ErrNoTask) {
				return
			}
			if err != nil {
				t.Errorf("ClaimNext: %v", err)
				return
			}
			wins.Add(1)
			mu.Lock()
			if prev, dup := owners[task.TaskID]; dup {
				t.Errorf("task %d claimed by both %s and %s", task.TaskID, prev, worker)
			}
			owners[task.TaskID] = worker
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if wins.Load() != tasks {
		t.Fatalf("successful claims = %d, want %d", wins.Load(), tasks)
	}
	counts, err := p.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts["in_progress"] != tasks {
		t.Fatalf("in_progress = %d, want %d", counts["in_progress"], tasks)
	}
}

func TestAuditTrailCoversOperations(t *testing.T) {
	t.Parallel()
	p := newTestPool(t)
	ctx := context.Background()

	id, err := p.CreateTask(ctx, "tracked", "", nil)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w1"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := p.Release(ctx, id, "supervisor"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := p.ClaimNext(ctx, "w2"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := p.Complete(ctx, id, "w2"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	recs, err := p.Store.ListAudit(ctx, p.Session)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	want := []string{models.OpCreate, models.OpClaim, models.OpRelease, models.OpClaim, models.OpComplete}
	if len(recs) != len(want) {
		t.Fatalf("audit records = %d, want %d", len(recs), len(want))
	}
	for i, op := range want {
		if recs[i].Operation != op {
			t.Fatalf("audit[%d] = %s, want %s", i, recs[i].Operation, op)
		}
	}
}

func BenchmarkClaimCompleteCycle(b *testing.B) {
	p := newTestPool(b)
	ctx := context.Background()
	for i := 0; i < b.N; i++ {
		id, err := p.CreateTask(ctx, "bench", "", nil)
		if err != nil {
			b.Fatalf("CreateTask: %v", err)
		}
		if _, err := p.ClaimNext(ctx, "w1"); err != nil {
			b.Fatalf("ClaimNext: %v", err)
		}
		if err := p.Complete(ctx, id, "w1"); err != nil {
			b.Fatalf("Complete: %v", err)
		}
	}
}
