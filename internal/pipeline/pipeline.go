// Package pipeline wires the full run: session creation, pool population,
// concurrent workers under supervision, then collection, deduplication,
// risk scoring, fusion, verification, and the final report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"swarmfuse/internal/config"
	"swarmfuse/internal/dedup"
	"swarmfuse/internal/finding"
	"swarmfuse/internal/fuse"
	"swarmfuse/internal/otel"
	"swarmfuse/internal/pool"
	"swarmfuse/internal/report"
	"swarmfuse/internal/risk"
	"swarmfuse/internal/session"
	"swarmfuse/internal/store"
	"swarmfuse/internal/supervise"
	"swarmfuse/internal/verify"
	"swarmfuse/internal/worker"
	"swarmfuse/pkg/models"
)

// TaskSpec is one planned task. DependsOn holds indices into the plan.
type TaskSpec struct {
	Subject   string
	Producer  string
	DependsOn []int
}

// Options configures one pipeline run.
type Options struct {
	Home    string
	Session string
	Plan    []TaskSpec
	// Workers is the concurrent worker count; 0 means the default.
	Workers int
	// Runtime executes tasks; nil means the stub runtime.
	Runtime worker.Runtime
	// Config supplies tuning; nil means config.Default().
	Config *config.Config
	// History supplies entity risk input; nil skips risk scoring.
	History *History
	// VerifyRoot enables the top-N verification pass rooted at this
	// directory; empty skips verification.
	VerifyRoot string
	// Emit receives worker progress events; nil discards them.
	Emit func(worker.Event)
}

// SessionDir is where a session's artifacts and reports live.
func SessionDir(home, name string) string {
	return filepath.Join(home, "sessions", name)
}

// Run executes the whole pipeline and returns the built report. The report
// and its companion are also written under the session directory, which
// outlives the store namespace teardown.
func Run(ctx context.Context, st store.Store, opts Options) (*report.Report, error) {
	if opts.Session == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if len(opts.Plan) == 0 {
		return nil, fmt.Errorf("task plan is empty")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	rt := opts.Runtime
	if rt == nil {
		rt = worker.StubRuntime{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = models.DefaultWorkerCount
	}

	mgr := &session.Manager{
		Store:          st,
		StaleThreshold: cfg.StaleSessionThreshold(),
		TeardownGrace:  cfg.TeardownGrace(),
	}
	if _, err := mgr.Create(ctx, opts.Session); err != nil {
		return nil, err
	}
	emit := opts.Emit
	if emit == nil {
		emit = func(worker.Event) {}
	}
	emit(worker.Event{Type: "session_started", Session: opts.Session, Timestamp: time.Now().UTC()})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go mgr.Heartbeat(runCtx, opts.Session, time.Minute)

	// Populate the pool. Each task owns a distinct artifact path, so workers
	// never contend on output files.
	p := pool.New(st, opts.Session)
	artifactDir := filepath.Join(SessionDir(opts.Home, opts.Session), "artifacts")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, err
	}
	taskIDs := make([]int64, len(opts.Plan))
	sources := make([]finding.Source, len(opts.Plan))
	for i, spec := range opts.Plan {
		var deps []int64
		for _, d := range spec.DependsOn {
			if d < 0 || d >= i {
				return nil, fmt.Errorf("%w: plan entry %d depends on %d", pool.ErrInvalidDependency, i, d)
			}
			deps = append(deps, taskIDs[d])
		}
		outputPath := filepath.Join(artifactDir, fmt.Sprintf("task-%d.json", i+1))
		id, err := p.CreateTask(ctx, spec.Subject, outputPath, deps)
		if err != nil {
			return nil, err
		}
		taskIDs[i] = id
		sources[i] = finding.Source{TaskID: id, Producer: spec.Producer, Path: outputPath}
	}

	// Start workers under the cancellable run context.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		w := &worker.Worker{
			ID:      fmt.Sprintf("worker-%d", i+1),
			Pool:    p,
			Runtime: rt,
			Emit:    opts.Emit,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(runCtx)
		}()
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	sup, err := supervise.WaitForCompletion(ctx, p, len(opts.Plan), supervise.Config{
		PollInterval: cfg.PollInterval(),
		StaleWarn:    cfg.StaleWarn(),
		HardTimeout:  cfg.HardTimeout(),
		AutoRelease:  cfg.AutoRelease(),
	})
	if err != nil {
		cancel()
		return nil, err
	}
	slog.Info("supervision finished", "session", opts.Session,
		"outcome", sup.Outcome, "completed", sup.Completed, "expected", sup.Expected)

	// Collect whatever the workers produced; absent output is a note, not
	// an error.
	collected := finding.Collect(sources)
	byProducer := make(map[string]int)
	for _, f := range collected.Findings {
		byProducer[f.Producer]++
	}
	for producer, n := range byProducer {
		otel.RecordFindings(ctx, producer, n)
	}

	reps := dedup.Deduplicate(collected.Findings, dedup.Config{
		LocalityWindow:     cfg.LocalityWindow,
		Precedence:         cfg.Precedence,
		ProducerCategories: cfg.Categories,
		ProducerOrder:      cfg.Producers,
	})

	var riskScores risk.Result
	var clusters [][]string
	fuseIn := fuse.Input{Findings: reps, Weights: cfg.PriorityWeights}
	if opts.History != nil {
		riskScores = risk.ScoreEntities(opts.History.Entities, risk.Config{Weights: cfg.RiskWeights})
		_, clusters = risk.CoChange(opts.History.Events, cfg.MinSharedEvents, cfg.MinCoupling)
		fuseIn.RiskTiers = make(map[string]string, len(riskScores.Scores))
		for _, s := range riskScores.Scores {
			fuseIn.RiskTiers[s.Entity] = s.Tier
		}
		fuseIn.Clusters = clusters
		fuseIn.Caution = opts.History.Caution
		fuseIn.Ownership = opts.History.Ownership
		fuseIn.FanIn = opts.History.FanIn
	}
	fused := fuse.Fuse(fuseIn)

	entries := fused.Entries
	var verdicts []verify.Verdict
	if opts.VerifyRoot != "" && cfg.VerifyTopN > 0 {
		checker, err := verify.NewChecker(opts.VerifyRoot)
		if err != nil {
			return nil, err
		}
		entries, verdicts = checker.Top(entries, cfg.VerifyTopN)
	}

	rep := report.Build(opts.Session, sup, fused, entries, collected, verdicts)
	rep.Warnings = append(rep.Warnings, riskScores.Warnings...)
	sessionDir := SessionDir(opts.Home, opts.Session)
	if err := rep.Write(filepath.Join(sessionDir, "report.json")); err != nil {
		return nil, err
	}
	if opts.History != nil {
		companion := report.BuildCompanion(riskScores, clusters)
		if err := companion.Write(filepath.Join(sessionDir, "risk_map.json")); err != nil {
			return nil, err
		}
	}

	if err := mgr.Teardown(ctx, opts.Session, cancel, workersDone); err != nil {
		slog.Warn("session teardown failed", "session", opts.Session, "err", err)
	}
	emit(worker.Event{
		Type:      "session_finished",
		Session:   opts.Session,
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"outcome": string(sup.Outcome), "completed": sup.Completed, "expected": sup.Expected},
	})
	return &rep, nil
}
