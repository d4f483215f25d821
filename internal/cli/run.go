package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
	"swarmfuse/internal/httpapi"
	"swarmfuse/internal/pipeline"
	"swarmfuse/internal/store"
	"swarmfuse/internal/worker"
)

// planEntry is one task in a --plan file. depends_on holds zero-based
// indices of earlier entries in the same file.
type planEntry struct {
	Subject   string `json:"subject"`
	Producer  string `json:"producer"`
	DependsOn []int  `json:"depends_on,omitempty"`
}

func newRunCmd() *cobra.Command {
	var (
		sessionName    string
		planFile       string
		subjects       []string
		producer       string
		workers        int
		runtimeKind    string
		subprocessCmd  string
		subprocessArgs []string
		historyFile    string
		verifyRoot     string
		serveAddr      string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full review: claim tasks, collect findings, fuse, report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" {
				return fmt.Errorf("--session is required")
			}
			plan, err := buildPlan(planFile, subjects, producer)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}

			var rt worker.Runtime
			switch runtimeKind {
			case "", "stub":
				rt = worker.StubRuntime{}
			case "subprocess":
				if subprocessCmd == "" {
					return fmt.Errorf("--subprocess-cmd is required with --runtime subprocess")
				}
				rt = &worker.SubprocessRuntime{Command: subprocessCmd, Args: subprocessArgs}
			default:
				return fmt.Errorf("unknown runtime %q (stub, subprocess)", runtimeKind)
			}

			var history *pipeline.History
			if historyFile != "" {
				history, err = pipeline.LoadHistory(historyFile)
				if err != nil {
					return err
				}
			}

			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			// With --serve-addr the status API runs next to the pipeline
			// and its SSE hub broadcasts the run's events.
			var emit func(worker.Event)
			if serveAddr != "" {
				app, err := httpapi.NewApp(httpapi.ServerOptions{Home: home, Addr: serveAddr})
				if err != nil {
					return err
				}
				defer func() { _ = app.Close() }()
				go func() {
					if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("status server failed", "addr", serveAddr, "err", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = app.Server.Shutdown(shutdownCtx)
				}()
				emit = app.Hub.PublishEvent
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Status API on %s\n", serveAddr)
			}

			rep, err := pipeline.Run(ctx, st, pipeline.Options{
				Home:       home,
				Session:    sessionName,
				Plan:       plan,
				Workers:    workers,
				Runtime:    rt,
				Config:     cfg,
				History:    history,
				VerifyRoot: verifyRoot,
				Emit:       emit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Session %q finished: %s (%d/%d tasks completed)\n",
				rep.Session, rep.Outcome, rep.Completeness.Completed, rep.Completeness.Expected)
			_, _ = fmt.Fprintf(out, "Findings: %d prioritized", len(rep.Entries))
			if len(rep.Swarms) > 0 {
				_, _ = fmt.Fprintf(out, ", %d swarm(s)", len(rep.Swarms))
			}
			_, _ = fmt.Fprintln(out)
			for _, w := range rep.Warnings {
				_, _ = fmt.Fprintf(out, "Warning: %s\n", w)
			}
			_, _ = fmt.Fprintf(out, "Report: %s\n", filepath.Join(pipeline.SessionDir(home, sessionName), "report.json"))
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	cmd.Flags().StringVar(&planFile, "plan", "", "Task plan file (JSON array of {subject, producer, depends_on})")
	cmd.Flags().StringSliceVar(&subjects, "subject", nil, "Task subject (repeatable; alternative to --plan)")
	cmd.Flags().StringVar(&producer, "producer", "worker", "Producer label for --subject tasks")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent worker count (0 = default)")
	cmd.Flags().StringVar(&runtimeKind, "runtime", "stub", "Runtime: stub or subprocess")
	cmd.Flags().StringVar(&subprocessCmd, "subprocess-cmd", "", "Command for subprocess runtime")
	cmd.Flags().StringSliceVar(&subprocessArgs, "subprocess-args", nil, "Args for subprocess runtime")
	cmd.Flags().StringVar(&historyFile, "history", "", "Change-history file enabling risk scoring and the risk map")
	cmd.Flags().StringVar(&verifyRoot, "verify-root", "", "Repository root enabling verification of top findings")
	cmd.Flags().StringVar(&serveAddr, "serve-addr", "", "Also serve the status API (with live SSE events) on this address for the run's duration")

	return cmd
}

func buildPlan(planFile string, subjects []string, producer string) ([]pipeline.TaskSpec, error) {
	if planFile != "" {
		data, err := os.ReadFile(planFile)
		if err != nil {
			return nil, err
		}
		var entries []planEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse %s: %w", planFile, err)
		}
		plan := make([]pipeline.TaskSpec, 0, len(entries))
		for _, e := range entries {
			plan = append(plan, pipeline.TaskSpec{
				Subject:   e.Subject,
				Producer:  e.Producer,
				DependsOn: e.DependsOn,
			})
		}
		return plan, nil
	}
	if len(subjects) == 0 {
		return nil, fmt.Errorf("either --plan or at least one --subject is required")
	}
	plan := make([]pipeline.TaskSpec, 0, len(subjects))
	for _, s := range subjects {
		plan = append(plan, pipeline.TaskSpec{Subject: s, Producer: producer})
	}
	return plan, nil
}
