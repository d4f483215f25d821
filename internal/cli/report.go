package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
	"swarmfuse/internal/pipeline"
	"swarmfuse/internal/report"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect session reports",
	}
	cmd.AddCommand(newReportShowCmd())
	return cmd
}

func newReportShowCmd() *cobra.Command {
	var sessionName string
	var raw bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the report for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" {
				return fmt.Errorf("--session is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			path := filepath.Join(pipeline.SessionDir(home, sessionName), "report.json")
			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no report for session %q", sessionName)
				}
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				_, _ = out.Write(data)
				return nil
			}
			var rep report.Report
			if err := json.Unmarshal(data, &rep); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(out, "Session %q: %s (%d/%d tasks completed)\n",
				rep.Session, rep.Outcome, rep.Completeness.Completed, rep.Completeness.Expected)
			for _, e := range rep.Entries {
				_, _ = fmt.Fprintf(out, "- [%s] %.2f %s %s:%d %s\n",
					e.Bucket, e.Priority, e.Severity, e.Entity.Path, e.Entity.Line, e.Evidence)
			}
			for _, s := range rep.Swarms {
				_, _ = fmt.Fprintf(out, "Swarm: %v (risk %.2f)\n", s.Entities, s.ClusterRisk)
			}
			for _, w := range rep.Warnings {
				_, _ = fmt.Fprintf(out, "Warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print raw report JSON")
	return cmd
}
