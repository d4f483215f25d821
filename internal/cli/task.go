package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
	"swarmfuse/internal/pool"
	"swarmfuse/internal/store"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskAddCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskReleaseCmd())
	cmd.AddCommand(newTaskBlockCmd())
	cmd.AddCommand(newTaskAuditCmd())
	return cmd
}

func newTaskAddCmd() *cobra.Command {
	var (
		sessionName string
		subject     string
		output      string
		deps        []int64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a session (optionally depending on earlier tasks)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" || subject == "" {
				return fmt.Errorf("--session and --subject are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p := pool.New(st, sessionName)
			id, err := p.CreateTask(cmd.Context(), subject, output, deps)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %d in session %q\n", id, sessionName)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	cmd.Flags().StringVar(&subject, "subject", "", "Task subject (what the worker should examine)")
	cmd.Flags().StringVar(&output, "output", "", "Artifact output path for the worker")
	cmd.Flags().Int64SliceVar(&deps, "depends-on", nil, "Task IDs this task depends on")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var sessionName string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" {
				return fmt.Errorf("--session is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			tasks, err := st.ListTasks(cmd.Context(), sessionName, limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
				return nil
			}
			for _, t := range tasks {
				owner := "-"
				if t.Owner != nil {
					owner = *t.Owner
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %d %s (status=%s owner=%s attempts=%d)\n",
					t.TaskID, t.Subject, t.Status, owner, t.AttemptCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Max tasks to list (0 = all)")
	return cmd
}

func newTaskReleaseCmd() *cobra.Command {
	var sessionName string
	var taskID int64
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release an in-progress task back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" || taskID <= 0 {
				return fmt.Errorf("--session and --id are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p := pool.New(st, sessionName)
			if err := p.Release(cmd.Context(), taskID, "operator"); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Released task %d\n", taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskBlockCmd() *cobra.Command {
	var sessionName string
	var taskID int64
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Mark a task blocked so workers skip it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" || taskID <= 0 {
				return fmt.Errorf("--session and --id are required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p := pool.New(st, sessionName)
			if err := p.Block(cmd.Context(), taskID, "operator"); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Blocked task %d\n", taskID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskAuditCmd() *cobra.Command {
	var sessionName string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail for a session's tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName == "" {
				return fmt.Errorf("--session is required")
			}
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			records, err := st.ListAudit(cmd.Context(), sessionName)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No audit records.")
				return nil
			}
			for _, r := range records {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s task=%d %s by %s\n",
					r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), r.TaskID, r.Operation, r.Actor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionName, "session", "", "Session name")
	return cmd
}
