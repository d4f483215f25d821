package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
	"swarmfuse/internal/session"
	"swarmfuse/internal/store"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage review sessions",
	}
	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionStatusCmd())
	cmd.AddCommand(newSessionTeardownCmd())
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session (recovers a stale one with the same name)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			mgr := &session.Manager{Store: st, StaleThreshold: cfg.StaleSessionThreshold()}
			s, err := mgr.Create(ctx, name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created session %q (%s)\n", s.Name, s.SessionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Session name")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			for _, s := range sessions {
				hb := s.UpdatedAt.UTC().Format(time.RFC3339)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (status=%s tasks=%d heartbeat=%s)\n", s.Name, s.Status, s.TaskCount, hb)
			}
			return nil
		},
	}
	return cmd
}

func newSessionStatusCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts for a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			s, err := st.GetSessionByName(ctx, name)
			if err != nil {
				return err
			}
			if s == nil {
				return fmt.Errorf("session %q not found", name)
			}
			counts, err := st.CountTasksByStatus(ctx, name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session %q: %s\n", s.Name, s.Status)
			for _, status := range []string{"pending", "in_progress", "completed", "blocked"} {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", status, counts[status])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Session name")
	return cmd
}

func newSessionTeardownCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Remove a session and its tasks, dependencies, and audit trail",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			ctx := cmd.Context()
			home := config.MustHomeFrom(ctx)
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			mgr := &session.Manager{Store: st}
			done := make(chan struct{})
			close(done)
			if err := mgr.Teardown(ctx, name, func() {}, done); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed session %q\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Session name")
	return cmd
}
