package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
	"swarmfuse/internal/store"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the home directory and store are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			st, err := store.Open(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("store: cannot open sqlite under %s: %v", home, err))
			} else {
				if _, err := st.ListSessions(cmd.Context()); err != nil {
					problems = append(problems, fmt.Sprintf("store: query failed: %v", err))
				}
				_ = st.Close()
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
