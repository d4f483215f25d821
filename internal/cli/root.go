package cli

import (
	"os"

	"github.com/spf13/cobra"

	"swarmfuse/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "swarmfuse",
		Short:        "swarmfuse — multi-worker review coordination and evidence fusion",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override swarmfuse home directory (default: ~/.swarmfuse, env: SWARMFUSE_HOME)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newServeCmd())

	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReportCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
