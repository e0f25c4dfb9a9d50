package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armorclaw/crashreport/internal/app"
)

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale backtrace artifacts and expired sessions once",
		Long: `Remove backtrace artifacts older than artifacts.retention whose response
phase never ran, and expired sessions for stores that keep them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			artifacts, sessions, err := a.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifact(s), %d session(s)\n", artifacts, sessions)
			return nil
		},
	}
}
