package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armorclaw/crashreport/pkg/logger"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "crashreport %s\n", logger.Version)
		},
	}
}
