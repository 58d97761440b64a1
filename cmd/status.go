package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the netcore daemon for its overall status.

Shows: version, uptime, and the size of every stack table.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

func runStatus(ctx context.Context, c ClientInterface, out io.Writer) error {
	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query daemon status: %w", err)
	}
	return printResult(out, st)
}
