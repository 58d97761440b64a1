package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/stack"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without starting the daemon.

The file is loaded and the stack is built in memory, so unroutable static
routes and overflowing ARP tables are reported as well as syntax errors.

Examples:
  netcore validate -c /etc/netcore/config.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	st, err := stack.Build(cfg)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	status := st.Status()
	if err := st.Shutdown(); err != nil {
		return err
	}

	fmt.Fprintf(out, "VALID: %d device(s), %d route(s), %d static ARP entr(ies), %d buffers of %d bytes\n",
		status.Devices,
		status.Routes,
		status.ARPEntries,
		status.Buffers.Total,
		status.Buffers.Size,
	)
	return nil
}
