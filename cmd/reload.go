package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/daemon"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration",
	Long: `Ask the daemon to re-read its config file.

Log settings apply immediately; stack, device, route, ARP, control and
metrics changes are reported and need a restart. With --pidfile, a daemon
whose socket is unreachable is sent SIGHUP instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.Context(), client(), cmd.OutOrStdout(), reloadPIDFile)
	},
}

var reloadPIDFile string

func init() {
	reloadCmd.Flags().StringVarP(&reloadPIDFile, "pidfile", "p", "",
		"fall back to SIGHUP via this PID file when the socket is unreachable")
}

func runReload(ctx context.Context, c ClientInterface, out io.Writer, pidPath string) error {
	err := c.ConfigReload(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Configuration reloaded successfully")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) || pidPath == "" {
		return fmt.Errorf("failed to reload: %w", err)
	}

	// the signal path cannot report whether the new file was accepted
	if err := daemon.Signal(pidPath, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Reload signal sent")
	return nil
}
