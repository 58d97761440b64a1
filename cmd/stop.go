package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the netcore daemon",
	Long: `Stop the netcore daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket. With
--pidfile, an unreachable daemon is sent SIGTERM instead and the command
waits for it to exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), client(), cmd.OutOrStdout(), stopPIDFile)
	},
}

var stopPIDFile string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", "",
		"fall back to SIGTERM via this PID file when the socket is unreachable")
}

func runStop(ctx context.Context, c ClientInterface, out io.Writer, pidPath string) error {
	err := c.Shutdown(ctx)
	if err == nil {
		fmt.Fprintln(out, "✓ Shutdown requested")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) || pidPath == "" {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	if err := daemon.Signal(pidPath, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	if err := daemon.WaitForExit(pidPath, 10*time.Second); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Daemon stopped")
	return nil
}
