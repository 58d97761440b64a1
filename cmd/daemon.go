package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the netcore daemon in foreground",
	Long: `Run the netcore daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging and metrics
  3. Build the stack: devices, static routes, static ARP entries
  4. Start UDS server for CLI control
  5. Start Kafka command consumer (if configured)
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(daemonSocket(cmd), pidFile)
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from config)")
}

// daemonSocket returns --socket only when it was given explicitly, so the
// config file decides otherwise.
func daemonSocket(cmd *cobra.Command) string {
	if cmd.Flags().Changed("socket") {
		return socketPath
	}
	return ""
}

func runDaemon(socket, pid string) error {
	d, err := daemon.New(configFile, socket, pid)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
