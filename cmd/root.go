// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var (
	// Global flags
	configFile    string
	socketPath    string
	outputFormat  string
	clientTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netcore",
	Short: "netcore - user-space IPv4 network stack",
	Long: `netcore is a user-space IPv4 network stack daemon with a local control plane.

The daemon owns the buffer pool, socket table, routing tables, ARP cache
and devices. This CLI talks to it over a Unix Domain Socket:
  - route   inspect and edit the routing tables
  - arp     inspect and edit the ARP cache
  - sock    open sockets and get/set socket options
  - dev     list devices and issue device ioctls`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netcore/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/netcore.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json",
		"output format (json|yaml)")
	rootCmd.PersistentFlags().DurationVar(&clientTimeout, "timeout", 10*time.Second,
		"control request timeout")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(arpCmd)
	rootCmd.AddCommand(sockCmd)
	rootCmd.AddCommand(devCmd)
}
