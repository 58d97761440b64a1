package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Inspect devices",
	Long: `List the devices of the daemon and issue device control requests.

Subcommands:
  list   - List devices
  ioctl  - Issue a device control request`,
}

var devListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDevList(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

var devIoctlCmd = &cobra.Command{
	Use:   "ioctl <device> <request> [value]",
	Short: "Issue a device control request",
	Long: `Forward a control request to the driver of a device.

Requests: SIOCGIFINDEX, SIOCGIFFLAGS, SIOCSIFFLAGS, SIOCGIFMTU, SIOCSIFMTU,
SIOCGIFHWADDR, SIOCGIFADDR, SIOCGIFBRDADDR, SIOCGIFNETMASK, or a number.

Examples:
  netcore dev ioctl eth0 SIOCGIFMTU
  netcore dev ioctl eth0 SIOCSIFMTU 9000
  netcore dev ioctl eth0 SIOCSIFFLAGS down`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := command.IoctlParams{Device: args[0], Request: args[1]}
		if len(args) == 3 {
			params.Value = args[2]
		}
		return runDevIoctl(cmd.Context(), client(), cmd.OutOrStdout(), params)
	},
}

func init() {
	devCmd.AddCommand(devListCmd, devIoctlCmd)
}

func runDevList(ctx context.Context, c ClientInterface, out io.Writer) error {
	devs, err := c.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	return printResult(out, devs)
}

func runDevIoctl(ctx context.Context, c ClientInterface, out io.Writer, params command.IoctlParams) error {
	res, err := c.Ioctl(ctx, params)
	if err != nil {
		return fmt.Errorf("%s on %s failed: %w", params.Request, params.Device, err)
	}
	return printResult(out, res)
}
