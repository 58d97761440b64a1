package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var arpCmd = &cobra.Command{
	Use:   "arp",
	Short: "Manage the ARP cache",
	Long: `Inspect and edit the ARP cache of the daemon.

Subcommands:
  set   - Add or update an entry
  del   - Delete an entry
  list  - List all entries`,
}

var arpSetCmd = &cobra.Command{
	Use:   "set <address> <hw-address>",
	Short: "Add or update an ARP entry",
	Long: `Add or update an ARP entry. Packets held for the address are sent.

Examples:
  netcore arp set 192.0.2.1 02:00:00:00:00:01 --permanent
  netcore arp set 192.0.2.7 02:00:00:00:00:07 --ttl 2m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		arpSetFlags.Address, arpSetFlags.HWAddr = args[0], args[1]
		return runARPSet(cmd.Context(), client(), cmd.OutOrStdout(), arpSetFlags)
	},
}

var arpDelCmd = &cobra.Command{
	Use:   "del <address>",
	Short: "Delete an ARP entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runARPDelete(cmd.Context(), client(), cmd.OutOrStdout(), args[0])
	},
}

var arpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ARP entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runARPList(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

var arpSetFlags command.ARPSetParams

func init() {
	arpSetCmd.Flags().BoolVar(&arpSetFlags.Permanent, "permanent", false, "never expire the entry")
	arpSetCmd.Flags().BoolVar(&arpSetFlags.Published, "published", false, "answer requests for the address")
	arpSetCmd.Flags().StringVar(&arpSetFlags.TTL, "ttl", "", "entry lifetime (default: stack.arp.timeout)")

	arpCmd.AddCommand(arpSetCmd, arpDelCmd, arpListCmd)
}

func runARPSet(ctx context.Context, c ClientInterface, out io.Writer, params command.ARPSetParams) error {
	if err := c.ARPSet(ctx, params); err != nil {
		return fmt.Errorf("failed to set arp entry %s: %w", params.Address, err)
	}
	fmt.Fprintf(out, "✓ ARP entry %s is at %s\n", params.Address, params.HWAddr)
	return nil
}

func runARPDelete(ctx context.Context, c ClientInterface, out io.Writer, address string) error {
	if err := c.ARPDelete(ctx, address); err != nil {
		return fmt.Errorf("failed to delete arp entry %s: %w", address, err)
	}
	fmt.Fprintf(out, "✓ ARP entry %s deleted\n", address)
	return nil
}

func runARPList(ctx context.Context, c ClientInterface, out io.Writer) error {
	entries, err := c.ARPList(ctx)
	if err != nil {
		return fmt.Errorf("failed to list arp entries: %w", err)
	}
	return printResult(out, entries)
}
