package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Manage the routing tables",
	Long: `Inspect and edit the routing tables of the daemon.

Subcommands:
  add      - Add a static route
  del      - Delete a route by prefix
  lookup   - Show the route used for an address
  default  - Show the default route
  list     - List all routes`,
}

var routeAddCmd = &cobra.Command{
	Use:   "add <prefix>",
	Short: "Add a static route",
	Long: `Add a static route. 0.0.0.0/0 installs the default route.

Examples:
  netcore route add 10.0.0.0/8 --via 192.0.2.1
  netcore route add 0.0.0.0/0 --via 192.0.2.254 --dev eth0
  netcore route add 10.0.0.0/8 --via 192.0.2.2 --replace`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		routeAddFlags.Prefix = args[0]
		return runRouteAdd(cmd.Context(), client(), cmd.OutOrStdout(), routeAddFlags)
	},
}

var routeDelCmd = &cobra.Command{
	Use:   "del <prefix>",
	Short: "Delete a route",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRouteDelete(cmd.Context(), client(), cmd.OutOrStdout(), args[0])
	},
}

var routeLookupCmd = &cobra.Command{
	Use:   "lookup <address>",
	Short: "Show the route used for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRouteLookup(cmd.Context(), client(), cmd.OutOrStdout(), args[0])
	},
}

var routeDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Show the default route",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRouteDefault(cmd.Context(), client(), cmd.OutOrStdout(), routeFamily)
	},
}

var routeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all routes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRouteList(cmd.Context(), client(), cmd.OutOrStdout(), routeFamily)
	},
}

var (
	routeAddFlags command.RouteParams
	routeFamily   string
)

func init() {
	routeAddCmd.Flags().StringVar(&routeAddFlags.NextHop, "via", "", "next hop address")
	routeAddCmd.Flags().StringVar(&routeAddFlags.Device, "dev", "", "output device (default: the device attached to the next hop)")
	routeAddCmd.Flags().IntVar(&routeAddFlags.Metric, "metric", 0, "route metric")
	routeAddCmd.Flags().BoolVar(&routeAddFlags.Replace, "replace", false, "overwrite an existing route for the prefix")

	for _, c := range []*cobra.Command{routeDefaultCmd, routeListCmd} {
		c.Flags().StringVar(&routeFamily, "family", "inet", "address family (inet|inet6)")
	}

	routeCmd.AddCommand(routeAddCmd, routeDelCmd, routeLookupCmd, routeDefaultCmd, routeListCmd)
}

func runRouteAdd(ctx context.Context, c ClientInterface, out io.Writer, params command.RouteParams) error {
	if err := c.RouteAdd(ctx, params); err != nil {
		return fmt.Errorf("failed to add route %s: %w", params.Prefix, err)
	}
	fmt.Fprintf(out, "✓ Route %s added\n", params.Prefix)
	return nil
}

func runRouteDelete(ctx context.Context, c ClientInterface, out io.Writer, prefix string) error {
	if err := c.RouteDelete(ctx, prefix); err != nil {
		return fmt.Errorf("failed to delete route %s: %w", prefix, err)
	}
	fmt.Fprintf(out, "✓ Route %s deleted\n", prefix)
	return nil
}

func runRouteLookup(ctx context.Context, c ClientInterface, out io.Writer, address string) error {
	info, err := c.RouteLookup(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", address, err)
	}
	return printResult(out, info)
}

func runRouteDefault(ctx context.Context, c ClientInterface, out io.Writer, family string) error {
	info, err := c.RouteDefault(ctx, family)
	if err != nil {
		return fmt.Errorf("failed to get default route: %w", err)
	}
	return printResult(out, info)
}

func runRouteList(ctx context.Context, c ClientInterface, out io.Writer, family string) error {
	routes, err := c.RouteList(ctx, family)
	if err != nil {
		return fmt.Errorf("failed to list routes: %w", err)
	}
	return printResult(out, routes)
}
