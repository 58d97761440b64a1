package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/socket"
)

var sockCmd = &cobra.Command{
	Use:   "sock",
	Short: "Manage sockets and socket options",
	Long: `Open sockets in the daemon and read or write their options.

Levels: socket, ip, tcp, udp. Option names are the short names listed by
"netcore sock get --help", or numbers. Values are integers, on/off,
"on,<seconds>" for linger, an address for multicast_if, or 0x-prefixed
raw bytes.

Subcommands:
  open   - Open a socket
  close  - Close a socket
  list   - List open sockets
  get    - Read a socket option
  set    - Write a socket option`,
}

var sockOpenCmd = &cobra.Command{
	Use:   "open <stream|dgram|raw>",
	Short: "Open a socket",
	Long: `Open a socket. With --port the socket is bound; --port 0 picks an
ephemeral port.

Examples:
  netcore sock open dgram --port 5353
  netcore sock open stream`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := command.SocketOpenParams{Type: args[0], Protocol: sockProtocol}
		if cmd.Flags().Changed("port") {
			port := sockPort
			params.Port = &port
		}
		return runSockOpen(cmd.Context(), client(), cmd.OutOrStdout(), params)
	},
}

var sockCloseCmd = &cobra.Command{
	Use:   "close <sd>",
	Short: "Close a socket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sd, err := parseSD(args[0])
		if err != nil {
			return err
		}
		return runSockClose(cmd.Context(), client(), cmd.OutOrStdout(), sd)
	},
}

var sockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open sockets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSockList(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

var sockGetCmd = &cobra.Command{
	Use:   "get <sd> <level> <name>",
	Short: "Read a socket option",
	Long: `Read a socket option.

Examples:
  netcore sock get 3 ip ttl
  netcore sock get 3 socket linger`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sd, err := parseSD(args[0])
		if err != nil {
			return err
		}
		params := command.SockoptParams{SD: sd, Level: args[1], Name: args[2]}
		return runSockGet(cmd.Context(), client(), cmd.OutOrStdout(), params)
	},
}

var sockSetCmd = &cobra.Command{
	Use:   "set <sd> <level> <name> <value>",
	Short: "Write a socket option",
	Long: `Write a socket option.

Examples:
  netcore sock set 3 ip ttl 32
  netcore sock set 3 socket linger on,5
  netcore sock set 3 tcp nodelay on`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		sd, err := parseSD(args[0])
		if err != nil {
			return err
		}
		params := command.SockoptParams{SD: sd, Level: args[1], Name: args[2], Value: args[3]}
		return runSockSet(cmd.Context(), client(), cmd.OutOrStdout(), params)
	},
}

var (
	sockProtocol int
	sockPort     uint16
)

func init() {
	sockOpenCmd.Flags().IntVar(&sockProtocol, "protocol", 0, "protocol number (raw sockets)")
	sockOpenCmd.Flags().Uint16Var(&sockPort, "port", 0, "bind to this port")

	sockGetCmd.Long += "\n\nOptions:\n" + optionTable()

	sockCmd.AddCommand(sockOpenCmd, sockCloseCmd, sockListCmd, sockGetCmd, sockSetCmd)
}

// optionTable lists the option names known at each level.
func optionTable() string {
	var b strings.Builder
	for _, level := range []socket.Level{socket.LevelSocket, socket.LevelIP, socket.LevelTCP, socket.LevelUDP} {
		names := make([]string, 0)
		for _, n := range socket.OptionsOf(level) {
			names = append(names, socket.OptionName(level, n))
		}
		fmt.Fprintf(&b, "  %-7s %s\n", level, strings.Join(names, ", "))
	}
	return b.String()
}

func parseSD(s string) (int, error) {
	sd, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: socket descriptor %q", core.ErrInvalidSocket, s)
	}
	return sd, nil
}

func runSockOpen(ctx context.Context, c ClientInterface, out io.Writer, params command.SocketOpenParams) error {
	res, err := c.SocketOpen(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to open %s socket: %w", params.Type, err)
	}
	return printResult(out, res)
}

func runSockClose(ctx context.Context, c ClientInterface, out io.Writer, sd int) error {
	if err := c.SocketClose(ctx, sd); err != nil {
		return fmt.Errorf("failed to close socket %d: %w", sd, err)
	}
	fmt.Fprintf(out, "✓ Socket %d closed\n", sd)
	return nil
}

func runSockList(ctx context.Context, c ClientInterface, out io.Writer) error {
	socks, err := c.SocketList(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sockets: %w", err)
	}
	return printResult(out, socks)
}

func runSockGet(ctx context.Context, c ClientInterface, out io.Writer, params command.SockoptParams) error {
	res, err := c.SockoptGet(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to get %s/%s on socket %d: %w", params.Level, params.Name, params.SD, err)
	}
	return printResult(out, res)
}

func runSockSet(ctx context.Context, c ClientInterface, out io.Writer, params command.SockoptParams) error {
	res, err := c.SockoptSet(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to set %s/%s on socket %d: %w", params.Level, params.Name, params.SD, err)
	}
	return printResult(out, res)
}
