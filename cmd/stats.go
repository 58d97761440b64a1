package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/buffer"
	"firestige.xyz/netcore/internal/device"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Query the netcore daemon for runtime statistics.

Shows: buffer pool usage and per-device packet counters.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(cmd.Context(), client(), cmd.OutOrStdout())
	},
}

type statsReport struct {
	Buffers buffer.Stats  `json:"buffers" yaml:"buffers"`
	Devices []device.Info `json:"devices" yaml:"devices"`
}

func runStats(ctx context.Context, c ClientInterface, out io.Writer) error {
	bufs, err := c.BufferStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to query buffer stats: %w", err)
	}
	devs, err := c.Devices(ctx)
	if err != nil {
		return fmt.Errorf("failed to query devices: %w", err)
	}
	return printResult(out, statsReport{Buffers: bufs, Devices: devs})
}
