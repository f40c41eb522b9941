package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Start or stop packet filtering",
}

var engineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Open the TUN device and start filtering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngineStart(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

var engineStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop filtering and close the TUN device",
	Long: `Stop filtering and close the TUN device. The blocklist is kept, so a later
'engine start' resumes with the same domains.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngineStop(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

func init() {
	engineCmd.AddCommand(engineStartCmd, engineStopCmd)
}

func runEngineStart(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.EngineStart(ctx)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	if err := decodeResult(resp, nil); err != nil {
		return fmt.Errorf("engine_start failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Engine started")
	return nil
}

func runEngineStop(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.EngineStop(ctx)
	if err != nil {
		return fmt.Errorf("failed to stop engine: %w", err)
	}
	if err := decodeResult(resp, nil); err != nil {
		return fmt.Errorf("engine_stop failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Engine stopped")
	return nil
}
