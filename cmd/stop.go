package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/hostguard/internal/config"
	"firestige.xyz/hostguard/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the hostguard daemon",
	Long: `Stop the hostguard daemon gracefully.

This command sends daemon_shutdown over the Unix Domain Socket. The daemon stops
the engine, closes the TUN device and exits. If the socket is unreachable the
process named in the PID file is sent SIGTERM instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), GetClient(), cmd.OutOrStdout(), stopPIDFile())
	},
}

var stopPIDPath string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDPath, "pidfile", "p", "",
		"PID file used when the socket is unreachable (default: control.pid_file from config)")
}

func stopPIDFile() string {
	if stopPIDPath != "" {
		return stopPIDPath
	}
	if cfg, err := config.Load(configFile); err == nil {
		return cfg.Control.PIDFile
	}
	return ""
}

func runStop(ctx context.Context, client ClientInterface, out io.Writer, pidPath string) error {
	resp, err := client.DaemonShutdown(ctx)
	if err == nil {
		if err := decodeResult(resp, nil); err != nil {
			return fmt.Errorf("daemon_shutdown failed: %w", err)
		}
		fmt.Fprintln(out, "✓ Daemon is shutting down")
		return nil
	}

	if pidPath == "" {
		return fmt.Errorf("daemon is not reachable: %w", err)
	}
	pid, perr := daemon.ReadPIDFile(pidPath)
	if perr != nil {
		return fmt.Errorf("daemon is not reachable (%v) and PID file unusable: %w", err, perr)
	}
	proc, perr := os.FindProcess(pid)
	if perr != nil {
		return fmt.Errorf("find process %d: %w", pid, perr)
	}
	if perr := proc.Signal(syscall.SIGTERM); perr != nil {
		return fmt.Errorf("signal process %d: %w", pid, perr)
	}
	fmt.Fprintf(out, "✓ Sent SIGTERM to daemon (pid %d)\n", pid)
	return nil
}
