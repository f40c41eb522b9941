package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/hostguard/internal/engine"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and engine status",
	Long: `Query the hostguard daemon for its overall status.

Shows: version, uptime, engine state, blocklist size and packet counters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

type daemonStatus struct {
	Version       string `json:"version"`
	UptimeSec     int64  `json:"uptime_sec"`
	EngineRunning bool   `json:"engine_running"`
	Domains       int    `json:"domains"`
	LoadedAt      string `json:"blocklist_loaded_at"`
	Loaded        int    `json:"blocklist_loaded"`
}

func runStatus(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.DaemonStatus(ctx)
	if err != nil {
		return fmt.Errorf("daemon is not running or socket is inaccessible: %w", err)
	}
	var ds daemonStatus
	if err := decodeResult(resp, &ds); err != nil {
		return fmt.Errorf("daemon_status failed: %w", err)
	}

	resp, err = client.EngineStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query engine status: %w", err)
	}
	var es engine.Status
	if err := decodeResult(resp, &es); err != nil {
		return fmt.Errorf("engine_status failed: %w", err)
	}

	state := "stopped"
	if es.Running {
		state = "running"
	}
	fmt.Fprintf(out, "Version:      %s\n", ds.Version)
	fmt.Fprintf(out, "Uptime:       %s\n", time.Duration(ds.UptimeSec)*time.Second)
	fmt.Fprintf(out, "Engine:       %s\n", state)
	if es.Device != "" {
		fmt.Fprintf(out, "Device:       %s\n", es.Device)
	}
	if !es.StartedAt.IsZero() {
		fmt.Fprintf(out, "Started:      %s\n", es.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Domains:      %d\n", es.Domains)
	if ds.LoadedAt != "" {
		fmt.Fprintf(out, "Last load:    %s (%d domains)\n", ds.LoadedAt, ds.Loaded)
	}
	fmt.Fprintf(out, "Flows:        %d\n", es.FlowEntries)
	fmt.Fprintf(out, "Packets:      read=%d forwarded=%d dropped=%d responded=%d errors=%d\n",
		es.Packets.Read, es.Packets.Forwarded, es.Packets.Dropped, es.Packets.Responded, es.Packets.Errors)
	if es.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s\n", es.LastError)
	}
	return nil
}
