package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// blockCmd groups blocklist management commands.
var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Manage the domain blocklist",
	Long: `Manage the blocklist of the running daemon.

Changes made here are kept in memory only. A blocklist reload, either scheduled
or through 'block reload', replaces them with the configured domains and sources.`,
}

var blockAddCmd = &cobra.Command{
	Use:   "add <domain>...",
	Short: "Block one or more domains",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlockAdd(cmd.Context(), GetClient(), cmd.OutOrStdout(), args)
	},
}

var blockRemoveCmd = &cobra.Command{
	Use:     "remove <domain>...",
	Aliases: []string{"rm"},
	Short:   "Unblock one or more domains",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlockRemove(cmd.Context(), GetClient(), cmd.OutOrStdout(), args)
	},
}

var blockCheckCmd = &cobra.Command{
	Use:   "check <domain>...",
	Short: "Check whether domains are blocked",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlockCheck(cmd.Context(), GetClient(), cmd.OutOrStdout(), args)
	},
}

var blockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked domains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlockList(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

var blockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every blocked domain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlockClear(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

var blockReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the blocklist from config domains and sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBlockReload(cmd.Context(), GetClient(), cmd.OutOrStdout())
	},
}

func init() {
	blockCmd.AddCommand(blockAddCmd, blockRemoveCmd, blockCheckCmd, blockListCmd, blockClearCmd, blockReloadCmd)
}

func runBlockAdd(ctx context.Context, client ClientInterface, out io.Writer, domains []string) error {
	resp, err := client.BlocklistAdd(ctx, domains...)
	if err != nil {
		return fmt.Errorf("failed to add domains: %w", err)
	}
	var res struct {
		Added int `json:"added"`
		Total int `json:"total"`
	}
	if err := decodeResult(resp, &res); err != nil {
		return fmt.Errorf("blocklist_add failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Blocked %d domain(s), %d total\n", res.Added, res.Total)
	return nil
}

func runBlockRemove(ctx context.Context, client ClientInterface, out io.Writer, domains []string) error {
	resp, err := client.BlocklistRemove(ctx, domains...)
	if err != nil {
		return fmt.Errorf("failed to remove domains: %w", err)
	}
	var res struct {
		Removed int `json:"removed"`
	}
	if err := decodeResult(resp, &res); err != nil {
		return fmt.Errorf("blocklist_remove failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Unblocked %d of %d domain(s)\n", res.Removed, len(domains))
	return nil
}

func runBlockCheck(ctx context.Context, client ClientInterface, out io.Writer, domains []string) error {
	resp, err := client.BlocklistContains(ctx, domains...)
	if err != nil {
		return fmt.Errorf("failed to check domains: %w", err)
	}
	var res struct {
		Blocked map[string]bool `json:"blocked"`
	}
	if err := decodeResult(resp, &res); err != nil {
		return fmt.Errorf("blocklist_contains failed: %w", err)
	}
	for _, d := range domains {
		state := "allowed"
		if res.Blocked[d] {
			state = "blocked"
		}
		fmt.Fprintf(out, "%s\t%s\n", d, state)
	}
	return nil
}

func runBlockList(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.BlocklistList(ctx)
	if err != nil {
		return fmt.Errorf("failed to list domains: %w", err)
	}
	var res struct {
		Domains []string `json:"domains"`
		Count   int      `json:"count"`
	}
	if err := decodeResult(resp, &res); err != nil {
		return fmt.Errorf("blocklist_list failed: %w", err)
	}
	for _, d := range res.Domains {
		fmt.Fprintln(out, d)
	}
	return nil
}

func runBlockClear(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.BlocklistClear(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear blocklist: %w", err)
	}
	if err := decodeResult(resp, nil); err != nil {
		return fmt.Errorf("blocklist_clear failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Blocklist cleared")
	return nil
}

func runBlockReload(ctx context.Context, client ClientInterface, out io.Writer) error {
	resp, err := client.BlocklistReload(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload blocklist: %w", err)
	}
	var res struct {
		Domains int `json:"domains"`
	}
	if err := decodeResult(resp, &res); err != nil {
		return fmt.Errorf("blocklist_reload failed: %w", err)
	}
	fmt.Fprintf(out, "✓ Blocklist reloaded, %d domain(s)\n", res.Domains)
	return nil
}
