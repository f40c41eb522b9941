package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/hostguard/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file given by --config without starting
the daemon.

Examples:
  hostguard validate -c /etc/hostguard/config.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, cmd.OutOrStdout())
	},
}

func runValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	fmt.Fprintf(out, "VALID: node %q, tun %q, %d static domain(s), %d source(s), dns %s\n",
		cfg.Node.Hostname,
		cfg.Tun.Name,
		len(cfg.Blocklist.Domains),
		len(cfg.Blocklist.Sources),
		cfg.Engine.DNS.Response,
	)
	return nil
}
