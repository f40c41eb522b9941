// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/hostguard/internal/command"
)

var (
	// Global flags
	configFile     string
	socketPath     string
	requestTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hostguard",
	Short: "Hostguard - domain blocking on a TUN interface",
	Long: `Hostguard blocks connections to listed domains for all traffic routed through a TUN
interface. DNS queries for blocked names are answered locally, and TLS or HTTP flows
whose SNI or Host header names a blocked domain are dropped.

Features:
  - Blocklist from static config, hosts/adblock files and URLs, reloaded on a schedule
  - NXDOMAIN or sinkhole answers for blocked DNS queries
  - Local control: CLI via Unix Domain Socket
  - Remote control: Kafka command subscription`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/hostguard/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/hostguard.sock",
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 10*time.Second,
		"control request timeout")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(validateCmd)
}
