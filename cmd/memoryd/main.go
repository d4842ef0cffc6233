// Package main implements the memoryd daemon and CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Four-tier memory and learning engine for skill automation",
	Long: `memoryd supplies recommended parameters and confidence for skill
runs, records outcomes, and continuously updates its beliefs through
Bayesian updating, temporal decay, consolidation, and drift detection.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consolidateCmd)
}
