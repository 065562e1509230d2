package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Self-healing monitor for agent subsystems",
	Long: `Sentinel watches registered components, tracks health issues,
diagnoses violations, and runs recovery plans automatically.

Events and learned recovery outcomes persist in a local SQLite database.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", ".sentinel/sentinel.db", "Path to the sentinel database")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
