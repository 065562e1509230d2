package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stableagents/sentinel/internal/ai"
	"github.com/stableagents/sentinel/internal/builtin"
	"github.com/stableagents/sentinel/internal/config"
	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/healer"
	"github.com/stableagents/sentinel/internal/storage/sqlite"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitoring and recovery loop",
	Long: `Start sentinel with the built-in process components registered.

Examples:
  # Run with defaults (auto recovery off, observe only)
  sentinel run

  # Run with recovery enabled and a custom config
  sentinel run --config sentinel.yaml

The loop runs until interrupted. With ANTHROPIC_API_KEY set, issues get
AI-generated diagnoses; otherwise templated fallbacks are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		heapLimit, _ := cmd.Flags().GetFloat64("heap-limit-mb")
		autoRecover, _ := cmd.Flags().GetBool("auto-recover")

		ctx := context.Background()

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if autoRecover {
			cfg.AutoRecovery = true
		}

		store, err := sqlite.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		opts := healer.Options{
			Sink:  events.NewMultiSink(store, events.LogSink{}),
			Stats: store,
		}
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			client, err := ai.NewClient(&ai.Config{})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: AI diagnosis disabled: %v\n", err)
			} else {
				opts.Generator = client
			}
		}

		h, err := healer.New(cfg, opts)
		if err != nil {
			return err
		}

		err = h.RegisterComponent("runtime", builtin.RuntimeMemoryCheck,
			builtin.RuntimeMemoryThresholds(heapLimit))
		if err != nil {
			return err
		}
		err = h.RegisterComponent("event-store", builtin.DatabasePingCheck(store.DB()),
			builtin.DatabasePingThresholds(100))
		if err != nil {
			return err
		}

		if err := h.Start(ctx); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		fmt.Printf("Sentinel running (interval %s, auto recovery %v). Press Ctrl+C to stop.\n",
			cfg.MonitoringInterval, cfg.AutoRecovery)

		<-sigCh
		fmt.Println("\nShutting down...")
		h.Stop(ctx)
		fmt.Println("Stopped.")
		return nil
	},
}

func init() {
	runCmd.Flags().Float64("heap-limit-mb", 1024, "Heap size that opens a memory issue")
	runCmd.Flags().Bool("auto-recover", false, "Enable automatic recovery regardless of config")

	rootCmd.AddCommand(runCmd)
}
