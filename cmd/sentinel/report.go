package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stableagents/sentinel/internal/builtin"
	"github.com/stableagents/sentinel/internal/config"
	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/healer"
	"github.com/stableagents/sentinel/internal/storage/sqlite"
	"github.com/stableagents/sentinel/internal/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run one health sweep and print the report",
	Long: `Check the built-in process components once and print a snapshot
of overall health, per-component state, and recovery statistics.

Recovery statistics come from the database, so outcomes learned by a
previous "sentinel run" show up here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		heapLimit, _ := cmd.Flags().GetFloat64("heap-limit-mb")

		ctx := context.Background()

		store, err := sqlite.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		cfg := config.Default()
		h, err := healer.New(cfg, healer.Options{
			Sink:  events.NewMultiSink(store),
			Stats: store,
		})
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
		h.RunCycle(ctx)
		h.WaitIdle()
		report := h.GetHealthReport()
		h.Stop(ctx)

		printReport(report)
		return nil
	},
}

func init() {
	reportCmd.Flags().Float64("heap-limit-mb", 1024, "Heap size that opens a memory issue")

	rootCmd.AddCommand(reportCmd)
}

func printReport(report types.HealthReport) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	statusText := string(report.Status)
	switch report.Status {
	case types.HealthHealthy:
		statusText = green(statusText)
	case types.HealthWarning:
		statusText = yellow(statusText)
	case types.HealthDegraded, types.HealthCritical:
		statusText = red(statusText)
	}

	fmt.Printf("\n%s System health: %s\n", cyan("⚕"), statusText)
	fmt.Printf("  Components: %d, open issues: %d\n", report.ComponentCount, len(report.OpenIssues))
	fmt.Println(strings.Repeat("─", 60))

	for _, comp := range report.Components {
		mark := green("✓")
		if !comp.Healthy {
			mark = red("✗")
		}
		line := fmt.Sprintf("  %s %s", mark, comp.Name)
		if comp.OpenCount > 0 {
			line += fmt.Sprintf(" (%d open issue(s))", comp.OpenCount)
		}
		if !comp.LastCheck.IsZero() {
			line += fmt.Sprintf("  last check %s", comp.LastCheck.Format("15:04:05"))
		}
		fmt.Println(line)
	}

	if len(report.OpenIssues) > 0 {
		fmt.Println()
		for _, issue := range report.OpenIssues {
			fmt.Printf("  %s [%s] %s: %s\n", yellow("!"), issue.Severity, issue.Component, issue.Description)
			if issue.Diagnosis != "" {
				fmt.Printf("    %s\n", issue.Diagnosis)
			}
		}
	}

	fmt.Println(strings.Repeat("─", 60))
	rec := report.Recovery
	if rec.TotalPlans == 0 {
		fmt.Println("  No recovery plans executed yet")
	} else {
		fmt.Printf("  Recovery: %d/%d plans succeeded (%.0f%%)\n",
			rec.SuccessfulPlans, rec.TotalPlans, rec.SuccessRate*100)
		for action, as := range rec.Actions {
			fmt.Printf("    %-20s attempts=%d successes=%d\n", action, as.Attempts, as.Successes)
		}
	}
	fmt.Println()
}
