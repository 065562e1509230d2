package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/storage/sqlite"
	"github.com/stableagents/sentinel/internal/types"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent monitoring and recovery events",
	Long: `List events from the sentinel database, most recent first.

Examples:
  # Last 20 events
  sentinel events

  # Events for one component
  sentinel events --component runtime

  # Only recovery actions
  sentinel events --kind recovery_action`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		component, _ := cmd.Flags().GetString("component")
		kind, _ := cmd.Flags().GetString("kind")
		issueID, _ := cmd.Flags().GetString("issue")

		store, err := sqlite.Open(dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		list, err := store.GetEvents(context.Background(), sqlite.EventFilter{
			Component: component,
			IssueID:   issueID,
			Kind:      events.EventKind(kind),
			Limit:     limit,
		})
		if err != nil {
			return err
		}

		if len(list) == 0 {
			fmt.Println("No events recorded.")
			return nil
		}
		for _, ev := range list {
			printEvent(ev)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntP("limit", "n", 20, "Maximum number of events to show")
	eventsCmd.Flags().String("component", "", "Filter by component name")
	eventsCmd.Flags().String("kind", "", "Filter by event kind")
	eventsCmd.Flags().String("issue", "", "Filter by issue ID")

	rootCmd.AddCommand(eventsCmd)
}

func printEvent(ev *events.Event) {
	severityColor := color.New(color.FgWhite).SprintFunc()
	switch ev.Severity {
	case types.SeverityMedium:
		severityColor = color.New(color.FgYellow).SprintFunc()
	case types.SeverityHigh:
		severityColor = color.New(color.FgMagenta).SprintFunc()
	case types.SeverityCritical:
		severityColor = color.New(color.FgRed).SprintFunc()
	}

	line := fmt.Sprintf("%s  %-20s %s",
		ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
		ev.Kind,
		severityColor(ev.Message))
	if ev.Component != "" {
		line += fmt.Sprintf("  [%s]", ev.Component)
	}
	fmt.Println(line)
}
