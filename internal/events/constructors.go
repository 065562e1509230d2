package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/stableagents/sentinel/internal/types"
)

// NewIssueEvent creates an event tied to an issue's lifecycle.
func NewIssueEvent(kind EventKind, issue *types.Issue, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Component: issue.Component,
		IssueID:   issue.ID,
		Severity:  issue.Severity,
		Message:   message,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"metric_name": issue.MetricName,
			"status":      string(issue.Status),
		},
	}
}

// NewRecoveryActionEvent creates an event for one executed recovery action.
func NewRecoveryActionEvent(issue *types.Issue, action types.RecoveryAction, err error) *Event {
	data := map[string]interface{}{
		"action": string(action.Kind),
		"target": action.Target,
		"risk":   action.Risk().String(),
	}
	message := "recovery action " + string(action.Kind) + " succeeded"
	if err != nil {
		data["error"] = err.Error()
		message = "recovery action " + string(action.Kind) + " failed"
	}
	return &Event{
		ID:        uuid.New().String(),
		Kind:      EventRecoveryAction,
		Component: issue.Component,
		IssueID:   issue.ID,
		Severity:  issue.Severity,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewSystemEvent creates an event not tied to any single issue.
func NewSystemEvent(kind EventKind, component, message string, data map[string]interface{}) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Component: component,
		Severity:  types.SeverityLow,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	}
}
