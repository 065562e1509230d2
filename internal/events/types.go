package events

import (
	"context"
	"time"

	"github.com/stableagents/sentinel/internal/types"
)

// EventKind represents the type of event recorded on the audit trail.
type EventKind string

const (
	// EventIssueOpened indicates a new health issue was opened
	EventIssueOpened EventKind = "issue_opened"
	// EventIssueEscalated indicates an open issue's severity increased
	EventIssueEscalated EventKind = "issue_escalated"
	// EventIssueResolved indicates an open issue resolved
	EventIssueResolved EventKind = "issue_resolved"
	// EventIssueFailed indicates recovery attempts were exhausted
	EventIssueFailed EventKind = "issue_failed"
	// EventIssueDiagnosed indicates a diagnosis was attached to an issue
	EventIssueDiagnosed EventKind = "issue_diagnosed"

	// EventCheckFailure indicates a component's health check itself failed
	EventCheckFailure EventKind = "check_failure"
	// EventThresholdMismatch indicates a threshold references a metric the
	// check never produced (warned once per component/metric, never fatal)
	EventThresholdMismatch EventKind = "threshold_mismatch"

	// EventRecoveryStarted indicates a recovery plan began executing
	EventRecoveryStarted EventKind = "recovery_started"
	// EventRecoveryAction indicates a single recovery action completed
	EventRecoveryAction EventKind = "recovery_action"
	// EventRecoverySucceeded indicates a recovery plan cleared the violation
	EventRecoverySucceeded EventKind = "recovery_succeeded"
	// EventRecoveryFailed indicates a recovery plan exhausted its actions
	EventRecoveryFailed EventKind = "recovery_failed"

	// EventMonitorStarted indicates the monitoring loop started
	EventMonitorStarted EventKind = "monitor_started"
	// EventMonitorStopped indicates the monitoring loop stopped
	EventMonitorStopped EventKind = "monitor_stopped"
	// EventConfigUpdated indicates the runtime configuration changed
	EventConfigUpdated EventKind = "config_updated"
)

// Event is one entry on the audit trail. Hosts consume these through a
// Sink; the subsystem itself never depends on recording succeeding.
type Event struct {
	ID        string                 `json:"id"`
	Kind      EventKind              `json:"kind"`
	Component string                 `json:"component,omitempty"`
	IssueID   string                 `json:"issue_id,omitempty"`
	Severity  types.Severity         `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use. Errors are advisory: the caller logs and continues.
type Sink interface {
	RecordEvent(ctx context.Context, event *Event) error
}
