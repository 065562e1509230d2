package types

import "fmt"

// ActionKind is the closed set of recovery actions. Keeping this a fixed
// enum with a handler table (rather than open-ended dispatch) lets the
// planner reason about risk and lets exhaustive switches catch drift.
type ActionKind string

const (
	// ActionLogDiagnostics dumps detailed diagnostics for the issue
	ActionLogDiagnostics ActionKind = "log_diagnostics"

	// ActionForceGC forces a garbage collection pass to release memory
	ActionForceGC ActionKind = "force_gc"

	// ActionRetryCall re-invokes the component's health check as a probe
	ActionRetryCall ActionKind = "retry_call"

	// ActionResetProvider resets the component's provider connection
	ActionResetProvider ActionKind = "reset_provider"

	// ActionReloadModel reloads the component's model from disk
	ActionReloadModel ActionKind = "reload_model"

	// ActionSwitchFallback switches the component to a fallback backend
	ActionSwitchFallback ActionKind = "switch_fallback"

	// ActionRestartComponent restarts the affected component wholesale
	ActionRestartComponent ActionKind = "restart_component"
)

// AllActionKinds lists every recovery action kind
func AllActionKinds() []ActionKind {
	return []ActionKind{
		ActionLogDiagnostics,
		ActionForceGC,
		ActionRetryCall,
		ActionResetProvider,
		ActionReloadModel,
		ActionSwitchFallback,
		ActionRestartComponent,
	}
}

// IsValid checks if the action kind is one of the known variants
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionLogDiagnostics, ActionForceGC, ActionRetryCall,
		ActionResetProvider, ActionReloadModel, ActionSwitchFallback,
		ActionRestartComponent:
		return true
	}
	return false
}

// Risk returns the fixed risk level associated with an action kind
func (k ActionKind) Risk() Severity {
	switch k {
	case ActionLogDiagnostics, ActionForceGC, ActionRetryCall:
		return SeverityLow
	case ActionResetProvider, ActionReloadModel, ActionSwitchFallback:
		return SeverityMedium
	case ActionRestartComponent:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// RecoveryAction is one concrete remediation step targeting a component.
// Actions are stateless descriptors; outcome tallies live with the planner.
type RecoveryAction struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target"`
}

func (a RecoveryAction) String() string {
	return fmt.Sprintf("%s(%s)", a.Kind, a.Target)
}

// Risk returns the action's risk level
func (a RecoveryAction) Risk() Severity {
	return a.Kind.Risk()
}

// PlanOutcome is the terminal state of a recovery plan
type PlanOutcome string

const (
	PlanPending   PlanOutcome = "pending"
	PlanExecuting PlanOutcome = "executing"
	PlanSucceeded PlanOutcome = "succeeded"
	PlanFailed    PlanOutcome = "failed"
)

// RecoveryPlan is an ordered list of actions chosen to resolve one issue.
// The planner creates it; the executor exclusively owns and mutates it
// during execution.
type RecoveryPlan struct {
	IssueID      string           `json:"issue_id"`
	Component    string           `json:"component"`
	Actions      []RecoveryAction `json:"actions"`
	AttemptCount int              `json:"attempt_count"`
	Outcome      PlanOutcome      `json:"outcome"`
}
