package types

import (
	"context"
	"fmt"
	"time"
)

// MetricKind distinguishes numeric metrics from boolean ones
type MetricKind string

const (
	MetricNumber MetricKind = "number"
	MetricBool   MetricKind = "bool"
)

// HealthMetric is a single named observation produced by a component's
// health check. Metrics are immutable once created.
type HealthMetric struct {
	Name      string     `json:"name"`
	Kind      MetricKind `json:"kind"`
	Value     float64    `json:"value"`
	Timestamp time.Time  `json:"timestamp"`
	Healthy   bool       `json:"healthy"`
	Details   string     `json:"details,omitempty"`
}

// NumberMetric creates a numeric health metric
func NumberMetric(name string, value float64) HealthMetric {
	return HealthMetric{
		Name:      name,
		Kind:      MetricNumber,
		Value:     value,
		Timestamp: time.Now(),
		Healthy:   true,
	}
}

// BoolMetric creates a boolean health metric. The boolean is stored as
// 0/1 in Value; Healthy mirrors the observed value.
func BoolMetric(name string, value bool) HealthMetric {
	v := 0.0
	if value {
		v = 1.0
	}
	return HealthMetric{
		Name:      name,
		Kind:      MetricBool,
		Value:     v,
		Timestamp: time.Now(),
		Healthy:   value,
	}
}

// BoolValue returns the metric value interpreted as a boolean
func (m HealthMetric) BoolValue() bool {
	return m.Value != 0
}

// CheckFailureMetric is the synthetic metric emitted when a component's
// health check panics, errors, or exceeds its timeout. It carries no
// registered threshold; the tracker treats it as a high-severity
// meta-health violation against the monitoring of that component.
const CheckFailureMetric = "check_failure"

// NewCheckFailure creates the synthetic metric for a failed health check
func NewCheckFailure(details string) HealthMetric {
	m := BoolMetric(CheckFailureMetric, false)
	m.Details = details
	return m
}

// Threshold is the boundary condition and severity assigned to one metric.
// Min/Max apply to numeric metrics; Expected applies to boolean ones.
type Threshold struct {
	MetricName string   `json:"metric_name" yaml:"metric"`
	Min        *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max        *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Expected   *bool    `json:"expected,omitempty" yaml:"expected,omitempty"`
	Severity   Severity `json:"severity" yaml:"severity"`
}

// Validate checks that the threshold expresses a usable bound
func (t Threshold) Validate() error {
	if t.MetricName == "" {
		return fmt.Errorf("threshold metric name is required")
	}
	if t.Min == nil && t.Max == nil && t.Expected == nil {
		return fmt.Errorf("threshold for %q has no min, max, or expected bound", t.MetricName)
	}
	if t.Expected != nil && (t.Min != nil || t.Max != nil) {
		return fmt.Errorf("threshold for %q mixes boolean and numeric bounds", t.MetricName)
	}
	if !t.Severity.IsValid() {
		return fmt.Errorf("threshold for %q has invalid severity", t.MetricName)
	}
	return nil
}

// Violated reports whether the metric breaks this threshold, with a short
// description of the violation for the issue text.
func (t Threshold) Violated(m HealthMetric) (bool, string) {
	if t.Expected != nil {
		if m.BoolValue() != *t.Expected {
			return true, fmt.Sprintf("metric %s expected %v, got %v", m.Name, *t.Expected, m.BoolValue())
		}
		return false, ""
	}
	if t.Min != nil && m.Value < *t.Min {
		return true, fmt.Sprintf("metric %s below minimum: value=%g min=%g", m.Name, m.Value, *t.Min)
	}
	if t.Max != nil && m.Value > *t.Max {
		return true, fmt.Sprintf("metric %s above maximum: value=%g max=%g", m.Name, m.Value, *t.Max)
	}
	return false, ""
}

// RangeString describes the allowed range for fallback diagnosis text
func (t Threshold) RangeString() string {
	switch {
	case t.Expected != nil:
		return fmt.Sprintf("expected=%v", *t.Expected)
	case t.Min != nil && t.Max != nil:
		return fmt.Sprintf("[%g,%g]", *t.Min, *t.Max)
	case t.Min != nil:
		return fmt.Sprintf("[%g,+inf)", *t.Min)
	case t.Max != nil:
		return fmt.Sprintf("(-inf,%g]", *t.Max)
	default:
		return "(unbounded)"
	}
}

// CheckFunc produces the current health metrics for one component.
// Implementations may block on I/O; the monitor bounds every invocation
// with a timeout, so a stuck check degrades to a check_failure metric
// instead of stalling the monitoring cycle.
type CheckFunc func(ctx context.Context) ([]HealthMetric, error)

// Component is a named subsystem monitored via a caller-supplied check.
// The registry owns registered components for their lifetime.
type Component struct {
	Name       string
	Check      CheckFunc
	Thresholds []Threshold
}

// IssueStatus represents the lifecycle state of a health issue
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueDiagnosing IssueStatus = "diagnosing"
	IssueRecovering IssueStatus = "recovering"
	IssueResolved   IssueStatus = "resolved"
	IssueFailed     IssueStatus = "failed"
)

// IsValid checks if the status value is valid
func (s IssueStatus) IsValid() bool {
	switch s {
	case IssueOpen, IssueDiagnosing, IssueRecovering, IssueResolved, IssueFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the issue has reached a final state
func (s IssueStatus) IsTerminal() bool {
	return s == IssueResolved || s == IssueFailed
}

// Issue is a tracked, deduplicated health violation. At most one open
// issue exists per (component, metric) pair; repeated violations update
// the open issue in place. Severity never decreases within one open
// lifecycle; it resets only when the issue resolves and a new one opens.
type Issue struct {
	ID           string       `json:"id"`
	Component    string       `json:"component"`
	MetricName   string       `json:"metric_name"`
	Severity     Severity     `json:"severity"`
	Description  string       `json:"description"`
	Diagnosis    string       `json:"diagnosis,omitempty"`
	Status       IssueStatus  `json:"status"`
	OpenedAt     time.Time    `json:"opened_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
	AttemptCount int          `json:"attempt_count"`
	LastMetric   HealthMetric `json:"last_metric"`
}

// Key returns the dedup key for the (component, metric) pair
func (i *Issue) Key() string {
	return IssueKey(i.Component, i.MetricName)
}

// IssueKey builds the dedup key for a (component, metric) pair
func IssueKey(component, metric string) string {
	return component + "/" + metric
}

// HealthStatus is the overall classification of system health
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthInactive HealthStatus = "inactive"
)

// HealthReport is the snapshot returned to the host on request
type HealthReport struct {
	Status         HealthStatus    `json:"status"`
	GeneratedAt    time.Time       `json:"generated_at"`
	ComponentCount int             `json:"component_count"`
	OpenIssues     []*Issue        `json:"open_issues"`
	Recovery       RecoveryStats   `json:"recovery"`
	Components     []ComponentInfo `json:"components,omitempty"`
}

// ComponentInfo summarizes one registered component for reporting
type ComponentInfo struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	OpenCount int       `json:"open_count"`
}

// RecoveryStats aggregates recovery outcomes across all executed plans
type RecoveryStats struct {
	TotalPlans      int                    `json:"total_plans"`
	SuccessfulPlans int                    `json:"successful_plans"`
	SuccessRate     float64                `json:"success_rate"`
	Actions         map[string]ActionStats `json:"actions,omitempty"`
}

// ActionStats is the per-action tally used both for reporting and for
// reordering future recovery plans
type ActionStats struct {
	Attempts            int `json:"attempts"`
	Successes           int `json:"successes"`
	ConsecutiveFailures int `json:"consecutive_failures"`
}
