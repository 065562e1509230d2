// Package tracker deduplicates and accumulates health issues.
//
// The tracker is the subsystem's second shared-mutable structure (after
// the component registry). Issue objects are never mutated outside this
// package; every transition goes through the tracker's API under one lock.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/types"
)

// ErrIssueNotFound is returned for transitions on unknown issue IDs.
var ErrIssueNotFound = errors.New("issue not found")

// DefaultHistoryWindow bounds how many resolved issues are retained for
// diagnosis context and reporting.
const DefaultHistoryWindow = 100

// ThresholdSource resolves the thresholds registered for a
// (component, metric) pair. The component registry implements this.
type ThresholdSource interface {
	ThresholdsFor(component, metric string) []types.Threshold
}

// Tracker owns the live issue set. At most one unresolved issue exists
// per (component, metric) pair at any time.
type Tracker struct {
	mu         sync.Mutex
	thresholds ThresholdSource
	sink       events.Sink

	// live holds the current unresolved issue per pair, including issues
	// whose recovery attempts are exhausted (status failed). A failed
	// issue stays visible until its violation clears.
	live    map[string]*types.Issue
	history []*types.Issue
	window  int
}

// New creates a tracker reading thresholds from src and reporting
// lifecycle events to sink. A nil sink falls back to local logging.
func New(src ThresholdSource, sink events.Sink) *Tracker {
	if sink == nil {
		sink = events.LogSink{}
	}
	return &Tracker{
		thresholds: src,
		sink:       sink,
		live:       make(map[string]*types.Issue),
		window:     DefaultHistoryWindow,
	}
}

// Ingest evaluates one component's metrics against their thresholds.
// Violations open a new issue or update the existing one for that
// (component, metric) pair; passing metrics resolve the pair's issue.
// The returned slice holds copies of issues newly opened or still
// violating after this ingest, for the controller to consider for
// recovery; transitions on them go through the tracker's API.
func (t *Tracker) Ingest(ctx context.Context, component string, metrics []types.HealthMetric) []*types.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A delivery with no failing check_failure metric means the check
	// itself ran; an earlier check-failure issue for this component has
	// cleared even though no metric named check_failure arrived.
	checkFailed := false
	for _, metric := range metrics {
		if metric.Name == types.CheckFailureMetric && !metric.Healthy {
			checkFailed = true
		}
	}
	if !checkFailed {
		if issue, exists := t.live[types.IssueKey(component, types.CheckFailureMetric)]; exists {
			t.resolveLocked(ctx, issue, "health check succeeded")
		}
	}

	var violating []*types.Issue
	for _, metric := range metrics {
		if issue := t.ingestMetric(ctx, component, metric); issue != nil {
			cp := *issue
			violating = append(violating, &cp)
		}
	}
	return violating
}

// ingestMetric evaluates a single metric. Caller holds the lock.
func (t *Tracker) ingestMetric(ctx context.Context, component string, metric types.HealthMetric) *types.Issue {
	matched := t.thresholds.ThresholdsFor(component, metric.Name)

	// Most severe violated threshold wins when several match one metric.
	var (
		violated  bool
		severity  types.Severity
		violation string
	)
	for _, th := range matched {
		if broke, desc := th.Violated(metric); broke {
			if !violated || th.Severity > severity {
				severity = th.Severity
				violation = desc
			}
			violated = true
		}
	}

	// A failed health check has no registered threshold; it is a
	// high-severity issue against the monitoring of the component itself.
	if !violated && len(matched) == 0 && metric.Name == types.CheckFailureMetric && !metric.Healthy {
		violated = true
		severity = types.SeverityHigh
		violation = fmt.Sprintf("health check failed: %s", metric.Details)
	}

	key := types.IssueKey(component, metric.Name)
	if !violated {
		if issue, exists := t.live[key]; exists {
			t.resolveLocked(ctx, issue, fmt.Sprintf("metric %s back within threshold", metric.Name))
		}
		return nil
	}

	if issue, exists := t.live[key]; exists {
		issue.UpdatedAt = time.Now()
		issue.LastMetric = metric
		if issue.Status == types.IssueFailed {
			// Recovery already exhausted; stay failed and visible.
			return nil
		}
		// Severity only ever escalates within one open lifecycle.
		if severity > issue.Severity {
			issue.Severity = severity
			issue.Description = violation
			t.record(ctx, events.NewIssueEvent(events.EventIssueEscalated, issue, violation))
		}
		return issue
	}

	issue := &types.Issue{
		ID:          uuid.New().String(),
		Component:   component,
		MetricName:  metric.Name,
		Severity:    severity,
		Description: violation,
		Status:      types.IssueOpen,
		OpenedAt:    time.Now(),
		UpdatedAt:   time.Now(),
		LastMetric:  metric,
	}
	t.live[key] = issue
	t.record(ctx, events.NewIssueEvent(events.EventIssueOpened, issue, violation))
	return issue
}

// resolveLocked transitions an issue to resolved. Caller holds the lock.
func (t *Tracker) resolveLocked(ctx context.Context, issue *types.Issue, reason string) {
	now := time.Now()
	issue.Status = types.IssueResolved
	issue.ResolvedAt = &now
	issue.UpdatedAt = now
	delete(t.live, issue.Key())

	t.history = append(t.history, issue)
	if len(t.history) > t.window {
		copy(t.history, t.history[len(t.history)-t.window:])
		t.history = t.history[:t.window]
	}

	t.record(ctx, events.NewIssueEvent(events.EventIssueResolved, issue, reason))
}

// Resolve marks the issue with the given ID resolved, if still live.
func (t *Tracker) Resolve(ctx context.Context, issueID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(issueID)
	if issue == nil {
		return fmt.Errorf("resolve %s: %w", issueID, ErrIssueNotFound)
	}
	t.resolveLocked(ctx, issue, reason)
	return nil
}

// SetStatus transitions a live issue between non-terminal states
// (open, diagnosing, recovering).
func (t *Tracker) SetStatus(issueID string, status types.IssueStatus) error {
	if !status.IsValid() || status.IsTerminal() {
		return fmt.Errorf("invalid transition target %q", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(issueID)
	if issue == nil {
		return fmt.Errorf("set status %s: %w", issueID, ErrIssueNotFound)
	}
	if issue.Status == types.IssueFailed {
		return fmt.Errorf("issue %s already failed", issueID)
	}
	issue.Status = status
	issue.UpdatedAt = time.Now()
	return nil
}

// AttachDiagnosis annotates a live issue with diagnosis text. Advisory
// only: an issue that resolved while diagnosis ran is silently skipped.
func (t *Tracker) AttachDiagnosis(ctx context.Context, issueID, diagnosis string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(issueID)
	if issue == nil {
		return
	}
	issue.Diagnosis = diagnosis
	issue.UpdatedAt = time.Now()
	t.record(ctx, events.NewIssueEvent(events.EventIssueDiagnosed, issue, diagnosis))
}

// IncrementAttempt bumps the issue's recovery attempt count, returning
// the new count.
func (t *Tracker) IncrementAttempt(issueID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(issueID)
	if issue == nil {
		return 0, fmt.Errorf("increment attempt %s: %w", issueID, ErrIssueNotFound)
	}
	issue.AttemptCount++
	issue.UpdatedAt = time.Now()
	return issue.AttemptCount, nil
}

// MarkFailed transitions an issue to failed after recovery exhaustion.
// The issue stays visible in reports until its violation clears.
func (t *Tracker) MarkFailed(ctx context.Context, issueID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(issueID)
	if issue == nil {
		return fmt.Errorf("mark failed %s: %w", issueID, ErrIssueNotFound)
	}
	issue.Status = types.IssueFailed
	issue.UpdatedAt = time.Now()
	t.record(ctx, events.NewIssueEvent(events.EventIssueFailed, issue, reason))
	return nil
}

// Get returns a copy of the live issue with the given ID.
func (t *Tracker) Get(issueID string) (*types.Issue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	issue := t.findLocked(issueID)
	if issue == nil {
		return nil, fmt.Errorf("get %s: %w", issueID, ErrIssueNotFound)
	}
	cp := *issue
	return &cp, nil
}

// ListOpen returns copies of non-terminal live issues at or above
// minSeverity, most severe first.
func (t *Tracker) ListOpen(minSeverity types.Severity) []*types.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	var open []*types.Issue
	for _, issue := range t.live {
		if issue.Status == types.IssueFailed || issue.Severity < minSeverity {
			continue
		}
		cp := *issue
		open = append(open, &cp)
	}
	sortIssues(open)
	return open
}

// ListUnresolved returns copies of every live issue including failed
// ones, for the health report.
func (t *Tracker) ListUnresolved() []*types.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	unresolved := make([]*types.Issue, 0, len(t.live))
	for _, issue := range t.live {
		cp := *issue
		unresolved = append(unresolved, &cp)
	}
	sortIssues(unresolved)
	return unresolved
}

// OpenCount returns the number of live issues for one component.
func (t *Tracker) OpenCount(component string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, issue := range t.live {
		if issue.Component == component {
			count++
		}
	}
	return count
}

// RecentHistory returns up to n recently resolved issues for a
// component, newest first. Used for diagnosis prompt context.
func (t *Tracker) RecentHistory(component string, n int) []*types.Issue {
	t.mu.Lock()
	defer t.mu.Unlock()

	var recent []*types.Issue
	for i := len(t.history) - 1; i >= 0 && len(recent) < n; i-- {
		if component == "" || t.history[i].Component == component {
			cp := *t.history[i]
			recent = append(recent, &cp)
		}
	}
	return recent
}

// findLocked locates a live issue by ID. Caller holds the lock.
func (t *Tracker) findLocked(issueID string) *types.Issue {
	for _, issue := range t.live {
		if issue.ID == issueID {
			return issue
		}
	}
	return nil
}

// record sends an event to the sink; failures are logged, never fatal.
func (t *Tracker) record(ctx context.Context, event *events.Event) {
	if err := t.sink.RecordEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record %s event: %v\n", event.Kind, err)
	}
}

func sortIssues(issues []*types.Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity > issues[j].Severity
		}
		return issues[i].OpenedAt.Before(issues[j].OpenedAt)
	})
}
