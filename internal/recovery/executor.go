package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/types"
)

var (
	// ErrRecoveryInFlight is returned when a plan targets a component
	// that already has a plan executing.
	ErrRecoveryInFlight = errors.New("recovery already in flight for component")

	// ErrNoHandler is returned by host-specific actions the embedding
	// application never wired a handler for.
	ErrNoHandler = errors.New("no handler registered for recovery action")

	// ErrRecoveryExhausted is returned when every action in a plan ran
	// without clearing the violation.
	ErrRecoveryExhausted = errors.New("recovery plan exhausted without clearing violation")
)

// Handler performs one recovery action for an issue. Handlers must
// respect ctx cancellation; the executor bounds each call with a timeout.
type Handler func(ctx context.Context, issue *types.Issue) error

// IssueStore is the slice of the issue tracker the executor drives.
type IssueStore interface {
	SetStatus(issueID string, status types.IssueStatus) error
	IncrementAttempt(issueID string) (int, error)
	MarkFailed(ctx context.Context, issueID, reason string) error
	Resolve(ctx context.Context, issueID, reason string) error
}

// ComponentSource resolves components for post-action health checks.
type ComponentSource interface {
	Get(name string) (*types.Component, error)
	ThresholdsFor(component, metric string) []types.Threshold
}

// ExecutorConfig bounds plan execution.
type ExecutorConfig struct {
	// ActionTimeout bounds each handler call and each verification check.
	ActionTimeout time.Duration

	// MaxAttempts is the plan budget per issue. Once an issue has had
	// this many plans executed it is marked failed instead of retried.
	MaxAttempts int
}

// DefaultExecutorConfig returns the stock execution bounds.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ActionTimeout: 5 * time.Second,
		MaxAttempts:   3,
	}
}

// Executor runs recovery plans with single-flight per component.
type Executor struct {
	issues     IssueStore
	components ComponentSource
	planner    *Planner
	sink       events.Sink
	config     ExecutorConfig

	mu       sync.Mutex
	inFlight map[string]context.CancelFunc
	handlers map[types.ActionKind]Handler
}

// NewExecutor wires an executor with the default handler table.
// Host-specific actions (reset_provider, reload_model, switch_fallback,
// restart_component) fail with ErrNoHandler until SetHandler installs one.
func NewExecutor(issues IssueStore, components ComponentSource, planner *Planner, sink events.Sink, cfg ExecutorConfig) *Executor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultExecutorConfig().ActionTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultExecutorConfig().MaxAttempts
	}
	e := &Executor{
		issues:     issues,
		components: components,
		planner:    planner,
		sink:       sink,
		config:     cfg,
		inFlight:   make(map[string]context.CancelFunc),
		handlers:   make(map[types.ActionKind]Handler),
	}
	e.handlers[types.ActionLogDiagnostics] = e.logDiagnostics
	e.handlers[types.ActionForceGC] = forceGC
	e.handlers[types.ActionRetryCall] = e.retryCall
	return e
}

// SetHandler installs or replaces the handler for one action kind.
func (e *Executor) SetHandler(kind types.ActionKind, h Handler) error {
	if !kind.IsValid() {
		return fmt.Errorf("unknown recovery action kind: %q", kind)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
	return nil
}

// SetConfig replaces the execution bounds for subsequent plans.
func (e *Executor) SetConfig(cfg ExecutorConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.ActionTimeout > 0 {
		e.config.ActionTimeout = cfg.ActionTimeout
	}
	if cfg.MaxAttempts > 0 {
		e.config.MaxAttempts = cfg.MaxAttempts
	}
}

// Cancel aborts any in-flight plan for the component. Used when a
// component is unregistered mid-recovery.
func (e *Executor) Cancel(component string) {
	e.mu.Lock()
	cancel := e.inFlight[component]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// InFlight reports whether a plan is currently executing for the component.
func (e *Executor) InFlight(component string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inFlight[component]
	return ok
}

// Execute runs a plan to completion. It returns nil when the component's
// violation cleared, ErrRecoveryInFlight when the component is busy, and
// a descriptive error when the plan was exhausted without clearing the
// issue. A cleared violation counts as success even when individual
// actions reported errors along the way.
func (e *Executor) Execute(ctx context.Context, issue *types.Issue, plan *types.RecoveryPlan) error {
	runCtx, err := e.acquire(ctx, plan.Component)
	if err != nil {
		return err
	}
	defer e.release(plan.Component)

	attempt, err := e.issues.IncrementAttempt(issue.ID)
	if err != nil {
		return fmt.Errorf("recording recovery attempt: %w", err)
	}
	plan.AttemptCount = attempt

	e.mu.Lock()
	maxAttempts := e.config.MaxAttempts
	e.mu.Unlock()

	if attempt > maxAttempts {
		reason := fmt.Sprintf("recovery attempt budget exhausted (%d attempts)", attempt-1)
		if err := e.issues.MarkFailed(runCtx, issue.ID, reason); err != nil {
			log.Printf("recovery: marking issue %s failed: %v", issue.ID, err)
		}
		return fmt.Errorf("issue %s: %s", issue.ID, reason)
	}

	if err := e.issues.SetStatus(issue.ID, types.IssueRecovering); err != nil {
		return fmt.Errorf("transitioning issue %s to recovering: %w", issue.ID, err)
	}
	plan.Outcome = types.PlanExecuting
	e.record(runCtx, events.NewIssueEvent(events.EventRecoveryStarted, issue,
		fmt.Sprintf("executing recovery plan with %d actions (attempt %d/%d)", len(plan.Actions), attempt, maxAttempts)))

	for _, action := range plan.Actions {
		if err := runCtx.Err(); err != nil {
			plan.Outcome = types.PlanFailed
			e.planner.RecordPlanOutcome(false)
			return fmt.Errorf("recovery for %s aborted: %w", plan.Component, err)
		}

		actionErr := e.runAction(runCtx, action, issue)
		e.record(runCtx, events.NewRecoveryActionEvent(issue, action, actionErr))

		cleared := e.violationCleared(runCtx, issue)
		e.planner.RecordActionOutcome(plan.Component, action.Kind, cleared)

		if cleared {
			plan.Outcome = types.PlanSucceeded
			e.planner.RecordPlanOutcome(true)
			e.record(runCtx, events.NewIssueEvent(events.EventRecoverySucceeded, issue,
				fmt.Sprintf("violation cleared after %s", action.Kind)))
			if err := e.issues.Resolve(runCtx, issue.ID,
				fmt.Sprintf("violation cleared after %s", action.Kind)); err != nil {
				log.Printf("recovery: resolving issue %s: %v", issue.ID, err)
			}
			return nil
		}
		if actionErr != nil {
			log.Printf("recovery: action %s on %s: %v", action.Kind, action.Target, actionErr)
		}
	}

	plan.Outcome = types.PlanFailed
	e.planner.RecordPlanOutcome(false)

	if attempt >= maxAttempts {
		reason := fmt.Sprintf("all recovery actions exhausted after %d attempts", attempt)
		if err := e.issues.MarkFailed(runCtx, issue.ID, reason); err != nil {
			log.Printf("recovery: marking issue %s failed: %v", issue.ID, err)
		}
	} else {
		// Back to open so the next monitoring cycle can plan again.
		if err := e.issues.SetStatus(issue.ID, types.IssueOpen); err != nil {
			log.Printf("recovery: reopening issue %s: %v", issue.ID, err)
		}
	}
	e.record(runCtx, events.NewIssueEvent(events.EventRecoveryFailed, issue,
		fmt.Sprintf("plan exhausted without clearing violation (attempt %d/%d)", attempt, maxAttempts)))
	return fmt.Errorf("issue %s: %w", issue.ID, ErrRecoveryExhausted)
}

// acquire claims the component's single-flight slot, returning a
// cancellable context stored so Cancel can abort the run.
func (e *Executor) acquire(ctx context.Context, component string) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[component]; busy {
		return nil, fmt.Errorf("%w: %s", ErrRecoveryInFlight, component)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.inFlight[component] = cancel
	return runCtx, nil
}

func (e *Executor) release(component string) {
	e.mu.Lock()
	cancel := e.inFlight[component]
	delete(e.inFlight, component)
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runAction dispatches one action to its handler under the action timeout.
func (e *Executor) runAction(ctx context.Context, action types.RecoveryAction, issue *types.Issue) error {
	e.mu.Lock()
	handler := e.handlers[action.Kind]
	timeout := e.config.ActionTimeout
	e.mu.Unlock()

	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, action.Kind)
	}

	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return handler(actionCtx, issue)
}

// violationCleared re-checks the component and reports whether the
// issue's violation is gone. Unverifiable states count as not cleared.
func (e *Executor) violationCleared(ctx context.Context, issue *types.Issue) bool {
	comp, err := e.components.Get(issue.Component)
	if err != nil {
		return false
	}

	e.mu.Lock()
	timeout := e.config.ActionTimeout
	e.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	metrics, err := safeCheck(checkCtx, comp.Check)

	if issue.MetricName == types.CheckFailureMetric {
		return err == nil
	}
	if err != nil {
		return false
	}

	for _, m := range metrics {
		if m.Name != issue.MetricName {
			continue
		}
		for _, th := range e.components.ThresholdsFor(issue.Component, m.Name) {
			if violated, _ := th.Violated(m); violated {
				return false
			}
		}
		return true
	}
	// Metric absent from the fresh check; cannot confirm the clear.
	return false
}

// logDiagnostics is the built-in low-risk action: dump what we know
// about the issue to the process log.
func (e *Executor) logDiagnostics(_ context.Context, issue *types.Issue) error {
	log.Printf("diagnostics: issue=%s component=%s metric=%s severity=%s value=%g attempts=%d",
		issue.ID, issue.Component, issue.MetricName, issue.Severity, issue.LastMetric.Value, issue.AttemptCount)
	if issue.Diagnosis != "" {
		log.Printf("diagnostics: issue=%s diagnosis: %s", issue.ID, issue.Diagnosis)
	}
	if issue.LastMetric.Details != "" {
		log.Printf("diagnostics: issue=%s details: %s", issue.ID, issue.LastMetric.Details)
	}
	return nil
}

func forceGC(_ context.Context, _ *types.Issue) error {
	runtime.GC()
	debug.FreeOSMemory()
	return nil
}

// retryCall re-invokes the component's health check once. The post-action
// verification decides whether the retry actually cleared the violation.
func (e *Executor) retryCall(ctx context.Context, issue *types.Issue) error {
	comp, err := e.components.Get(issue.Component)
	if err != nil {
		return err
	}
	if _, err := safeCheck(ctx, comp.Check); err != nil {
		return fmt.Errorf("retried check for %s: %w", issue.Component, err)
	}
	return nil
}

// safeCheck runs a component check in its own goroutine, converting a
// panic into an error and abandoning a check that ignores ctx. The
// recovery path invokes the same host callbacks the monitor does and
// needs the same containment.
func safeCheck(ctx context.Context, check types.CheckFunc) ([]types.HealthMetric, error) {
	type result struct {
		metrics []types.HealthMetric
		err     error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("health check panicked: %v", r)}
			}
		}()
		metrics, err := check(ctx)
		resultCh <- result{metrics: metrics, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.metrics, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("health check did not return: %w", ctx.Err())
	}
}

func (e *Executor) record(ctx context.Context, event *events.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record %s event: %v\n", event.Kind, err)
	}
}
