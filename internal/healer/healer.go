// Package healer assembles the self-healing pipeline: periodic health
// monitoring, issue tracking, diagnosis, and automatic recovery.
package healer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stableagents/sentinel/internal/config"
	"github.com/stableagents/sentinel/internal/diagnosis"
	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/monitor"
	"github.com/stableagents/sentinel/internal/recovery"
	"github.com/stableagents/sentinel/internal/registry"
	"github.com/stableagents/sentinel/internal/tracker"
	"github.com/stableagents/sentinel/internal/types"
)

// StatsStore persists the planner's learned outcomes across restarts.
// The SQLite store implements this; a nil store disables persistence.
type StatsStore interface {
	LoadRecoveryOutcomes(ctx context.Context) (outcomes []recovery.ActionOutcome, totalPlans, successfulPlans int, err error)
	SaveRecoveryOutcomes(ctx context.Context, outcomes []recovery.ActionOutcome, totalPlans, successfulPlans int) error
}

// Options carries the optional collaborators for a Healer.
type Options struct {
	// Sink receives every lifecycle event. Defaults to logging.
	Sink events.Sink

	// Generator produces AI diagnoses. Nil means templated fallbacks only.
	Generator diagnosis.Generator

	// Stats persists recovery outcomes. Nil disables persistence.
	Stats StatsStore
}

// Healer owns the full monitoring and recovery pipeline.
type Healer struct {
	registry *registry.Registry
	tracker  *tracker.Tracker
	monitor  *monitor.Monitor
	engine   *diagnosis.Engine
	planner  *recovery.Planner
	executor *recovery.Executor
	sink     events.Sink
	stats    StatsStore

	mu         sync.Mutex
	config     config.Config
	started    bool
	recovering map[string]bool

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New wires a healer from the configuration. Components are registered
// afterwards; the monitor does not run until Start.
func New(cfg config.Config, opts Options) (*Healer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sink := opts.Sink
	if sink == nil {
		sink = events.LogSink{}
	}

	reg := registry.New()
	trk := tracker.New(reg, sink)
	eng := diagnosis.New(opts.Generator, trk, reg)
	eng.SetMinSeverity(cfg.MinSeverityForRecovery)

	planner := recovery.NewPlanner(recovery.PlannerConfig{
		AutoRecovery: cfg.AutoRecovery,
		MinSeverity:  cfg.MinSeverityForRecovery,
	})
	executor := recovery.NewExecutor(trk, reg, planner, sink, recovery.ExecutorConfig{
		ActionTimeout: cfg.ActionTimeout,
		MaxAttempts:   cfg.MaxAttemptsPerIssue,
	})

	h := &Healer{
		registry: reg,
		tracker:  trk,
		engine:   eng,
		planner:  planner,
		executor: executor,
		sink:     sink,
		stats:    opts.Stats,
		config:   cfg,

		recovering: make(map[string]bool),
	}
	h.monitor = monitor.New(reg, h.handleMetrics, sink, monitor.Config{
		Interval:     cfg.MonitoringInterval,
		CheckTimeout: cfg.ActionTimeout,
	})
	reg.SetUnregisterHook(executor.Cancel)

	if h.stats != nil {
		outcomes, total, successful, err := h.stats.LoadRecoveryOutcomes(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading recovery outcomes: %w", err)
		}
		if err := planner.LoadOutcomes(outcomes, total, successful); err != nil {
			return nil, fmt.Errorf("seeding planner outcomes: %w", err)
		}
	}

	return h, nil
}

// RegisterComponent adds a component to the monitored set.
func (h *Healer) RegisterComponent(name string, check types.CheckFunc, thresholds []types.Threshold) error {
	return h.registry.Register(name, check, thresholds)
}

// UnregisterComponent removes a component, cancelling any in-flight
// recovery targeting it. Unknown names are a no-op.
func (h *Healer) UnregisterComponent(name string) {
	h.registry.Unregister(name)
}

// SetActionHandler installs a host-specific recovery action handler.
func (h *Healer) SetActionHandler(kind types.ActionKind, handler recovery.Handler) error {
	return h.executor.SetHandler(kind, handler)
}

// Start launches the monitoring loop.
func (h *Healer) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return fmt.Errorf("healer already started")
	}
	h.started = true
	h.runCtx, h.runCancel = context.WithCancel(context.Background())
	h.mu.Unlock()

	if err := h.monitor.Start(ctx); err != nil {
		h.mu.Lock()
		h.started = false
		h.runCancel()
		h.mu.Unlock()
		return err
	}
	return nil
}

// Stop halts monitoring and waits for in-flight recoveries to finish,
// then persists recovery stats. Safe to call on a stopped healer.
func (h *Healer) Stop(ctx context.Context) {
	h.shutdown(ctx, true)
}

// StopNow halts monitoring and aborts in-flight recoveries instead of
// draining them.
func (h *Healer) StopNow(ctx context.Context) {
	h.shutdown(ctx, false)
}

func (h *Healer) shutdown(ctx context.Context, drain bool) {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	cancel := h.runCancel
	h.mu.Unlock()

	h.monitor.Stop(ctx)
	if !drain {
		cancel()
	}
	h.wg.Wait()
	cancel()

	if h.stats != nil {
		total, successful := h.planner.PlanCounters()
		if err := h.stats.SaveRecoveryOutcomes(ctx, h.planner.Outcomes(), total, successful); err != nil {
			log.Printf("healer: persisting recovery outcomes: %v", err)
		}
	}
}

// RunCycle triggers one immediate monitoring sweep. Useful for tests
// and the CLI; the periodic loop calls the same path.
func (h *Healer) RunCycle(ctx context.Context) {
	h.monitor.RunCycle(ctx)
}

// WaitIdle blocks until all in-flight recovery goroutines finish.
func (h *Healer) WaitIdle() {
	h.wg.Wait()
}

// handleMetrics is the monitor's per-component callback: ingest the
// metrics and kick off recovery for any issue that needs it.
func (h *Healer) handleMetrics(ctx context.Context, component string, metrics []types.HealthMetric) {
	issues := h.tracker.Ingest(ctx, component, metrics)
	for _, issue := range issues {
		h.maybeRecover(issue)
	}
}

// maybeRecover diagnoses the issue and executes a recovery plan in the
// background. At most one recovery goroutine runs per component; the
// guard spans the diagnosis phase, not just the executor's plan.
func (h *Healer) maybeRecover(issue *types.Issue) {
	h.mu.Lock()
	if !h.started || h.recovering[issue.Component] {
		h.mu.Unlock()
		return
	}
	h.recovering[issue.Component] = true
	runCtx := h.runCtx
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.recovering, issue.Component)
			h.mu.Unlock()
		}()
		h.recoverIssue(runCtx, issue)
	}()
}

func (h *Healer) recoverIssue(ctx context.Context, issue *types.Issue) {
	if issue.Diagnosis == "" {
		if err := h.tracker.SetStatus(issue.ID, types.IssueDiagnosing); err != nil {
			// Issue resolved or failed in the meantime; nothing to do.
			return
		}
		diag := h.engine.Diagnose(ctx, issue)
		h.tracker.AttachDiagnosis(ctx, issue.ID, diag)
		if err := h.tracker.SetStatus(issue.ID, types.IssueOpen); err != nil {
			return
		}
		fresh, err := h.tracker.Get(issue.ID)
		if err != nil {
			return
		}
		issue = fresh
	}

	plan := h.planner.Plan(issue)
	if plan == nil {
		return
	}

	if err := h.executor.Execute(ctx, issue, plan); err != nil {
		log.Printf("healer: recovery for %s: %v", issue.Component, err)
	}
}

// GetHealthReport summarizes the whole monitored system.
func (h *Healer) GetHealthReport() types.HealthReport {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()

	report := types.HealthReport{
		GeneratedAt:    time.Now(),
		ComponentCount: h.registry.Count(),
		Recovery:       h.planner.Stats(),
	}

	infos := h.registry.Info()
	for i := range infos {
		infos[i].OpenCount = h.tracker.OpenCount(infos[i].Name)
	}
	report.Components = infos

	// Unresolved includes failed issues: exhausted recovery keeps an
	// issue visible until its violation clears.
	open := h.tracker.ListUnresolved()
	report.OpenIssues = open
	report.Status = classify(started, open)
	return report
}

// classify maps the unresolved issue set to an overall status. The
// worst severity wins; a healer that is not running reports inactive.
func classify(started bool, open []*types.Issue) types.HealthStatus {
	if !started {
		return types.HealthInactive
	}
	worst := types.Severity(-1)
	for _, issue := range open {
		if issue.Severity > worst {
			worst = issue.Severity
		}
	}
	switch {
	case worst >= types.SeverityCritical:
		return types.HealthCritical
	case worst >= types.SeverityHigh:
		return types.HealthDegraded
	case worst >= types.SeverityLow:
		return types.HealthWarning
	default:
		return types.HealthHealthy
	}
}

// ListIssues returns unresolved issues for inspection, failed ones
// included.
func (h *Healer) ListIssues() []*types.Issue {
	return h.tracker.ListUnresolved()
}

// SetConfig applies a partial configuration update at runtime.
func (h *Healer) SetConfig(ctx context.Context, update config.Update) error {
	h.mu.Lock()
	next, err := update.Apply(h.config)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.config = next
	h.mu.Unlock()

	h.monitor.SetInterval(next.MonitoringInterval)
	h.engine.SetMinSeverity(next.MinSeverityForRecovery)
	h.planner.SetConfig(recovery.PlannerConfig{
		AutoRecovery: next.AutoRecovery,
		MinSeverity:  next.MinSeverityForRecovery,
	})
	h.executor.SetConfig(recovery.ExecutorConfig{
		ActionTimeout: next.ActionTimeout,
		MaxAttempts:   next.MaxAttemptsPerIssue,
	})

	h.record(ctx, events.NewSystemEvent(events.EventConfigUpdated, "",
		"configuration updated", map[string]interface{}{
			"auto_recovery":       next.AutoRecovery,
			"min_severity":        next.MinSeverityForRecovery.String(),
			"monitoring_interval": next.MonitoringInterval.String(),
		}))
	return nil
}

// Config returns a copy of the current configuration.
func (h *Healer) Config() config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config
}

func (h *Healer) record(ctx context.Context, event *events.Event) {
	if err := h.sink.RecordEvent(ctx, event); err != nil {
		log.Printf("healer: recording %s event: %v", event.Kind, err)
	}
}
