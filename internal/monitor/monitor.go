// Package monitor drives periodic health checks over registered
// components. Each cycle runs checks concurrently under a semaphore,
// bounds every check with a timeout, and converts panics and errors
// into synthetic check_failure metrics so one misbehaving component
// never stalls or crashes the cycle.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/registry"
	"github.com/stableagents/sentinel/internal/types"
)

// MetricHandler receives the metrics produced by one component's check.
// The controller wires this to the issue tracker.
type MetricHandler func(ctx context.Context, component string, metrics []types.HealthMetric)

// Config controls the monitoring loop.
type Config struct {
	// Interval between cycle starts.
	Interval time.Duration

	// CheckTimeout bounds each component check.
	CheckTimeout time.Duration

	// MaxConcurrentChecks bounds how many checks run at once per cycle.
	MaxConcurrentChecks int64
}

// DefaultConfig returns the stock monitoring cadence.
func DefaultConfig() Config {
	return Config{
		Interval:            10 * time.Second,
		CheckTimeout:        5 * time.Second,
		MaxConcurrentChecks: 4,
	}
}

// Monitor owns the periodic check loop.
type Monitor struct {
	registry *registry.Registry
	handler  MetricHandler
	sink     events.Sink

	mu             sync.Mutex
	config         Config
	running        bool
	stopCh         chan struct{}
	doneCh         chan struct{}
	warnedMismatch map[string]bool
}

// New creates a monitor over the registry. The handler receives every
// component's metrics once per cycle.
func New(reg *registry.Registry, handler MetricHandler, sink events.Sink, cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultConfig().CheckTimeout
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = DefaultConfig().MaxConcurrentChecks
	}
	return &Monitor{
		registry:       reg,
		handler:        handler,
		sink:           sink,
		config:         cfg,
		warnedMismatch: make(map[string]bool),
	}
}

// SetInterval adjusts the cycle cadence. Takes effect on the next tick.
func (m *Monitor) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Interval = d
}

// ErrAlreadyRunning is returned by Start when the loop is live.
var ErrAlreadyRunning = errors.New("monitor already running")

// Start launches the monitoring loop. It is an error to start a
// running monitor.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	m.record(ctx, events.NewSystemEvent(events.EventMonitorStarted, "", "monitoring loop started", nil))

	go m.loop(ctx, stopCh, doneCh)
	return nil
}

// Stop halts the loop and waits for the in-flight cycle to finish.
// Safe to call on a stopped monitor.
func (m *Monitor) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
	m.record(ctx, events.NewSystemEvent(events.EventMonitorStopped, "", "monitoring loop stopped", nil))
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	for {
		m.mu.Lock()
		interval := m.config.Interval
		m.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
			m.RunCycle(ctx)
		}
	}
}

// RunCycle checks every registered component once. Exposed so the CLI
// and tests can trigger an immediate sweep.
func (m *Monitor) RunCycle(ctx context.Context) {
	m.mu.Lock()
	timeout := m.config.CheckTimeout
	maxConcurrent := m.config.MaxConcurrentChecks
	m.mu.Unlock()

	sem := semaphore.NewWeighted(maxConcurrent)
	var wg sync.WaitGroup

	// Wait for launched checks even when the context dies mid-cycle, so
	// no handler call outlives RunCycle.
	defer wg.Wait()

	for _, comp := range m.registry.List() {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(comp *types.Component) {
			defer wg.Done()
			defer sem.Release(1)
			m.checkComponent(ctx, comp, timeout)
		}(comp)
	}
}

// checkComponent runs one check and hands its metrics to the handler.
func (m *Monitor) checkComponent(ctx context.Context, comp *types.Component, timeout time.Duration) {
	metrics, err := m.runCheck(ctx, comp, timeout)
	if err != nil {
		metrics = []types.HealthMetric{types.NewCheckFailure(err.Error())}
	}

	healthy := true
	for _, metric := range metrics {
		if metric.Name == types.CheckFailureMetric || !metric.Healthy {
			healthy = false
		}
		for _, th := range m.registry.ThresholdsFor(comp.Name, metric.Name) {
			if violated, _ := th.Violated(metric); violated {
				healthy = false
			}
		}
	}
	m.registry.RecordCheck(comp.Name, time.Now(), healthy)
	m.warnUnmatchedThresholds(ctx, comp, metrics)

	if m.handler != nil {
		m.handler(ctx, comp.Name, metrics)
	}
}

// runCheck invokes the component check under a timeout, converting a
// panic into an error so the cycle survives buggy checks.
func (m *Monitor) runCheck(ctx context.Context, comp *types.Component, timeout time.Duration) (metrics []types.HealthMetric, err error) {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

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
		metrics, err := comp.Check(checkCtx)
		resultCh <- result{metrics: metrics, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.metrics, nil
	case <-checkCtx.Done():
		// The check goroutine is abandoned; a well-behaved check will
		// notice checkCtx and unwind on its own.
		return nil, fmt.Errorf("health check timed out after %s", timeout)
	}
}

// warnUnmatchedThresholds flags thresholds naming metrics the check
// never produced, once per component/metric pair. A typoed metric name
// would otherwise silently never trip.
func (m *Monitor) warnUnmatchedThresholds(ctx context.Context, comp *types.Component, metrics []types.HealthMetric) {
	produced := make(map[string]bool, len(metrics))
	for _, metric := range metrics {
		produced[metric.Name] = true
	}
	if produced[types.CheckFailureMetric] {
		// A failed check produced no real metrics; nothing to conclude
		// about threshold coverage this cycle.
		return
	}

	for _, th := range comp.Thresholds {
		if produced[th.MetricName] {
			continue
		}
		key := comp.Name + "/" + th.MetricName
		m.mu.Lock()
		warned := m.warnedMismatch[key]
		m.warnedMismatch[key] = true
		m.mu.Unlock()
		if warned {
			continue
		}

		log.Printf("monitor: threshold on %s references metric %q the check never produced", comp.Name, th.MetricName)
		m.record(ctx, events.NewSystemEvent(events.EventThresholdMismatch, comp.Name,
			fmt.Sprintf("threshold references unproduced metric %q", th.MetricName),
			map[string]interface{}{"metric_name": th.MetricName}))
	}
}

func (m *Monitor) record(ctx context.Context, event *events.Event) {
	if m.sink == nil {
		return
	}
	if err := m.sink.RecordEvent(ctx, event); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record %s event: %v\n", event.Kind, err)
	}
}
