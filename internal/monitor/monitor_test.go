package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/registry"
	"github.com/stableagents/sentinel/internal/types"
)

// collector records what the monitor hands to its metric handler.
type collector struct {
	mu      sync.Mutex
	metrics map[string][]types.HealthMetric
	cycles  int
}

func newCollector() *collector {
	return &collector{metrics: make(map[string][]types.HealthMetric)}
}

func (c *collector) handle(_ context.Context, component string, metrics []types.HealthMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[component] = metrics
	c.cycles++
}

func (c *collector) get(component string) []types.HealthMetric {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics[component]
}

func staticCheck(metrics ...types.HealthMetric) types.CheckFunc {
	return func(ctx context.Context) ([]types.HealthMetric, error) {
		return metrics, nil
	}
}

func TestRunCycleDeliversMetrics(t *testing.T) {
	reg := registry.New()
	if err := reg.Register("cache", staticCheck(types.NumberMetric("hit_rate", 0.9)), nil); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	m := New(reg, c.handle, nil, DefaultConfig())

	m.RunCycle(context.Background())

	got := c.get("cache")
	if len(got) != 1 || got[0].Name != "hit_rate" || got[0].Value != 0.9 {
		t.Errorf("delivered metrics = %+v", got)
	}
}

func TestRunCycleConvertsCheckErrorToFailureMetric(t *testing.T) {
	reg := registry.New()
	err := reg.Register("provider", func(ctx context.Context) ([]types.HealthMetric, error) {
		return nil, errors.New("connection refused")
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	m := New(reg, c.handle, nil, DefaultConfig())

	m.RunCycle(context.Background())

	got := c.get("provider")
	if len(got) != 1 || got[0].Name != types.CheckFailureMetric {
		t.Fatalf("metrics = %+v, want single check_failure", got)
	}
	if got[0].Details != "connection refused" {
		t.Errorf("failure details = %q", got[0].Details)
	}
}

func TestRunCycleSurvivesPanickingCheck(t *testing.T) {
	reg := registry.New()
	if err := reg.Register("flaky", func(ctx context.Context) ([]types.HealthMetric, error) {
		panic("boom")
	}, nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("steady", staticCheck(types.NumberMetric("uptime_s", 100)), nil); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	m := New(reg, c.handle, nil, DefaultConfig())

	m.RunCycle(context.Background())

	if got := c.get("flaky"); len(got) != 1 || got[0].Name != types.CheckFailureMetric {
		t.Errorf("panicking component metrics = %+v, want check_failure", got)
	}
	// The healthy component is unaffected by its neighbor's panic.
	if got := c.get("steady"); len(got) != 1 || got[0].Name != "uptime_s" {
		t.Errorf("steady component metrics = %+v", got)
	}
}

func TestRunCycleBoundsSlowCheck(t *testing.T) {
	reg := registry.New()
	if err := reg.Register("slow", func(ctx context.Context) ([]types.HealthMetric, error) {
		select {
		case <-time.After(5 * time.Second):
			return []types.HealthMetric{types.NumberMetric("x", 1)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, nil); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	cfg := DefaultConfig()
	cfg.CheckTimeout = 20 * time.Millisecond
	m := New(reg, c.handle, nil, cfg)

	start := time.Now()
	m.RunCycle(context.Background())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cycle took %v with a 20ms check timeout", elapsed)
	}

	if got := c.get("slow"); len(got) != 1 || got[0].Name != types.CheckFailureMetric {
		t.Errorf("timed-out component metrics = %+v, want check_failure", got)
	}
}

func TestRunCycleWaitsForChecksOnCancel(t *testing.T) {
	reg := registry.New()
	for _, name := range []string{"cache", "provider"} {
		if err := reg.Register(name, staticCheck(types.NumberMetric("hit_rate", 0.9)), nil); err != nil {
			t.Fatal(err)
		}
	}

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var finished atomic.Int32
	handler := func(_ context.Context, component string, _ []types.HealthMetric) {
		started <- struct{}{}
		<-release
		finished.Add(1)
	}

	cfg := DefaultConfig()
	cfg.MaxConcurrentChecks = 1
	m := New(reg, handler, nil, cfg)

	// Cancel while the first check holds the semaphore and the second
	// waits on it. RunCycle must still wait out the launched check.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	m.RunCycle(ctx)

	if finished.Load() != 1 {
		t.Errorf("RunCycle returned with %d of 1 launched checks finished", finished.Load())
	}
}

func TestRunCycleRecordsCheckState(t *testing.T) {
	reg := registry.New()
	min := 0.5
	thresholds := []types.Threshold{{MetricName: "hit_rate", Min: &min, Severity: types.SeverityMedium}}
	if err := reg.Register("cache", staticCheck(types.NumberMetric("hit_rate", 0.3)), thresholds); err != nil {
		t.Fatal(err)
	}
	m := New(reg, nil, nil, DefaultConfig())

	m.RunCycle(context.Background())

	infos := reg.Info()
	if len(infos) != 1 {
		t.Fatalf("Info() returned %d entries", len(infos))
	}
	if infos[0].LastCheck.IsZero() {
		t.Error("last check time not recorded")
	}
	if infos[0].Healthy {
		t.Error("component with violated threshold recorded as healthy")
	}
}

func TestWarnUnmatchedThresholdOnce(t *testing.T) {
	reg := registry.New()
	min := 1.0
	thresholds := []types.Threshold{{MetricName: "no_such_metric", Min: &min, Severity: types.SeverityLow}}
	if err := reg.Register("cache", staticCheck(types.NumberMetric("hit_rate", 0.9)), thresholds); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var mismatches int
	sink := sinkFunc(func(ctx context.Context, ev *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if ev.Kind == events.EventThresholdMismatch {
			mismatches++
		}
		return nil
	})
	m := New(reg, nil, sink, DefaultConfig())

	m.RunCycle(context.Background())
	m.RunCycle(context.Background())
	m.RunCycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if mismatches != 1 {
		t.Errorf("threshold mismatch events = %d, want 1 (warn once)", mismatches)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	reg := registry.New()
	if err := reg.Register("cache", staticCheck(types.NumberMetric("hit_rate", 0.9)), nil); err != nil {
		t.Fatal(err)
	}
	c := newCollector()
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	m := New(reg, c.handle, nil, cfg)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start should error while running")
	}

	deadline := time.After(2 * time.Second)
	for {
		c.mu.Lock()
		cycles := c.cycles
		c.mu.Unlock()
		if cycles > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no cycle ran within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}

	m.Stop(ctx)
	if m.Running() {
		t.Error("Running() true after Stop")
	}
	// Stop on a stopped monitor is a no-op.
	m.Stop(ctx)
}

type sinkFunc func(ctx context.Context, event *events.Event) error

func (f sinkFunc) RecordEvent(ctx context.Context, event *events.Event) error {
	return f(ctx, event)
}
