package healer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stableagents/sentinel/internal/config"
	"github.com/stableagents/sentinel/internal/events"
	"github.com/stableagents/sentinel/internal/recovery"
	"github.com/stableagents/sentinel/internal/types"
)

// degradingComponent is a check whose metric value can be flipped at
// runtime, standing in for a subsystem that degrades and heals.
type degradingComponent struct {
	mu    sync.Mutex
	name  string
	value float64
}

func (d *degradingComponent) set(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = v
}

func (d *degradingComponent) check(ctx context.Context) ([]types.HealthMetric, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return []types.HealthMetric{types.NumberMetric("hit_rate", d.value)}, nil
}

func hitRateThresholds(sev types.Severity) []types.Threshold {
	min := 0.5
	return []types.Threshold{{MetricName: "hit_rate", Min: &min, Severity: sev}}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AutoRecovery = true
	cfg.MinSeverityForRecovery = types.SeverityLow
	cfg.MonitoringInterval = time.Hour // cycles driven manually
	cfg.ActionTimeout = time.Second
	return cfg
}

// memorySink collects events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []*events.Event
}

func (s *memorySink) RecordEvent(_ context.Context, event *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) kinds() map[events.EventKind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[events.EventKind]int)
	for _, ev := range s.events {
		counts[ev.Kind]++
	}
	return counts
}

func TestDegradeRecoverResolve(t *testing.T) {
	sink := &memorySink{}
	h, err := New(testConfig(), Options{Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	comp := &degradingComponent{name: "cache", value: 0.3}
	if err := h.RegisterComponent("cache", comp.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	// force_gc "heals" the component.
	err = h.SetActionHandler(types.ActionForceGC, func(ctx context.Context, issue *types.Issue) error {
		comp.set(0.9)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(ctx)

	h.RunCycle(ctx)
	h.WaitIdle()

	report := h.GetHealthReport()
	if report.Status != types.HealthHealthy {
		t.Errorf("status after recovery = %s, want healthy", report.Status)
	}
	if len(report.OpenIssues) != 0 {
		t.Errorf("open issues after recovery = %d", len(report.OpenIssues))
	}
	if report.Recovery.SuccessfulPlans != 1 {
		t.Errorf("successful plans = %d, want 1", report.Recovery.SuccessfulPlans)
	}

	counts := sink.kinds()
	for _, kind := range []events.EventKind{
		events.EventIssueOpened,
		events.EventRecoveryStarted,
		events.EventRecoverySucceeded,
		events.EventIssueResolved,
	} {
		if counts[kind] == 0 {
			t.Errorf("no %s event recorded", kind)
		}
	}
}

func TestAutoRecoveryOffOnlyTracks(t *testing.T) {
	cfg := testConfig()
	cfg.AutoRecovery = false
	sink := &memorySink{}
	h, err := New(cfg, Options{Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	comp := &degradingComponent{name: "cache", value: 0.3}
	if err := h.RegisterComponent("cache", comp.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(ctx)

	h.RunCycle(ctx)
	h.WaitIdle()

	report := h.GetHealthReport()
	if report.Status != types.HealthWarning {
		t.Errorf("status = %s, want warning", report.Status)
	}
	if len(report.OpenIssues) != 1 {
		t.Fatalf("open issues = %d, want 1", len(report.OpenIssues))
	}
	if got := sink.kinds()[events.EventRecoveryStarted]; got != 0 {
		t.Errorf("recovery started %d times with auto recovery off", got)
	}
	if report.Recovery.TotalPlans != 0 {
		t.Errorf("plans executed = %d, want 0", report.Recovery.TotalPlans)
	}
}

func TestReportClassification(t *testing.T) {
	cfg := testConfig()
	cfg.AutoRecovery = false
	h, err := New(cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if got := h.GetHealthReport().Status; got != types.HealthInactive {
		t.Errorf("status before start = %s, want inactive", got)
	}

	comp := &degradingComponent{name: "db", value: 0.3}
	if err := h.RegisterComponent("db", comp.check, hitRateThresholds(types.SeverityCritical)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if got := h.GetHealthReport().Status; got != types.HealthHealthy {
		t.Errorf("status before first cycle = %s, want healthy", got)
	}

	h.RunCycle(ctx)
	h.WaitIdle()
	if got := h.GetHealthReport().Status; got != types.HealthCritical {
		t.Errorf("status with open critical issue = %s, want critical", got)
	}

	h.Stop(ctx)
	if got := h.GetHealthReport().Status; got != types.HealthInactive {
		t.Errorf("status after stop = %s, want inactive", got)
	}
}

func TestExhaustedRecoveryMarksFailedThenClears(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttemptsPerIssue = 1
	sink := &memorySink{}
	h, err := New(cfg, Options{Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	comp := &degradingComponent{name: "cache", value: 0.3}
	if err := h.RegisterComponent("cache", comp.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(ctx)

	// No action heals; the single attempt exhausts the budget.
	h.RunCycle(ctx)
	h.WaitIdle()

	issues := h.ListIssues()
	if len(issues) != 1 || issues[0].Status != types.IssueFailed {
		t.Fatalf("issues after exhaustion = %+v, want one failed", issues)
	}

	// The failed issue stays in the report and drives the status.
	report := h.GetHealthReport()
	if len(report.OpenIssues) != 1 || report.OpenIssues[0].Status != types.IssueFailed {
		t.Fatalf("report issues = %+v, want the failed issue", report.OpenIssues)
	}
	if report.Status != types.HealthWarning {
		t.Errorf("report status = %s, want %s", report.Status, types.HealthWarning)
	}

	// Failed issues are not retried on later cycles.
	h.RunCycle(ctx)
	h.WaitIdle()
	if got := sink.kinds()[events.EventRecoveryStarted]; got != 1 {
		t.Errorf("recovery started %d times, want 1", got)
	}

	// The violation clearing externally resolves even a failed issue.
	comp.set(0.9)
	h.RunCycle(ctx)
	h.WaitIdle()
	if issues := h.ListIssues(); len(issues) != 0 {
		t.Errorf("issues after clear = %+v, want none", issues)
	}
}

func TestDiagnosisAttachedBeforeRecovery(t *testing.T) {
	cfg := testConfig()
	cfg.AutoRecovery = true
	gen := &recordingGenerator{response: "cache eviction storm; raise TTL"}
	sink := &memorySink{}
	h, err := New(cfg, Options{Sink: sink, Generator: gen})
	if err != nil {
		t.Fatal(err)
	}

	comp := &degradingComponent{name: "cache", value: 0.3}
	if err := h.RegisterComponent("cache", comp.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	err = h.SetActionHandler(types.ActionForceGC, func(ctx context.Context, issue *types.Issue) error {
		comp.set(0.9)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(ctx)

	h.RunCycle(ctx)
	h.WaitIdle()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var diagnosed string
	for _, ev := range sink.events {
		if ev.Kind == events.EventIssueDiagnosed {
			diagnosed = ev.Message
		}
	}
	if diagnosed != gen.response {
		t.Errorf("diagnosed message = %q, want generator output", diagnosed)
	}
}

// gateGenerator blocks inside GenerateDiagnosis until released, holding
// a recovery goroutine in its diagnosis phase.
type gateGenerator struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (g *gateGenerator) GenerateDiagnosis(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return "slow diagnosis", nil
}

func TestOverlappingCyclesRecoverOnce(t *testing.T) {
	gen := &gateGenerator{release: make(chan struct{})}
	h, err := New(testConfig(), Options{Generator: gen})
	if err != nil {
		t.Fatal(err)
	}

	comp := &degradingComponent{name: "cache", value: 0.3}
	if err := h.RegisterComponent("cache", comp.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	err = h.SetActionHandler(types.ActionForceGC, func(ctx context.Context, issue *types.Issue) error {
		comp.set(0.9)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(ctx)

	// The second cycle lands while the first cycle's recovery is still
	// diagnosing; it must not start a second recovery for the component.
	h.RunCycle(ctx)
	h.RunCycle(ctx)
	close(gen.release)
	h.WaitIdle()

	gen.mu.Lock()
	calls := gen.calls
	gen.mu.Unlock()
	if calls != 1 {
		t.Errorf("diagnosis generator called %d times, want 1", calls)
	}
	if issues := h.ListIssues(); len(issues) != 0 {
		t.Errorf("issues after recovery = %+v, want none", issues)
	}
}

func TestSetConfigAppliesAtRuntime(t *testing.T) {
	h, err := New(testConfig(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	off := false
	interval := 30 * time.Second
	err = h.SetConfig(context.Background(), config.Update{
		AutoRecovery:       &off,
		MonitoringInterval: &interval,
	})
	if err != nil {
		t.Fatal(err)
	}
	got := h.Config()
	if got.AutoRecovery || got.MonitoringInterval != interval {
		t.Errorf("config after update = %+v", got)
	}

	bad := 0
	if err := h.SetConfig(context.Background(), config.Update{MaxAttemptsPerIssue: &bad}); err == nil {
		t.Error("invalid update should be rejected")
	}
}

func TestRecoveriesRunPerComponent(t *testing.T) {
	h, err := New(testConfig(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	cache := &degradingComponent{name: "cache", value: 0.3}
	provider := &degradingComponent{name: "provider", value: 0.2}
	if err := h.RegisterComponent("cache", cache.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	if err := h.RegisterComponent("provider", provider.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}

	// Each handler waits for the other to start before healing its
	// component, so the test hangs on the action timeout unless both
	// recoveries run at the same time.
	started := map[string]chan struct{}{
		"cache":    make(chan struct{}),
		"provider": make(chan struct{}),
	}
	err = h.SetActionHandler(types.ActionForceGC, func(ctx context.Context, issue *types.Issue) error {
		close(started[issue.Component])
		for name, ch := range started {
			if name == issue.Component {
				continue
			}
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if issue.Component == "cache" {
			cache.set(0.9)
		} else {
			provider.set(0.9)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer h.Stop(ctx)
	h.RunCycle(ctx)
	h.WaitIdle()

	if open := h.ListIssues(); len(open) != 0 {
		t.Errorf("%d issues unresolved after concurrent recovery: %+v", len(open), open)
	}
}

func TestStatsPersistedOnStop(t *testing.T) {
	store := &memoryStats{}
	cfg := testConfig()
	h, err := New(cfg, Options{Stats: store})
	if err != nil {
		t.Fatal(err)
	}

	comp := &degradingComponent{name: "cache", value: 0.3}
	if err := h.RegisterComponent("cache", comp.check, hitRateThresholds(types.SeverityMedium)); err != nil {
		t.Fatal(err)
	}
	err = h.SetActionHandler(types.ActionForceGC, func(ctx context.Context, issue *types.Issue) error {
		comp.set(0.9)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatal(err)
	}
	h.RunCycle(ctx)
	h.WaitIdle()
	h.Stop(ctx)

	if store.total != 1 || store.successful != 1 {
		t.Errorf("persisted plans = %d/%d, want 1/1", store.successful, store.total)
	}
	found := false
	for _, o := range store.outcomes {
		if o.Component == "cache" && o.Action == types.ActionForceGC && o.Successes == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("persisted outcomes missing cache/force_gc success: %+v", store.outcomes)
	}

	// A fresh healer seeded from the store reports the earlier outcomes.
	h2, err := New(cfg, Options{Stats: store})
	if err != nil {
		t.Fatal(err)
	}
	if got := h2.GetHealthReport().Recovery.TotalPlans; got != 1 {
		t.Errorf("seeded total plans = %d, want 1", got)
	}
}

type recordingGenerator struct {
	mu       sync.Mutex
	response string
	calls    int
}

func (g *recordingGenerator) GenerateDiagnosis(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.response, nil
}

type memoryStats struct {
	mu         sync.Mutex
	outcomes   []recovery.ActionOutcome
	total      int
	successful int
}

func (m *memoryStats) LoadRecoveryOutcomes(_ context.Context) ([]recovery.ActionOutcome, int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes, m.total, m.successful, nil
}

func (m *memoryStats) SaveRecoveryOutcomes(_ context.Context, outcomes []recovery.ActionOutcome, total, successful int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = outcomes
	m.total = total
	m.successful = successful
	return nil
}
