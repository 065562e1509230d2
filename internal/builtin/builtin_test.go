package builtin

import (
	"context"
	"testing"

	"github.com/stableagents/sentinel/internal/types"
)

func TestRuntimeMemoryCheck(t *testing.T) {
	metrics, err := RuntimeMemoryCheck(context.Background())
	if err != nil {
		t.Fatalf("RuntimeMemoryCheck: %v", err)
	}

	byName := make(map[string]types.HealthMetric)
	for _, m := range metrics {
		byName[m.Name] = m
	}
	for _, name := range []string{"heap_alloc_mb", "heap_objects", "goroutines", "gc_pause_total_ms"} {
		m, ok := byName[name]
		if !ok {
			t.Errorf("missing metric %s", name)
			continue
		}
		if m.Value < 0 {
			t.Errorf("%s = %g, want non-negative", name, m.Value)
		}
	}
	if byName["goroutines"].Value < 1 {
		t.Errorf("goroutines = %g, want at least 1", byName["goroutines"].Value)
	}
}

func TestRuntimeMemoryThresholdsValidate(t *testing.T) {
	for _, th := range RuntimeMemoryThresholds(512) {
		if err := th.Validate(); err != nil {
			t.Errorf("threshold %s: %v", th.MetricName, err)
		}
	}
	for _, th := range DatabasePingThresholds(100) {
		if err := th.Validate(); err != nil {
			t.Errorf("threshold %s: %v", th.MetricName, err)
		}
	}
}
