// Package diagnosis annotates issues with a short causal explanation.
//
// Diagnosis is advisory only. It never blocks recovery: the engine is
// bounded by its own timeout, any collaborator failure degrades to a
// deterministic templated description, and callers attach the result to
// the issue whenever it arrives.
package diagnosis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stableagents/sentinel/internal/types"
)

// DefaultTimeout bounds one diagnosis request.
const DefaultTimeout = 15 * time.Second

// Generator is the optional external text-generation collaborator. Any
// error from it is treated as "unavailable", never fatal.
type Generator interface {
	GenerateDiagnosis(ctx context.Context, prompt string) (string, error)
}

// HistorySource supplies recently resolved issues for prompt context.
// The issue tracker implements this.
type HistorySource interface {
	RecentHistory(component string, n int) []*types.Issue
}

// ThresholdSource resolves thresholds for the fallback range text.
type ThresholdSource interface {
	ThresholdsFor(component, metric string) []types.Threshold
}

// Engine produces diagnosis text for qualifying issues.
type Engine struct {
	generator  Generator
	history    HistorySource
	thresholds ThresholdSource
	timeout    time.Duration

	// mu guards cache and minSeverity.
	// One diagnosis per issue lifecycle; re-diagnosis only happens for a
	// fresh issue with a new ID.
	mu          sync.Mutex
	cache       map[string]string
	minSeverity types.Severity
}

// New creates a diagnosis engine. generator may be nil, in which case
// every issue gets the templated fallback description.
func New(generator Generator, history HistorySource, thresholds ThresholdSource) *Engine {
	return &Engine{
		generator:  generator,
		history:    history,
		thresholds: thresholds,
		timeout:    DefaultTimeout,
		cache:      make(map[string]string),
	}
}

// SetTimeout overrides the per-request bound (used by tests).
func (e *Engine) SetTimeout(d time.Duration) {
	e.timeout = d
}

// SetMinSeverity sets the lowest severity that consults the collaborator.
// Issues below it always get the templated fallback.
func (e *Engine) SetMinSeverity(sev types.Severity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minSeverity = sev
}

// Diagnose returns diagnosis text for the issue. The collaborator is
// consulted when configured; on failure or absence the deterministic
// fallback is returned. Diagnose never returns an empty string and
// never returns an error.
func (e *Engine) Diagnose(ctx context.Context, issue *types.Issue) string {
	e.mu.Lock()
	if cached, exists := e.cache[issue.ID]; exists {
		e.mu.Unlock()
		return cached
	}
	minSeverity := e.minSeverity
	e.mu.Unlock()

	text := e.fallback(issue)
	if e.generator != nil && issue.Severity >= minSeverity {
		reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
		generated, err := e.generator.GenerateDiagnosis(reqCtx, e.buildPrompt(issue))
		cancel()
		if err == nil && strings.TrimSpace(generated) != "" {
			text = strings.TrimSpace(generated)
		}
	}

	e.mu.Lock()
	e.cache[issue.ID] = text
	// The cache only needs live issue IDs; trim opportunistically so a
	// long-running process doesn't accumulate one entry per past issue.
	if len(e.cache) > 1024 {
		for id := range e.cache {
			if id != issue.ID {
				delete(e.cache, id)
			}
		}
	}
	e.mu.Unlock()

	return text
}

// buildPrompt formats the issue and its component's recent history into
// a short causal-explanation request.
func (e *Engine) buildPrompt(issue *types.Issue) string {
	var b strings.Builder
	b.WriteString("A monitored component reported a health violation. ")
	b.WriteString("In 2-3 sentences, give the most likely cause and one suggested remediation.\n\n")
	fmt.Fprintf(&b, "Component: %s\n", issue.Component)
	fmt.Fprintf(&b, "Metric: %s (value=%g, healthy=%v)\n", issue.MetricName, issue.LastMetric.Value, issue.LastMetric.Healthy)
	fmt.Fprintf(&b, "Severity: %s\n", issue.Severity)
	fmt.Fprintf(&b, "Violation: %s\n", issue.Description)
	if issue.LastMetric.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", issue.LastMetric.Details)
	}

	if e.history != nil {
		if recent := e.history.RecentHistory(issue.Component, 5); len(recent) > 0 {
			b.WriteString("\nRecently resolved issues for this component:\n")
			for _, past := range recent {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", past.Severity, past.MetricName, past.Description)
			}
		}
	}
	return b.String()
}

// fallback builds the deterministic templated description.
func (e *Engine) fallback(issue *types.Issue) string {
	rangeText := ""
	if e.thresholds != nil {
		if matched := e.thresholds.ThresholdsFor(issue.Component, issue.MetricName); len(matched) > 0 {
			rangeText = matched[0].RangeString()
		}
	}
	if rangeText == "" {
		if issue.MetricName == types.CheckFailureMetric {
			return fmt.Sprintf("health check for component %s failed to produce metrics", issue.Component)
		}
		return fmt.Sprintf("metric %s unhealthy for component %s", issue.MetricName, issue.Component)
	}
	return fmt.Sprintf("metric %s out of range %s for component %s", issue.MetricName, rangeText, issue.Component)
}
