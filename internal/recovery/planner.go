// Package recovery plans and executes remediation for open health issues.
//
// The planner maps issue severity to an ordered list of actions and
// reorders that list using the outcomes of past executions for the same
// component. The executor runs plans one at a time per component,
// verifying component health after every action so a plan stops as soon
// as the violation clears.
package recovery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stableagents/sentinel/internal/types"
)

// failureDemotionThreshold is the consecutive-failure count at which an
// action is moved to the back of a plan for that component. It is still
// attempted last; a single success resets the count.
const failureDemotionThreshold = 3

// PlannerConfig controls which issues get plans at all.
type PlannerConfig struct {
	// AutoRecovery gates all planning. When false Plan always returns nil.
	AutoRecovery bool

	// MinSeverity is the lowest severity that gets a plan.
	MinSeverity types.Severity
}

// ActionOutcome is one (component, action) tally, the unit of persisted
// recovery learning.
type ActionOutcome struct {
	Component           string
	Action              types.ActionKind
	Attempts            int
	Successes           int
	ConsecutiveFailures int
}

type tallyKey struct {
	component string
	action    types.ActionKind
}

type actionTally struct {
	attempts            int
	successes           int
	consecutiveFailures int
}

// Planner builds recovery plans from severity and learned outcomes.
type Planner struct {
	mu      sync.Mutex
	config  PlannerConfig
	ladder  map[types.Severity][]types.ActionKind
	tallies map[tallyKey]*actionTally

	totalPlans      int
	successfulPlans int
}

// NewPlanner returns a planner with the default severity ladder.
func NewPlanner(cfg PlannerConfig) *Planner {
	return &Planner{
		config: cfg,
		ladder: map[types.Severity][]types.ActionKind{
			types.SeverityLow: {
				types.ActionLogDiagnostics,
			},
			types.SeverityMedium: {
				types.ActionLogDiagnostics,
				types.ActionForceGC,
				types.ActionRetryCall,
			},
			types.SeverityHigh: {
				types.ActionRetryCall,
				types.ActionResetProvider,
				types.ActionReloadModel,
			},
			types.SeverityCritical: {
				types.ActionSwitchFallback,
				types.ActionRestartComponent,
			},
		},
		tallies: make(map[tallyKey]*actionTally),
	}
}

// SetConfig replaces the planner's gating config.
func (p *Planner) SetConfig(cfg PlannerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config = cfg
}

// Plan returns an ordered recovery plan for the issue, or nil when
// recovery is disabled or the issue is below the configured severity.
func (p *Planner) Plan(issue *types.Issue) *types.RecoveryPlan {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.config.AutoRecovery || issue.Severity < p.config.MinSeverity {
		return nil
	}

	base := p.ladder[issue.Severity]
	if len(base) == 0 {
		return nil
	}

	kinds := p.reorder(issue.Component, base)
	actions := make([]types.RecoveryAction, len(kinds))
	for i, k := range kinds {
		actions[i] = types.RecoveryAction{Kind: k, Target: issue.Component}
	}

	return &types.RecoveryPlan{
		IssueID:   issue.ID,
		Component: issue.Component,
		Actions:   actions,
		Outcome:   types.PlanPending,
	}
}

// reorder sorts a severity ladder by the component's learned outcomes:
// actions with a better success rate run first, and actions with a
// streak of failures run last. Ladder position breaks ties so the
// ordering stays stable. Caller holds p.mu.
func (p *Planner) reorder(component string, base []types.ActionKind) []types.ActionKind {
	kinds := make([]types.ActionKind, len(base))
	copy(kinds, base)

	pos := make(map[types.ActionKind]int, len(base))
	for i, k := range base {
		pos[k] = i
	}

	sort.SliceStable(kinds, func(i, j int) bool {
		di, dj := p.demoted(component, kinds[i]), p.demoted(component, kinds[j])
		if di != dj {
			return !di
		}
		ri, rj := p.successRate(component, kinds[i]), p.successRate(component, kinds[j])
		if ri != rj {
			return ri > rj
		}
		return pos[kinds[i]] < pos[kinds[j]]
	})
	return kinds
}

func (p *Planner) demoted(component string, k types.ActionKind) bool {
	t := p.tallies[tallyKey{component, k}]
	return t != nil && t.consecutiveFailures >= failureDemotionThreshold
}

// successRate returns the observed rate for an action on this component,
// or 0.5 for an action with no history so untried actions neither jump
// the queue nor sink below ones that have occasionally worked.
func (p *Planner) successRate(component string, k types.ActionKind) float64 {
	t := p.tallies[tallyKey{component, k}]
	if t == nil || t.attempts == 0 {
		return 0.5
	}
	return float64(t.successes) / float64(t.attempts)
}

// RecordActionOutcome feeds one action execution result back into the
// component's ordering.
func (p *Planner) RecordActionOutcome(component string, kind types.ActionKind, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := tallyKey{component, kind}
	t := p.tallies[key]
	if t == nil {
		t = &actionTally{}
		p.tallies[key] = t
	}
	t.attempts++
	if success {
		t.successes++
		t.consecutiveFailures = 0
	} else {
		t.consecutiveFailures++
	}
}

// RecordPlanOutcome tallies a finished plan for the health report.
func (p *Planner) RecordPlanOutcome(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalPlans++
	if success {
		p.successfulPlans++
	}
}

// Stats returns plan counters and per-action outcome totals aggregated
// across components, for the health report.
func (p *Planner) Stats() types.RecoveryStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := types.RecoveryStats{
		TotalPlans:      p.totalPlans,
		SuccessfulPlans: p.successfulPlans,
		Actions:         make(map[string]types.ActionStats),
	}
	if p.totalPlans > 0 {
		stats.SuccessRate = float64(p.successfulPlans) / float64(p.totalPlans)
	}
	for key, t := range p.tallies {
		as := stats.Actions[string(key.action)]
		as.Attempts += t.attempts
		as.Successes += t.successes
		if t.consecutiveFailures > as.ConsecutiveFailures {
			as.ConsecutiveFailures = t.consecutiveFailures
		}
		stats.Actions[string(key.action)] = as
	}
	return stats
}

// Outcomes returns the per-(component, action) tallies for persistence,
// sorted for deterministic output.
func (p *Planner) Outcomes() []ActionOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ActionOutcome, 0, len(p.tallies))
	for key, t := range p.tallies {
		out = append(out, ActionOutcome{
			Component:           key.component,
			Action:              key.action,
			Attempts:            t.attempts,
			Successes:           t.successes,
			ConsecutiveFailures: t.consecutiveFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Component != out[j].Component {
			return out[i].Component < out[j].Component
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// PlanCounters returns the total and successful plan counts.
func (p *Planner) PlanCounters() (total, successful int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalPlans, p.successfulPlans
}

// LoadOutcomes seeds the planner's counters from persisted state so the
// learned ordering survives restarts.
func (p *Planner) LoadOutcomes(outcomes []ActionOutcome, totalPlans, successfulPlans int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range outcomes {
		if !o.Action.IsValid() {
			return fmt.Errorf("unknown recovery action in persisted outcomes: %q", o.Action)
		}
		p.tallies[tallyKey{o.Component, o.Action}] = &actionTally{
			attempts:            o.Attempts,
			successes:           o.Successes,
			consecutiveFailures: o.ConsecutiveFailures,
		}
	}
	p.totalPlans = totalPlans
	p.successfulPlans = successfulPlans
	return nil
}
