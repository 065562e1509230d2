// Package registry manages the set of monitored components.
//
// The registry is one of the two shared-mutable structures in the
// subsystem (the issue tracker is the other). All mutation goes through
// its narrow API under a read/write lock; nothing outside this package
// mutates a registered component.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stableagents/sentinel/internal/types"
)

// ErrDuplicateComponent is returned when registering a name that is
// already registered. This is fatal to the caller of Register, never to
// the subsystem.
var ErrDuplicateComponent = errors.New("component already registered")

// ErrComponentNotFound is returned by Get for unknown component names.
var ErrComponentNotFound = errors.New("component not registered")

// checkState tracks the most recent check outcome for reporting.
type checkState struct {
	lastCheck time.Time
	healthy   bool
}

// Registry stores registered components, their health-check callbacks,
// and per-metric thresholds.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*types.Component
	state      map[string]*checkState

	// onUnregister is invoked after a component is removed so the owner
	// can cancel any in-flight recovery for it.
	onUnregister func(name string)
}

// New creates an empty component registry.
func New() *Registry {
	return &Registry{
		components: make(map[string]*types.Component),
		state:      make(map[string]*checkState),
	}
}

// SetUnregisterHook installs a callback invoked whenever a component is
// unregistered. Used by the controller to cancel in-flight recovery.
func (r *Registry) SetUnregisterHook(hook func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnregister = hook
}

// Register adds a component to the registry. Threshold metric names are
// not validated against the check here; a threshold that never matches a
// produced metric is warned about at runtime on first mismatch.
func (r *Registry) Register(name string, check types.CheckFunc, thresholds []types.Threshold) error {
	if name == "" {
		return fmt.Errorf("component name is required")
	}
	if check == nil {
		return fmt.Errorf("component %q has no check function", name)
	}
	for _, th := range thresholds {
		if err := th.Validate(); err != nil {
			return fmt.Errorf("component %q: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[name]; exists {
		return fmt.Errorf("component %q: %w", name, ErrDuplicateComponent)
	}

	r.components[name] = &types.Component{
		Name:       name,
		Check:      check,
		Thresholds: append([]types.Threshold(nil), thresholds...),
	}
	r.state[name] = &checkState{healthy: true}
	return nil
}

// Unregister removes a component and signals the owner to cancel any
// in-flight recovery for it. Unregistering an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.components[name]
	delete(r.components, name)
	delete(r.state, name)
	hook := r.onUnregister
	r.mu.Unlock()

	if existed && hook != nil {
		hook(name)
	}
}

// Get returns the component registered under name.
func (r *Registry) Get(name string) (*types.Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comp, exists := r.components[name]
	if !exists {
		return nil, fmt.Errorf("component %q: %w", name, ErrComponentNotFound)
	}
	return comp, nil
}

// List returns a snapshot of all registered components in name order.
func (r *Registry) List() []*types.Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comps := make([]*types.Component, 0, len(r.components))
	for _, comp := range r.components {
		comps = append(comps, comp)
	}
	sort.Slice(comps, func(i, j int) bool { return comps[i].Name < comps[j].Name })
	return comps
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// ThresholdsFor returns every threshold registered for the given
// (component, metric) pair. Multiple thresholds may match one metric;
// callers apply the most severe violated one.
func (r *Registry) ThresholdsFor(component, metric string) []types.Threshold {
	r.mu.RLock()
	defer r.mu.RUnlock()

	comp, exists := r.components[component]
	if !exists {
		return nil
	}
	var matched []types.Threshold
	for _, th := range comp.Thresholds {
		if th.MetricName == metric {
			matched = append(matched, th)
		}
	}
	return matched
}

// RecordCheck updates the component's reporting state after a check.
func (r *Registry) RecordCheck(name string, at time.Time, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, exists := r.state[name]; exists {
		st.lastCheck = at
		st.healthy = healthy
	}
}

// Info returns per-component reporting summaries in name order.
func (r *Registry) Info() []types.ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]types.ComponentInfo, 0, len(r.components))
	for name := range r.components {
		st := r.state[name]
		infos = append(infos, types.ComponentInfo{
			Name:      name,
			Healthy:   st.healthy,
			LastCheck: st.lastCheck,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
