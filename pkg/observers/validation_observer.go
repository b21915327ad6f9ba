package observers

import (
	"fmt"
	"sync"

	"github.com/nsforge/nsf/pkg/core"
)

// ValidationObserver flags transitions that were never registered as
// allowed and tracks which expected states were actually visited,
// generalized from the teacher's pkg/observers/validation_observer.go.
type ValidationObserver struct {
	mutex              sync.RWMutex
	expectedStates     map[string]bool
	visitedStates      map[string]bool
	allowedTransitions map[string]map[string]bool
	violations         []string
}

func NewValidationObserver() *ValidationObserver {
	return &ValidationObserver{
		expectedStates:     make(map[string]bool),
		visitedStates:      make(map[string]bool),
		allowedTransitions: make(map[string]map[string]bool),
	}
}

func (o *ValidationObserver) AddExpectedState(name string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.expectedStates[name] = true
}

func (o *ValidationObserver) AddAllowedTransition(from, to string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.allowedTransitions[from] == nil {
		o.allowedTransitions[from] = make(map[string]bool)
	}
	o.allowedTransitions[from][to] = true
}

func (o *ValidationObserver) OnStateEnter(sm *core.StateMachine, state core.State) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.visitedStates[state.Name()] = true
}

func (o *ValidationObserver) OnStateExit(sm *core.StateMachine, state core.State) {}

func (o *ValidationObserver) OnTransition(sm *core.StateMachine, t *core.Transition) {
	if t.Source() == nil || t.Target() == nil {
		return
	}
	from, to := t.Source().Name(), t.Target().Name()

	o.mutex.Lock()
	defer o.mutex.Unlock()
	if allowed, exists := o.allowedTransitions[from]; exists && !allowed[to] {
		o.violations = append(o.violations, fmt.Sprintf("invalid transition from %q to %q (%s)", from, to, t.Name()))
	}
}

func (o *ValidationObserver) OnEventProcessed(sm *core.StateMachine, event *core.Event) {}

func (o *ValidationObserver) OnError(sm *core.StateMachine, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.violations = append(o.violations, fmt.Sprintf("error occurred: %v", err))
}

func (o *ValidationObserver) Violations() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return append([]string(nil), o.violations...)
}

func (o *ValidationObserver) UnvisitedStates() []string {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	var unvisited []string
	for name := range o.expectedStates {
		if !o.visitedStates[name] {
			unvisited = append(unvisited, name)
		}
	}
	return unvisited
}

func (o *ValidationObserver) HasViolations() bool {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return len(o.violations) > 0
}

func (o *ValidationObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.visitedStates = make(map[string]bool)
	o.violations = nil
}
