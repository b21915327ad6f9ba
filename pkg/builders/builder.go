// Package builders provides a fluent interface for constructing state
// machine topologies, generalized from the teacher's
// pkg/builders/statemachine_builder.go to this module's pkg/core types.
package builders

import (
	"fmt"

	"github.com/nsforge/nsf/pkg/core"
)

// Builder assembles a StateMachine's state graph by name, so callers can
// wire transitions between states added earlier in the chain without
// holding onto every intermediate core.State value themselves.
type Builder struct {
	sm     *core.StateMachine
	states map[string]core.State
	errs   []error
}

// New creates a builder for a fresh machine named name, attached to
// thread (nil runs synchronously on the caller's goroutine).
func New(name string, thread *core.EventThread) *Builder {
	return &Builder{
		sm:     core.NewStateMachine(name, thread),
		states: make(map[string]core.State),
	}
}

func (b *Builder) fail(err error) { b.errs = append(b.errs, err) }

// State returns a previously added state by name, or nil.
func (b *Builder) State(name string) core.State { return b.states[name] }

// AddState adds a plain (leaf) state to the machine's default region.
func (b *Builder) AddState(name string) *Builder {
	s := core.NewBaseState(name)
	b.sm.DefaultRegion().AddSubstate(s)
	b.states[name] = s
	return b
}

// AddStateIn adds a plain state to a named region of a previously added
// composite state.
func (b *Builder) AddStateIn(compositeName, regionName, name string) *Builder {
	region, ok := b.regionOf(compositeName, regionName)
	if !ok {
		return b
	}
	s := core.NewBaseState(name)
	region.AddSubstate(s)
	b.states[name] = s
	return b
}

// AddCompositeState adds a composite state (with a single default region,
// unless AddRegion is used) to the machine's default region.
func (b *Builder) AddCompositeState(name string) *Builder {
	cs := core.NewCompositeState(name)
	b.sm.DefaultRegion().AddSubstate(cs)
	b.states[name] = cs
	return b
}

// AddRegion adds an explicit named orthogonal region to a previously
// added composite state, for when a diagram needs more than the implicit
// default one.
func (b *Builder) AddRegion(compositeName, regionName string) *Builder {
	cs, ok := b.states[compositeName].(*core.CompositeState)
	if !ok {
		b.fail(fmt.Errorf("builders: %q is not a composite state", compositeName))
		return b
	}
	cs.AddRegion(regionName)
	return b
}

func (b *Builder) regionOf(compositeName, regionName string) (*core.Region, bool) {
	cs, ok := b.states[compositeName].(*core.CompositeState)
	if !ok {
		b.fail(fmt.Errorf("builders: %q is not a composite state", compositeName))
		return nil, false
	}
	if regionName == "" {
		return cs.DefaultRegion(), true
	}
	for _, r := range cs.Regions() {
		if r.Name() == regionName {
			return r, true
		}
	}
	b.fail(fmt.Errorf("builders: %q has no region %q", compositeName, regionName))
	return nil, false
}

// AddChoiceState adds a choice pseudostate to the machine's default
// region.
func (b *Builder) AddChoiceState(name string) *Builder {
	cs := core.NewChoiceState(name)
	b.sm.DefaultRegion().AddSubstate(cs)
	b.states[name] = cs
	return b
}

// AddForkJoin adds a fork-join pseudostate owned directly by the named
// composite (or, if parentName is "", by the machine itself).
func (b *Builder) AddForkJoin(name, parentName string) *Builder {
	var parent core.State = b.sm
	if parentName != "" {
		p, ok := b.states[parentName]
		if !ok {
			b.fail(fmt.Errorf("builders: unknown parent state %q", parentName))
			return b
		}
		parent = p
	}
	b.states[name] = core.NewForkJoin(name, parent)
	return b
}

// AddHistoryState adds a history pseudostate to a named region of a
// previously added composite state.
func (b *Builder) AddHistoryState(compositeName, regionName, name string, kind core.HistoryKind) *Builder {
	region, ok := b.regionOf(compositeName, regionName)
	if !ok {
		return b
	}
	h := core.NewHistoryState(name, kind)
	region.AddSubstate(h)
	b.states[name] = h
	return b
}

// SetInitial designates name as its (default-region) initial substate,
// overriding the implicit "first state added" rule.
func (b *Builder) SetInitial(compositeOrMachine, name string) *Builder {
	target, ok := b.states[name]
	if !ok {
		b.fail(fmt.Errorf("builders: unknown state %q", name))
		return b
	}
	if compositeOrMachine == "" {
		b.sm.DefaultRegion().SetInitial(target)
		return b
	}
	cs, ok := b.states[compositeOrMachine].(*core.CompositeState)
	if !ok {
		b.fail(fmt.Errorf("builders: %q is not a composite state", compositeOrMachine))
		return b
	}
	cs.DefaultRegion().SetInitial(target)
	return b
}

// WithEntryAction adds an entry action to a previously added state.
func (b *Builder) WithEntryAction(name string, action core.Action) *Builder {
	if s, ok := b.states[name]; ok {
		s.EntryActions().Add(action)
	} else {
		b.fail(fmt.Errorf("builders: unknown state %q", name))
	}
	return b
}

// WithExitAction adds an exit action to a previously added state.
func (b *Builder) WithExitAction(name string, action core.Action) *Builder {
	if s, ok := b.states[name]; ok {
		s.ExitActions().Add(action)
	} else {
		b.fail(fmt.Errorf("builders: unknown state %q", name))
	}
	return b
}

// AddTransition adds an external transition between two previously added
// states, triggered by any of triggers (nil/empty ⇒ a completion
// transition), gated by every guard in guards.
func (b *Builder) AddTransition(name, fromName, toName string, triggers []string, guards ...core.GuardCondition) *Builder {
	from, to, ok := b.resolvePair(fromName, toName)
	if !ok {
		return b
	}
	core.NewExternalTransition(name, from, to, triggers, guards)
	return b
}

// AddInternalTransition adds an internal transition (actions only, no
// exit/re-entry) on a previously added state.
func (b *Builder) AddInternalTransition(name, onName string, triggers []string, guards ...core.GuardCondition) *Builder {
	s, ok := b.states[onName]
	if !ok {
		b.fail(fmt.Errorf("builders: unknown state %q", onName))
		return b
	}
	core.NewInternalTransition(name, s, triggers, guards)
	return b
}

// AddLocalTransition adds a local transition between two previously added
// states (or a self-loop, when fromName == toName).
func (b *Builder) AddLocalTransition(name, fromName, toName string, triggers []string, guards ...core.GuardCondition) *Builder {
	from, to, ok := b.resolvePair(fromName, toName)
	if !ok {
		return b
	}
	core.NewLocalTransition(name, from, to, triggers, guards)
	return b
}

// AddForkJoinTransition adds a transition into or out of a fork-join
// pseudostate.
func (b *Builder) AddForkJoinTransition(name, fromName, toName string, triggers []string, guards ...core.GuardCondition) *Builder {
	from, to, ok := b.resolvePair(fromName, toName)
	if !ok {
		return b
	}
	core.NewForkJoinTransition(name, from, to, triggers, guards)
	return b
}

// WithAction attaches an action to the first outgoing transition of
// fromName whose name is transitionName (transitions are addressable by the
// name given to AddTransition et al., not by index, so this looks it up on
// the source state).
func (b *Builder) WithAction(fromName, transitionName string, action core.Action) *Builder {
	from, ok := b.states[fromName]
	if !ok {
		b.fail(fmt.Errorf("builders: unknown state %q", fromName))
		return b
	}
	for _, t := range from.OutgoingTransitions() {
		if t.Name() == transitionName {
			t.Actions().Add(action)
			return b
		}
	}
	b.fail(fmt.Errorf("builders: unknown transition %q from %q", transitionName, fromName))
	return b
}

func (b *Builder) resolvePair(fromName, toName string) (core.State, core.State, bool) {
	from, ok := b.states[fromName]
	if !ok {
		b.fail(fmt.Errorf("builders: unknown state %q", fromName))
		return nil, nil, false
	}
	to, ok := b.states[toName]
	if !ok {
		b.fail(fmt.Errorf("builders: unknown state %q", toName))
		return nil, nil, false
	}
	return from, to, true
}

// WithObserver registers an observer on the machine being built.
func (b *Builder) WithObserver(o core.Observer) *Builder {
	b.sm.AddObserver(o)
	return b
}

// WithLoopLimit overrides the machine's consecutive-transition safety
// limit.
func (b *Builder) WithLoopLimit(n int) *Builder {
	b.sm.WithLoopLimit(n)
	return b
}

// Build validates the accumulated topology (every AddTransition/SetInitial
// etc. call that referenced an unknown name is surfaced here, rather than
// panicking mid-chain) and returns the finished machine.
func (b *Builder) Build() (*core.StateMachine, error) {
	if len(b.errs) > 0 {
		return nil, &BuildError{Errs: b.errs}
	}
	return b.sm, nil
}

// BuildError aggregates every error accumulated while building a topology,
// generalized from the teacher's pkg/utils.ErrorCollector pattern.
type BuildError struct {
	Errs []error
}

func (e *BuildError) Error() string {
	if len(e.Errs) == 1 {
		return e.Errs[0].Error()
	}
	msg := fmt.Sprintf("%d errors building state machine:", len(e.Errs))
	for _, err := range e.Errs {
		msg += "\n  " + err.Error()
	}
	return msg
}
