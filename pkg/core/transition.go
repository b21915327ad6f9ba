package core

import "sync"

// Kind distinguishes the three (four, counting fork/join) transition
// semantics defined in spec.md §4.3/§4.5. Outgoing transitions are always
// evaluated in KindInternal, KindLocal, KindExternal order — enforced by
// BaseState.AddOutgoingTransition, not here.
type Kind int

const (
	KindInternal Kind = iota
	KindLocal
	KindExternal
	KindForkJoin
)

// Transition connects a source state to a target state (the same state,
// for an internal or self-targeted local transition). It fires when one of
// its triggers' IDs equals an incoming event's ID (or, if it has no
// triggers, as a completion transition offered after a handled event within
// the same RTC step — see StateMachine.runToCompletion) and every guard
// returns true.
// triggers are recorded by name for introspection; matching is done against
// triggerIDs, each name's canonical ID (see canonicalEventID), per
// spec.md §3/§4.2 and original_source/Framework/NSFTransition.cpp's
// getId() == getId() check.
type Transition struct {
	name       string
	kind       Kind
	source     State
	target     State
	triggers   []string
	triggerIDs []string
	guards     []GuardCondition
	actions    ActionList
	mutex      sync.Mutex

	// ForkJoinRegion names the region whose active-substate bookkeeping
	// this transition affects when its source (or target) is itself a
	// fork-join rather than an ordinary state — a fork-join-to-fork-join
	// transition, per original_source/Framework/NSFForkJoinTransition.h.
	// Unused by ordinary transitions.
	ForkJoinRegion *Region
}

func newTransition(name string, kind Kind, source, target State, triggers []string, guards []GuardCondition) *Transition {
	var triggerIDs []string
	for _, trig := range triggers {
		triggerIDs = append(triggerIDs, canonicalEventID(trig))
	}
	t := &Transition{name: name, kind: kind, source: source, target: target, triggers: triggers, triggerIDs: triggerIDs, guards: guards}
	t.actions.SetExceptionAction(func(ctx *Context, err error) {
		sm := TopStateMachine(source)
		if sm != nil {
			sm.HandleException(NewFault("transition "+name+" action", err))
		}
	})
	source.AddOutgoingTransition(t)
	if target != nil && target != source {
		target.AddIncomingTransition(t)
	}
	return t
}

// NewInternalTransition creates a transition that fires its actions without
// exiting or re-entering source, per spec.md §4.3.
func NewInternalTransition(name string, source State, triggers []string, guards []GuardCondition) *Transition {
	return newTransition(name, KindInternal, source, source, triggers, guards)
}

// NewLocalTransition creates a transition within the same composite state:
// it exits source's regions and then enters target (a substate of source)
// or, for a self-loop, re-enters source's regions. Source itself is never
// exited or re-entered.
func NewLocalTransition(name string, source, target State, triggers []string, guards []GuardCondition) *Transition {
	return newTransition(name, KindLocal, source, target, triggers, guards)
}

// NewExternalTransition creates a transition that exits up to the lowest
// common ancestor of source and target and re-enters down to target.
func NewExternalTransition(name string, source, target State, triggers []string, guards []GuardCondition) *Transition {
	return newTransition(name, KindExternal, source, target, triggers, guards)
}

// NewForkJoinTransition creates a transition participating in a fork or
// join pseudostate's synchronization; ordering-wise it is placed like an
// external transition (after internal and local ones, in insertion order).
func NewForkJoinTransition(name string, source, target State, triggers []string, guards []GuardCondition) *Transition {
	return newTransition(name, KindForkJoin, source, target, triggers, guards)
}

// NewForkJoinToForkJoinTransition creates a fork-join transition whose
// source or target is itself a ForkJoin rather than an ordinary state.
// region identifies which region's active-substate bookkeeping the
// transition affects, since a fork-join has no single enclosing region of
// its own.
func NewForkJoinToForkJoinTransition(name string, source, target State, region *Region, triggers []string, guards []GuardCondition) *Transition {
	t := newTransition(name, KindForkJoin, source, target, triggers, guards)
	t.ForkJoinRegion = region
	return t
}

func (t *Transition) Name() string         { return t.name }
func (t *Transition) Kind() Kind           { return t.kind }
func (t *Transition) Source() State        { return t.source }
func (t *Transition) Target() State        { return t.target }
func (t *Transition) Actions() *ActionList { return &t.actions }

// Triggers returns the trigger event names this transition fires on.
func (t *Transition) Triggers() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.triggers...)
}

// AddTrigger registers an additional trigger by event name. Triggers and
// guards are mutable only before the machine starts.
func (t *Transition) AddTrigger(eventName string) *Transition {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.triggers = append(t.triggers, eventName)
	t.triggerIDs = append(t.triggerIDs, canonicalEventID(eventName))
	return t
}

// AddGuard appends a condition to the guard conjunction.
func (t *Transition) AddGuard(g GuardCondition) *Transition {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.guards = append(t.guards, g)
	return t
}

func (t *Transition) matchesTrigger(event *Event) bool {
	if len(t.triggerIDs) == 0 {
		return event == nil
	}
	if event == nil {
		return false
	}
	for _, id := range t.triggerIDs {
		if id == event.ID() {
			return true
		}
	}
	return false
}

// guardsPass evaluates the guard conjunction. A panicking guard is caught
// here at the transition, routed to the enclosing machine's exception sink,
// and treated as guard-false (the transition is not taken) so the rest of
// the RTC step continues undisturbed.
func (t *Transition) guardsPass(ctx *Context) bool {
	for _, g := range t.guards {
		if g == nil {
			continue
		}
		ok, err := safeGuard(ctx, g)
		if err != nil {
			if sm := TopStateMachine(t.source); sm != nil {
				sm.HandleException(NewFault("transition "+t.name+" guard", err))
			}
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

func safeGuard(ctx *Context, g GuardCondition) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{r}
		}
	}()
	return g(ctx), nil
}

// ProcessEvent checks trigger and guard, and if both pass, fires the
// transition and reports it as handled.
func (t *Transition) ProcessEvent(event *Event) (EventStatus, error) {
	if !t.matchesTrigger(event) {
		return EventUnhandled, nil
	}

	sm := TopStateMachine(t.source)
	var machine *StateMachine
	if sm != nil {
		machine = sm
	}
	ctx := NewContext(machine, event)
	ctx.Transition = t

	if !t.guardsPass(ctx) {
		return EventUnhandled, nil
	}

	if err := t.fire(ctx); err != nil {
		return EventUnhandled, err
	}
	return EventHandled, nil
}

// fire executes the transition per its kind, following
// original_source/Framework/NSFTransition.cpp's three exit/enter
// strategies.
func (t *Transition) fire(ctx *Context) error {
	if err := t.doFire(ctx); err != nil {
		return err
	}
	if sm := TopStateMachine(t.source); sm != nil {
		sm.notifyTransitionFired(t)
	}
	return nil
}

func (t *Transition) doFire(ctx *Context) error {
	switch t.kind {
	case KindInternal:
		t.actions.Execute(ctx)
		return nil

	case KindLocal:
		// A local transition never exits its source: only the source's
		// regions (and so, recursively, the active substates) exit. The
		// source's own exit/entry actions do not run.
		if t.target != nil && t.target != t.source && !isDescendantOf(t.target, t.source) {
			return NewFault("local transition "+t.name, errLocalTargetNotSubstate)
		}
		if err := exitRegionsOf(t.source, ctx); err != nil {
			return err
		}
		t.actions.Execute(ctx)
		if t.target != nil && t.target != t.source {
			return t.target.Enter(ctx, ctx.UseHistory)
		}
		return enterRegionsOf(t.source, ctx, ctx.UseHistory)

	case KindForkJoin:
		// A fork-join transition exits only its source: the sibling
		// regions' states stay active while the join accumulates, and the
		// fork-join's own Exit handles region bookkeeping when the
		// synchronized outgoing transitions finally fire.
		if err := t.source.Exit(ctx); err != nil {
			return err
		}
		t.actions.Execute(ctx)
		return t.target.Enter(ctx, false)

	default: // KindExternal
		lca := lowestCommonAncestorRegion(t.source, t.target)
		if err := exitUpTo(t.source, lca, ctx); err != nil {
			return err
		}
		t.actions.Execute(ctx)
		return enterDownTo(t.target, lca, ctx)
	}
}

var errLocalTargetNotSubstate = &staticError{"local transition target is not a substate of its source"}

// isDescendantOf reports whether s lies (transitively) inside ancestor's
// region tree.
func isDescendantOf(s, ancestor State) bool {
	for p := ParentState(s); p != nil; p = ParentState(p) {
		if p == ancestor {
			return true
		}
	}
	return false
}

// exitRegionsOf exits every region owned by s (used for a local
// transition, which replaces s's substructure without exiting s itself).
func exitRegionsOf(s State, ctx *Context) error {
	cs, ok := s.(interface{ Regions() []*Region })
	if !ok {
		return nil
	}
	for _, r := range cs.Regions() {
		if err := r.Exit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func enterRegionsOf(s State, ctx *Context, useHistory bool) error {
	cs, ok := s.(interface{ Regions() []*Region })
	if !ok {
		return nil
	}
	for _, r := range cs.Regions() {
		if err := r.Enter(ctx, useHistory); err != nil {
			return err
		}
	}
	return nil
}

// lowestCommonAncestorRegion returns the innermost Region that contains
// both source and target, or nil if none is found (they belong to
// different machines entirely).
func lowestCommonAncestorRegion(source, target State) *Region {
	ancestors := map[*Region]bool{}
	for r := source.ParentRegion(); r != nil; r = parentRegionOf(r) {
		ancestors[r] = true
	}
	for r := target.ParentRegion(); r != nil; r = parentRegionOf(r) {
		if ancestors[r] {
			return r
		}
	}
	return nil
}

func parentRegionOf(r *Region) *Region {
	if r.Owner() == nil {
		return nil
	}
	return r.Owner().ParentRegion()
}

// exitUpTo exits s and every ancestor composite up to, but not including,
// the state owning lca.
func exitUpTo(s State, lca *Region, ctx *Context) error {
	if err := s.Exit(ctx); err != nil {
		return err
	}
	for r := s.ParentRegion(); r != nil && r != lca; r = parentRegionOf(r) {
		owner := r.Owner()
		if owner == nil {
			break
		}
		if err := owner.Exit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// selfEnterer lets a composite state activate itself (flag, entry actions,
// parent-region bookkeeping) without cascading into its regions, so
// enterDownTo can enter one specific region along the path while letting
// the composite's other, orthogonal regions default-enter normally.
type selfEnterer interface {
	EnterSelf(ctx *Context) error
}

// enterDownTo enters every ancestor composite from just inside lca down to
// target (activating each ancestor's other orthogonal regions to their
// default initial substate along the way), then enters target itself.
func enterDownTo(target State, lca *Region, ctx *Context) error {
	path := []State{target}
	for p := ParentState(target); p != nil && (lca == nil || p != lca.Owner()); p = ParentState(p) {
		path = append(path, p)
	}

	for i := len(path) - 1; i >= 1; i-- {
		composite := path[i]
		nextInward := path[i-1]

		se, ok := composite.(selfEnterer)
		if !ok {
			if err := composite.Enter(ctx, false); err != nil {
				return err
			}
			continue
		}
		if err := se.EnterSelf(ctx); err != nil {
			return err
		}
		if cs, ok := composite.(interface{ Regions() []*Region }); ok {
			for _, r := range cs.Regions() {
				if r == nextInward.ParentRegion() {
					continue
				}
				if err := r.Enter(ctx, false); err != nil {
					return err
				}
			}
		}
	}

	return target.Enter(ctx, false)
}
