package core

import "sync"

// Region is an orthogonal region: an ordered set of mutually exclusive
// substates with one active substate at a time (or none, while the region
// itself is inactive). CompositeState and StateMachine each hold one or
// more Regions; a plain state graph with no explicit orthogonality still
// has exactly one region per composite, matching spec.md §4.2's "a region
// always exists, even when a diagram shows no explicit fork/join."
//
// Region lives in pkg/core rather than pkg/states (where the teacher keeps
// its composite-state machinery) because StateMachine must embed the
// composite-state/region bookkeeping directly (spec.md §3), and Go does
// not allow pkg/states to import pkg/core while pkg/core imports back.
type Region struct {
	name            string
	owner           State
	substates       []State
	initial         State
	explicitInitial bool
	active          State
	history         State
	mutex           sync.RWMutex
}

// NewRegion creates a region owned by owner (a CompositeState or
// StateMachine).
func NewRegion(name string, owner State) *Region {
	return &Region{name: name, owner: owner}
}

func (r *Region) Name() string { return r.name }
func (r *Region) Owner() State { return r.owner }

// AddSubstate registers s as a member of this region and sets its parent
// link. The first substate added becomes the provisional initial state;
// SetInitial overrides this explicitly, matching
// original_source/Framework/NSFCompositeState.cpp's "first state added is
// implicitly initial unless addInitialState was called."
func (r *Region) AddSubstate(s State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.substates = append(r.substates, s)
	s.SetParentRegion(r)
	if r.initial == nil {
		r.initial = s
	}
}

// SetInitial overrides the provisional first-added initial substate.
// Designating a second explicit initial is a topology fault: the first
// designation stands and the fault is routed to the exception sink.
func (r *Region) SetInitial(s State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.explicitInitial {
		globalExceptionSink(NewFault("region "+r.name, errMultipleInitial))
		return
	}
	r.explicitInitial = true
	r.initial = s
}

var errMultipleInitial = &staticError{"more than one initial state designated for region"}

func (r *Region) Substates() []State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]State(nil), r.substates...)
}

func (r *Region) ActiveSubstate() State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.active
}

// SetActiveSubstate records s as the currently active substate. When s is
// nil (the substate just exited) and the region had an active substate
// that was not its own initial state, that substate is recorded as history
// so a later HistoryState (shallow or deep) re-entry can restore it,
// per spec.md §4.3.
func (r *Region) SetActiveSubstate(s State) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if s == nil && r.active != nil && r.active != r.initial && !isPseudostate(r.active) {
		r.history = r.active
	}
	r.active = s
}

// isPseudostate reports whether s is a transient node (choice, history,
// fork-join) that is never part of a stable configuration and so must not
// be recorded as region history.
func isPseudostate(s State) bool {
	switch s.(type) {
	case *ChoiceState, *HistoryState, *ForkJoin:
		return true
	}
	return false
}

// clearActive resets the active substate without recording history, used
// when a fork-join pseudostate vacates the region: pseudostates are never
// part of a stable configuration and must not become history.
func (r *Region) clearActive() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.active = nil
}

func (r *Region) IsActive() bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.active != nil
}

// History returns the last recorded active substate for this region, or
// nil if none has been recorded yet.
func (r *Region) History() State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.history
}

func (r *Region) Initial() State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.initial
}

// Enter activates the region by entering its initial substate, or its
// recorded history substate when useHistory is set and history exists.
// useHistory is forwarded unchanged into the entered substate, so a
// deep-history re-entry restores recorded history in every nested region
// all the way down; shallow history never sets the flag, so nested regions
// re-enter their plain initial substates.
func (r *Region) Enter(ctx *Context, useHistory bool) error {
	r.mutex.RLock()
	target := r.initial
	if useHistory && r.history != nil {
		target = r.history
	}
	r.mutex.RUnlock()

	if target == nil {
		return nil
	}
	return target.Enter(ctx, useHistory)
}

// Exit exits the currently active substate, if any.
func (r *Region) Exit(ctx *Context) error {
	r.mutex.RLock()
	active := r.active
	r.mutex.RUnlock()
	if active == nil {
		return nil
	}
	return active.Exit(ctx)
}

// ProcessEvent delegates to the active substate.
func (r *Region) ProcessEvent(event *Event) (EventStatus, error) {
	r.mutex.RLock()
	active := r.active
	r.mutex.RUnlock()
	if active == nil {
		return EventUnhandled, nil
	}
	return active.ProcessEvent(event)
}

// Contains reports whether s is this region's owner or lies (transitively)
// inside it, in this region or in any sibling region of the same owner.
func (r *Region) Contains(s State) bool {
	for p := s; p != nil; p = ParentState(p) {
		if p == r.owner {
			return true
		}
	}
	return false
}
