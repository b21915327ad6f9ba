package core

import "sync"

// EventStatus is the result of offering an event to a state or transition.
type EventStatus int

const (
	EventUnhandled EventStatus = iota
	EventHandled
)

// State is the common behavior of every node in the state graph: leaves,
// composite states, regions' pseudostates, and the StateMachine itself
// (which is a composite state that is also an event handler, per
// spec.md §3). Kept as an interface, not a tagged variant, per the
// redesign-flag rationale recorded in SPEC_FULL.md/DESIGN.md: the teacher's
// entire codebase is built on interface polymorphism over state kinds.
type State interface {
	NamedObject
	IsActive() bool
	IsInState(name string) bool
	ParentRegion() *Region
	SetParentRegion(r *Region)
	Enter(ctx *Context, useHistory bool) error
	Exit(ctx *Context) error
	ProcessEvent(event *Event) (EventStatus, error)
	AddOutgoingTransition(t *Transition)
	AddIncomingTransition(t *Transition)
	OutgoingTransitions() []*Transition
	IncomingTransitions() []*Transition
	EntryActions() *ActionList
	ExitActions() *ActionList
}

// ParentState returns the composite state (or StateMachine) that owns s's
// parent region, or nil if s has no parent region (the top-level machine).
func ParentState(s State) State {
	r := s.ParentRegion()
	if r == nil {
		return nil
	}
	return r.Owner()
}

// ParentStateMachine walks up from s looking for the nearest enclosing
// StateMachine (which may itself be nested inside another machine).
func ParentStateMachine(s State) *StateMachine {
	p := ParentState(s)
	for p != nil {
		if sm, ok := p.(*StateMachine); ok {
			return sm
		}
		p = ParentState(p)
	}
	return nil
}

// TopStateMachine walks all the way to the outermost enclosing StateMachine.
func TopStateMachine(s State) *StateMachine {
	sm := ParentStateMachine(s)
	if sm == nil {
		if m, ok := s.(*StateMachine); ok {
			return m
		}
		return nil
	}
	for {
		next := ParentStateMachine(sm)
		if next == nil {
			return sm
		}
		sm = next
	}
}

// BaseState implements State's bookkeeping (active flag, parent link,
// ordered transition lists, entry/exit action lists) shared by every state
// kind, matching the teacher's pkg/states/base_states.go BaseState.
//
// Go embedding has no virtual dispatch, so BaseState keeps a `self` pointer
// back to the concrete State that embeds it (set once via Init), the same
// way the teacher's states re-derive their outer type by storing it
// explicitly where identity matters (e.g. composite_state.go's
// currentChild/initialChild fields hold core.State, not *BaseState).
type BaseState struct {
	self         State
	name         string
	parentRegion *Region
	active       bool
	entryActions ActionList
	exitActions  ActionList
	outgoing     []*Transition
	incoming     []*Transition
	mutex        sync.RWMutex
}

// NewBaseState creates a base state usable directly as a plain leaf state
// (self-initialized to itself). Concrete state constructors embedding
// BaseState must call Init(self) afterward to repoint self at their outer
// value, e.g.:
//
//	s := &SimpleState{BaseState: NewBaseState(name)}
//	s.Init(s)
func NewBaseState(name string) *BaseState {
	b := &BaseState{name: name}
	b.entryActions.SetExceptionAction(func(ctx *Context, err error) {
		routeActionException(b.self, "entry", err)
	})
	b.exitActions.SetExceptionAction(func(ctx *Context, err error) {
		routeActionException(b.self, "exit", err)
	})
	b.self = b
	return b
}

// Init records the concrete state value that embeds this BaseState. It must
// be called exactly once, by the concrete constructor.
func (b *BaseState) Init(self State) { b.self = self }

// Self returns the outer concrete State this BaseState was initialized
// with — e.g. the *StateMachine a CompositeState is embedded in, rather
// than the embedded *CompositeState value Go's method promotion would
// otherwise expose. CompositeState.DefaultRegion and AddRegion use this so a region's Owner()
// resolves to the true enclosing state, keeping ParentStateMachine's walk
// up the tree correct regardless of how deep the embedding goes.
func (b *BaseState) Self() State { return b.self }

func routeActionException(s State, phase string, err error) {
	if s == nil {
		return
	}
	sm := TopStateMachine(s)
	if sm == nil {
		return
	}
	sm.HandleException(NewFault(s.Name()+" "+phase+" action", err))
}

func (b *BaseState) Name() string { return b.name }

func (b *BaseState) IsActive() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.active
}

func (b *BaseState) ParentRegion() *Region {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.parentRegion
}

func (b *BaseState) SetParentRegion(r *Region) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.parentRegion = r
}

func (b *BaseState) EntryActions() *ActionList { return &b.entryActions }
func (b *BaseState) ExitActions() *ActionList  { return &b.exitActions }

// IsInState reports whether this state is active and named name. Composite
// states override this to recurse into their active substates, so asking a
// machine IsInState("leaf") answers for the whole active configuration.
func (b *BaseState) IsInState(name string) bool {
	return b.IsActive() && b.name == name
}

// Enter marks the state active, records it as its region's active substate,
// enters the enclosing composite if it was not already active (so a direct
// entry into a deep target, e.g. through a history pseudostate, activates
// the whole ancestor chain outer-to-inner first), and runs entry actions,
// finally bubbling state-change notification to the nearest enclosing
// machine — mirrors spec.md §4.5 "Entry/exit actions."
func (b *BaseState) Enter(ctx *Context, useHistory bool) error {
	b.mutex.Lock()
	b.active = true
	self := b.self
	parentRegion := b.parentRegion
	b.mutex.Unlock()

	if parentRegion != nil {
		// Record this substate before ascending: the owner's region sweep
		// skips regions that already have an active substate, so the
		// ancestor entry cannot displace this one.
		parentRegion.SetActiveSubstate(self)
		if owner := parentRegion.Owner(); owner != nil && !owner.IsActive() {
			if err := owner.Enter(ctx, false); err != nil {
				return err
			}
		}
	}

	ctx.EnteringState = self
	ctx.ExitingState = nil

	b.entryActions.Execute(ctx)

	if sm := ParentStateMachine(self); sm != nil {
		sm.executeStateChangeActions(ctx)
	}

	return nil
}

// Exit runs exit actions, clears the active flag, resets the parent
// region's active substate to nil (recording history as appropriate), and
// bubbles state-change notification to the nearest enclosing machine.
func (b *BaseState) Exit(ctx *Context) error {
	b.mutex.Lock()
	b.active = false
	self := b.self
	parentRegion := b.parentRegion
	b.mutex.Unlock()

	ctx.ExitingState = self
	ctx.EnteringState = nil

	b.exitActions.Execute(ctx)

	if parentRegion != nil {
		parentRegion.SetActiveSubstate(nil)
	}

	if sm := ParentStateMachine(self); sm != nil {
		sm.executeStateChangeActions(ctx)
	}

	return nil
}

// ProcessEvent walks this state's outgoing transitions in the canonical
// internal-then-local-then-external order enforced at construction time.
func (b *BaseState) ProcessEvent(event *Event) (EventStatus, error) {
	b.mutex.RLock()
	outgoing := append([]*Transition(nil), b.outgoing...)
	b.mutex.RUnlock()

	for _, t := range outgoing {
		status, err := t.ProcessEvent(event)
		if err != nil {
			return EventUnhandled, err
		}
		if status == EventHandled {
			return EventHandled, nil
		}
	}
	return EventUnhandled, nil
}

// AddOutgoingTransition inserts t preserving the canonical ordering:
// internal transitions first, then local, then external — mirroring the
// three addOutgoingTransition overloads in
// original_source/Framework/NSFState.cpp.
func (b *BaseState) AddOutgoingTransition(t *Transition) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	switch t.Kind() {
	case KindInternal:
		idx := 0
		for idx < len(b.outgoing) && b.outgoing[idx].Kind() == KindInternal {
			idx++
		}
		b.insertAt(idx, t)
	case KindLocal:
		idx := len(b.outgoing)
		for i, existing := range b.outgoing {
			if existing.Kind() == KindExternal || existing.Kind() == KindForkJoin {
				idx = i
				break
			}
		}
		b.insertAt(idx, t)
	default: // external, fork-join
		b.outgoing = append(b.outgoing, t)
	}
}

func (b *BaseState) insertAt(idx int, t *Transition) {
	b.outgoing = append(b.outgoing, nil)
	copy(b.outgoing[idx+1:], b.outgoing[idx:])
	b.outgoing[idx] = t
}

func (b *BaseState) AddIncomingTransition(t *Transition) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.incoming = append(b.incoming, t)
}

func (b *BaseState) OutgoingTransitions() []*Transition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return append([]*Transition(nil), b.outgoing...)
}

func (b *BaseState) IncomingTransitions() []*Transition {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return append([]*Transition(nil), b.incoming...)
}
