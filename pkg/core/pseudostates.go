package core

import (
	"errors"
	"sync"
)

// ErrChoiceNoElse is raised when a ChoiceState's guards all fail and no
// guardless "else" transition is present, per spec.md §4.5/§8.
var ErrChoiceNoElse = errors.New("choice state: no guard satisfied and no else transition")

// ErrChoiceMultipleElse is raised at first evaluation when a ChoiceState has
// more than one guardless outgoing transition, an ill-formed topology per
// spec.md §3's Pseudostates invariant ("at most one else").
var ErrChoiceMultipleElse = errors.New("choice state: more than one else transition")

// ChoiceState is a dynamic (guard-evaluated) branch pseudostate. Its
// outgoing transitions are ordinary core.Transition values constructed with
// NewInternalTransition/NewExternalTransition/etc. against it as the
// source; on entry it evaluates them in declared order and immediately
// fires the first whose guard passes, falling back to the unique guardless
// transition, matching spec.md §4.5's "Choice pseudostates."
type ChoiceState struct {
	*BaseState
}

// NewChoiceState creates a choice pseudostate. Build its outgoing
// transitions the same way as any other state's, e.g.
// core.NewExternalTransition("toLow", choice, low, nil, []core.GuardCondition{...}).
func NewChoiceState(name string) *ChoiceState {
	cs := &ChoiceState{BaseState: NewBaseState(name)}
	cs.Init(cs)
	return cs
}

// Enter activates the pseudostate (bookkeeping only — a choice is not part
// of the stable configuration for long) and evaluates its outgoing
// transitions.
func (cs *ChoiceState) Enter(ctx *Context, useHistory bool) error {
	if err := cs.BaseState.Enter(ctx, useHistory); err != nil {
		return err
	}
	return cs.evaluate(ctx)
}

func (cs *ChoiceState) evaluate(ctx *Context) error {
	outgoing := cs.OutgoingTransitions()

	var elseT *Transition
	for _, t := range outgoing {
		if len(t.guards) == 0 {
			if elseT != nil {
				return ErrChoiceMultipleElse
			}
			elseT = t
		}
	}

	for _, t := range outgoing {
		if len(t.guards) == 0 {
			continue
		}
		tctx := NewContext(ctx.Machine, ctx.Event)
		tctx.Transition = t
		if t.guardsPass(tctx) {
			return t.fire(tctx)
		}
	}

	if elseT == nil {
		return ErrChoiceNoElse
	}

	tctx := NewContext(ctx.Machine, ctx.Event)
	tctx.Transition = elseT
	return elseT.fire(tctx)
}

// HistoryKind distinguishes shallow from deep history pseudostates, per
// spec.md §3/§4.5.
type HistoryKind int

const (
	HistoryShallow HistoryKind = iota
	HistoryDeep
)

// HistoryState is a shallow- or deep-history pseudostate: when entered
// (as a region's initial substate or as a transition's target), it
// re-enters the parent region's recorded History() substate, propagating
// deep re-entry into nested regions, or, if no history has been recorded
// yet, enters its default (SetDefault), falling back to the region's
// initial substate when no default is set.
type HistoryState struct {
	*BaseState
	kind    HistoryKind
	def     State
	mutex   sync.Mutex
}

// NewHistoryState creates a history pseudostate of the given kind. Attach
// it to a region with Region.AddSubstate (it becomes that region's initial
// substate if added first, or use Region.SetInitial explicitly).
func NewHistoryState(name string, kind HistoryKind) *HistoryState {
	h := &HistoryState{BaseState: NewBaseState(name), kind: kind}
	h.Init(h)
	return h
}

// SetDefault sets the substate entered the first time this history
// pseudostate is reached, before any history has been recorded.
func (h *HistoryState) SetDefault(s State) *HistoryState {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.def = s
	return h
}

// Enter deliberately ignores the useHistory argument: reaching a history
// pseudostate always means "try history now," regardless of how the
// enclosing composite was itself entered.
func (h *HistoryState) Enter(ctx *Context, _ bool) error {
	region := h.ParentRegion()
	if region == nil {
		return nil
	}

	deep := h.kind == HistoryDeep
	if remembered := region.History(); remembered != nil {
		return remembered.Enter(ctx, deep)
	}

	h.mutex.Lock()
	def := h.def
	h.mutex.Unlock()
	if def == nil {
		// No explicit default: fall back to the region's initial substate,
		// unless this history pseudostate is itself the initial.
		if init := region.Initial(); init != nil && init != State(h) {
			def = init
		}
	}
	if def == nil {
		return nil
	}
	return def.Enter(ctx, deep)
}

// Exit is a no-op beyond the base bookkeeping: a history pseudostate is
// never itself part of a stable configuration.
func (h *HistoryState) Exit(ctx *Context) error {
	return h.BaseState.Exit(ctx)
}

// ForkJoin is a synchronization pseudostate: it waits for every incoming
// transition to fire at least once, then fires every outgoing transition
// (which must be triggerless) and clears its completed-set, per spec.md
// §3/§4.5 and original_source/Framework/NSFForkJoin.cpp.
type ForkJoin struct {
	*BaseState
	parent State

	mutex     sync.Mutex
	completed map[*Transition]bool
}

// NewForkJoin creates a fork-join owned directly by a composite state
// (not by one of its regions — a fork-join spans regions, it does not
// belong to one), matching NSFForkJoin(name, parentState).
func NewForkJoin(name string, parent State) *ForkJoin {
	fj := &ForkJoin{BaseState: NewBaseState(name), parent: parent, completed: make(map[*Transition]bool)}
	fj.Init(fj)
	return fj
}

// IsActiveIn reports whether this fork-join is the recorded active
// substate of region (used by clients inspecting configuration mid-sync).
func (fj *ForkJoin) IsActiveIn(region *Region) bool {
	return region.ActiveSubstate() == State(fj)
}

// Enter records the firing transition as completed, enters the parent
// composite if this is the first arrival, and marks the associated
// region's active substate as this fork-join. It does not itself decide
// whether to fire outgoing transitions — that happens in ProcessEvent,
// invoked by the RTC completion-transition sweep (spec.md §4.6) after the
// transition that entered it has been handled.
func (fj *ForkJoin) Enter(ctx *Context, useHistory bool) error {
	if fj.parent != nil && !fj.parent.IsActive() {
		if err := fj.parent.Enter(ctx, false); err != nil {
			return err
		}
	}

	fj.mutex.Lock()
	if ctx.Transition != nil {
		fj.completed[ctx.Transition] = true
	}
	fj.mutex.Unlock()

	if region := fj.regionFor(ctx.Transition); region != nil {
		region.SetActiveSubstate(fj)
		// A fork-join has no single owning region of its own; remember the
		// first one that reaches it purely so state-change bubbling
		// (ParentStateMachine lookup) has somewhere to start from.
		if fj.ParentRegion() == nil {
			fj.SetParentRegion(region)
		}
	}

	return fj.BaseState.Enter(ctx, useHistory)
}

// regionFor resolves the region whose active-substate bookkeeping a
// transition into (or out of) this fork-join affects: normally the
// transition source's own parent region, or, for a fork-join-to-fork-join
// transition, the explicitly associated ForkJoinRegion.
func (fj *ForkJoin) regionFor(t *Transition) *Region {
	if t == nil {
		return nil
	}
	if t.ForkJoinRegion != nil {
		return t.ForkJoinRegion
	}
	if t.Source() != nil {
		return t.Source().ParentRegion()
	}
	return nil
}

// Exit clears every associated region's active substate and the
// completed-transition set, guarded so a second exit on an
// already-inactive fork-join is a no-op (mirrors the original's `if
// (!active) return;`).
func (fj *ForkJoin) Exit(ctx *Context) error {
	if !fj.IsActive() {
		return nil
	}

	for _, t := range fj.IncomingTransitions() {
		if region := fj.regionFor(t); region != nil {
			region.clearActive()
		}
	}

	fj.mutex.Lock()
	fj.completed = make(map[*Transition]bool)
	fj.mutex.Unlock()

	return fj.BaseState.Exit(ctx)
}

// ProcessEvent checks whether every incoming transition has fired at least
// once since the last clear; if so it fires every outgoing transition
// (each must be triggerless per UML 2.x) and clears the completed set.
func (fj *ForkJoin) ProcessEvent(event *Event) (EventStatus, error) {
	fj.mutex.Lock()
	satisfied := true
	for _, t := range fj.IncomingTransitions() {
		if !fj.completed[t] {
			satisfied = false
			break
		}
	}
	fj.mutex.Unlock()

	if !satisfied {
		return EventUnhandled, nil
	}

	for _, t := range fj.OutgoingTransitions() {
		if _, err := t.ProcessEvent(event); err != nil {
			return EventUnhandled, err
		}
	}

	fj.mutex.Lock()
	fj.completed = make(map[*Transition]bool)
	fj.mutex.Unlock()

	return EventHandled, nil
}
