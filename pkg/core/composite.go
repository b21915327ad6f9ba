package core

import "sync"

// CompositeState is a state that contains one or more Regions. With a
// single region it behaves like a plain UML composite/submachine state;
// with more than one it models orthogonal (AND) regions entered and
// exited together, per spec.md §4.2.
//
// StateMachine embeds CompositeState directly (rather than delegating to a
// separate pkg/states type, as the teacher does) so that the top-level
// machine is itself addressable as a State wherever the spec requires
// nesting one machine inside another (spec.md §4.7).
type CompositeState struct {
	*BaseState
	regions []*Region
	mutex   sync.Mutex
}

// NewCompositeState creates a composite state with no regions yet; regions
// are added lazily via DefaultRegion() / AddRegion.
func NewCompositeState(name string) *CompositeState {
	cs := &CompositeState{BaseState: NewBaseState(name)}
	cs.Init(cs)
	return cs
}

// Regions returns the ordered list of this composite's regions; it is empty
// until DefaultRegion or AddRegion has created one.
func (cs *CompositeState) Regions() []*Region {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	return append([]*Region(nil), cs.regions...)
}

// AddRegion appends an explicit orthogonal region, used when a diagram has
// more than one.
func (cs *CompositeState) AddRegion(name string) *Region {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	r := NewRegion(name, cs.Self())
	cs.regions = append(cs.regions, r)
	return r
}

// DefaultRegion is a convenience for the common single-region case: it
// returns the first region, creating a single default region on first use
// if the composite has none yet.
func (cs *CompositeState) DefaultRegion() *Region {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	if len(cs.regions) == 0 {
		cs.regions = append(cs.regions, NewRegion(cs.Name()+".region0", cs.Self()))
	}
	return cs.regions[0]
}

// IsInState reports whether the active configuration under (and including)
// this composite contains a state named name.
func (cs *CompositeState) IsInState(name string) bool {
	if !cs.IsActive() {
		return false
	}
	if cs.Name() == name {
		return true
	}
	for _, r := range cs.Regions() {
		if a := r.ActiveSubstate(); a != nil && a.IsInState(name) {
			return true
		}
	}
	return false
}

// EnterSelf activates the composite itself (flag, entry actions, parent
// bookkeeping) without entering its regions; used by Transition's
// enterDownTo to enter one region along a path while the composite's other
// orthogonal regions still default-enter.
func (cs *CompositeState) EnterSelf(ctx *Context) error {
	return cs.BaseState.Enter(ctx, false)
}

// Enter activates the composite and then enters every region not already
// active, each to its initial substate or, when useHistory is set, its
// recorded history. Already-active regions are skipped so that entering a
// deep target first (which sets its own region's active substate before
// ascending, see BaseState.Enter) does not get displaced by this sweep.
func (cs *CompositeState) Enter(ctx *Context, useHistory bool) error {
	if err := cs.BaseState.Enter(ctx, useHistory); err != nil {
		return err
	}
	for _, r := range cs.Regions() {
		if r.IsActive() {
			continue
		}
		if err := r.Enter(ctx, useHistory); err != nil {
			return err
		}
	}
	return nil
}

// Exit exits every region (in reverse order, mirroring entry order) and
// then the composite itself.
func (cs *CompositeState) Exit(ctx *Context) error {
	regions := cs.Regions()
	for i := len(regions) - 1; i >= 0; i-- {
		if err := regions[i].Exit(ctx); err != nil {
			return err
		}
	}
	return cs.BaseState.Exit(ctx)
}

// ProcessEvent offers the event to every region (an orthogonal region's
// local transitions do not preempt a sibling region's chance to handle the
// same event, per spec.md §4.5), then falls back to the composite's own
// outgoing transitions. The composite is considered to have handled the
// event if any region, or the composite itself, handled it.
func (cs *CompositeState) ProcessEvent(event *Event) (EventStatus, error) {
	handled := EventUnhandled
	for _, r := range cs.Regions() {
		status, err := r.ProcessEvent(event)
		if err != nil {
			return EventUnhandled, err
		}
		if status == EventHandled {
			handled = EventHandled
		}
	}

	status, err := cs.BaseState.ProcessEvent(event)
	if err != nil {
		return EventUnhandled, err
	}
	if status == EventHandled {
		handled = EventHandled
	}
	return handled, nil
}
