package core_test

import (
	"testing"

	"github.com/nsforge/nsf/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_InternalDoesNotExitOrReenter(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	sm.DefaultRegion().AddSubstate(s)

	var entries, actionCalls int
	s.EntryActions().Add(func(ctx *core.Context) error { entries++; return nil })
	core.NewInternalTransition("self-loop", s, []string{"ping"}, nil).
		Actions().Add(func(ctx *core.Context) error { actionCalls++; return nil })

	require.NoError(t, sm.Start())
	assert.Equal(t, 1, entries)

	require.NoError(t, sm.HandleEvent(core.NewEvent("ping")))
	assert.Equal(t, 1, entries, "internal transition must not re-run entry actions")
	assert.Equal(t, 1, actionCalls)
	assert.True(t, s.IsActive())
}

func TestTransition_LocalSelfLoopReentersSubstatesNotSource(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	outer := core.NewCompositeState("outer")
	sm.DefaultRegion().AddSubstate(outer)
	child := core.NewBaseState("child")
	outer.DefaultRegion().AddSubstate(child)

	var outerEntries, outerExits, childEntries, childExits int
	outer.EntryActions().Add(func(ctx *core.Context) error { outerEntries++; return nil })
	outer.ExitActions().Add(func(ctx *core.Context) error { outerExits++; return nil })
	child.EntryActions().Add(func(ctx *core.Context) error { childEntries++; return nil })
	child.ExitActions().Add(func(ctx *core.Context) error { childExits++; return nil })
	core.NewLocalTransition("refresh", outer, outer, []string{"again"}, nil)

	require.NoError(t, sm.Start())
	assert.Equal(t, 1, outerEntries)
	assert.Equal(t, 1, childEntries)

	require.NoError(t, sm.HandleEvent(core.NewEvent("again")))
	assert.Equal(t, 2, childEntries, "a local self-transition re-enters the substates")
	assert.Equal(t, 1, childExits)
	assert.Equal(t, 1, outerEntries, "a local transition never exits or re-enters its source")
	assert.Equal(t, 0, outerExits)
	assert.True(t, outer.IsActive())
	assert.True(t, child.IsActive())
}

func TestTransition_LocalTransitionToSubstateSkipsSourceActions(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	outer := core.NewCompositeState("outer")
	sm.DefaultRegion().AddSubstate(outer)
	a := core.NewBaseState("a")
	b := core.NewBaseState("b")
	outer.DefaultRegion().AddSubstate(a)
	outer.DefaultRegion().AddSubstate(b)

	var outerExits int
	outer.ExitActions().Add(func(ctx *core.Context) error { outerExits++; return nil })
	core.NewLocalTransition("to-b", outer, b, []string{"descend"}, nil)

	require.NoError(t, sm.Start())
	assert.True(t, a.IsActive())

	require.NoError(t, sm.HandleEvent(core.NewEvent("descend")))
	assert.True(t, b.IsActive())
	assert.False(t, a.IsActive())
	assert.Equal(t, 0, outerExits)
	assert.True(t, outer.IsActive())
}

func TestTransition_ExternalExitsUpToLowestCommonAncestor(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	outer := core.NewCompositeState("outer")
	sm.DefaultRegion().AddSubstate(outer)

	inner := outer.DefaultRegion()
	a := core.NewCompositeState("a")
	b := core.NewBaseState("b")
	inner.AddSubstate(a)
	inner.AddSubstate(b)

	aInner := a.DefaultRegion()
	aLeaf := core.NewBaseState("a-leaf")
	aInner.AddSubstate(aLeaf)

	var outerExits, aExits int
	outer.ExitActions().Add(func(ctx *core.Context) error { outerExits++; return nil })
	a.ExitActions().Add(func(ctx *core.Context) error { aExits++; return nil })
	core.NewExternalTransition("to-b", aLeaf, b, []string{"go"}, nil)

	require.NoError(t, sm.Start())
	assert.True(t, aLeaf.IsActive())

	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	assert.True(t, b.IsActive())
	assert.False(t, aLeaf.IsActive())
	assert.False(t, a.IsActive())
	assert.Equal(t, 1, aExits)
	assert.Equal(t, 0, outerExits, "outer composite is the LCA and must not itself be exited/re-entered")
	assert.True(t, outer.IsActive())
}

func TestTransition_GuardGatesFiring(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	target := core.NewBaseState("target")
	sm.DefaultRegion().AddSubstate(s)
	sm.DefaultRegion().AddSubstate(target)

	allowed := false
	core.NewExternalTransition("go", s, target, []string{"go"},
		[]core.GuardCondition{func(ctx *core.Context) bool { return allowed }})

	require.NoError(t, sm.Start())

	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))
	assert.True(t, s.IsActive(), "transition should not fire while guard is false")

	allowed = true
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))
	assert.True(t, target.IsActive())
}

func TestTransition_MultipleGuardsAllMustPass(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	target := core.NewBaseState("target")
	sm.DefaultRegion().AddSubstate(s)
	sm.DefaultRegion().AddSubstate(target)

	first, second := true, false
	core.NewExternalTransition("go", s, target, []string{"go"}, []core.GuardCondition{
		func(ctx *core.Context) bool { return first },
		func(ctx *core.Context) bool { return second },
	})

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))
	assert.True(t, s.IsActive())

	second = true
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))
	assert.True(t, target.IsActive())
}

func TestTransition_AddTriggerMatchesAdditionalEvents(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	target := core.NewBaseState("target")
	sm.DefaultRegion().AddSubstate(s)
	sm.DefaultRegion().AddSubstate(target)

	tr := core.NewExternalTransition("go", s, target, []string{"primary"}, nil)
	tr.AddTrigger("alternate")
	assert.Equal(t, []string{"primary", "alternate"}, tr.Triggers())

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("alternate")))
	assert.True(t, target.IsActive())
}

func TestTransition_AddGuardJoinsConjunction(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	target := core.NewBaseState("target")
	sm.DefaultRegion().AddSubstate(s)
	sm.DefaultRegion().AddSubstate(target)

	tr := core.NewExternalTransition("go", s, target, []string{"go"}, nil)
	blocked := true
	tr.AddGuard(func(ctx *core.Context) bool { return !blocked })

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))
	assert.True(t, s.IsActive())

	blocked = false
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))
	assert.True(t, target.IsActive())
}

func TestTransition_PanickingGuardIsRoutedAndTreatedAsNotTaken(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	target := core.NewBaseState("target")
	fallback := core.NewBaseState("fallback")
	sm.DefaultRegion().AddSubstate(s)
	sm.DefaultRegion().AddSubstate(target)
	sm.DefaultRegion().AddSubstate(fallback)

	core.NewExternalTransition("guarded", s, target, []string{"go"},
		[]core.GuardCondition{func(ctx *core.Context) bool { panic("guard blew up") }})
	core.NewExternalTransition("unguarded", s, fallback, []string{"go"}, nil)

	var caught error
	sm.SetExceptionAction(func(ctx *core.Context, fault error) { caught = fault })

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	require.Error(t, caught, "the guard panic must reach the machine's exception sink")
	assert.Contains(t, caught.Error(), "guarded guard")
	assert.Contains(t, caught.Error(), "guard blew up")
	assert.False(t, target.IsActive(), "a panicking guard means the transition is not taken")
	assert.True(t, fallback.IsActive(), "the rest of the transition walk must continue after a guard fault")
}

func TestTransition_CompletionTransitionChainsWithinSameRTCStep(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	mid := core.NewBaseState("mid")
	target := core.NewBaseState("target")
	sm.DefaultRegion().AddSubstate(s)
	sm.DefaultRegion().AddSubstate(mid)
	sm.DefaultRegion().AddSubstate(target)

	core.NewExternalTransition("go", s, mid, []string{"go"}, nil)
	// A completion transition (no triggers) fires only once the nil offer
	// loop inside runToCompletion reaches mid, not at Start time — matching
	// original_source/Framework/NSFStateMachine.cpp's handleEvent, which
	// only calls runToCompletion() after a real event was handled.
	core.NewExternalTransition("complete", mid, target, nil, nil)

	require.NoError(t, sm.Start())
	assert.True(t, s.IsActive(), "a completion transition must not fire until some real event has been handled")

	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	assert.True(t, target.IsActive(), "firing 'go' should chain straight through mid's completion transition in the same RTC step")
	assert.False(t, mid.IsActive())
}
