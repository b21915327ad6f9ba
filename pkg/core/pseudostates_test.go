package core_test

import (
	"testing"

	"github.com/nsforge/nsf/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChoiceState_FirstPassingGuardWins(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	start := core.NewBaseState("start")
	choice := core.NewChoiceState("choice")
	pathA := core.NewBaseState("a")
	pathB := core.NewBaseState("b")
	sm.DefaultRegion().AddSubstate(start)
	sm.DefaultRegion().AddSubstate(choice)
	sm.DefaultRegion().AddSubstate(pathA)
	sm.DefaultRegion().AddSubstate(pathB)

	core.NewExternalTransition("decide", start, choice, []string{"decide"}, nil)
	core.NewExternalTransition("to-a", choice, pathA, nil,
		[]core.GuardCondition{func(ctx *core.Context) bool {
			v, _ := ctx.Get("path")
			return v == "A"
		}})
	core.NewExternalTransition("to-b", choice, pathB, nil, nil) // else

	require.NoError(t, sm.Start())
	sm.Context().Set("path", "A")

	require.NoError(t, sm.HandleEvent(core.NewEvent("decide")))
	assert.True(t, pathA.IsActive())
	assert.False(t, pathB.IsActive())
}

func TestChoiceState_FallsBackToElse(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	start := core.NewBaseState("start")
	choice := core.NewChoiceState("choice")
	pathA := core.NewBaseState("a")
	pathB := core.NewBaseState("b")
	sm.DefaultRegion().AddSubstate(start)
	sm.DefaultRegion().AddSubstate(choice)
	sm.DefaultRegion().AddSubstate(pathA)
	sm.DefaultRegion().AddSubstate(pathB)

	core.NewExternalTransition("decide", start, choice, []string{"decide"}, nil)
	core.NewExternalTransition("to-a", choice, pathA, nil,
		[]core.GuardCondition{func(ctx *core.Context) bool { return false }})
	core.NewExternalTransition("to-b", choice, pathB, nil, nil)

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("decide")))

	assert.True(t, pathB.IsActive())
}

func TestChoiceState_NoElseAndNoGuardPassingIsAnError(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	start := core.NewBaseState("start")
	choice := core.NewChoiceState("choice")
	pathA := core.NewBaseState("a")
	sm.DefaultRegion().AddSubstate(start)
	sm.DefaultRegion().AddSubstate(choice)
	sm.DefaultRegion().AddSubstate(pathA)

	core.NewExternalTransition("decide", start, choice, []string{"decide"}, nil)
	core.NewExternalTransition("to-a", choice, pathA, nil,
		[]core.GuardCondition{func(ctx *core.Context) bool { return false }})

	var caught error
	sm.SetExceptionAction(func(ctx *core.Context, fault error) { caught = fault })

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("decide")))

	require.Error(t, caught)
	assert.ErrorIs(t, caught.(interface{ Unwrap() error }).Unwrap(), core.ErrChoiceNoElse)
}

func TestHistoryState_ShallowRestoresLastActiveSubstate(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	outer := core.NewCompositeState("outer")
	sm.DefaultRegion().AddSubstate(outer)

	region := outer.DefaultRegion()
	a := core.NewBaseState("a")
	b := core.NewBaseState("b")
	hist := core.NewHistoryState("h", core.HistoryShallow)
	region.AddSubstate(a)
	region.AddSubstate(b)
	region.AddSubstate(hist)
	hist.SetDefault(a)

	other := core.NewBaseState("other")
	sm.DefaultRegion().AddSubstate(other)

	core.NewExternalTransition("to-b", a, b, []string{"to-b"}, nil)
	core.NewExternalTransition("leave", outer, other, []string{"leave"}, nil)
	core.NewExternalTransition("resume", other, hist, []string{"resume"}, nil)

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("to-b")))
	assert.True(t, b.IsActive())

	require.NoError(t, sm.HandleEvent(core.NewEvent("leave")))
	assert.False(t, outer.IsActive())

	require.NoError(t, sm.HandleEvent(core.NewEvent("resume")))
	assert.True(t, b.IsActive(), "resuming through history should restore b, not a's default")
}

func TestHistoryState_DefaultUsedWhenNoHistoryYet(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	outer := core.NewCompositeState("outer")
	sm.DefaultRegion().AddSubstate(outer)

	region := outer.DefaultRegion()
	a := core.NewBaseState("a")
	hist := core.NewHistoryState("h", core.HistoryShallow)
	region.AddSubstate(a)
	region.AddSubstate(hist)
	hist.SetDefault(a)

	require.NoError(t, sm.Start())
	ctx := core.NewContext(sm, nil)
	require.NoError(t, hist.Enter(ctx, false))
	assert.True(t, a.IsActive())
}

func TestForkJoin_JoinFiresOnlyAfterAllIncomingComplete(t *testing.T) {
	sm := core.NewStateMachine("m", nil)
	start := core.NewBaseState("start")
	sm.DefaultRegion().AddSubstate(start)

	fork := core.NewCompositeState("forked")
	sm.DefaultRegion().AddSubstate(fork)
	r1 := fork.AddRegion("r1")
	r2 := fork.AddRegion("r2")

	b1 := core.NewBaseState("b1")
	b2 := core.NewBaseState("b2")
	r1.AddSubstate(b1)
	r2.AddSubstate(b2)

	join := core.NewForkJoin("join", sm)
	done := core.NewBaseState("done")
	sm.DefaultRegion().AddSubstate(done)

	core.NewExternalTransition("fork", start, fork, []string{"fork"}, nil)
	core.NewForkJoinTransition("b1-done", b1, join, []string{"b1-done"}, nil)
	core.NewForkJoinTransition("b2-done", b2, join, []string{"b2-done"}, nil)
	core.NewForkJoinTransition("join-out", join, done, nil, nil)

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("fork")))
	assert.True(t, b1.IsActive())
	assert.True(t, b2.IsActive())

	require.NoError(t, sm.HandleEvent(core.NewEvent("b1-done")))
	assert.False(t, done.IsActive(), "join must not fire until every incoming transition has completed")

	require.NoError(t, sm.HandleEvent(core.NewEvent("b2-done")))
	assert.True(t, done.IsActive())
}
