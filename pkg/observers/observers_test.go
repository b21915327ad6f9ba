package observers_test

import (
	"testing"

	"github.com/nsforge/nsf/pkg/core"
	"github.com/nsforge/nsf/pkg/observers"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTwoStateMachine(t *testing.T, obs core.Observer) *core.StateMachine {
	t.Helper()
	sm := core.NewStateMachine("m", nil)
	a := core.NewBaseState("a")
	b := core.NewBaseState("b")
	sm.DefaultRegion().AddSubstate(a)
	sm.DefaultRegion().AddSubstate(b)
	core.NewExternalTransition("go", a, b, []string{"go"}, nil)
	sm.AddObserver(obs)
	return sm
}

func TestLoggingObserver_EmitsStructuredEntries(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	sm := buildTwoStateMachine(t, observers.NewLoggingObserver(logger))
	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	var messages []string
	var sawTransitionFields bool
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
		if e.Message == "transition fired" {
			assert.Equal(t, "m", e.Data["machine"])
			assert.Equal(t, "a", e.Data["from"])
			assert.Equal(t, "b", e.Data["to"])
			sawTransitionFields = true
		}
	}
	assert.Contains(t, messages, "state entered")
	assert.Contains(t, messages, "state exited")
	assert.Contains(t, messages, "transition fired")
	assert.True(t, sawTransitionFields)
}

func TestMetricsObserver_CountsVisitsTransitionsAndEvents(t *testing.T) {
	obs := observers.NewMetricsObserver()
	sm := buildTwoStateMachine(t, obs)

	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	assert.Equal(t, 1, obs.StateVisitCounts()["a"])
	assert.Equal(t, 1, obs.StateVisitCounts()["b"])
	assert.Equal(t, 1, obs.TransitionCounts()["a->b"])
	assert.Equal(t, 1, obs.EventCounts()["go"])
	assert.Equal(t, 0, obs.ErrorCount())

	assert.Contains(t, obs.StateTimeSpent(), "a", "exited states must accumulate time-in-state")
}

func TestMetricsObserver_CountsErrors(t *testing.T) {
	obs := observers.NewMetricsObserver()
	sm := core.NewStateMachine("m", nil)
	s := core.NewBaseState("s")
	sm.DefaultRegion().AddSubstate(s)
	s.EntryActions().Add(func(ctx *core.Context) error { return assert.AnError })
	sm.AddObserver(obs)

	require.NoError(t, sm.Start())
	assert.Equal(t, 1, obs.ErrorCount())
}

func TestMetricsObserver_Reset(t *testing.T) {
	obs := observers.NewMetricsObserver()
	sm := buildTwoStateMachine(t, obs)
	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	obs.Reset()
	assert.Empty(t, obs.StateVisitCounts())
	assert.Empty(t, obs.TransitionCounts())
	assert.Equal(t, 0, obs.ErrorCount())
}

func TestValidationObserver_FlagsDisallowedTransitions(t *testing.T) {
	obs := observers.NewValidationObserver()
	obs.AddAllowedTransition("a", "c") // a->b is not allowed

	sm := buildTwoStateMachine(t, obs)
	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	require.True(t, obs.HasViolations())
	assert.Contains(t, obs.Violations()[0], `invalid transition from "a" to "b"`)
}

func TestValidationObserver_TracksUnvisitedStates(t *testing.T) {
	obs := observers.NewValidationObserver()
	obs.AddExpectedState("a")
	obs.AddExpectedState("b")
	obs.AddExpectedState("never")

	sm := buildTwoStateMachine(t, obs)
	require.NoError(t, sm.Start())
	require.NoError(t, sm.HandleEvent(core.NewEvent("go")))

	assert.Equal(t, []string{"never"}, obs.UnvisitedStates())
	assert.False(t, obs.HasViolations())
}
