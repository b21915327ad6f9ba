package nsf_test

import (
	"testing"
	"time"

	nsf "github.com/nsforge/nsf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The full stack together: environment autostart, a machine on its own
// event thread, a timer-scheduled event feeding back into dispatch, and
// trace entries recording what happened.
func TestEndToEnd_TimerDrivenMachineWithTracing(t *testing.T) {
	nsf.DefaultEnvironment()
	log := nsf.DefaultTraceLog().Enable(true)

	thread := nsf.NewEventThread("app")
	sm, err := nsf.NewBuilder("lamp", thread).
		AddState("off").
		AddState("on").
		AddTransition("power-on", "off", "on", []string{"power"}).
		Build()
	require.NoError(t, err)

	require.NoError(t, sm.Start())
	require.Eventually(t, func() bool { return sm.IsInState("off") }, time.Second, 5*time.Millisecond)

	ev := nsf.NewEventFor("power", sm, sm)
	ev.Schedule(30*time.Millisecond, 0)

	require.Eventually(t, func() bool { return sm.IsInState("on") }, time.Second, 5*time.Millisecond)

	kinds := map[string]bool{}
	for _, e := range log.Entries() {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds["EventQueued"], "the scheduled event's enqueue must be traced")
	assert.True(t, kinds["StateEntered"])

	require.NoError(t, sm.Terminate(true))
}

func TestEndToEnd_QueueEventAfterTerminateIsDropped(t *testing.T) {
	thread := nsf.NewEventThread("drop")
	sm, err := nsf.NewBuilder("machine", thread).
		AddState("a").
		AddState("b").
		AddTransition("go", "a", "b", []string{"go"}).
		Build()
	require.NoError(t, err)

	require.NoError(t, sm.Start())
	require.NoError(t, sm.Terminate(true))

	ev := nsf.NewEventFor("go", sm, sm)
	sm.QueueEvent(ev, false, false)
	time.Sleep(50 * time.Millisecond)

	assert.False(t, sm.IsInState("b"))
}
