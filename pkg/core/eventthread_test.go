package core_test

import (
	"sync"
	"testing"
	"time"

	"github.com/nsforge/nsf/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two events queued in order to the same thread, neither priority, are
// handled strictly in order.
func TestEventThread_UserEventsHandledInFIFOOrder(t *testing.T) {
	thread := core.NewEventThread("t")
	defer thread.Terminate(true)

	h := core.NewEventHandler("h", thread)
	h.Start()

	var mu sync.Mutex
	var seen []string
	h.AddReaction("", func(ctx *core.Context) error {
		mu.Lock()
		seen = append(seen, ctx.Event.Name())
		mu.Unlock()
		return nil
	})

	for _, name := range []string{"e1", "e2", "e3", "e4", "e5"} {
		h.QueueEvent(core.NewEvent(name), false, false)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, seen)
}

// A priority enqueue jumps ahead of already-queued normal events; the
// framework's own lifecycle control requests are queued without priority.
func TestEventThread_PriorityEventJumpsQueue(t *testing.T) {
	thread := core.NewEventThread("t")
	defer thread.Terminate(true)

	h := core.NewEventHandler("h", thread)
	h.Start()

	var mu sync.Mutex
	var seen []string
	gate := make(chan struct{})
	h.AddReaction("", func(ctx *core.Context) error {
		if ctx.Event.Name() == "blocker" {
			<-gate
			return nil
		}
		mu.Lock()
		seen = append(seen, ctx.Event.Name())
		mu.Unlock()
		return nil
	})

	h.QueueEvent(core.NewEvent("blocker"), false, false)
	time.Sleep(20 * time.Millisecond) // let the blocker start processing
	h.QueueEvent(core.NewEvent("normal"), false, false)
	h.QueueEvent(core.NewEvent("urgent"), true, false)
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"urgent", "normal"}, seen)
}

func TestEventThread_PanicInHandlerDoesNotKillTheLoop(t *testing.T) {
	var mu sync.Mutex
	var faults []error
	core.SetGlobalExceptionSink(func(fault error) {
		mu.Lock()
		faults = append(faults, fault)
		mu.Unlock()
	})
	defer core.SetGlobalExceptionSink(func(fault error) {})

	thread := core.NewEventThread("t")
	defer thread.Terminate(true)

	h := core.NewEventHandler("h", thread)
	h.Start()

	handled := make(chan struct{})
	h.AddReaction("bad", func(ctx *core.Context) error { panic("boom") })
	h.AddReaction("good", func(ctx *core.Context) error { close(handled); return nil })

	h.QueueEvent(core.NewEvent("bad"), false, false)
	h.QueueEvent(core.NewEvent("good"), false, false)

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("the thread stopped draining after a handler panic")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, faults)
	assert.Contains(t, faults[0].Error(), "boom")
}

func TestEventThread_SharedByMachineAndHandler(t *testing.T) {
	thread := core.NewEventThread("t")
	defer thread.Terminate(true)

	sm := core.NewStateMachine("m", thread)
	s1 := core.NewBaseState("s1")
	s2 := core.NewBaseState("s2")
	sm.DefaultRegion().AddSubstate(s1)
	sm.DefaultRegion().AddSubstate(s2)
	core.NewExternalTransition("go", s1, s2, []string{"go"}, nil)

	h := core.NewEventHandler("h", thread)
	h.Start()
	reacted := make(chan struct{})
	h.AddReaction("notify", func(ctx *core.Context) error { close(reacted); return nil })

	require.NoError(t, sm.Start())

	ev := core.NewEvent("go")
	ev.SetDestination(sm)
	sm.QueueEvent(ev, false, false)
	h.QueueEvent(core.NewEvent("notify"), false, false)

	require.Eventually(t, func() bool { return s2.IsActive() }, time.Second, 5*time.Millisecond)
	select {
	case <-reacted:
	case <-time.After(time.Second):
		t.Fatal("handler sharing the thread never saw its event")
	}
}

func TestEventThread_TerminateRejectsFurtherEnqueues(t *testing.T) {
	thread := core.NewEventThread("t")

	h := core.NewEventHandler("h", thread)
	h.Start()

	var mu sync.Mutex
	var count int
	h.AddReaction("e", func(ctx *core.Context) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	require.NoError(t, h.Terminate(false))
	require.NoError(t, thread.Terminate(true))

	h.QueueEvent(core.NewEvent("e"), false, false)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count, "events queued after termination must be dropped")
}
