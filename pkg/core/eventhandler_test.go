package core_test

import (
	"testing"

	"github.com/nsforge/nsf/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHandler_ReactionsRunInRegistrationOrder(t *testing.T) {
	h := core.NewEventHandler("h", nil)
	h.Start()

	var order []string
	h.AddReaction("ping", func(ctx *core.Context) error { order = append(order, "first"); return nil })
	h.AddReaction("ping", func(ctx *core.Context) error { order = append(order, "second"); return nil })
	h.AddReaction("other", func(ctx *core.Context) error { order = append(order, "never"); return nil })

	require.NoError(t, h.HandleEvent(core.NewEvent("ping")))
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEventHandler_RemoveReaction(t *testing.T) {
	h := core.NewEventHandler("h", nil)
	h.Start()

	var calls int
	handle := h.AddReaction("ping", func(ctx *core.Context) error { calls++; return nil })
	h.RemoveReaction(handle)

	require.NoError(t, h.HandleEvent(core.NewEvent("ping")))
	assert.Equal(t, 0, calls)
}

func TestEventHandler_HasEvent(t *testing.T) {
	h := core.NewEventHandler("h", nil)
	h.AddReaction("known", func(ctx *core.Context) error { return nil })

	assert.True(t, h.HasEvent("known"))
	assert.False(t, h.HasEvent("unknown"))
}

func TestEventHandler_EventsDroppedWhileStopped(t *testing.T) {
	h := core.NewEventHandler("h", nil)

	var calls int
	h.AddReaction("ping", func(ctx *core.Context) error { calls++; return nil })

	// Never started: dropped.
	require.NoError(t, h.HandleEvent(core.NewEvent("ping")))
	assert.Equal(t, 0, calls)

	h.Start()
	require.NoError(t, h.HandleEvent(core.NewEvent("ping")))
	assert.Equal(t, 1, calls)

	h.Stop()
	require.NoError(t, h.HandleEvent(core.NewEvent("ping")))
	assert.Equal(t, 1, calls)
}

func TestEventHandler_TerminateIsIdempotentAndFinal(t *testing.T) {
	h := core.NewEventHandler("h", nil)
	h.Start()

	var calls int
	h.AddReaction("ping", func(ctx *core.Context) error { calls++; return nil })

	require.NoError(t, h.Terminate(false))
	require.NoError(t, h.Terminate(true))

	h.QueueEvent(core.NewEvent("ping"), false, false)
	assert.Equal(t, 0, calls, "a terminated handler must drop queued events")
}

func TestEventHandler_ReactionErrorRoutedToGlobalSink(t *testing.T) {
	var got error
	core.SetGlobalExceptionSink(func(fault error) { got = fault })
	defer core.SetGlobalExceptionSink(func(fault error) {})

	h := core.NewEventHandler("h", nil)
	h.Start()
	h.AddReaction("ping", func(ctx *core.Context) error { return assert.AnError })

	require.NoError(t, h.HandleEvent(core.NewEvent("ping")))
	require.Error(t, got)
	assert.Contains(t, got.Error(), "h reaction")
}
