// Package core provides the central event, context, state-graph and
// state-machine engine types for the nsf runtime.
package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NamedObject is anything with a stable, human-readable name. States,
// transitions, event handlers, and threads all implement it.
type NamedObject interface {
	Name() string
}

// Destination is anything an Event can be delivered to: a plain EventHandler
// or a StateMachine.
type Destination interface {
	NamedObject
	HandleEvent(event *Event) error
}

// Event carries an identity used for trigger matching, an optional source
// and destination, an optional payload, and scheduling fields used when the
// event is posted via a timer rather than queued directly.
//
// A transition fires on an event iff the transition has no triggers (a
// completion transition) or one of its trigger IDs equals the event's ID.
// Event.ID is preserved across Copy so "stamp out a fresh payload and queue
// it" patterns keep matching the same triggers.
//
// ID is canonicalized by name (see canonicalEventID below) rather than
// minted fresh per instance: every NewEvent("x") anywhere in the process
// resolves to the same ID, so a transition built with
// NewExternalTransition(..., []string{"x"}, ...) matches any later
// NewEvent("x"), which is the idiom every test and builder call in this
// package relies on. The tradeoff this deliberately accepts: two logically
// distinct events that happen to share a name string are NOT distinguished
// by ID here, unlike a scheme that mints a fresh ID per NewEvent call. A
// caller that needs two same-named-but-distinct triggers must mint one
// canonical Event and fire Copies of it (Copy/CopyTo already preserve ID)
// rather than calling NewEvent with that name more than once.
type Event struct {
	id                  string
	name                string
	source              NamedObject
	destination         Destination
	payload             any
	deleteAfterHandling bool

	// scheduling fields, populated only when the event is posted via Schedule
	delay  time.Duration
	repeat time.Duration
}

var (
	canonicalEventIDMutex sync.Mutex
	canonicalEventIDs     = map[string]string{}
)

// canonicalEventID returns the stable ID associated with name, minting one
// on first reference. This is what lets trigger matching compare Event.ID
// (per spec.md §3/§4.2) while still letting callers construct a matching
// event by name alone, as NewEvent("go") does here.
func canonicalEventID(name string) string {
	canonicalEventIDMutex.Lock()
	defer canonicalEventIDMutex.Unlock()
	if id, ok := canonicalEventIDs[name]; ok {
		return id
	}
	id := uuid.NewString()
	canonicalEventIDs[name] = id
	return id
}

// NewEvent creates an event whose ID is canonical for name (see
// canonicalEventID).
func NewEvent(name string) *Event {
	return &Event{id: canonicalEventID(name), name: name, deleteAfterHandling: true}
}

// NewEventWithPayload creates an event carrying an arbitrary typed payload.
func NewEventWithPayload(name string, payload any) *Event {
	e := NewEvent(name)
	e.payload = payload
	return e
}

// NewEventFor creates an event already addressed to a destination, sourced
// from the given named object.
func NewEventFor(name string, source NamedObject, destination Destination) *Event {
	e := NewEvent(name)
	e.source = source
	e.destination = destination
	return e
}

func (e *Event) ID() string                    { return e.id }
func (e *Event) Name() string                  { return e.name }
func (e *Event) Source() NamedObject           { return e.source }
func (e *Event) Destination() Destination      { return e.destination }
func (e *Event) Payload() any                  { return e.payload }
func (e *Event) DeleteAfterHandling() bool     { return e.deleteAfterHandling }
func (e *Event) SetDestination(d Destination)  { e.destination = d }
func (e *Event) SetSource(s NamedObject)       { e.source = s }
func (e *Event) SetPayload(payload any)        { e.payload = payload }
func (e *Event) SetDeleteAfterHandling(b bool) { e.deleteAfterHandling = b }

// Copy returns a new event that keeps this event's ID (so it still matches
// the same triggers) but may be re-addressed or re-payloaded.
func (e *Event) Copy(deleteAfterHandling bool) *Event {
	cp := &Event{
		id:                  e.id,
		name:                e.name,
		source:              e.source,
		destination:         e.destination,
		payload:             e.payload,
		deleteAfterHandling: deleteAfterHandling,
	}
	return cp
}

// CopyTo returns a copy of this event re-addressed to a new source and
// destination, retaining the original ID.
func (e *Event) CopyTo(source NamedObject, destination Destination, deleteAfterHandling bool) *Event {
	cp := e.Copy(deleteAfterHandling)
	cp.source = source
	cp.destination = destination
	return cp
}

// QueueEvent queues this event on its destination's owning event thread.
// It is a convenience wrapper; the destination is responsible for routing
// to the top-level machine per spec.md §4.6.
func (e *Event) QueueEvent() {
	if e.destination == nil {
		return
	}
	if q, ok := e.destination.(interface{ QueueEvent(*Event, bool, bool) }); ok {
		q.QueueEvent(e, false, true)
	}
}

// Schedule arranges for this event to be queued on its destination after
// delay, optionally repeating every repeat interval (0 ⇒ one-shot). It
// delegates to the package-level timer registered via SetScheduler.
func (e *Event) Schedule(delay, repeat time.Duration) *ScheduledHandle {
	e.delay, e.repeat = delay, repeat
	return scheduleEvent(e, delay, repeat)
}

// ScheduleAbsolute arranges for this event to be queued on its destination
// at the absolute time at, optionally repeating every repeat interval
// afterwards (0 ⇒ one-shot), per spec.md §6's schedule_absolute.
func (e *Event) ScheduleAbsolute(at time.Time, repeat time.Duration) *ScheduledHandle {
	e.repeat = repeat
	if defaultScheduler == nil {
		return &ScheduledHandle{}
	}
	return defaultScheduler.ScheduleActionAt(e.name, at, repeat, func() {
		e.QueueEvent()
	})
}

// Unschedule cancels a previously scheduled repost of this event.
func (e *Event) Unschedule(handle *ScheduledHandle) {
	if handle != nil {
		handle.Cancel()
	}
}

// Scheduler is the minimal surface StateMachine/EventHandler/Event need from
// pkg/timer, injected to avoid an import cycle (pkg/timer does not need to
// know about pkg/core).
type Scheduler interface {
	ScheduleAction(name string, delay, repeat time.Duration, action func()) *ScheduledHandle
	ScheduleActionAt(name string, at time.Time, repeat time.Duration, action func()) *ScheduledHandle
}

// ScheduledHandle is an opaque, cancelable handle to a scheduled action.
type ScheduledHandle struct {
	cancel func()
}

// NewScheduledHandle wraps cancel as a ScheduledHandle, for use by
// core.Scheduler implementations (e.g. pkg/timer.Timer) outside this
// package.
func NewScheduledHandle(cancel func()) *ScheduledHandle {
	return &ScheduledHandle{cancel: cancel}
}

// Cancel unschedules the action if it has not already fired for the last time.
func (h *ScheduledHandle) Cancel() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

var defaultScheduler Scheduler

// SetScheduler installs the process-wide scheduler (normally
// pkg/timer.Default()), called once during environment start-up.
func SetScheduler(s Scheduler) { defaultScheduler = s }

func scheduleEvent(e *Event, delay, repeat time.Duration) *ScheduledHandle {
	if defaultScheduler == nil {
		return &ScheduledHandle{}
	}
	return defaultScheduler.ScheduleAction(e.name, delay, repeat, func() {
		e.QueueEvent()
	})
}
