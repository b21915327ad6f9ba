package core

import "sync"

// TerminationStatus tracks an EventHandler/StateMachine's progress through
// the two-phase termination handshake of spec.md §3/§4.6.
type TerminationStatus int

const (
	Ready TerminationStatus = iota
	Terminating
	Terminated
)

// reaction is one (event-name, action) pair registered on an EventHandler.
type reaction struct {
	eventName string
	action    Action
}

// EventHandler is a lightweight reactive handler: it maps an event name to
// an ordered list of actions, with no state-graph or RTC semantics of its
// own, matching spec.md §3's "a lightweight reactive handler, not a state
// machine." It shares the same EventThread/Destination contract as
// StateMachine so both can be attached to the same thread.
type EventHandler struct {
	name   string
	thread *EventThread

	mutex       sync.Mutex
	reactions   []reaction
	termStatus  TerminationStatus
	running     bool
}

// NewEventHandler creates a handler attached to thread.
func NewEventHandler(name string, thread *EventThread) *EventHandler {
	h := &EventHandler{name: name, thread: thread}
	if thread != nil {
		thread.attach(h)
	}
	return h
}

func (h *EventHandler) Name() string { return h.name }

// AddReaction registers action to run whenever an event named eventName is
// handled. Returns a handle usable with RemoveReaction.
func (h *EventHandler) AddReaction(eventName string, action Action) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.reactions = append(h.reactions, reaction{eventName: eventName, action: action})
	return len(h.reactions) - 1
}

// RemoveReaction removes a reaction previously registered via AddReaction.
func (h *EventHandler) RemoveReaction(handle int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if handle < 0 || handle >= len(h.reactions) {
		return
	}
	h.reactions = append(h.reactions[:handle], h.reactions[handle+1:]...)
}

// HasEvent reports whether any reaction is registered for eventName.
func (h *EventHandler) HasEvent(eventName string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, r := range h.reactions {
		if r.eventName == eventName {
			return true
		}
	}
	return false
}

// Start marks the handler running; Stop marks it stopped (events received
// while stopped are dropped, per spec.md §4.6).
func (h *EventHandler) Start() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.running = true
}

func (h *EventHandler) Stop() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.running = false
}

// Terminate moves the handler to Terminating and, once detached from its
// thread, Terminated. It is idempotent.
func (h *EventHandler) Terminate(wait bool) error {
	h.mutex.Lock()
	if h.termStatus != Ready {
		h.mutex.Unlock()
		return nil
	}
	h.termStatus = Terminating
	h.mutex.Unlock()

	if h.thread != nil {
		h.thread.detach(h)
	}

	h.mutex.Lock()
	h.termStatus = Terminated
	h.running = false
	h.mutex.Unlock()
	return nil
}

// QueueEvent enqueues event on this handler's thread (or handles it inline
// if unattached), refusing once termination has begun — only
// priority-marked internal control events get through then, matching
// spec.md §3's "Enqueues rejected once termination-status != ready, except
// terminate event itself." log traces the enqueue.
func (h *EventHandler) QueueEvent(event *Event, priority bool, log bool) {
	h.mutex.Lock()
	status := h.termStatus
	h.mutex.Unlock()
	if status != Ready && !priority {
		return
	}
	if h.thread == nil {
		_ = h.HandleEvent(event)
		return
	}
	h.thread.enqueue(h, event, priority, log)
}

// HandleEvent dispatches event to every reaction registered for its name
// (or every reaction, if none named), catching and routing any error to the
// process-wide exception sink: per the original source's
// NSFEventHandler.handleException, a plain EventHandler has no local
// exception-action list, only the global one (see DESIGN.md).
func (h *EventHandler) HandleEvent(event *Event) error {
	h.mutex.Lock()
	running := h.running
	reactions := append([]reaction(nil), h.reactions...)
	h.mutex.Unlock()
	if !running || event == nil {
		return nil
	}

	ctx := NewContext(nil, event)
	for _, r := range reactions {
		if r.eventName != "" && r.eventName != event.Name() {
			continue
		}
		if r.action == nil {
			continue
		}
		if err := safeCall(ctx, r.action); err != nil {
			globalExceptionSink(NewFault(h.name+" reaction", err))
		}
	}
	return nil
}
