package core

import (
	"sync"
	"time"
)

// maxConsecutiveTransitions bounds how many transitions a single RTC step
// may fire back-to-back (completion transitions chaining into one
// another) before it is treated as a design error rather than silently
// looping forever, per spec.md §4.6's "consecutive-loop-detection safety."
const maxConsecutiveTransitions = 1000

// controlRequest is how Start/Stop/Reset/Terminate reach a StateMachine
// that is attached to an EventThread: rather than mutating the machine's
// configuration from whatever goroutine the caller is on, the request is
// queued to the back of the FIFO, behind any already-queued user events,
// and executed on the owning thread once its turn comes, then the caller is
// unblocked via done. This gives the lifecycle control events of spec.md
// §4.6 ("start_state_machine queues a Start control event") real
// serialization with in-flight RTC processing instead of merely documenting
// it, while still honoring spec.md §9's "only internal-use control events
// (the RTC delimiter) are ever enqueued at the head" — user-visible
// lifecycle calls never jump the queue.
type controlRequest struct {
	kind string
	done chan error
}

const (
	controlStart     = "start"
	controlStop      = "stop"
	controlReset     = "reset"
	controlTerminate = "terminate"
)

// StateMachine is both a CompositeState (it has regions and can be nested
// as a substate of an enclosing machine, spec.md §4.7) and an event
// destination with its own run-to-completion event processing, matching
// spec.md §3's "composite state + event handler fields" StateMachine
// definition. Unlike a plain EventHandler, it carries a local
// ExceptionAction list, consulted before the process-wide ExceptionHandler
// sink (spec.md §7).
type StateMachine struct {
	*CompositeState

	thread *EventThread

	mutex            sync.Mutex
	running          bool
	processing       bool
	onThread         bool // true while executing on this machine's own EventThread goroutine
	consecutiveCount int
	termStatus       TerminationStatus
	loopLimit        int
	loopDetect       bool
	loggingEnabled   bool
	data             map[string]any
	pending          []*Event

	stateChangeActions ActionList
	exceptionAction    func(ctx *Context, fault error)
	observers          []Observer
}

// Observer receives notifications of every state entry/exit, transition,
// and exception anywhere within a StateMachine, matching the teacher's
// StateMachineObserver shape (pkg/core/core.go) generalized to the
// hierarchical engine.
type Observer interface {
	OnStateEnter(sm *StateMachine, state State)
	OnStateExit(sm *StateMachine, state State)
	OnTransition(sm *StateMachine, t *Transition)
	OnEventProcessed(sm *StateMachine, event *Event)
	OnError(sm *StateMachine, err error)
}

// NewStateMachine creates a machine owned by the given thread (its RTC
// steps execute serially on that thread's goroutine). thread may be nil, in
// which case the machine runs synchronously on the caller's goroutine
// (used for nested/sub machines and for tests).
func NewStateMachine(name string, thread *EventThread) *StateMachine {
	sm := &StateMachine{
		CompositeState: NewCompositeState(name),
		thread:         thread,
		loopLimit:      maxConsecutiveTransitions,
		loopDetect:     true,
		loggingEnabled: true,
	}
	sm.Init(sm)
	if thread != nil {
		thread.attach(sm)
	}
	return sm
}

// WithLoopLimit overrides the consecutive-transition safety limit (default
// maxConsecutiveTransitions), per the functional-options ambient-stack
// convention recorded in SPEC_FULL.md.
func (sm *StateMachine) WithLoopLimit(n int) *StateMachine {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.loopLimit = n
	return sm
}

// EnableLoopDetection turns the consecutive-transition safety check on or
// off; it is on by default.
func (sm *StateMachine) EnableLoopDetection(on bool) *StateMachine {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.loopDetect = on
	return sm
}

// EnableLogging turns this machine's trace emission (EventQueued,
// StateEntered, StateExited entries) on or off; it is on by default. The
// entries only go anywhere once a trace sink has been installed via
// SetTraceSink (pkg/env does this at environment start).
func (sm *StateMachine) EnableLogging(on bool) *StateMachine {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.loggingEnabled = on
	return sm
}

// IsLoggingEnabled reports whether trace emission is on for this machine.
func (sm *StateMachine) IsLoggingEnabled() bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.loggingEnabled
}

// Context returns a context bound to this machine's persistent data map:
// values Set on it are visible to every guard and action this machine runs,
// across RTC steps, until Reset.
func (sm *StateMachine) Context() *Context {
	return NewContext(sm, nil)
}

func (sm *StateMachine) contextData() map[string]any {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	if sm.data == nil {
		sm.data = make(map[string]any)
	}
	return sm.data
}

// SetExceptionAction installs this machine's local exception handler,
// consulted before the global ExceptionHandler whenever a Fault reaches
// this machine (either from its own action lists or bubbled up from a
// nested machine).
func (sm *StateMachine) SetExceptionAction(f func(ctx *Context, fault error)) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.exceptionAction = f
}

// AddObserver registers o to be notified of state entries/exits,
// transitions, processed events, and routed exceptions.
func (sm *StateMachine) AddObserver(o Observer) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.observers = append(sm.observers, o)
}

func (sm *StateMachine) observerSnapshot() []Observer {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return append([]Observer(nil), sm.observers...)
}

// executeStateChangeActions runs the actions registered via
// AddStateChangeAction, called whenever any state nested in this machine
// enters or exits (spec.md §4.5's bubbling behavior), then notifies
// observers of the specific enter/exit that triggered the bubble.
func (sm *StateMachine) executeStateChangeActions(ctx *Context) {
	sm.stateChangeActions.Execute(ctx)
	logging := sm.IsLoggingEnabled()
	for _, o := range sm.observerSnapshot() {
		if ctx.EnteringState != nil {
			o.OnStateEnter(sm, ctx.EnteringState)
		}
		if ctx.ExitingState != nil {
			o.OnStateExit(sm, ctx.ExitingState)
		}
	}
	if logging {
		if ctx.EnteringState != nil {
			traceSink("StateEntered", "StateMachine", sm.Name(), "State", ctx.EnteringState.Name())
		}
		if ctx.ExitingState != nil {
			traceSink("StateExited", "StateMachine", sm.Name(), "State", ctx.ExitingState.Name())
		}
	}
}

// notifyTransitionFired is called by Transition.fire after a successful
// fire whose context is bound to this machine.
func (sm *StateMachine) notifyTransitionFired(t *Transition) {
	for _, o := range sm.observerSnapshot() {
		o.OnTransition(sm, t)
	}
}

// AddStateChangeAction registers an action invoked after every Enter/Exit
// anywhere within this machine.
func (sm *StateMachine) AddStateChangeAction(a Action) int {
	return sm.stateChangeActions.Add(a)
}

// isOnOwnThread reports whether the calling goroutine is already executing
// this machine's RTC step (directly, or because it has no thread of its
// own), so that Start/Stop/Reset/Terminate called from inside an action
// don't deadlock queuing a control request to themselves.
func (sm *StateMachine) isOnOwnThread() bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.thread == nil || sm.onThread
}

// dispatchControl runs fn serialized with this machine's RTC processing:
// directly, if already on the owning thread (or the machine has none), or
// via a control request queued (FIFO, behind any pending user events) to
// the thread and awaited otherwise.
func (sm *StateMachine) dispatchControl(kind string, fn func() error) error {
	return sm.dispatchControlTimeout(kind, fn, 0)
}

// dispatchControlTimeout is dispatchControl with an optional deadline; a
// timeout raises the lifecycle fault spec.md §7 describes as
// "Termination-timeout exceeded."
func (sm *StateMachine) dispatchControlTimeout(kind string, fn func() error, timeout time.Duration) error {
	if sm.isOnOwnThread() {
		return fn()
	}

	done := make(chan error, 1)
	ev := NewEvent("$control:" + kind)
	ev.SetDestination(sm)
	ev.SetPayload(&controlRequest{kind: kind, done: done})
	sm.thread.enqueue(sm, ev, false, false)

	if timeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		err := NewFault(sm.Name(), errTerminationTimeout)
		sm.HandleException(err)
		return err
	}
}

// Start enters the machine's initial configuration. It is idempotent.
func (sm *StateMachine) Start() error {
	return sm.dispatchControl(controlStart, sm.doStart)
}

func (sm *StateMachine) doStart() error {
	sm.mutex.Lock()
	if sm.running {
		sm.mutex.Unlock()
		return nil
	}
	sm.running = true
	sm.mutex.Unlock()

	ctx := NewContext(sm, nil)
	return sm.CompositeState.Enter(ctx, false)
}

// Stop exits the machine's current configuration without destroying it;
// Start can resume it later (history, if configured, determines whether
// it resumes where it left off).
func (sm *StateMachine) Stop() error {
	return sm.dispatchControl(controlStop, sm.doStop)
}

func (sm *StateMachine) doStop() error {
	sm.mutex.Lock()
	if !sm.running {
		sm.mutex.Unlock()
		return nil
	}
	sm.running = false
	sm.mutex.Unlock()

	ctx := NewContext(sm, nil)
	return sm.CompositeState.Exit(ctx)
}

// Reset stops and restarts the machine, discarding any recorded history and
// the consecutive-loop counter.
func (sm *StateMachine) Reset() error {
	return sm.dispatchControl(controlReset, sm.doReset)
}

func (sm *StateMachine) doReset() error {
	if err := sm.doStop(); err != nil {
		return err
	}
	var clearHistory func(regions []*Region)
	clearHistory = func(regions []*Region) {
		for _, r := range regions {
			r.mutex.Lock()
			r.history = nil
			substates := append([]State(nil), r.substates...)
			r.mutex.Unlock()
			for _, s := range substates {
				if cs, ok := s.(interface{ Regions() []*Region }); ok {
					clearHistory(cs.Regions())
				}
			}
		}
	}
	clearHistory(sm.Regions())
	sm.mutex.Lock()
	sm.consecutiveCount = 0
	sm.data = nil
	sm.mutex.Unlock()
	return sm.doStart()
}

// Terminate stops the machine and detaches it from its EventThread. Once it
// has detached and no other handler remains attached, the thread is asked
// to terminate too. A non-waiting call from another goroutine returns as
// soon as the terminate request is queued, before the machine has
// detached, so it leaves the thread running. When wait is true it blocks
// until the request has been handled (bounded by TerminationTimeout) and
// the thread has joined, implementing the two-phase request-then-join
// shutdown of spec.md §4.6. Terminate is idempotent; repeated calls are
// no-ops once Terminated.
func (sm *StateMachine) Terminate(wait bool) error {
	sm.mutex.Lock()
	if sm.termStatus == Terminated {
		sm.mutex.Unlock()
		return nil
	}
	sm.termStatus = Terminating
	sm.mutex.Unlock()

	finish := func(err error) error {
		sm.mutex.Lock()
		sm.termStatus = Terminated
		sm.mutex.Unlock()
		if err != nil {
			return err
		}
		if sm.thread == nil || sm.thread.handlerCount() > 0 {
			return nil
		}
		return sm.thread.Terminate(wait)
	}

	if !wait || sm.isOnOwnThread() {
		// Non-blocking request: queue (or, if we're already on our own
		// thread, run inline) and return without waiting on completion.
		if sm.isOnOwnThread() {
			return finish(sm.doTerminate())
		}
		ev := NewEvent("$control:" + controlTerminate)
		ev.SetDestination(sm)
		ev.SetPayload(&controlRequest{kind: controlTerminate, done: make(chan error, 1)})
		sm.thread.enqueue(sm, ev, false, false)
		return finish(nil)
	}

	err := sm.dispatchControlTimeout(controlTerminate, sm.doTerminate, TerminationTimeout)
	return finish(err)
}

func (sm *StateMachine) doTerminate() error {
	if err := sm.doStop(); err != nil {
		return err
	}
	if sm.thread != nil {
		sm.thread.detach(sm)
	}
	return nil
}

// evaluateRequest marks the event queued by ForceEvaluation; HandleEvent
// treats it as a bare completion sweep rather than a user event.
type evaluateRequest struct{}

// ForceEvaluation queues one completion-transition sweep: the machine
// re-offers a completion event to its configuration on its own thread, so
// guards whose inputs changed outside any event (an external flag flipped,
// say) get a chance to fire without a synthetic user event.
func (sm *StateMachine) ForceEvaluation() {
	ev := NewEvent("$control:evaluate")
	ev.SetDestination(sm)
	ev.SetPayload(evaluateRequest{})
	sm.QueueEvent(ev, false, false)
}

// HandleEvent implements Destination: it is called by this machine's
// EventThread once per dequeued event and runs exactly one run-to-completion
// step, unless the event is a control request, which is executed directly
// and does not participate in RTC.
func (sm *StateMachine) HandleEvent(event *Event) error {
	if event != nil {
		if _, ok := event.Payload().(evaluateRequest); ok {
			event = nil
		}
	}
	if req, ok := controlPayload(event); ok {
		sm.mutex.Lock()
		sm.onThread = true
		sm.mutex.Unlock()
		err := sm.runControlByKind(req.kind)
		sm.mutex.Lock()
		sm.onThread = false
		sm.mutex.Unlock()
		req.done <- err
		return nil
	}

	sm.mutex.Lock()
	if !sm.running {
		// Events received while stopped are dropped.
		sm.mutex.Unlock()
		return nil
	}
	if sm.processing {
		// Re-entrant delivery (an action posting back to its own machine
		// while the machine has no thread to serialize on) is deferred to
		// the tail of the current RTC step, per spec.md §5's "events queued
		// from within an action execute after the current RTC step
		// completes."
		sm.pending = append(sm.pending, event)
		sm.mutex.Unlock()
		return nil
	}
	sm.processing = true
	sm.onThread = true
	sm.consecutiveCount = 0
	sm.mutex.Unlock()

	defer func() {
		sm.mutex.Lock()
		sm.processing = false
		sm.onThread = false
		sm.mutex.Unlock()
	}()

	err := sm.runToCompletion(event)

	for {
		sm.mutex.Lock()
		if len(sm.pending) == 0 {
			sm.mutex.Unlock()
			break
		}
		next := sm.pending[0]
		sm.pending = sm.pending[1:]
		sm.mutex.Unlock()

		if next != nil {
			if _, ok := next.Payload().(evaluateRequest); ok {
				next = nil
			}
		}
		_ = sm.runToCompletion(next)
	}

	for _, o := range sm.observerSnapshot() {
		o.OnEventProcessed(sm, event)
	}
	return err
}

func controlPayload(event *Event) (*controlRequest, bool) {
	if event == nil {
		return nil, false
	}
	req, ok := event.Payload().(*controlRequest)
	return req, ok
}

func (sm *StateMachine) runControlByKind(kind string) error {
	switch kind {
	case controlStart:
		return sm.doStart()
	case controlStop:
		return sm.doStop()
	case controlReset:
		return sm.doReset()
	case controlTerminate:
		return sm.doTerminate()
	default:
		return nil
	}
}

// runToCompletion offers event to the configuration, then keeps offering a
// nil (completion) event as long as some transition fires, bounded by the
// configured loop limit. status != EventHandled is the sole, sufficient
// termination condition (spec.md §4.6/§8's "stable configuration"
// guarantee): a completion transition may fire without changing which
// state is nominally "active" at the machine's own top-level regions (e.g.
// a transition entirely inside a nested composite state), so progress must
// not be inferred from comparing configurations before and after.
func (sm *StateMachine) runToCompletion(event *Event) error {
	for {
		status, err := sm.CompositeState.ProcessEvent(event)
		if err != nil {
			sm.HandleException(NewFault("event "+eventName(event), err))
			return nil
		}
		if status != EventHandled {
			sm.mutex.Lock()
			sm.consecutiveCount = 0
			sm.mutex.Unlock()
			return nil
		}

		sm.mutex.Lock()
		sm.consecutiveCount++
		loops, limit, detect := sm.consecutiveCount, sm.loopLimit, sm.loopDetect
		sm.mutex.Unlock()
		if detect && loops >= limit {
			sm.HandleException(NewFault(sm.Name(), errConsecutiveLoop))
			return nil
		}

		event = nil // subsequent offers are completion transitions only
	}
}

func eventName(e *Event) string {
	if e == nil {
		return "<completion>"
	}
	return e.Name()
}

// QueueEvent forwards event to this machine's thread queue; a machine
// nested inside another forwards it to the outermost machine instead.
// priority enqueues at the front of the queue (the machine's own control
// requests are queued without priority); log additionally emits an
// EventQueued trace entry when this machine's logging is enabled.
// Non-priority events are dropped once termination has begun.
func (sm *StateMachine) QueueEvent(event *Event, priority bool, log bool) {
	sm.mutex.Lock()
	terminating := sm.termStatus != Ready
	sm.mutex.Unlock()
	if terminating && !priority {
		return
	}
	if top := TopStateMachine(sm); top != sm {
		top.QueueEvent(event, priority, log)
		return
	}
	if sm.thread == nil {
		_ = sm.HandleEvent(event)
		return
	}
	sm.thread.enqueue(sm, event, priority, log && sm.IsLoggingEnabled())
}

// HandleException routes a Fault to this machine's local exception action
// if one is set, and always also forwards to the process-wide
// ExceptionHandler sink, matching spec.md §7: "local handler first, then
// the global sink, never instead of it."
func (sm *StateMachine) HandleException(fault error) {
	sm.mutex.Lock()
	local := sm.exceptionAction
	sm.mutex.Unlock()

	if local != nil {
		ctx := NewContext(sm, nil)
		local(ctx, fault)
	}
	for _, o := range sm.observerSnapshot() {
		o.OnError(sm, fault)
	}
	globalExceptionSink(fault)
}

// traceSink receives (kind, key, value, key, value, ...) trace emissions
// from anywhere in pkg/core; it defaults to a no-op so pkg/core has no
// compile-time dependency on pkg/trace. pkg/env installs the real sink at
// environment start.
var traceSink = func(kind string, kv ...string) {}

// SetTraceSink installs the process-wide trace emission hook, normally
// pkg/trace.Log.AddTrace wired up by pkg/env.
func SetTraceSink(sink func(kind string, kv ...string)) { traceSink = sink }

// globalExceptionSink is overridden by pkg/errs at process start via
// SetGlobalExceptionSink; it defaults to a no-op so pkg/core has no
// compile-time dependency on pkg/errs.
var globalExceptionSink = func(fault error) {}

// SetGlobalExceptionSink installs the process-wide fallback invoked after
// every local ExceptionAction, regardless of whether the local action
// handled the fault.
func SetGlobalExceptionSink(sink func(fault error)) { globalExceptionSink = sink }

// Fault is a lightweight diagnostic error pkg/errs.Exception wraps; kept here
// (rather than only in pkg/errs) so pkg/core does not have to import
// pkg/errs to raise one, avoiding any chance of an import cycle since
// pkg/errs's ExceptionHandler needs to operate on core.StateMachine-raised
// faults.
type Fault struct {
	Context string
	Err     error
}

func NewFault(context string, err error) *Fault {
	return &Fault{Context: context, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Context
	}
	return f.Context + ": " + f.Err.Error()
}

func (f *Fault) Unwrap() error { return f.Err }

var errConsecutiveLoop = &staticError{"exceeded maximum consecutive transitions in one run-to-completion step"}

var errTerminationTimeout = &staticError{"state machine termination timed out waiting for the event thread"}

type staticError struct{ msg string }

func (e *staticError) Error() string { return e.msg }

// TerminationTimeout is the default Terminate(wait=true) deadline.
const TerminationTimeout = 5 * time.Second
