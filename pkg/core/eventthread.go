package core

import (
	"sync"
	"time"

	"github.com/nsforge/nsf/internal/sysclock"
	"github.com/nsforge/nsf/internal/worker"
)

// queuedEvent pairs a destination with the event headed for it, since one
// EventThread's FIFO may carry events for several attached handlers (a
// group of state machines sharing a thread), per spec.md §3's Event thread
// entity.
type queuedEvent struct {
	dest     Destination
	event    *Event
	priority bool
}

// EventThread owns an unbounded FIFO drained by a single dedicated
// goroutine and a set of attached handlers (StateMachine or EventHandler),
// matching spec.md §4.4. All actions for handlers sharing one thread run
// single-threaded on that thread, which is the concurrency guarantee every
// RTC step depends on.
type EventThread struct {
	name   string
	thread *worker.Thread
	signal *sysclock.Signal

	mutex    sync.Mutex
	queue    []queuedEvent
	handlers map[string]Destination

	terminating bool
	terminated  bool
}

// NewEventThread creates a thread with no attached handlers; handlers attach
// themselves when constructed against it (see NewStateMachine,
// NewEventHandler).
func NewEventThread(name string) *EventThread {
	et := &EventThread{
		name:     name,
		signal:   sysclock.NewSignal(),
		handlers: make(map[string]Destination),
	}
	et.thread = worker.New(name, worker.Medium, et.run)
	et.thread.Start()
	return et
}

func (et *EventThread) Name() string { return et.name }

func (et *EventThread) attach(d Destination) {
	et.mutex.Lock()
	defer et.mutex.Unlock()
	et.handlers[d.Name()] = d
}

func (et *EventThread) detach(d Destination) {
	et.mutex.Lock()
	defer et.mutex.Unlock()
	delete(et.handlers, d.Name())
}

func (et *EventThread) handlerCount() int {
	et.mutex.Lock()
	defer et.mutex.Unlock()
	return len(et.handlers)
}

// enqueue pushes event, addressed to dest, onto the FIFO (or the head, when
// priority is set) and wakes the run loop. Once the thread is terminating,
// non-priority events are rejected; priority events are still admitted.
// When log is set the enqueue is traced (source, destination,
// event name), per spec.md §4.4's queue_event(e, priority, log).
func (et *EventThread) enqueue(dest Destination, event *Event, priority bool, log bool) {
	et.mutex.Lock()
	if et.terminating && !priority {
		et.mutex.Unlock()
		return
	}
	if log && event != nil {
		source := ""
		if event.Source() != nil {
			source = event.Source().Name()
		}
		traceSink("EventQueued", "Source", source, "Destination", dest.Name(), "Event", event.Name())
	}
	qe := queuedEvent{dest: dest, event: event, priority: priority}
	if priority {
		et.queue = append([]queuedEvent{qe}, et.queue...)
	} else {
		et.queue = append(et.queue, qe)
	}
	et.mutex.Unlock()
	et.signal.Send()
}

// run is the thread's loop body, matching spec.md §4.4 steps 1-3.
func (et *EventThread) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			et.drainAndExit()
			return
		default:
		}

		if !et.signal.WaitTimeout(50 * time.Millisecond) {
			continue
		}

		for {
			qe, ok := et.pop()
			if !ok {
				break
			}
			et.deliver(qe)
		}

		et.mutex.Lock()
		done := et.terminating && len(et.handlers) == 0
		et.mutex.Unlock()
		if done {
			et.drainAndExit()
			return
		}
	}
}

func (et *EventThread) pop() (queuedEvent, bool) {
	et.mutex.Lock()
	defer et.mutex.Unlock()
	if len(et.queue) == 0 {
		return queuedEvent{}, false
	}
	qe := et.queue[0]
	et.queue = et.queue[1:]
	return qe, true
}

func (et *EventThread) deliver(qe queuedEvent) {
	if qe.dest == nil {
		return
	}
	if err := safeHandle(qe.dest, qe.event); err != nil {
		globalExceptionSink(NewFault("dispatch to "+qe.dest.Name(), err))
	}
}

func safeHandle(dest Destination, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{r}
		}
	}()
	return dest.HandleEvent(event)
}

func (et *EventThread) drainAndExit() {
	et.mutex.Lock()
	et.queue = nil
	et.terminated = true
	et.mutex.Unlock()
}

// Terminate marks the thread terminating (further non-priority enqueues are
// rejected) and asks its run loop to exit, implementing the two-phase
// request-then-join shutdown of spec.md §4.6/§5. The loop exits at its next
// check of the stop request whether or not handlers are still attached; it
// does not wait for them to terminate, and events still queued at that point
// are discarded. If wait is true, Terminate blocks until the loop has exited,
// for at most 5 seconds.
func (et *EventThread) Terminate(wait bool) error {
	et.mutex.Lock()
	et.terminating = true
	et.mutex.Unlock()
	et.signal.Send()
	et.thread.RequestTerminate()
	if !wait {
		return nil
	}
	return et.thread.Join(5 * time.Second)
}
