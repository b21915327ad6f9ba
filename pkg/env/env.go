// Package env provides the process-wide registry of long-running threads
// (event threads and the primary timer) and the two-pass
// request-then-join shutdown that terminates all of them together,
// grounded directly on original_source/Framework/NSFEnvironment.cpp.
package env

import (
	"sync"
	"time"

	"github.com/nsforge/nsf/pkg/core"
	"github.com/nsforge/nsf/pkg/errs"
	"github.com/nsforge/nsf/pkg/timer"
	"github.com/nsforge/nsf/pkg/trace"
)

// Terminable is anything the Environment can shut down: EventThread and
// timer.Timer both satisfy it.
type Terminable interface {
	Terminate(wait bool) error
}

// Environment is the process-wide thread registry. Unlike the original's
// implicit process-global singleton, this module also allows constructing
// an independent Environment per test, via New, while Default keeps the
// same lazily-autostarted-singleton convenience.
type Environment struct {
	mutex   sync.Mutex
	threads []Terminable
	started bool
}

// New creates an empty, unstarted environment.
func New() *Environment {
	return &Environment{}
}

// AddThread registers t for this environment's coordinated Terminate.
func (e *Environment) AddThread(t Terminable) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.threads = append(e.threads, t)
}

// RemoveThread unregisters t, e.g. once a StateMachine has already
// terminated its own EventThread independently.
func (e *Environment) RemoveThread(t Terminable) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for i, existing := range e.threads {
		if existing == t {
			e.threads = append(e.threads[:i], e.threads[i+1:]...)
			return
		}
	}
}

// Threads returns a snapshot of every registered thread.
func (e *Environment) Threads() []Terminable {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]Terminable(nil), e.threads...)
}

// Start lazily instantiates the threaded environment features in the
// required order (primary timer first, then the trace log), wires the
// global exception sink, and registers the timer with this Environment so
// Terminate sweeps it too; the trace log has no thread and is not
// registered. Calling Start more than once is a no-op.
func (e *Environment) Start() {
	e.mutex.Lock()
	if e.started {
		e.mutex.Unlock()
		return
	}
	e.started = true
	e.mutex.Unlock()

	h := errs.Default()
	primaryTimer := timer.Default()
	timer.SetActionPanicSink(func(name string, recovered any) {
		h.Handle(core.NewFault(name+" timer action", panicErrorOf(recovered)))
	})
	core.SetScheduler(primaryTimer)

	primaryLog := trace.Default()
	core.SetTraceSink(primaryLog.AddTrace)
	h.OnCategory(errs.CategoryAny, func(exc *errs.Exception) {
		primaryLog.AddTrace("Exception", "Message", exc.Error())
	})

	e.AddThread(primaryTimer)
}

func panicErrorOf(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return &panicValue{recovered}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic in timer action" }

// Terminate requests every registered thread to stop (non-blocking),
// *then* waits for all of them to actually join, matching
// NSFEnvironment::terminate's "get all terminations started" followed by
// "wait for all threads to be terminated" — never a naive per-thread
// request-then-join-immediately loop, which would serialize shutdown
// latency across every thread instead of overlapping it.
func (e *Environment) Terminate() {
	threads := e.Threads()
	for _, t := range threads {
		_ = t.Terminate(false)
	}
	for _, t := range threads {
		_ = t.Terminate(true)
	}
}

var (
	defaultOnce sync.Once
	defaultEnv  *Environment
)

// Default returns the process-wide Environment, creating and Start-ing it
// on first use.
func Default() *Environment {
	defaultOnce.Do(func() {
		defaultEnv = New()
		defaultEnv.Start()
	})
	return defaultEnv
}

// DefaultTerminationTimeout mirrors spec.md §6's default join deadline,
// reused by callers that want a bounded wait instead of Terminate's
// unconditional block.
const DefaultTerminationTimeout = 5 * time.Second
