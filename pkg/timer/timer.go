// Package timer provides the scheduled-action engine behind
// Event.Schedule: a single dedicated thread maintaining a time-ordered
// queue of actions and firing each at (or after) its execution time, with
// repeat actions rescheduled drift-free from their original execution time
// rather than from "now," matching
// original_source/Framework/NSFTimerThread.cpp. pkg/core reaches it only
// through the core.Scheduler interface, so pkg/core.Event.Schedule works
// once a Timer is installed with core.SetScheduler; container/heap backs the
// priority queue keyed by absolute deadline (see DESIGN.md).
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nsforge/nsf/internal/sysclock"
	"github.com/nsforge/nsf/internal/worker"
	"github.com/nsforge/nsf/pkg/core"
)

// ScheduledAction is one entry in a Timer's queue.
type ScheduledAction struct {
	name        string
	executeAt   time.Time
	repeat      time.Duration
	fn          func()
	seq         uint64
	index       int
	canceled    bool
}

func (a *ScheduledAction) Name() string { return a.name }

// actionHeap orders by execution time, breaking ties in FIFO (insertion)
// order, matching the original's "actions with equal execution times are
// executed in FIFO order."
type actionHeap []*ScheduledAction

func (h actionHeap) Len() int { return len(h) }
func (h actionHeap) Less(i, j int) bool {
	if h[i].executeAt.Equal(h[j].executeAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].executeAt.Before(h[j].executeAt)
}
func (h actionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *actionHeap) Push(x any) {
	a := x.(*ScheduledAction)
	a.index = len(*h)
	*h = append(*h, a)
}
func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.index = -1
	*h = old[:n-1]
	return a
}

// Timer is a dedicated thread that fires ScheduledActions at their
// execution time. It implements core.Scheduler, so pkg/core.Event.Schedule
// can be backed by a Timer via core.SetScheduler without pkg/core importing
// this package.
type Timer struct {
	name   string
	thread *worker.Thread
	signal *sysclock.Signal
	clock  sysclock.Clock

	mutex          sync.Mutex
	queue          actionHeap
	terminating    bool
	nextSeq        uint64
	maxGap         time.Duration
	maxObservedGap time.Duration
	gapAction      func(gap time.Duration)
	nextGapAt      time.Time
}

// New creates and starts a timer thread named name.
func New(name string) *Timer {
	t := &Timer{
		name:   name,
		signal: sysclock.NewSignal(),
		clock:  sysclock.Default,
		maxGap: 5 * time.Second,
	}
	heap.Init(&t.queue)
	t.thread = worker.New(name, worker.Highest, t.run)
	t.thread.Start()
	return t
}

// WithGapThreshold sets the duration beyond which a late-firing action is
// considered a diagnostic time gap (spec.md §6's maxAllowableTimeGap,
// default 5s, matching the original's 5000ms constant), following the
// teacher's fluent With...() option convention.
func (t *Timer) WithGapThreshold(d time.Duration) *Timer {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.maxGap = d
	return t
}

// OnTimeGap installs a diagnostic hook invoked when an action fires later
// than its threshold past due, carrying how late it ran; the hook runs at
// most once per threshold interval.
func (t *Timer) OnTimeGap(fn func(gap time.Duration)) *Timer {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.gapAction = fn
	return t
}

// MaxObservedTimeGap reports the largest scheduling delay seen so far.
func (t *Timer) MaxObservedTimeGap() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.maxObservedGap
}

// ScheduleAction implements core.Scheduler: it queues fn to run once after
// delay (repeat == 0) or repeatedly every repeat interval thereafter, and
// returns a handle that cancels it.
func (t *Timer) ScheduleAction(name string, delay, repeat time.Duration, fn func()) *core.ScheduledHandle {
	a := t.schedule(name, delay, repeat, fn)
	return core.NewScheduledHandle(func() { t.unschedule(a) })
}

// ScheduleActionAt implements the absolute-time half of core.Scheduler: fn
// runs at the absolute time at (immediately, if already past), then every
// repeat interval afterwards.
func (t *Timer) ScheduleActionAt(name string, at time.Time, repeat time.Duration, fn func()) *core.ScheduledHandle {
	a := t.scheduleAt(name, at, repeat, fn)
	return core.NewScheduledHandle(func() { t.unschedule(a) })
}

// Schedule is the concrete-typed equivalent of ScheduleAction, returned
// directly as *ScheduledAction for callers that want IsScheduled/Cancel
// without going through the core.Scheduler interface.
func (t *Timer) Schedule(name string, delay, repeat time.Duration, fn func()) *ScheduledAction {
	return t.schedule(name, delay, repeat, fn)
}

// ScheduleAt is the concrete-typed equivalent of ScheduleActionAt.
func (t *Timer) ScheduleAt(name string, at time.Time, repeat time.Duration, fn func()) *ScheduledAction {
	return t.scheduleAt(name, at, repeat, fn)
}

func (t *Timer) schedule(name string, delay, repeat time.Duration, fn func()) *ScheduledAction {
	return t.scheduleAt(name, t.clock.Now().Add(delay), repeat, fn)
}

func (t *Timer) scheduleAt(name string, at time.Time, repeat time.Duration, fn func()) *ScheduledAction {
	t.mutex.Lock()
	if t.terminating {
		t.mutex.Unlock()
		// Scheduling against a terminating timer is rejected: the returned
		// action is already canceled and IsScheduled reports false.
		return &ScheduledAction{name: name, executeAt: at, repeat: repeat, index: -1, canceled: true}
	}
	a := &ScheduledAction{
		name:      name,
		executeAt: at,
		repeat:    repeat,
		fn:        fn,
		seq:       t.nextSeq,
	}
	t.nextSeq++
	heap.Push(&t.queue, a)
	front := t.queue[0] == a
	t.mutex.Unlock()
	if front {
		t.signal.Send()
	}
	return a
}

// Unschedule removes a previously scheduled action; a no-op if it already
// fired (and was not a repeat) or was already removed.
func (t *Timer) Unschedule(a *ScheduledAction) { t.unschedule(a) }

func (t *Timer) unschedule(a *ScheduledAction) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	// canceled is set even when a is not currently in the queue: a repeat
	// action may be mid-execution on the timer thread, and the flag is what
	// stops fireDue from re-inserting it (spec guarantees the in-flight
	// execution runs at most once, then the action is gone).
	a.canceled = true
	if a.index >= 0 && a.index < len(t.queue) && t.queue[a.index] == a {
		heap.Remove(&t.queue, a.index)
	}
}

// IsScheduled reports whether a is still pending.
func (t *Timer) IsScheduled(a *ScheduledAction) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return a.index >= 0 && a.index < len(t.queue) && t.queue[a.index] == a && !a.canceled
}

// run is the thread loop: wait until the soonest action's execution time,
// then pop and fire every action now due, measuring and reporting any
// diagnostic time gap, and reinserting repeat actions drift-free from
// their prior execution time (not from "now," so a slow tick does not
// compound into faster-than-configured repeats).
func (t *Timer) run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		wait := t.nextWait()
		if wait > 0 {
			if !t.signal.WaitTimeout(wait) {
				continue
			}
		}

		t.fireDue()
	}
}

func (t *Timer) nextWait() time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if len(t.queue) == 0 {
		return time.Hour
	}
	d := t.queue[0].executeAt.Sub(t.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

func (t *Timer) fireDue() {
	for {
		t.mutex.Lock()
		if len(t.queue) == 0 {
			t.mutex.Unlock()
			return
		}
		now := t.clock.Now()
		if t.queue[0].executeAt.After(now) {
			t.mutex.Unlock()
			return
		}
		a := heap.Pop(&t.queue).(*ScheduledAction)
		gap := now.Sub(a.executeAt)
		maxGap := t.maxGap
		gapAction := t.gapAction
		if gap > t.maxObservedGap {
			t.maxObservedGap = gap
		}
		fireGap := maxGap > 0 && gap > maxGap && gapAction != nil && now.After(t.nextGapAt)
		if fireGap {
			t.nextGapAt = now.Add(maxGap)
		}
		t.mutex.Unlock()

		if fireGap {
			gapAction(gap)
		}

		executeAction(a)

		if a.repeat > 0 {
			t.mutex.Lock()
			if !a.canceled && !t.terminating {
				a.executeAt = a.executeAt.Add(a.repeat)
				a.seq = t.nextSeq
				t.nextSeq++
				heap.Push(&t.queue, a)
			}
			t.mutex.Unlock()
		}
	}
}

// executeAction guards a bad action from taking down the timer thread,
// matching NSFTimerThread::executeAction's try/catch.
func executeAction(a *ScheduledAction) {
	defer func() {
		if r := recover(); r != nil {
			globalGapErrorSink(a.name, r)
		}
	}()
	if a.fn != nil {
		a.fn()
	}
}

// globalGapErrorSink routes a panic during action execution to the process
// exception sink if one has been installed; a no-op otherwise so pkg/timer
// has no compile-time dependency on pkg/errs.
var globalGapErrorSink = func(name string, recovered any) {}

// SetActionPanicSink installs the handler invoked when a scheduled
// action's function panics, normally wired to pkg/errs at startup.
func SetActionPanicSink(sink func(name string, recovered any)) {
	globalGapErrorSink = sink
}

// Terminate stops the timer thread, waking it immediately rather than
// waiting for its current timeout to elapse (mirroring
// NSFTimerThread::terminate's "set next timeout to now" wakeup trick).
func (t *Timer) Terminate(wait bool) error {
	t.mutex.Lock()
	t.terminating = true
	t.mutex.Unlock()
	t.thread.RequestTerminate()
	t.signal.Send()
	if !wait {
		return nil
	}
	return t.thread.Join(5 * time.Second)
}

var (
	defaultOnce sync.Once
	defaultT    *Timer
)

// Default returns the process-wide primary timer, creating it on first
// use, matching NSFTimerThread::getPrimaryTimerThread's lazily-constructed
// singleton.
func Default() *Timer {
	defaultOnce.Do(func() { defaultT = New("PrimaryTimerThread") })
	return defaultT
}
