package observers

import (
	"sync"
	"time"

	"github.com/nsforge/nsf/pkg/core"
)

// MetricsObserver collects visit counts, cumulative time-in-state,
// transition counts, event counts, and error counts, generalized from the
// teacher's pkg/observers/metrics_observer.go to core.Transition (which
// exposes Source()/Target() instead of the teacher's bare from/to
// parameters).
type MetricsObserver struct {
	mutex            sync.RWMutex
	stateVisits      map[string]int
	stateTimeSpent   map[string]time.Duration
	lastStateEntry   map[string]time.Time
	eventCounts      map[string]int
	transitionCounts map[string]int
	errorCount       int
}

func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{
		stateVisits:      make(map[string]int),
		stateTimeSpent:   make(map[string]time.Duration),
		lastStateEntry:   make(map[string]time.Time),
		eventCounts:      make(map[string]int),
		transitionCounts: make(map[string]int),
	}
}

func (o *MetricsObserver) OnStateEnter(sm *core.StateMachine, state core.State) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.stateVisits[state.Name()]++
	o.lastStateEntry[state.Name()] = time.Now()
}

func (o *MetricsObserver) OnStateExit(sm *core.StateMachine, state core.State) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if entered, ok := o.lastStateEntry[state.Name()]; ok {
		o.stateTimeSpent[state.Name()] += time.Since(entered)
		delete(o.lastStateEntry, state.Name())
	}
}

func (o *MetricsObserver) OnTransition(sm *core.StateMachine, t *core.Transition) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	from, to := "nil", "nil"
	if t.Source() != nil {
		from = t.Source().Name()
	}
	if t.Target() != nil {
		to = t.Target().Name()
	}
	o.transitionCounts[from+"->"+to]++
}

func (o *MetricsObserver) OnEventProcessed(sm *core.StateMachine, event *core.Event) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.eventCounts[eventName(event)]++
}

func (o *MetricsObserver) OnError(sm *core.StateMachine, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.errorCount++
}

func (o *MetricsObserver) StateVisitCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return cloneIntMap(o.stateVisits)
}

func (o *MetricsObserver) StateTimeSpent() map[string]time.Duration {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	result := make(map[string]time.Duration, len(o.stateTimeSpent))
	for k, v := range o.stateTimeSpent {
		result[k] = v
	}
	return result
}

func (o *MetricsObserver) EventCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return cloneIntMap(o.eventCounts)
}

func (o *MetricsObserver) TransitionCounts() map[string]int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return cloneIntMap(o.transitionCounts)
}

func (o *MetricsObserver) ErrorCount() int {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	return o.errorCount
}

func (o *MetricsObserver) Reset() {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.stateVisits = make(map[string]int)
	o.stateTimeSpent = make(map[string]time.Duration)
	o.lastStateEntry = make(map[string]time.Time)
	o.eventCounts = make(map[string]int)
	o.transitionCounts = make(map[string]int)
	o.errorCount = 0
}

func cloneIntMap(m map[string]int) map[string]int {
	result := make(map[string]int, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
