// Package errs provides the process-wide exception taxonomy and the
// global ExceptionHandler sink that pkg/core.Fault values are routed to
// once a local ExceptionAction (if any) has already seen them, generalized
// from the teacher's pkg/utils.StateMachineError/ErrorCollector pattern
// (see DESIGN.md) and original_source/Framework/NSFExceptionHandler.cpp's
// single process-wide handler.
package errs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nsforge/nsf/pkg/core"
)

// Category classifies a Fault by the subsystem that raised it, matching
// spec.md §7's exception taxonomy.
type Category int

const (
	CategoryTopology Category = iota
	CategoryGuardAction
	CategoryDispatch
	CategoryLifecycle
	CategoryLoopSafety
)

func (c Category) String() string {
	switch c {
	case CategoryTopology:
		return "topology"
	case CategoryGuardAction:
		return "guard-action"
	case CategoryDispatch:
		return "dispatch"
	case CategoryLifecycle:
		return "lifecycle"
	case CategoryLoopSafety:
		return "loop-safety"
	default:
		return "unknown"
	}
}

// Exception wraps a *core.Fault with a Category, the concrete error type
// callers register reactions against.
type Exception struct {
	Category Category
	Fault    *core.Fault
}

func (e *Exception) Error() string {
	return fmt.Sprintf("[%s] %s", e.Category, e.Fault.Error())
}

func (e *Exception) Unwrap() error { return e.Fault }

// classify assigns a Category to a bare *core.Fault, based on the kind of
// underlying error it wraps, so reactions registered by Category work
// whether the Fault came from core, timer, or anywhere else in the module.
func classify(fault *core.Fault) Category {
	switch fault.Err.(type) {
	case nil:
		return CategoryDispatch
	}
	msg := fault.Err.Error()
	switch {
	case strings.Contains(msg, "termination"):
		return CategoryLifecycle
	case strings.Contains(msg, "consecutive transitions"):
		return CategoryLoopSafety
	case strings.Contains(msg, "initial state") || strings.Contains(msg, "local transition") || strings.Contains(msg, "choice state"):
		return CategoryTopology
	case strings.Contains(msg, "action") || strings.Contains(msg, "guard"):
		return CategoryGuardAction
	default:
		return CategoryDispatch
	}
}

// Reaction is a user-registered callback invoked for every Exception
// reaching the Handler whose Category matches (or, if registered with
// CategoryAny, every Exception).
type Reaction func(exc *Exception)

// CategoryAny matches every category when registering a Reaction.
const CategoryAny Category = -1

// Handler is the process-wide exception sink: every *core.Fault raised
// anywhere in the module (a StateMachine's HandleException, a Timer
// action panic, an EventHandler reaction error) is routed here via
// core.SetGlobalExceptionSink/timer.SetActionPanicSink once installed,
// matching original_source/Framework/NSFExceptionHandler's single
// process-wide handler with user-registrable reactions.
type Handler struct {
	mutex     sync.Mutex
	reactions map[Category][]Reaction
	history   []*Exception
	maxKept   int
}

// NewHandler creates a handler retaining up to maxKept recent exceptions
// for inspection (0 disables retention).
func NewHandler(maxKept int) *Handler {
	return &Handler{reactions: make(map[Category][]Reaction), maxKept: maxKept}
}

// OnCategory registers fn to run whenever an Exception of the given
// Category (or CategoryAny, for every Exception) is handled.
func (h *Handler) OnCategory(cat Category, fn Reaction) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.reactions[cat] = append(h.reactions[cat], fn)
}

// Handle is the sink function itself: classify the fault, run matching
// reactions, and retain it in history.
func (h *Handler) Handle(fault error) {
	f, ok := fault.(*core.Fault)
	if !ok {
		f = core.NewFault("unknown", fault)
	}
	exc := &Exception{Category: classify(f), Fault: f}

	h.mutex.Lock()
	if h.maxKept > 0 {
		h.history = append(h.history, exc)
		if len(h.history) > h.maxKept {
			h.history = h.history[len(h.history)-h.maxKept:]
		}
	}
	reactions := append([]Reaction(nil), h.reactions[exc.Category]...)
	reactions = append(reactions, h.reactions[CategoryAny]...)
	h.mutex.Unlock()

	for _, r := range reactions {
		if r != nil {
			r(exc)
		}
	}
}

// History returns a snapshot of retained exceptions, oldest first.
func (h *Handler) History() []*Exception {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]*Exception(nil), h.history...)
}

var (
	defaultOnce sync.Once
	defaultH    *Handler
)

// Default returns (creating on first use) the process-wide handler, and
// installs it as core.SetGlobalExceptionSink's backing sink. Call this
// once during environment start-up (pkg/env does, automatically).
func Default() *Handler {
	defaultOnce.Do(func() {
		defaultH = NewHandler(256)
		core.SetGlobalExceptionSink(defaultH.Handle)
	})
	return defaultH
}
