// Package nsf provides a hierarchical, concurrent, event-driven state
// machine runtime implementing UML-2.x composite states, orthogonal
// regions, pseudostates (initial, choice, fork/join, shallow/deep
// history), and run-to-completion event processing, re-exporting the
// pkg/core, pkg/builders, pkg/observers, pkg/timer, pkg/errs, pkg/env, and
// pkg/trace types the way the teacher's root fluo.go package re-exports
// pkg/core/pkg/states/pkg/builders/pkg/observers/pkg/utils.
package nsf

import (
	"github.com/nsforge/nsf/pkg/builders"
	"github.com/nsforge/nsf/pkg/core"
	"github.com/nsforge/nsf/pkg/env"
	"github.com/nsforge/nsf/pkg/errs"
	"github.com/nsforge/nsf/pkg/observers"
	"github.com/nsforge/nsf/pkg/timer"
	"github.com/nsforge/nsf/pkg/trace"
)

// Core types
type (
	StateMachine  = core.StateMachine
	State         = core.State
	CompositeState = core.CompositeState
	Region        = core.Region
	Event         = core.Event
	Context       = core.Context
	GuardCondition = core.GuardCondition
	Action        = core.Action
	Transition    = core.Transition
	TransitionKind = core.Kind
	EventHandler  = core.EventHandler
	EventThread   = core.EventThread
	Observer      = core.Observer
	Fault         = core.Fault
	HistoryKind   = core.HistoryKind
	ChoiceState   = core.ChoiceState
	HistoryState  = core.HistoryState
	ForkJoin      = core.ForkJoin
)

// Transition kind constants.
const (
	KindInternal = core.KindInternal
	KindLocal    = core.KindLocal
	KindExternal = core.KindExternal
	KindForkJoin = core.KindForkJoin
)

// History kind constants.
const (
	HistoryShallow = core.HistoryShallow
	HistoryDeep    = core.HistoryDeep
)

// Core constructors.
var (
	NewStateMachine         = core.NewStateMachine
	NewEventThread          = core.NewEventThread
	NewEventHandler         = core.NewEventHandler
	NewEvent                = core.NewEvent
	NewEventWithPayload     = core.NewEventWithPayload
	NewEventFor             = core.NewEventFor
	NewBaseState            = core.NewBaseState
	NewCompositeState       = core.NewCompositeState
	NewChoiceState          = core.NewChoiceState
	NewForkJoin             = core.NewForkJoin
	NewHistoryState         = core.NewHistoryState
	NewInternalTransition   = core.NewInternalTransition
	NewLocalTransition      = core.NewLocalTransition
	NewExternalTransition   = core.NewExternalTransition
	NewForkJoinTransition   = core.NewForkJoinTransition

	NewForkJoinToForkJoinTransition = core.NewForkJoinToForkJoinTransition

	SetGlobalExceptionSink = core.SetGlobalExceptionSink
	SetScheduler           = core.SetScheduler
	SetTraceSink           = core.SetTraceSink
)

// Builder types and constructor.
type Builder = builders.Builder

var NewBuilder = builders.New

// Observer types and constructors.
type (
	LoggingObserver    = observers.LoggingObserver
	MetricsObserver    = observers.MetricsObserver
	ValidationObserver = observers.ValidationObserver
)

var (
	NewLoggingObserver    = observers.NewLoggingObserver
	NewMetricsObserver    = observers.NewMetricsObserver
	NewValidationObserver = observers.NewValidationObserver
)

// Exception taxonomy types and constructor.
type (
	Exception        = errs.Exception
	ExceptionHandler = errs.Handler
	Category         = errs.Category
)

const (
	CategoryTopology    = errs.CategoryTopology
	CategoryGuardAction = errs.CategoryGuardAction
	CategoryDispatch    = errs.CategoryDispatch
	CategoryLifecycle   = errs.CategoryLifecycle
	CategoryLoopSafety  = errs.CategoryLoopSafety
)

var DefaultExceptionHandler = errs.Default

// Timer types and constructor.
type (
	Timer           = timer.Timer
	ScheduledAction = timer.ScheduledAction
)

var (
	NewTimer     = timer.New
	DefaultTimer = timer.Default
)

// Trace log types and constructors.
type (
	TraceLog   = trace.Log
	TraceEntry = trace.Entry
	TraceField = trace.Field
)

var (
	NewTraceLog     = trace.New
	DefaultTraceLog = trace.Default
	LoadTraceLog    = trace.Load
)

// Environment type and constructor.
type Environment = env.Environment

var (
	NewEnvironment     = env.New
	DefaultEnvironment = env.Default
)
