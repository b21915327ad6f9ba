// Package observers provides core.Observer implementations for logging,
// metrics collection, and topology validation, generalized from the
// teacher's pkg/observers/*.go to the hierarchical core.StateMachine and
// core.Transition types (see DESIGN.md).
package observers

import (
	"github.com/nsforge/nsf/pkg/core"
	"github.com/sirupsen/logrus"
)

// LoggingObserver logs every state entry/exit, transition, processed
// event, and error through a logrus.FieldLogger, replacing the teacher's
// hand-rolled LogLevel/LogFormatter/fmt.Printf machinery with structured,
// leveled, key/value logging (state, event, transition fields), per
// SPEC_FULL.md's ambient-logging section.
type LoggingObserver struct {
	logger logrus.FieldLogger
}

// NewLoggingObserver creates an observer logging through logger. Pass
// logrus.StandardLogger() for process-default behavior.
func NewLoggingObserver(logger logrus.FieldLogger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

func (o *LoggingObserver) OnStateEnter(sm *core.StateMachine, state core.State) {
	o.logger.WithFields(logrus.Fields{"machine": sm.Name(), "state": state.Name()}).Info("state entered")
}

func (o *LoggingObserver) OnStateExit(sm *core.StateMachine, state core.State) {
	o.logger.WithFields(logrus.Fields{"machine": sm.Name(), "state": state.Name()}).Info("state exited")
}

func (o *LoggingObserver) OnTransition(sm *core.StateMachine, t *core.Transition) {
	fields := logrus.Fields{"machine": sm.Name(), "transition": t.Name()}
	if t.Source() != nil {
		fields["from"] = t.Source().Name()
	}
	if t.Target() != nil {
		fields["to"] = t.Target().Name()
	}
	o.logger.WithFields(fields).Info("transition fired")
}

func (o *LoggingObserver) OnEventProcessed(sm *core.StateMachine, event *core.Event) {
	o.logger.WithFields(logrus.Fields{"machine": sm.Name(), "event": eventName(event)}).Debug("event processed")
}

func (o *LoggingObserver) OnError(sm *core.StateMachine, err error) {
	o.logger.WithFields(logrus.Fields{"machine": sm.Name()}).WithError(err).Error("state machine error")
}

func eventName(e *core.Event) string {
	if e == nil {
		return "<completion>"
	}
	return e.Name()
}
