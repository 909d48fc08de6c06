// Package testutil provides shared test doubles for engine consumers.
package testutil

import (
	"github.com/fluvius-io/ordinal/internal/engine"
)

// RecordingObserver captures every engine notification for assertions.
// It implements engine.Observer.
type RecordingObserver struct {
	Started   []string
	Finished  []RunEnd
	Asserted  []engine.Event
	Retracted []engine.Event
	Fired     []engine.Firing
}

// RunEnd records one RunFinished notification.
type RunEnd struct {
	RunToken string
	Final    engine.State
	Steps    int
}

func (r *RecordingObserver) RunStarted(runToken string) {
	r.Started = append(r.Started, runToken)
}

func (r *RecordingObserver) RunFinished(runToken string, final engine.State, steps int) {
	r.Finished = append(r.Finished, RunEnd{RunToken: runToken, Final: final, Steps: steps})
}

func (r *RecordingObserver) FactAsserted(ev engine.Event) {
	r.Asserted = append(r.Asserted, ev)
}

func (r *RecordingObserver) FactRetracted(ev engine.Event) {
	r.Retracted = append(r.Retracted, ev)
}

func (r *RecordingObserver) RuleFired(f engine.Firing) {
	r.Fired = append(r.Fired, f)
}

// FiredRuleIDs returns the rule ids of the captured firings in order.
func (r *RecordingObserver) FiredRuleIDs() []string {
	ids := make([]string, 0, len(r.Fired))
	for _, f := range r.Fired {
		ids = append(ids, f.RuleID)
	}
	return ids
}
