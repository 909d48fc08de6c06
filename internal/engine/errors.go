package engine

import (
	"errors"
	"fmt"
)

// Contract violations. These indicate caller misuse and are always
// surfaced synchronously.
var (
	// ErrAlreadyRunning is returned when Run is invoked on an engine
	// that is already running, or when the fact store is mutated from
	// outside an action while a run is in progress.
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrEngineAlreadyStarted is returned when a rule is registered
	// after the first run has started. The rule base is immutable for
	// the engine's lifetime once inference begins.
	ErrEngineAlreadyStarted = errors.New("engine already started: rule base is frozen")
)

// UnknownFactError is returned by Retract and Modify when the fact id
// is not present in working memory. A second retract of the same id
// fails the same way, so callers holding stale references find out.
type UnknownFactError struct {
	ID FactID
}

func (e *UnknownFactError) Error() string {
	return fmt.Sprintf("unknown fact id %d", e.ID)
}

// IsUnknownFact reports whether err is an UnknownFactError.
// Uses errors.As to handle wrapped errors.
func IsUnknownFact(err error) bool {
	var ue *UnknownFactError
	return errors.As(err, &ue)
}

// ConditionError records a condition predicate that failed during
// matching. The candidate is treated as a non-match and matching of
// other candidates continues; the error stays observable through
// Engine.ConditionErrors.
type ConditionError struct {
	RuleID string
	// Candidate maps each variable the condition saw to the fact id it
	// was being evaluated against.
	Candidate map[string]FactID
	Err       error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition error in rule %s: %v", e.RuleID, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// ActionError records a fired action that failed. By default the loop
// reports it and continues; with WithFatalActionErrors the run
// transitions to Failed and the error is surfaced from Run.
type ActionError struct {
	RuleID     string
	RunToken   string
	BindingKey string
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action error in rule %s (run=%s): %v", e.RuleID, e.RunToken, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// IsActionError reports whether err is an ActionError.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
