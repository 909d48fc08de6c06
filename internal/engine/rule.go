package engine

import (
	"context"
	"fmt"
)

// Condition is a predicate over named variables. During matching each
// variable is bound to exactly one fact; Evaluate sees the bound fact
// values keyed by variable name.
//
// Evaluate must be deterministic for a given assignment. An error is
// treated as "does not match" for that candidate and recorded; it
// never aborts the match pass.
type Condition interface {
	// Variables returns the variable names this condition constrains,
	// in a stable order.
	Variables() []string

	// Evaluate reports whether the condition holds for the bound
	// values. Only the variables returned by Variables are present.
	Evaluate(bound map[string]any) (bool, error)
}

type conditionFunc struct {
	vars []string
	fn   func(bound map[string]any) (bool, error)
}

func (c *conditionFunc) Variables() []string { return c.vars }

func (c *conditionFunc) Evaluate(bound map[string]any) (bool, error) {
	return c.fn(bound)
}

// NewCondition builds a Condition from a predicate over the named
// variables.
func NewCondition(fn func(bound map[string]any) (bool, error), vars ...string) Condition {
	return &conditionFunc{vars: vars, fn: fn}
}

// FactMatch builds a single-variable Condition from a plain predicate
// over the bound fact value. The common case for filter conditions.
func FactMatch(variable string, pred func(value any) bool) Condition {
	return &conditionFunc{
		vars: []string{variable},
		fn: func(bound map[string]any) (bool, error) {
			return pred(bound[variable]), nil
		},
	}
}

// Action is the consequence of a rule. Execute runs with the
// activation's variables resolved to live fact values and may mutate
// working memory through the ActionContext. The returned value is an
// opaque result the engine forwards to its report and observers,
// never inspects.
type Action interface {
	Execute(ac *ActionContext) (any, error)
}

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(ac *ActionContext) (any, error)

// Execute implements Action.
func (f ActionFunc) Execute(ac *ActionContext) (any, error) { return f(ac) }

// Rule is an immutable condition/action pair. Rules are registered
// once, before the first run; identity comes from the ID and the
// declaration order, never from facts.
type Rule struct {
	// ID names the rule. Must be unique within an engine.
	ID string

	// Salience orders conflict resolution; higher fires first.
	// Default 0.
	Salience int

	// Conditions must all hold simultaneously under one consistent
	// variable binding for the rule to activate.
	Conditions []Condition

	// Action runs when an activation of this rule is selected. A nil
	// action is a no-op (the firing is still recorded).
	Action Action
}

// variables returns the rule's variable names in first-appearance
// order across its condition list. The order is part of the rule's
// deterministic matching behavior.
func (r *Rule) variables() []string {
	var vars []string
	seen := make(map[string]bool)
	for _, c := range r.Conditions {
		for _, v := range c.Variables() {
			if !seen[v] {
				seen[v] = true
				vars = append(vars, v)
			}
		}
	}
	return vars
}

func (r *Rule) validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has empty ID")
	}
	for i, c := range r.Conditions {
		if len(c.Variables()) == 0 {
			return fmt.Errorf("rule %s: condition %d constrains no variables", r.ID, i)
		}
	}
	return nil
}

// ActionContext gives a firing action access to its bound facts and to
// working memory. Mutations funnel through the fact store immediately,
// so the matcher and agenda are up to date before the next activation
// is selected.
type ActionContext struct {
	ctx      context.Context
	engine   *Engine
	rule     *Rule
	runToken string
	binding  *Binding
	values   map[string]any
}

// Context returns the run's context.
func (ac *ActionContext) Context() context.Context { return ac.ctx }

// RunToken returns the token identifying the current run.
func (ac *ActionContext) RunToken() string { return ac.runToken }

// Rule returns the rule being fired.
func (ac *ActionContext) Rule() *Rule { return ac.rule }

// Value returns the fact value bound to the named variable.
func (ac *ActionContext) Value(variable string) any { return ac.values[variable] }

// FactID returns the fact id bound to the named variable, or 0 if the
// variable is not part of the binding.
func (ac *ActionContext) FactID(variable string) FactID {
	return ac.binding.Vars[variable]
}

// Bound returns all bound values keyed by variable name. The map is
// shared; callers must not mutate it.
func (ac *ActionContext) Bound() map[string]any { return ac.values }

// Assert inserts a new fact from within the action.
func (ac *ActionContext) Assert(value any) FactID {
	return ac.engine.store.Assert(value)
}

// Retract removes a fact from within the action. Retracting a fact
// bound by this very activation is legal; the activation has already
// been marked fired.
func (ac *ActionContext) Retract(id FactID) error {
	return ac.engine.store.Retract(id)
}

// Modify replaces a fact from within the action. The replacement gets
// a fresh id and timestamp.
func (ac *ActionContext) Modify(id FactID, value any) (FactID, error) {
	return ac.engine.store.Modify(id, value)
}
