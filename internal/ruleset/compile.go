package ruleset

import (
	"fmt"
	"strings"

	"github.com/fluvius-io/ordinal/internal/engine"
)

// CompileError reports a rule document construct that cannot be
// translated into an engine rule.
type CompileError struct {
	Rule    string
	Field   string
	Message string
}

func (e *CompileError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %q: %s: %s", e.Rule, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile translates a validated document into engine rules, in
// document order. Document order becomes declaration order, which the
// engine uses as a conflict-resolution tie-break.
func Compile(doc *Document) ([]*engine.Rule, error) {
	seen := make(map[string]bool, len(doc.Rules))
	rules := make([]*engine.Rule, 0, len(doc.Rules))

	for _, rd := range doc.Rules {
		if seen[rd.Name] {
			return nil, &CompileError{Rule: rd.Name, Field: "name", Message: "duplicate rule name"}
		}
		seen[rd.Name] = true

		r, err := compileRule(rd)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func compileRule(rd RuleDoc) (*engine.Rule, error) {
	conditions := make([]engine.Condition, 0, len(rd.When))
	for i, cd := range rd.When {
		c, err := compileCondition(rd.Name, i, cd)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}

	action, err := compileEffects(rd.Name, rd.Then)
	if err != nil {
		return nil, err
	}

	return &engine.Rule{
		ID:         rd.Name,
		Salience:   rd.Salience,
		Conditions: conditions,
		Action:     action,
	}, nil
}

func compileCondition(ruleName string, index int, cd ConditionDoc) (engine.Condition, error) {
	field := func(name string) string {
		return fmt.Sprintf("when[%d].%s", index, name)
	}

	if cd.Join != nil {
		if cd.Var != "" || cd.Op != "" {
			return nil, &CompileError{Rule: ruleName, Field: field("join"), Message: "a condition is either a filter or a join, not both"}
		}
		return compileJoin(ruleName, field("join"), *cd.Join)
	}

	if cd.Var == "" {
		return nil, &CompileError{Rule: ruleName, Field: field("var"), Message: "filter requires a variable name"}
	}

	variable, fieldName, want := cd.Var, cd.Field, cd.Value
	if cd.Op == "exists" {
		return engine.NewCondition(func(bound map[string]any) (bool, error) {
			_, ok := project(bound[variable], fieldName)
			return ok, nil
		}, variable), nil
	}

	cmp, err := comparator(cd.Op)
	if err != nil {
		return nil, &CompileError{Rule: ruleName, Field: field("op"), Message: err.Error()}
	}
	return engine.NewCondition(func(bound map[string]any) (bool, error) {
		val, ok := project(bound[variable], fieldName)
		if !ok {
			return false, nil
		}
		return cmp(val, want)
	}, variable), nil
}

func compileJoin(ruleName, field string, jd JoinDoc) (engine.Condition, error) {
	if jd.Left == "" || jd.Right == "" {
		return nil, &CompileError{Rule: ruleName, Field: field, Message: "join requires left and right variables"}
	}
	if jd.Left == jd.Right {
		return nil, &CompileError{Rule: ruleName, Field: field, Message: "join variables must differ"}
	}
	cmp, err := comparator(jd.Op)
	if err != nil {
		return nil, &CompileError{Rule: ruleName, Field: field + ".op", Message: err.Error()}
	}

	return engine.NewCondition(func(bound map[string]any) (bool, error) {
		lv, ok := project(bound[jd.Left], jd.LeftField)
		if !ok {
			return false, nil
		}
		rv, ok := project(bound[jd.Right], jd.RightField)
		if !ok {
			return false, nil
		}
		return cmp(lv, rv)
	}, jd.Left, jd.Right), nil
}

// compileEffects fuses a rule's effect list into one action executing
// them in document order. Report strings are expanded and joined into
// the action's result; a rule without effects gets a nil action, which
// the engine records as a no-op firing.
func compileEffects(ruleName string, effects []EffectDoc) (engine.Action, error) {
	if len(effects) == 0 {
		return nil, nil
	}

	type step func(ac *engine.ActionContext, reports *[]string) error
	steps := make([]step, 0, len(effects))

	for i, ed := range effects {
		field := fmt.Sprintf("then[%d]", i)
		switch {
		case ed.Assert != nil:
			payload := ed.Assert
			steps = append(steps, func(ac *engine.ActionContext, _ *[]string) error {
				value, err := expandValue(payload, ac.Bound())
				if err != nil {
					return fmt.Errorf("%s.assert: %w", field, err)
				}
				ac.Assert(value)
				return nil
			})
		case ed.Retract != "":
			variable := ed.Retract
			steps = append(steps, func(ac *engine.ActionContext, _ *[]string) error {
				id := ac.FactID(variable)
				if id == 0 {
					return fmt.Errorf("%s.retract: variable %q is not bound", field, variable)
				}
				return ac.Retract(id)
			})
		case ed.Report != "":
			message := ed.Report
			steps = append(steps, func(ac *engine.ActionContext, reports *[]string) error {
				expanded, err := expandString(message, ac.Bound())
				if err != nil {
					return fmt.Errorf("%s.report: %w", field, err)
				}
				*reports = append(*reports, expanded)
				return nil
			})
		default:
			return nil, &CompileError{Rule: ruleName, Field: field, Message: "effect must set assert, retract or report"}
		}
	}

	return engine.ActionFunc(func(ac *engine.ActionContext) (any, error) {
		var reports []string
		for _, s := range steps {
			if err := s(ac, &reports); err != nil {
				return nil, err
			}
		}
		if len(reports) == 0 {
			return nil, nil
		}
		return strings.Join(reports, "; "), nil
	}), nil
}

// project resolves a field of a bound fact value. An empty field means
// the whole value. Field access requires a string-keyed map value.
func project(value any, field string) (any, bool) {
	if field == "" {
		return value, value != nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}

func comparator(op string) (func(a, b any) (bool, error), error) {
	switch op {
	case "eq":
		return func(a, b any) (bool, error) { return equal(a, b), nil }, nil
	case "ne":
		return func(a, b any) (bool, error) { return !equal(a, b), nil }, nil
	case "lt", "lte", "gt", "gte":
		return func(a, b any) (bool, error) {
			an, aok := asFloat(a)
			bn, bok := asFloat(b)
			if !aok || !bok {
				return false, fmt.Errorf("%s compares numbers, got %T and %T", op, a, b)
			}
			switch op {
			case "lt":
				return an < bn, nil
			case "lte":
				return an <= bn, nil
			case "gt":
				return an > bn, nil
			default:
				return an >= bn, nil
			}
		}, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// equal compares scalars with numeric coercion, so a YAML 10 matches a
// fact holding int64(10) or float64(10).
func equal(a, b any) bool {
	if an, ok := asFloat(a); ok {
		if bn, ok := asFloat(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
