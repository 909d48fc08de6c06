package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func equalsRule(id string, salience, want int) *Rule {
	return &Rule{
		ID:         id,
		Salience:   salience,
		Conditions: []Condition{intMatch("n", func(n int) bool { return n == want })},
	}
}

func evenRule(id string, salience int) *Rule {
	return &Rule{
		ID:         id,
		Salience:   salience,
		Conditions: []Condition{intMatch("n", func(n int) bool { return n%2 == 0 })},
	}
}

func firedRuleIDs(report *RunReport) []string {
	ids := make([]string, 0, len(report.Firings))
	for _, f := range report.Firings {
		ids = append(ids, f.RuleID)
	}
	return ids
}

func TestEngine_SalienceScenario(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterRules(
		equalsRule("r1", 1, 15),
		evenRule("r2", 0),
	))

	_, err := e.Assert(8)
	require.NoError(t, err)
	assert.Equal(t, 1, e.AgendaSize(), "8 activates only the even rule")

	e2 := New()
	require.NoError(t, e2.RegisterRules(
		equalsRule("r1", 1, 15),
		evenRule("r2", 0),
	))
	_, err = e2.Assert(15)
	require.NoError(t, err)
	_, err = e2.Assert(8)
	require.NoError(t, err)
	assert.Equal(t, 2, e2.AgendaSize())

	report, err := e2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, report.Final)
	assert.Equal(t, []string{"r1", "r2"}, firedRuleIDs(report), "higher salience fires first")
}

func TestEngine_DeclarationOrderTieBreak(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterRules(
		evenRule("r_a", 0),
		evenRule("r_b", 0),
	))

	_, err := e.Assert(4)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"r_a", "r_b"}, firedRuleIDs(report),
		"equal salience and recency falls back to declaration order")
}

func TestEngine_ActionRetractsOwnBoundFact(t *testing.T) {
	consume := &Rule{
		ID:         "consume",
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(ac *ActionContext) (any, error) {
			return nil, ac.Retract(ac.FactID("n"))
		}),
	}

	e := New()
	require.NoError(t, e.RegisterRule(consume))

	_, err := e.Assert(1)
	require.NoError(t, err)
	_, err = e.Assert(2)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err, "retracting the fact behind the firing binding is legal")
	assert.Equal(t, StateIdle, report.Final)
	assert.Equal(t, 2, report.Steps, "each fact consumed exactly once")
	assert.Empty(t, e.Facts())
	assert.Empty(t, e.ActionErrors())
}

func TestEngine_MaxStepsHaltsBeforeFixpoint(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterRules(
		evenRule("r_a", 0),
		evenRule("r_b", 0),
	))

	_, err := e.Assert(2)
	require.NoError(t, err)
	require.Equal(t, 2, e.AgendaSize())

	report, err := e.RunMax(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, StateHalted, report.Final, "pending work at the cutoff means halted, not idle")
	assert.Equal(t, 1, report.Steps)
	assert.Equal(t, 1, e.AgendaSize())

	// Resuming drains the rest.
	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, report.Final)
	assert.Equal(t, 1, report.Steps)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_MaxStepsWithEmptyAgendaIsIdle(t *testing.T) {
	e := New(WithMaxSteps(1))

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, report.Final, "an empty agenda is fixpoint regardless of the cutoff")
	assert.Zero(t, report.Steps)
}

func TestEngine_ForwardChainingToFixpoint(t *testing.T) {
	promote := &Rule{
		ID:         "promote",
		Conditions: []Condition{intMatch("n", func(n int) bool { return n < 3 })},
		Action: ActionFunc(func(ac *ActionContext) (any, error) {
			next := ac.Value("n").(int) + 1
			ac.Assert(next)
			return next, nil
		}),
	}

	e := New()
	require.NoError(t, e.RegisterRule(promote))

	_, err := e.Assert(0)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, report.Final)
	assert.Equal(t, 3, report.Steps, "0, 1 and 2 each trigger one promotion")

	values := make([]int, 0, 4)
	for _, f := range e.Facts() {
		values = append(values, f.Value.(int))
	}
	assert.Equal(t, []int{0, 1, 2, 3}, values)

	// A second run finds nothing new: every activation is refractory.
	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, report.Final)
	assert.Zero(t, report.Steps)

	assert.Len(t, e.Firings(), 3, "lifetime firing log spans runs")
	assert.Positive(t, e.Clock().Current())
}

func TestEngine_DeterministicFiringSequence(t *testing.T) {
	build := func() *Engine {
		e := New(WithTokenGenerator(NewFixedGenerator("run-1")))
		require.NoError(t, e.RegisterRules(
			equalsRule("fifteen", 1, 15),
			evenRule("even", 0),
			&Rule{
				ID: "pair",
				Conditions: []Condition{
					intMatch("a", func(n int) bool { return n > 0 }),
					intMatch("b", func(n int) bool { return n > 0 }),
					NewCondition(func(bound map[string]any) (bool, error) {
						return bound["a"].(int) < bound["b"].(int), nil
					}, "a", "b"),
				},
			},
		))
		for _, n := range []int{15, 8, 3, 12} {
			_, err := e.Assert(n)
			require.NoError(t, err)
		}
		return e
	}

	trace := func(e *Engine) []string {
		report, err := e.Run(context.Background())
		require.NoError(t, err)
		out := make([]string, 0, len(report.Firings))
		for _, f := range report.Firings {
			out = append(out, f.RuleID+"/"+f.BindingKey)
		}
		return out
	}

	first := trace(build())
	second := trace(build())
	assert.Equal(t, first, second, "identical inputs must produce identical firing sequences")
	assert.NotEmpty(t, first)
}

func TestEngine_RunTokenStampsReportAndFirings(t *testing.T) {
	e := New(WithTokenGenerator(NewFixedGenerator("tok-a", "tok-b")))
	require.NoError(t, e.RegisterRule(evenRule("even", 0)))

	_, err := e.Assert(2)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-a", report.RunToken)
	require.Len(t, report.Firings, 1)
	assert.Equal(t, "tok-a", report.Firings[0].RunToken)

	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-b", report.RunToken, "each run gets a fresh token")
}

func TestEngine_ReentrantRunRejected(t *testing.T) {
	e := New()

	var innerRunErr, innerAssertErr error
	probe := &Rule{
		ID:         "probe",
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(ac *ActionContext) (any, error) {
			_, innerRunErr = e.Run(ac.Context())
			_, innerAssertErr = e.Assert(99)
			return nil, nil
		}),
	}
	require.NoError(t, e.RegisterRule(probe))

	_, err := e.Assert(1)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, innerRunErr, ErrAlreadyRunning)
	assert.ErrorIs(t, innerAssertErr, ErrAlreadyRunning,
		"external mutation surface is rejected while running; actions use their context")
}

func TestEngine_RegisterRuleAfterStart(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterRule(evenRule("even", 0)))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	err = e.RegisterRule(evenRule("late", 0))
	assert.ErrorIs(t, err, ErrEngineAlreadyStarted)
}

func TestEngine_RegisterRuleValidation(t *testing.T) {
	e := New()

	err := e.RegisterRule(&Rule{ID: ""})
	require.Error(t, err, "empty rule ID is rejected")

	require.NoError(t, e.RegisterRule(evenRule("dup", 0)))
	err = e.RegisterRule(evenRule("dup", 0))
	require.Error(t, err, "duplicate rule ID is rejected")

	err = e.RegisterRule(&Rule{
		ID:         "novars",
		Conditions: []Condition{NewCondition(func(map[string]any) (bool, error) { return true, nil })},
	})
	require.Error(t, err, "a condition must constrain at least one variable")
}

func TestEngine_ActionErrorIsolatedByDefault(t *testing.T) {
	boom := errors.New("boom")
	bad := &Rule{
		ID:         "bad",
		Salience:   1,
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(*ActionContext) (any, error) {
			return nil, boom
		}),
	}

	e := New()
	require.NoError(t, e.RegisterRules(bad, evenRule("even", 0)))

	_, err := e.Assert(2)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err, "an isolated action error must not surface from the run")
	assert.Equal(t, StateIdle, report.Final)
	assert.Equal(t, []string{"bad", "even"}, firedRuleIDs(report), "the loop continues past the failure")

	actionErrs := e.ActionErrors()
	require.Len(t, actionErrs, 1)
	assert.Equal(t, "bad", actionErrs[0].RuleID)
	assert.ErrorIs(t, actionErrs[0], boom)
}

func TestEngine_FatalActionErrorFailsRun(t *testing.T) {
	boom := errors.New("boom")
	bad := &Rule{
		ID:         "bad",
		Salience:   1,
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(*ActionContext) (any, error) {
			return nil, boom
		}),
	}

	e := New(WithFatalActionErrors())
	require.NoError(t, e.RegisterRules(bad, evenRule("even", 0)))

	_, err := e.Assert(2)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsActionError(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, report.Final)
	assert.Equal(t, []string{"bad"}, firedRuleIDs(report), "the failing step is the last")
	assert.Equal(t, StateFailed, e.State())
}

func TestEngine_RequestStopHaltsBetweenFirings(t *testing.T) {
	e := New()

	spawn := &Rule{
		ID:         "spawn",
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(ac *ActionContext) (any, error) {
			// Self-sustaining: every firing asserts a new matching fact.
			ac.Assert(ac.Value("n").(int) + 1)
			e.RequestStop()
			return nil, nil
		}),
	}
	require.NoError(t, e.RegisterRule(spawn))

	_, err := e.Assert(0)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateHalted, report.Final)
	assert.Equal(t, 1, report.Steps, "stop is honored between firings, the action completes")
}

func TestEngine_ContextCancellationHalts(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterRule(evenRule("even", 0)))

	_, err := e.Assert(2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateHalted, report.Final)
	assert.Zero(t, report.Steps)
}

func TestEngine_ModifyMintsEligibleActivation(t *testing.T) {
	e := New()
	require.NoError(t, e.RegisterRule(evenRule("even", 0)))

	id, err := e.Assert(2)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Steps)

	// Same value, fresh identity: refractoriness keys on identity.
	newID, err := e.Modify(id, 2)
	require.NoError(t, err)
	require.NotEqual(t, id, newID)

	report, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Steps, "the re-asserted fact is a new activation")
}

func TestEngine_ResultHandlerReceivesFirings(t *testing.T) {
	var results []any
	e := New(WithResultHandler(func(f Firing) { results = append(results, f.Result) }))

	narrate := &Rule{
		ID:         "narrate",
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(ac *ActionContext) (any, error) {
			return fmt.Sprintf("saw %d", ac.Value("n").(int)), nil
		}),
	}
	require.NoError(t, e.RegisterRule(narrate))

	_, err := e.Assert(7)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"saw 7"}, results)
}

type recordingObserver struct {
	started   []string
	finished  []string
	asserted  []FactID
	retracted []FactID
	fired     []Firing
}

func (r *recordingObserver) RunStarted(token string) { r.started = append(r.started, token) }
func (r *recordingObserver) RunFinished(token string, final State, steps int) {
	r.finished = append(r.finished, fmt.Sprintf("%s/%s/%d", token, final, steps))
}
func (r *recordingObserver) FactAsserted(ev Event)  { r.asserted = append(r.asserted, ev.Fact.ID) }
func (r *recordingObserver) FactRetracted(ev Event) { r.retracted = append(r.retracted, ev.Fact.ID) }
func (r *recordingObserver) RuleFired(f Firing)     { r.fired = append(r.fired, f) }

func TestEngine_ObserverSeesLifecycle(t *testing.T) {
	rec := &recordingObserver{}
	e := New(
		WithTokenGenerator(NewFixedGenerator("run-1")),
		WithObserver(rec),
	)

	consume := &Rule{
		ID:         "consume",
		Conditions: []Condition{intMatch("n", func(int) bool { return true })},
		Action: ActionFunc(func(ac *ActionContext) (any, error) {
			return nil, ac.Retract(ac.FactID("n"))
		}),
	}
	require.NoError(t, e.RegisterRule(consume))

	id, err := e.Assert(5)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"run-1"}, rec.started)
	assert.Equal(t, []string{"run-1/idle/1"}, rec.finished)
	assert.Equal(t, []FactID{id}, rec.asserted)
	assert.Equal(t, []FactID{id}, rec.retracted)
	require.Len(t, rec.fired, 1)
	assert.Equal(t, "consume", rec.fired[0].RuleID)
	assert.Equal(t, "run-1", rec.fired[0].RunToken)
}

func TestEngine_IncrementalActivationsMatchRecomputation(t *testing.T) {
	e := New()
	rules := []*Rule{
		evenRule("even", 0),
		{
			ID: "pair",
			Conditions: []Condition{
				intMatch("a", func(n int) bool { return n > 0 }),
				intMatch("b", func(n int) bool { return n > 0 }),
				NewCondition(func(bound map[string]any) (bool, error) {
					return bound["a"].(int) < bound["b"].(int), nil
				}, "a", "b"),
			},
		},
	}
	require.NoError(t, e.RegisterRules(rules...))

	ids := make([]FactID, 0, 4)
	for _, n := range []int{2, 5, 8, 3} {
		id, err := e.Assert(n)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, e.Retract(ids[1]))

	fresh := newMatcher(e.store)
	for i, r := range rules {
		fresh.addRule(r, i)
	}

	assert.Equal(t, activationKeys(fresh.Activations()), activationKeys(e.Activations()))
}

func TestEngine_StateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "halted", StateHalted.String())
	assert.Equal(t, "failed", StateFailed.String())
}
