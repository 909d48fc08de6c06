package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// State is the engine loop's lifecycle state.
type State int32

const (
	// StateIdle means no run is in progress; the last run, if any,
	// reached fixpoint.
	StateIdle State = iota
	// StateRunning means a run is in progress.
	StateRunning
	// StateHalted means the last run stopped before fixpoint: the step
	// cutoff was reached or a stop was requested. Run may be invoked
	// again to resume.
	StateHalted
	// StateFailed means the last run aborted on a fatal action error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Engine is a forward-chaining inference engine: one working memory,
// one immutable rule base, one agenda. It repeatedly selects the
// top-ordered eligible activation, executes its action, propagates the
// resulting working-memory changes incrementally, and stops at
// fixpoint.
//
// Thread-safety model: a non-reentrant guard serializes Run against
// external fact mutations. Mutating working memory from another
// goroutine while a run is in progress is rejected with
// ErrAlreadyRunning, never silently tolerated. A single engine is
// otherwise single-threaded; independent engines share no state and
// may run concurrently.
type Engine struct {
	mu      sync.Mutex
	running atomic.Bool

	clock   *Clock
	store   *FactStore
	matcher *matcher
	agenda  *agenda

	rules   []*Rule
	ruleIDs map[string]bool
	started bool

	state State

	tokens    TokenGenerator
	logger    *slog.Logger
	observers []Observer

	fatalActions  bool
	maxSteps      int
	resultHandler func(Firing)
	stop          atomic.Bool

	actionErrs []*ActionError
	firings    []Firing
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps sets the default step cutoff for Run. Zero (the
// default) means unbounded: Run continues until fixpoint. A positive
// cutoff bounds runaway rule sets; reaching it leaves the engine
// Halted, not Failed.
func WithMaxSteps(n int) Option {
	return func(e *Engine) { e.maxSteps = n }
}

// WithFatalActionErrors makes the first action error abort the run:
// the engine transitions to Failed and Run returns the error. The
// default is to record the error and continue, so one bad rule action
// cannot stop the whole inference run.
func WithFatalActionErrors() Option {
	return func(e *Engine) { e.fatalActions = true }
}

// WithTokenGenerator replaces the run-token source. Tests use
// NewFixedGenerator for deterministic traces.
func WithTokenGenerator(g TokenGenerator) Option {
	return func(e *Engine) { e.tokens = g }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver attaches an observer (journal, test recorder). May be
// given multiple times; observers are notified in attachment order.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithResultHandler forwards each firing's opaque result to the
// handler, for narration or downstream use. The engine never inspects
// results itself.
func WithResultHandler(h func(Firing)) Option {
	return func(e *Engine) { e.resultHandler = h }
}

// New creates an engine with empty working memory and an empty rule
// base. Rules must be registered before the first Run.
func New(opts ...Option) *Engine {
	clock := NewClock()
	store := NewFactStore(clock)
	e := &Engine{
		clock:   clock,
		store:   store,
		matcher: newMatcher(store),
		agenda:  newAgenda(),
		ruleIDs: make(map[string]bool),
		tokens:  UUIDv7Generator{},
		logger:  slog.Default(),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}

	// Every mutation funnels through the store and lands here: the
	// matcher updates incrementally, the agenda absorbs the delta,
	// observers see the event. Ordering matters; the agenda must be
	// current before the loop selects the next activation.
	store.Subscribe(func(ev Event) {
		added, removed := e.matcher.apply(ev)
		e.agenda.update(added, removed)
		for _, o := range e.observers {
			switch ev.Kind {
			case EventAssert:
				o.FactAsserted(ev)
			case EventRetract:
				o.FactRetracted(ev)
			}
		}
	})
	return e
}

// RegisterRule adds a rule to the rule base. Rules are evaluated in
// registration order for tie-breaking. Fails with
// ErrEngineAlreadyStarted once the first run has begun, and with a
// validation error for empty or duplicate IDs.
func (e *Engine) RegisterRule(r *Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrEngineAlreadyStarted
	}
	if err := r.validate(); err != nil {
		return err
	}
	if e.ruleIDs[r.ID] {
		return fmt.Errorf("duplicate rule ID: %s", r.ID)
	}

	e.ruleIDs[r.ID] = true
	index := len(e.rules)
	e.rules = append(e.rules, r)
	added := e.matcher.addRule(r, index)
	e.agenda.update(added, nil)
	return nil
}

// RegisterRules registers rules in order, stopping at the first error.
func (e *Engine) RegisterRules(rules ...*Rule) error {
	for _, r := range rules {
		if err := e.RegisterRule(r); err != nil {
			return err
		}
	}
	return nil
}

// Assert inserts a fact from outside a run. Rejected with
// ErrAlreadyRunning while a run is in progress; actions mutate
// working memory through their ActionContext instead.
func (e *Engine) Assert(value any) (FactID, error) {
	if e.running.Load() {
		return 0, ErrAlreadyRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Assert(value), nil
}

// Retract removes a fact from outside a run.
func (e *Engine) Retract(id FactID) error {
	if e.running.Load() {
		return ErrAlreadyRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Retract(id)
}

// Modify replaces a fact from outside a run. The replacement gets a
// fresh id and timestamp.
func (e *Engine) Modify(id FactID, value any) (FactID, error) {
	if e.running.Load() {
		return 0, ErrAlreadyRunning
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Modify(id, value)
}

// Get returns the fact for id, or false if it is not live.
func (e *Engine) Get(id FactID) (Fact, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

// Facts returns a snapshot of working memory in insertion order.
func (e *Engine) Facts() []Fact {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// AgendaSize returns the number of pending, non-refracted activations.
// Useful for monitoring and testing.
func (e *Engine) AgendaSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agenda.size()
}

// ConditionErrors returns the condition evaluation failures recorded
// so far. Isolated failures, observable so callers can detect and fix
// malformed predicates.
func (e *Engine) ConditionErrors() []*ConditionError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher.ConditionErrors()
}

// ActionErrors returns the non-fatal action failures recorded so far.
func (e *Engine) ActionErrors() []*ActionError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.actionErrs
}

// RequestStop asks a running loop to stop cooperatively. The request
// is checked between firings, never mid-action, so an action always
// completes atomically with respect to cancellation. A no-op when
// nothing is running.
func (e *Engine) RequestStop() {
	e.stop.Store(true)
}

// RunReport summarizes one run.
type RunReport struct {
	RunToken string
	Final    State
	Steps    int
	Firings  []Firing
}

// Run executes the inference loop until fixpoint, the engine's
// configured step cutoff, a stop request, or context cancellation.
// See RunMax.
func (e *Engine) Run(ctx context.Context) (*RunReport, error) {
	return e.RunMax(ctx, e.maxSteps)
}

// RunMax executes the inference loop with an explicit step cutoff
// (zero means unbounded). Repeatedly: select the top activation; if
// none, stop at fixpoint (Idle). Otherwise mark it fired, execute its
// action with the binding resolved to live fact values, apply the
// mutations it performed, and continue.
//
// Reaching the cutoff leaves the engine Halted: an explicit bound on
// runaway rule sets, not an error. Run may be invoked again after
// Idle or Halted to resume against subsequently asserted facts.
// Invoking Run while already running fails with ErrAlreadyRunning.
func (e *Engine) RunMax(ctx context.Context, maxSteps int) (*RunReport, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.started = true
	e.state = StateRunning
	e.stop.Store(false)

	runToken := e.tokens.Generate()
	report := &RunReport{RunToken: runToken}
	for _, o := range e.observers {
		o.RunStarted(runToken)
	}
	e.logger.Debug("run starting", "run", runToken, "facts", e.store.Len(), "agenda", e.agenda.size())

	var runErr error

	for {
		if err := ctx.Err(); err != nil {
			e.state = StateHalted
			runErr = err
			break
		}
		if e.stop.Load() {
			e.logger.Info("run stopping: stop requested", "run", runToken, "steps", report.Steps)
			e.state = StateHalted
			break
		}

		act := e.agenda.selectNext()
		if act == nil {
			// Fixpoint: no eligible, non-refracted activation remains.
			e.state = StateIdle
			break
		}
		if maxSteps > 0 && report.Steps >= maxSteps {
			e.logger.Info("run halting: step cutoff reached", "run", runToken, "steps", report.Steps, "max_steps", maxSteps)
			e.state = StateHalted
			break
		}

		firing, err := e.fire(ctx, runToken, act)
		report.Steps++
		report.Firings = append(report.Firings, firing)

		if err != nil {
			actErr := &ActionError{
				RuleID:     act.Rule.ID,
				RunToken:   runToken,
				BindingKey: act.Binding.Key,
				Err:        err,
			}
			if e.fatalActions {
				e.state = StateFailed
				runErr = actErr
				break
			}
			e.actionErrs = append(e.actionErrs, actErr)
			e.logger.Error("action failed, continuing",
				"run", runToken,
				"rule", act.Rule.ID,
				"binding", act.Binding.Key,
				"error", err,
			)
		}
	}

	report.Final = e.state
	for _, o := range e.observers {
		o.RunFinished(runToken, e.state, report.Steps)
	}
	e.logger.Debug("run finished", "run", runToken, "state", e.state.String(), "steps", report.Steps)
	return report, runErr
}

// fire executes one activation: resolve bound facts to live values,
// mark the activation fired, run the action, record the firing.
// Marking fired first means a retraction performed by the action
// (including of its own bound facts) cannot resurrect the activation.
func (e *Engine) fire(ctx context.Context, runToken string, act *Activation) (Firing, error) {
	values := make(map[string]any, len(act.Binding.Vars))
	for v, id := range act.Binding.Vars {
		f, ok := e.store.Get(id)
		if !ok {
			// The agenda only holds activations over live facts.
			panic(fmt.Sprintf("activation %s references retracted fact %d", act.refKey(), id))
		}
		values[v] = f.Value
	}

	e.agenda.markFired(act)

	var result any
	var err error
	if act.Rule.Action != nil {
		ac := &ActionContext{
			ctx:      ctx,
			engine:   e,
			rule:     act.Rule,
			runToken: runToken,
			binding:  act.Binding,
			values:   values,
		}
		result, err = act.Rule.Action.Execute(ac)
	}

	firing := Firing{
		Seq:        e.clock.Next(),
		RunToken:   runToken,
		RuleID:     act.Rule.ID,
		BindingKey: act.Binding.Key,
		Binding:    act.Binding.Vars,
		Result:     result,
		Err:        err,
	}
	e.firings = append(e.firings, firing)

	e.logger.Debug("rule fired",
		"run", runToken,
		"rule", act.Rule.ID,
		"binding", act.Binding.Key,
		"seq", firing.Seq,
	)
	for _, o := range e.observers {
		o.RuleFired(firing)
	}
	if e.resultHandler != nil {
		e.resultHandler(firing)
	}
	return firing, err
}

// Firings returns every firing recorded over the engine's lifetime,
// across runs, in execution order.
func (e *Engine) Firings() []Firing {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firings
}

// Activations returns the matcher's current full activation set.
// Used for verification and testing: the incremental set must always
// equal a from-scratch recomputation.
func (e *Engine) Activations() []*Activation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matcher.Activations()
}

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}
