package engine

// Firing records one executed activation: what fired, under which run,
// with which binding, and what the action produced. Result is opaque;
// the engine forwards it and never inspects it.
type Firing struct {
	Seq        int64
	RunToken   string
	RuleID     string
	BindingKey string
	Binding    map[string]FactID
	Result     any
	Err        error
}

// Observer receives engine lifecycle notifications: working-memory
// changes, firings and run boundaries. Implemented by the journal and
// by test recorders. Observers run synchronously on the engine
// goroutine and must not mutate the engine.
type Observer interface {
	RunStarted(runToken string)
	RunFinished(runToken string, final State, steps int)
	FactAsserted(ev Event)
	FactRetracted(ev Event)
	RuleFired(f Firing)
}
