package engine

// matcher maintains, for every rule, the set of bindings currently
// satisfying all its conditions, and keeps that set correct under
// incremental working-memory changes.
//
// Structure per rule: single-variable conditions act as per-variable
// filters, so each variable keeps an insertion-ordered candidate list
// of facts that pass its filters. Complete bindings are consistent
// combinations of candidates that also pass every multi-variable
// condition. On assert only combinations containing the new fact are
// enumerated; on retract every binding referencing the fact is
// dropped via a fact-id index. No linked node network: just the fact
// arena plus per-rule tables keyed by fact id.
//
// Determinism: rules are visited in declaration order, variables in
// first-appearance order, candidates in fact insertion order. The
// same fact set therefore always yields the same binding set.
type matcher struct {
	store  *FactStore
	states []*ruleState
	errs   []*ConditionError
}

type ruleState struct {
	rule  *Rule
	index int
	vars  []string

	alpha map[string][]Condition // conditions over exactly one variable
	beta  []Condition            // conditions over two or more variables

	candidates map[string][]FactID
	inCand     map[string]map[FactID]bool

	bindings     map[string]*Binding // by binding key
	bindingOrder []string            // keys in creation order
	byFact       map[FactID][]string // fact id -> binding keys
}

func newMatcher(store *FactStore) *matcher {
	return &matcher{store: store}
}

// addRule registers a rule and seeds its binding table from the
// current fact set. Returns the activations created.
func (m *matcher) addRule(r *Rule, index int) []*Activation {
	rs := &ruleState{
		rule:       r,
		index:      index,
		vars:       r.variables(),
		alpha:      make(map[string][]Condition),
		candidates: make(map[string][]FactID),
		inCand:     make(map[string]map[FactID]bool),
		bindings:   make(map[string]*Binding),
		byFact:     make(map[FactID][]string),
	}
	for _, c := range r.Conditions {
		if vars := c.Variables(); len(vars) == 1 {
			rs.alpha[vars[0]] = append(rs.alpha[vars[0]], c)
		} else {
			rs.beta = append(rs.beta, c)
		}
	}
	for _, v := range rs.vars {
		rs.inCand[v] = make(map[FactID]bool)
	}
	m.states = append(m.states, rs)

	// Seed candidates from the live fact set in insertion order.
	for _, f := range m.store.Snapshot() {
		for _, v := range rs.vars {
			if m.passesAlpha(rs, v, f) {
				rs.candidates[v] = append(rs.candidates[v], f.ID)
				rs.inCand[v][f.ID] = true
			}
		}
	}

	var added []*Activation
	m.enumerate(rs, "", 0, &added)
	return added
}

// apply routes a working-memory change event to the incremental
// update and returns the activations added and removed.
func (m *matcher) apply(ev Event) (added, removed []*Activation) {
	switch ev.Kind {
	case EventAssert:
		return m.onAssert(ev.Fact), nil
	case EventRetract:
		return nil, m.onRetract(ev.Fact.ID)
	default:
		return nil, nil
	}
}

// onAssert extends each rule's binding table with combinations that
// include the new fact. A fact may participate in zero, one or many
// bindings per rule; duplicates arising when the fact qualifies for
// several variables are collapsed by binding key.
func (m *matcher) onAssert(f Fact) []*Activation {
	var added []*Activation
	for _, rs := range m.states {
		var passing []string
		for _, v := range rs.vars {
			if m.passesAlpha(rs, v, f) {
				rs.candidates[v] = append(rs.candidates[v], f.ID)
				rs.inCand[v][f.ID] = true
				passing = append(passing, v)
			}
		}
		for _, pinned := range passing {
			m.enumeratePinned(rs, pinned, f.ID, &added)
		}
	}
	return added
}

// onRetract drops every binding, for every rule, that references the
// fact. The matcher never reports an activation whose binding
// references a retracted fact.
func (m *matcher) onRetract(id FactID) []*Activation {
	var removed []*Activation
	for _, rs := range m.states {
		for _, v := range rs.vars {
			if rs.inCand[v][id] {
				delete(rs.inCand[v], id)
				for i, cid := range rs.candidates[v] {
					if cid == id {
						rs.candidates[v] = append(rs.candidates[v][:i], rs.candidates[v][i+1:]...)
						break
					}
				}
			}
		}

		keys := rs.byFact[id]
		if len(keys) == 0 {
			continue
		}
		delete(rs.byFact, id)
		for _, key := range keys {
			b, ok := rs.bindings[key]
			if !ok {
				continue
			}
			delete(rs.bindings, key)
			for i, k := range rs.bindingOrder {
				if k == key {
					rs.bindingOrder = append(rs.bindingOrder[:i], rs.bindingOrder[i+1:]...)
					break
				}
			}
			// Drop the key from the other bound facts' indexes.
			for _, bid := range b.Vars {
				if bid == id {
					continue
				}
				rs.byFact[bid] = removeString(rs.byFact[bid], key)
			}
			removed = append(removed, &Activation{Rule: rs.rule, Binding: b, ruleIndex: rs.index})
		}
	}
	return removed
}

// Activations returns the current full activation set, rules in
// declaration order, bindings in creation order. Recomputable from
// scratch by replaying the fact store into a fresh matcher.
func (m *matcher) Activations() []*Activation {
	var out []*Activation
	for _, rs := range m.states {
		for _, key := range rs.bindingOrder {
			out = append(out, &Activation{Rule: rs.rule, Binding: rs.bindings[key], ruleIndex: rs.index})
		}
	}
	return out
}

// ConditionErrors returns the condition evaluation failures recorded
// so far.
func (m *matcher) ConditionErrors() []*ConditionError {
	return m.errs
}

// passesAlpha reports whether the fact satisfies every single-variable
// condition on v. An evaluation error is recorded and treated as a
// non-match; other candidates are unaffected.
func (m *matcher) passesAlpha(rs *ruleState, v string, f Fact) bool {
	for _, c := range rs.alpha[v] {
		ok, err := c.Evaluate(map[string]any{v: f.Value})
		if err != nil {
			m.errs = append(m.errs, &ConditionError{
				RuleID:    rs.rule.ID,
				Candidate: map[string]FactID{v: f.ID},
				Err:       err,
			})
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// enumeratePinned enumerates complete bindings where the pinned
// variable is bound to pinnedID and all other variables range over
// their candidate lists.
func (m *matcher) enumeratePinned(rs *ruleState, pinned string, pinnedID FactID, added *[]*Activation) {
	m.extend(rs, pinned, pinnedID, 0, make(map[string]FactID), make(map[string]Fact), added)
}

// enumerate enumerates all complete bindings (used when seeding a
// rule against pre-existing facts). An empty pinned variable means no
// position is constrained.
func (m *matcher) enumerate(rs *ruleState, pinned string, pinnedID FactID, added *[]*Activation) {
	if len(rs.vars) == 0 {
		// A rule with no variables has exactly one (empty) binding.
		m.complete(rs, map[string]FactID{}, map[string]Fact{}, added)
		return
	}
	m.extend(rs, pinned, pinnedID, 0, make(map[string]FactID), make(map[string]Fact), added)
}

// extend assigns variables depth-first in declaration order, pruning
// as soon as a multi-variable condition over already-assigned
// variables fails.
func (m *matcher) extend(rs *ruleState, pinned string, pinnedID FactID, depth int, assign map[string]FactID, facts map[string]Fact, added *[]*Activation) {
	if depth == len(rs.vars) {
		m.complete(rs, assign, facts, added)
		return
	}

	v := rs.vars[depth]
	var choices []FactID
	if v == pinned {
		choices = []FactID{pinnedID}
	} else {
		choices = rs.candidates[v]
	}

	for _, id := range choices {
		f, ok := m.store.Get(id)
		if !ok {
			continue
		}
		assign[v] = id
		facts[v] = f
		if m.passesBeta(rs, assign, facts, v) {
			m.extend(rs, pinned, pinnedID, depth+1, assign, facts, added)
		}
		delete(assign, v)
		delete(facts, v)
	}
}

// passesBeta checks every multi-variable condition whose variables are
// all assigned and which involves the just-assigned variable.
func (m *matcher) passesBeta(rs *ruleState, assign map[string]FactID, facts map[string]Fact, justAssigned string) bool {
	for _, c := range rs.beta {
		vars := c.Variables()
		involves := false
		complete := true
		for _, cv := range vars {
			if cv == justAssigned {
				involves = true
			}
			if _, ok := assign[cv]; !ok {
				complete = false
			}
		}
		if !involves || !complete {
			continue
		}

		bound := make(map[string]any, len(vars))
		for _, cv := range vars {
			bound[cv] = facts[cv].Value
		}
		ok, err := c.Evaluate(bound)
		if err != nil {
			candidate := make(map[string]FactID, len(vars))
			for _, cv := range vars {
				candidate[cv] = assign[cv]
			}
			m.errs = append(m.errs, &ConditionError{
				RuleID:    rs.rule.ID,
				Candidate: candidate,
				Err:       err,
			})
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// complete records a fully assigned, consistent binding. Bindings
// reachable through more than one extension path collapse to one
// entry by key.
func (m *matcher) complete(rs *ruleState, assign map[string]FactID, facts map[string]Fact, added *[]*Activation) {
	vars := make(map[string]FactID, len(assign))
	factsCopy := make(map[string]Fact, len(facts))
	for k, v := range assign {
		vars[k] = v
	}
	for k, v := range facts {
		factsCopy[k] = v
	}

	b := newBinding(vars, factsCopy)
	if _, exists := rs.bindings[b.Key]; exists {
		return
	}
	rs.bindings[b.Key] = b
	rs.bindingOrder = append(rs.bindingOrder, b.Key)
	for _, id := range vars {
		rs.byFact[id] = appendUnique(rs.byFact[id], b.Key)
	}
	*added = append(*added, &Activation{Rule: rs.rule, Binding: b, ruleIndex: rs.index})
}

func appendUnique(keys []string, key string) []string {
	for _, k := range keys {
		if k == key {
			return keys
		}
	}
	return append(keys, key)
}

func removeString(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}
