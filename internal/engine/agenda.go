package engine

// agenda keeps the total order over eligible, non-refracted
// activations and the refractoriness bookkeeping.
//
// Ordering (strict total order):
//  1. rule salience, descending
//  2. recency (max bound fact timestamp), descending
//  3. rule declaration order, ascending
//  4. sorted bound fact-id sequence, ascending
//
// The refractory set is keyed by ruleID:bindingKey. Because binding
// keys contain fact ids and ids are never reused, a rule can only
// become eligible again for equal fact values through retract plus
// re-assert, which mints a genuinely new activation.
type agenda struct {
	entries    []*Activation
	refractory map[string]bool
}

func newAgenda() *agenda {
	return &agenda{
		refractory: make(map[string]bool),
	}
}

// update applies a batch of matcher changes. Removed activations that
// are already absent are ignored; added activations that have already
// fired are dropped.
func (a *agenda) update(added, removed []*Activation) {
	for _, act := range removed {
		a.remove(act.refKey())
	}
	for _, act := range added {
		key := act.refKey()
		if a.refractory[key] {
			continue
		}
		if a.contains(key) {
			continue
		}
		a.entries = append(a.entries, act)
	}
}

// selectNext returns the top-ordered eligible activation, or nil if
// the agenda is empty. Nil signals fixpoint.
func (a *agenda) selectNext() *Activation {
	var best *Activation
	for _, act := range a.entries {
		if best == nil || fires(act, best) {
			best = act
		}
	}
	return best
}

// markFired records the activation in the refractory set and drops it
// from the pending entries, so it cannot be selected again unless an
// identical (rule, binding) pair is minted anew.
func (a *agenda) markFired(act *Activation) {
	key := act.refKey()
	a.refractory[key] = true
	a.remove(key)
}

// size returns the number of pending activations.
func (a *agenda) size() int {
	return len(a.entries)
}

func (a *agenda) contains(key string) bool {
	for _, e := range a.entries {
		if e.refKey() == key {
			return true
		}
	}
	return false
}

func (a *agenda) remove(key string) {
	for i, e := range a.entries {
		if e.refKey() == key {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			return
		}
	}
}

// fires reports whether x precedes y in conflict-resolution order.
// The comparator is total: for distinct activations exactly one of
// fires(x, y) and fires(y, x) holds.
func fires(x, y *Activation) bool {
	if x.Rule.Salience != y.Rule.Salience {
		return x.Rule.Salience > y.Rule.Salience
	}
	if x.Binding.MaxSeq != y.Binding.MaxSeq {
		return x.Binding.MaxSeq > y.Binding.MaxSeq
	}
	if x.ruleIndex != y.ruleIndex {
		return x.ruleIndex < y.ruleIndex
	}
	return compareFactIDs(x.Binding, y.Binding) < 0
}
