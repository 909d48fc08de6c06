package engine

import (
	"slices"

	"github.com/fluvius-io/ordinal/internal/canon"
)

// Binding assigns each of a rule's variables to one fact. Identity is
// the Key: a domain-separated hash of the canonical variable→fact-id
// map. Two bindings are equal iff they map every variable to the same
// fact id, so a retract-then-reassert of an equal value produces a
// different binding.
type Binding struct {
	// Vars maps variable name to bound fact id.
	Vars map[string]FactID

	// Key is the canonical identity hash of Vars.
	Key string

	// MaxSeq is the highest insertion timestamp among the bound facts.
	// Used as the recency key in conflict resolution.
	MaxSeq int64

	// factIDs holds the bound fact ids in ascending order, the final
	// tie-break making the agenda comparator total.
	factIDs []int64
}

// newBinding builds a binding from a variable assignment, resolving
// recency from the given facts.
func newBinding(vars map[string]FactID, facts map[string]Fact) *Binding {
	ids := make(map[string]int64, len(vars))
	sorted := make([]int64, 0, len(vars))
	var maxSeq int64
	for v, id := range vars {
		ids[v] = int64(id)
		sorted = append(sorted, int64(id))
		if f, ok := facts[v]; ok && f.Seq > maxSeq {
			maxSeq = f.Seq
		}
	}
	slices.Sort(sorted)

	return &Binding{
		Vars:    vars,
		Key:     canon.MustBindingKey(ids),
		MaxSeq:  maxSeq,
		factIDs: sorted,
	}
}

// references reports whether the binding binds any variable to id.
func (b *Binding) references(id FactID) bool {
	for _, bound := range b.Vars {
		if bound == id {
			return true
		}
	}
	return false
}

// compareFactIDs orders two bindings by their sorted fact-id
// sequences, ascending. Used as the quaternary agenda tie-break.
func compareFactIDs(a, b *Binding) int {
	return slices.Compare(a.factIDs, b.factIDs)
}

// Activation is a (rule, binding) pair currently eligible to fire.
// It stays eligible only while every bound fact is live; retraction of
// any referenced fact invalidates it.
type Activation struct {
	Rule    *Rule
	Binding *Binding

	// ruleIndex is the rule's declaration position, the stable
	// tie-break after salience and recency.
	ruleIndex int
}

// refKey identifies the activation for refractoriness bookkeeping.
func (a *Activation) refKey() string {
	return a.Rule.ID + ":" + a.Binding.Key
}
