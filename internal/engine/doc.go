// Package engine implements a forward-chaining inference engine: an
// identity-tracked working memory, an incremental pattern matcher, a
// deterministic conflict-resolution agenda with refractoriness, and a
// run-to-fixpoint loop.
//
// Facts are opaque values with engine-assigned identity and a logical
// insertion timestamp. Rules pair variable-binding conditions with an
// action; when a consistent binding satisfies every condition of a
// rule, the (rule, binding) pair becomes an activation on the agenda.
// The loop repeatedly fires the top-ordered activation (salience,
// then recency, then declaration order, then fact ids), applies the
// mutations its action performed, and stops when the agenda drains.
//
// A fired activation is refractory: it cannot fire again unless its
// binding is invalidated and a genuinely new one is minted through
// retract plus re-assert. Every run is identified by a run token and
// reported to attached observers.
package engine
