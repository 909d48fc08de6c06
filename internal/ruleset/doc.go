// Package ruleset loads declarative rule documents and compiles them
// into engine rules.
//
// A document is YAML: a list of rules, each with a name, an optional
// salience, a `when` list of filters and joins over named variables,
// and a `then` list of effects (assert, retract, report). Documents
// are validated against an embedded CUE schema before compilation, so
// schema violations surface with a field path instead of failing
// deep inside a closure at match time.
//
// The package is glue: all matching and firing semantics live in the
// engine package. Compilation only translates declarative filters into
// plain predicate closures.
package ruleset
