// Package cel provides an implementation of the arbiter evaluator and compiler interfaces backed by Google's cel-go rules engine.
//
// See https://github.com/google/cel-go and https://opensource.google/projects/cel for more information
// about CEL.
//
// A rule written in this dialect is a single CEL expression. The expression
// has no variables; everything it needs comes from calls, just like in the
// default dialect:
//
//	years_between(param_start(), calculation_date()) >= 18 ? "adult" : "minor"
//
// Every call that is not part of the CEL standard library (size, contains,
// matches, timestamp, the conversion functions...) is declared with dynamic
// argument and result types and resolved through the evaluation frame, so
// the engine's allow-lists and test value overrides apply unchanged.
//
// Value mapping
//
// Decimals are passed to CEL as doubles; CEL has no decimal type. Dates
// become timestamps and come back as time.Time. Lists and maps are
// converted element by element in both directions, and CEL null becomes
// nil.
package cel
