// Package arbiter provides a rule engine for business rules whose
// algorithms are written and maintained by users, not by the developers
// of the application.
//
// The engine never lets an algorithm call arbitrary code. Everything an
// algorithm may call is a tree element registered in a Registry: a
// function implemented in Go, a folder grouping functions, or another
// rule. A rule is bound to a Context, an allow-list of tree elements, and
// can only call what its context allows.
//
// Typical use is as follows:
//
//  1. Register the functions rules may call (see package builtins for the
//     functions every deployment provides)
//  2. Create contexts and allow the elements in them
//  3. Create rules, bind them to a context and give them test cases
//  4. Validate the rules
//  5. Evaluate a validated rule against a set of arguments
//  6. Inspect the result: the value and the functional errors
//
// # Validation
//
// A rule starts as a draft. Validate compiles its algorithm, reports every
// call the context does not allow, checks whether the rule can call
// itself through other rules, and runs its test cases. A rule that passes
// is validated; any later change sends it back to draft. Only validated
// rules can be evaluated.
//
// # Functional errors and fatal errors
//
// Functions report problems with the data being evaluated (a missing
// document, an age out of range) as functional errors through the Call
// they receive. Functional errors are collected in the Result and do not
// stop the evaluation. A function can also abort the rule, which then
// returns None with the errors collected so far.
//
// Problems with the rules themselves (an unauthorized or unknown
// function, a circular rule call, a rule that is not validated) stop the
// evaluation and are returned as errors.
//
// # Rules calling rules
//
// Rules are registered as tree elements of kind rule, so a context can
// allow them like any function. A called rule shares the arguments and
// the functional errors of its caller, and its own context governs the
// calls it makes.
//
// # Updating rules
//
// An Engine may be changed while it is not used for evaluation. To change
// rules while evaluations are running, hold the engine in a Vault: each
// change is made and validated on a copy, and the copy replaces the
// engine atomically.
package arbiter
