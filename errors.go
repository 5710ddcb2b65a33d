package arbiter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// Definition errors
	ErrDuplicateDefinition = errors.New("duplicate definition")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidElement      = errors.New("invalid tree element")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrContextNotFound     = errors.New("context not found")
	ErrEmptyContext        = errors.New("context allows no elements")

	// Validation errors, carried by diagnostics
	ErrCompilation      = errors.New("compilation error")
	ErrTestCaseFailed   = errors.New("test case failed")
	ErrCoercion         = errors.New("cannot coerce test value")
	ErrUnknownErrorCode = errors.New("unknown error code")

	// Evaluation errors
	ErrUnknownFunction      = errors.New("unknown function")
	ErrUnauthorizedFunction = errors.New("unauthorized function")
	ErrRuleNotValidated     = errors.New("rule not validated")
	ErrCircularRuleCall     = errors.New("circular rule call")
	ErrMissingArguments     = errors.New("missing arguments")
	ErrStepBudgetExceeded   = errors.New("step budget exceeded")
	ErrMaxDepthExceeded     = errors.New("maximum rule call depth exceeded")
	ErrTooManyCalls         = errors.New("more calls than test values")
	ErrResultType           = errors.New("result does not match the declared type")

	// ErrIncompleteInputs is returned by Call.Incomplete when a rule is
	// evaluated before the data it needs is available. Unless the
	// evaluation is made with CrashOnMissingArguments, the result is
	// None and marked incomplete.
	ErrIncompleteInputs = errors.New("incomplete inputs")

	// ErrRuleAborted is returned by Call.Fail. It stops the current rule
	// without a value; the evaluation itself succeeds and the message
	// that caused the abort is in the result's errors.
	ErrRuleAborted = errors.New("rule aborted")
)

// FunctionError is a failure of a call made by an algorithm.
type FunctionError struct {
	Name string
	Err  error
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("calling %s: %v", e.Name, e.Err)
}

func (e *FunctionError) Unwrap() error {
	return e.Err
}

// RuleError is a failure attributed to a rule. Path lists the rules on
// the call stack when the error occurred, outermost first.
type RuleError struct {
	Rule string
	Path []string
	Err  error
}

func (e *RuleError) Error() string {
	if len(e.Path) > 1 {
		return fmt.Sprintf("rule %s (%s): %v", e.Rule, joinPath(e.Path), e.Err)
	}
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

func joinPath(p []string) string {
	return strings.Join(p, " -> ")
}
