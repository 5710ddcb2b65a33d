package arbiter

import (
	"fmt"
	"strings"
)

// TestCaseValue overrides the callable Name while a test case runs. Value
// is a literal (42, 1.5, "text", True, None, [1, 2], {"a": 1}) coerced
// to the return type of the element, or to the type of the rule
// parameter for param_<name> accessors.
//
// When a test case has several values with the same name, each call
// returns the next one.
type TestCaseValue struct {
	Name  string
	Value string
}

// TestCase is an example of the inputs of a rule and its expected result.
type TestCase struct {
	Description string
	Values      []TestCaseValue

	// Expected is the literal the result must equal. Tuples compare as
	// lists. An empty string expects None.
	Expected string
}

// NewTestCase builds a test case from name/value pairs.
func NewTestCase(description, expected string, values ...string) TestCase {
	tc := TestCase{Description: description, Expected: expected}
	for i := 0; i+1 < len(values); i += 2 {
		tc.Values = append(tc.Values, TestCaseValue{Name: values[i], Value: values[i+1]})
	}
	return tc
}

func (tc TestCase) String() string {
	vals := make([]string, len(tc.Values))
	for i, v := range tc.Values {
		vals[i] = fmt.Sprintf("%s=%s", v.Name, v.Value)
	}
	return fmt.Sprintf("%s [%s] => %s", tc.Description, strings.Join(vals, ", "), tc.Expected)
}
