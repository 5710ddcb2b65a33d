package algo

import (
	"context"
	"strings"
)

// ParseLiteral evaluates a constant expression such as a test case value:
// "12", "Decimal('10.5')", "[1, 2]", "(8, ['Toto'], [])" or
// "date(2020, 1, 31)". Language builtins may be used; calls to anything
// else are rejected.
func ParseLiteral(s string) (any, error) {
	x, err := parseExpr(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	in := &interp{ctx: context.Background(), vars: map[string]any{}}
	return in.eval(x)
}
