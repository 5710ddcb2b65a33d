package algo_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ezachrisen/arbiter/algo"
	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/ezachrisen/arbiter/schema"
	"github.com/matryer/is"
)

// frame resolves calls from a map of Go functions and counts steps.
type frame struct {
	funcs map[string]func(args []any, kwargs map[string]any) (any, error)
	steps int
	limit int
	calls []string
}

func (f *frame) Call(_ context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	f.calls = append(f.calls, name)
	fn, ok := f.funcs[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %s", name)
	}
	return fn(args, kwargs)
}

func (f *frame) Step() error {
	f.steps++
	if f.limit > 0 && f.steps > f.limit {
		return errBudget
	}
	return nil
}

var errBudget = errors.New("budget exceeded")

func run(t *testing.T, src string, f *frame) (any, error) {
	t.Helper()
	prog, err := algo.NewCompiler().Compile(src)
	if err != nil {
		t.Fatalf("compiling %q: %v", src, err)
	}
	if f == nil {
		f = &frame{}
	}
	return prog.Run(context.Background(), f)
}

func dec(s string) any {
	d, err := schema.ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRun(t *testing.T) {

	cases := map[string]struct {
		src  string
		want any
	}{
		"int arithmetic":       {src: "return 1 + 2 * 3", want: int64(7)},
		"power":                {src: "return 2 ** 10", want: int64(1024)},
		"floor division":       {src: "return -7 // 2", want: int64(-4)},
		"modulo":               {src: "return -7 % 3", want: int64(2)},
		"true division":        {src: "return 7 / 2", want: dec("3.5")},
		"decimal literal":      {src: "return 1.5 + 1", want: dec("2.5")},
		"string concat":        {src: "return 'a' + \"b\"", want: "ab"},
		"no return":            {src: "x = 1\nx += 1", want: nil},
		"bare return":          {src: "return", want: nil},
		"comparison chain":     {src: "return 1 < 2 <= 2 < 3", want: true},
		"broken chain":         {src: "return 1 < 2 > 3", want: false},
		"in list":              {src: "return 2 in [1, 2]", want: true},
		"not in dict":          {src: "return 'b' not in {'a': 1}", want: true},
		"and short circuit":    {src: "return 0 and 1 / 0", want: int64(0)},
		"or value":             {src: "return None or 'x'", want: "x"},
		"conditional":          {src: "return 'yes' if 3 > 2 else 'no'", want: "yes"},
		"tuple":                {src: "return 1, 'a'", want: []any{int64(1), "a"}},
		"unpacking":            {src: "a, b = 1, 2\nreturn b, a", want: []any{int64(2), int64(1)}},
		"comprehension":        {src: "return [x * 2 for x in range(4) if x % 2 == 0]", want: []any{int64(0), int64(4)}},
		"dict index":           {src: "d = {'a': [1, 2]}\nreturn d['a'][-1]", want: int64(2)},
		"slice":                {src: "return [1, 2, 3, 4][1:3]", want: []any{int64(2), int64(3)}},
		"negative slice":       {src: "return 'hello'[-3:]", want: "llo"},
		"append":               {src: "l = []\nl.append(1)\nl.append(2)\nreturn l", want: []any{int64(1), int64(2)}},
		"append to index":      {src: "d = {'l': []}\nd['l'].append(3)\nreturn d", want: map[string]any{"l": []any{int64(3)}}},
		"index assignment":     {src: "l = [1, 2]\nl[0] = 5\nreturn l", want: []any{int64(5), int64(2)}},
		"string methods":       {src: "return '-'.join(' A b '.strip().lower().split())", want: "a-b"},
		"dict get default":     {src: "return {}.get('x', 4)", want: int64(4)},
		"items":                {src: "return [k + str(v) for k, v in {'b': 2, 'a': 1}.items()]", want: []any{"a1", "b2"}},
		"builtins":             {src: "return len('abc'), abs(-2), min(3, 1), max([1, 5]), sum([1, 2.5])", want: []any{int64(3), int64(2), int64(1), int64(5), dec("3.5")}},
		"sorted reverse":       {src: "return sorted([2, 3, 1], reverse=True)", want: []any{int64(3), int64(2), int64(1)}},
		"any all":              {src: "return any([0, 1]), all([1, 0])", want: []any{true, false}},
		"conversions":          {src: "return int('12'), str(1.50), Decimal('2.25'), bool([])", want: []any{int64(12), "1.50", dec("2.25"), false}},
		"int of decimal":       {src: "return int(7.9)", want: int64(7)},
		"date attributes":      {src: "d = date(2020, 2, 29)\nreturn d.year, d.month, d.day", want: []any{int64(2020), int64(2), int64(29)}},
		"date difference":      {src: "return date(2020, 3, 1) - date(2020, 2, 1)", want: int64(29)},
		"while loop":           {src: "i = 0\nwhile True:\n    i += 1\n    if i >= 5:\n        break\nreturn i", want: int64(5)},
		"for continue":         {src: "t = 0\nfor i in range(5):\n    if i == 2:\n        continue\n    t += i\nreturn t", want: int64(8)},
		"return in loop":       {src: "for i in [1, 2, 3]:\n    if i == 2:\n        return i\nreturn 0", want: int64(2)},
		"elif":                 {src: "x = 5\nif x < 3:\n    return 'a'\nelif x < 10:\n    return 'b'\nelse:\n    return 'c'", want: "b"},
		"inline suite":         {src: "if True: return 1", want: int64(1)},
		"semicolons":           {src: "a = 1; b = 2\nreturn a + b", want: int64(3)},
		"comments and blanks":  {src: "# heading\n\na = 1  # one\n\n   \nreturn a", want: int64(1)},
		"continuation":         {src: "a = [1,\n     2]\nreturn a + \\\n  [3]", want: []any{int64(1), int64(2), int64(3)}},
		"string repeat":        {src: "return 'ab' * 2", want: "abab"},
		"is None":              {src: "x = None\nreturn x is None", want: true},
		"nested comprehension": {src: "return [[y for y in range(x)] for x in range(3)]", want: []any{[]any{}, []any{int64(0)}, []any{int64(0), int64(1)}}},
		"int times string":     {src: "return 2 * 'ab'", want: "abab"},
		"list repeat":          {src: "return [1, 2] * 2", want: []any{int64(1), int64(2), int64(1), int64(2)}},
		"negative list repeat": {src: "return [1] * -3", want: []any{}},
		"large power":          {src: "return 3 ** 39", want: int64(4052555153018976267)},
		"negative base power":  {src: "return (-2) ** 63", want: int64(-9223372036854775807 - 1)},
		"largest int":          {src: "return 2 ** 62 + (2 ** 62 - 1)", want: int64(9223372036854775807)},
		"largest product":      {src: "return 3037000499 * 3037000499", want: int64(9223372030926249001)},
		"distant dates":        {src: "return date(2400, 1, 1) - date(1900, 1, 1)", want: int64(182621)},
		"dates before epoch":   {src: "return date(1500, 1, 1) - date(2020, 1, 1)", want: int64(-189926)},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			got, err := run(t, c.src, nil)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", k, err)
			}
			if !schema.Equal(got, c.want) {
				t.Errorf("%s: got %s, wanted %s", k, schema.Format(got), schema.Format(c.want))
			}
		})
	}
}

func TestRuntimeErrors(t *testing.T) {

	cases := map[string]struct {
		src  string
		want string
	}{
		"division by zero": {src: "return 1 / 0", want: "1:10: division by zero"},
		"bad operands":     {src: "x = 1\nreturn x + 'a'", want: "unsupported operand types"},
		"index":            {src: "return [1][3]", want: "list index out of range"},
		"key":              {src: "return {'a': 1}['b']", want: "KeyError"},
		"unpack":           {src: "a, b = [1, 2, 3]", want: "too many values to unpack"},
		"attribute":        {src: "return 'x'.nope()", want: "has no attribute 'nope'"},
		"unassigned":       {src: "if False:\n    x = 1\nreturn x", want: "referenced before assignment"},
		"builtin":          {src: "return len(1)", want: "len(): object of type 'int' has no len()"},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			_, err := run(t, c.src, nil)
			if err == nil {
				t.Fatalf("%s: expected an error", k)
			}
			var re *algo.RuntimeError
			if !errors.As(err, &re) {
				t.Errorf("%s: expected a RuntimeError, got %T", k, err)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("%s: got %q, wanted it to contain %q", k, err, c.want)
			}
		})
	}
}

func TestArithmeticLimits(t *testing.T) {

	cases := map[string]struct {
		src  string
		want string
	}{
		"huge string repeat": {src: "return 'ab' * 9223372036854775807", want: "repetition longer than"},
		"huge list repeat":   {src: "return [0] * 10 ** 10", want: "repetition longer than"},
		"huge exponent":      {src: "return 2 ** 3000000000", want: "integer overflow"},
		"power overflow":     {src: "return 3 ** 40", want: "integer overflow"},
		"sum overflow":       {src: "return 9223372036854775807 + 1", want: "1:28: integer overflow"},
		"difference":         {src: "return -9223372036854775807 - 2", want: "integer overflow"},
		"product overflow":   {src: "return 3037000500 * 3037000500", want: "integer overflow"},
		"augmented":          {src: "x = 9223372036854775807\nx += 1\nreturn x", want: "integer overflow"},
		"negation":           {src: "x = -9223372036854775807 - 1\nreturn -x", want: "integer overflow"},
		"floor division":     {src: "x = -9223372036854775807 - 1\nreturn x // -1", want: "integer overflow"},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			_, err := run(t, c.src, nil)
			if err == nil {
				t.Fatalf("%s: expected an error", k)
			}
			var re *algo.RuntimeError
			if !errors.As(err, &re) {
				t.Errorf("%s: expected a RuntimeError, got %T", k, err)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("%s: got %q, wanted it to contain %q", k, err, c.want)
			}
		})
	}
}

func TestNestingLimit(t *testing.T) {

	nested := func(n int) string {
		return "return " + strings.Repeat("(", n) + "1" + strings.Repeat(")", n)
	}

	cases := map[string]struct {
		src string
		ok  bool
	}{
		"shallow parentheses": {src: nested(100), ok: true},
		"deep parentheses":    {src: nested(3_000_000)},
		"long sum":            {src: "return " + strings.Repeat("1 + ", 200) + "1", ok: true},
		"endless sum":         {src: "return " + strings.Repeat("1 + ", 100_000) + "1"},
		"unary chain":         {src: "return " + strings.Repeat("-", 100_000) + "1"},
		"not chain":           {src: "return " + strings.Repeat("not ", 100_000) + "True"},
		"nested lists":        {src: "return " + strings.Repeat("[", 5000) + strings.Repeat("]", 5000)},
		"index chain":         {src: "x = [0]\nreturn x" + strings.Repeat("[0]", 100_000)},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			_, err := algo.NewCompiler().Compile(c.src)
			if c.ok {
				if err != nil {
					t.Fatalf("%s: unexpected error: %v", k, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("%s: expected a compilation error", k)
			}
			if !strings.Contains(err.Error(), "too many nesting levels") {
				t.Errorf("%s: got %q", k, err)
			}
		})
	}
}

func TestFrameCalls(t *testing.T) {
	is := is.New(t)

	f := &frame{funcs: map[string]func([]any, map[string]any) (any, error){
		"double": func(args []any, _ map[string]any) (any, error) {
			return args[0].(int64) * 2, nil
		},
		"greet": func(args []any, kwargs map[string]any) (any, error) {
			return fmt.Sprintf("%s %v", kwargs["greeting"], args[0]), nil
		},
		"count": func([]any, map[string]any) (any, error) {
			return 3, nil // plain int, normalized by the interpreter
		},
	}}

	got, err := run(t, "return double(count()) + 1, greet('you', greeting='hi')", f)
	is.NoErr(err)
	is.True(schema.Equal(got, []any{int64(7), "hi you"}))
	is.Equal(f.calls, []string{"count", "double", "greet"})
	is.True(f.steps > 0)
}

func TestFrameErrorsKeepTheirIdentity(t *testing.T) {
	is := is.New(t)

	sentinel := errors.New("not allowed")
	f := &frame{funcs: map[string]func([]any, map[string]any) (any, error){
		"forbidden": func([]any, map[string]any) (any, error) { return nil, sentinel },
	}}

	_, err := run(t, "x = 1\nreturn forbidden()", f)
	is.True(errors.Is(err, sentinel))
	is.True(strings.HasPrefix(err.Error(), "2:8: "))
}

func TestStepBudget(t *testing.T) {
	is := is.New(t)

	f := &frame{limit: 500}
	_, err := run(t, "while True:\n    pass", f)
	is.True(errors.Is(err, errBudget))
}

func TestCompileErrors(t *testing.T) {

	cases := map[string]struct {
		src  string
		want string
	}{
		"missing colon":  {src: "if 10 return 1", want: `1:7: invalid syntax: expected ":"`},
		"undefined name": {src: "return x + 1", want: "undefined name 'x'"},
		"bad dedent":     {src: "if True:\n    x = 1\n  return x", want: "unindent does not match any outer indentation level"},
		"open string":    {src: "return 'abc", want: "EOL while scanning string literal"},
		"keyword":        {src: "return def", want: "invalid syntax"},
		"kwarg order":    {src: "return f(a=1, 2)", want: "positional argument follows keyword argument"},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			_, err := algo.NewCompiler().Compile(c.src)
			if err == nil {
				t.Fatalf("%s: expected a compilation error", k)
			}
			var el evaluator.ErrorList
			if !errors.As(err, &el) {
				t.Errorf("%s: expected an ErrorList, got %T", k, err)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("%s: got %q, wanted it to contain %q", k, err, c.want)
			}
		})
	}
}

func TestReferences(t *testing.T) {
	is := is.New(t)

	src := `total = 0
for c in contracts():
    if is_active(c):
        total += premium(c) + len(c)
unused = 1
return max(total, param_floor())`

	prog, err := algo.NewCompiler().Compile(src)
	is.NoErr(err)

	var names []string
	for _, r := range prog.References() {
		names = append(names, r.Name)
	}
	is.Equal(names, []string{"contracts", "is_active", "premium", "param_floor"})
	is.Equal(prog.References()[0].Pos, evaluator.Position{Line: 2, Column: 10})

	notes := prog.Notes()
	is.Equal(len(notes), 1)
	is.Equal(notes[0].Msg, "local variable 'unused' is assigned to but never used")
	is.Equal(notes[0].Pos.Line, 5)
}

func TestIsBuiltin(t *testing.T) {
	is := is.New(t)
	is.True(algo.IsBuiltin("len"))
	is.True(algo.IsBuiltin("Decimal"))
	is.True(!algo.IsBuiltin("round"))
	is.True(!algo.IsBuiltin("add_error"))
}

func TestParseLiteral(t *testing.T) {

	cases := map[string]struct {
		src     string
		want    any
		wantErr bool
	}{
		"int":     {src: "12", want: int64(12)},
		"decimal": {src: "Decimal('10.50')", want: dec("10.5")},
		"tuple":   {src: "(8, ['Toto'], ['Titi'])", want: []any{int64(8), []any{"Toto"}, []any{"Titi"}}},
		"dict":    {src: "{'a': None, 'b': True}", want: map[string]any{"a": nil, "b": true}},
		"date":    {src: " date(2020, 1, 31) ", want: schema.NewDate(2020, 1, 31)},
		"string":  {src: "'x'", want: "x"},
		"negative": {src: "-3.25", want: dec("-3.25")},
		"call":    {src: "foo()", wantErr: true},
		"garbage": {src: "1 +", wantErr: true},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			got, err := algo.ParseLiteral(c.src)
			if c.wantErr {
				if err == nil {
					t.Errorf("%s: expected an error, got %v", k, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", k, err)
			}
			if !schema.Equal(got, c.want) {
				t.Errorf("%s: got %s, wanted %s", k, schema.Format(got), schema.Format(c.want))
			}
		})
	}
}
