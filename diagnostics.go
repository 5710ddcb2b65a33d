package arbiter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Delta456/box-cli-maker/v2"
	"github.com/alexeyco/simpletable"
	"github.com/dustin/go-humanize"
	"github.com/ezachrisen/arbiter/evaluator"
	"github.com/markbates/inflect"
)

// Severity of a diagnostic. Only errors prevent a rule from being
// validated.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Diagnostic is a finding of rule validation. Kind is one of the
// sentinel errors (ErrCompilation, ErrUnauthorizedFunction,
// ErrCircularRuleCall, ErrTestCaseFailed...), so errors.Is can be used on
// a diagnostic.
type Diagnostic struct {
	Severity Severity
	Kind     error
	Rule     string

	// Name is the function a diagnostic is about.
	Name string
	Pos  evaluator.Position

	// Test case failures
	TestCase string
	Expected string
	Actual   string
	Diff     string

	Msg string
}

func (d Diagnostic) Error() string {
	var sb strings.Builder
	if d.Rule != "" {
		fmt.Fprintf(&sb, "rule %s: ", d.Rule)
	}
	if d.Pos.Line > 0 {
		fmt.Fprintf(&sb, "%s: ", d.Pos)
	}
	if d.Kind != nil {
		sb.WriteString(d.Kind.Error())
	} else {
		sb.WriteString(d.Severity.String())
	}
	if d.Name != "" {
		fmt.Fprintf(&sb, " %s", d.Name)
	}
	if d.TestCase != "" {
		fmt.Fprintf(&sb, " %q", d.TestCase)
	}
	if d.Msg != "" {
		fmt.Fprintf(&sb, ": %s", d.Msg)
	}
	return sb.String()
}

func (d Diagnostic) Unwrap() error {
	return d.Kind
}

// Diagnostics is the list of findings of a validation, in the order
// they were found.
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic has error severity.
func (d Diagnostics) HasErrors() bool {
	for _, x := range d {
		if x.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the diagnostics with error severity.
func (d Diagnostics) Errors() Diagnostics {
	return d.filter(func(x Diagnostic) bool { return x.Severity == SeverityError })
}

// Warnings returns the diagnostics with warning severity.
func (d Diagnostics) Warnings() Diagnostics {
	return d.filter(func(x Diagnostic) bool { return x.Severity == SeverityWarning })
}

// OfKind returns the diagnostics whose kind is kind.
func (d Diagnostics) OfKind(kind error) Diagnostics {
	return d.filter(func(x Diagnostic) bool { return errors.Is(x.Kind, kind) })
}

func (d Diagnostics) filter(keep func(Diagnostic) bool) Diagnostics {
	var out Diagnostics
	for _, x := range d {
		if keep(x) {
			out = append(out, x)
		}
	}
	return out
}

// Err joins the error diagnostics into one error, nil when there are
// none.
func (d Diagnostics) Err() error {
	var errs []error
	for _, x := range d.Errors() {
		errs = append(errs, x)
	}
	return errors.Join(errs...)
}

// Summary is a one line count of the diagnostics, e.g.
// "2 errors, 1 warning".
func (d Diagnostics) Summary() string {
	e, w := len(d.Errors()), len(d.Warnings())
	return fmt.Sprintf("%s %s, %s %s",
		humanize.Comma(int64(e)), plural("error", e),
		humanize.Comma(int64(w)), plural("warning", w))
}

func plural(word string, n int) string {
	if n == 1 {
		return word
	}
	return inflect.Pluralize(word)
}

// Report renders the diagnostics of a rule as a boxed report.
func (d Diagnostics) Report(r *Rule) string {
	Box := box.New(box.Config{Px: 2, Py: 1, Type: "Double", Color: "Cyan", TitlePos: "Top", ContentAlign: "Left"})

	s := strings.Builder{}
	if r != nil {
		s.WriteString("Rule:\n")
		s.WriteString("-----\n")
		s.WriteString(r.ShortName)
		if r.Name != "" {
			s.WriteString(" (")
			s.WriteString(wordWrap(r.Name, 80))
			s.WriteString(")")
		}
		s.WriteString("\n\n")
		s.WriteString("Algorithm:\n")
		s.WriteString("----------\n")
		s.WriteString(numberLines(r.Algorithm()))
		s.WriteString("\n\n")
	}

	s.WriteString("Diagnostics: ")
	s.WriteString(d.Summary())
	s.WriteString("\n")
	s.WriteString(strings.Repeat("-", len("Diagnostics: ")+len(d.Summary())))
	s.WriteString("\n")
	s.WriteString(d.diagnosticTable().String())

	if failed := d.OfKind(ErrTestCaseFailed); len(failed) > 0 {
		s.WriteString("\n\n")
		s.WriteString("Failed Test Cases:\n")
		s.WriteString("------------------\n")
		s.WriteString(failed.testCaseTable().String())
	}
	return Box.String("ARBITER VALIDATION REPORT", s.String())
}

func (d Diagnostics) diagnosticTable() *simpletable.Table {
	table := simpletable.New()
	table.Header = &simpletable.Header{
		Cells: []*simpletable.Cell{
			{Align: simpletable.AlignCenter, Text: "Loc"},
			{Align: simpletable.AlignCenter, Text: "Severity"},
			{Align: simpletable.AlignCenter, Text: "Kind"},
			{Align: simpletable.AlignCenter, Text: "Message"},
		},
	}

	sorted := append(Diagnostics(nil), d...)
	sortListByPosition(sorted)

	for _, x := range sorted {
		loc := ""
		if x.Pos.Line > 0 {
			loc = x.Pos.String()
		}
		kind := ""
		if x.Kind != nil {
			kind = x.Kind.Error()
		}
		msg := x.Msg
		if x.Name != "" {
			msg = strings.TrimSpace(x.Name + " " + msg)
		}
		if x.TestCase != "" {
			msg = strings.TrimSpace(fmt.Sprintf("%q %s", x.TestCase, msg))
		}
		r := []*simpletable.Cell{
			{Align: simpletable.AlignRight, Text: loc},
			{Text: x.Severity.String()},
			{Text: kind},
			{Text: wordWrap(msg, 60)},
		}
		table.Body.Cells = append(table.Body.Cells, r)
	}

	table.SetStyle(simpletable.StyleUnicode)
	return table
}

func (d Diagnostics) testCaseTable() *simpletable.Table {
	table := simpletable.New()
	table.Header = &simpletable.Header{
		Cells: []*simpletable.Cell{
			{Align: simpletable.AlignCenter, Text: "Test Case"},
			{Align: simpletable.AlignCenter, Text: "Expected"},
			{Align: simpletable.AlignCenter, Text: "Actual"},
			{Align: simpletable.AlignCenter, Text: "Diff"},
		},
	}
	for _, x := range d {
		r := []*simpletable.Cell{
			{Text: x.TestCase},
			{Text: wordWrap(x.Expected, 30)},
			{Text: wordWrap(x.Actual, 30)},
			{Text: x.Diff},
		}
		table.Body.Cells = append(table.Body.Cells, r)
	}
	table.SetStyle(simpletable.StyleUnicode)
	return table
}

// sortListByPosition orders diagnostics by their location in the
// source. Diagnostics without a location keep their order at the end.
func sortListByPosition(l Diagnostics) {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := l[i].Pos, l[j].Pos
		switch {
		case a.Line == 0 || b.Line == 0:
			return a.Line != 0 && b.Line == 0
		case a.Line != b.Line:
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

func numberLines(src string) string {
	lines := strings.Split(strings.TrimRight(src, "\n"), "\n")
	width := len(fmt.Sprint(len(lines)))
	for i := range lines {
		lines[i] = fmt.Sprintf("%*d  %s", width, i+1, lines[i])
	}
	return strings.Join(lines, "\n")
}

func wordWrap(text string, lineWidth int) string {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) == 0 {
		return text
	}
	wrapped := words[0]
	spaceLeft := lineWidth - len(wrapped)
	for _, word := range words[1:] {
		if len(word)+1 > spaceLeft {
			wrapped += "\n" + word
			spaceLeft = lineWidth - len(word)
		} else {
			wrapped += " " + word
			spaceLeft -= 1 + len(word)
		}
	}

	return wrapped
}
