package arbiter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/matryer/is"
)

func TestContextAllowsFolders(t *testing.T) {
	is := is.New(t)
	reg := arbiter.NewRegistry()
	dir := arbiter.Key{Namespace: "rt", Name: "dates"}
	_, err := reg.Register(arbiter.TreeElement{Namespace: "rt", Name: "dates", Kind: arbiter.KindFolder})
	is.NoErr(err)
	today, err := reg.Register(arbiter.TreeElement{Namespace: "rt", Name: "today", Parent: dir})
	is.NoErr(err)
	_, err = reg.Register(arbiter.TreeElement{Namespace: "rt", Name: "other"})
	is.NoErr(err)

	c := arbiter.NewContext("dates", reg)
	is.True(c.Empty())
	is.True(!c.Allows("rt", "today"))

	folder, err := reg.Resolve("rt", "dates")
	is.NoErr(err)
	is.NoErr(c.AddElement(folder))
	is.True(c.Allows("rt", "today"))
	is.True(!c.Allows("rt", "other"))

	el, err := c.Lookup("today")
	is.NoErr(err)
	is.Equal(el.Key(), today.Key())

	_, err = c.Lookup("other")
	is.True(errors.Is(err, arbiter.ErrUnauthorizedFunction))

	is.Equal(len(c.Functions()), 1)
	is.Equal(len(c.Elements()), 1)
}

func TestContextAddElement(t *testing.T) {

	cases := map[string]struct {
		add []arbiter.Key
		err error
	}{
		"same technical name": {
			add: []arbiter.Key{{Namespace: "a", Name: "f"}, {Namespace: "b", Name: "f"}},
			err: arbiter.ErrDuplicateDefinition,
		},
		"same element twice": {
			add: []arbiter.Key{{Namespace: "a", Name: "f"}, {Namespace: "a", Name: "f"}},
		},
		"not registered": {
			add: []arbiter.Key{{Namespace: "a", Name: "missing"}},
			err: arbiter.ErrUnknownFunction,
		},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			reg := arbiter.NewRegistry()
			for _, ns := range []string{"a", "b"} {
				if _, err := reg.Register(arbiter.TreeElement{Namespace: ns, Name: "f"}); err != nil {
					t.Fatal(err)
				}
			}
			ctx := arbiter.NewContext("c", reg)
			var err error
			for _, key := range c.add {
				el := &arbiter.TreeElement{Namespace: key.Namespace, Name: key.Name}
				if err = ctx.AddElement(el); err != nil {
					break
				}
			}
			if !errors.Is(err, c.err) {
				t.Errorf("got %v, wanted %v", err, c.err)
			}
		})
	}
}

func TestRemoveElementWarns(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)

	uses := f.rule(t, "uses_double", "return double(2)", nil)
	other := f.rule(t, "other", "return whoami()", nil)
	f.mustValidate(t, uses)
	f.mustValidate(t, other)

	double, err := f.reg.Resolve("test", "double")
	is.NoErr(err)
	diags := f.context.RemoveElement(double)

	is.Equal(len(diags), 1) // one warning, for the rule calling double
	is.Equal(diags[0].Severity, arbiter.SeverityWarning)
	is.Equal(diags[0].Rule, "uses_double")
	is.Equal(diags[0].Name, "double")
	is.True(errors.Is(diags[0], arbiter.ErrUnauthorizedFunction))

	// removal is not refused, and the rule now fails at run time
	is.True(!f.context.Allows("test", "double"))
	_, err = f.engine.Evaluate(context.Background(), uses, nil)
	is.True(errors.Is(err, arbiter.ErrUnauthorizedFunction))

	// removing an element that is not allowed is a no-op
	is.Equal(len(f.context.RemoveElement(double)), 0)
}

func TestEngineContexts(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)

	_, err := f.engine.NewContext("default", "")
	is.True(errors.Is(err, arbiter.ErrDuplicateDefinition))

	_, err = f.engine.Context("missing")
	is.True(errors.Is(err, arbiter.ErrContextNotFound))

	c, err := f.engine.NewContext("spare", "")
	is.NoErr(err)
	is.Equal(len(f.engine.Contexts()), 2)

	r := f.rule(t, "bound", "return 1", c)
	is.True(f.engine.RemoveContext("spare") != nil) // still used by bound
	r.SetContext(nil)
	is.NoErr(f.engine.RemoveContext("spare"))
}

func TestReplacedRuleReleasesContext(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)

	spare, err := f.engine.NewContext("spare", "")
	is.NoErr(err)
	old := f.rule(t, "moving", "return double(1)", spare)
	is.Equal(len(spare.Rules()), 1)

	// the new version of the rule lives in the default context
	replacement := f.rule(t, "moving", "return double(2)", nil)
	got, err := f.engine.Rule("moving")
	is.NoErr(err)
	is.True(got == replacement)
	is.Equal(len(spare.Rules()), 0)
	is.Equal(old.Context(), spare) // the replaced rule itself is left alone
	is.NoErr(f.engine.RemoveContext("spare"))

	// only the current version is inspected when an element goes away
	f.mustValidate(t, f.rule(t, "steady", "return double(1)", nil))
	f.mustValidate(t, f.rule(t, "steady", "return 1", nil))
	is.NoErr(f.engine.RemoveRule("moving"))
	double, err := f.reg.Resolve("test", "double")
	is.NoErr(err)
	is.Equal(len(f.context.RemoveElement(double)), 0)
}
