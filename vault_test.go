package arbiter_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/matryer/is"
)

// vaultFixture returns a vault over an engine with the validated rule
// base (returning 4) and an empty context "other".
func vaultFixture(t *testing.T) (*fixture, *arbiter.Vault) {
	t.Helper()
	f := newFixture(t)
	base := f.rule(t, "base", "return double(2)", nil)
	f.mustValidate(t, base)
	if _, err := f.engine.NewContext("other", ""); err != nil {
		t.Fatal(err)
	}
	return f, arbiter.NewVault(f.engine)
}

func value(t *testing.T, e *arbiter.Engine, rule string) any {
	t.Helper()
	res, err := e.EvaluateRule(context.Background(), rule, nil)
	if err != nil {
		t.Fatalf("evaluating %s: %v", rule, err)
	}
	return res.Value
}

func TestVaultAdd(t *testing.T) {
	is := is.New(t)
	f, v := vaultFixture(t)

	added := arbiter.NewRule("added", "return double(5)")
	_, err := v.ApplyMutations(context.Background(), []arbiter.RuleMutation{
		{ShortName: "added", Rule: added, Context: "default"},
	})
	is.NoErr(err)

	is.Equal(value(t, v.Engine(), "added"), int64(10))
	is.Equal(value(t, v.Engine(), "base"), int64(4))
	is.True(v.Engine() != f.engine)

	// the previous engine and the caller's rule are untouched
	_, err = f.engine.Rule("added")
	is.True(errors.Is(err, arbiter.ErrRuleNotFound))
	is.Equal(added.Status(), arbiter.StatusDraft)
	is.Equal(added.Context(), nil)
}

func TestVaultReplace(t *testing.T) {
	is := is.New(t)
	f, v := vaultFixture(t)
	old := v.Engine()

	_, err := v.ApplyMutations(context.Background(), []arbiter.RuleMutation{
		{ShortName: "base", Rule: arbiter.NewRule("base", "return double(3)")},
	})
	is.NoErr(err)

	is.Equal(value(t, v.Engine(), "base"), int64(6))
	is.Equal(value(t, old, "base"), int64(4))
	r, err := v.Engine().Rule("base")
	is.NoErr(err)
	is.Equal(r.Context().Name, "default") // kept from the replaced rule
	is.Equal(len(f.context.Rules()), 1)
}

func TestVaultMoveAndDelete(t *testing.T) {
	is := is.New(t)
	f := newFixture(t)
	other, err := f.engine.NewContext("other", "")
	is.NoErr(err)
	f.allow(t, other, "test", "double")
	f.mustValidate(t, f.rule(t, "base", "return double(2)", nil))
	v := arbiter.NewVault(f.engine)

	_, err = v.ApplyMutations(context.Background(), []arbiter.RuleMutation{
		{ShortName: "base", Context: "other"},
	})
	is.NoErr(err)
	r, err := v.Engine().Rule("base")
	is.NoErr(err)
	is.Equal(r.Context().Name, "other")
	is.Equal(r.Status(), arbiter.StatusValidated)
	is.Equal(value(t, v.Engine(), "base"), int64(4))

	_, err = v.ApplyMutations(context.Background(), []arbiter.RuleMutation{{ShortName: "base"}})
	is.NoErr(err)
	is.Equal(v.Engine().RuleCount(), 0)
	is.Equal(f.engine.RuleCount(), 1)
}

func TestVaultFailures(t *testing.T) {

	cases := map[string]struct {
		mutations []arbiter.RuleMutation
		err       error
		diags     bool
	}{
		"not validated": {
			mutations: []arbiter.RuleMutation{
				{ShortName: "added", Rule: arbiter.NewRule("added", "return 1"), Context: "default"},
				{ShortName: "base", Rule: arbiter.NewRule("base", "return foo()")},
			},
			err:   arbiter.ErrUnauthorizedFunction,
			diags: true,
		},
		"moved to a context that does not allow it": {
			mutations: []arbiter.RuleMutation{{ShortName: "base", Context: "other"}},
			err:       arbiter.ErrUnauthorizedFunction,
			diags:     true,
		},
		"unknown context": {
			mutations: []arbiter.RuleMutation{{ShortName: "base", Context: "missing"}},
			err:       arbiter.ErrContextNotFound,
		},
		"move missing rule": {
			mutations: []arbiter.RuleMutation{{ShortName: "missing", Context: "default"}},
			err:       arbiter.ErrRuleNotFound,
		},
		"delete missing rule": {
			mutations: []arbiter.RuleMutation{{ShortName: "missing"}},
			err:       arbiter.ErrRuleNotFound,
		},
		"short name mismatch": {
			mutations: []arbiter.RuleMutation{{ShortName: "base", Rule: arbiter.NewRule("other_name", "return 1")}},
			err:       arbiter.ErrInvalidName,
		},
	}

	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			f, v := vaultFixture(t)

			diags, err := v.ApplyMutations(context.Background(), c.mutations)
			if !errors.Is(err, c.err) {
				t.Fatalf("got %v, wanted %v", err, c.err)
			}
			is.Equal(len(diags) > 0, c.diags)

			// nothing was published
			is.Equal(v.Engine(), f.engine)
			is.Equal(value(t, v.Engine(), "base"), int64(4))
			_, err = v.Engine().Rule("added")
			is.True(errors.Is(err, arbiter.ErrRuleNotFound))
		})
	}
}

func TestVaultPublish(t *testing.T) {
	is := is.New(t)
	_, v := vaultFixture(t)
	next := newFixture(t)
	v.Publish(next.engine)
	is.Equal(v.Engine(), next.engine)
	is.Equal(arbiter.NewVault(nil).Engine().RuleCount(), 0)
}

// Evaluations run against the engine they started with while mutations
// are applied.
func TestVaultConcurrentEvaluation(t *testing.T) {
	is := is.New(t)
	_, v := vaultFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res, err := v.Engine().EvaluateRule(context.Background(), "base", nil)
				if err != nil {
					errs <- err
					return
				}
				if n, ok := res.Value.(int64); !ok || n%2 != 0 {
					errs <- fmt.Errorf("unexpected value %v", res.Value)
					return
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		src := fmt.Sprintf("return double(%d)", i)
		_, err := v.ApplyMutations(context.Background(), []arbiter.RuleMutation{
			{ShortName: "base", Rule: arbiter.NewRule("base", src)},
		})
		is.NoErr(err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	is.Equal(value(t, v.Engine(), "base"), int64(38))
}
