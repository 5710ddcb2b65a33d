package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/algo"
	"github.com/ezachrisen/arbiter/api"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func validateCmd(g *globals) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the rules of the catalog",
		Long: `Validate builds the engine from the store and the catalog and validates
every rule marked validated: compilation, authorized functions, rule
references, call cycles and test cases. A report is printed for each
rule that fails.

Example:
  arbiter validate --catalog rules.yaml
  arbiter validate --catalog rules.yaml --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, diags, err := loadEngine(cmd.Context(), cfg, arbiter.WithLogger(logger))
			if e == nil {
				return err
			}

			if all {
				var failed []string
				for _, r := range e.Rules() {
					if r.Status() != arbiter.StatusDraft {
						continue
					}
					ok, d := e.Validate(cmd.Context(), r)
					diags = append(diags, d...)
					if !ok {
						failed = append(failed, r.ShortName)
					}
				}
				if len(failed) > 0 {
					err = errors.Join(err, fmt.Errorf("%w: %s", catalog.ErrRejected, strings.Join(failed, ", ")))
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, e)
			byRule := groupByRule(diags)
			for _, name := range slices.Sorted(maps.Keys(byRule)) {
				d := byRule[name]
				if !d.HasErrors() {
					continue
				}
				r, _ := e.Rule(name)
				fmt.Fprintln(out, d.Report(r))
			}
			fmt.Fprintln(out, diags.Summary())
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Also validate draft rules")
	return cmd
}

func groupByRule(diags arbiter.Diagnostics) map[string]arbiter.Diagnostics {
	out := map[string]arbiter.Diagnostics{}
	for _, d := range diags {
		out[d.Rule] = append(out[d.Rule], d)
	}
	return out
}

func testCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "test [rule...]",
		Short: "Run the test cases of rules",
		Long: `Test runs the test cases of the named rules, or of every rule, whether
the rules are validated or not. The rules they call must be validated.

Example:
  arbiter test --catalog rules.yaml premium`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, _, err := loadEngine(cmd.Context(), cfg, arbiter.WithLogger(logger))
			if e == nil {
				return err
			}

			rules := e.Rules()
			if len(args) > 0 {
				rules = rules[:0]
				for _, name := range args {
					r, err := e.Rule(name)
					if err != nil {
						return fmt.Errorf("%s: %w", name, err)
					}
					rules = append(rules, r)
				}
			}

			runner := arbiter.NewRunner(e)
			var failed []string
			out := cmd.OutOrStdout()
			for _, r := range rules {
				if len(r.TestCases()) == 0 {
					continue
				}
				report, err := runner.Run(cmd.Context(), r)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, report)
				if !report.Passed() {
					failed = append(failed, r.ShortName)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%w: %s", arbiter.ErrTestCaseFailed, strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func evalCmd(g *globals) *cobra.Command {
	var (
		params  []string
		argVals []string
		today   string
		debug   bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "eval <rule>",
		Short: "Evaluate a validated rule",
		Long: `Eval evaluates a rule. Parameters are converted to their declared
types; arguments are algorithm literals (42, 'text', date(2020, 1, 31),
Decimal('1.5')) or plain text.

Example:
  arbiter eval --catalog rules.yaml age --param birth=1990-06-01
  arbiter eval --catalog rules.yaml premium --arg contract=42 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, _, err := loadEngine(cmd.Context(), cfg, arbiter.WithLogger(logger))
			if e == nil {
				return err
			}
			if err != nil {
				logger.Warn("some rules were rejected", "error", err)
			}

			req := api.EvaluateRequest{Rule: args[0], Today: today, Debug: debug}
			if req.Params, err = keyValues(params, func(s string) any { return s }); err != nil {
				return err
			}
			if req.Args, err = keyValues(argVals, literal); err != nil {
				return err
			}

			service := api.NewService(arbiter.NewVault(e), nil, logger)
			res, err := service.Evaluate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printEvaluation(cmd.OutOrStdout(), args[0], res)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Rule parameter name=value")
	cmd.Flags().StringArrayVarP(&argVals, "arg", "a", nil, "Evaluation argument name=value")
	cmd.Flags().StringVar(&today, "today", "", "Evaluation date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Show the calls made by the rule")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

// literal reads an argument as an algorithm literal, as text when it is
// not one.
func literal(s string) any {
	if v, err := algo.ParseLiteral(s); err == nil {
		return v
	}
	return s
}

func keyValues(pairs []string, value func(string) any) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected name=value, got %q", p)
		}
		out[k] = value(v)
	}
	return out, nil
}

func printEvaluation(w io.Writer, rule string, res *api.EvaluateResponse) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("%s (%s)", rule, res.EvalID)
	tw.AppendRow(table.Row{"Value", res.Display})
	if res.Incomplete {
		tw.AppendRow(table.Row{"Incomplete", "yes"})
	}
	for _, m := range []struct {
		name string
		msgs []string
	}{
		{"Errors", res.Errors},
		{"Warnings", res.Warnings},
		{"Info", res.Info},
		{"Debug", res.Debug},
	} {
		if len(m.msgs) > 0 {
			tw.AppendRow(table.Row{m.name, strings.Join(m.msgs, "\n")})
		}
	}
	for _, k := range slices.Sorted(maps.Keys(res.Details)) {
		tw.AppendRow(table.Row{"Detail " + k, fmt.Sprint(res.Details[k])})
	}
	tw.AppendRow(table.Row{"Steps", res.Steps})
	for _, c := range res.Calls {
		call := strings.Repeat("  ", c.Depth) + c.Call
		if c.Error != "" {
			call += " ! " + c.Error
		}
		tw.AppendRow(table.Row{"Call", call})
	}
	tw.SetStyle(table.StyleLight)
	tw.Render()
}

func treeCmd(g *globals) *cobra.Command {
	var contextName string

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the function tree",
		Long: `Tree prints the folders, functions and rules known to the engine, or
the elements a context allows.

Example:
  arbiter tree --catalog rules.yaml --context underwriting`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, _, err := loadEngine(cmd.Context(), cfg, arbiter.WithLogger(logger))
			if e == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if contextName == "" {
				fmt.Fprint(out, e.Registry().Tree())
				return nil
			}
			c, err := e.Context(contextName)
			if err != nil {
				return err
			}
			for _, el := range c.Elements() {
				fmt.Fprintf(out, "%-40s %s\n", el.Key(), el.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextName, "context", "", "List the elements the context allows")
	return cmd
}

func docCmd(g *globals) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "doc <rule>",
		Short: "Render the documentation of a rule",
		Long: `Doc renders the description of a rule, a template that may use the
parameters of the rule.

Example:
  arbiter doc --catalog rules.yaml premium --param rate=0.12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			e, _, err := loadEngine(cmd.Context(), cfg, arbiter.WithLogger(logger))
			if e == nil {
				return err
			}
			r, err := e.Rule(args[0])
			if err != nil {
				return err
			}
			values, err := keyValues(params, literal)
			if err != nil {
				return err
			}
			doc, err := r.Documentation(values)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), doc)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Parameter name=value used by the template")
	return cmd
}
