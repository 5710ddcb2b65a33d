package main

import (
	"errors"
	"fmt"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/spf13/cobra"
)

var errNoStore = errors.New("no store: use --store or store.path")

func importCmd(g *globals) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <catalog>",
		Short: "Copy a catalog into the store",
		Long: `Import validates a catalog against the rules already stored and copies
it into the store. A catalog with rejected rules is not imported unless
--force is given.

Example:
  arbiter import --store rules.db underwriting.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errNoStore
			}
			cat, err := catalog.Load(args[0])
			if err != nil {
				return err
			}

			st, err := openStore(cfg, false)
			if err != nil {
				return err
			}
			defer st.Close()

			base, err := baseEngine(cmd.Context(), cfg, st, arbiter.WithLogger(logger))
			if err != nil {
				return err
			}
			_, diags, err := catalog.Build(cmd.Context(), base, cat)
			if err != nil && !force {
				fmt.Fprintln(cmd.OutOrStdout(), diags.Report(nil))
				return err
			}
			if err := st.Import(cat); err != nil {
				return err
			}
			logger.Info("catalog imported",
				"path", args[0],
				"store", st.Path(),
				"rules", len(cat.Rules),
				"contexts", len(cat.Contexts))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Import even when rules are rejected")
	return cmd
}

func exportCmd(g *globals) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the content of the store as a catalog",
		Long: `Export writes the rules, contexts, error codes and documented elements
of the store as a YAML catalog, to standard output or to a file.

Example:
  arbiter export --store rules.db -o backup.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Store.Path == "" {
				return errNoStore
			}
			st, err := openStore(cfg, true)
			if err != nil {
				return err
			}
			defer st.Close()

			cat, err := st.Catalog()
			if err != nil {
				return err
			}
			if output != "" {
				return cat.Save(output)
			}
			return cat.Encode(cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Catalog file to write")
	return cmd
}
