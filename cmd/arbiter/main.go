// Package main provides the arbiter binary: it validates, tests and
// evaluates the rules of a catalog, moves catalogs in and out of the
// store, and serves the rule service over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/builtins"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/ezachrisen/arbiter/config"
	"github.com/ezachrisen/arbiter/store"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "arbiter"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the flags shared by every command
type globals struct {
	configPath  string
	catalogPath string
	storePath   string
	logLevel    string
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Business rule engine",
		Long: `Arbiter evaluates business rules written by analysts.

Rules, contexts and error codes are defined in a YAML catalog or kept in
a store. Every rule carries test cases that must pass before the rule
can be evaluated.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&g.catalogPath, "catalog", "", "Catalog file, overrides catalog.path")
	cmd.PersistentFlags().StringVar(&g.storePath, "store", "", "Store file, overrides store.path")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		validateCmd(g),
		testCmd(g),
		evalCmd(g),
		treeCmd(g),
		docCmd(g),
		importCmd(g),
		exportCmd(g),
		serveCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// setup loads the configuration and applies the command line overrides.
func (g *globals) setup(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	bootstrap := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := config.NewLoader(bootstrap).Load(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if g.catalogPath != "" {
		cfg.Catalog.Path = g.catalogPath
	}
	if g.storePath != "" {
		cfg.Store.Path = g.storePath
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// baseEngine returns an engine holding the built-in functions and the
// rules of the store, when there is one.
func baseEngine(ctx context.Context, cfg *config.Config, st *store.Store, opts ...arbiter.EngineOption) (*arbiter.Engine, error) {
	reg := arbiter.NewRegistry()
	if err := builtins.Register(reg); err != nil {
		return nil, err
	}
	e := arbiter.NewEngine(reg, append(cfg.EngineOptions(), opts...)...)
	if st == nil {
		return e, nil
	}

	cat, err := st.Catalog()
	if err != nil {
		return nil, err
	}
	stored, _, err := catalog.Build(ctx, e, cat)
	if err != nil {
		return nil, fmt.Errorf("stored rules: %w", err)
	}
	return stored, nil
}

// loadEngine builds the engine of the configured store and catalog. The
// engine is returned with the diagnostics when rules were rejected.
func loadEngine(ctx context.Context, cfg *config.Config, opts ...arbiter.EngineOption) (*arbiter.Engine, arbiter.Diagnostics, error) {
	st, err := openStore(cfg, true)
	if err != nil {
		return nil, nil, err
	}
	if st != nil {
		defer st.Close()
	}
	base, err := baseEngine(ctx, cfg, st, opts...)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Catalog.Path == "" {
		if st == nil {
			return nil, nil, fmt.Errorf("no catalog: use --catalog or --store")
		}
		return base, nil, nil
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, err
	}
	return catalog.Build(ctx, base, cat)
}

// openStore opens the configured store, nil when there is none.
func openStore(cfg *config.Config, readOnly bool) (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	if readOnly {
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
	}
	return store.OpenWithOptions(cfg.Store.Path, store.Options{
		Timeout:  cfg.Store.Timeout,
		ReadOnly: readOnly,
	})
}
