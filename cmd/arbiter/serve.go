package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/api"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/ezachrisen/arbiter/config"
	"github.com/ezachrisen/arbiter/internal/telemetry"
	"github.com/ezachrisen/arbiter/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(g *globals) *cobra.Command {
	var (
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the rule service over HTTP",
		Long: `Serve builds the engine from the store and the catalog and serves the
rule service as JSON calls on <basepath>RuleService.<Method>, with
Prometheus metrics on /metrics. With --watch the engine is rebuilt when
the catalog file changes.

Example:
  arbiter serve --catalog rules.yaml --store rules.db --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if watch {
				cfg.Catalog.Watch = true
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := newServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	cmd.Flags().BoolVar(&watch, "watch", false, "Rebuild the engine when the catalog changes")
	return cmd
}

// server holds the components of a running rule service
type server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	vault   *arbiter.Vault
	watcher *catalog.Watcher
	tel     *telemetry.Handle
	handler http.Handler
}

func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *server, err error) {
	s := &server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.tel, err = telemetry.Init(ctx, cfg.Tracing, Version); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := arbiter.NewMetrics(promReg)
	if err != nil {
		return nil, err
	}

	if s.store, err = openStore(cfg, false); err != nil {
		return nil, err
	}
	opts := []arbiter.EngineOption{
		arbiter.WithLogger(logger),
		arbiter.WithTracer(s.tel.Tracer),
		arbiter.WithMetrics(metrics),
	}
	if s.store != nil {
		opts = append(opts, arbiter.WithExecutionLogs(s.store))
	}
	base, err := baseEngine(ctx, cfg, s.store, opts...)
	if err != nil {
		return nil, err
	}
	s.vault = arbiter.NewVault(base)

	if cfg.Catalog.Path != "" {
		s.watcher, err = catalog.NewWatcher(catalog.WatcherConfig{
			Path:          cfg.Catalog.Path,
			Base:          base,
			Vault:         s.vault,
			DebounceDelay: cfg.Catalog.Debounce,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		if r := s.watcher.Load(ctx); r.Err != nil {
			return nil, fmt.Errorf("catalog %s: %w", cfg.Catalog.Path, r.Err)
		}
		if cfg.Catalog.Watch {
			if err := s.watcher.Start(ctx); err != nil {
				return nil, err
			}
		}
	}

	serverOpts := api.ServerOptions{
		Basepath:     cfg.Server.Basepath,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	}
	if cfg.Server.Metrics {
		serverOpts.Gatherer = promReg
	}
	s.handler = api.NewHandler(api.NewService(s.vault, s.store, logger), serverOpts)
	return s, nil
}

// Run serves until ctx is done, then shuts the HTTP server down.
func (s *server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Arbiter ready",
			"version", Version,
			"addr", s.cfg.Server.Addr,
			"rules", s.vault.Engine().RuleCount())
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases the watcher, the store and the tracer.
func (s *server) Close() {
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("stopping catalog watcher", "error", err)
		}
		s.watcher = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing store", "error", err)
		}
		s.store = nil
	}
	if s.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.tel.Shutdown(ctx); err != nil {
			s.logger.Warn("flushing traces", "error", err)
		}
		s.tel = nil
	}
}
