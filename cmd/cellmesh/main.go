// Package main provides the cellmesh control-plane binary: the controllers,
// the event consumer, and the HTTP translator in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/cellmesh/api"
	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/config"
	"github.com/c360studio/cellmesh/controller"
	"github.com/c360studio/cellmesh/controller/evolution"
	"github.com/c360studio/cellmesh/controller/formation"
	"github.com/c360studio/cellmesh/controller/mission"
	"github.com/c360studio/cellmesh/controller/swarm"
	"github.com/c360studio/cellmesh/events"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/store"
	"github.com/c360studio/cellmesh/store/inmem"
	"github.com/c360studio/cellmesh/store/pg"
	"github.com/c360studio/cellmesh/telemetry"
	"github.com/c360studio/cellmesh/topology"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cellmesh"
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

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Cell orchestration platform",
		Long: `Cellmesh runs populations of LLM-backed cells organized into formations,
missions, swarms, and evolutions, with hierarchical budget accounting and
spawn gating. Cells communicate over NATS; controllers reconcile declarative
resources into running workers.`,
	}

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		embedded   bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, embedded, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().BoolVar(&embedded, "embedded", false, "Run an in-process NATS server and in-memory stores")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

func serve(configPath string, embedded bool, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if embedded {
		cfg.NATS.Embedded = true
		cfg.NATS.URL = ""
		cfg.Store.PostgresDSN = ""
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}
	}()

	// Messaging bus, embedded or external.
	var natsBus *bus.NATSBus
	if cfg.NATS.Embedded {
		embeddedSrv, err := bus.StartEmbedded("")
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		defer embeddedSrv.Shutdown()
		logger.Info("embedded NATS started", "url", embeddedSrv.ClientURL())

		natsBus, err = embeddedSrv.Connect(bus.WithLogger(logger))
		if err != nil {
			return err
		}
	} else {
		natsBus, err = bus.Connect(cfg.NATS.URL, bus.WithLogger(logger))
		if err != nil {
			return err
		}
		logger.Info("connected to NATS", "url", cfg.NATS.URL)
	}
	defer func() {
		if err := natsBus.Drain(); err != nil {
			logger.Error("bus drain", "error", err)
		}
	}()

	if err := natsBus.EnsureStreams(ctx); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	// Resource and topology state ride JetStream KV.
	resources, err := resource.NewKVStore(ctx, natsBus.JetStream(), logger)
	if err != nil {
		return fmt.Errorf("create resource store: %w", err)
	}
	topologies, err := topology.NewStore(ctx, natsBus.JetStream())
	if err != nil {
		return fmt.Errorf("create topology store: %w", err)
	}

	// Operational stores: Postgres when configured, in-memory otherwise.
	stores, closeStores, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	// Controllers.
	manager := controller.NewManager(resources, logger)
	manager.Register(mission.NewReconciler(resources, natsBus, mission.EventCost(stores.Events),
		mission.WithLogger(logger)))
	manager.Register(formation.NewReconciler(resources, topologies,
		formation.WithWorkspaceRoot(cfg.Workspace.Root), formation.WithLogger(logger)))
	manager.Register(swarm.NewReconciler(resources, natsBus, swarm.NewMetrics(),
		swarm.WithLogger(logger)))
	manager.Register(evolution.NewReconciler(resources, evolution.WithLogger(logger)))
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start controllers: %w", err)
	}

	// Durable event persistence.
	consumer := events.NewConsumer(natsBus, stores.Events, logger)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start event consumer: %w", err)
	}
	defer consumer.Stop()

	// HTTP translator.
	mux := http.NewServeMux()
	api.NewServer(natsBus, resources, *stores, api.WithLogger(logger)).Register(mux)
	httpSrv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Info("API listening", "addr", cfg.API.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	logger.Info("cellmesh ready", "version", Version, "embedded", cfg.NATS.Embedded)

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-httpErr:
		logger.Error("API server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown", "error", err)
	}
	stop()
	manager.Wait()

	logger.Info("cellmesh shutdown complete")
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}
	return config.NewLoader(nil).Load()
}

// openStores returns the operational stores and a close func.
func openStores(cfg *config.Config, logger *slog.Logger) (*store.Stores, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		logger.Info("using in-memory operational store")
		return inmem.New(), func() {}, nil
	}

	db, err := pg.Open(cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.Store.Migrate {
		if err := pg.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	logger.Info("connected to postgres")
	return pg.New(db), func() { _ = db.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
