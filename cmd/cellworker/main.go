// Package main provides the cellworker binary: one cell runtime per process,
// configured entirely by environment variables so the formation controller
// can launch it from a pod template.
//
// Required:
//
//	CELL_NAME       name of the Cell resource to run
//	NATS_URL        messaging bus address
//
// Optional:
//
//	CELL_NAMESPACE            resource namespace (default "default")
//	CELLMESH_MODEL_REGISTRY   model registry JSON path (default built-ins)
//	CELLMESH_POSTGRES_DSN     operational store; enables ledger spend and the
//	                          spawn tool
//	GRAPH_SERVICE_URL         knowledge-graph service; enables graph tools
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/c360studio/cellmesh/bus"
	"github.com/c360studio/cellmesh/mind"
	"github.com/c360studio/cellmesh/model"
	"github.com/c360studio/cellmesh/recursion"
	"github.com/c360studio/cellmesh/resource"
	"github.com/c360studio/cellmesh/runtime"
	"github.com/c360studio/cellmesh/store"
	"github.com/c360studio/cellmesh/store/pg"
	"github.com/c360studio/cellmesh/toolset"
	"github.com/c360studio/cellmesh/topology"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	name := os.Getenv("CELL_NAME")
	natsURL := os.Getenv("NATS_URL")
	if name == "" || natsURL == "" {
		return fmt.Errorf("CELL_NAME and NATS_URL are required")
	}
	namespace := os.Getenv("CELL_NAMESPACE")
	if namespace == "" {
		namespace = "default"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).
		With("cell", name, "namespace", namespace)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsBus, err := bus.Connect(natsURL, bus.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := natsBus.Drain(); err != nil {
			logger.Error("bus drain", "error", err)
		}
	}()

	resources, err := resource.NewKVStore(ctx, natsBus.JetStream(), logger)
	if err != nil {
		return fmt.Errorf("create resource store: %w", err)
	}

	obj, err := resources.Get(ctx, resource.KindCell, namespace, name)
	if err != nil {
		return fmt.Errorf("load cell resource: %w", err)
	}
	var spec resource.CellSpec
	if err := obj.DecodeSpec(&spec); err != nil {
		return err
	}

	registry, err := loadModelRegistry()
	if err != nil {
		return err
	}
	brain := mind.NewClient(registry, mind.WithLogger(logger))

	// Routing table, published by the formation controller.
	var routes topology.Table
	if spec.FormationRef != "" {
		topologies, err := topology.NewStore(ctx, natsBus.JetStream())
		if err != nil {
			return fmt.Errorf("create topology store: %w", err)
		}
		routes, err = topologies.Load(ctx, namespace, spec.FormationRef)
		if err != nil {
			logger.Warn("no topology table, routing unrestricted",
				"formation", spec.FormationRef, "error", err)
		}
	}

	// Operational stores are optional for a worker; without them the cell
	// loses the spawn tool and ledger spends.
	var stores *store.Stores
	if dsn := os.Getenv("CELLMESH_POSTGRES_DSN"); dsn != "" {
		db, err := pg.Open(dsn)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		stores = pg.New(db)
	}

	tools, err := buildTools(spec, name, namespace, resources, stores)
	if err != nil {
		return err
	}

	opts := []runtime.Option{runtime.WithLogger(logger), runtime.WithRoutes(routes)}
	if stores != nil {
		cellID := resource.ObjectKey(namespace, name)
		ledger := stores.Ledger
		opts = append(opts, runtime.WithCostSink(func(ctx context.Context, cost float64) {
			if err := ledger.Spend(ctx, cellID, cost); err != nil {
				logger.Warn("ledger spend", "cost", cost, "error", err)
			}
		}))
	}

	rt := runtime.New(name, namespace, spec, natsBus, brain, tools, opts...)
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	logger.Info("cell running")

	<-ctx.Done()
	logger.Info("shutting down")
	rt.Stop(context.Background())
	return nil
}

func loadModelRegistry() (*model.Registry, error) {
	if path := os.Getenv("CELLMESH_MODEL_REGISTRY"); path != "" {
		registry, err := model.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load model registry: %w", err)
		}
		return registry, nil
	}
	return model.NewDefaultRegistry(), nil
}

// buildTools registers every tool the environment supports, then restricts to
// the spec's tool list when one is given.
func buildTools(spec resource.CellSpec, name, namespace string, resources resource.Store, stores *store.Stores) (*toolset.Registry, error) {
	registry := toolset.NewRegistry()

	if err := registry.Register(toolset.NewEchoExecutor()); err != nil {
		return nil, err
	}

	workdir := spec.WorkspacePath
	if workdir == "" {
		workdir = "."
	}
	if err := registry.Register(toolset.NewShellExecutor(workdir)); err != nil {
		return nil, err
	}
	if err := registry.Register(toolset.NewFileExecutor(workdir)); err != nil {
		return nil, err
	}

	if graphURL := os.Getenv("GRAPH_SERVICE_URL"); graphURL != "" {
		if err := registry.Register(toolset.NewGraphExecutor(graphURL)); err != nil {
			return nil, err
		}
	}

	if stores != nil {
		validator := recursion.NewValidator(stores.Tree, stores.Ledger, stores.Spawns)
		spawner := toolset.NewSpawnExecutor(validator, resources, stores, name, namespace, spec.Recursion)
		if err := registry.Register(spawner); err != nil {
			return nil, err
		}
	}

	if len(spec.Tools) > 0 {
		registry = registry.Filter(spec.Tools)
	}
	return registry, nil
}
