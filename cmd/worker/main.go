package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/depscope/internal/config"
	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/efebarandurmaz/depscope/internal/graph/neo4j"
	"github.com/efebarandurmaz/depscope/internal/observability"
	"github.com/efebarandurmaz/depscope/internal/secrets"
	"github.com/efebarandurmaz/depscope/internal/server"
	"github.com/efebarandurmaz/depscope/internal/snapshot"
	temporalmod "github.com/efebarandurmaz/depscope/internal/temporal"
	"github.com/efebarandurmaz/depscope/internal/vector"
	"github.com/efebarandurmaz/depscope/internal/vector/qdrant"
)

var version = "dev"

func main() {
	var configPath, auditPath string
	cmd := &cobra.Command{
		Use:          "depscope-worker",
		Short:        "Temporal worker for batch dependency analysis",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, auditPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file path")
	cmd.Flags().StringVar(&auditPath, "audit", "", "Append audit events to this file (stdout, stderr or a path)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, auditPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(logger)
	for _, w := range cfg.Validate() {
		logger.Warn("config", "warning", w)
	}

	ctx := context.Background()
	creds, err := cfg.SecretsManager()
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	ops := server.NewOps(server.OpsConfig{
		Version:         version,
		Metrics:         observability.Handler(reg),
		ShutdownTimeout: 30 * time.Second,
		Logger:          logger,
	})
	health, lifecycle := ops.Health, ops.Lifecycle

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	lifecycle.Add(server.FlushTracing(tp.Shutdown))

	providerFor, err := providerFactory(ctx, cfg, creds, ops, logger)
	if err != nil {
		return err
	}

	acts := &temporalmod.Activities{ProviderFor: providerFor, Metrics: metrics, Logger: logger}
	if auditPath != "" {
		audit, err := observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: auditPath})
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		acts.Audit = audit
		lifecycle.Add(server.CloseAuditLog(audit.Close))
	}
	if cfg.Vector.Host != "" {
		apiKey, err := creds.Lookup(ctx, "", secrets.VectorAPIKey)
		if err != nil {
			return fmt.Errorf("vector api key: %w", err)
		}
		repo, err := qdrant.New(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection, qdrant.WithAPIKey(apiKey))
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		acts.Publisher = vector.NewPublisher(repo, vector.WithPublisherLogger(logger))
		health.Register("vector", server.VectorStoreCheck(cfg.Vector.Collection, func(ctx context.Context) error {
			return repo.EnsureCollection(ctx, vector.Dimensions)
		}))
		lifecycle.Add(server.CloseVectorStore(repo.Close))
	}

	clientOpts := temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	}
	apiKey, err := creds.Lookup(ctx, "", secrets.TemporalAPIKey)
	if err != nil {
		return fmt.Errorf("temporal api key: %w", err)
	}
	if apiKey != "" {
		clientOpts.Credentials = temporalclient.NewAPIKeyStaticCredentials(apiKey)
	}
	c, err := temporalclient.Dial(clientOpts)
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	lifecycle.Add(server.CloseTemporalClient(c.Close))
	health.Register("temporal", server.TemporalCheck(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue, acts)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	lifecycle.Add(server.StopWorker(w.Stop))

	if err := ops.Serve(cfg.Server.Addr); err != nil {
		return err
	}
	logger.Info("worker started", "task_queue", cfg.Temporal.TaskQueue, "ops_addr", cfg.Server.Addr)

	ops.Wait()
	logger.Info("worker stopped")
	return nil
}

// providerFactory reads namespaces from Neo4j when it is configured and from
// the newest local snapshot otherwise.
func providerFactory(ctx context.Context, cfg *config.Config, creds *secrets.Manager, ops *server.Ops, logger *slog.Logger) (temporalmod.ProviderFactory, error) {
	if cfg.Graph.URI != "" {
		password, err := creds.Lookup(ctx, cfg.Graph.Password, secrets.GraphPassword)
		if err != nil {
			return nil, fmt.Errorf("graph password: %w", err)
		}
		store, err := neo4j.New(ctx, cfg.Graph.URI, cfg.Graph.Username, password, cfg.Graph.Database)
		if err != nil {
			return nil, fmt.Errorf("graph store: %w", err)
		}
		ops.Health.Register("graph", server.GraphStoreCheck(store.Ping))
		ops.Lifecycle.Add(server.CloseGraphStore(store.Close))
		logger.Info("reading graphs from neo4j", "uri", cfg.Graph.URI)
		return func(_ context.Context, ns string) (graph.Provider, error) {
			return store.Provider(ns), nil
		}, nil
	}

	snaps, err := snapshot.NewStore(cfg.Snapshot.Dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	logger.Info("reading graphs from snapshots", "dir", cfg.Snapshot.Dir)
	return func(_ context.Context, ns string) (graph.Provider, error) {
		snap, err := snaps.Latest(ns)
		if err != nil {
			return nil, err
		}
		return snaps.Provider(snap.ID)
	}, nil
}
