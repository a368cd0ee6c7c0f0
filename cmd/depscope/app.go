package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/depscope/internal/analysis"
	"github.com/efebarandurmaz/depscope/internal/config"
	"github.com/efebarandurmaz/depscope/internal/cycles"
	"github.com/efebarandurmaz/depscope/internal/depgraph"
	"github.com/efebarandurmaz/depscope/internal/graph"
	"github.com/efebarandurmaz/depscope/internal/graph/neo4j"
	"github.com/efebarandurmaz/depscope/internal/observability"
	"github.com/efebarandurmaz/depscope/internal/secrets"
	"github.com/efebarandurmaz/depscope/internal/snapshot"
	temporalmod "github.com/efebarandurmaz/depscope/internal/temporal"
	"github.com/efebarandurmaz/depscope/internal/vector"
	"github.com/efebarandurmaz/depscope/internal/vector/qdrant"
)

var errNoInput = errors.New("no input graph: pass --graph, --snapshot or --neo4j")

// app carries flags and the resources opened for one command.
type app struct {
	configPath string
	logLevel   string
	auditPath  string

	graphFile   string
	snapshotRef string
	useNeo4j    bool
	namespace   string

	maxDepth     int
	maxCycles    int
	timeout      time.Duration
	edgeTypes    []string
	excludeTypes []string
	topN         int
	flagSet      func(name string) bool

	cfg     *config.Config
	secrets *secrets.Manager
	logger  *slog.Logger
	audit   *observability.AuditLogger
	closers []func(context.Context) error
}

func (a *app) inputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&a.graphFile, "graph", "g", "", "Graph file (JSON or YAML)")
	cmd.Flags().StringVar(&a.snapshotRef, "snapshot", "", "Read the graph of a saved snapshot (id or tag)")
	cmd.Flags().BoolVar(&a.useNeo4j, "neo4j", false, "Read the graph from the configured Neo4j store")
	cmd.Flags().StringVarP(&a.namespace, "namespace", "n", "", "Graph namespace (default: graph.namespace from config)")
}

func (a *app) detectionFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&a.maxDepth, "max-depth", 0, "Maximum path length explored (default: config value)")
	cmd.Flags().IntVar(&a.maxCycles, "max-cycles", 0, "Stop after this many cycles (default: config value)")
	cmd.Flags().DurationVar(&a.timeout, "timeout", 0, "Wall-clock budget for detection (default: config value)")
	cmd.Flags().StringSliceVar(&a.edgeTypes, "edge-types", nil, "Only follow these edge types")
	cmd.Flags().StringSliceVar(&a.excludeTypes, "exclude-types", nil, "Never enter nodes of these types")
	cmd.Flags().IntVar(&a.topN, "top", 0, "Length of the rankings (0: config value)")
}

func (a *app) setup(cmd *cobra.Command) error {
	a.flagSet = cmd.Flags().Changed
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger = observability.NewLogger(observability.LogConfig{Level: level, Format: cfg.Log.Format})
	slog.SetDefault(a.logger)
	for _, w := range cfg.Validate() {
		a.logger.Warn("config", "warning", w)
	}
	if a.secrets, err = cfg.SecretsManager(); err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	if a.auditPath != "" {
		audit, err := observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: a.auditPath})
		if err != nil {
			return err
		}
		a.audit = audit
		a.onClose(func(context.Context) error { return audit.Close() })
	}
	return nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of opening.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) ns() string {
	if a.namespace != "" {
		return a.namespace
	}
	return a.cfg.Graph.Namespace
}

func (a *app) changed(name string) bool {
	return a.flagSet != nil && a.flagSet(name)
}

// options layers the detection flags over the configured limits.
func (a *app) options() cycles.Options {
	opts := a.cfg.DetectionOptions()
	if a.changed("max-depth") {
		opts.MaxDepth = a.maxDepth
	}
	if a.changed("max-cycles") {
		opts.MaxCycles = a.maxCycles
	}
	if a.changed("timeout") {
		opts.Timeout = a.timeout
	}
	if len(a.edgeTypes) > 0 {
		opts.EdgeTypes = opts.EdgeTypes[:0]
		for _, t := range a.edgeTypes {
			opts.EdgeTypes = append(opts.EdgeTypes, graph.EdgeType(t))
		}
	}
	if len(a.excludeTypes) > 0 {
		opts.ExcludeNodeTypes = opts.ExcludeNodeTypes[:0]
		for _, t := range a.excludeTypes {
			opts.ExcludeNodeTypes = append(opts.ExcludeNodeTypes, graph.NodeType(t))
		}
	}
	return opts
}

func (a *app) rankingSize() int {
	if a.topN > 0 {
		return a.topN
	}
	return a.cfg.Analysis.TopN
}

// openProvider resolves the input flags to a provider and its namespace.
func (a *app) openProvider(ctx context.Context) (graph.Provider, string, error) {
	switch {
	case a.graphFile != "":
		p, err := graph.LoadFile(a.graphFile)
		if err != nil {
			return nil, "", err
		}
		return p, a.ns(), nil

	case a.snapshotRef != "":
		store, err := a.snapshots()
		if err != nil {
			return nil, "", err
		}
		snap, err := store.Resolve(a.snapshotRef)
		if err != nil {
			return nil, "", err
		}
		p, err := store.Provider(snap.ID)
		if err != nil {
			return nil, "", err
		}
		return p, snap.Namespace, nil

	case a.useNeo4j:
		store, err := a.graphStore(ctx)
		if err != nil {
			return nil, "", err
		}
		return store.Provider(a.ns()), a.ns(), nil
	}
	return nil, "", errNoInput
}

func (a *app) graphStore(ctx context.Context) (*neo4j.Store, error) {
	g := a.cfg.Graph
	if g.URI == "" {
		return nil, errors.New("graph.uri is not configured")
	}
	password, err := a.secrets.Lookup(ctx, g.Password, secrets.GraphPassword)
	if err != nil {
		return nil, fmt.Errorf("graph password: %w", err)
	}
	store, err := neo4j.New(ctx, g.URI, g.Username, password, g.Database)
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	return store, nil
}

func (a *app) snapshots() (*snapshot.Store, error) {
	return snapshot.NewStore(a.cfg.Snapshot.Dir)
}

func (a *app) runner() *analysis.Runner {
	return analysis.NewRunner(
		analysis.WithLogger(a.logger),
		analysis.WithAudit(a.audit),
		analysis.WithAnalyzer(depgraph.NewAnalyzer(depgraph.WithTopN(a.rankingSize()), depgraph.WithLogger(a.logger))),
	)
}

func (a *app) analyze(ctx context.Context) (*analysis.Report, error) {
	p, ns, err := a.openProvider(ctx)
	if err != nil {
		return nil, err
	}
	return a.runner().Run(ctx, ns, p, a.options())
}

func (a *app) detect(ctx context.Context, from string) (*cycles.Result, error) {
	p, _, err := a.openProvider(ctx)
	if err != nil {
		return nil, err
	}
	d := cycles.New(p, cycles.WithLogger(a.logger))
	if from != "" {
		return d.DetectFromNode(ctx, graph.NodeID(from), nil, a.options())
	}
	return d.Detect(ctx, a.options())
}

func (a *app) circularPath(ctx context.Context, from, to string) (cycles.Cycle, bool, error) {
	p, _, err := a.openProvider(ctx)
	if err != nil {
		return cycles.Cycle{}, false, err
	}
	return cycles.New(p, cycles.WithLogger(a.logger)).FindCircularPath(ctx, graph.NodeID(from), graph.NodeID(to), nil)
}

func (a *app) saveSnapshot(ctx context.Context, w io.Writer, rep *analysis.Report, tag string) error {
	store, err := a.snapshots()
	if err != nil {
		return err
	}
	snap, doc := snapshot.NewSnapshot(rep)
	snap.Tag = tag

	_, span := observability.StartSnapshotSpan(ctx, "save", snap.ID)
	defer span.End()
	if err := store.Save(snap, doc); err != nil {
		observability.RecordError(span, err)
		return err
	}
	a.audit.LogSnapshot(observability.AuditEventSnapshotSave, snap.Namespace, snap.ID)
	fmt.Fprintf(w, "Saved snapshot %s (%d nodes, %d cycles)\n", snap.ID, snap.NodeCount, len(snap.Cycles))
	return nil
}

func (a *app) deleteSnapshot(ctx context.Context, ref string) error {
	store, err := a.snapshots()
	if err != nil {
		return err
	}
	snap, err := store.Resolve(ref)
	if err != nil {
		return err
	}
	_, span := observability.StartSnapshotSpan(ctx, "delete", snap.ID)
	defer span.End()
	if err := store.Delete(snap.ID); err != nil {
		observability.RecordError(span, err)
		return err
	}
	a.audit.LogSnapshot(observability.AuditEventSnapshotDelete, snap.Namespace, snap.ID)
	return nil
}

func (a *app) diffSnapshots(w io.Writer, oldRef, newRef string, asJSON bool) error {
	store, err := a.snapshots()
	if err != nil {
		return err
	}
	oldSnap, err := store.Resolve(oldRef)
	if err != nil {
		return err
	}
	newSnap, err := store.Resolve(newRef)
	if err != nil {
		return err
	}
	d, err := snapshot.Diff(oldSnap, newSnap, store)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	_, err = io.WriteString(w, snapshot.FormatDiff(d))
	return err
}

func (a *app) publish(ctx context.Context, w io.Writer, similar string, topK int) error {
	rep, err := a.analyze(ctx)
	if err != nil {
		return err
	}
	v := a.cfg.Vector
	if v.Host == "" {
		return errors.New("vector.host is not configured")
	}
	apiKey, err := a.secrets.Lookup(ctx, "", secrets.VectorAPIKey)
	if err != nil {
		return fmt.Errorf("vector api key: %w", err)
	}
	repo, err := qdrant.New(v.Host, v.Port, v.Collection, qdrant.WithAPIKey(apiKey))
	if err != nil {
		return err
	}
	a.onClose(func(context.Context) error { return repo.Close() })

	pub := vector.NewPublisher(repo, vector.WithPublisherLogger(a.logger))
	ctx, span := observability.StartStoreSpan(ctx, "qdrant", "publish")
	defer span.End()

	n, err := pub.Publish(ctx, rep.Namespace, rep.Graph())
	a.audit.LogExport(observability.AuditEventVectorPublish, rep.Namespace, n, err)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	fmt.Fprintf(w, "Published %d risk profiles to %s\n", n, v.Collection)

	if similar == "" {
		return nil
	}
	results, err := pub.SimilarNodes(ctx, rep.Namespace, rep.Graph(), graph.NodeID(similar), topK)
	if err != nil {
		return err
	}
	renderSimilar(w, similar, results)
	return nil
}

func (a *app) storeGraph(ctx context.Context, w io.Writer) error {
	if a.useNeo4j {
		return errors.New("store reads from --graph or --snapshot and writes to Neo4j")
	}
	p, ns, err := a.openProvider(ctx)
	if err != nil {
		return err
	}
	nodes, err := p.AllNodes(ctx)
	if err != nil {
		return err
	}
	edges, err := graph.CollectEdges(ctx, p, nodes, func(id graph.NodeID, err error) {
		a.logger.Warn("edge fetch failed", "node", id, "error", err)
	})
	if err != nil {
		return err
	}

	store, err := a.graphStore(ctx)
	if err != nil {
		return err
	}
	ctx, span := observability.StartStoreSpan(ctx, "neo4j", "store")
	defer span.End()

	err = store.StoreGraph(ctx, ns, nodes, edges)
	a.audit.LogExport(observability.AuditEventGraphStore, ns, len(edges), err)
	if err != nil {
		observability.RecordError(span, err)
		return err
	}
	fmt.Fprintf(w, "Stored %d nodes and %d edges in namespace %q\n", len(nodes), len(edges), ns)
	return nil
}

// runBatch submits every namespace to the Temporal worker, which reads them
// from its own graph source.
func (a *app) runBatch(ctx context.Context, w io.Writer, namespaces []string) error {
	if len(namespaces) == 0 {
		namespaces = []string{a.ns()}
	}
	t := a.cfg.Temporal
	opts := temporalclient.Options{
		HostPort:  t.Host,
		Namespace: t.Namespace,
		Logger:    tlog.NewStructuredLogger(a.logger),
	}
	apiKey, err := a.secrets.Lookup(ctx, "", secrets.TemporalAPIKey)
	if err != nil {
		return fmt.Errorf("temporal api key: %w", err)
	}
	if apiKey != "" {
		opts.Credentials = temporalclient.NewAPIKeyStaticCredentials(apiKey)
	}
	c, err := temporalclient.Dial(opts)
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	out, err := temporalmod.RunBatch(ctx, c, t.TaskQueue, "depscope-batch-"+uuid.NewString(), temporalmod.BatchInput{
		Namespaces: namespaces,
		Options:    a.options(),
		TopN:       a.rankingSize(),
	})
	if err != nil {
		return err
	}
	renderBatch(w, out)
	if len(out.Failed) > 0 {
		return fmt.Errorf("%d of %d namespaces failed", len(out.Failed), len(out.Failed)+len(out.Reports))
	}
	return nil
}
