package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook releases one resource during shutdown. Hooks run in ascending Order.
type Hook struct {
	Name  string
	Order int
	Fn    func(ctx context.Context) error
}

// Shutdown order of the worker's resources: stop taking traffic, drain
// activities, then close the stores they used.
const (
	orderReadiness      = 0
	orderOpsServer      = 5
	OrderWorker         = 20
	OrderTemporalClient = 30
	OrderVectorStore    = 70
	OrderTracing        = 80
	OrderGraphStore     = 90
	OrderAuditLog       = 95
)

const defaultShutdownTimeout = 30 * time.Second

// Lifecycle waits for SIGINT/SIGTERM or Stop and then runs its hooks under
// one shared timeout. A failing hook is logged and the rest still run.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []Hook
	started bool

	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger

	stopping chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLifecycle returns a lifecycle with the given hook timeout; zero or
// negative uses 30s. A nil logger uses slog.Default().
func NewLifecycle(timeout time.Duration, logger *slog.Logger) *Lifecycle {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		timeout:  timeout,
		signals:  []os.Signal{syscall.SIGTERM, syscall.SIGINT},
		logger:   logger,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Add registers a hook. Hooks with equal Order run in registration order.
func (l *Lifecycle) Add(h Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
	sort.SliceStable(l.hooks, func(i, j int) bool { return l.hooks[i].Order < l.hooks[j].Order })
}

// Start listens for signals. Calling it again is a no-op.
func (l *Lifecycle) Start() {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, l.signals...)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			l.logger.Info("shutdown signal received", "signal", sig.String())
			l.Stop()
		case <-l.stopping:
		}
		l.runHooks()
	}()
}

// Stop begins shutdown. Hooks only run once Start has been called.
func (l *Lifecycle) Stop() {
	l.stopOnce.Do(func() { close(l.stopping) })
}

// Done is closed once every hook has returned.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

func (l *Lifecycle) Wait() { <-l.done }

func (l *Lifecycle) runHooks() {
	defer close(l.done)

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	l.mu.Lock()
	hooks := append([]Hook(nil), l.hooks...)
	l.mu.Unlock()

	for _, h := range hooks {
		if err := h.Fn(ctx); err != nil {
			l.logger.Error("shutdown hook failed", "hook", h.Name, "error", err)
			continue
		}
		l.logger.Debug("shutdown hook done", "hook", h.Name)
	}
}

func closeHook(name string, order int, fn func() error) Hook {
	return Hook{Name: name, Order: order, Fn: func(context.Context) error { return fn() }}
}

func stopHook(name string, order int, fn func()) Hook {
	return Hook{Name: name, Order: order, Fn: func(context.Context) error { fn(); return nil }}
}

// StopWorker drains the Temporal worker; Stop waits for running activities.
func StopWorker(stop func()) Hook { return stopHook("temporal-worker", OrderWorker, stop) }

// CloseTemporalClient closes the client after the worker is drained.
func CloseTemporalClient(closeFn func()) Hook {
	return stopHook("temporal-client", OrderTemporalClient, closeFn)
}

func CloseVectorStore(closeFn func() error) Hook {
	return closeHook("vector-store", OrderVectorStore, closeFn)
}

// FlushTracing exports buffered spans.
func FlushTracing(shutdown func(ctx context.Context) error) Hook {
	return Hook{Name: "tracing", Order: OrderTracing, Fn: shutdown}
}

func CloseGraphStore(closeFn func(ctx context.Context) error) Hook {
	return Hook{Name: "graph-store", Order: OrderGraphStore, Fn: closeFn}
}

// CloseAuditLog runs last so events written by earlier hooks are kept.
func CloseAuditLog(closeFn func() error) Hook {
	return closeHook("audit-log", OrderAuditLog, closeFn)
}

// OpsConfig configures the worker's ops server.
type OpsConfig struct {
	Version         string
	Metrics         http.Handler  // served on /metrics when set
	ShutdownTimeout time.Duration // default 30s
	Logger          *slog.Logger
}

// Ops ties the health endpoints to the shutdown lifecycle: readiness drops as
// soon as shutdown begins and the HTTP server is closed first.
type Ops struct {
	Health    *Health
	Lifecycle *Lifecycle
	logger    *slog.Logger
}

func NewOps(cfg OpsConfig) *Ops {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	o := &Ops{
		Health:    NewHealth(cfg.Version, cfg.Metrics),
		Lifecycle: NewLifecycle(cfg.ShutdownTimeout, logger),
		logger:    logger,
	}
	o.Lifecycle.Add(Hook{Name: "readiness", Order: orderReadiness, Fn: func(context.Context) error {
		o.Health.SetReady(false)
		return nil
	}})
	return o
}

// Serve binds addr (":8080" when empty), starts the lifecycle and serves the
// health endpoints in the background, then reports ready. Bind errors are returned.
func (o *Ops) Serve(addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ops server: %w", err)
	}
	srv := &http.Server{
		Handler:           o.Health.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	o.Lifecycle.Add(Hook{Name: "ops-server", Order: orderOpsServer, Fn: srv.Shutdown})
	o.Lifecycle.Start()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("ops server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	o.Health.SetReady(true)
	return nil
}

// Wait blocks until every shutdown hook has run.
func (o *Ops) Wait() { o.Lifecycle.Wait() }
