// Package runtime assembles the audit relay: storage, the audit service, the
// stdio JSON-RPC engine and the HTTP adapter, and runs them as one process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakhilchawla/audit-llm-decision/internal/api/interactions"
	"github.com/sakhilchawla/audit-llm-decision/internal/audit"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/ports"
	"github.com/sakhilchawla/audit-llm-decision/internal/mcp"
	"github.com/sakhilchawla/audit-llm-decision/internal/metrics"
	"github.com/sakhilchawla/audit-llm-decision/internal/pkg/config"
	"github.com/sakhilchawla/audit-llm-decision/internal/server"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage"
)

// ServerName is announced to stdio hosts.
const ServerName = "@audit-llm/server"

const httpShutdownTimeout = 15 * time.Second

// Relay owns the store and every transport that shares it. It is the only
// component that closes the store, and only after both transports drained.
type Relay struct {
	cfg     *config.Config
	store   ports.InteractionStore
	svc     *audit.Service
	metrics *metrics.Metrics
	logger  *slog.Logger
	version string

	serveStdio bool
	in         io.Reader
	out        io.Writer
	serveHTTP  bool
	listener   net.Listener

	engine *mcp.Engine
	srv    *server.Server

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	closeOnce sync.Once
	closeErr  error
}

// New builds a relay. Without WithStdio or WithHTTP it serves HTTP only.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		logger:  slog.Default(),
		version: "dev",
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if r.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		r.cfg = cfg
	}
	if !r.serveStdio && !r.serveHTTP {
		r.serveHTTP = true
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}

	if r.store == nil {
		store, err := storage.Open(r.cfg.Storage)
		if err != nil {
			return nil, err
		}
		r.store = store
	}

	r.svc = audit.New(r.store,
		audit.WithPolicy(domain.ValidationPolicy{
			EnforceConfidenceRange: r.cfg.Validation.EnforceConfidenceRange,
		}),
		audit.WithMetrics(r.metrics),
		audit.WithLogger(r.logger),
	)

	if r.serveStdio {
		reg, err := mcp.NewAuditRegistry(r.svc, mcp.ServerInfo{Name: ServerName, Version: r.version}, r.logger)
		if err != nil {
			_ = r.closeStore()
			return nil, fmt.Errorf("build method registry: %w", err)
		}
		r.engine = mcp.NewEngine(reg, r.in, r.out,
			mcp.WithHeartbeatInterval(r.cfg.Stdio.HeartbeatInterval),
			mcp.WithStaleAfter(r.cfg.Stdio.StaleAfter),
			mcp.WithDrainTimeout(r.cfg.Stdio.DrainTimeout),
			mcp.WithMaxLineBytes(r.cfg.Stdio.MaxLineBytes),
			mcp.WithLogger(r.logger.With(slog.String("component", "stdio"))),
			mcp.WithMetrics(r.metrics),
		)
	}

	if r.serveHTTP {
		r.srv = server.New(r.cfg.Server, r.logger.With(slog.String("component", "http")), r.metrics)
		interactions.NewHandler(r.svc, r.logger).Register(r.srv.Router)
	}

	return r, nil
}

// Service returns the audit service shared by the transports.
func (r *Relay) Service() *audit.Service {
	return r.svc
}

// Handler returns the HTTP router, or nil when HTTP is disabled.
func (r *Relay) Handler() http.Handler {
	if r.srv == nil {
		return nil
	}
	return r.srv.Router
}

// Addr returns the HTTP listen address once started.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Start launches the enabled transports and returns. In HTTP-only mode the
// schema is created up front so a bad DSN fails here; the stdio engine creates
// it lazily on initialize or first insert instead.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("relay already started")
	}

	if !r.serveStdio {
		if err := r.svc.Bootstrap(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
	}

	if r.serveHTTP && r.listener == nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("listen on port %d: %w", r.cfg.Server.Port, err)
		}
		r.listener = ln
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.started = true

	g, gctx := errgroup.WithContext(runCtx)

	if r.engine != nil {
		g.Go(func() error {
			// The host closing stdin ends the whole process.
			defer cancel()
			return r.engine.Run(gctx)
		})
	}

	if r.srv != nil {
		ln := r.listener
		g.Go(func() error {
			return r.srv.Serve(ln)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer done()
			return r.srv.Shutdown(shutdownCtx)
		})
	}

	r.logger.Info("relay started",
		slog.Bool("stdio", r.engine != nil),
		slog.Bool("http", r.srv != nil),
		slog.String("driver", r.cfg.Storage.Driver))

	go func() {
		err := g.Wait()
		if r.engine != nil {
			// Handlers that outlived the drain timeout still hold the store.
			<-r.engine.Closed()
		}
		if cerr := r.closeStore(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		r.runErr = err
		close(r.done)
		r.logger.Info("relay stopped")
	}()

	return nil
}

// Wait blocks until the relay has stopped and the store is closed.
func (r *Relay) Wait() error {
	<-r.done
	return r.runErr
}

// Run starts the relay and blocks until ctx is cancelled or stdin closes.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		_ = r.closeStore()
		return err
	}
	return r.Wait()
}

// Shutdown stops both transports and waits for the store to close, or for
// ctx to expire.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	started, cancel := r.started, r.cancel
	r.mu.Unlock()

	if !started {
		return r.closeStore()
	}
	cancel()

	select {
	case <-r.done:
		return r.runErr
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}

func (r *Relay) closeStore() error {
	r.closeOnce.Do(func() {
		if err := r.store.Close(); err != nil {
			r.closeErr = fmt.Errorf("close store: %w", err)
			r.logger.Error("failed to close store", slog.String("error", err.Error()))
		}
	})
	return r.closeErr
}
