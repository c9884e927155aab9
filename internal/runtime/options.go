package runtime

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/ports"
	"github.com/sakhilchawla/audit-llm-decision/internal/metrics"
	"github.com/sakhilchawla/audit-llm-decision/internal/pkg/config"
)

// Option is a functional option for configuring a Relay.
type Option func(*Relay) error

// WithConfig uses an already loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(r *Relay) error {
		if cfg == nil {
			return errors.New("config must not be nil")
		}
		r.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from path and the environment.
func WithConfigFile(path string) Option {
	return func(r *Relay) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		r.cfg = cfg
		return nil
	}
}

// WithStore uses store instead of opening one from the storage config. The
// relay takes ownership and closes it on shutdown.
func WithStore(store ports.InteractionStore) Option {
	return func(r *Relay) error {
		r.store = store
		return nil
	}
}

// WithStdio serves the JSON-RPC engine over in and out.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(r *Relay) error {
		if in == nil || out == nil {
			return errors.New("stdio streams must not be nil")
		}
		r.serveStdio = true
		r.in = in
		r.out = out
		return nil
	}
}

// WithHTTP serves the HTTP adapter on the configured port.
func WithHTTP() Option {
	return func(r *Relay) error {
		r.serveHTTP = true
		return nil
	}
}

// WithListener serves the HTTP adapter on ln.
func WithListener(ln net.Listener) Option {
	return func(r *Relay) error {
		r.serveHTTP = true
		r.listener = ln
		return nil
	}
}

// WithLogger sets a custom logger. It must not write to the stdio output.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}

// WithMetrics shares m with the caller.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) error {
		r.metrics = m
		return nil
	}
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) Option {
	return func(r *Relay) error {
		r.version = v
		return nil
	}
}
