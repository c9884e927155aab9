package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakhilchawla/audit-llm-decision/internal/metrics"
)

// Defaults applied when an option is zero.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultDrainTimeout      = 10 * time.Second
	DefaultMaxLineBytes      = 4 << 20
)

// session is the per-engine protocol state.
type session struct {
	lastActivity atomic.Int64 // unix nanos
	shuttingDown atomic.Bool
}

func (s *session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *session) idle() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// Engine reads JSON-RPC messages from one stream and writes replies and
// heartbeats to another. Handlers run concurrently; replies carry their
// request's id and may be written in any order.
type Engine struct {
	registry *Registry
	in       io.Reader
	out      io.Writer

	heartbeatInterval time.Duration
	staleAfter        time.Duration
	drainTimeout      time.Duration
	maxLineBytes      int
	closer            io.Closer
	logger            *slog.Logger
	metrics           *metrics.Metrics

	writeMu sync.Mutex
	session session

	inflight sync.WaitGroup

	stopOnce     sync.Once
	stop         chan struct{}
	shutdownOnce sync.Once
	closeOnce    sync.Once
	closed       chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithHeartbeatInterval sets how often server/heartbeat is written.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.heartbeatInterval = d
	}
}

// WithStaleAfter sets the idle period after which each heartbeat logs a
// staleness warning. Defaults to three heartbeat intervals.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.staleAfter = d
	}
}

// WithDrainTimeout bounds how long shutdown waits for in-flight handlers.
func WithDrainTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.drainTimeout = d
	}
}

// WithMaxLineBytes sets the longest accepted input line.
func WithMaxLineBytes(n int) Option {
	return func(e *Engine) {
		e.maxLineBytes = n
	}
}

// WithCloser sets the resource closed exactly once at the end of shutdown,
// after every handler has returned.
func WithCloser(c io.Closer) Option {
	return func(e *Engine) {
		e.closer = c
	}
}

// WithLogger sets the logger. It must not write to the engine's output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records dispatch outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine serving registry over in and out.
func NewEngine(registry *Registry, in io.Reader, out io.Writer, opts ...Option) *Engine {
	e := &Engine{
		registry:          registry,
		in:                in,
		out:               out,
		heartbeatInterval: DefaultHeartbeatInterval,
		drainTimeout:      DefaultDrainTimeout,
		maxLineBytes:      DefaultMaxLineBytes,
		logger:            slog.Default(),
		stop:              make(chan struct{}),
		closed:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.heartbeatInterval <= 0 {
		e.heartbeatInterval = DefaultHeartbeatInterval
	}
	if e.staleAfter <= 0 {
		e.staleAfter = 3 * e.heartbeatInterval
	}
	if e.drainTimeout <= 0 {
		e.drainTimeout = DefaultDrainTimeout
	}
	if e.maxLineBytes <= 0 {
		e.maxLineBytes = DefaultMaxLineBytes
	}
	return e
}

type frame struct {
	line []byte
	err  error
}

// Run serves until ctx is cancelled, Shutdown is called, or the input ends,
// then runs the shutdown sequence. It returns the input error, if any, or
// the closer's error.
func (e *Engine) Run(ctx context.Context) error {
	e.session.touch()
	e.logger.Info("stdio engine started",
		slog.Duration("heartbeat_interval", e.heartbeatInterval),
		slog.Int("methods", len(e.registry.Names())))

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		e.heartbeat(hbCtx)
	}()

	frames := make(chan frame)
	readerDone := make(chan struct{})
	go e.readLoop(frames, readerDone)

	// Handlers outlive the read loop so they can finish during drain.
	handlerCtx := context.WithoutCancel(ctx)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stdio engine cancelled")
			break loop
		case <-e.stop:
			break loop
		case f := <-frames:
			if f.err != nil {
				if errors.Is(f.err, ErrLineTooLong) {
					e.writeError(nil, parseError(fmt.Sprintf("line exceeds %d bytes", e.maxLineBytes)))
					e.metrics.RecordRPC("", "parse_error", 0)
					continue
				}
				if !errors.Is(f.err, io.EOF) {
					e.logger.Error("stdin read failed", slog.String("error", f.err.Error()))
					runErr = fmt.Errorf("read input: %w", f.err)
				} else {
					e.logger.Info("stdin closed")
				}
				break loop
			}
			e.handleLine(handlerCtx, f.line)
		}
	}

	close(readerDone)
	closeErr := e.shutdown(stopHeartbeat, hbDone)

	if runErr != nil {
		return runErr
	}
	return closeErr
}

// Shutdown asks Run to stop. It is safe to call more than once and from
// any goroutine.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
}

// Closed is closed once the closer has been closed.
func (e *Engine) Closed() <-chan struct{} {
	return e.closed
}

func (e *Engine) readLoop(frames chan<- frame, done <-chan struct{}) {
	framer := NewFramer(e.in, e.maxLineBytes)
	for {
		line, err := framer.Next()
		select {
		case frames <- frame{line: line, err: err}:
		case <-done:
			return
		}
		if err != nil && !errors.Is(err, ErrLineTooLong) {
			return
		}
	}
}

// shutdown stops the heartbeat, waits for in-flight handlers up to the
// drain timeout and closes the closer. If the drain times out the close
// happens once the stragglers finish and its error is only logged.
func (e *Engine) shutdown(stopHeartbeat context.CancelFunc, hbDone <-chan struct{}) error {
	var err error
	e.shutdownOnce.Do(func() {
		e.session.shuttingDown.Store(true)
		stopHeartbeat()
		<-hbDone

		drained := make(chan struct{})
		go func() {
			e.inflight.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			err = e.closeResource()
		case <-time.After(e.drainTimeout):
			e.logger.Warn("drain timeout reached; closing store after remaining handlers finish",
				slog.Duration("drain_timeout", e.drainTimeout))
			go func() {
				<-drained
				_ = e.closeResource()
			}()
		}
		e.logger.Info("stdio engine stopped")
	})
	return err
}

func (e *Engine) closeResource() error {
	var err error
	e.closeOnce.Do(func() {
		defer close(e.closed)
		if e.closer == nil {
			return
		}
		if cerr := e.closer.Close(); cerr != nil {
			err = fmt.Errorf("close store: %w", cerr)
			e.logger.Error("failed to close store", slog.String("error", cerr.Error()))
		}
	})
	return err
}

func (e *Engine) handleLine(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	req, id, rpcErr := decodeRequest(line)
	if rpcErr != nil {
		e.logger.Warn("rejected message", slog.Int("code", rpcErr.Code), slog.Any("detail", rpcErr.Data))
		e.metrics.RecordRPC("", "invalid", 0)
		e.writeError(id, rpcErr)
		return
	}
	e.session.touch()

	handler, ok := e.registry.Lookup(req.Method)
	if req.IsNotification() {
		if !ok {
			e.logger.Debug("ignoring unknown notification", slog.String("method", req.Method))
			return
		}
		e.inflight.Add(1)
		go e.notify(ctx, req, handler)
		return
	}

	if !ok {
		e.metrics.RecordRPC(req.Method, "not_found", 0)
		e.writeError(req.ID, methodNotFound(req.Method))
		return
	}

	e.inflight.Add(1)
	go e.call(ctx, req, handler)
}

func (e *Engine) call(ctx context.Context, req *Request, handler HandlerFunc) {
	defer e.inflight.Done()
	e.metrics.RPCStarted()
	defer e.metrics.RPCFinished()

	start := time.Now()
	logger := e.logger.With(slog.String("method", req.Method), slog.String("id", string(req.ID)))
	logger.Debug("dispatching")

	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.metrics.RecordRPC(req.Method, "panic", time.Since(start))
			e.writeError(req.ID, InternalError(map[string]string{"details": fmt.Sprint(r)}))
		}
	}()

	result, err := handler(ctx, req.Params)
	if err != nil {
		rpcErr := asRPCError(err)
		logger.Error("handler failed", slog.Int("code", rpcErr.Code), slog.String("error", err.Error()))
		e.metrics.RecordRPC(req.Method, "error", time.Since(start))
		e.writeError(req.ID, rpcErr)
		return
	}

	raw, err := marshalResult(result)
	if err != nil {
		logger.Error("failed to encode result", slog.String("error", err.Error()))
		e.metrics.RecordRPC(req.Method, "error", time.Since(start))
		e.writeError(req.ID, InternalError(map[string]string{"details": err.Error()}))
		return
	}

	e.metrics.RecordRPC(req.Method, "ok", time.Since(start))
	e.writeMessage(resultEnvelope{JSONRPC: Version, Result: raw, ID: req.ID})
}

func (e *Engine) notify(ctx context.Context, req *Request, handler HandlerFunc) {
	defer e.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("notification handler panicked",
				slog.String("method", req.Method), slog.Any("panic", r))
		}
	}()

	start := time.Now()
	if _, err := handler(ctx, req.Params); err != nil {
		e.logger.Error("notification handler failed",
			slog.String("method", req.Method), slog.String("error", err.Error()))
		e.metrics.RecordRPC(req.Method, "error", time.Since(start))
		return
	}
	e.metrics.RecordRPC(req.Method, "ok", time.Since(start))
}

func asRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return InternalError(map[string]string{"details": err.Error()})
}

func marshalResult(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok && raw != nil {
		return raw, nil
	}
	return json.Marshal(v)
}

func (e *Engine) writeError(id json.RawMessage, rpcErr *Error) {
	e.writeMessage(errorEnvelope{JSONRPC: Version, Error: rpcErr, ID: id})
}

// writeMessage marshals v fully before taking the lock, then emits it with a
// single Write so lines from concurrent writers never interleave.
func (e *Engine) writeMessage(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("failed to encode message", slog.String("error", err.Error()))
		return
	}
	b = append(b, '\n')

	e.writeMu.Lock()
	_, err = e.out.Write(b)
	e.writeMu.Unlock()

	if err != nil {
		e.logger.Error("stdout write failed", slog.String("error", err.Error()))
		e.Shutdown()
	}
}
