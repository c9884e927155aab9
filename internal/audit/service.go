// Package audit validates, enriches and persists interaction records for
// both the HTTP and stdio transports.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/ports"
	"github.com/sakhilchawla/audit-llm-decision/internal/metrics"
	"github.com/sakhilchawla/audit-llm-decision/internal/telemetry"
	"github.com/sakhilchawla/audit-llm-decision/internal/tokens"
)

// Transport labels used in logs and metrics.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Service is safe for concurrent use.
type Service struct {
	store   ports.InteractionStore
	counter *tokens.Registry
	policy  domain.ValidationPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer

	schemaMu    sync.Mutex
	schemaReady bool
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy sets the validation policy.
func WithPolicy(p domain.ValidationPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithTokenCounter replaces the default token counter registry.
func WithTokenCounter(r *tokens.Registry) Option {
	return func(s *Service) {
		s.counter = r
	}
}

// New creates a Service over store.
func New(store ports.InteractionStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		counter: tokens.NewRegistry(),
		logger:  slog.Default(),
		tracer:  telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active validation policy.
func (s *Service) Policy() domain.ValidationPolicy {
	return s.policy
}

// Bootstrap creates the schema once. A failed attempt is retried on the next
// call; concurrent callers wait for the attempt in progress.
func (s *Service) Bootstrap(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.schemaReady {
		return nil
	}

	start := time.Now()
	err := s.store.EnsureSchema(ctx)
	s.metrics.ObserveStorage("ensure_schema", time.Since(start))
	if err != nil {
		return &domain.StorageError{Op: "ensure schema", Err: err}
	}

	s.schemaReady = true
	s.logger.Info("schema ready")
	return nil
}

// Log validates req and persists it. Validation problems come back as
// *domain.ValidationError, persistence problems as *domain.StorageError.
func (s *Service) Log(ctx context.Context, transport string, req *domain.LogRequest) (*domain.InsertResult, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Log", trace.WithAttributes(
		attribute.String("audit.transport", transport),
		attribute.String("audit.model_type", req.ModelType),
	))
	defer span.End()

	if err := req.Validate(s.policy); err != nil {
		s.metrics.RecordInteraction(transport, "invalid")
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	if err := s.Bootstrap(ctx); err != nil {
		s.metrics.RecordInteraction(transport, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema bootstrap failed")
		return nil, err
	}

	rec := req.ToInteraction()
	rec.PromptTokens = s.counter.Count(rec.ModelType, rec.Prompt)
	rec.ResponseTokens = s.counter.Count(rec.ModelType, rec.Response)

	start := time.Now()
	res, err := s.store.InsertInteraction(ctx, rec)
	s.metrics.ObserveStorage("insert", time.Since(start))
	if err != nil {
		s.metrics.RecordInteraction(transport, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		s.logger.Error("failed to log interaction",
			slog.String("transport", transport),
			slog.String("model_type", rec.ModelType),
			slog.String("error", err.Error()))
		return nil, &domain.StorageError{Op: "insert", Err: err}
	}

	s.metrics.RecordInteraction(transport, "ok")
	span.SetAttributes(attribute.String("audit.interaction_id", res.ID))
	s.logger.Debug("interaction logged",
		slog.String("transport", transport),
		slog.String("id", res.ID),
		slog.String("model_type", rec.ModelType),
		slog.Int("prompt_tokens", rec.PromptTokens),
		slog.Int("response_tokens", rec.ResponseTokens))
	return res, nil
}

// Get returns a record by ID; domain.ErrNotFound when absent.
func (s *Service) Get(ctx context.Context, id string) (*domain.Interaction, error) {
	ctx, span := s.tracer.Start(ctx, "audit.Get")
	defer span.End()

	start := time.Now()
	rec, err := s.store.GetInteraction(ctx, id)
	s.metrics.ObserveStorage("get", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("get interaction %s: %w", id, err)
	}
	return rec, nil
}

// List returns one page of records and the filtered total.
func (s *Service) List(ctx context.Context, opts domain.ListOptions) ([]*domain.Interaction, int, error) {
	ctx, span := s.tracer.Start(ctx, "audit.List", trace.WithAttributes(
		attribute.Int("audit.limit", opts.Limit),
		attribute.Int("audit.offset", opts.Offset),
	))
	defer span.End()

	start := time.Now()
	recs, total, err := s.store.ListInteractions(ctx, opts)
	s.metrics.ObserveStorage("list", time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, 0, &domain.StorageError{Op: "list", Err: err}
	}
	return recs, total, nil
}

// Health reports whether the store is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.store.HealthCheck(ctx)
}
