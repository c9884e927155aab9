package ports

import (
	"context"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
)

// InteractionStore is the persistence gateway shared by both transports.
// Implementations: sqldb (sqlite, postgres, mysql) and memory.
type InteractionStore interface {
	// EnsureSchema creates tables and indexes if they are missing. Idempotent.
	EnsureSchema(ctx context.Context) error

	// InsertInteraction persists a record and returns the assigned identity.
	InsertInteraction(ctx context.Context, rec *domain.Interaction) (*domain.InsertResult, error)

	// GetInteraction retrieves a record by ID; domain.ErrNotFound if absent.
	GetInteraction(ctx context.Context, id string) (*domain.Interaction, error)

	// ListInteractions returns one page of records, newest first, plus the
	// total number of records matching the filter.
	ListInteractions(ctx context.Context, opts domain.ListOptions) ([]*domain.Interaction, int, error)

	// HealthCheck returns nil when the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying connection pool.
	Close() error
}
