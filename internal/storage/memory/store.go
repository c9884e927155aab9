package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/ports"
)

var errClosed = errors.New("memory store is closed")

// Store is an in-memory implementation of InteractionStore
type Store struct {
	mu      sync.RWMutex
	records map[string]*domain.Interaction
	order   []string
	closed  bool
}

var _ ports.InteractionStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]*domain.Interaction),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return nil
}

func (s *Store) InsertInteraction(ctx context.Context, rec *domain.Interaction) (*domain.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	stored := *rec
	s.records[rec.ID] = &stored
	s.order = append(s.order, rec.ID)

	return &domain.InsertResult{ID: rec.ID, CreatedAt: rec.CreatedAt}, nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (*domain.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListInteractions(ctx context.Context, opts domain.ListOptions) ([]*domain.Interaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Interaction
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if opts.ModelType != "" && rec.ModelType != opts.ModelType {
			continue
		}
		matched = append(matched, rec)
	}
	// Newest first; ties keep reverse insertion order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	// Simple pagination
	start := opts.Offset
	if start < 0 {
		start = 0
	}
	if start >= total {
		return []*domain.Interaction{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]*domain.Interaction, 0, end-start)
	for _, rec := range matched[start:end] {
		out := *rec
		page = append(page, &out)
	}
	return page, total, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
