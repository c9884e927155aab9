package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
	"github.com/sakhilchawla/audit-llm-decision/internal/metrics"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validRequest() *domain.LogRequest {
	return &domain.LogRequest{
		Prompt:       "Is this transaction fraudulent?",
		Response:     "No",
		ModelType:    "gpt-4",
		ModelVersion: "0613",
		Metadata:     json.RawMessage(`{"source":"unit"}`),
	}
}

// flakyStore fails EnsureSchema a fixed number of times and can fail inserts.
type flakyStore struct {
	*memory.Store
	mu          sync.Mutex
	schemaFails int
	schemaCalls int
	insertErr   error
}

func (f *flakyStore) EnsureSchema(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaCalls++
	if f.schemaFails > 0 {
		f.schemaFails--
		return errors.New("database starting up")
	}
	return nil
}

func (f *flakyStore) InsertInteraction(ctx context.Context, rec *domain.Interaction) (*domain.InsertResult, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.Store.InsertInteraction(ctx, rec)
}

func TestService_Log(t *testing.T) {
	store := memory.New()
	svc := New(store, WithLogger(quietLogger()), WithMetrics(metrics.New()))

	res, err := svc.Log(context.Background(), TransportStdio, validRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
	assert.False(t, res.CreatedAt.IsZero())

	rec, err := svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", rec.ModelType)
	assert.Greater(t, rec.PromptTokens, 0)
	assert.Equal(t, 1, rec.ResponseTokens)
}

func TestService_Log_ValidationError(t *testing.T) {
	store := memory.New()
	svc := New(store, WithLogger(quietLogger()))

	req := validRequest()
	req.ModelType = ""

	_, err := svc.Log(context.Background(), TransportHTTP, req)
	require.Error(t, err)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "modelType", ve.Errors[0].Field)
	assert.Equal(t, 0, store.Len())
}

func TestService_Log_ConfidencePolicy(t *testing.T) {
	conf := 2.5
	req := validRequest()
	req.Confidence = &conf

	lenient := New(memory.New(), WithLogger(quietLogger()))
	_, err := lenient.Log(context.Background(), TransportHTTP, req)
	assert.NoError(t, err)

	strict := New(memory.New(), WithLogger(quietLogger()),
		WithPolicy(domain.ValidationPolicy{EnforceConfidenceRange: true}))
	_, err = strict.Log(context.Background(), TransportHTTP, req)
	assert.True(t, domain.IsValidation(err))
}

func TestService_Log_StorageError(t *testing.T) {
	store := &flakyStore{Store: memory.New(), insertErr: errors.New("connection reset")}
	svc := New(store, WithLogger(quietLogger()))

	_, err := svc.Log(context.Background(), TransportStdio, validRequest())
	require.Error(t, err)

	var se *domain.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert", se.Op)
	assert.False(t, domain.IsValidation(err))
}

func TestService_Bootstrap_RetriesAfterFailure(t *testing.T) {
	store := &flakyStore{Store: memory.New(), schemaFails: 1}
	svc := New(store, WithLogger(quietLogger()))

	err := svc.Bootstrap(context.Background())
	require.Error(t, err)

	require.NoError(t, svc.Bootstrap(context.Background()))
	require.NoError(t, svc.Bootstrap(context.Background()))
	assert.Equal(t, 2, store.schemaCalls)
}

func TestService_Bootstrap_Concurrent(t *testing.T) {
	store := &flakyStore{Store: memory.New()}
	svc := New(store, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Bootstrap(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.schemaCalls)
}

func TestService_List(t *testing.T) {
	svc := New(memory.New(), WithLogger(quietLogger()))
	for i := 0; i < 3; i++ {
		_, err := svc.Log(context.Background(), TransportHTTP, validRequest())
		require.NoError(t, err)
	}

	recs, total, err := svc.List(context.Background(), domain.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 3, total)
}

func TestService_GetNotFound(t *testing.T) {
	svc := New(memory.New(), WithLogger(quietLogger()))
	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_Health(t *testing.T) {
	store := memory.New()
	svc := New(store, WithLogger(quietLogger()))
	assert.NoError(t, svc.Health(context.Background()))

	require.NoError(t, store.Close())
	assert.Error(t, svc.Health(context.Background()))
}
