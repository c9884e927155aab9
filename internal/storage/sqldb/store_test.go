package sqldb

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
)

func newInteraction(modelType string) *domain.Interaction {
	decision := "approve"
	confidence := 0.92
	return &domain.Interaction{
		Prompt:         "Should this loan be approved?",
		Response:       "Yes",
		ModelType:      modelType,
		ModelVersion:   "1.0",
		Inferences:     json.RawMessage(`[{"step":1,"note":"income verified"}]`),
		DecisionPath:   json.RawMessage(`["income","credit","approve"]`),
		FinalDecision:  &decision,
		Confidence:     &confidence,
		Metadata:       json.RawMessage(`{"source":"test"}`),
		PromptTokens:   7,
		ResponseTokens: 1,
	}
}

func TestSQLDBStore_InsertAndGet(t *testing.T) {
	store, err := NewSQLite("file:auditdb1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := newInteraction("gpt-4")

	res, err := store.InsertInteraction(ctx, rec)
	if err != nil {
		t.Fatalf("InsertInteraction() error = %v", err)
	}
	if res.ID == "" {
		t.Fatal("InsertInteraction() returned empty ID")
	}
	if res.CreatedAt.IsZero() {
		t.Fatal("InsertInteraction() returned zero CreatedAt")
	}

	got, err := store.GetInteraction(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}

	if got.ID != res.ID {
		t.Errorf("ID = %v, want %v", got.ID, res.ID)
	}
	if got.ModelType != "gpt-4" {
		t.Errorf("ModelType = %v, want gpt-4", got.ModelType)
	}
	if got.FinalDecision == nil || *got.FinalDecision != "approve" {
		t.Errorf("FinalDecision = %v, want approve", got.FinalDecision)
	}
	if got.Confidence == nil || *got.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", got.Confidence)
	}
	if string(got.DecisionPath) != `["income","credit","approve"]` {
		t.Errorf("DecisionPath = %s", got.DecisionPath)
	}
	if string(got.Metadata) != `{"source":"test"}` {
		t.Errorf("Metadata = %s", got.Metadata)
	}
	if got.PromptTokens != 7 {
		t.Errorf("PromptTokens = %d, want 7", got.PromptTokens)
	}
	if !got.CreatedAt.Equal(res.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, res.CreatedAt)
	}
}

func TestSQLDBStore_OptionalFieldsStoredAsNull(t *testing.T) {
	store, err := NewSQLite("file:auditdb2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	rec := &domain.Interaction{
		Prompt:       "p",
		Response:     "r",
		ModelType:    "claude-3-opus",
		ModelVersion: "1.0",
		Metadata:     json.RawMessage(`{}`),
	}

	res, err := store.InsertInteraction(ctx, rec)
	if err != nil {
		t.Fatalf("InsertInteraction() error = %v", err)
	}

	got, err := store.GetInteraction(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if got.Inferences != nil || got.DecisionPath != nil {
		t.Errorf("Inferences/DecisionPath = %s/%s, want nil", got.Inferences, got.DecisionPath)
	}
	if got.FinalDecision != nil {
		t.Errorf("FinalDecision = %v, want nil", *got.FinalDecision)
	}
	if got.Confidence != nil {
		t.Errorf("Confidence = %v, want nil", *got.Confidence)
	}

	var nulls int
	err = store.DB().Get(&nulls, `SELECT COUNT(*) FROM model_interactions
		WHERE id = ? AND inferences IS NULL AND confidence IS NULL`, res.ID)
	if err != nil {
		t.Fatalf("count nulls error = %v", err)
	}
	if nulls != 1 {
		t.Errorf("row with NULL optional columns not found")
	}
}

func TestSQLDBStore_GetNotFound(t *testing.T) {
	store, err := NewSQLite("file:auditdb3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	_, err = store.GetInteraction(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetInteraction() error = %v, want ErrNotFound", err)
	}
}

func TestSQLDBStore_ListInteractions(t *testing.T) {
	store, err := NewSQLite("file:auditdb4?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	models := []string{"gpt-4", "claude-3-opus", "gpt-4"}
	var ids []string
	for _, m := range models {
		res, err := store.InsertInteraction(ctx, newInteraction(m))
		if err != nil {
			t.Fatalf("InsertInteraction() error = %v", err)
		}
		ids = append(ids, res.ID)
		time.Sleep(2 * time.Millisecond)
	}

	all, total, err := store.ListInteractions(ctx, domain.ListOptions{})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("ListInteractions() = %d rows, total %d; want 3, 3", len(all), total)
	}
	if all[0].ID != ids[2] {
		t.Errorf("first row = %v, want newest %v", all[0].ID, ids[2])
	}

	filtered, total, err := store.ListInteractions(ctx, domain.ListOptions{ModelType: "gpt-4", Limit: 1})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(filtered) != 1 || filtered[0].ID != ids[2] {
		t.Errorf("filtered page = %v", filtered)
	}

	page, _, err := store.ListInteractions(ctx, domain.ListOptions{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListInteractions() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Errorf("offset page = %v, want oldest", page)
	}
}

func TestSQLDBStore_EnsureSchemaIdempotent(t *testing.T) {
	store, err := NewSQLite("file:auditdb5?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	for i := 0; i < 2; i++ {
		if err := store.EnsureSchema(context.Background()); err != nil {
			t.Fatalf("EnsureSchema() call %d error = %v", i, err)
		}
	}
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestSQLDBStore_DialectAccessor(t *testing.T) {
	store, err := NewSQLite("file:auditdb6?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer store.Close()

	if store.Dialect().Name() != "sqlite" {
		t.Errorf("Dialect().Name() = %v, want sqlite", store.Dialect().Name())
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle", DSN: "whatever"})
	if err == nil {
		t.Error("New() with unsupported driver should return error")
	}
}

func TestMySQLDSN_ForcesParseTime(t *testing.T) {
	got, err := mysqlDSN("user:pass@tcp(localhost:3306)/audit", "")
	if err != nil {
		t.Fatalf("mysqlDSN() error = %v", err)
	}
	if want := "parseTime=true"; !strings.Contains(got, want) {
		t.Errorf("mysqlDSN() = %v, want it to contain %v", got, want)
	}
}

func TestMySQLDSN_SelectsSchemaPerConnection(t *testing.T) {
	got, err := mysqlDSN("user:pass@tcp(localhost:3306)/", "audit")
	if err != nil {
		t.Fatalf("mysqlDSN() error = %v", err)
	}
	cfg, err := mysql.ParseDSN(got)
	if err != nil {
		t.Fatalf("ParseDSN(%q) error = %v", got, err)
	}
	if cfg.DBName != "audit" {
		t.Errorf("DBName = %q, want audit", cfg.DBName)
	}

	server, err := mysqlServerDSN("user:pass@tcp(localhost:3306)/audit")
	if err != nil {
		t.Fatalf("mysqlServerDSN() error = %v", err)
	}
	cfg, err = mysql.ParseDSN(server)
	if err != nil {
		t.Fatalf("ParseDSN(%q) error = %v", server, err)
	}
	if cfg.DBName != "" {
		t.Errorf("server DSN selects %q, want no database", cfg.DBName)
	}
}

func TestPostgresDSN_SearchPath(t *testing.T) {
	tests := []struct {
		name   string
		dsn    string
		schema string
		want   string
	}{
		{name: "url", dsn: "postgres://u:p@localhost:5432/audit?sslmode=disable", schema: "audit_logs", want: "audit_logs"},
		{name: "postgresql url", dsn: "postgresql://u:p@localhost/audit", schema: "audit_logs", want: "audit_logs"},
		{name: "keyword value", dsn: "host=localhost user=u dbname=audit", schema: "audit_logs", want: "audit_logs"},
		{name: "no schema", dsn: "postgres://u:p@localhost/audit", schema: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := postgresDSN(tt.dsn, tt.schema)
			if err != nil {
				t.Fatalf("postgresDSN() error = %v", err)
			}
			// pgx sends unknown parameters as startup runtime params on
			// every new connection.
			cfg, err := pgx.ParseConfig(dsn)
			if err != nil {
				t.Fatalf("ParseConfig(%q) error = %v", dsn, err)
			}
			if got := cfg.RuntimeParams["search_path"]; got != tt.want {
				t.Errorf("search_path = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNew_SchemaCreatedOutsidePool(t *testing.T) {
	my, err := New(Config{Driver: "mysql", DSN: "user:pass@tcp(localhost:3306)/", Schema: "audit"})
	if err != nil {
		t.Fatalf("New(mysql) error = %v", err)
	}
	defer my.Close()
	if my.adminDSN == "" {
		t.Error("mysql store with schema needs a server DSN to create the database")
	}

	pg, err := New(Config{Driver: "postgres", DSN: "postgres://u:p@localhost:5432/audit", Schema: "audit"})
	if err != nil {
		t.Fatalf("New(postgres) error = %v", err)
	}
	defer pg.Close()
	if pg.adminDSN != "" {
		t.Errorf("postgres adminDSN = %q, want empty", pg.adminDSN)
	}
}
