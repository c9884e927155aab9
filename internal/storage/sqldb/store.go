package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/domain"
	"github.com/sakhilchawla/audit-llm-decision/internal/core/ports"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage/dialect"
)

const tableName = "model_interactions"

// Store is a SQL implementation of InteractionStore that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
	schema  string

	// adminDSN reaches the server without selecting schema, for creating it.
	// Empty when the pool itself can run the schema statements.
	adminDSN string
}

var _ ports.InteractionStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver       string // Driver name: sqlite, postgres, mysql
	DSN          string // Data source name / connection string
	Schema       string // Optional namespace (postgres schema or mysql database)
	MaxOpenConns int
}

// New opens a SQL store. The schema is not created until EnsureSchema is called.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	dsn, adminDSN := cfg.DSN, ""
	switch dialect.DialectType(d.Name()) {
	case dialect.MySQL:
		dsn, err = mysqlDSN(cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		if cfg.Schema != "" {
			adminDSN, err = mysqlServerDSN(cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("invalid mysql dsn: %w", err)
			}
		}
	case dialect.Postgres:
		dsn, err = postgresDSN(cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
	}

	db, err := sqlx.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	return &Store{db: db, dialect: d, schema: cfg.Schema, adminDSN: adminDSN}, nil
}

// NewSQLite creates a new SQLite store with its schema in place.
func NewSQLite(dbPath string) (*Store, error) {
	s, err := New(Config{Driver: "sqlite", DSN: dbPath})
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// mysqlDSN forces parseTime so DATETIME columns scan into time.Time, and
// selects database on every pooled connection when set.
func mysqlDSN(dsn, database string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if database != "" {
		cfg.DBName = database
	}
	return cfg.FormatDSN(), nil
}

// mysqlServerDSN connects without selecting a database.
func mysqlServerDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.DBName = ""
	return cfg.FormatDSN(), nil
}

// postgresDSN adds schema as the search_path runtime parameter, which pgx
// sends at connection startup so every pooled connection resolves the table
// in it. Both URL and keyword/value DSNs are accepted.
func postgresDSN(dsn, schema string) (string, error) {
	if schema == "" {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(dsn + " search_path=" + schema), nil
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// EnsureSchema creates the interactions table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.createNamespace(ctx); err != nil {
		return fmt.Errorf("failed to prepare schema %q: %w", s.schema, err)
	}

	d := s.dialect
	table := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id %s PRIMARY KEY,
	prompt %s NOT NULL,
	response %s NOT NULL,
	model_type VARCHAR(255) NOT NULL,
	model_version VARCHAR(255) NOT NULL,
	inferences %s,
	decision_path %s,
	final_decision %s,
	confidence %s,
	metadata %s NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	response_tokens INTEGER NOT NULL DEFAULT 0,
	created_at %s NOT NULL
)`, tableName, d.IDType(), d.TextType(), d.TextType(), d.JSONType(), d.JSONType(),
		d.TextType(), d.FloatType(), d.JSONType(), d.TimestampType())

	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	indexes := []struct {
		name    string
		columns string
	}{
		{"idx_model_interactions_model_type", "model_type"},
		{"idx_model_interactions_created_at", "created_at DESC"},
	}
	for _, idx := range indexes {
		if err := s.createIndex(ctx, idx.name, idx.columns); err != nil {
			return err
		}
	}
	return nil
}

// createNamespace runs the dialect's schema statements. MySQL pool
// connections select the database at connect time and fail until it exists,
// so it is created over a short-lived connection that selects none.
func (s *Store) createNamespace(ctx context.Context) error {
	stmts := s.dialect.SchemaStatements(s.schema)
	if len(stmts) == 0 {
		return nil
	}

	exec := s.db.ExecContext
	if s.adminDSN != "" {
		admin, err := sqlx.Open(s.dialect.DriverName(), s.adminDSN)
		if err != nil {
			return err
		}
		defer admin.Close()
		exec = admin.ExecContext
	}

	for _, stmt := range stmts {
		if _, err := exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createIndex(ctx context.Context, name, columns string) error {
	if s.dialect.SupportsIndexIfNotExists() {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", name, tableName, columns)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
		return nil
	}

	var n int
	if err := s.db.GetContext(ctx, &n, s.dialect.IndexExistsQuery(), tableName, name); err != nil {
		return fmt.Errorf("failed to check index %s: %w", name, err)
	}
	if n > 0 {
		return nil
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s(%s)", name, tableName, columns)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// InsertInteraction assigns an ID and creation time and persists the record.
func (s *Store) InsertInteraction(ctx context.Context, rec *domain.Interaction) (*domain.InsertResult, error) {
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	query := s.dialect.Rebind(`INSERT INTO model_interactions
		(id, prompt, response, model_type, model_version, inferences, decision_path,
		 final_decision, confidence, metadata, prompt_tokens, response_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Prompt, rec.Response, rec.ModelType, rec.ModelVersion,
		jsonArg(rec.Inferences), jsonArg(rec.DecisionPath),
		rec.FinalDecision, rec.Confidence, metadataArg(rec.Metadata),
		rec.PromptTokens, rec.ResponseTokens, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert interaction: %w", err)
	}

	return &domain.InsertResult{ID: rec.ID, CreatedAt: rec.CreatedAt}, nil
}

// GetInteraction retrieves a single record by ID.
func (s *Store) GetInteraction(ctx context.Context, id string) (*domain.Interaction, error) {
	query := s.dialect.Rebind(selectColumns + ` FROM model_interactions WHERE id = ?`)

	var row interactionRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}
	return row.toDomain(), nil
}

// ListInteractions returns one page of records, newest first, and the total
// count matching the filter.
func (s *Store) ListInteractions(ctx context.Context, opts domain.ListOptions) ([]*domain.Interaction, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var where string
	var args []any
	if opts.ModelType != "" {
		where = " WHERE model_type = ?"
		args = append(args, opts.ModelType)
	}

	var total int
	countQuery := s.dialect.Rebind(`SELECT COUNT(*) FROM model_interactions` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count interactions: %w", err)
	}

	var b strings.Builder
	b.WriteString(selectColumns)
	b.WriteString(" FROM model_interactions")
	b.WriteString(where)
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")
	query := s.dialect.Rebind(b.String())

	var rows []interactionRow
	if err := s.db.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list interactions: %w", err)
	}

	out := make([]*domain.Interaction, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, total, nil
}

const selectColumns = `SELECT id, prompt, response, model_type, model_version, inferences,
	decision_path, final_decision, confidence, metadata, prompt_tokens, response_tokens, created_at`

type interactionRow struct {
	ID             string          `db:"id"`
	Prompt         string          `db:"prompt"`
	Response       string          `db:"response"`
	ModelType      string          `db:"model_type"`
	ModelVersion   string          `db:"model_version"`
	Inferences     sql.NullString  `db:"inferences"`
	DecisionPath   sql.NullString  `db:"decision_path"`
	FinalDecision  sql.NullString  `db:"final_decision"`
	Confidence     sql.NullFloat64 `db:"confidence"`
	Metadata       sql.NullString  `db:"metadata"`
	PromptTokens   int             `db:"prompt_tokens"`
	ResponseTokens int             `db:"response_tokens"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r *interactionRow) toDomain() *domain.Interaction {
	rec := &domain.Interaction{
		ID:             r.ID,
		Prompt:         r.Prompt,
		Response:       r.Response,
		ModelType:      r.ModelType,
		ModelVersion:   r.ModelVersion,
		PromptTokens:   r.PromptTokens,
		ResponseTokens: r.ResponseTokens,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.Inferences.Valid {
		rec.Inferences = json.RawMessage(r.Inferences.String)
	}
	if r.DecisionPath.Valid {
		rec.DecisionPath = json.RawMessage(r.DecisionPath.String)
	}
	if r.FinalDecision.Valid {
		v := r.FinalDecision.String
		rec.FinalDecision = &v
	}
	if r.Confidence.Valid {
		v := r.Confidence.Float64
		rec.Confidence = &v
	}
	if r.Metadata.Valid {
		rec.Metadata = json.RawMessage(r.Metadata.String)
	} else {
		rec.Metadata = json.RawMessage(`{}`)
	}
	return rec
}

// jsonArg maps an absent value to SQL NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func metadataArg(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
