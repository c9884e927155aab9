// Package dialect provides database dialect abstractions for multi-database support.
package dialect

import (
	"fmt"
	"strings"
)

// Dialect represents a SQL database dialect.
type Dialect interface {
	// Name returns the dialect name (e.g., "sqlite", "postgres", "mysql")
	Name() string

	// DriverName returns the database/sql driver name to use
	DriverName() string

	// Rebind converts ? placeholders to the dialect's format.
	// For example, PostgreSQL uses $1, $2, etc.
	Rebind(query string) string

	// IDType returns the column type for UUID primary keys
	IDType() string

	// TimestampType returns the SQL type for timestamps
	TimestampType() string

	// TextType returns the SQL type for large text fields
	TextType() string

	// JSONType returns the SQL type for opaque structured values
	JSONType() string

	// FloatType returns the SQL type for double precision values
	FloatType() string

	// PragmaStatements returns dialect-specific initialization statements (e.g., PRAGMA for SQLite)
	PragmaStatements() []string

	// SchemaStatements returns statements that create a namespace. Selecting it
	// is a connection setting, since pooled connections do not share session
	// state. Empty schema means the driver default.
	SchemaStatements(schema string) []string

	// SupportsIndexIfNotExists reports whether CREATE INDEX IF NOT EXISTS is valid
	SupportsIndexIfNotExists() bool

	// IndexExistsQuery returns a query counting indexes with a given table and name.
	// Only used when SupportsIndexIfNotExists is false.
	IndexExistsQuery() string
}

// DialectType represents supported database types
type DialectType string

const (
	SQLite   DialectType = "sqlite"
	Postgres DialectType = "postgres"
	MySQL    DialectType = "mysql"
)

// New creates a new Dialect based on the dialect type
func New(dialectType DialectType) (Dialect, error) {
	switch dialectType {
	case SQLite:
		return &sqliteDialect{}, nil
	case Postgres:
		return &postgresDialect{}, nil
	case MySQL:
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialectType)
	}
}

// FromDriverName returns the dialect for a given driver name
func FromDriverName(driverName string) (Dialect, error) {
	switch strings.ToLower(driverName) {
	case "sqlite", "sqlite3":
		return &sqliteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return &postgresDialect{}, nil
	case "mysql":
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driverName)
	}
}

// DetectDriver guesses the driver from a DSN and returns the DSN in the form
// the driver expects. URL-style mysql DSNs have their scheme stripped since
// go-sql-driver/mysql does not accept one.
func DetectDriver(dsn string) (driver string, normalized string) {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return string(Postgres), dsn
	case strings.HasPrefix(lower, "mysql://"):
		return string(MySQL), dsn[len("mysql://"):]
	case strings.Contains(lower, "@tcp("):
		return string(MySQL), dsn
	default:
		return string(SQLite), dsn
	}
}

// sqliteDialect implements Dialect for SQLite
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string {
	return "sqlite"
}

func (d *sqliteDialect) DriverName() string {
	return "sqlite"
}

func (d *sqliteDialect) Rebind(query string) string {
	return query // SQLite uses ?
}

func (d *sqliteDialect) IDType() string {
	return "TEXT"
}

func (d *sqliteDialect) TimestampType() string {
	return "TIMESTAMP"
}

func (d *sqliteDialect) TextType() string {
	return "TEXT"
}

func (d *sqliteDialect) JSONType() string {
	return "TEXT"
}

func (d *sqliteDialect) FloatType() string {
	return "REAL"
}

func (d *sqliteDialect) PragmaStatements() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
}

func (d *sqliteDialect) SchemaStatements(schema string) []string {
	return nil // SQLite has a single namespace per file
}

func (d *sqliteDialect) SupportsIndexIfNotExists() bool {
	return true
}

func (d *sqliteDialect) IndexExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND name = ?`
}

// postgresDialect implements Dialect for PostgreSQL
type postgresDialect struct{}

func (d *postgresDialect) Name() string {
	return "postgres"
}

func (d *postgresDialect) DriverName() string {
	return "pgx"
}

func (d *postgresDialect) Rebind(query string) string {
	// Convert ? placeholders to $1, $2, etc.
	var result strings.Builder
	idx := 1
	for _, ch := range query {
		if ch == '?' {
			result.WriteString(fmt.Sprintf("$%d", idx))
			idx++
		} else {
			result.WriteRune(ch)
		}
	}
	return result.String()
}

func (d *postgresDialect) IDType() string {
	return "UUID"
}

func (d *postgresDialect) TimestampType() string {
	return "TIMESTAMP WITH TIME ZONE"
}

func (d *postgresDialect) TextType() string {
	return "TEXT"
}

func (d *postgresDialect) JSONType() string {
	return "JSONB"
}

func (d *postgresDialect) FloatType() string {
	return "DOUBLE PRECISION"
}

func (d *postgresDialect) PragmaStatements() []string {
	return nil // PostgreSQL doesn't use pragmas
}

func (d *postgresDialect) SchemaStatements(schema string) []string {
	if schema == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema),
	}
}

func (d *postgresDialect) SupportsIndexIfNotExists() bool {
	return true
}

func (d *postgresDialect) IndexExistsQuery() string {
	return `SELECT COUNT(*) FROM pg_indexes WHERE tablename = $1 AND indexname = $2`
}

// mysqlDialect implements Dialect for MySQL
type mysqlDialect struct{}

func (d *mysqlDialect) Name() string {
	return "mysql"
}

func (d *mysqlDialect) DriverName() string {
	return "mysql"
}

func (d *mysqlDialect) Rebind(query string) string {
	return query // MySQL uses ?
}

func (d *mysqlDialect) IDType() string {
	return "CHAR(36)"
}

func (d *mysqlDialect) TimestampType() string {
	return "DATETIME(6)"
}

func (d *mysqlDialect) TextType() string {
	return "LONGTEXT"
}

func (d *mysqlDialect) JSONType() string {
	return "JSON"
}

func (d *mysqlDialect) FloatType() string {
	return "DOUBLE"
}

func (d *mysqlDialect) PragmaStatements() []string {
	return nil // MySQL doesn't use pragmas
}

func (d *mysqlDialect) SchemaStatements(schema string) []string {
	if schema == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", schema),
	}
}

func (d *mysqlDialect) SupportsIndexIfNotExists() bool {
	return false
}

func (d *mysqlDialect) IndexExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.statistics WHERE table_schema = DATABASE() AND table_name = ? AND index_name = ?`
}
