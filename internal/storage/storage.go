// Package storage opens the configured persistence gateway.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakhilchawla/audit-llm-decision/internal/core/ports"
	"github.com/sakhilchawla/audit-llm-decision/internal/pkg/config"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage/memory"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage/sqldb"
)

// DriverMemory selects the in-process store.
const DriverMemory = "memory"

// Open returns the store described by cfg. The driver is detected from the
// DSN when unset. The schema is created lazily by the audit service.
func Open(cfg config.StorageConfig) (ports.InteractionStore, error) {
	cfg.Resolve()

	if cfg.Driver == DriverMemory {
		return memory.New(), nil
	}

	if cfg.Driver == "sqlite" {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	store, err := sqldb.New(sqldb.Config{
		Driver:       cfg.Driver,
		DSN:          cfg.DSN,
		Schema:       cfg.Schema,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

// ensureSQLiteDir creates the parent directory of a file-backed database.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}
