package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sakhilchawla/audit-llm-decision/internal/pkg/config"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage/memory"
	"github.com/sakhilchawla/audit-llm-decision/internal/storage/sqldb"
)

func TestOpen_Memory(t *testing.T) {
	store, err := Open(config.StorageConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, ok := store.(*memory.Store); !ok {
		t.Errorf("Open() returned %T, want *memory.Store", store)
	}
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	dsn := filepath.Join(dir, "audit.db")

	store, err := Open(config.StorageConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, ok := store.(*sqldb.Store); !ok {
		t.Fatalf("Open() returned %T, want *sqldb.Store", store)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory not created: %v", err)
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Errorf("EnsureSchema() error = %v", err)
	}
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(config.StorageConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestEnsureSQLiteDir(t *testing.T) {
	tests := []string{
		":memory:",
		"file:test?mode=memory&cache=shared",
		"audit.db",
	}
	for _, dsn := range tests {
		if err := ensureSQLiteDir(dsn); err != nil {
			t.Errorf("ensureSQLiteDir(%q) error = %v", dsn, err)
		}
	}
}
