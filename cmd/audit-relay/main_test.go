package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sakhilchawla/audit-llm-decision/internal/storage/memory"
	"github.com/sakhilchawla/audit-llm-decision/pkg/relay"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := out.String(); got != "audit-relay dev\n" {
		t.Errorf("version output = %q", got)
	}
}

func TestRootCommand_TooManyArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"a", "1", "extra"})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for three positional args")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")

	tests := []struct {
		name       string
		flags      rootFlags
		args       []string
		wantDSN    string
		wantDriver string
		wantPort   int
		wantLevel  string
		wantErr    bool
	}{
		{
			name:     "dsn and port args",
			flags:    rootFlags{configPath: missing},
			args:     []string{"postgresql://u:p@localhost:5432/audit", "5050"},
			wantDSN:  "postgresql://u:p@localhost:5432/audit",
			wantPort: 5050,
		},
		{
			name:       "driver and log level flags",
			flags:      rootFlags{configPath: missing, driver: "memory", logLevel: "debug"},
			wantDriver: "memory",
			wantLevel:  "debug",
		},
		{
			name:    "bad port",
			flags:   rootFlags{configPath: missing},
			args:    []string{"./x.db", "not-a-port"},
			wantErr: true,
		},
		{
			name:    "port out of range",
			flags:   rootFlags{configPath: missing},
			args:    []string{"./x.db", "70000"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(tt.flags, tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			if tt.wantDSN != "" && cfg.Storage.DSN != tt.wantDSN {
				t.Errorf("DSN = %q, want %q", cfg.Storage.DSN, tt.wantDSN)
			}
			if tt.wantDriver != "" && cfg.Storage.Driver != tt.wantDriver {
				t.Errorf("Driver = %q, want %q", cfg.Storage.Driver, tt.wantDriver)
			}
			if tt.wantPort != 0 && cfg.Server.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", cfg.Server.Port, tt.wantPort)
			}
			if tt.wantLevel != "" && cfg.Log.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", cfg.Log.Level, tt.wantLevel)
			}
		})
	}
}

func TestRelayOptions_Modes(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "none.yaml")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		flags    rootFlags
		wantHTTP bool
	}{
		{name: "default serves http", flags: rootFlags{}, wantHTTP: true},
		{name: "mcp only", flags: rootFlags{mcp: true}, wantHTTP: false},
		{name: "mcp with http", flags: rootFlags{mcp: true, http: true}, wantHTTP: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(rootFlags{configPath: missing}, nil)
			if err != nil {
				t.Fatalf("loadConfig() error = %v", err)
			}
			opts := relayOptions(cfg, tt.flags, strings.NewReader(""), io.Discard, logger)
			opts = append(opts, relay.WithStore(memory.New()))

			r, err := relay.New(opts...)
			if err != nil {
				t.Fatalf("relay.New() error = %v", err)
			}
			defer r.Shutdown(context.Background())

			if got := r.Handler() != nil; got != tt.wantHTTP {
				t.Errorf("http enabled = %v, want %v", got, tt.wantHTTP)
			}
		})
	}
}
