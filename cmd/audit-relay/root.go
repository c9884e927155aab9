package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sakhilchawla/audit-llm-decision/internal/pkg/config"
	"github.com/sakhilchawla/audit-llm-decision/internal/telemetry"
	"github.com/sakhilchawla/audit-llm-decision/pkg/relay"
)

const serviceName = "audit-relay"

type rootFlags struct {
	mcp        bool
	http       bool
	configPath string
	driver     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "audit-relay [dsn] [port]",
		Short: "Record LLM interactions over stdio JSON-RPC or HTTP",
		Long: `audit-relay stores prompt/response pairs reported by MCP hosts (--mcp)
or HTTP clients in sqlite, postgres or mysql.

The DSN and port arguments override storage.dsn and server.port.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists
			_ = godotenv.Load()

			cfg, err := loadConfig(flags, args)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, flags, os.Stdin, os.Stdout, os.Stderr)
		},
	}

	cmd.Flags().BoolVar(&flags.mcp, "mcp", false, "serve JSON-RPC over stdin/stdout")
	cmd.Flags().BoolVar(&flags.http, "http", false, "also serve HTTP when --mcp is set")
	cmd.Flags().StringVar(&flags.configPath, "config", config.DefaultFile, "path to YAML config file")
	cmd.Flags().StringVar(&flags.driver, "driver", "", "storage driver: sqlite, postgres, mysql or memory")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, version)
		},
	}
}

// loadConfig applies flag and argument overrides on top of file and env.
func loadConfig(flags rootFlags, args []string) (*config.Config, error) {
	cfg, err := config.LoadFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	if len(args) > 0 && args[0] != "" {
		cfg.Storage.DSN = args[0]
		cfg.Storage.Driver = ""
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port < 0 || port > 65535 {
			return nil, fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Server.Port = port
	}
	if flags.driver != "" {
		cfg.Storage.Driver = flags.driver
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	return cfg, nil
}

// relayOptions maps the mode flags onto relay options. Without --mcp only
// HTTP is served; with --mcp HTTP runs only when --http is also set.
func relayOptions(cfg *config.Config, flags rootFlags, stdin io.Reader, stdout io.Writer, logger *slog.Logger) []relay.Option {
	opts := []relay.Option{
		relay.WithConfig(cfg),
		relay.WithLogger(logger),
		relay.WithVersion(version),
	}
	if flags.mcp {
		opts = append(opts, relay.WithStdio(stdin, stdout))
		if flags.http {
			opts = append(opts, relay.WithHTTP())
		}
	} else {
		opts = append(opts, relay.WithHTTP())
	}
	return opts
}

func run(ctx context.Context, cfg *config.Config, flags rootFlags, stdin io.Reader, stdout, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// stdout carries the protocol, so logs and spans always go to stderr.
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(serviceName, version, stderr, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	r, err := relay.New(relayOptions(cfg, flags, stdin, stdout, logger)...)
	if err != nil {
		logger.Error("failed to create relay", slog.String("error", err.Error()))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := r.Run(ctx); err != nil {
		logger.Error("relay stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
