// Package main provides the entry point for the mcp-firebird-gateway.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/PuroDelphi/mcpFirebird-sub002/internal/server"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/audit"
	auditmigrate "github.com/PuroDelphi/mcpFirebird-sub002/pkg/audit/migrate"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/bridge"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/datasource"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/gateway"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/health"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/security"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/session"
	"github.com/PuroDelphi/mcpFirebird-sub002/pkg/tools"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	logLevel    string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Listen address (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func loadConfig(opts serverOptions) (*gateway.Config, error) {
	var cfg *gateway.Config
	var err error

	if opts.configPath != "" {
		cfg, err = gateway.LoadConfig(opts.configPath)
	} else {
		cfg, err = gateway.ParseConfig([]byte("{}"))
	}
	if err != nil {
		return nil, err
	}

	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if cfg.Server.Version == "" || cfg.Server.Version == "1.0.0" {
		cfg.Server.Version = Version
	}
	return cfg, cfg.Validate()
}

// buildAudit assembles the audit recorder and its sinks.
func buildAudit(cfg *gateway.Config) (*audit.Recorder, audit.Sink, func(), error) {
	var sinks []audit.Sink
	var primary audit.Sink
	var closers []func()

	if cfg.Audit.Enabled && cfg.Audit.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.Audit.FilePath)
		if err != nil {
			return nil, nil, nil, err
		}
		sinks = append(sinks, fileSink)
		primary = fileSink
	}

	if cfg.Audit.Enabled && cfg.Database.AuditDSN != "" {
		db, err := sql.Open("postgres", cfg.Database.AuditDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening audit database: %w", err)
		}
		if err := auditmigrate.Run(db); err != nil {
			_ = db.Close()
			return nil, nil, nil, err
		}
		sqlSink := audit.NewSQLSink(db, cfg.Audit.TableName)
		sinks = append(sinks, sqlSink)
		primary = sqlSink
		closers = append(closers, func() { _ = db.Close() })
	}

	recorder := audit.NewRecorder(cfg.Audit, sinks...)
	cleanup := func() {
		_ = recorder.Close()
		for _, c := range closers {
			c()
		}
	}
	return recorder, primary, cleanup, nil
}

// buildQuerier opens the backing database, or falls back to the no-op
// querier when none is configured.
func buildQuerier(cfg *gateway.Config) (datasource.Querier, error) {
	if cfg.Database.DSN == "" {
		slog.Warn("no database configured, tool calls return empty results")
		return datasource.NewNoop(), nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	return datasource.NewSQLQuerier(db), nil
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("mcp-firebird-gateway version %s\n", Version)
		return nil
	}

	setupLogging(opts.logLevel)

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	recorder, auditSink, auditCleanup, err := buildAudit(cfg)
	if err != nil {
		return fmt.Errorf("setting up audit: %w", err)
	}
	defer auditCleanup()

	gate, err := security.NewGate(cfg.Security, recorder)
	if err != nil {
		return fmt.Errorf("building security gate: %w", err)
	}

	querier, err := buildQuerier(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = querier.Close() }()

	registry := session.NewRegistry(cfg.Session.RegistryConfig())
	registry.OnRemoved(func(sess *session.Session, _ session.RemovalReason) {
		gate.ReleaseSession(sess.ID)
	})
	registry.StartSweeper()
	defer registry.Shutdown()

	b := bridge.New(cfg.Bridge, registry, &http.Client{})
	checker := health.NewChecker(registry)
	toolSvc := tools.NewService(cfg.Server.Name, cfg.Server.Version, gate, querier)

	srv := server.New(cfg.Server, server.Deps{
		Bridge:     b,
		Identifier: security.NewIdentifier(cfg.Identity),
		Checker:    checker,
		Tools:      toolSvc,
		AuditSink:  auditSink,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		checker.SetReady()
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down", "grace", cfg.Server.ShutdownGrace)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
	}
	return nil
}
