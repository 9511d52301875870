// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package main

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/loanguard/loanguard/internal/authz/audit"
	"github.com/loanguard/loanguard/internal/authz/engine"
	"github.com/loanguard/loanguard/internal/authz/resolver"
	"github.com/loanguard/loanguard/internal/authz/rule"
	"github.com/loanguard/loanguard/internal/authz/sod"
	"github.com/loanguard/loanguard/internal/authz/store"
	"github.com/loanguard/loanguard/internal/config"
	"github.com/loanguard/loanguard/internal/logging"
)

// Global flags available to all subcommands.
var (
	configFile  string
	databaseURL string
)

// defaultConfigPath is tried when --config is not given.
const defaultConfigPath = "loanguard.yaml"

// NewRootCmd creates the root command for the loanguard CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loanguard",
		Short: "Loanguard - authorization decision service for lending platforms",
		Long: `Loanguard evaluates role-based permissions, typed business rules,
and segregation-of-duties constraints for multi-tenant lending platforms.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (overrides config and DATABASE_URL)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newSoDScanCmd())
	cmd.AddCommand(newSoDApplyCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	explicit := path != ""
	if path == "" {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path, explicit, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if databaseURL != "" {
		cfg.Database.URL = databaseURL
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	logging.SetDefault("loanguard", version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

// runtime bundles the wired decision core for CLI commands.
type runtime struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	store     *store.PostgresStore
	cache     *resolver.Cache
	audit     *audit.Logger
	engine    *engine.Engine
	validator *sod.Validator
}

// newRuntime connects to the database and wires the decision core.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").
			Errorf("database URL is required (--database-url, config file, or DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	pgStore := store.NewPostgresStore(pool)
	cache := resolver.NewCache(resolver.New(pgStore), resolver.WithTTL(cfg.Cache.TTL))
	auditLogger := audit.NewLogger(audit.NewSlogSink(nil))
	registry := rule.NewRegistry()

	return &runtime{
		cfg:       cfg,
		pool:      pool,
		store:     pgStore,
		cache:     cache,
		audit:     auditLogger,
		engine:    engine.New(registry, cache, auditLogger, engine.WithStrategy(cfg.Strategy())),
		validator: sod.NewValidator(pgStore, cache, auditLogger),
	}, nil
}

// close releases the runtime's resources.
func (r *runtime) close() {
	_ = r.audit.Close() //nolint:errcheck // shutdown path
	r.pool.Close()
}
