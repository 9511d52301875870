// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loanguard/loanguard/internal/authz/resolver"
	"github.com/loanguard/loanguard/internal/observability"
	"github.com/loanguard/loanguard/pkg/errutil"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the decision service",
		Long: `Run the decision core with the metrics/health listener and the
database change listener that keeps the resolver cache coherent.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.close()

	// Cache invalidation rides on pg_notify from mutating transactions.
	listener := resolver.NewPgListener(cfg.Database.URL)
	if err := rt.cache.StartWithListener(ctx, listener); err != nil {
		errutil.LogError(slog.Default(), "change listener failed to start", err)
		return err
	}

	obs := observability.NewServer(cfg.Observability.Addr, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return rt.pool.Ping(pingCtx) == nil
	})
	obsErr, err := obs.Start()
	if err != nil {
		return err
	}

	slog.Info("loanguard serving", "metrics_addr", obs.Addr())

	select {
	case <-ctx.Done():
	case err := <-obsErr:
		if err != nil {
			errutil.LogError(slog.Default(), "observability server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := obs.Stop(shutdownCtx); err != nil {
		errutil.LogError(slog.Default(), "observability shutdown failed", err)
	}
	rt.cache.Wait()
	return nil
}
