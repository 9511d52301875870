// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default reconnect backoff parameters for the LISTEN connection.
const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// PgListener implements Listener over a dedicated (non-pooled)
// PostgreSQL connection listening on the authz_changed channel.
// Connection loss triggers exponential-backoff reconnection.
type PgListener struct {
	connStr string
	channel string
}

// Compile-time check that PgListener implements Listener.
var _ Listener = (*PgListener)(nil)

// NewPgListener creates a listener for the given connection string.
func NewPgListener(connStr string) *PgListener {
	return &PgListener{
		connStr: connStr,
		channel: "authz_changed",
	}
}

// Listen connects and starts forwarding notification payloads. The
// returned channel closes when the context is cancelled.
func (l *PgListener) Listen(ctx context.Context) (<-chan string, error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return nil, oops.Code("LISTENER_CONNECT_FAILED").Wrap(err)
	}

	ch := make(chan string, 64)
	go l.forward(ctx, conn, ch)
	return ch, nil
}

func (l *PgListener) connect(ctx context.Context) (*pgx.Conn, error) {
	var conn *pgx.Conn
	backoff := retry.WithCappedDuration(defaultReconnectMax,
		retry.NewExponential(defaultReconnectInitial))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := pgx.Connect(ctx, l.connStr)
		if err != nil {
			return retry.RetryableError(err)
		}
		if _, err := c.Exec(ctx, "LISTEN "+l.channel); err != nil {
			_ = c.Close(ctx) //nolint:errcheck // connection is being abandoned
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	return conn, err
}

// forward pumps notifications into ch, reconnecting on failure until
// the context is cancelled.
func (l *PgListener) forward(ctx context.Context, conn *pgx.Conn, ch chan<- string) {
	defer close(ch)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background()) //nolint:errcheck // shutdown path
		}
	}()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("authz change listener lost connection, reconnecting",
				slog.String("error", err.Error()))
			_ = conn.Close(context.Background()) //nolint:errcheck // replacing connection
			conn, err = l.connect(ctx)
			if err != nil {
				// connect only fails when the context is done.
				return
			}
			continue
		}
		select {
		case ch <- notification.Payload:
		case <-ctx.Done():
			return
		}
	}
}
