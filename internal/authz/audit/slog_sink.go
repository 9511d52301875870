// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes audit events to the process's structured logger.
// It is the default sink when no external audit backend is wired;
// operators can ship the log stream to their audit pipeline.
type SlogSink struct {
	logger *slog.Logger
}

// Compile-time check that SlogSink implements Sink.
var _ Sink = (*SlogSink)(nil)

// NewSlogSink creates a SlogSink. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) write(ctx context.Context, event Event) {
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}

	s.logger.LogAttrs(ctx, level, "audit event",
		slog.String("id", event.ID),
		slog.String("actor", event.Actor),
		slog.String("action", event.Action),
		slog.String("entity", event.Entity),
		slog.String("entity_id", event.EntityID),
		slog.String("tenant_id", event.TenantID),
		slog.Bool("success", event.Success),
		slog.Any("details", event.Details),
	)
}

// WriteSync writes the event to the logger.
func (s *SlogSink) WriteSync(ctx context.Context, event Event) error {
	s.write(ctx, event)
	return nil
}

// WriteAsync writes the event to the logger.
func (s *SlogSink) WriteAsync(event Event) error {
	s.write(context.Background(), event)
	return nil
}

// Close is a no-op for the log-backed sink.
func (s *SlogSink) Close() error {
	return nil
}
