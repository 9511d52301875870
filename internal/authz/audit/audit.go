// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package audit emits structured events for authorization decisions
// and SoD violations. Persistence is external: events go to a Sink,
// and sink failures are logged locally, never propagated to callers.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sethvargo/go-retry"
)

// Severity classifies an audit event.
type Severity string

// Severities, least to most severe.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single structured audit record.
type Event struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Severity  Severity       `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
}

// Sink is the external audit backend.
type Sink interface {
	WriteSync(ctx context.Context, event Event) error
	WriteAsync(event Event) error
	Close() error
}

var (
	channelFullCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authz_audit_channel_full_total",
		Help: "Total number of times the async audit channel was full",
	})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_audit_failures_total",
		Help: "Total number of audit logging failures",
	}, []string{"reason"})
)

// Default bounded-retry parameters for synchronous writes. The sink
// must not block callers indefinitely.
const (
	defaultRetryInitial = 50 * time.Millisecond
	defaultRetryMax     = 3
)

// Logger routes audit events: warnings and errors are written
// synchronously with bounded retry, informational events go through a
// bounded async channel that drops (and counts) when full.
type Logger struct {
	sink      Sink
	asyncChan chan Event
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewLogger creates a Logger over the given sink and starts its async
// consumer.
func NewLogger(sink Sink) *Logger {
	l := &Logger{
		sink:      sink,
		asyncChan: make(chan Event, 1000),
		stopChan:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.asyncConsumer()
	return l
}

// Log routes an event by severity. It never returns an error: a sink
// failure is logged locally and counted, not propagated.
func (l *Logger) Log(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if event.Severity == SeverityInfo {
		select {
		case l.asyncChan <- event:
		default:
			channelFullCounter.Inc()
		}
		return
	}

	backoff := retry.WithMaxRetries(defaultRetryMax,
		retry.NewExponential(defaultRetryInitial))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if writeErr := l.sink.WriteSync(ctx, event); writeErr != nil {
			return retry.RetryableError(writeErr)
		}
		return nil
	})
	if err != nil {
		slog.Error("audit write failed",
			"error", err,
			"actor", event.Actor,
			"action", event.Action,
			"entity", event.Entity,
			"severity", string(event.Severity),
		)
		failuresCounter.WithLabelValues("sync_write_failed").Inc()
	}
}

// asyncConsumer processes informational events from the channel.
func (l *Logger) asyncConsumer() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.asyncChan:
			if err := l.sink.WriteAsync(event); err != nil {
				slog.Error("async audit write failed",
					"error", err,
					"actor", event.Actor,
					"action", event.Action,
				)
				failuresCounter.WithLabelValues("async_write_failed").Inc()
			}
		case <-l.stopChan:
			l.drainAsync()
			return
		}
	}
}

// drainAsync processes all remaining events in the channel.
func (l *Logger) drainAsync() {
	for {
		select {
		case event := <-l.asyncChan:
			if err := l.sink.WriteAsync(event); err != nil {
				slog.Error("async audit write failed during drain",
					"error", err,
					"actor", event.Actor,
				)
				failuresCounter.WithLabelValues("async_write_failed").Inc()
			}
		default:
			return
		}
	}
}

// Close drains pending events and closes the sink.
func (l *Logger) Close() error {
	close(l.stopChan)
	l.wg.Wait()
	return l.sink.Close()
}
