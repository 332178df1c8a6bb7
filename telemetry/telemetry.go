// Package telemetry defines the logging and metrics seams used across the
// engine, runner and backends. Implementations delegate to goa.design/clue
// logging and OTEL metrics; the no-op variants keep instrumentation optional
// for library users and tests.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log records. Key-value pairs alternate
	// (k1, v1, k2, v2, ...); non-string keys are dropped.
	Logger interface {
		// Debug emits a debug-level record.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level record.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Warn emits a warning-level record.
		Warn(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level record.
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters and timers. Tags alternate (k1, v1, ...).
	Metrics interface {
		// IncCounter increments a counter metric by the given value.
		IncCounter(name string, value float64, tags ...string)
		// RecordTimer records a duration metric.
		RecordTimer(name string, duration time.Duration, tags ...string)
	}
)

// Metric names emitted by the engine and runner.
const (
	// MetricTicks counts engine ticks, tagged with the resulting status.
	MetricTicks = "ratchet.ticks"
	// MetricCASConflicts counts optimistic-concurrency retries.
	MetricCASConflicts = "ratchet.cas_conflicts"
	// MetricActivitiesCompleted counts successful activity completions.
	MetricActivitiesCompleted = "ratchet.activities_completed"
	// MetricActivitiesRetried counts failed attempts granted a retry.
	MetricActivitiesRetried = "ratchet.activities_retried"
	// MetricTickDuration times one engine tick.
	MetricTickDuration = "ratchet.tick_duration"
)
