/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logger provides structured logging utilities for the sync engine.
// It defines standard log fields and helpers so every run and every secret
// operation logs with the same keys.
package logger

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Standard log field keys. Using consistent keys makes log aggregation and
// querying much easier.
const (
	// KeyRun identifies the sync run
	KeyRun = "run"

	// KeyTrigger identifies what started the run (scheduled, webhook, manual)
	KeyTrigger = "trigger"

	// KeyNamespace identifies the target namespace
	KeyNamespace = "namespace"

	// KeySecret identifies the secret being synced (name)
	KeySecret = "secret"

	// KeyItem identifies the source vault item (name)
	KeyItem = "item"

	// KeyItemID identifies the source vault item (id)
	KeyItemID = "itemID"

	// KeyOperation identifies the operation being performed (create, update, delete, skip)
	KeyOperation = "operation"

	// KeyOutcome records the run outcome
	KeyOutcome = "outcome"

	// KeyDuration records the time taken for an operation
	KeyDuration = "duration"

	// KeyError includes error details
	KeyError = "error"

	// KeyRetryCount tracks retry attempts
	KeyRetryCount = "retryCount"
)

// Operation types for logging
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpSkip   = "skip"
	OpFetch  = "fetch"
	OpOrphan = "orphan"
)

// RunLogger wraps a logr.Logger with the context of one sync run.
type RunLogger struct {
	logr.Logger
	startTime time.Time
}

// NewRunLogger creates a logger carrying the run id and trigger. Call it at
// the start of each sync run.
func NewRunLogger(ctx context.Context, runID, trigger string) *RunLogger {
	l := log.FromContext(ctx).WithValues(
		KeyRun, runID,
		KeyTrigger, trigger,
	)

	return &RunLogger{
		Logger:    l,
		startTime: time.Now(),
	}
}

// WithSecret returns a new logger with secret context added.
func (r *RunLogger) WithSecret(namespace, name string) *RunLogger {
	return &RunLogger{
		Logger:    r.Logger.WithValues(KeyNamespace, namespace, KeySecret, name),
		startTime: r.startTime,
	}
}

// WithItem returns a new logger with vault item context added.
func (r *RunLogger) WithItem(id, name string) *RunLogger {
	return &RunLogger{
		Logger:    r.Logger.WithValues(KeyItemID, id, KeyItem, name),
		startTime: r.startTime,
	}
}

// WithOperation returns a new logger with operation context added.
func (r *RunLogger) WithOperation(op string) *RunLogger {
	return &RunLogger{
		Logger:    r.Logger.WithValues(KeyOperation, op),
		startTime: r.startTime,
	}
}

// Duration returns the elapsed time since the run started.
func (r *RunLogger) Duration() time.Duration {
	return time.Since(r.startTime)
}

// InfoWithDuration logs an info message with the elapsed duration.
func (r *RunLogger) InfoWithDuration(msg string, keysAndValues ...interface{}) {
	r.Info(msg, append(keysAndValues, KeyDuration, r.Duration().String())...)
}

// ErrorWithDuration logs an error with the elapsed duration.
func (r *RunLogger) ErrorWithDuration(err error, msg string, keysAndValues ...interface{}) {
	r.Error(err, msg, append(keysAndValues, KeyDuration, r.Duration().String())...)
}

// V returns a logger at the specified verbosity level.
func (r *RunLogger) V(level int) *RunLogger {
	return &RunLogger{
		Logger:    r.Logger.V(level),
		startTime: r.startTime,
	}
}

// WithValues returns a new logger with additional key-value pairs.
func (r *RunLogger) WithValues(keysAndValues ...interface{}) *RunLogger {
	return &RunLogger{
		Logger:    r.Logger.WithValues(keysAndValues...),
		startTime: r.startTime,
	}
}

// LogRunStart logs the start of a sync run.
func (r *RunLogger) LogRunStart() {
	r.V(1).Info("starting sync run")
}

// LogRunFinished logs the completion of a sync run with its outcome.
func (r *RunLogger) LogRunFinished(outcome string) {
	r.InfoWithDuration("sync run finished", KeyOutcome, outcome)
}

// LogSecretOperation logs one secret operation.
func (r *RunLogger) LogSecretOperation(op, namespace, name string) {
	r.V(1).Info("applying secret operation", KeyOperation, op, KeyNamespace, namespace, KeySecret, name)
}

// LogSecretError logs a per-secret failure.
func (r *RunLogger) LogSecretError(err error, namespace, name string) {
	r.Error(err, "secret sync failed", KeyNamespace, namespace, KeySecret, name)
}

// FromContext extracts a logger from context with standard fields.
// Falls back to a background logger if none is found.
func FromContext(ctx context.Context, keysAndValues ...interface{}) logr.Logger {
	return log.FromContext(ctx, keysAndValues...)
}

// WithOperation adds operation context to an existing logger.
func WithOperation(l logr.Logger, op string) logr.Logger {
	return l.WithValues(KeyOperation, op)
}

// WithSecret adds secret context to an existing logger.
func WithSecret(l logr.Logger, namespace, name string) logr.Logger {
	return l.WithValues(KeyNamespace, namespace, KeySecret, name)
}

// WithDuration adds duration context to an existing logger.
func WithDuration(l logr.Logger, d time.Duration) logr.Logger {
	return l.WithValues(KeyDuration, d.String())
}
