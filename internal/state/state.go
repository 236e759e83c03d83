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

// Package state provides the durable record of every secret the engine has
// ever produced, plus the append-only sync-run log. The store is only ever
// written by the single lock-holding run, so no internal locking beyond the
// global sync lock is required.
package state

import (
	"context"
	"database/sql"
	"time"
)

// Status is the lifecycle state of a tracked secret.
type Status string

const (
	StatusActive  Status = "Active"
	StatusFailed  Status = "Failed"
	StatusDeleted Status = "Deleted"
)

// Trigger identifies what started a sync run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerWebhook   Trigger = "webhook"
	TriggerManual    Trigger = "manual"
)

// Outcome classifies a completed sync run.
type Outcome string

const (
	// OutcomeSuccess: all changes applied cleanly.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeUpToDate: no changes were needed.
	OutcomeUpToDate Outcome = "UP-TO-DATE"
	// OutcomePartial: some secrets failed alongside successes.
	OutcomePartial Outcome = "PARTIAL"
	// OutcomeFailed: zero secrets processed successfully.
	OutcomeFailed Outcome = "FAILED"
)

// SecretState is one row of the state store, keyed by (namespace, name).
type SecretState struct {
	Namespace string
	Name      string
	ItemID    string
	ItemName  string
	Status    Status
	DataKeys  int

	// Fingerprint is the hash of the last-applied payload, used to detect
	// no-op updates.
	Fingerprint string

	LastSynced time.Time

	// LastError holds the verbatim error of the last failed reconciliation.
	LastError *string

	// DeleteReason records why the orphan collector removed the secret.
	DeleteReason *string
}

// NamespaceCounts is the per-namespace breakdown of one sync run.
type NamespaceCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Deleted int `json:"deleted"`
}

// SyncRun is one row of the append-only run log. Rows are never mutated
// after completion.
type SyncRun struct {
	ID         string
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Namespaces map[string]NamespaceCounts

	// Errors holds every per-secret and run-level error, verbatim.
	Errors []string
}

// Store is the reconciler's contract with the state store. All operations
// are synchronous; implementations must be safe for the single-writer
// discipline guaranteed by the sync coordinator.
type Store interface {
	// Get returns the state row for (namespace, name), or nil if none exists.
	Get(ctx context.Context, namespace, name string) (*SecretState, error)

	// Upsert creates or replaces the state row keyed by (namespace, name).
	Upsert(ctx context.Context, s *SecretState) error

	// MarkDeleted transitions the row to Deleted with a reason, preserving
	// it for audit history.
	MarkDeleted(ctx context.Context, namespace, name, reason string) error

	// ListActiveNotIn returns Active rows in the namespace whose names are
	// not in keep. Used by the orphan collector.
	ListActiveNotIn(ctx context.Context, namespace string, keep []string) ([]SecretState, error)

	// ListTrackedNamespaces returns every namespace with at least one
	// Active row.
	ListTrackedNamespaces(ctx context.Context) ([]string, error)

	// AppendSyncRun appends one completed run to the run log.
	AppendSyncRun(ctx context.Context, run *SyncRun) error

	// Purge hard-deletes a state row. Operator escape hatch only; normal
	// cleanup uses MarkDeleted.
	Purge(ctx context.Context, namespace, name string) error
}

// DBTX is the subset of database/sql used by the store. Both *sql.DB and
// *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
