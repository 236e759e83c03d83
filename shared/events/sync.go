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

package events

import "time"

// Sync event type constants.
const (
	RunCompletedType  = "sync.run_completed"
	SecretSyncedType  = "sync.secret_synced"
	OrphanDeletedType = "sync.orphan_deleted"
)

// RunCompleted is published when a sync run finishes, whatever its outcome.
// Subscribers can surface the summary on a dashboard or alert on FAILED.
type RunCompleted struct {
	BaseEvent
	// RunID is the uuid of the completed run
	RunID string
	// Trigger describes what started the run (scheduled, webhook, manual)
	Trigger string
	// Outcome is the run classification (SUCCESS, UP-TO-DATE, PARTIAL, FAILED)
	Outcome string
	// Duration is the wall time of the run
	Duration time.Duration
	// Errors holds the run's error strings, verbatim
	Errors []string
}

// Type returns the event type identifier.
func (e RunCompleted) Type() string {
	return RunCompletedType
}

// NewRunCompleted creates a RunCompleted event.
func NewRunCompleted(runID, trigger, outcome string, duration time.Duration, errs []string) RunCompleted {
	return RunCompleted{
		BaseEvent: NewBaseEvent(RunCompletedType),
		RunID:     runID,
		Trigger:   trigger,
		Outcome:   outcome,
		Duration:  duration,
		Errors:    errs,
	}
}

// SecretSynced is published after a secret is created or updated in the
// cluster.
type SecretSynced struct {
	BaseEvent
	// Secret identifies the synced secret
	Secret SecretRef
	// Operation is "create" or "update"
	Operation string
}

// Type returns the event type identifier.
func (e SecretSynced) Type() string {
	return SecretSyncedType
}

// NewSecretSynced creates a SecretSynced event.
func NewSecretSynced(ref SecretRef, operation string) SecretSynced {
	return SecretSynced{
		BaseEvent: NewBaseEvent(SecretSyncedType),
		Secret:    ref,
		Operation: operation,
	}
}

// OrphanDeleted is published when the orphan collector removes a secret
// whose source item disappeared.
type OrphanDeleted struct {
	BaseEvent
	// Secret identifies the removed secret
	Secret SecretRef
	// Reason records why the secret was considered orphaned
	Reason string
}

// Type returns the event type identifier.
func (e OrphanDeleted) Type() string {
	return OrphanDeletedType
}

// NewOrphanDeleted creates an OrphanDeleted event.
func NewOrphanDeleted(ref SecretRef, reason string) OrphanDeleted {
	return OrphanDeleted{
		BaseEvent: NewBaseEvent(OrphanDeletedType),
		Secret:    ref,
		Reason:    reason,
	}
}
