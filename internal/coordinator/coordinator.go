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

// Package coordinator drives complete sync runs: fetch, normalize, build,
// reconcile, apply, orphan-collect, persist. At most one run executes at a
// time; contended triggers are coalesced, not queued.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/bitwarden"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/desired"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/directive"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/orphan"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/reconcile"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/state"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/synclock"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/pkg/logger"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/pkg/metrics"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/events"
	infraerrors "github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/infrastructure/errors"
)

// Event is a vault change notification, typically delivered by an external
// webhook receiver.
type Event struct {
	Kind   string
	ItemID string

	// Namespaces optionally widens a creation-shaped event to every item
	// targeting the listed namespaces, for senders that know the affected
	// namespaces but not the item.
	Namespaces []string
}

// Event kinds. Creation-shaped events scope the run to one item; removal-
// shaped events force a full run because the affected secrets can only be
// found by diffing the complete desired state.
const (
	EventItemCreated  = "item.created"
	EventItemUpdated  = "item.updated"
	EventItemRestored = "item.restored"
	EventItemDeleted  = "item.deleted"
	EventItemMoved    = "item.moved"
	EventItemShared   = "item.shared"
)

// Applier is the cluster surface the coordinator needs. *cluster.Applier
// implements it.
type Applier interface {
	reconcile.LiveReader
	Create(ctx context.Context, d *desired.Secret) error
	Patch(ctx context.Context, d *desired.Secret) error
}

// Collector runs orphan collection. *orphan.Collector implements it.
type Collector interface {
	Collect(ctx context.Context, desiredKeys map[string][]string, unresolved map[string]struct{}) orphan.Result
}

// Coordinator wires the pipeline together.
type Coordinator struct {
	source     bitwarden.ItemSource
	normalizer *directive.Normalizer
	builder    *desired.Builder
	differ     *reconcile.Differ
	applier    Applier
	collector  Collector
	store      state.Store
	lock       *synclock.Lock
	bus        *events.EventBus
	log        logr.Logger
}

// Config contains the coordinator's collaborators.
type Config struct {
	Source     bitwarden.ItemSource
	Normalizer *directive.Normalizer
	Builder    *desired.Builder
	Differ     *reconcile.Differ
	Applier    Applier
	Collector  Collector
	Store      state.Store
	Lock       *synclock.Lock

	// Bus is optional; when set the coordinator publishes sync events on it.
	Bus *events.EventBus

	Log logr.Logger
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		source:     cfg.Source,
		normalizer: cfg.Normalizer,
		builder:    cfg.Builder,
		differ:     cfg.Differ,
		applier:    cfg.Applier,
		collector:  cfg.Collector,
		store:      cfg.Store,
		lock:       cfg.Lock,
		bus:        cfg.Bus,
		log:        cfg.Log,
	}
}

// Run executes a full sync. A contended lock returns (nil, nil): the
// in-flight run already covers this trigger.
func (c *Coordinator) Run(ctx context.Context, trigger state.Trigger) (*state.SyncRun, error) {
	return c.run(ctx, trigger, reconcile.ScopeAll())
}

// HandleEvent executes the sync a vault event calls for. Unknown kinds are
// rejected.
func (c *Coordinator) HandleEvent(ctx context.Context, event Event) (*state.SyncRun, error) {
	switch event.Kind {
	case EventItemCreated, EventItemUpdated, EventItemRestored:
		if event.ItemID == "" && len(event.Namespaces) == 0 {
			return nil, fmt.Errorf("event %s names no item and no namespaces", event.Kind)
		}
		scope := reconcile.ScopeItems(event.ItemID).
			Merge(reconcile.ScopeNamespaces(event.Namespaces...))
		return c.run(ctx, state.TriggerWebhook, scope)
	case EventItemDeleted, EventItemMoved, EventItemShared:
		return c.run(ctx, state.TriggerWebhook, reconcile.ScopeAll())
	default:
		return nil, fmt.Errorf("unknown event kind %q", event.Kind)
	}
}

func (c *Coordinator) run(ctx context.Context, trigger state.Trigger, scope reconcile.Scope) (*state.SyncRun, error) {
	release, err := c.lock.Acquire()
	if errors.Is(err, synclock.ErrContended) {
		metrics.IncrementLockContention()
		c.log.Info("sync already in progress, trigger coalesced", logger.KeyTrigger, string(trigger))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer release()

	run := &state.SyncRun{
		ID:         uuid.NewString(),
		Trigger:    trigger,
		StartedAt:  time.Now().UTC(),
		Namespaces: map[string]state.NamespaceCounts{},
	}
	log := logger.NewRunLogger(ctx, run.ID, string(trigger))
	log.LogRunStart()

	items, err := c.fetchItems(ctx, scope)
	metrics.IncrementVaultFetch(err == nil)
	if err != nil {
		run.Errors = append(run.Errors, err.Error())
		c.finalize(ctx, run, state.OutcomeFailed, log)
		return run, err
	}
	if scope.IsFull() {
		metrics.SetVaultItems(len(items))
	}

	tally := newRunTally()
	desiredKeys := map[string][]string{}
	unresolved := map[string]struct{}{}
	aborted := false

	for i := range items {
		item := &items[i]
		if err := ctx.Err(); err != nil {
			run.Errors = append(run.Errors, err.Error())
			aborted = true
			break
		}

		d, ok := c.normalizer.Normalize(item)
		if !ok {
			continue
		}
		if !scope.Matches(item.ID, d.Namespaces) {
			continue
		}
		secrets, err := c.builder.Build(item, d)
		if err != nil {
			c.recordBuildFailure(ctx, item, d, err, tally, run, desiredKeys, log)
			unresolved[item.ID] = struct{}{}
			continue
		}

		for j := range secrets {
			sec := &secrets[j]
			desiredKeys[sec.Namespace] = append(desiredKeys[sec.Namespace], sec.Name)
			c.syncOne(ctx, sec, tally, run, log)
		}
	}

	// An interrupted run has an incomplete desired set; collecting against
	// it would delete secrets whose items were never reached.
	if scope.IsFull() && !aborted {
		collected := c.collector.Collect(ctx, desiredKeys, unresolved)
		for ns, n := range collected.Deleted {
			tally.deleted(ns, n)
			metrics.IncrementOrphansDeleted(ns, n)
		}
		for _, err := range collected.Errors {
			run.Errors = append(run.Errors, err.Error())
			tally.orphanErrors++
		}
		for ns, names := range desiredKeys {
			metrics.SetTrackedSecrets(ns, len(names))
		}
	}

	run.Namespaces = tally.counts
	c.finalize(ctx, run, tally.outcome(), log)
	return run, nil
}

// fetchItems pulls the vault items a scope needs: the single named item
// when the scope is exactly one item, otherwise the full listing.
func (c *Coordinator) fetchItems(ctx context.Context, scope reconcile.Scope) ([]bitwarden.Item, error) {
	id, ok := scope.SoleItem()
	if !ok {
		return c.source.ListItems(ctx)
	}
	item, err := c.source.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Trashed() {
		return nil, nil
	}
	return []bitwarden.Item{*item}, nil
}

// recordBuildFailure attributes a build failure to every namespace the item
// targets and records a Failed row under the derived key. The derived key
// stays in the desired set and the item is reported unresolved, so an
// earlier synced secret is never collected while its item is broken.
func (c *Coordinator) recordBuildFailure(ctx context.Context, item *bitwarden.Item, d *directive.SyncDirective, buildErr error, tally *runTally, run *state.SyncRun, desiredKeys map[string][]string, log *logger.RunLogger) {
	log.WithItem(item.ID, item.Name).Error(buildErr, "building desired state failed")
	run.Errors = append(run.Errors, buildErr.Error())

	name := desired.SecretName(item, d)
	msg := buildErr.Error()
	now := time.Now().UTC()
	for _, ns := range d.Namespaces {
		desiredKeys[ns] = append(desiredKeys[ns], name)
		tally.fail(ns)
		metrics.IncrementSecretFailure(ns, "build")
		if upsertErr := c.store.Upsert(ctx, &state.SecretState{
			Namespace:  ns,
			Name:       name,
			ItemID:     item.ID,
			ItemName:   item.Name,
			Status:     state.StatusFailed,
			LastSynced: now,
			LastError:  &msg,
		}); upsertErr != nil {
			run.Errors = append(run.Errors, upsertErr.Error())
		}
	}
}

// syncOne reconciles and applies a single desired secret. Failures are
// recorded and isolated; they never abort the run.
func (c *Coordinator) syncOne(ctx context.Context, sec *desired.Secret, tally *runTally, run *state.SyncRun, log *logger.RunLogger) {
	slog := log.WithSecret(sec.Namespace, sec.Name).WithItem(sec.ItemID, sec.ItemName)

	decision, err := c.differ.Decide(ctx, sec)
	if err == nil {
		switch decision {
		case reconcile.DecisionCreate:
			slog.LogSecretOperation(logger.OpCreate, sec.Namespace, sec.Name)
			err = c.applier.Create(ctx, sec)
		case reconcile.DecisionUpdate:
			slog.LogSecretOperation(logger.OpUpdate, sec.Namespace, sec.Name)
			err = c.applier.Patch(ctx, sec)
		case reconcile.DecisionSkip:
			tally.skip(sec.Namespace)
			metrics.IncrementSecretOperation(sec.Namespace, logger.OpSkip)
			return
		}
	}

	now := time.Now().UTC()
	if err != nil {
		slog.LogSecretError(err, sec.Namespace, sec.Name)
		tally.fail(sec.Namespace)
		reason := "apply"
		if infraerrors.IsRetryableError(err) {
			reason = "apply-transient"
		}
		metrics.IncrementSecretFailure(sec.Namespace, reason)
		run.Errors = append(run.Errors, err.Error())

		msg := err.Error()
		if upsertErr := c.store.Upsert(ctx, &state.SecretState{
			Namespace:  sec.Namespace,
			Name:       sec.Name,
			ItemID:     sec.ItemID,
			ItemName:   sec.ItemName,
			Status:     state.StatusFailed,
			LastSynced: now,
			LastError:  &msg,
		}); upsertErr != nil {
			run.Errors = append(run.Errors, upsertErr.Error())
		}
		return
	}

	if upsertErr := c.store.Upsert(ctx, &state.SecretState{
		Namespace:   sec.Namespace,
		Name:        sec.Name,
		ItemID:      sec.ItemID,
		ItemName:    sec.ItemName,
		Status:      state.StatusActive,
		DataKeys:    len(sec.Data),
		Fingerprint: sec.Fingerprint(),
		LastSynced:  now,
	}); upsertErr != nil {
		tally.fail(sec.Namespace)
		run.Errors = append(run.Errors, upsertErr.Error())
		return
	}

	op := logger.OpCreate
	if decision == reconcile.DecisionUpdate {
		op = logger.OpUpdate
	}
	switch decision {
	case reconcile.DecisionCreate:
		tally.create(sec.Namespace)
	case reconcile.DecisionUpdate:
		tally.update(sec.Namespace)
	}
	metrics.IncrementSecretOperation(sec.Namespace, op)
	if c.bus != nil {
		_ = c.bus.Publish(ctx, events.NewSecretSynced(events.SecretRef{
			Namespace: sec.Namespace,
			Name:      sec.Name,
			ItemID:    sec.ItemID,
		}, op))
	}
}

// finalize stamps the run, persists it, and emits metrics. Persisting the
// run log must never mask the run itself.
func (c *Coordinator) finalize(ctx context.Context, run *state.SyncRun, outcome state.Outcome, log *logger.RunLogger) {
	run.Outcome = outcome
	run.FinishedAt = time.Now().UTC()
	if run.Namespaces == nil {
		run.Namespaces = map[string]state.NamespaceCounts{}
	}

	if err := c.store.AppendSyncRun(ctx, run); err != nil {
		log.Error(err, "persisting sync run failed")
	}
	metrics.ObserveRun(string(run.Trigger), string(outcome), run.FinishedAt.Sub(run.StartedAt).Seconds())
	if c.bus != nil {
		_ = c.bus.Publish(ctx, events.NewRunCompleted(
			run.ID, string(run.Trigger), string(outcome),
			run.FinishedAt.Sub(run.StartedAt), run.Errors))
	}
	log.LogRunFinished(string(outcome))
}

// runTally accumulates per-namespace counts during a run.
type runTally struct {
	counts       map[string]state.NamespaceCounts
	orphanErrors int
}

func newRunTally() *runTally {
	return &runTally{counts: map[string]state.NamespaceCounts{}}
}

func (t *runTally) create(ns string) {
	c := t.counts[ns]
	c.Created++
	t.counts[ns] = c
}

func (t *runTally) update(ns string) {
	c := t.counts[ns]
	c.Updated++
	t.counts[ns] = c
}

func (t *runTally) skip(ns string) {
	c := t.counts[ns]
	c.Skipped++
	t.counts[ns] = c
}

func (t *runTally) fail(ns string) {
	c := t.counts[ns]
	c.Failed++
	t.counts[ns] = c
}

func (t *runTally) deleted(ns string, n int) {
	c := t.counts[ns]
	c.Deleted += n
	t.counts[ns] = c
}

// outcome classifies the run:
//
//	no failures, changes applied:  SUCCESS
//	no failures, nothing changed:  UP-TO-DATE
//	failures alongside successes:  PARTIAL
//	failures and zero successes:   FAILED
func (t *runTally) outcome() state.Outcome {
	var changes, skipped, failed int
	for _, c := range t.counts {
		changes += c.Created + c.Updated + c.Deleted
		skipped += c.Skipped
		failed += c.Failed
	}
	failed += t.orphanErrors

	if failed == 0 {
		if changes > 0 {
			return state.OutcomeSuccess
		}
		return state.OutcomeUpToDate
	}
	if changes > 0 || skipped > 0 {
		return state.OutcomePartial
	}
	return state.OutcomeFailed
}
