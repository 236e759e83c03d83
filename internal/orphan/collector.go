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

// Package orphan removes secrets whose source vault item disappeared.
// Detection is driven by the state store: a tracked Active row whose
// (namespace, name) is no longer produced by the desired state is an
// orphan. The collector only scans namespaces the store tracks and never
// deletes a cluster secret that lacks the ownership label.
package orphan

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/cluster"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/state"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/events"
)

const (
	reasonItemGone     = "source item no longer present in vault"
	reasonNotOwned     = "cluster secret not owned, left in place"
	reasonAlreadyGone  = "cluster secret already absent"
	reasonKeptDisabled = "orphan deletion disabled, secret retained"
)

// ClusterClient is the subset of cluster operations the collector needs.
// *cluster.Applier implements it.
type ClusterClient interface {
	Get(ctx context.Context, namespace, name string) (*corev1.Secret, bool, error)
	Delete(ctx context.Context, namespace, name string) error
}

// StateAccess is the subset of the state store the collector needs.
type StateAccess interface {
	ListTrackedNamespaces(ctx context.Context) ([]string, error)
	ListActiveNotIn(ctx context.Context, namespace string, keep []string) ([]state.SecretState, error)
	MarkDeleted(ctx context.Context, namespace, name, reason string) error
}

// Result summarizes one collection pass.
type Result struct {
	// Deleted counts removed secrets per namespace.
	Deleted map[string]int

	// Retained counts orphans found but left in place, either because
	// deletion is disabled or the live secret is not owned.
	Retained int

	// Errors holds per-secret failures. A failed orphan stays tracked and
	// is retried on the next full run.
	Errors []error
}

// Collector finds and removes orphaned secrets.
type Collector struct {
	states  StateAccess
	cluster ClusterClient
	delete  bool
	bus     *events.EventBus
	log     logr.Logger
}

// NewCollector creates a Collector. When deleteOrphans is false, orphans
// are logged and retained. The bus is optional; deletions are published
// on it when set.
func NewCollector(states StateAccess, clusterClient ClusterClient, deleteOrphans bool, bus *events.EventBus, log logr.Logger) *Collector {
	return &Collector{states: states, cluster: clusterClient, delete: deleteOrphans, bus: bus, log: log}
}

// Collect runs one pass. desiredKeys maps namespace to the secret names the
// current desired state produces there; anything tracked Active outside
// that set is an orphan. unresolved holds the IDs of items whose desired
// state could not be built this run; their rows are left untouched so a
// build failure cannot cascade into deleting a previously synced secret.
// Namespaces absent from the store are never scanned. Only full syncs
// should call this.
func (c *Collector) Collect(ctx context.Context, desiredKeys map[string][]string, unresolved map[string]struct{}) Result {
	result := Result{Deleted: map[string]int{}}

	namespaces, err := c.states.ListTrackedNamespaces(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("listing tracked namespaces: %w", err))
		return result
	}

	for _, ns := range namespaces {
		rows, err := c.states.ListActiveNotIn(ctx, ns, desiredKeys[ns])
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("listing orphans in %s: %w", ns, err))
			continue
		}
		for i := range rows {
			if _, ok := unresolved[rows[i].ItemID]; ok {
				c.log.V(1).Info("orphan candidate kept, source item unresolved this run",
					"namespace", rows[i].Namespace, "secret", rows[i].Name)
				continue
			}
			c.collectOne(ctx, &rows[i], &result)
		}
	}
	return result
}

func (c *Collector) collectOne(ctx context.Context, row *state.SecretState, result *Result) {
	log := c.log.WithValues("namespace", row.Namespace, "secret", row.Name, "item", row.ItemName)

	if !c.delete {
		log.Info("orphaned secret found", "action", reasonKeptDisabled)
		result.Retained++
		return
	}

	live, found, err := c.cluster.Get(ctx, row.Namespace, row.Name)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Errorf("checking orphan %s/%s: %w", row.Namespace, row.Name, err))
		return
	}

	switch {
	case !found:
		// Deleted out of band. Settle the bookkeeping only.
		if err := c.states.MarkDeleted(ctx, row.Namespace, row.Name, reasonAlreadyGone); err != nil {
			result.Errors = append(result.Errors, err)
			return
		}
		log.Info("orphaned secret already absent, state settled")
		result.Deleted[row.Namespace]++

	case live.Labels[cluster.LabelManagedBy] != cluster.ManagedByValue:
		log.Info("orphaned secret lacks ownership label, refusing to delete")
		if err := c.states.MarkDeleted(ctx, row.Namespace, row.Name, reasonNotOwned); err != nil {
			result.Errors = append(result.Errors, err)
			return
		}
		result.Retained++

	default:
		if err := c.cluster.Delete(ctx, row.Namespace, row.Name); err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("deleting orphan %s/%s: %w", row.Namespace, row.Name, err))
			return
		}
		if err := c.states.MarkDeleted(ctx, row.Namespace, row.Name, reasonItemGone); err != nil {
			result.Errors = append(result.Errors, err)
			return
		}
		log.Info("orphaned secret deleted")
		result.Deleted[row.Namespace]++
		if c.bus != nil {
			_ = c.bus.Publish(ctx, events.NewOrphanDeleted(events.SecretRef{
				Namespace: row.Namespace,
				Name:      row.Name,
				ItemID:    row.ItemID,
			}, reasonItemGone))
		}
	}
}
