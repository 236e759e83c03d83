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

// Package reconcile decides, per desired secret, whether the cluster needs
// a create, an update, or nothing at all. The decision combines the prior
// tracked state with a live read so that out-of-band edits and deletions
// are healed instead of silently tolerated.
package reconcile

import (
	"context"

	corev1 "k8s.io/api/core/v1"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/cluster"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/desired"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/state"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/fingerprint"
)

// Decision is the action the applier should take for one desired secret.
type Decision string

const (
	DecisionCreate Decision = "create"
	DecisionUpdate Decision = "update"
	DecisionSkip   Decision = "skip"
)

// LiveReader reads the live secret from the cluster. *cluster.Applier
// implements it.
type LiveReader interface {
	Get(ctx context.Context, namespace, name string) (*corev1.Secret, bool, error)
}

// StateReader is the subset of the state store the differ needs.
type StateReader interface {
	Get(ctx context.Context, namespace, name string) (*state.SecretState, error)
}

// Differ computes the decision for a desired secret.
type Differ struct {
	states StateReader
	live   LiveReader
}

// NewDiffer creates a Differ.
func NewDiffer(states StateReader, live LiveReader) *Differ {
	return &Differ{states: states, live: live}
}

// Decide applies the decision table:
//
//   - no active prior state and no live secret: create
//   - active prior state with matching fingerprint and an equivalent live
//     secret: skip
//   - anything else (fingerprint drift, live payload drift, live secret
//     missing despite active state): update, with create-if-missing
//     semantics downstream
func (d *Differ) Decide(ctx context.Context, sec *desired.Secret) (Decision, error) {
	prior, err := d.states.Get(ctx, sec.Namespace, sec.Name)
	if err != nil {
		return "", err
	}
	live, found, err := d.live.Get(ctx, sec.Namespace, sec.Name)
	if err != nil {
		return "", err
	}

	priorActive := prior != nil && prior.Status == state.StatusActive
	if !priorActive && !found {
		return DecisionCreate, nil
	}
	if priorActive && found &&
		fingerprint.Equals(prior.Fingerprint, sec.Fingerprint()) &&
		liveMatches(live, sec) {
		return DecisionSkip, nil
	}
	return DecisionUpdate, nil
}

// liveMatches reports whether the live secret already carries the desired
// payload and the ownership metadata. A secret stripped of its ownership
// label would otherwise escape the orphan collector, so metadata drift
// forces an update too.
func liveMatches(live *corev1.Secret, want *desired.Secret) bool {
	if !fingerprint.Equals(fingerprint.FromPayload(live.Data), want.Fingerprint()) {
		return false
	}
	if live.Labels[cluster.LabelManagedBy] != cluster.ManagedByValue {
		return false
	}
	if live.Annotations[cluster.AnnotationItemID] != want.ItemID {
		return false
	}
	return true
}

// Scope restricts a run to a subset of vault items, selected by item ID or
// by target namespace. The zero value matches nothing; use ScopeAll for a
// full run.
type Scope struct {
	all        bool
	itemIDs    map[string]struct{}
	namespaces map[string]struct{}
}

// ScopeAll covers every item.
func ScopeAll() Scope {
	return Scope{all: true}
}

// ScopeItems covers only the given item IDs. An empty list yields a scope
// that matches nothing.
func ScopeItems(ids ...string) Scope {
	return Scope{itemIDs: toSet(ids)}
}

// ScopeNamespaces covers every item that targets one of the given
// namespaces. An empty list yields a scope that matches nothing.
func ScopeNamespaces(namespaces ...string) Scope {
	return Scope{namespaces: toSet(namespaces)}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Matches reports whether an item falls inside the scope, either by its ID
// or by any of the namespaces it targets.
func (s Scope) Matches(itemID string, namespaces []string) bool {
	if s.all {
		return true
	}
	if _, ok := s.itemIDs[itemID]; ok {
		return true
	}
	for _, ns := range namespaces {
		if _, ok := s.namespaces[ns]; ok {
			return true
		}
	}
	return false
}

// IsFull reports whether the scope covers every item. Orphan collection
// only runs on full scopes.
func (s Scope) IsFull() bool {
	return s.all
}

// SoleItem returns the item ID when the scope names exactly one item and
// nothing else. Such a run can fetch the one item instead of listing the
// whole vault.
func (s Scope) SoleItem() (string, bool) {
	if s.all || len(s.namespaces) > 0 || len(s.itemIDs) != 1 {
		return "", false
	}
	for id := range s.itemIDs {
		return id, true
	}
	return "", false
}

// Merge combines two scopes. Any full scope absorbs the other.
func (s Scope) Merge(other Scope) Scope {
	if s.all || other.all {
		return ScopeAll()
	}
	merged := Scope{
		itemIDs:    make(map[string]struct{}, len(s.itemIDs)+len(other.itemIDs)),
		namespaces: make(map[string]struct{}, len(s.namespaces)+len(other.namespaces)),
	}
	for id := range s.itemIDs {
		merged.itemIDs[id] = struct{}{}
	}
	for id := range other.itemIDs {
		merged.itemIDs[id] = struct{}{}
	}
	for ns := range s.namespaces {
		merged.namespaces[ns] = struct{}{}
	}
	for ns := range other.namespaces {
		merged.namespaces[ns] = struct{}{}
	}
	return merged
}
