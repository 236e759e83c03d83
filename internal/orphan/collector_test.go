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

package orphan

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/cluster"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/state"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/events"
)

type fakeStates struct {
	namespaces []string
	active     map[string][]state.SecretState
	deleted    map[string]string
	markErr    error
}

func (f *fakeStates) ListTrackedNamespaces(context.Context) ([]string, error) {
	return f.namespaces, nil
}

func (f *fakeStates) ListActiveNotIn(_ context.Context, namespace string, keep []string) ([]state.SecretState, error) {
	kept := make(map[string]bool, len(keep))
	for _, name := range keep {
		kept[name] = true
	}
	var out []state.SecretState
	for _, row := range f.active[namespace] {
		if !kept[row.Name] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStates) MarkDeleted(_ context.Context, namespace, name, reason string) error {
	if f.markErr != nil {
		return f.markErr
	}
	if f.deleted == nil {
		f.deleted = map[string]string{}
	}
	f.deleted[namespace+"/"+name] = reason
	return nil
}

type fakeCluster struct {
	secrets   map[string]*corev1.Secret
	deleted   []string
	deleteErr error
}

func (f *fakeCluster) Get(_ context.Context, namespace, name string) (*corev1.Secret, bool, error) {
	s, ok := f.secrets[namespace+"/"+name]
	return s, ok, nil
}

func (f *fakeCluster) Delete(_ context.Context, namespace, name string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, namespace+"/"+name)
	return nil
}

func ownedSecret(namespace, name string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
			Labels:    map[string]string{cluster.LabelManagedBy: cluster.ManagedByValue},
		},
	}
}

func activeRow(namespace, name string) state.SecretState {
	return state.SecretState{
		Namespace: namespace,
		Name:      name,
		ItemID:    "item-" + name,
		ItemName:  name,
		Status:    state.StatusActive,
	}
}

func TestCollect_DeletesOrphanedOwnedSecret(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "keep-me"), activeRow("default", "stale")},
		},
	}
	clusterClient := &fakeCluster{secrets: map[string]*corev1.Secret{
		"default/stale": ownedSecret("default", "stale"),
	}}
	collector := NewCollector(states, clusterClient, true, nil, logr.Discard())

	result := collector.Collect(context.Background(), map[string][]string{
		"default": {"keep-me"},
	}, nil)

	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Deleted["default"])
	assert.Equal(t, []string{"default/stale"}, clusterClient.deleted)
	assert.Contains(t, states.deleted["default/stale"], "no longer present")
}

func TestCollect_DesiredSecretsAreNeverOrphans(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "db-creds")},
		},
	}
	clusterClient := &fakeCluster{}
	collector := NewCollector(states, clusterClient, true, nil, logr.Discard())

	result := collector.Collect(context.Background(), map[string][]string{
		"default": {"db-creds"},
	}, nil)

	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, clusterClient.deleted)
}

func TestCollect_RefusesUnownedSecret(t *testing.T) {
	unowned := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "stale"},
	}
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "stale")},
		},
	}
	clusterClient := &fakeCluster{secrets: map[string]*corev1.Secret{"default/stale": unowned}}
	collector := NewCollector(states, clusterClient, true, nil, logr.Discard())

	result := collector.Collect(context.Background(), nil, nil)

	assert.Empty(t, result.Errors)
	assert.Empty(t, clusterClient.deleted)
	assert.Equal(t, 1, result.Retained)
	assert.Contains(t, states.deleted["default/stale"], "not owned")
}

func TestCollect_DeletionDisabledRetains(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "stale")},
		},
	}
	clusterClient := &fakeCluster{secrets: map[string]*corev1.Secret{
		"default/stale": ownedSecret("default", "stale"),
	}}
	collector := NewCollector(states, clusterClient, false, nil, logr.Discard())

	result := collector.Collect(context.Background(), nil, nil)

	assert.Empty(t, result.Errors)
	assert.Empty(t, clusterClient.deleted)
	assert.Equal(t, 1, result.Retained)
	assert.Empty(t, states.deleted)
}

func TestCollect_AlreadyAbsentSettlesState(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "gone")},
		},
	}
	collector := NewCollector(states, &fakeCluster{}, true, nil, logr.Discard())

	result := collector.Collect(context.Background(), nil, nil)

	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.Deleted["default"])
	assert.Contains(t, states.deleted["default/gone"], "already absent")
}

func TestCollect_DeleteFailureIsIsolated(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"a", "b"},
		active: map[string][]state.SecretState{
			"a": {activeRow("a", "bad")},
			"b": {activeRow("b", "good")},
		},
	}
	clusterClient := &fakeCluster{
		secrets: map[string]*corev1.Secret{
			"a/bad":  ownedSecret("a", "bad"),
			"b/good": ownedSecret("b", "good"),
		},
	}
	collector := NewCollector(states, clusterClient, true, nil, logr.Discard())

	clusterClient.deleteErr = errors.New("apiserver unavailable")
	result := collector.Collect(context.Background(), nil, nil)
	require.Len(t, result.Errors, 2)

	// Failed orphans stay tracked for the next run.
	assert.Empty(t, states.deleted)
}

func TestCollect_UnresolvedItemsAreLeftAlone(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "stale")},
		},
	}
	clusterClient := &fakeCluster{secrets: map[string]*corev1.Secret{
		"default/stale": ownedSecret("default", "stale"),
	}}
	collector := NewCollector(states, clusterClient, true, nil, logr.Discard())

	result := collector.Collect(context.Background(), nil, map[string]struct{}{
		"item-stale": {},
	})

	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Deleted)
	assert.Empty(t, clusterClient.deleted)
	assert.Empty(t, states.deleted)
}

func TestCollect_PublishesDeletionEvents(t *testing.T) {
	states := &fakeStates{
		namespaces: []string{"default"},
		active: map[string][]state.SecretState{
			"default": {activeRow("default", "stale")},
		},
	}
	clusterClient := &fakeCluster{secrets: map[string]*corev1.Secret{
		"default/stale": ownedSecret("default", "stale"),
	}}

	bus := events.NewEventBus(logr.Discard())
	var published []events.OrphanDeleted
	events.Subscribe(bus, func(_ context.Context, e events.OrphanDeleted) error {
		published = append(published, e)
		return nil
	})
	collector := NewCollector(states, clusterClient, true, bus, logr.Discard())

	result := collector.Collect(context.Background(), nil, nil)

	assert.Equal(t, 1, result.Deleted["default"])
	require.Len(t, published, 1)
	assert.Equal(t, "default", published[0].Secret.Namespace)
	assert.Equal(t, "stale", published[0].Secret.Name)
	assert.Equal(t, "item-stale", published[0].Secret.ItemID)
	assert.Contains(t, published[0].Reason, "no longer present")
}

func TestCollect_OnlyTrackedNamespacesScanned(t *testing.T) {
	states := &fakeStates{namespaces: nil}
	clusterClient := &fakeCluster{secrets: map[string]*corev1.Secret{
		"untracked/secret": ownedSecret("untracked", "secret"),
	}}
	collector := NewCollector(states, clusterClient, true, nil, logr.Discard())

	result := collector.Collect(context.Background(), nil, nil)

	assert.Empty(t, result.Errors)
	assert.Empty(t, clusterClient.deleted)
}
