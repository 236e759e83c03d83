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

// Package cluster performs the actual secret writes against the Kubernetes
// API. Every operation is idempotent from the caller's perspective and
// atomic from the cluster's perspective; transient failures are retried
// with bounded backoff.
package cluster

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/desired"
	infraerrors "github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/infrastructure/errors"
)

// Kubernetes secret conventions produced by the engine. The ownership label
// lets the orphan collector distinguish engine-owned secrets from unrelated
// ones; the annotation traces a secret back to its source vault item.
// Reserved keys always win over directive-supplied metadata.
const (
	LabelManagedBy   = "app.kubernetes.io/managed-by"
	ManagedByValue   = "vaultwarden-secrets-sync"
	AnnotationItemID = "vaultwarden.antoniolago.dev/item-id"
)

// DefaultCallTimeout bounds one Kubernetes API call before the retry path
// triggers.
const DefaultCallTimeout = 10 * time.Second

// defaultBackoff is the bounded retry schedule for transient failures.
var defaultBackoff = wait.Backoff{
	Steps:    4,
	Duration: 250 * time.Millisecond,
	Factor:   2.0,
	Jitter:   0.1,
}

// Applier executes create/patch/delete calls against the cluster.
type Applier struct {
	client      client.Client
	log         logr.Logger
	callTimeout time.Duration
	backoff     wait.Backoff
}

// ApplierConfig contains configuration for the applier.
type ApplierConfig struct {
	Client client.Client
	Log    logr.Logger

	// CallTimeout bounds each individual API call. Defaults to
	// DefaultCallTimeout.
	CallTimeout time.Duration

	// Backoff overrides the retry schedule. Zero value means the default.
	Backoff wait.Backoff
}

// NewApplier creates an Applier.
func NewApplier(cfg ApplierConfig) *Applier {
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}
	backoff := cfg.Backoff
	if backoff.Steps == 0 {
		backoff = defaultBackoff
	}
	return &Applier{
		client:      cfg.Client,
		log:         cfg.Log,
		callTimeout: timeout,
		backoff:     backoff,
	}
}

// Get fetches the live secret for (namespace, name). The second return value
// is false when no live secret exists.
func (a *Applier) Get(ctx context.Context, namespace, name string) (*corev1.Secret, bool, error) {
	var secret corev1.Secret
	err := a.do(ctx, "get", namespace, name, func(callCtx context.Context) error {
		return a.client.Get(callCtx, types.NamespacedName{Namespace: namespace, Name: name}, &secret)
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &secret, true, nil
}

// Create writes a new secret. An already-existing secret is treated as an
// update, not a failure.
func (a *Applier) Create(ctx context.Context, d *desired.Secret) error {
	secret := toSecret(d)
	err := a.do(ctx, "create", d.Namespace, d.Name, func(callCtx context.Context) error {
		return a.client.Create(callCtx, secret.DeepCopy())
	})
	if err != nil && apierrors.IsAlreadyExists(err) {
		return a.Patch(ctx, d)
	}
	return a.classify(err, "create", d.Namespace, d.Name)
}

// Patch overwrites the live secret's payload and metadata with the desired
// state. A missing live secret is created (create-if-missing semantics for
// the update path).
func (a *Applier) Patch(ctx context.Context, d *desired.Secret) error {
	err := a.do(ctx, "patch", d.Namespace, d.Name, func(callCtx context.Context) error {
		var live corev1.Secret
		key := types.NamespacedName{Namespace: d.Namespace, Name: d.Name}
		if err := a.client.Get(callCtx, key, &live); err != nil {
			return err
		}

		updated := live.DeepCopy()
		want := toSecret(d)
		updated.Data = want.Data
		updated.Labels = want.Labels
		updated.Annotations = want.Annotations
		return a.client.Update(callCtx, updated)
	})
	if err != nil && apierrors.IsNotFound(err) {
		createErr := a.do(ctx, "create", d.Namespace, d.Name, func(callCtx context.Context) error {
			return a.client.Create(callCtx, toSecret(d))
		})
		return a.classify(createErr, "create", d.Namespace, d.Name)
	}
	return a.classify(err, "patch", d.Namespace, d.Name)
}

// Delete removes a secret. An already-absent secret is a no-op success.
func (a *Applier) Delete(ctx context.Context, namespace, name string) error {
	err := a.do(ctx, "delete", namespace, name, func(callCtx context.Context) error {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name},
		}
		return a.client.Delete(callCtx, secret)
	})
	if err != nil && apierrors.IsNotFound(err) {
		return nil
	}
	return a.classify(err, "delete", namespace, name)
}

// ListOwned returns the engine-owned secrets in a namespace, selected by the
// ownership label. Unlabeled secrets are never returned.
func (a *Applier) ListOwned(ctx context.Context, namespace string) ([]corev1.Secret, error) {
	var list corev1.SecretList
	err := a.do(ctx, "list", namespace, "", func(callCtx context.Context) error {
		return a.client.List(callCtx, &list,
			client.InNamespace(namespace),
			client.MatchingLabels{LabelManagedBy: ManagedByValue})
	})
	if err != nil {
		return nil, a.classify(err, "list", namespace, "")
	}
	return list.Items, nil
}

// do runs one API call with a per-call timeout, retrying transient failures
// with bounded backoff. The raw API error is returned for the caller to
// classify.
func (a *Applier) do(ctx context.Context, op, namespace, name string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.OnError(a.backoff, isTransientAPIError, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		if attempt > 1 {
			a.log.V(1).Info("retrying cluster operation",
				"operation", op, "namespace", namespace, "secret", name, "attempt", attempt)
		}

		callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

// classify wraps a terminal API error into the engine's error taxonomy.
func (a *Applier) classify(err error, op, namespace, name string) error {
	if err == nil {
		return nil
	}
	if apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err) {
		return infraerrors.NewPermissionError(op, namespace, name, err)
	}
	if isTransientAPIError(err) {
		// Backoff exhausted.
		return infraerrors.NewTransientError(op+" secret "+namespace+"/"+name, err)
	}
	return err
}

// isTransientAPIError reports whether an API error is worth retrying.
// Permission errors are excluded: retrying cannot help without an RBAC fix.
func isTransientAPIError(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err) ||
		apierrors.IsNotFound(err) || apierrors.IsAlreadyExists(err) ||
		apierrors.IsInvalid(err) {
		return false
	}
	return apierrors.IsConflict(err) ||
		apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsUnexpectedServerError(err)
}

// toSecret converts a desired secret into the corev1 object, merging the
// reserved ownership label and source-item annotation over any
// directive-supplied metadata.
func toSecret(d *desired.Secret) *corev1.Secret {
	labels := make(map[string]string, len(d.Labels)+1)
	for k, v := range d.Labels {
		labels[k] = v
	}
	labels[LabelManagedBy] = ManagedByValue

	annotations := make(map[string]string, len(d.Annotations)+1)
	for k, v := range d.Annotations {
		annotations[k] = v
	}
	annotations[AnnotationItemID] = d.ItemID

	data := make(map[string][]byte, len(d.Data))
	for k, v := range d.Data {
		data[k] = append([]byte(nil), v...)
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   d.Namespace,
			Name:        d.Name,
			Labels:      labels,
			Annotations: annotations,
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}
}
