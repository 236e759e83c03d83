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

// Package metrics provides Prometheus metrics for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	// SyncRunsTotal counts completed sync runs by trigger and outcome.
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "run",
			Name:      "total",
			Help:      "Total number of completed sync runs",
		},
		[]string{"trigger", "outcome"},
	)

	// SyncRunDurationSeconds observes the wall time of completed sync runs.
	SyncRunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of completed sync runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"trigger"},
	)

	// LockContentionTotal counts triggers skipped because a run was already
	// in progress.
	LockContentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "run",
			Name:      "lock_contention_total",
			Help:      "Total number of sync triggers skipped due to a run in progress",
		},
	)

	// SecretOperationsTotal counts per-secret operations by namespace and kind.
	SecretOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "secret",
			Name:      "operations_total",
			Help:      "Total number of secret operations (create, update, skip, delete)",
		},
		[]string{"namespace", "operation"},
	)

	// SecretFailuresTotal counts per-secret sync failures.
	SecretFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "secret",
			Name:      "failures_total",
			Help:      "Total number of per-secret sync failures",
		},
		[]string{"namespace", "reason"},
	)

	// TrackedSecretsGauge tracks the number of actively managed secrets.
	TrackedSecretsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "secret",
			Name:      "tracked",
			Help:      "Number of actively tracked secrets per namespace",
		},
		[]string{"namespace"},
	)

	// OrphansDeletedTotal counts orphaned secrets removed.
	OrphansDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "orphan",
			Name:      "deleted_total",
			Help:      "Total number of orphaned secrets deleted",
		},
		[]string{"namespace"},
	)

	// VaultItemsGauge tracks the number of syncable items seen in the last
	// full fetch.
	VaultItemsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "vault",
			Name:      "items",
			Help:      "Number of syncable vault items in the last full fetch",
		},
	)

	// VaultFetchTotal counts vault fetches by result.
	VaultFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultwarden_secrets_sync",
			Subsystem: "vault",
			Name:      "fetch_total",
			Help:      "Total number of vault fetch attempts",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics with the controller-runtime metrics registry
	metrics.Registry.MustRegister(
		SyncRunsTotal,
		SyncRunDurationSeconds,
		LockContentionTotal,
		SecretOperationsTotal,
		SecretFailuresTotal,
		TrackedSecretsGauge,
		OrphansDeletedTotal,
		VaultItemsGauge,
		VaultFetchTotal,
	)
}

// ObserveRun records a completed sync run.
func ObserveRun(trigger, outcome string, seconds float64) {
	SyncRunsTotal.WithLabelValues(trigger, outcome).Inc()
	SyncRunDurationSeconds.WithLabelValues(trigger).Observe(seconds)
}

// IncrementLockContention records a skipped trigger.
func IncrementLockContention() {
	LockContentionTotal.Inc()
}

// IncrementSecretOperation records one secret operation.
func IncrementSecretOperation(namespace, operation string) {
	SecretOperationsTotal.WithLabelValues(namespace, operation).Inc()
}

// IncrementSecretFailure records a per-secret failure.
func IncrementSecretFailure(namespace, reason string) {
	SecretFailuresTotal.WithLabelValues(namespace, reason).Inc()
}

// SetTrackedSecrets sets the tracked secret count for a namespace.
func SetTrackedSecrets(namespace string, count int) {
	TrackedSecretsGauge.WithLabelValues(namespace).Set(float64(count))
}

// IncrementOrphansDeleted records removed orphans.
func IncrementOrphansDeleted(namespace string, count int) {
	OrphansDeletedTotal.WithLabelValues(namespace).Add(float64(count))
}

// SetVaultItems sets the syncable item count.
func SetVaultItems(count int) {
	VaultItemsGauge.Set(float64(count))
}

// IncrementVaultFetch records a vault fetch attempt.
func IncrementVaultFetch(success bool) {
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	VaultFetchTotal.WithLabelValues(result).Inc()
}
