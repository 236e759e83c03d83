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

// vw-secrets-sync mirrors Vaultwarden items into Kubernetes secrets. It
// runs an initial sync at startup and then loops on the configured
// interval until signalled to stop.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/bitwarden"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/cluster"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/config"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/coordinator"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/desired"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/directive"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/orphan"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/reconcile"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/state"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/synclock"
	"github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/events"
)

func main() {
	var once bool
	flag.BoolVar(&once, "once", false, "Run a single sync and exit.")
	opts := zap.Options{
		Development: false,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	setupLog := ctrl.Log.WithName("setup")

	cfg, err := config.Load()
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	scheme := runtime.NewScheme()
	if err := corev1.AddToScheme(scheme); err != nil {
		setupLog.Error(err, "unable to build scheme")
		os.Exit(1)
	}
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		setupLog.Error(err, "unable to load kubeconfig")
		os.Exit(1)
	}
	k8sClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		setupLog.Error(err, "unable to create kubernetes client")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	db, err := state.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		setupLog.Error(err, "unable to open state database")
		os.Exit(1)
	}
	defer db.Close()
	store := state.NewPostgresStore(db)

	applier := cluster.NewApplier(cluster.ApplierConfig{
		Client:      k8sClient,
		Log:         ctrl.Log.WithName("applier"),
		CallTimeout: cfg.ClusterCallTimeout,
	})
	source := bitwarden.NewCLIClient(bitwarden.CLIClientConfig{
		Command: cfg.BWCommand,
		Session: cfg.BWSession,
	})

	bus := events.NewEventBus(ctrl.Log.WithName("events"))
	runLog := ctrl.Log.WithName("runs")
	events.Subscribe(bus, func(_ context.Context, e events.RunCompleted) error {
		if len(e.Errors) > 0 {
			runLog.Info("run completed with errors",
				"run", e.RunID, "outcome", e.Outcome, "duration", e.Duration.String(), "errors", len(e.Errors))
			return nil
		}
		runLog.V(1).Info("run completed",
			"run", e.RunID, "outcome", e.Outcome, "duration", e.Duration.String())
		return nil
	})

	coord := coordinator.New(coordinator.Config{
		Source:     source,
		Normalizer: directive.NewNormalizer(cfg.Directives),
		Builder:    desired.NewBuilder(),
		Differ:     reconcile.NewDiffer(store, applier),
		Applier:    applier,
		Collector:  orphan.NewCollector(store, applier, cfg.DeleteOrphans, bus, ctrl.Log.WithName("orphan")),
		Store:      store,
		Lock:       synclock.New(cfg.LockPath),
		Bus:        bus,
		Log:        ctrl.Log.WithName("coordinator"),
	})

	setupLog.Info("starting sync loop",
		"interval", cfg.SyncInterval.String(),
		"deleteOrphans", cfg.DeleteOrphans,
		"once", once)

	runOnce(ctx, coord, state.TriggerManual, setupLog)
	if once {
		return
	}

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			setupLog.Info("shutting down")
			return
		case <-ticker.C:
			runOnce(ctx, coord, state.TriggerScheduled, setupLog)
		}
	}
}

func runOnce(ctx context.Context, coord *coordinator.Coordinator, trigger state.Trigger, log logr.Logger) {
	if ctx.Err() != nil {
		return
	}
	if _, err := coord.Run(ctx, trigger); err != nil {
		log.Error(err, "sync run failed", "trigger", string(trigger))
	}
}
