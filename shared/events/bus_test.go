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

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := NewEventBus(logr.Discard())

	var got RunCompleted
	Subscribe(bus, func(_ context.Context, e RunCompleted) error {
		got = e
		return nil
	})

	event := NewRunCompleted("run-1", "scheduled", "SUCCESS", 2*time.Second, nil)
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got.RunID != "run-1" {
		t.Errorf("handler got run %q, want run-1", got.RunID)
	}
	if got.Outcome != "SUCCESS" {
		t.Errorf("handler got outcome %q, want SUCCESS", got.Outcome)
	}
}

func TestPublishMultipleHandlers(t *testing.T) {
	bus := NewEventBus(logr.Discard())

	calls := 0
	for i := 0; i < 3; i++ {
		Subscribe(bus, func(_ context.Context, _ SecretSynced) error {
			calls++
			return nil
		})
	}

	ref := SecretRef{Namespace: "default", Name: "db-creds", ItemID: "item-1"}
	if err := bus.Publish(context.Background(), NewSecretSynced(ref, "create")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if calls != 3 {
		t.Errorf("expected 3 handler calls, got %d", calls)
	}
}

func TestPublishContinuesAfterHandlerError(t *testing.T) {
	bus := NewEventBus(logr.Discard())

	handlerErr := errors.New("handler blew up")
	Subscribe(bus, func(_ context.Context, _ OrphanDeleted) error {
		return handlerErr
	})

	secondCalled := false
	Subscribe(bus, func(_ context.Context, _ OrphanDeleted) error {
		secondCalled = true
		return nil
	})

	ref := SecretRef{Namespace: "default", Name: "stale"}
	err := bus.Publish(context.Background(), NewOrphanDeleted(ref, "source item no longer present"))

	if !errors.Is(err, handlerErr) {
		t.Errorf("Publish() error = %v, want %v", err, handlerErr)
	}
	if !secondCalled {
		t.Error("second handler was not called after first handler error")
	}
}

func TestPublishWithoutHandlersIsNoop(t *testing.T) {
	bus := NewEventBus(logr.Discard())

	if err := bus.Publish(context.Background(), NewRunCompleted("run-1", "manual", "FAILED", 0, nil)); err != nil {
		t.Errorf("Publish() without handlers error = %v", err)
	}
}

func TestUnsubscribeRemovesHandlers(t *testing.T) {
	bus := NewEventBus(logr.Discard())

	called := false
	Subscribe(bus, func(_ context.Context, _ RunCompleted) error {
		called = true
		return nil
	})

	bus.Unsubscribe(RunCompletedType)

	if err := bus.Publish(context.Background(), NewRunCompleted("run-1", "manual", "SUCCESS", 0, nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if called {
		t.Error("handler called after Unsubscribe")
	}
}

func TestHandlersAreTypeScoped(t *testing.T) {
	bus := NewEventBus(logr.Discard())

	runCalls := 0
	Subscribe(bus, func(_ context.Context, _ RunCompleted) error {
		runCalls++
		return nil
	})

	ref := SecretRef{Namespace: "default", Name: "db-creds"}
	if err := bus.Publish(context.Background(), NewSecretSynced(ref, "update")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if runCalls != 0 {
		t.Errorf("RunCompleted handler fired for SecretSynced event %d times", runCalls)
	}
}
