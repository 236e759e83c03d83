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

package bitwarden

import (
	"context"
	"encoding/json"
	"fmt"

	infraerrors "github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/infrastructure/errors"
)

// ItemSource is the reconciler's only view of the vault. Implementations
// return fresh snapshots; results are never cached across runs.
type ItemSource interface {
	// ListItems returns all non-trashed items in the vault.
	ListItems(ctx context.Context) ([]Item, error)

	// GetItem returns a single item by id.
	GetItem(ctx context.Context, id string) (*Item, error)
}

// CLIClient is an ItemSource backed by the Bitwarden-compatible CLI.
type CLIClient struct {
	command  string
	session  string
	executor CommandExecutor
}

// CLIClientConfig contains configuration for the CLI client.
type CLIClientConfig struct {
	// Command is the CLI binary to invoke. Defaults to "bw".
	Command string

	// Session is the session token passed via --session. May be empty when
	// the CLI is already unlocked.
	Session string

	// Executor runs the CLI. Defaults to the real executor.
	Executor CommandExecutor
}

// NewCLIClient creates a CLI-backed item source.
func NewCLIClient(cfg CLIClientConfig) *CLIClient {
	command := cfg.Command
	if command == "" {
		command = "bw"
	}
	executor := cfg.Executor
	if executor == nil {
		executor = DefaultExecutor()
	}
	return &CLIClient{
		command:  command,
		session:  cfg.Session,
		executor: executor,
	}
}

// ListItems fetches every vault item via 'bw list items'. Trashed items are
// filtered out. Any failure is wrapped as a FetchError, which is fatal for
// the calling run.
func (c *CLIClient) ListItems(ctx context.Context) ([]Item, error) {
	if err := c.checkStatus(ctx); err != nil {
		return nil, err
	}

	out, stderr, err := c.executor.Execute(ctx, c.command, c.args("list", "items")...)
	if err != nil {
		return nil, infraerrors.NewFetchError(c.command+" list items",
			fmt.Errorf("%w: %s", err, string(stderr)))
	}

	var items []Item
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, infraerrors.NewFetchError(c.command+" list items",
			fmt.Errorf("parsing item list: %w", err))
	}

	live := items[:0]
	for _, item := range items {
		if !item.Trashed() {
			live = append(live, item)
		}
	}
	return live, nil
}

// GetItem fetches a single vault item via 'bw get item'.
func (c *CLIClient) GetItem(ctx context.Context, id string) (*Item, error) {
	out, stderr, err := c.executor.Execute(ctx, c.command, c.args("get", "item", id)...)
	if err != nil {
		return nil, infraerrors.NewFetchError(c.command+" get item",
			fmt.Errorf("%w: %s", err, string(stderr)))
	}

	var item Item
	if err := json.Unmarshal(out, &item); err != nil {
		return nil, infraerrors.NewFetchError(c.command+" get item",
			fmt.Errorf("parsing item: %w", err))
	}
	return &item, nil
}

// checkStatus verifies the CLI is authenticated and unlocked before a fetch.
// A locked or unauthenticated vault is a fetch failure, not a crash.
func (c *CLIClient) checkStatus(ctx context.Context) error {
	out, stderr, err := c.executor.Execute(ctx, c.command, c.args("status")...)
	if err != nil {
		return infraerrors.NewFetchError(c.command+" status",
			fmt.Errorf("%w: %s", err, string(stderr)))
	}

	var status Status
	if err := json.Unmarshal(out, &status); err != nil {
		return infraerrors.NewFetchError(c.command+" status",
			fmt.Errorf("parsing status: %w", err))
	}

	switch status.Status {
	case "unlocked":
		return nil
	case "locked":
		return infraerrors.NewFetchError(c.command+" status",
			fmt.Errorf("vault is locked; unlock it and provide a session token"))
	case "unauthenticated":
		return infraerrors.NewFetchError(c.command+" status",
			fmt.Errorf("not logged in to the vault"))
	default:
		return infraerrors.NewFetchError(c.command+" status",
			fmt.Errorf("unknown vault status %q", status.Status))
	}
}

// args appends the session flag when a session token is configured.
func (c *CLIClient) args(base ...string) []string {
	if c.session == "" {
		return base
	}
	return append(base, "--session", c.session)
}
