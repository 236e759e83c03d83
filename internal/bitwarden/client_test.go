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
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infraerrors "github.com/antoniolago/vaultwarden-kubernetes-secrets/shared/infrastructure/errors"
)

// fakeExecutor returns canned responses per leading subcommand.
type fakeExecutor struct {
	responses map[string]fakeResponse
	calls     [][]string
}

type fakeResponse struct {
	stdout string
	stderr string
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	key := strings.Join(args, " ")
	for prefix, resp := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return []byte(resp.stdout), []byte(resp.stderr), resp.err
		}
	}
	return nil, []byte("no response configured"), errors.New("exit status 1")
}

const unlockedStatus = `{"status":"unlocked","userEmail":"ops@example.com"}`

func TestListItems_FiltersTrashed(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"status": {stdout: unlockedStatus},
		"list items": {stdout: `[
			{"id":"1","name":"db-creds","type":1,"login":{"username":"admin","password":"hunter2"}},
			{"id":"2","name":"old-creds","type":1,"deletedDate":"2026-01-02T03:04:05Z"}
		]`},
	}}
	client := NewCLIClient(CLIClientConfig{Executor: exec})

	items, err := client.ListItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "db-creds", items[0].Name)
	assert.Equal(t, "admin", items[0].Login.Username)
}

func TestListItems_LockedVault(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"status": {stdout: `{"status":"locked"}`},
	}}
	client := NewCLIClient(CLIClientConfig{Executor: exec})

	_, err := client.ListItems(context.Background())
	require.Error(t, err)
	assert.True(t, infraerrors.IsFetchError(err))
	assert.Contains(t, err.Error(), "locked")
}

func TestListItems_CommandFailure(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"status":     {stdout: unlockedStatus},
		"list items": {stderr: "You are not logged in.", err: errors.New("exit status 1")},
	}}
	client := NewCLIClient(CLIClientConfig{Executor: exec})

	_, err := client.ListItems(context.Background())
	require.Error(t, err)
	assert.True(t, infraerrors.IsFetchError(err))
	assert.Contains(t, err.Error(), "not logged in")
}

func TestListItems_MalformedJSON(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"status":     {stdout: unlockedStatus},
		"list items": {stdout: `{"not":"a list"`},
	}}
	client := NewCLIClient(CLIClientConfig{Executor: exec})

	_, err := client.ListItems(context.Background())
	require.Error(t, err)
	assert.True(t, infraerrors.IsFetchError(err))
}

func TestSessionFlagAppended(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"status":     {stdout: unlockedStatus},
		"list items": {stdout: `[]`},
	}}
	client := NewCLIClient(CLIClientConfig{Executor: exec, Session: "tok"})

	_, err := client.ListItems(context.Background())
	require.NoError(t, err)

	for _, call := range exec.calls {
		assert.Contains(t, call, "--session")
		assert.Contains(t, call, "tok")
	}
}

func TestGetItem(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]fakeResponse{
		"get item abc": {stdout: `{"id":"abc","name":"db-creds","type":1,"fields":[{"name":"namespaces","value":"default","type":0}]}`},
	}}
	client := NewCLIClient(CLIClientConfig{Executor: exec})

	item, err := client.GetItem(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", item.ID)

	v, ok := item.CustomField("namespaces")
	assert.True(t, ok)
	assert.Equal(t, "default", v)
}

func TestItem_CustomFieldMissing(t *testing.T) {
	item := Item{Fields: []Field{{Name: "a", Value: "1"}}}
	_, ok := item.CustomField("b")
	assert.False(t, ok)
}
