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

package state

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresStore(db), mock, db
}

func stateColumns() []string {
	return []string{"namespace", "name", "item_id", "item_name", "status",
		"data_keys", "fingerprint", "last_synced", "last_error", "delete_reason"}
}

func TestGet_Found(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	synced := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM secret_states WHERE namespace = \$1 AND name = \$2`).
		WithArgs("default", "db-creds").
		WillReturnRows(sqlmock.NewRows(stateColumns()).
			AddRow("default", "db-creds", "item-1", "DB Creds", "Active", 3, "abc", synced, nil, nil))

	s, err := store.Get(context.Background(), "default", "db-creds")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, "item-1", s.ItemID)
	assert.Equal(t, 3, s.DataKeys)
	assert.Nil(t, s.LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFoundReturnsNil(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM secret_states`).
		WithArgs("default", "missing").
		WillReturnRows(sqlmock.NewRows(stateColumns()))

	s, err := store.Get(context.Background(), "default", "missing")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestUpsert(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	synced := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO secret_states .* ON CONFLICT \(namespace, name\) DO UPDATE SET`).
		WithArgs("default", "db-creds", "item-1", "DB Creds", "Active", 3, "abc", synced, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Upsert(context.Background(), &SecretState{
		Namespace:   "default",
		Name:        "db-creds",
		ItemID:      "item-1",
		ItemName:    "DB Creds",
		Status:      StatusActive,
		DataKeys:    3,
		Fingerprint: "abc",
		LastSynced:  synced,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDeleted(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE secret_states SET status = \$1, delete_reason = \$2`).
		WithArgs("Deleted", "no longer exists in vault", "a", "old-secret").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkDeleted(context.Background(), "a", "old-secret", "no longer exists in vault")
	require.NoError(t, err)
}

func TestMarkDeleted_MissingRow(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE secret_states SET`).
		WithArgs("Deleted", "reason", "a", "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkDeleted(context.Background(), "a", "ghost", "reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a/ghost")
}

func TestListActiveNotIn(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	synced := time.Now().UTC()
	mock.ExpectQuery(`SELECT .* FROM secret_states WHERE namespace = \$1 AND status = \$2 AND name NOT IN \(\$3, \$4\) ORDER BY name`).
		WithArgs("default", "Active", "keep-a", "keep-b").
		WillReturnRows(sqlmock.NewRows(stateColumns()).
			AddRow("default", "orphaned", "item-9", "Old", "Active", 1, "fp", synced, nil, nil))

	rows, err := store.ListActiveNotIn(context.Background(), "default", []string{"keep-a", "keep-b"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "orphaned", rows[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveNotIn_EmptyKeep(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM secret_states WHERE namespace = \$1 AND status = \$2 ORDER BY name`).
		WithArgs("default", "Active").
		WillReturnRows(sqlmock.NewRows(stateColumns()))

	rows, err := store.ListActiveNotIn(context.Background(), "default", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListTrackedNamespaces(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT DISTINCT namespace FROM secret_states WHERE status = \$1`).
		WithArgs("Active").
		WillReturnRows(sqlmock.NewRows([]string{"namespace"}).AddRow("apps").AddRow("default"))

	namespaces, err := store.ListTrackedNamespaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"apps", "default"}, namespaces)
}

func TestAppendSyncRun(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	started := time.Now().UTC().Add(-time.Minute)
	finished := time.Now().UTC()
	mock.ExpectExec(`INSERT INTO sync_runs`).
		WithArgs("run-1", "scheduled", started, finished, "PARTIAL",
			[]byte(`{"default":{"created":1,"updated":0,"skipped":2,"failed":1,"deleted":0}}`),
			[]byte(`["validation error on secretName: invalid secret name"]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.AppendSyncRun(context.Background(), &SyncRun{
		ID:         "run-1",
		Trigger:    TriggerScheduled,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    OutcomePartial,
		Namespaces: map[string]NamespaceCounts{
			"default": {Created: 1, Skipped: 2, Failed: 1},
		},
		Errors: []string{"validation error on secretName: invalid secret name"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurge(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM secret_states WHERE namespace = \$1 AND name = \$2`).
		WithArgs("default", "db-creds").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Purge(context.Background(), "default", "db-creds"))
}
