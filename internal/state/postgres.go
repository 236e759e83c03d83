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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/antoniolago/vaultwarden-kubernetes-secrets/internal/state/migrations"
)

// PostgresStore is the production Store backed by PostgreSQL.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open opens the database and runs pending migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

const secretStateColumns = `namespace, name, item_id, item_name, status, data_keys, fingerprint, last_synced, last_error, delete_reason`

func (r *PostgresStore) Get(ctx context.Context, namespace, name string) (*SecretState, error) {
	query := `SELECT ` + secretStateColumns + ` FROM secret_states WHERE namespace = $1 AND name = $2`

	row := r.db.QueryRowContext(ctx, query, namespace, name)
	s, err := scanSecretState(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return s, nil
}

func (r *PostgresStore) Upsert(ctx context.Context, s *SecretState) error {
	query := `INSERT INTO secret_states (` + secretStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (namespace, name) DO UPDATE SET
			item_id = EXCLUDED.item_id,
			item_name = EXCLUDED.item_name,
			status = EXCLUDED.status,
			data_keys = EXCLUDED.data_keys,
			fingerprint = EXCLUDED.fingerprint,
			last_synced = EXCLUDED.last_synced,
			last_error = EXCLUDED.last_error,
			delete_reason = EXCLUDED.delete_reason`

	_, err := r.db.ExecContext(ctx, query,
		s.Namespace, s.Name, s.ItemID, s.ItemName, string(s.Status),
		s.DataKeys, s.Fingerprint, s.LastSynced, s.LastError, s.DeleteReason)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresStore) MarkDeleted(ctx context.Context, namespace, name, reason string) error {
	query := `UPDATE secret_states SET status = $1, delete_reason = $2 WHERE namespace = $3 AND name = $4`

	res, err := r.db.ExecContext(ctx, query, string(StatusDeleted), reason, namespace, name)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("no state row for %s/%s", namespace, name)
	}
	return nil
}

func (r *PostgresStore) ListActiveNotIn(ctx context.Context, namespace string, keep []string) ([]SecretState, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + secretStateColumns + ` FROM secret_states WHERE namespace = $1 AND status = $2`)

	args := []any{namespace, string(StatusActive)}
	if len(keep) > 0 {
		placeholders := make([]string, len(keep))
		for i, name := range keep {
			args = append(args, name)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		sb.WriteString(` AND name NOT IN (` + strings.Join(placeholders, ", ") + `)`)
	}
	sb.WriteString(` ORDER BY name`)

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var out []SecretState
	for rows.Next() {
		s, err := scanSecretState(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *PostgresStore) ListTrackedNamespaces(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT namespace FROM secret_states WHERE status = $1 ORDER BY namespace`

	rows, err := r.db.QueryContext(ctx, query, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (r *PostgresStore) AppendSyncRun(ctx context.Context, run *SyncRun) error {
	counts, err := json.Marshal(run.Namespaces)
	if err != nil {
		return fmt.Errorf("marshaling namespace counts: %w", err)
	}
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshaling errors: %w", err)
	}

	query := `INSERT INTO sync_runs (id, trigger_kind, started_at, finished_at, outcome, namespace_counts, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, string(run.Trigger), run.StartedAt, run.FinishedAt, string(run.Outcome), counts, errsJSON)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *PostgresStore) Purge(ctx context.Context, namespace, name string) error {
	query := `DELETE FROM secret_states WHERE namespace = $1 AND name = $2`

	if _, err := r.db.ExecContext(ctx, query, namespace, name); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// scanSecretState scans one row in column order.
func scanSecretState(scan func(dest ...any) error) (*SecretState, error) {
	var s SecretState
	var status string
	err := scan(&s.Namespace, &s.Name, &s.ItemID, &s.ItemName, &status,
		&s.DataKeys, &s.Fingerprint, &s.LastSynced, &s.LastError, &s.DeleteReason)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	return &s, nil
}
