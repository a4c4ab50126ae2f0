package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = 1

// Migrate creates (or upgrades) the run schema in-place.
//
// The schema holds the pipeline catalog tables alongside the run tables so a
// single database can back both.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaStatements(dialect) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("run store schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	if current < SchemaVersion {
		if _, err := tx.ExecContext(ctx, Rebind(dialect, `UPDATE schema_meta SET schema_version=? WHERE id=1`), SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

func schemaStatements(dialect Dialect) []string {
	ts := "TIMESTAMP"
	if dialect == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS linked_services (
			linked_service_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			config TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS pipelines (
			pipeline_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron TEXT,
			state TEXT NOT NULL,
			job_id TEXT NOT NULL,
			privacy_level TEXT NOT NULL,
			linked_service_id TEXT,
			parameters TEXT NOT NULL,
			modified_date {{ts}}
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pipelines_state ON pipelines(state);`,

		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			pipeline_id TEXT NOT NULL,
			run_parameters_compressed TEXT NOT NULL,
			run_parameters_hash TEXT NOT NULL,
			state TEXT NOT NULL,
			-- queued_time is nullable so rows written by older tooling still load;
			-- reconciliation reports such rows as errors.
			queued_time {{ts}},
			start_time {{ts}},
			end_time {{ts}},
			estimated_duration BIGINT,
			modified_by TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_pipeline ON pipeline_runs(pipeline_id, queued_time);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_state ON pipeline_runs(state);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_runs_hash ON pipeline_runs(job_id, run_parameters_hash);`,

		`CREATE TABLE IF NOT EXISTS pipeline_run_logs (
			log_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			log_timestamp {{ts}} NOT NULL,
			log_message TEXT NOT NULL,
			-- message_hash keeps the dedupe key bounded for long messages.
			message_hash TEXT NOT NULL,
			UNIQUE (run_id, log_timestamp, message_hash),
			FOREIGN KEY(run_id) REFERENCES pipeline_runs(run_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_run_logs_run ON pipeline_run_logs(run_id, log_timestamp);`,

		`CREATE TABLE IF NOT EXISTS pipeline_run_outputs (
			output_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL CHECK (type IN ('JSON','CSV','XML','BINARY','ERROR')),
			location TEXT NOT NULL,
			size TEXT NOT NULL,
			FOREIGN KEY(run_id) REFERENCES pipeline_runs(run_id)
		);`,
	}

	for i, stmt := range stmts {
		stmts[i] = strings.ReplaceAll(stmt, "{{ts}}", ts)
	}
	return stmts
}
