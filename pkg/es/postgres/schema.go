package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// ddlStatements are applied, in order, by New when AutoCreateContainers is
// enabled, all before New returns. Grounded on the teacher's flat single-table
// schema (pkg/dcb/postgres/store.go), generalized to this package's wider
// record set.
var ddlStatements = []string{
	`CREATE TABLE IF NOT EXISTS events (
		stream_id text NOT NULL,
		version bigint NOT NULL,
		event_type text NOT NULL,
		schema_version int NOT NULL,
		payload jsonb NOT NULL,
		occurred_at timestamptz NOT NULL,
		correlation_id text NOT NULL DEFAULT '',
		causation_id text NOT NULL DEFAULT '',
		external_sequencer text NOT NULL DEFAULT '',
		ttl_seconds bigint,
		PRIMARY KEY (stream_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS documents (
		object_name text NOT NULL,
		object_id text NOT NULL,
		active jsonb NOT NULL,
		terminated_streams jsonb NOT NULL DEFAULT '[]',
		schema_version int NOT NULL DEFAULT 1,
		hash text NOT NULL DEFAULT '',
		prev_hash text NOT NULL DEFAULT '',
		PRIMARY KEY (object_name, object_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		tag_type text NOT NULL,
		object_name text NOT NULL,
		tag text NOT NULL,
		object_id text NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (tag_type, object_name, tag, object_id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		stream_id text NOT NULL,
		version bigint NOT NULL,
		name text NOT NULL DEFAULT '',
		data jsonb NOT NULL,
		data_type text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (stream_id, version, name)
	)`,
	`CREATE TABLE IF NOT EXISTS projection_status (
		projection_name text NOT NULL,
		object_id text NOT NULL,
		status int NOT NULL,
		status_changed_at timestamptz NOT NULL,
		schema_version int NOT NULL DEFAULT 1,
		rebuild_token jsonb,
		rebuild_info jsonb,
		etag text NOT NULL DEFAULT '',
		PRIMARY KEY (projection_name, object_id)
	)`,
	`CREATE TABLE IF NOT EXISTS projection_records (
		projection_name text NOT NULL,
		blob_name text NOT NULL,
		data jsonb NOT NULL,
		last_modified timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (projection_name, blob_name)
	)`,
	`CREATE TABLE IF NOT EXISTS projection_checkpoints (
		projection_name text NOT NULL,
		fingerprint text NOT NULL,
		data jsonb NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (projection_name, fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS sink_documents (
		projection_name text NOT NULL,
		doc_id text NOT NULL,
		data jsonb NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (projection_name, doc_id)
	)`,
}

var requiredTables = []string{
	"events", "documents", "tags", "snapshots",
	"projection_status", "projection_records", "projection_checkpoints", "sink_documents",
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range ddlStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensureSchema: %w", err)
		}
	}
	return nil
}

// validateTablesExist checks every required table is present, used when
// AutoCreateContainers is false (spec.md §6 "otherwise require
// pre-provisioned"). Grounded on the teacher's validateTableExists
// (pkg/dcb/db_validation.go), generalized from one table to the full set.
func validateTablesExist(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range requiredTables {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables WHERE table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("validateTablesExist: %w", err)
		}
		if !exists {
			return &es.ContainerNotFoundError{
				EventStoreError: es.EventStoreError{Op: "validateTablesExist", Err: fmt.Errorf("table %q does not exist", table)},
				Container:       table,
			}
		}
	}
	return nil
}
