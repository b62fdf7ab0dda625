package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// ProjectionRecords implements es.ProjectionRecordStore against the
// `projection_records` table (spec.md §6 "Projection record").
type ProjectionRecords struct {
	pool *pgxpool.Pool
}

// NewProjectionRecords wires a ProjectionRecords store over pool.
func NewProjectionRecords(pool *pgxpool.Pool) *ProjectionRecords {
	return &ProjectionRecords{pool: pool}
}

// Get implements es.ProjectionRecordStore.
func (r *ProjectionRecords) Get(ctx context.Context, projectionName, blobName string) ([]byte, time.Time, error) {
	var data []byte
	var lastModified time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT data, last_modified FROM projection_records
		WHERE projection_name = $1 AND blob_name = $2`,
		projectionName, blobName).Scan(&data, &lastModified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, &es.NotFoundError{
				EventStoreError: es.EventStoreError{Op: "projections.get"},
				Kind:            "projectionRecord",
				ID:              projectionName + "/" + blobName,
			}
		}
		return nil, time.Time{}, fmt.Errorf("projections.get: %w", err)
	}
	return data, lastModified, nil
}

// Set implements es.ProjectionRecordStore.
func (r *ProjectionRecords) Set(ctx context.Context, projectionName, blobName string, data []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO projection_records (projection_name, blob_name, data, last_modified)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (projection_name, blob_name) DO UPDATE
		SET data = EXCLUDED.data, last_modified = EXCLUDED.last_modified`,
		projectionName, blobName, data)
	if err != nil {
		return fmt.Errorf("projections.set: %w", err)
	}
	return nil
}

// Exists implements es.ProjectionRecordStore.
func (r *ProjectionRecords) Exists(ctx context.Context, projectionName, blobName string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT FROM projection_records WHERE projection_name = $1 AND blob_name = $2)`,
		projectionName, blobName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("projections.exists: %w", err)
	}
	return exists, nil
}

// Delete implements es.ProjectionRecordStore.
func (r *ProjectionRecords) Delete(ctx context.Context, projectionName, blobName string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM projection_records WHERE projection_name = $1 AND blob_name = $2`,
		projectionName, blobName)
	if err != nil {
		return false, fmt.Errorf("projections.delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExternalCheckpoints implements es.ExternalCheckpointStore against the
// `projection_checkpoints` table, which is written-once per fingerprint
// (spec.md §4.6).
type ExternalCheckpoints struct {
	pool *pgxpool.Pool
}

// NewExternalCheckpoints wires an ExternalCheckpoints store over pool.
func NewExternalCheckpoints(pool *pgxpool.Pool) *ExternalCheckpoints {
	return &ExternalCheckpoints{pool: pool}
}

// Get implements es.ExternalCheckpointStore.
func (c *ExternalCheckpoints) Get(ctx context.Context, projectionName, fingerprint string) ([]byte, error) {
	var data []byte
	err := c.pool.QueryRow(ctx, `
		SELECT data FROM projection_checkpoints WHERE projection_name = $1 AND fingerprint = $2`,
		projectionName, fingerprint).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &es.NotFoundError{
				EventStoreError: es.EventStoreError{Op: "checkpoints.get"},
				Kind:            "checkpoint",
				ID:              projectionName + "/" + fingerprint,
			}
		}
		return nil, fmt.Errorf("checkpoints.get: %w", err)
	}
	return data, nil
}

// Set implements es.ExternalCheckpointStore: immutable, a no-op if
// fingerprint already exists (spec.md §4.6 "writing an existing fingerprint
// is a no-op").
func (c *ExternalCheckpoints) Set(ctx context.Context, projectionName, fingerprint string, data []byte) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO projection_checkpoints (projection_name, fingerprint, data, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (projection_name, fingerprint) DO NOTHING`,
		projectionName, fingerprint, data)
	if err != nil {
		return fmt.Errorf("checkpoints.set: %w", err)
	}
	return nil
}

// Sink implements es.DocumentSink against the `sink_documents` table: the
// immutable append-only landing zone for documents a multi-document
// projection emits (spec.md C8 variant).
type Sink struct {
	pool *pgxpool.Pool
}

// NewSink wires a Sink over pool.
func NewSink(pool *pgxpool.Pool) *Sink {
	return &Sink{pool: pool}
}

// Append implements es.DocumentSink.
func (k *Sink) Append(ctx context.Context, projectionName string, docs []es.EmittedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := k.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sink.append: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, doc := range docs {
		data, err := marshalJSON(doc.Data)
		if err != nil {
			return fmt.Errorf("sink.append: marshal %s: %w", doc.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO sink_documents (projection_name, doc_id, data, created_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (projection_name, doc_id) DO NOTHING`,
			projectionName, doc.ID, data)
		if err != nil {
			return fmt.Errorf("sink.append: insert %s: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sink.append: commit: %w", err)
	}
	return nil
}
