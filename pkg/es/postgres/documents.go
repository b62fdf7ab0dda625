package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// Documents implements es.DocumentStore against the `documents` table
// (spec.md §4.2). A distinct type, rather than a method on Store, because
// DocumentStore, SnapshotStore, and StatusStore all declare a Get/Set pair
// with different signatures — one receiver cannot satisfy all three.
type Documents struct {
	pool *pgxpool.Pool
	cfg  Config
	tags *Tags
}

// NewDocuments wires a Documents store sharing pool and cfg with the rest of
// the backend, and tags for tag-indexed lookups.
func NewDocuments(pool *pgxpool.Pool, cfg Config, tags *Tags) *Documents {
	return &Documents{pool: pool, cfg: cfg, tags: tags}
}

// Create implements es.DocumentStore (spec.md §4.2 "get-or-create").
func (d *Documents) Create(ctx context.Context, objectName, objectID string, stream *es.StreamInfo) (es.Document, error) {
	existing, err := d.Get(ctx, objectName, objectID)
	if err == nil {
		return existing, nil
	}
	if !es.IsNotFoundError(err) {
		return es.Document{}, err
	}

	active := es.StreamInfo{CurrentVersion: -1}
	if stream != nil {
		active = *stream
	}

	activeJSON, err := marshalJSON(active)
	if err != nil {
		return es.Document{}, fmt.Errorf("create: marshal active: %w", err)
	}
	terminatedJSON, err := marshalJSON([]es.TerminatedStream{})
	if err != nil {
		return es.Document{}, fmt.Errorf("create: marshal terminated: %w", err)
	}

	_, err = d.pool.Exec(ctx, `
		INSERT INTO documents (object_name, object_id, active, terminated_streams, schema_version, hash, prev_hash)
		VALUES ($1, $2, $3, $4, 1, '', '')
		ON CONFLICT (object_name, object_id) DO NOTHING`,
		objectName, objectID, activeJSON, terminatedJSON)
	if err != nil {
		return es.Document{}, fmt.Errorf("create: %w", err)
	}
	return d.Get(ctx, objectName, objectID)
}

// Get implements es.DocumentStore.
func (d *Documents) Get(ctx context.Context, objectName, objectID string) (es.Document, error) {
	var doc es.Document
	var activeRaw, terminatedRaw []byte
	err := d.pool.QueryRow(ctx, `
		SELECT object_name, object_id, active, terminated_streams, schema_version, hash, prev_hash
		FROM documents WHERE object_name = $1 AND object_id = $2`,
		objectName, objectID).Scan(&doc.ObjectName, &doc.ObjectID, &activeRaw, &terminatedRaw,
		&doc.SchemaVersion, &doc.Hash, &doc.PrevHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return es.Document{}, &es.NotFoundError{
				EventStoreError: es.EventStoreError{Op: "documents.get"},
				Kind:            "document",
				ID:              objectName + "/" + objectID,
			}
		}
		return es.Document{}, fmt.Errorf("documents.get: %w", err)
	}
	if err := unmarshalJSON(activeRaw, &doc.Active); err != nil {
		return es.Document{}, fmt.Errorf("documents.get: unmarshal active: %w", err)
	}
	if err := unmarshalJSON(terminatedRaw, &doc.TerminatedStreams); err != nil {
		return es.Document{}, fmt.Errorf("documents.get: unmarshal terminated: %w", err)
	}
	return doc, nil
}

// GetFirstByTag implements es.DocumentStore by resolving through the tags
// table, then loading the first matching document (spec.md §4.2 "Lookups").
func (d *Documents) GetFirstByTag(ctx context.Context, objectName string, tagType es.TagType, tag string) (es.Document, error) {
	ids, err := d.tags.ObjectIDsForTag(ctx, tagType, objectName, tag)
	if err != nil {
		return es.Document{}, err
	}
	if len(ids) == 0 {
		return es.Document{}, &es.NotFoundError{
			EventStoreError: es.EventStoreError{Op: "documents.getFirstByTag"},
			Kind:            "document",
			ID:              tag,
		}
	}
	return d.Get(ctx, objectName, ids[0])
}

// GetByTag implements es.DocumentStore.
func (d *Documents) GetByTag(ctx context.Context, objectName string, tagType es.TagType, tag string) ([]es.Document, error) {
	ids, err := d.tags.ObjectIDsForTag(ctx, tagType, objectName, tag)
	if err != nil {
		return nil, err
	}
	docs := make([]es.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := d.Get(ctx, objectName, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Set implements es.DocumentStore's CAS-guarded upsert (spec.md §4.2,
// R3 hash-chain optimistic concurrency).
func (d *Documents) Set(ctx context.Context, document *es.Document, prevHash string) error {
	activeJSON, err := marshalJSON(document.Active)
	if err != nil {
		return fmt.Errorf("documents.set: marshal active: %w", err)
	}
	terminatedJSON, err := marshalJSON(document.TerminatedStreams)
	if err != nil {
		return fmt.Errorf("documents.set: marshal terminated: %w", err)
	}

	if !d.cfg.UseOptimisticConcurrency {
		_, err = d.pool.Exec(ctx, `
			INSERT INTO documents (object_name, object_id, active, terminated_streams, schema_version, hash, prev_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (object_name, object_id) DO UPDATE
			SET active = EXCLUDED.active, terminated_streams = EXCLUDED.terminated_streams,
				schema_version = EXCLUDED.schema_version, hash = EXCLUDED.hash, prev_hash = EXCLUDED.prev_hash`,
			document.ObjectName, document.ObjectID, activeJSON, terminatedJSON,
			document.SchemaVersion, document.Hash, document.PrevHash)
		if err != nil {
			return fmt.Errorf("documents.set: %w", err)
		}
		return nil
	}

	// An empty prevHash means either a fresh bare-created document (stored
	// hash == "") or an unconditional first write; either way the CAS
	// predicate is hash = ''.
	tag, err := d.pool.Exec(ctx, `
		UPDATE documents
		SET active = $3, terminated_streams = $4, schema_version = $5, hash = $6, prev_hash = $7
		WHERE object_name = $1 AND object_id = $2 AND hash = $8`,
		document.ObjectName, document.ObjectID, activeJSON, terminatedJSON,
		document.SchemaVersion, document.Hash, document.PrevHash, prevHash)
	if err != nil {
		return fmt.Errorf("documents.set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &es.ConcurrencyError{EventStoreError: es.EventStoreError{Op: "documents.set"}}
	}
	return nil
}
