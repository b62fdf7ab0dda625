package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// Tags implements es.TagStore against the `tags` table (spec.md §4.2).
type Tags struct {
	pool *pgxpool.Pool
}

// NewTags wires a Tags store over pool.
func NewTags(pool *pgxpool.Pool) *Tags {
	return &Tags{pool: pool}
}

// Add implements es.TagStore (idempotent).
func (t *Tags) Add(ctx context.Context, entry es.TagEntry) error {
	_, err := t.pool.Exec(ctx, `
		INSERT INTO tags (tag_type, object_name, tag, object_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tag_type, object_name, tag, object_id) DO NOTHING`,
		string(entry.TagType), entry.ObjectName, entry.Tag, entry.ObjectID)
	if err != nil {
		return fmt.Errorf("tags.add: %w", err)
	}
	return nil
}

// Remove implements es.TagStore.
func (t *Tags) Remove(ctx context.Context, tagType es.TagType, objectName, tag, objectID string) error {
	_, err := t.pool.Exec(ctx, `
		DELETE FROM tags WHERE tag_type = $1 AND object_name = $2 AND tag = $3 AND object_id = $4`,
		string(tagType), objectName, tag, objectID)
	if err != nil {
		return fmt.Errorf("tags.remove: %w", err)
	}
	return nil
}

// ObjectIDsForTag implements es.TagStore.
func (t *Tags) ObjectIDsForTag(ctx context.Context, tagType es.TagType, objectName, tag string) ([]string, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT object_id FROM tags
		WHERE tag_type = $1 AND object_name = $2 AND tag = $3
		ORDER BY created_at`,
		string(tagType), objectName, tag)
	if err != nil {
		return nil, fmt.Errorf("tags.objectIDsForTag: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tags.objectIDsForTag: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
