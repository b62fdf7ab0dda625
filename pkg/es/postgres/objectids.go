package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// ObjectIDs implements es.ObjectIDStore against the `documents` table
// (spec.md §4.10).
type ObjectIDs struct {
	pool *pgxpool.Pool
}

// NewObjectIDs wires an ObjectIDs store over pool.
func NewObjectIDs(pool *pgxpool.Pool) *ObjectIDs {
	return &ObjectIDs{pool: pool}
}

// List implements es.ObjectIDStore via keyset pagination on object_id,
// using the last-seen id as the opaque continuation token (spec.md §4.10
// "Paging is single-partition").
func (s *ObjectIDs) List(ctx context.Context, objectName, continuationToken string, pageSize int) (es.Page, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT object_id FROM documents
		WHERE object_name = $1 AND object_id > $2
		ORDER BY object_id
		LIMIT $3`, objectName, continuationToken, pageSize+1)
	if err != nil {
		return es.Page{}, fmt.Errorf("objectids.list: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return es.Page{}, fmt.Errorf("objectids.list: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return es.Page{}, fmt.Errorf("objectids.list: %w", err)
	}

	next := ""
	if len(ids) > pageSize {
		next = ids[pageSize-1]
		ids = ids[:pageSize]
	}
	return es.Page{ObjectIDs: ids, ContinuationToken: next}, nil
}

// Exists implements es.ObjectIDStore.
func (s *ObjectIDs) Exists(ctx context.Context, objectName, objectID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT FROM documents WHERE object_name = $1 AND object_id = $2)`,
		objectName, objectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("objectids.exists: %w", err)
	}
	return exists, nil
}

// Count implements es.ObjectIDStore.
func (s *ObjectIDs) Count(ctx context.Context, objectName string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM documents WHERE object_name = $1`, objectName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("objectids.count: %w", err)
	}
	return count, nil
}
