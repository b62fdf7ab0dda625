package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// Statuses implements es.StatusStore against the `projection_status` table
// (spec.md §4.8), CAS-guarded by an etag column.
type Statuses struct {
	pool *pgxpool.Pool
}

// NewStatuses wires a Statuses store over pool.
func NewStatuses(pool *pgxpool.Pool) *Statuses {
	return &Statuses{pool: pool}
}

// Get implements es.StatusStore.
func (s *Statuses) Get(ctx context.Context, projectionName, objectID string) (es.ProjectionStatus, error) {
	var status es.ProjectionStatus
	var tokenRaw, infoRaw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT projection_name, object_id, status, status_changed_at, schema_version, rebuild_token, rebuild_info, etag
		FROM projection_status WHERE projection_name = $1 AND object_id = $2`,
		projectionName, objectID).Scan(&status.ProjectionName, &status.ObjectID, &status.Status,
		&status.StatusChangedAt, &status.SchemaVersion, &tokenRaw, &infoRaw, &status.ETag)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return es.ProjectionStatus{}, &es.NotFoundError{
				EventStoreError: es.EventStoreError{Op: "status.get"},
				Kind:            "projectionStatus",
				ID:              projectionName + "/" + objectID,
			}
		}
		return es.ProjectionStatus{}, fmt.Errorf("status.get: %w", err)
	}
	if len(tokenRaw) > 0 {
		var token es.RebuildToken
		if err := unmarshalJSON(tokenRaw, &token); err != nil {
			return es.ProjectionStatus{}, fmt.Errorf("status.get: unmarshal token: %w", err)
		}
		status.RebuildToken = &token
	}
	if len(infoRaw) > 0 {
		var info es.RebuildInfo
		if err := unmarshalJSON(infoRaw, &info); err != nil {
			return es.ProjectionStatus{}, fmt.Errorf("status.get: unmarshal info: %w", err)
		}
		status.RebuildInfo = &info
	}
	return status, nil
}

// Set implements es.StatusStore's CAS-guarded upsert, keyed on ETag (spec.md
// §4.8 "an empty ETag means create, must not already exist").
func (s *Statuses) Set(ctx context.Context, status es.ProjectionStatus) error {
	var tokenJSON, infoJSON []byte
	var err error
	if status.RebuildToken != nil {
		if tokenJSON, err = marshalJSON(status.RebuildToken); err != nil {
			return fmt.Errorf("status.set: marshal token: %w", err)
		}
	}
	if status.RebuildInfo != nil {
		if infoJSON, err = marshalJSON(status.RebuildInfo); err != nil {
			return fmt.Errorf("status.set: marshal info: %w", err)
		}
	}
	newETag := uuid.NewString()

	if status.ETag == "" {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO projection_status (projection_name, object_id, status, status_changed_at, schema_version, rebuild_token, rebuild_info, etag)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (projection_name, object_id) DO NOTHING`,
			status.ProjectionName, status.ObjectID, int(status.Status), status.StatusChangedAt,
			status.SchemaVersion, tokenJSON, infoJSON, newETag)
		if err != nil {
			return fmt.Errorf("status.set: %w", err)
		}
		// Distinguish "row already existed" from "row inserted" so a
		// create-only Set fails CAS instead of silently no-opping.
		existing, getErr := s.Get(ctx, status.ProjectionName, status.ObjectID)
		if getErr == nil && existing.ETag != newETag {
			return &es.ConcurrencyError{EventStoreError: es.EventStoreError{Op: "status.set"}}
		}
		return nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE projection_status
		SET status = $3, status_changed_at = $4, schema_version = $5, rebuild_token = $6, rebuild_info = $7, etag = $8
		WHERE projection_name = $1 AND object_id = $2 AND etag = $9`,
		status.ProjectionName, status.ObjectID, int(status.Status), status.StatusChangedAt,
		status.SchemaVersion, tokenJSON, infoJSON, newETag, status.ETag)
	if err != nil {
		return fmt.Errorf("status.set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &es.ConcurrencyError{EventStoreError: es.EventStoreError{Op: "status.set"}}
	}
	return nil
}

// GetByStatus implements es.StatusStore.
func (s *Statuses) GetByStatus(ctx context.Context, projectionName string, kind es.ProjectionStatusKind) ([]es.ProjectionStatus, error) {
	return s.queryStatuses(ctx, `
		SELECT projection_name, object_id, status, status_changed_at, schema_version, rebuild_token, rebuild_info, etag
		FROM projection_status WHERE projection_name = $1 AND status = $2`,
		projectionName, int(kind))
}

// ListRebuilding implements es.StatusStore, feeding recoverStuckRebuilds.
func (s *Statuses) ListRebuilding(ctx context.Context, projectionName string) ([]es.ProjectionStatus, error) {
	return s.queryStatuses(ctx, `
		SELECT projection_name, object_id, status, status_changed_at, schema_version, rebuild_token, rebuild_info, etag
		FROM projection_status WHERE projection_name = $1 AND status IN ($2, $3)`,
		projectionName, int(es.StatusRebuilding), int(es.StatusCatchingUp))
}

func (s *Statuses) queryStatuses(ctx context.Context, query string, args ...any) ([]es.ProjectionStatus, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("status.query: %w", err)
	}
	defer rows.Close()

	var out []es.ProjectionStatus
	for rows.Next() {
		var status es.ProjectionStatus
		var tokenRaw, infoRaw []byte
		if err := rows.Scan(&status.ProjectionName, &status.ObjectID, &status.Status, &status.StatusChangedAt,
			&status.SchemaVersion, &tokenRaw, &infoRaw, &status.ETag); err != nil {
			return nil, fmt.Errorf("status.query: scan: %w", err)
		}
		if len(tokenRaw) > 0 {
			var token es.RebuildToken
			if err := unmarshalJSON(tokenRaw, &token); err != nil {
				return nil, fmt.Errorf("status.query: unmarshal token: %w", err)
			}
			status.RebuildToken = &token
		}
		if len(infoRaw) > 0 {
			var info es.RebuildInfo
			if err := unmarshalJSON(infoRaw, &info); err != nil {
				return nil, fmt.Errorf("status.query: unmarshal info: %w", err)
			}
			status.RebuildInfo = &info
		}
		out = append(out, status)
	}
	return out, rows.Err()
}
