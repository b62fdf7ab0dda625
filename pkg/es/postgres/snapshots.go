package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eriklieben/es-go/pkg/es"
)

// Snapshots implements es.SnapshotStore against the `snapshots` table
// (spec.md §4.3).
type Snapshots struct {
	pool *pgxpool.Pool
}

// NewSnapshots wires a Snapshots store over pool.
func NewSnapshots(pool *pgxpool.Pool) *Snapshots {
	return &Snapshots{pool: pool}
}

// Set implements es.SnapshotStore as an upsert.
func (s *Snapshots) Set(ctx context.Context, snapshot es.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO snapshots (stream_id, version, name, data, data_type, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (stream_id, version, name) DO UPDATE
		SET data = EXCLUDED.data, data_type = EXCLUDED.data_type`,
		snapshot.StreamID, snapshot.Version, snapshot.Name, snapshot.Data, snapshot.DataType)
	if err != nil {
		return fmt.Errorf("snapshots.set: %w", err)
	}
	return nil
}

// Get implements es.SnapshotStore.
func (s *Snapshots) Get(ctx context.Context, streamID string, version int64, name string) (es.Snapshot, error) {
	snap := es.Snapshot{StreamID: streamID, Version: version, Name: name}
	err := s.pool.QueryRow(ctx, `
		SELECT data, data_type, created_at FROM snapshots
		WHERE stream_id = $1 AND version = $2 AND name = $3`,
		streamID, version, name).Scan(&snap.Data, &snap.DataType, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return es.Snapshot{}, &es.NotFoundError{
				EventStoreError: es.EventStoreError{Op: "snapshots.get"},
				Kind:            "snapshot",
				ID:              streamID,
			}
		}
		return es.Snapshot{}, fmt.Errorf("snapshots.get: %w", err)
	}
	return snap, nil
}

// Latest implements es.SnapshotStore (C5's retrieval policy).
func (s *Snapshots) Latest(ctx context.Context, streamID string, maxVersion int64, name string) (es.Snapshot, error) {
	snap := es.Snapshot{StreamID: streamID, Name: name}
	err := s.pool.QueryRow(ctx, `
		SELECT version, data, data_type, created_at FROM snapshots
		WHERE stream_id = $1 AND version <= $2 AND name = $3
		ORDER BY version DESC LIMIT 1`,
		streamID, maxVersion, name).Scan(&snap.Version, &snap.Data, &snap.DataType, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return es.Snapshot{}, &es.NotFoundError{
				EventStoreError: es.EventStoreError{Op: "snapshots.latest"},
				Kind:            "snapshot",
				ID:              streamID,
			}
		}
		return es.Snapshot{}, fmt.Errorf("snapshots.latest: %w", err)
	}
	return snap, nil
}

// List implements es.SnapshotStore.
func (s *Snapshots) List(ctx context.Context, streamID string) ([]es.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT version, name, data, data_type, created_at FROM snapshots
		WHERE stream_id = $1 ORDER BY version`, streamID)
	if err != nil {
		return nil, fmt.Errorf("snapshots.list: %w", err)
	}
	defer rows.Close()

	var out []es.Snapshot
	for rows.Next() {
		snap := es.Snapshot{StreamID: streamID}
		if err := rows.Scan(&snap.Version, &snap.Name, &snap.Data, &snap.DataType, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("snapshots.list: scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Delete implements es.SnapshotStore.
func (s *Snapshots) Delete(ctx context.Context, streamID string, version int64, name string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM snapshots WHERE stream_id = $1 AND version = $2 AND name = $3`,
		streamID, version, name)
	if err != nil {
		return false, fmt.Errorf("snapshots.delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteMany implements es.SnapshotStore.
func (s *Snapshots) DeleteMany(ctx context.Context, streamID string, versions []int64, name string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM snapshots WHERE stream_id = $1 AND version = ANY($2) AND name = $3`,
		streamID, versions, name)
	if err != nil {
		return 0, fmt.Errorf("snapshots.deleteMany: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
