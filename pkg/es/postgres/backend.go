package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend bundles every backend contract implementation against one pool,
// so a caller doesn't have to wire C1-C9/C11 by hand (spec.md §6 "A single
// Postgres database backs every component").
type Backend struct {
	Data                *Store
	Documents           *Documents
	Tags                *Tags
	Snapshots           *Snapshots
	Statuses            *Statuses
	ObjectIDs           *ObjectIDs
	ProjectionRecords   *ProjectionRecords
	ExternalCheckpoints *ExternalCheckpoints
	Sink                *Sink
}

// NewBackend opens every component against pool, creating or validating the
// schema per cfg.AutoCreateContainers.
func NewBackend(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*Backend, error) {
	data, err := New(ctx, pool, cfg)
	if err != nil {
		return nil, err
	}
	tags := NewTags(pool)
	return &Backend{
		Data:                data,
		Documents:           NewDocuments(pool, cfg, tags),
		Tags:                tags,
		Snapshots:           NewSnapshots(pool),
		Statuses:            NewStatuses(pool),
		ObjectIDs:           NewObjectIDs(pool),
		ProjectionRecords:   NewProjectionRecords(pool),
		ExternalCheckpoints: NewExternalCheckpoints(pool),
		Sink:                NewSink(pool),
	}, nil
}
