package es

import "context"

// SnapshotStore is the C4 contract: immutable, upsert-on-write serialized
// aggregate state keyed by (streamId, version, optional name) (spec.md §4.3).
//
// Grounded on the retrieval pack's mickamy-go-event-sourcing EventStore,
// which carries SaveSnapshot/LoadSnapshot as an optional side-channel to its
// Append/Load pair (see DESIGN.md).
type SnapshotStore interface {
	Set(ctx context.Context, snapshot Snapshot) error

	// Get returns the snapshot at exactly (streamId, version, name), or
	// NotFoundError if absent.
	Get(ctx context.Context, streamID string, version int64, name string) (Snapshot, error)

	// Latest returns the highest-version snapshot with version <= maxVersion,
	// used by C5's retrieval policy (spec.md §4.3). Returns NotFoundError if
	// none exists.
	Latest(ctx context.Context, streamID string, maxVersion int64, name string) (Snapshot, error)

	List(ctx context.Context, streamID string) ([]Snapshot, error)

	Delete(ctx context.Context, streamID string, version int64, name string) (bool, error)

	DeleteMany(ctx context.Context, streamID string, versions []int64, name string) (int, error)
}
