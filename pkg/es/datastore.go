package es

import "context"

// ReadOptions configures a C1 read (spec.md §4.1).
type ReadOptions struct {
	UntilVersion *int64 // inclusive upper bound; nil = unbounded
	Chunk        *int   // chunk selector; the postgres Read does not filter on it
	PageSize     int    // page size for ReadAsStream; 0 = backend default
}

// DataStore is the C1 contract: append/read events of one stream.
type DataStore interface {
	// Append appends events in order, assigning dense versions starting at
	// document.Active.CurrentVersion+1. Fails with StreamClosedError if the
	// stream already bears a close sentinel, with ConcurrencyError if a
	// version collides with a concurrent writer.
	Append(ctx context.Context, document Document, preserveTimestamp bool, events []InputEvent) error

	// Read returns events with startVersion <= version <= untilVersion
	// (inclusive), ordered by version. Returns (nil, nil) if the stream does
	// not exist. Close sentinels are excluded from the result.
	Read(ctx context.Context, document Document, startVersion int64, options *ReadOptions) ([]Event, error)

	// ReadAsStream is the incremental, paged counterpart of Read.
	ReadAsStream(ctx context.Context, document Document, startVersion int64, options *ReadOptions) (EventIterator, error)

	// Closed reports whether the stream already bears a close sentinel,
	// returning it if so (spec.md §4.1 "consumers that must observe closure
	// read with a separate predicate").
	Closed(ctx context.Context, document Document) (bool, *Event, error)

	// RemoveEventsForFailedCommit best-effort, idempotently deletes a
	// contiguous version range left behind by a partially-committed
	// multi-batch append (spec.md §4.1 algorithm step 5, §4.4 commit c).
	// Returns the count of rows actually removed; missing rows count as
	// already-removed.
	RemoveEventsForFailedCommit(ctx context.Context, document Document, fromVersion, toVersion int64) (int, error)
}

// EventIterator is the incremental, cancellation-aware counterpart of a bulk
// Read (spec.md §9 "Streaming reads should yield one event at a time").
type EventIterator interface {
	Next(ctx context.Context) bool
	Event() Event
	Err() error
	Close() error
}

// ChunkClosedObserver is the callback shape for a chunk-boundary transition.
// Nothing in this repository invokes it, whatever StreamInfo.ChunkSize is.
type ChunkClosedObserver func(document Document, closedChunkIndex int)
