package es

import "context"

// DocumentStore is the C2 contract: per-aggregate metadata with a
// CAS-guarded hash chain (spec.md §4.2).
type DocumentStore interface {
	// Create performs get-or-create semantics for a fresh aggregate instance.
	Create(ctx context.Context, objectName, objectID string, store *StreamInfo) (Document, error)

	// Get returns the document, or NotFoundError if absent.
	Get(ctx context.Context, objectName, objectID string) (Document, error)

	// GetFirstByTag resolves tag -> object-ids via TagStore, then returns the
	// first matching document, or NotFoundError if none match.
	GetFirstByTag(ctx context.Context, objectName string, tagType TagType, tag string) (Document, error)

	// GetByTag returns every document matching the tag.
	GetByTag(ctx context.Context, objectName string, tagType TagType, tag string) ([]Document, error)

	// Set persists document with optimistic concurrency: prevHash must match
	// the currently stored hash, else ConcurrencyError. If the backend's
	// UseOptimisticConcurrency option is false, Set performs an unconditional
	// upsert instead.
	Set(ctx context.Context, document *Document, prevHash string) error
}
