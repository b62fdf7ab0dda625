package es

import "context"

// TagStore is the C3 contract: a many-to-many tag -> object-id index,
// partitioned by (objectName, tag) for single-partition lookup (spec.md
// §3 Tag entry, §4.2 Lookups).
type TagStore interface {
	// Add records a (tagType, objectName, tag, objectId) entry. Idempotent:
	// adding an entry that already exists is a no-op.
	Add(ctx context.Context, entry TagEntry) error

	// Remove deletes a tag entry if present; absent entries are not an error.
	Remove(ctx context.Context, tagType TagType, objectName, tag, objectID string) error

	// ObjectIDsForTag returns every objectId tagged with tag under objectName.
	ObjectIDsForTag(ctx context.Context, tagType TagType, objectName, tag string) ([]string, error)
}
