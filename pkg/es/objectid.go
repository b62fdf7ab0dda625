package es

import "context"

// Page is one page of object-id enumeration (spec.md §4.10 component C11).
type Page struct {
	ObjectIDs         []string
	ContinuationToken string // empty when there is no further page
}

// ObjectIDStore backs C11: paged enumeration, existence, and count over
// documents of one objectName. Partition key is objectName (spec.md §4.10
// "Paging is single-partition").
type ObjectIDStore interface {
	// List returns up to pageSize object ids, starting after continuationToken
	// (empty token means "from the start"). Tokens are provider-opaque.
	List(ctx context.Context, objectName string, continuationToken string, pageSize int) (Page, error)
	Exists(ctx context.Context, objectName, objectID string) (bool, error)
	Count(ctx context.Context, objectName string) (int64, error)
}

// ObjectIDProvider is the thin C11 facade over an ObjectIDStore, applying the
// default page size configured for the engine.
type ObjectIDProvider struct {
	Store           ObjectIDStore
	DefaultPageSize int
}

// NewObjectIDProvider wires a provider with a default page size (falls back
// to 100, matching §6's streamingPageSize default).
func NewObjectIDProvider(store ObjectIDStore, defaultPageSize int) *ObjectIDProvider {
	if defaultPageSize <= 0 {
		defaultPageSize = 100
	}
	return &ObjectIDProvider{Store: store, DefaultPageSize: defaultPageSize}
}

// List enumerates one page of object ids. pageSize <= 0 uses the provider's
// default.
func (p *ObjectIDProvider) List(ctx context.Context, objectName, continuationToken string, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = p.DefaultPageSize
	}
	return p.Store.List(ctx, objectName, continuationToken, pageSize)
}

// Exists is a point read: does objectName/objectID have a document.
func (p *ObjectIDProvider) Exists(ctx context.Context, objectName, objectID string) (bool, error) {
	return p.Store.Exists(ctx, objectName, objectID)
}

// Count is an aggregation query over every document of objectName.
func (p *ObjectIDProvider) Count(ctx context.Context, objectName string) (int64, error) {
	return p.Store.Count(ctx, objectName)
}
