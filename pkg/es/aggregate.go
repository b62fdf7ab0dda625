package es

import (
	"context"
	"fmt"
)

// SnapshotPolicy controls C5 commit-step (g): when a snapshot is written
// during commit. A single configurable "every N commits" policy, as spec.md
// §9 instructs ("adopt a single configurable policy and surface it
// explicitly").
type SnapshotPolicy struct {
	// EveryNCommits, if > 0, triggers a snapshot every N successful commits.
	EveryNCommits int
}

// shouldSnapshot reports whether commitCount (the number of commits made to
// this stream so far, including the current one) should trigger a snapshot.
func (p SnapshotPolicy) shouldSnapshot(commitCount int64) bool {
	return p.EveryNCommits > 0 && commitCount%int64(p.EveryNCommits) == 0
}

// SnapshotCodec captures and restores an aggregate's closure-captured fold
// state around a snapshot boundary. Capture runs during commit's snapshot-
// cadence step (C5 step g) and its output becomes Snapshot.Data; Restore
// runs at the start of Fold when an eligible snapshot exists, before any
// tail events replay (spec.md §4.4 Fold, round-trip law R2). An AggregateType
// that never registers one skips the snapshot shortcut entirely and always
// folds from version 0, since applying half of a restore would be worse
// than not attempting it.
type SnapshotCodec struct {
	Capture func() ([]byte, error)
	Restore func(data []byte) error
}

// AggregateType declares one aggregate kind: its objectName, its reducer
// dispatch table (C6), and its snapshot/schema wiring. Aggregates are
// expressed as a single AggregateType value shared by every EventStream
// handle for that kind, not as one instance per aggregate object (spec.md
// §4.5: "enforce that each aggregate type declares a single objectName").
type AggregateType struct {
	ObjectName     string
	Dispatcher     *Dispatcher
	SnapshotPolicy SnapshotPolicy
	DataTypeName   string // used as the Snapshot.DataType tag
	Snapshot       SnapshotCodec
}

// NewAggregateType creates an aggregate type with an empty dispatch table.
func NewAggregateType(objectName string) *AggregateType {
	if objectName == "" {
		panic("es: AggregateType requires a non-empty objectName")
	}
	return &AggregateType{
		ObjectName: objectName,
		Dispatcher: NewDispatcher(),
	}
}

// When registers a reducer for eventType with the given parameter spec
// (spec.md §4.5: "single-parameter when(event) and multi-parameter
// when(event, document, ...)").
func (a *AggregateType) When(eventType string, params []ParamSpec, fn HandlerFunc) *AggregateType {
	a.Dispatcher.Register(eventType, params, fn)
	return a
}

// RegisterEvent binds eventType to its typed payload constructor.
func (a *AggregateType) RegisterEvent(eventType string, newPayload func() any) *AggregateType {
	a.Dispatcher.RegisterEventType(eventType, newPayload)
	return a
}

// RegisterSnapshot binds the capture/restore pair used to take and apply
// snapshots for this aggregate type, over whatever state its When handlers
// close over.
func (a *AggregateType) RegisterSnapshot(capture func() ([]byte, error), restore func(data []byte) error) *AggregateType {
	a.Snapshot = SnapshotCodec{Capture: capture, Restore: restore}
	return a
}

// AggregateFactory implements the C6 factory methods: get, create,
// getOrCreate, deriving an aggregate's identity from a document id.
type AggregateFactory struct {
	AggType   *AggregateType
	Documents DocumentStore
	Data      DataStore
	Snapshots SnapshotStore
	Tags      TagStore
}

// NewAggregateFactory wires an AggregateType to its backing stores.
func NewAggregateFactory(aggType *AggregateType, documents DocumentStore, data DataStore, snapshots SnapshotStore, tags TagStore) *AggregateFactory {
	return &AggregateFactory{AggType: aggType, Documents: documents, Data: data, Snapshots: snapshots, Tags: tags}
}

// Get loads the stream handle for an existing aggregate instance. Returns
// NotFoundError if the document does not exist.
func (f *AggregateFactory) Get(ctx context.Context, objectID string) (*EventStream, error) {
	doc, err := f.Documents.Get(ctx, f.AggType.ObjectName, objectID)
	if err != nil {
		return nil, err
	}
	return f.newStream(doc), nil
}

// Create performs get-or-create on the document (spec.md §3 "created on
// first write by an aggregate factory's get-or-create") and returns its
// stream handle. store, if non-nil, overrides the default active
// StreamInfo (backend routing names, chunking).
func (f *AggregateFactory) Create(ctx context.Context, objectID string, store *StreamInfo) (*EventStream, error) {
	doc, err := f.Documents.Create(ctx, f.AggType.ObjectName, objectID, store)
	if err != nil {
		return nil, err
	}
	return f.newStream(doc), nil
}

// GetOrCreate loads the aggregate if it exists, else creates it.
func (f *AggregateFactory) GetOrCreate(ctx context.Context, objectID string, store *StreamInfo) (*EventStream, error) {
	doc, err := f.Documents.Get(ctx, f.AggType.ObjectName, objectID)
	if err != nil {
		if IsNotFoundError(err) {
			return f.Create(ctx, objectID, store)
		}
		return nil, fmt.Errorf("GetOrCreate %s/%s: %w", f.AggType.ObjectName, objectID, err)
	}
	return f.newStream(doc), nil
}

func (f *AggregateFactory) newStream(doc Document) *EventStream {
	return NewEventStream(doc, f.Data, f.Documents, f.Snapshots, f.Tags, f.AggType.Dispatcher, f.AggType.SnapshotPolicy, f.AggType.DataTypeName, f.AggType.Snapshot)
}
