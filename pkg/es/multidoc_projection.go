package es

import (
	"context"
	"encoding/json"
	"fmt"
)

// EmittedDocument is one immutable record a multi-document projection queues
// for its sink container during fold (spec.md §4.7 "multi-document
// projection").
type EmittedDocument struct {
	ID   string
	Data []byte
}

// DocumentSink receives the documents a multi-document projection emits.
// Appends are immutable: the sink is never asked to update or delete a
// previously flushed document.
type DocumentSink interface {
	Append(ctx context.Context, projectionName string, docs []EmittedDocument) error
}

// MultiDocumentProjectionType declares the fold dispatch table for the
// simpler C8 variant: handlers emit documents instead of routing into named
// sub-projections.
type MultiDocumentProjectionType struct {
	Name       string
	Dispatcher *Dispatcher
}

// NewMultiDocumentProjectionType creates a type with an empty dispatch table.
func NewMultiDocumentProjectionType(name string) *MultiDocumentProjectionType {
	return &MultiDocumentProjectionType{Name: name, Dispatcher: NewDispatcher()}
}

// When registers a fold handler. Handlers that emit documents declare a
// ParamExecutionContextWithData slot: its Data field is the
// *MultiDocumentProjection instance, carrying Emit.
func (t *MultiDocumentProjectionType) When(eventType string, params []ParamSpec, fn HandlerFunc) *MultiDocumentProjectionType {
	t.Dispatcher.Register(eventType, params, fn)
	return t
}

// RegisterEvent binds eventType to its typed payload constructor.
func (t *MultiDocumentProjectionType) RegisterEvent(eventType string, newPayload func() any) *MultiDocumentProjectionType {
	t.Dispatcher.RegisterEventType(eventType, newPayload)
	return t
}

// MultiDocumentProjection is one live instance: a checkpoint plus whatever
// documents the current fold pass has queued for emission.
type MultiDocumentProjection struct {
	Type *MultiDocumentProjectionType

	checkpoint            Checkpoint
	checkpointFingerprint string
	pending               []EmittedDocument
}

// NewMultiDocumentProjection creates a fresh, stateless instance.
func NewMultiDocumentProjection(t *MultiDocumentProjectionType) *MultiDocumentProjection {
	return &MultiDocumentProjection{Type: t, checkpoint: Checkpoint{}}
}

// Checkpoint returns the projection's per-stream high-water marks.
func (m *MultiDocumentProjection) Checkpoint() Checkpoint { return m.checkpoint.Clone() }

// Emit queues one immutable document for the next Save's flush.
func (m *MultiDocumentProjection) Emit(id string, data []byte) {
	m.pending = append(m.pending, EmittedDocument{ID: id, Data: data})
}

// Apply folds one event, letting registered handlers call Emit zero or more
// times.
func (m *MultiDocumentProjection) Apply(event Event) error {
	if cur, ok := m.checkpoint[event.StreamID]; ok && event.Version <= cur {
		return nil
	}
	execCtx := &ExecutionContext{Event: event, Data: m}
	if err := m.Type.Dispatcher.Dispatch(nil, event, execCtx); err != nil {
		return err
	}
	m.checkpoint.Advance(event.StreamID, event.Version)
	m.checkpointFingerprint = computeCheckpointFingerprint(m.checkpoint)
	return nil
}

type multiDocCheckpointRecord struct {
	Checkpoint            Checkpoint `json:"checkpoint"`
	CheckpointFingerprint string     `json:"checkpointFingerprint"`
}

// MultiDocumentProjectionFactory persists only the checkpoint record; emitted
// documents are flushed straight to the sink container (spec.md §6
// "Multi-document-projection checkpoint record").
type MultiDocumentProjectionFactory struct {
	Type        *MultiDocumentProjectionType
	Checkpoints ProjectionRecordStore
	Sink        DocumentSink
}

// NewMultiDocumentProjectionFactory wires a type to its checkpoint store and
// document sink.
func NewMultiDocumentProjectionFactory(t *MultiDocumentProjectionType, checkpoints ProjectionRecordStore, sink DocumentSink) *MultiDocumentProjectionFactory {
	return &MultiDocumentProjectionFactory{Type: t, Checkpoints: checkpoints, Sink: sink}
}

func (f *MultiDocumentProjectionFactory) id(projectionID string) string {
	if projectionID == "" {
		return f.Type.Name
	}
	return projectionID
}

// GetOrCreate loads projectionID's checkpoint record, or returns a fresh
// instance if absent.
func (f *MultiDocumentProjectionFactory) GetOrCreate(ctx context.Context, projectionID string) (*MultiDocumentProjection, error) {
	raw, _, err := f.Checkpoints.Get(ctx, f.Type.Name, f.id(projectionID))
	if err != nil {
		if IsNotFoundError(err) {
			return NewMultiDocumentProjection(f.Type), nil
		}
		return nil, err
	}
	var rec multiDocCheckpointRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("getOrCreate %s: %w", f.Type.Name, err)
	}
	if rec.Checkpoint == nil {
		rec.Checkpoint = Checkpoint{}
	}
	return &MultiDocumentProjection{Type: f.Type, checkpoint: rec.Checkpoint, checkpointFingerprint: rec.CheckpointFingerprint}, nil
}

// Save flushes any queued documents to the sink, then persists the
// checkpoint record (spec.md §4.7 "the emitted documents are flushed in
// save").
func (f *MultiDocumentProjectionFactory) Save(ctx context.Context, projectionID string, m *MultiDocumentProjection) error {
	if len(m.pending) > 0 {
		if err := f.Sink.Append(ctx, f.Type.Name, m.pending); err != nil {
			return err
		}
		m.pending = nil
	}
	rec := multiDocCheckpointRecord{Checkpoint: m.checkpoint, CheckpointFingerprint: m.checkpointFingerprint}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("save %s: %w", f.Type.Name, err)
	}
	return f.Checkpoints.Set(ctx, f.Type.Name, f.id(projectionID), data)
}
