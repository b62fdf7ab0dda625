package es

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProjectionRecordStore is the backend surface a ProjectionFactory saves and
// loads projection documents against (spec.md §6 "Projection record").
type ProjectionRecordStore interface {
	// Get returns the serialized projection state and its last-modified
	// time, or NotFoundError if blobName is absent.
	Get(ctx context.Context, projectionName, blobName string) ([]byte, time.Time, error)
	Set(ctx context.Context, projectionName, blobName string, data []byte) error
	Exists(ctx context.Context, projectionName, blobName string) (bool, error)
	Delete(ctx context.Context, projectionName, blobName string) (bool, error)
}

// ExternalCheckpointStore backs the immutable "checkpoint-{name}-{fingerprint}"
// records used when a projection declares HasExternalCheckpoint (spec.md §4.6,
// §6 "External checkpoint record").
type ExternalCheckpointStore interface {
	Get(ctx context.Context, projectionName, fingerprint string) ([]byte, error)
	// Set is a no-op if fingerprint already exists — checkpoint records are
	// immutable (spec.md §4.6 "writing an existing fingerprint is a no-op").
	Set(ctx context.Context, projectionName, fingerprint string, data []byte) error
}

// ProjectionType declares one read-model kind: its event dispatch table and
// whether its checkpoint is stored externally (spec.md §4.6, component C7).
type ProjectionType struct {
	Name                  string
	Dispatcher            *Dispatcher
	DataTypeName          string
	HasExternalCheckpoint bool
}

// NewProjectionType creates a projection type with an empty dispatch table.
func NewProjectionType(name, dataTypeName string) *ProjectionType {
	return &ProjectionType{
		Name:         name,
		Dispatcher:   NewDispatcher(),
		DataTypeName: dataTypeName,
	}
}

// When registers a fold handler for eventType with an ordered parameter
// spec (spec.md §4.6 "Dispatch").
func (t *ProjectionType) When(eventType string, params []ParamSpec, fn HandlerFunc) *ProjectionType {
	t.Dispatcher.Register(eventType, params, fn)
	return t
}

// RegisterEvent binds eventType to its typed payload constructor.
func (t *ProjectionType) RegisterEvent(eventType string, newPayload func() any) *ProjectionType {
	t.Dispatcher.RegisterEventType(eventType, newPayload)
	return t
}

// RegisterParamFactory installs a custom ParamCustom(name) value source.
func (t *ProjectionType) RegisterParamFactory(name string, factory ParamFactory) *ProjectionType {
	t.Dispatcher.RegisterParamFactory(name, factory)
	return t
}

// Projection is one live instance of a ProjectionType: its checkpoint plus
// whatever user-owned read-model value Data points at.
type Projection struct {
	Type *ProjectionType
	Data any

	checkpoint            Checkpoint
	checkpointFingerprint string
}

// NewProjection creates a fresh, stateless projection instance. data must be
// a pointer the caller owns and whose fields the registered handlers mutate.
func NewProjection(t *ProjectionType, data any) *Projection {
	return &Projection{Type: t, Data: data, checkpoint: Checkpoint{}}
}

// Checkpoint returns the projection's current per-stream high-water marks.
func (p *Projection) Checkpoint() Checkpoint { return p.checkpoint.Clone() }

// CheckpointFingerprint returns the opaque hash of the exact input shape
// this projection has consumed (spec.md §3).
func (p *Projection) CheckpointFingerprint() string { return p.checkpointFingerprint }

// Apply folds one event into the projection (spec.md §4.6 "fold"). It is a
// no-op, not an error, if event.Version has already been applied for its
// stream (I5: at most once per checkpoint position) — this makes Apply safe
// to call during at-least-once redelivery.
func (p *Projection) Apply(event Event, parent *ExecutionContext) error {
	if cur, ok := p.checkpoint[event.StreamID]; ok && event.Version <= cur {
		return nil
	}
	if err := p.Type.Dispatcher.Dispatch(nil, event, parent); err != nil {
		return err
	}
	p.checkpoint.Advance(event.StreamID, event.Version)
	p.checkpointFingerprint = computeCheckpointFingerprint(p.checkpoint)
	return nil
}

type projectionEnvelope struct {
	Checkpoint            Checkpoint      `json:"$checkpoint"`
	CheckpointFingerprint string          `json:"$checkpointFingerprint"`
	Data                  json.RawMessage `json:"data"`
}

// ToJSON serializes the full projection state, including the checkpoint and
// its fingerprint (spec.md §4.6 "toJson").
func (p *Projection) ToJSON() ([]byte, error) {
	data, err := encode(p.Type.DataTypeName, p.Data)
	if err != nil {
		return nil, err
	}
	env := projectionEnvelope{
		Checkpoint:            p.checkpoint,
		CheckpointFingerprint: p.checkpointFingerprint,
		Data:                  data,
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("toJSON %s: %w", p.Type.Name, err)
	}
	return out, nil
}

// LoadFromJSON deserializes full projection state written by ToJSON into p.
// p.Data must already point at a value of the projection's read-model type.
func (p *Projection) LoadFromJSON(raw []byte) error {
	var env projectionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("loadFromJSON %s: %w", p.Type.Name, err)
	}
	if env.Checkpoint == nil {
		env.Checkpoint = Checkpoint{}
	}
	if len(env.Data) > 0 {
		if err := decode(p.Type.DataTypeName, env.Data, p.Data); err != nil {
			return err
		}
	}
	p.checkpoint = env.Checkpoint
	p.checkpointFingerprint = env.CheckpointFingerprint
	return nil
}

// FactoryStatus is the coarse Active/Disabled lifecycle a factory tracks
// for its own projections — distinct from C9's per-aggregate rebuild state
// machine (spec.md §4.6 "setStatus, getStatus").
type FactoryStatus int

const (
	FactoryStatusActive FactoryStatus = iota
	FactoryStatusDisabled
)

// ProjectionFactory implements getOrCreate/save/setStatus/getStatus/exists/
// getLastModified/delete against a ProjectionRecordStore, with optional
// external checkpoint storage (spec.md §4.6 "Factories").
type ProjectionFactory struct {
	Type                *ProjectionType
	Records             ProjectionRecordStore
	ExternalCheckpoints ExternalCheckpointStore
}

// NewProjectionFactory wires a ProjectionType to its backing record store.
func NewProjectionFactory(t *ProjectionType, records ProjectionRecordStore, checkpoints ExternalCheckpointStore) *ProjectionFactory {
	return &ProjectionFactory{Type: t, Records: records, ExternalCheckpoints: checkpoints}
}

func (f *ProjectionFactory) blobName(blobName string) string {
	if blobName == "" {
		return f.Type.Name
	}
	return blobName
}

// GetOrCreate loads blobName's projection document, or returns a fresh one
// if absent. newData must construct a zero-value pointer for the read-model
// type (spec.md §4.6 "if missing, return new()").
func (f *ProjectionFactory) GetOrCreate(ctx context.Context, blobName string, newData func() any) (*Projection, error) {
	name := f.blobName(blobName)
	raw, _, err := f.Records.Get(ctx, f.Type.Name, name)
	if err != nil {
		if IsNotFoundError(err) {
			return NewProjection(f.Type, newData()), nil
		}
		return nil, err
	}

	p := NewProjection(f.Type, newData())
	if err := p.LoadFromJSON(raw); err != nil {
		return nil, err
	}

	if f.Type.HasExternalCheckpoint && p.checkpointFingerprint != "" {
		ckData, err := f.ExternalCheckpoints.Get(ctx, f.Type.Name, p.checkpointFingerprint)
		if err != nil {
			return nil, err
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(ckData, &checkpoint); err != nil {
			return nil, fmt.Errorf("getOrCreate %s: external checkpoint: %w", f.Type.Name, err)
		}
		p.checkpoint = checkpoint
	}

	return p, nil
}

// Save writes the projection document; if the type declares an external
// checkpoint, the checkpoint is additionally written to its immutable
// fingerprint-keyed record (spec.md §4.6 "save").
func (f *ProjectionFactory) Save(ctx context.Context, blobName string, p *Projection) error {
	name := f.blobName(blobName)

	if f.Type.HasExternalCheckpoint && p.checkpointFingerprint != "" {
		ckData, err := json.Marshal(p.checkpoint)
		if err != nil {
			return fmt.Errorf("save %s: marshal checkpoint: %w", f.Type.Name, err)
		}
		if err := f.ExternalCheckpoints.Set(ctx, f.Type.Name, p.checkpointFingerprint, ckData); err != nil {
			return err
		}
	}

	data, err := p.ToJSON()
	if err != nil {
		return err
	}
	return f.Records.Set(ctx, f.Type.Name, name, data)
}

// Exists reports whether blobName's projection document has been written.
func (f *ProjectionFactory) Exists(ctx context.Context, blobName string) (bool, error) {
	return f.Records.Exists(ctx, f.Type.Name, f.blobName(blobName))
}

// GetLastModified returns the projection document's last write time.
func (f *ProjectionFactory) GetLastModified(ctx context.Context, blobName string) (time.Time, error) {
	_, modified, err := f.Records.Get(ctx, f.Type.Name, f.blobName(blobName))
	return modified, err
}

// Delete removes blobName's projection document, reporting whether it had
// existed.
func (f *ProjectionFactory) Delete(ctx context.Context, blobName string) (bool, error) {
	return f.Records.Delete(ctx, f.Type.Name, f.blobName(blobName))
}

// statusBlobName is the reserved record name factory-level status is kept
// under, distinct from any user projection's own blobName.
const statusBlobName = "$status"

// SetStatus writes this factory's coarse Active/Disabled lifecycle flag.
func (f *ProjectionFactory) SetStatus(ctx context.Context, status FactoryStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return f.Records.Set(ctx, f.Type.Name, statusBlobName, data)
}

// GetStatus reads this factory's lifecycle flag, defaulting to Active if
// never set.
func (f *ProjectionFactory) GetStatus(ctx context.Context) (FactoryStatus, error) {
	raw, _, err := f.Records.Get(ctx, f.Type.Name, statusBlobName)
	if err != nil {
		if IsNotFoundError(err) {
			return FactoryStatusActive, nil
		}
		return FactoryStatusActive, err
	}
	var status FactoryStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return FactoryStatusActive, err
	}
	return status, nil
}
