package es

import (
	"context"
	"encoding/json"
	"fmt"
)

// DestinationConstructor builds a fresh sub-projection type + zero-value
// read-model for one destinationTypeName (spec.md §4.7 "createDestinationInstance").
// It replaces the source's reflection-based private-field injection with an
// explicit constructor table, per spec.md §9's design note on routed
// projections.
type DestinationConstructor func() (*ProjectionType, any)

// RoutedProjectionType declares the base dispatch table (driven off the
// source stream) plus the set of destination kinds it may route to.
type RoutedProjectionType struct {
	Name         string
	Dispatcher   *Dispatcher
	Constructors map[string]DestinationConstructor
}

// NewRoutedProjectionType creates a routed projection type with an empty
// dispatch table and destination registry.
func NewRoutedProjectionType(name string) *RoutedProjectionType {
	return &RoutedProjectionType{
		Name:         name,
		Dispatcher:   NewDispatcher(),
		Constructors: make(map[string]DestinationConstructor),
	}
}

// When registers a base-stream fold handler. Handlers that need to route to
// a destination declare a ParamExecutionContextWithData slot: its Data field
// is the *RoutedProjection instance, carrying AddDestination/Destination.
func (t *RoutedProjectionType) When(eventType string, params []ParamSpec, fn HandlerFunc) *RoutedProjectionType {
	t.Dispatcher.Register(eventType, params, fn)
	return t
}

// RegisterEvent binds eventType to its typed payload constructor.
func (t *RoutedProjectionType) RegisterEvent(eventType string, newPayload func() any) *RoutedProjectionType {
	t.Dispatcher.RegisterEventType(eventType, newPayload)
	return t
}

// RegisterDestination binds destinationTypeName to its constructor.
func (t *RoutedProjectionType) RegisterDestination(destinationTypeName string, ctor DestinationConstructor) *RoutedProjectionType {
	t.Constructors[destinationTypeName] = ctor
	return t
}

// destinationEntry is one row of the destination registry persisted on the
// main projection document (spec.md §3 "Routed-projection state").
type destinationEntry struct {
	DestinationTypeName string            `json:"destinationTypeName"`
	BlobPath            string            `json:"blobPath"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// RoutedProjection is one live instance: the base checkpoint, the
// destination registry, and the live map of constructed sub-projections
// (spec.md §4.7, component C8).
type RoutedProjection struct {
	Type *RoutedProjectionType

	checkpoint Checkpoint
	registry   map[string]destinationEntry
	live       map[string]*Projection
}

// NewRoutedProjection creates a fresh, stateless routed projection instance.
func NewRoutedProjection(t *RoutedProjectionType) *RoutedProjection {
	return &RoutedProjection{
		Type:       t,
		checkpoint: Checkpoint{},
		registry:   make(map[string]destinationEntry),
		live:       make(map[string]*Projection),
	}
}

// Checkpoint returns the base projection's per-stream high-water marks.
func (r *RoutedProjection) Checkpoint() Checkpoint { return r.checkpoint.Clone() }

// AddDestination lazily constructs (or returns the already-live) sub-projection
// for destinationKey, registering it under destinationTypeName/blobPath
// (spec.md §4.7 "addDestination<T>(key)").
func (r *RoutedProjection) AddDestination(destinationKey, destinationTypeName, blobPath string, metadata map[string]string) (*Projection, error) {
	if p, ok := r.live[destinationKey]; ok {
		return p, nil
	}
	ctor, ok := r.Type.Constructors[destinationTypeName]
	if !ok {
		return nil, fmt.Errorf("routed projection %s: no constructor registered for destination type %q", r.Type.Name, destinationTypeName)
	}
	projType, data := ctor()
	p := NewProjection(projType, data)
	r.live[destinationKey] = p
	r.registry[destinationKey] = destinationEntry{DestinationTypeName: destinationTypeName, BlobPath: blobPath, Metadata: metadata}
	return p, nil
}

// Destination returns the already-constructed sub-projection for
// destinationKey, if any.
func (r *RoutedProjection) Destination(destinationKey string) (*Projection, bool) {
	p, ok := r.live[destinationKey]
	return p, ok
}

// Apply folds one source-stream event: it dispatches to the base handler
// table, which routes into zero or more destinations via AddDestination
// (spec.md §4.7 "Dispatch").
func (r *RoutedProjection) Apply(event Event) error {
	if cur, ok := r.checkpoint[event.StreamID]; ok && event.Version <= cur {
		return nil
	}
	execCtx := &ExecutionContext{Event: event, Data: r}
	if err := r.Type.Dispatcher.Dispatch(nil, event, execCtx); err != nil {
		return err
	}
	r.checkpoint.Advance(event.StreamID, event.Version)
	return nil
}

type routedEnvelope struct {
	Checkpoint Checkpoint                  `json:"$checkpoint"`
	Registry   map[string]destinationEntry `json:"registry"`
}

// ToJSON serializes the main projection document: checkpoint + destination
// registry only (spec.md §3 "The main projection document carries only
// checkpoint and registry").
func (r *RoutedProjection) ToJSON() ([]byte, error) {
	out, err := json.Marshal(routedEnvelope{Checkpoint: r.checkpoint, Registry: r.registry})
	if err != nil {
		return nil, fmt.Errorf("toJSON %s: %w", r.Type.Name, err)
	}
	return out, nil
}

// LoadFromJSON restores the checkpoint and destination registry. Live
// sub-projection instances are NOT reconstructed here — callers that need
// them call AddDestination again as routing re-encounters each key, or
// RoutedProjectionFactory.LoadDestination to eagerly rehydrate one.
func (r *RoutedProjection) LoadFromJSON(raw []byte) error {
	var env routedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("loadFromJSON %s: %w", r.Type.Name, err)
	}
	if env.Checkpoint == nil {
		env.Checkpoint = Checkpoint{}
	}
	if env.Registry == nil {
		env.Registry = make(map[string]destinationEntry)
	}
	r.checkpoint = env.Checkpoint
	r.registry = env.Registry
	return nil
}

// RoutedProjectionFactory persists the main projection document and, on
// demand, individual sub-projections at their registered blobPath.
type RoutedProjectionFactory struct {
	Type                *RoutedProjectionType
	Main                ProjectionRecordStore
	SubData             ProjectionRecordStore
	ExternalCheckpoints ExternalCheckpointStore
}

// NewRoutedProjectionFactory wires a RoutedProjectionType to its backing
// stores. SubData may be the same store as Main when both record families
// share a container. checkpoints may be nil if no registered destination
// type declares HasExternalCheckpoint.
func NewRoutedProjectionFactory(t *RoutedProjectionType, main, subData ProjectionRecordStore, checkpoints ExternalCheckpointStore) *RoutedProjectionFactory {
	return &RoutedProjectionFactory{Type: t, Main: main, SubData: subData, ExternalCheckpoints: checkpoints}
}

// GetOrCreate loads the main projection document, or returns a fresh one.
func (f *RoutedProjectionFactory) GetOrCreate(ctx context.Context, blobName string) (*RoutedProjection, error) {
	raw, _, err := f.Main.Get(ctx, f.Type.Name, blobName)
	if err != nil {
		if IsNotFoundError(err) {
			return NewRoutedProjection(f.Type), nil
		}
		return nil, err
	}
	r := NewRoutedProjection(f.Type)
	if err := r.LoadFromJSON(raw); err != nil {
		return nil, err
	}
	return r, nil
}

// Save persists the main document and every live sub-projection, each at its
// registered blobPath (spec.md §4.7 "The factory persists each sub-projection
// separately"). A destination whose type declares HasExternalCheckpoint also
// writes its external checkpoint record, immutably keyed by its blobPath and
// checkpoint fingerprint, mirroring ProjectionFactory.Save.
func (f *RoutedProjectionFactory) Save(ctx context.Context, blobName string, r *RoutedProjection) error {
	for key, entry := range r.registry {
		sub, ok := r.live[key]
		if !ok {
			continue
		}

		if sub.Type.HasExternalCheckpoint && sub.checkpointFingerprint != "" {
			ckData, err := json.Marshal(sub.checkpoint)
			if err != nil {
				return fmt.Errorf("save %s: marshal destination checkpoint %q: %w", f.Type.Name, key, err)
			}
			if err := f.ExternalCheckpoints.Set(ctx, entry.BlobPath, sub.checkpointFingerprint, ckData); err != nil {
				return err
			}
		}

		data, err := sub.ToJSON()
		if err != nil {
			return err
		}
		if err := f.SubData.Set(ctx, entry.DestinationTypeName, entry.BlobPath, data); err != nil {
			return err
		}
	}
	data, err := r.ToJSON()
	if err != nil {
		return err
	}
	return f.Main.Set(ctx, f.Type.Name, blobName, data)
}

// LoadDestination eagerly rehydrates destinationKey's sub-projection from its
// registered blobPath, even if AddDestination has not been called yet in
// this process.
func (f *RoutedProjectionFactory) LoadDestination(ctx context.Context, r *RoutedProjection, destinationKey string) (*Projection, error) {
	if p, ok := r.live[destinationKey]; ok {
		return p, nil
	}
	entry, ok := r.registry[destinationKey]
	if !ok {
		return nil, &NotFoundError{
			EventStoreError: EventStoreError{Op: "loadDestination"},
			Kind:            "destination",
			ID:              destinationKey,
		}
	}
	ctor, ok := f.Type.Constructors[entry.DestinationTypeName]
	if !ok {
		return nil, fmt.Errorf("routed projection %s: no constructor registered for destination type %q", f.Type.Name, entry.DestinationTypeName)
	}
	raw, _, err := f.SubData.Get(ctx, entry.DestinationTypeName, entry.BlobPath)
	if err != nil {
		return nil, err
	}
	projType, data := ctor()
	p := NewProjection(projType, data)
	if err := p.LoadFromJSON(raw); err != nil {
		return nil, err
	}

	if projType.HasExternalCheckpoint && p.checkpointFingerprint != "" {
		ckData, err := f.ExternalCheckpoints.Get(ctx, entry.BlobPath, p.checkpointFingerprint)
		if err != nil {
			return nil, err
		}
		var checkpoint Checkpoint
		if err := json.Unmarshal(ckData, &checkpoint); err != nil {
			return nil, fmt.Errorf("loadDestination %s: external checkpoint: %w", f.Type.Name, err)
		}
		p.checkpoint = checkpoint
	}

	r.live[destinationKey] = p
	return p, nil
}
