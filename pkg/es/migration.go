package es

import (
	"context"
	"fmt"
	"log"
	"time"
)

// EventTransformer optionally changes eventType/schemaVersion/payload for an
// event being copied to the target stream. Returning ok=false skips the
// event with a logged warning (spec.md §4.9 "transformer exceptions skip the
// event with a warning").
type EventTransformer func(event Event) (transformed InputEvent, ok bool, err error)

// BeforeAppendHook is called once per event, immediately before it is
// appended to the target, when the migration is configured to append
// one-by-one instead of as a single batch (spec.md §4.9 "If a per-event
// beforeAppend callback is configured").
type BeforeAppendHook func(ctx context.Context, event InputEvent) error

// ProgressFunc receives a progress report after each catch-up iteration.
type ProgressFunc func(iteration int, sourceVersion, targetVersion int64)

// MigrationConfig parameterizes one LiveMigrationExecutor.Execute call.
type MigrationConfig struct {
	MaxIterations int
	CloseTimeout  time.Duration
	CatchUpDelay  time.Duration
	Reason        string // defaults to "Live migration to {targetStreamIdentifier}"

	Transformer  EventTransformer // optional; identity copy if nil
	BeforeAppend BeforeAppendHook // optional
	OnProgress   ProgressFunc     // optional
}

// MigrationResult reports the outcome of one Execute call (spec.md §4.9 "on
// any failure: return a failure result carrying the elapsed iterations and
// events copied").
type MigrationResult struct {
	Success      bool
	Iterations   int
	EventsCopied int
}

func identityTransform(event Event) (InputEvent, bool, error) {
	return InputEvent{
		EventType:         event.EventType,
		SchemaVersion:     event.SchemaVersion,
		Payload:           event.Payload,
		CorrelationID:     event.CorrelationID,
		CausationID:       event.CausationID,
		ExternalSequencer: event.ExternalSequencer,
		TTL:               event.TTL,
	}, true, nil
}

// LiveMigrationExecutor implements C10: online migration of an aggregate's
// active stream to a new physical stream with no writer downtime (spec.md
// §4.9).
type LiveMigrationExecutor struct {
	Data      DataStore
	Documents DocumentStore

	// Now is the injectable wall clock, defaulting to time.Now. Tests supply
	// a fixed/advancing clock to exercise closeTimeout deterministically.
	Now func() time.Time
}

// NewLiveMigrationExecutor wires an executor to its backing stores.
func NewLiveMigrationExecutor(data DataStore, documents DocumentStore) *LiveMigrationExecutor {
	return &LiveMigrationExecutor{Data: data, Documents: documents, Now: time.Now}
}

// Execute migrates source's active stream to target, per the §4.9 protocol.
// source is the fully-loaded source document; target describes the new
// physical stream (backend routing names, chunking) the events move to.
func (m *LiveMigrationExecutor) Execute(ctx context.Context, source Document, target StreamInfo, cfg MigrationConfig) (MigrationResult, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 50
	}
	if cfg.Transformer == nil {
		cfg.Transformer = identityTransform
	}
	if cfg.Reason == "" {
		cfg.Reason = fmt.Sprintf("Live migration to %s", target.StreamIdentifier)
	}

	deadline := m.Now().Add(cfg.CloseTimeout)
	result := MigrationResult{}

	sourceDoc := source
	targetDoc := Document{ObjectName: source.ObjectName, ObjectID: source.ObjectID, Active: target}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		result.Iterations = iteration

		if cfg.CloseTimeout > 0 && m.Now().After(deadline) {
			return result, &MigrationTimeoutError{
				EventStoreError: EventStoreError{Op: "execute"},
				Iterations:      result.Iterations,
				EventsCopied:    result.EventsCopied,
			}
		}

		copied, sourceVersion, targetVersion, err := m.catchUp(ctx, sourceDoc, targetDoc, cfg)
		if err != nil {
			return result, err
		}
		result.EventsCopied += copied
		if cfg.OnProgress != nil {
			cfg.OnProgress(iteration, sourceVersion, targetVersion)
		}

		if targetVersion < sourceVersion {
			if err := sleepOrDone(ctx, cfg.CatchUpDelay); err != nil {
				return result, err
			}
			continue
		}

		closed, closedCopied, err := m.attemptClose(ctx, &sourceDoc, targetDoc, cfg)
		if err != nil {
			return result, err
		}
		result.EventsCopied += closedCopied
		if !closed {
			continue // another writer appeared; loop again
		}

		if err := m.cutover(ctx, &sourceDoc, target, cfg.Reason); err != nil {
			return result, err
		}
		result.Success = true
		return result, nil
	}

	return result, &MigrationAbortedError{
		EventStoreError: EventStoreError{Op: "execute"},
		Iterations:      result.Iterations,
		EventsCopied:    result.EventsCopied,
	}
}

// catchUp copies every source event past the target's current version,
// transforming each, and reports the versions observed (spec.md §4.9
// "Catch-up").
func (m *LiveMigrationExecutor) catchUp(ctx context.Context, sourceDoc, targetDoc Document, cfg MigrationConfig) (copied int, sourceVersion, targetVersion int64, err error) {
	sourceEvents, err := m.Data.Read(ctx, sourceDoc, 0, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	sourceVersion = -1
	if len(sourceEvents) > 0 {
		sourceVersion = sourceEvents[len(sourceEvents)-1].Version
	}

	targetEvents, err := m.Data.Read(ctx, targetDoc, 0, nil)
	if err != nil {
		return 0, sourceVersion, 0, err
	}
	targetVersion = -1
	if len(targetEvents) > 0 {
		targetVersion = targetEvents[len(targetEvents)-1].Version
	}

	var pending []InputEvent
	var pendingSourceEvents []Event
	for _, event := range sourceEvents {
		if event.Version <= targetVersion {
			continue
		}
		transformed, ok, terr := cfg.Transformer(event)
		if terr != nil || !ok {
			log.Printf("es: migration skipped source event %s@%d: %v", event.StreamID, event.Version, terr)
			continue
		}
		pending = append(pending, transformed)
		pendingSourceEvents = append(pendingSourceEvents, event)
	}
	if len(pending) == 0 {
		return 0, sourceVersion, targetVersion, nil
	}

	if cfg.BeforeAppend != nil {
		for _, event := range pending {
			if err := cfg.BeforeAppend(ctx, event); err != nil {
				return 0, sourceVersion, targetVersion, err
			}
			if err := m.Data.Append(ctx, targetDoc, true, []InputEvent{event}); err != nil {
				return 0, sourceVersion, targetVersion, err
			}
			targetDoc.Active.CurrentVersion++
		}
	} else {
		if err := m.Data.Append(ctx, targetDoc, true, pending); err != nil {
			return 0, sourceVersion, targetVersion, err
		}
	}

	return len(pending), sourceVersion, sourceVersion, nil
}

// attemptClose implements step (c): atomically append the close sentinel to
// source, idempotently treating a pre-existing sentinel or a changed active
// pointer as success.
func (m *LiveMigrationExecutor) attemptClose(ctx context.Context, sourceDoc *Document, targetDoc Document, cfg MigrationConfig) (closed bool, swept int, err error) {
	alreadyClosed, _, err := m.Data.Closed(ctx, *sourceDoc)
	if err != nil {
		return false, 0, err
	}
	if alreadyClosed {
		return true, 0, nil
	}

	sourceEvents, err := m.Data.Read(ctx, *sourceDoc, 0, nil)
	if err != nil {
		return false, 0, err
	}
	actualVersion := int64(-1)
	if len(sourceEvents) > 0 {
		actualVersion = sourceEvents[len(sourceEvents)-1].Version
	}

	fresh, err := m.Documents.Get(ctx, sourceDoc.ObjectName, sourceDoc.ObjectID)
	if err != nil {
		return false, 0, err
	}
	if fresh.Active.StreamIdentifier != sourceDoc.Active.StreamIdentifier {
		*sourceDoc = fresh
		return true, 0, nil // another migrator already cut over
	}

	reread, err := m.Data.Read(ctx, *sourceDoc, actualVersion+1, nil)
	if err != nil {
		return false, 0, err
	}
	if len(reread) > 0 {
		return false, 0, nil // new business events arrived; caller loops
	}

	closedAt := m.Now()
	migrationID, err := newNonce("migration")
	if err != nil {
		return false, 0, err
	}
	payload, err := encode(CloseSentinelType, ClosedPayload{
		ContinuationStreamID:      targetDoc.Active.StreamIdentifier,
		ContinuationStreamType:    targetDoc.Active.StreamType,
		ContinuationDataStore:     targetDoc.Active.DataStore,
		ContinuationDocumentStore: targetDoc.Active.DocumentStore,
		Reason:                    cfg.Reason,
		ClosedAt:                  closedAt,
		MigrationID:               migrationID,
		LastBusinessEventVersion:  actualVersion,
	})
	if err != nil {
		return false, 0, err
	}

	sentinel := InputEvent{EventType: CloseSentinelType, SchemaVersion: 1, Payload: payload}
	closeDoc := *sourceDoc
	closeDoc.Active.CurrentVersion = actualVersion
	if err := m.Data.Append(ctx, closeDoc, false, []InputEvent{sentinel}); err != nil {
		if IsConcurrencyError(err) {
			return false, 0, nil // lost the race for this version; caller loops
		}
		return false, 0, err
	}

	// Post-close sweep: copy any business event that landed between the
	// version check above and the sentinel commit.
	strayEvents, err := m.Data.Read(ctx, *sourceDoc, actualVersion+2, nil)
	if err != nil {
		return true, 0, err
	}
	copiedStray := 0
	for _, event := range strayEvents {
		transformed, ok, terr := cfg.Transformer(event)
		if terr != nil || !ok {
			continue
		}
		if err := m.Data.Append(ctx, targetDoc, true, []InputEvent{transformed}); err != nil {
			return true, copiedStray, err
		}
		copiedStray++
	}

	return true, copiedStray, nil
}

// cutover repoints source's active stream to target and records the
// terminated predecessor (spec.md §4.9 "Document cutover").
func (m *LiveMigrationExecutor) cutover(ctx context.Context, sourceDoc *Document, target StreamInfo, reason string) error {
	terminated := TerminatedStream{
		Stream:         sourceDoc.Active,
		StreamVersion:  sourceDoc.Active.CurrentVersion,
		Reason:         reason,
		Continuation:   &target.StreamIdentifier,
		TerminatedDate: m.Now(),
	}

	prevHash := sourceDoc.Hash
	sourceDoc.TerminatedStreams = append(sourceDoc.TerminatedStreams, terminated)
	sourceDoc.Active = target
	sourceDoc.Hash = computeDocumentHash(sourceDoc.Active)
	sourceDoc.PrevHash = prevHash

	return m.Documents.Set(ctx, sourceDoc, prevHash)
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
