package es

import (
	"bytes"
	"context"
	"errors"
	"log"
)

const defaultMaxCommitRetries = 5

// NotificationKind identifies which observer hook fired.
type NotificationKind int

const (
	NotifyDocumentUpdated NotificationKind = iota
	NotifyStreamDocumentChunkUpdated
	NotifyStreamDocumentChunkClosed
)

// Observer is invoked strictly after a successful commit, in registration
// order (spec.md §4.4 "Notifications"). A panicking observer is recovered
// and logged; it never rolls back the commit it describes.
type Observer func(kind NotificationKind, document Document, chunkIndex int)

// EventStream is the mutable handle for one aggregate instance: session,
// version assignment, and fold replay (spec.md §4.4, component C5).
type EventStream struct {
	document Document

	data      DataStore
	documents DocumentStore
	snapshots SnapshotStore
	tags      TagStore

	dispatcher     *Dispatcher
	snapshotPolicy SnapshotPolicy
	dataTypeName   string
	snapshotCodec  SnapshotCodec

	observers        []Observer
	maxCommitRetries int
	commitCount      int64
}

// NewEventStream builds a handle around an already-loaded document.
func NewEventStream(document Document, data DataStore, documents DocumentStore, snapshots SnapshotStore, tags TagStore, dispatcher *Dispatcher, policy SnapshotPolicy, dataTypeName string, snapshotCodec SnapshotCodec) *EventStream {
	return &EventStream{
		document:         document,
		data:             data,
		documents:        documents,
		snapshots:        snapshots,
		tags:             tags,
		dispatcher:       dispatcher,
		snapshotPolicy:   policy,
		dataTypeName:     dataTypeName,
		snapshotCodec:    snapshotCodec,
		maxCommitRetries: defaultMaxCommitRetries,
	}
}

// Document returns the current, in-memory document snapshot.
func (s *EventStream) Document() Document { return s.document }

// OnNotify registers an observer, appended after any previously registered
// ones (registration order, spec.md §5 "Ordering guarantees").
func (s *EventStream) OnNotify(obs Observer) { s.observers = append(s.observers, obs) }

func (s *EventStream) notify(kind NotificationKind, chunkIndex int) {
	for _, obs := range s.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("es: observer panic suppressed: %v", r)
				}
			}()
			obs(kind, s.document, chunkIndex)
		}()
	}
}

// Fold rehydrates current state from the latest eligible snapshot and the
// event tail (spec.md §4.3 Retrieval policy, §4.4 Fold). The supplied
// dispatcher's registered handlers are expected to mutate whatever external
// aggregate state their closures capture.
func (s *EventStream) Fold(ctx context.Context) error {
	active := s.document.Active
	startVersion := int64(0)

	if s.snapshots != nil && s.snapshotCodec.Restore != nil {
		snap, err := s.snapshots.Latest(ctx, active.StreamIdentifier, active.CurrentVersion, s.dataTypeName)
		if err == nil {
			if err := s.snapshotCodec.Restore(snap.Data); err != nil {
				return err
			}
			startVersion = snap.Version + 1
		} else if !IsNotFoundError(err) {
			return err
		}
	}

	if active.CurrentVersion < 0 || startVersion > active.CurrentVersion {
		return nil // nothing committed yet, or snapshot already covers the tail
	}

	events, err := s.data.Read(ctx, s.document, startVersion, nil)
	if err != nil {
		return err
	}
	for _, event := range events {
		if event.EventType == CloseSentinelType {
			continue
		}
		if err := s.dispatcher.Dispatch(&s.document, event, nil); err != nil {
			return err
		}
	}
	return nil
}

// AppendContext collects events emitted inside a Session body before they
// are committed.
type AppendContext struct {
	startingVersion int64
	pending         []InputEvent
}

// Append stages events for commit at the end of the enclosing Session.
func (ac *AppendContext) Append(events ...InputEvent) { ac.pending = append(ac.pending, events...) }

// Session opens a write transaction: body is called with an append context;
// on normal return with staged events, those events commit; on error
// return, nothing is committed (spec.md §4.4 "session/body").
func (s *EventStream) Session(ctx context.Context, body func(ctx context.Context, ac *AppendContext) error) error {
	ac := &AppendContext{startingVersion: s.document.Active.CurrentVersion}
	if err := body(ctx, ac); err != nil {
		return err
	}
	if len(ac.pending) == 0 {
		return nil
	}
	return s.commit(ctx, ac.pending)
}

// commit implements the C5 commit protocol (spec.md §4.4, steps a-h).
func (s *EventStream) commit(ctx context.Context, events []InputEvent) error {
	startingVersion := s.document.Active.CurrentVersion

	// Step a/b/c: append to C1, diagnosing conflicts.
	err := s.data.Append(ctx, s.document, false, events)
	if err != nil {
		var ce *ConcurrencyError
		if errors.As(err, &ce) {
			isOwnRetry, derr := s.isOwnRetry(ctx, startingVersion, events)
			if derr != nil {
				return derr
			}
			if !isOwnRetry {
				return err
			}
			// Own retry: events already committed by a prior attempt. Fall
			// through to document bookkeeping as if Append had succeeded.
		} else {
			// Partial multi-batch failure: clean up whatever landed.
			if _, rerr := s.data.RemoveEventsForFailedCommit(ctx, s.document, startingVersion+1, startingVersion+int64(len(events))); rerr != nil {
				log.Printf("es: failed-commit cleanup error suppressed: %v", rerr)
			}
			return err
		}
	}

	// Step d: advance version bookkeeping.
	s.document.Active.CurrentVersion = startingVersion + int64(len(events))
	s.commitCount++

	// Step e/f: recompute hash, CAS the document, retrying on conflict by
	// re-reading the document (bounded).
	for attempt := 0; ; attempt++ {
		prevHash := s.document.Hash
		s.document.Hash = computeDocumentHash(s.document.Active)
		s.document.PrevHash = prevHash

		err := s.documents.Set(ctx, &s.document, prevHash)
		if err == nil {
			break
		}
		if !IsConcurrencyError(err) || attempt >= s.maxCommitRetries {
			return err
		}
		fresh, rerr := s.documents.Get(ctx, s.document.ObjectName, s.document.ObjectID)
		if rerr != nil {
			return rerr
		}
		if fresh.Active.StreamIdentifier != s.document.Active.StreamIdentifier {
			return &ConcurrencyError{
				EventStoreError: EventStoreError{Op: "commit", Err: errors.New("active stream changed concurrently")},
			}
		}
		fresh.Active.CurrentVersion = s.document.Active.CurrentVersion
		s.document = fresh
	}

	// Step g: snapshot cadence. Best-effort: a failed snapshot write does
	// not affect event consistency (grounded on the mickamy-go-event-sourcing
	// SaveSnapshot contract, see DESIGN.md). Skipped entirely if the
	// aggregate type never registered a capture hook, since a snapshot with
	// no payload could never be restored on Fold.
	if s.snapshots != nil && s.snapshotCodec.Capture != nil && s.snapshotPolicy.shouldSnapshot(s.commitCount) {
		data, err := s.snapshotCodec.Capture()
		if err != nil {
			log.Printf("es: snapshot capture failed, continuing: %v", err)
		} else {
			snap := Snapshot{
				StreamID: s.document.Active.StreamIdentifier,
				Version:  s.document.Active.CurrentVersion,
				Name:     s.dataTypeName,
				Data:     data,
				DataType: s.dataTypeName,
			}
			if err := s.snapshots.Set(ctx, snap); err != nil {
				log.Printf("es: snapshot write failed, continuing: %v", err)
			}
		}
	}

	// Step h: notify observers.
	s.notify(NotifyDocumentUpdated, s.document.Active.ChunkIndex)
	return nil
}

// isOwnRetry re-reads versions startingVersion+1..+len(events) and reports
// whether they are byte-identical to the events this attempt tried to
// write, which is how a retried commit is distinguished from a genuine
// concurrent writer (spec.md §4.4 step b).
func (s *EventStream) isOwnRetry(ctx context.Context, startingVersion int64, events []InputEvent) (bool, error) {
	until := startingVersion + int64(len(events))
	existing, err := s.data.Read(ctx, s.document, startingVersion+1, &ReadOptions{UntilVersion: &until})
	if err != nil {
		return false, err
	}
	if len(existing) != len(events) {
		return false, nil
	}
	for i, ev := range existing {
		want := events[i]
		if ev.EventType != want.EventType || ev.SchemaVersion != want.SchemaVersion || !bytes.Equal(ev.Payload, want.Payload) {
			return false, nil
		}
	}
	return true, nil
}
