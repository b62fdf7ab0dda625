package es

import (
	"context"
	"testing"
	"time"
)

// fakeProjectionRecordStore is an in-memory ProjectionRecordStore stand-in
// for exercising projection factories without a real backend.
type fakeProjectionRecordStore struct {
	records map[string][]byte
}

func newFakeProjectionRecordStore() *fakeProjectionRecordStore {
	return &fakeProjectionRecordStore{records: make(map[string][]byte)}
}

func (s *fakeProjectionRecordStore) key(projectionName, blobName string) string {
	return projectionName + "/" + blobName
}

func (s *fakeProjectionRecordStore) Get(ctx context.Context, projectionName, blobName string) ([]byte, time.Time, error) {
	data, ok := s.records[s.key(projectionName, blobName)]
	if !ok {
		return nil, time.Time{}, &NotFoundError{EventStoreError: EventStoreError{Op: "get"}, Kind: "projectionRecord", ID: blobName}
	}
	return data, time.Time{}, nil
}

func (s *fakeProjectionRecordStore) Set(ctx context.Context, projectionName, blobName string, data []byte) error {
	s.records[s.key(projectionName, blobName)] = data
	return nil
}

func (s *fakeProjectionRecordStore) Exists(ctx context.Context, projectionName, blobName string) (bool, error) {
	_, ok := s.records[s.key(projectionName, blobName)]
	return ok, nil
}

func (s *fakeProjectionRecordStore) Delete(ctx context.Context, projectionName, blobName string) (bool, error) {
	key := s.key(projectionName, blobName)
	_, ok := s.records[key]
	delete(s.records, key)
	return ok, nil
}

type fakeSink struct {
	flushed []EmittedDocument
}

func (s *fakeSink) Append(ctx context.Context, projectionName string, docs []EmittedDocument) error {
	s.flushed = append(s.flushed, docs...)
	return nil
}

func TestMultiDocumentProjectionEmitAndSave(t *testing.T) {
	pt := NewMultiDocumentProjectionType("order_receipts")
	pt.When("OrderPlaced", []ParamSpec{{Kind: ParamExecutionContextWithData}}, func(args []any) error {
		m := args[0].(*ExecutionContext).Data.(*MultiDocumentProjection)
		m.Emit("receipt-1", []byte(`{"total":100}`))
		return nil
	})

	records := newFakeProjectionRecordStore()
	sink := &fakeSink{}
	factory := NewMultiDocumentProjectionFactory(pt, records, sink)

	proj, err := factory.GetOrCreate(context.Background(), "")
	if err != nil {
		t.Fatalf("GetOrCreate returned error: %v", err)
	}
	if err := proj.Apply(Event{StreamID: "order_1", Version: 1, EventType: "OrderPlaced"}); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if err := factory.Save(context.Background(), "", proj); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	if len(sink.flushed) != 1 || sink.flushed[0].ID != "receipt-1" {
		t.Fatalf("expected one flushed document with id 'receipt-1', got %+v", sink.flushed)
	}

	reloaded, err := factory.GetOrCreate(context.Background(), "")
	if err != nil {
		t.Fatalf("reload GetOrCreate returned error: %v", err)
	}
	if reloaded.Checkpoint()["order_1"] != 1 {
		t.Errorf("expected reloaded checkpoint to record order_1 at version 1, got %v", reloaded.Checkpoint())
	}
}

func TestMultiDocumentProjectionApplySkipsAlreadySeenVersion(t *testing.T) {
	pt := NewMultiDocumentProjectionType("order_receipts")
	calls := 0
	pt.When("OrderPlaced", nil, func(args []any) error {
		calls++
		return nil
	})

	proj := NewMultiDocumentProjection(pt)
	event := Event{StreamID: "order_1", Version: 1, EventType: "OrderPlaced"}
	if err := proj.Apply(event); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if err := proj.Apply(event); err != nil {
		t.Fatalf("re-Apply returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected the handler to run once for a replayed version, got %d calls", calls)
	}
}
