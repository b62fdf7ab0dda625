package es

import (
	"fmt"

	"github.com/google/uuid"
)

// NewInputEvent creates an InputEvent from a typed payload, marshaled with
// the codec registered for eventType (falls back to JSON).
func NewInputEvent(eventType string, schemaVersion int, payload any) (InputEvent, error) {
	data, err := encode(eventType, payload)
	if err != nil {
		return InputEvent{}, fmt.Errorf("newInputEvent %s: %w", eventType, err)
	}
	return InputEvent{EventType: eventType, SchemaVersion: schemaVersion, Payload: data}, nil
}

// NewEventBatch is a convenience identity function for building a slice of
// events to append in one call.
func NewEventBatch(events ...InputEvent) []InputEvent { return events }

// EventBuilder provides a fluent interface for constructing one InputEvent,
// defaulting correlationId to a fresh UUID when the caller does not supply
// one; causationId is passed through as given (SPEC_FULL.md "Domain stack": google/uuid).
type EventBuilder struct {
	eventType     string
	schemaVersion int
	payload       any
	correlationID string
	causationID   string
	externalSeq   string
	ttl           *int64
}

// NewEvent starts building an event of eventType.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{eventType: eventType, schemaVersion: 1}
}

func (b *EventBuilder) WithSchemaVersion(v int) *EventBuilder { b.schemaVersion = v; return b }
func (b *EventBuilder) WithPayload(payload any) *EventBuilder { b.payload = payload; return b }
func (b *EventBuilder) WithCorrelationID(id string) *EventBuilder {
	b.correlationID = id
	return b
}
func (b *EventBuilder) WithCausationID(id string) *EventBuilder { b.causationID = id; return b }
func (b *EventBuilder) WithExternalSequencer(v string) *EventBuilder {
	b.externalSeq = v
	return b
}
func (b *EventBuilder) WithTTL(seconds int64) *EventBuilder { b.ttl = &seconds; return b }

// Build finishes the event, marshaling its payload and defaulting
// correlationId to a fresh random UUID if the caller never set one.
func (b *EventBuilder) Build() (InputEvent, error) {
	data, err := encode(b.eventType, b.payload)
	if err != nil {
		return InputEvent{}, fmt.Errorf("build event %s: %w", b.eventType, err)
	}
	correlationID := b.correlationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return InputEvent{
		EventType:         b.eventType,
		SchemaVersion:     b.schemaVersion,
		Payload:           data,
		CorrelationID:     correlationID,
		CausationID:       b.causationID,
		ExternalSequencer: b.externalSeq,
		TTL:               b.ttl,
	}, nil
}
