package es

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Codec serializes/deserializes a single persistent record's payload. Each
// persistent record type registers exactly one codec at startup (spec.md
// §9 "Serialization coupling").
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// jsonCodec is the default, stdlib-only codec — matching the teacher, which
// uses encoding/json directly everywhere and never binds a third-party JSON
// library into its own module (see DESIGN.md).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var defaultCodec Codec = jsonCodec{}

var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{}
)

// RegisterCodec binds a codec to a logical record-type name (e.g. an event
// type or a projection's data-type name). Safe to call concurrently;
// registration is expected once per type at startup.
func RegisterCodec(typeName string, codec Codec) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[typeName] = codec
}

// codecFor returns the registered codec for typeName, or the default JSON
// codec if none was registered.
func codecFor(typeName string) Codec {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	if c, ok := codecs[typeName]; ok {
		return c
	}
	return defaultCodec
}

// encode marshals v using the codec registered for typeName.
func encode(typeName string, v any) ([]byte, error) {
	data, err := codecFor(typeName).Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typeName, err)
	}
	return data, nil
}

// decode unmarshals data into v using the codec registered for typeName.
func decode(typeName string, data []byte, v any) error {
	if err := codecFor(typeName).Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", typeName, err)
	}
	return nil
}
