package remote

import (
	"bytes"
	"encoding/json"
)

// envelopeShape is the wrapper a list endpoint put around its records.
type envelopeShape int

const (
	shapeUnknown envelopeShape = iota
	shapeArray                 // [ ... ]
	shapeItems                 // {"items": [ ... ]}
	shapeData                  // {"data": [ ... ]}
	shapeNamed                 // {"<resource>": [ ... ]}
)

func (s envelopeShape) String() string {
	switch s {
	case shapeArray:
		return "array"
	case shapeItems:
		return "items"
	case shapeData:
		return "data"
	case shapeNamed:
		return "named"
	default:
		return "unknown"
	}
}

// envelope is a classified list response.
type envelope struct {
	shape envelopeShape
	key   string // resource key when shape is shapeNamed
	elems []json.RawMessage
}

// classifyEnvelope recognizes the four list shapes. names are the
// resource keys tried, in order, for the named shape. Anything else,
// including invalid JSON, is shapeUnknown with no elements.
func classifyEnvelope(body []byte, names ...string) envelope {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return envelope{shape: shapeUnknown}
	}

	switch trimmed[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return envelope{shape: shapeUnknown}
		}
		return envelope{shape: shapeArray, elems: elems}
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return envelope{shape: shapeUnknown}
		}
		if elems, ok := arrayField(fields, "items"); ok {
			return envelope{shape: shapeItems, elems: elems}
		}
		if elems, ok := arrayField(fields, "data"); ok {
			return envelope{shape: shapeData, elems: elems}
		}
		for _, name := range names {
			if elems, ok := arrayField(fields, name); ok {
				return envelope{shape: shapeNamed, key: name, elems: elems}
			}
		}
	}
	return envelope{shape: shapeUnknown}
}

func arrayField(fields map[string]json.RawMessage, key string) ([]json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok {
		return nil, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, false
	}
	return elems, true
}

// singleBody unwraps a one-record response: {"data": {...}}, {"<name>": {...}}
// or the bare object. ok is false when the body is not a JSON object.
func singleBody(body []byte, names ...string) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false
	}
	for _, key := range append([]string{"data"}, names...) {
		raw, ok := fields[key]
		if ok && len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '{' {
			return raw, true
		}
	}
	return body, true
}
