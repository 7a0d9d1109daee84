// Package serde encodes arbitrary application values and error values to
// and from the opaque text blobs stored in the durable journal tables.
package serde

import (
	"encoding/json"
	"fmt"
)

// NullLiteral is the token that decodes to the absence marker: no value was
// recorded (as opposed to a recorded nil/zero value).
const NullLiteral = "null"

// Serializer encodes/decodes application values to/from opaque text. The
// durable tables only ever see the text this produces; the format itself is
// not part of the contract with callers.
type Serializer interface {
	// Serialize encodes v to a text blob. Passing a nil v and a value whose
	// dynamic type implements error are both supported.
	Serialize(v any) (string, error)

	// Deserialize decodes a text blob produced by Serialize. The literal
	// "null" always decodes to (nil, nil). A blob produced from an error
	// value decodes back to a value satisfying the error interface.
	// JSONSerializer returns plain values in encoding/json's generic form:
	// every number comes back as float64, objects as map[string]any and
	// arrays as []any, whatever Go type was serialized.
	Deserialize(data string) (any, error)
}

// envelope is the on-disk shape. Values are tagged so an error can be told
// apart from an application value that merely looks like one on the wire.
type envelope struct {
	Kind string          `json:"kind"`
	Type string          `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	kindValue = "value"
	kindError = "error"
)

// SerializedError is what a journaled error value deserializes into. The
// original Go error type is not reconstructed (Go has no reflective
// unpickling); the message and the original type name are preserved for
// diagnostics.
type SerializedError struct {
	OriginalType string `json:"type"`
	Message      string `json:"message"`
}

func (e *SerializedError) Error() string {
	return e.Message
}

// JSONSerializer is the default Serializer: a JSON envelope distinguishing
// plain values from error values.
type JSONSerializer struct{}

var _ Serializer = JSONSerializer{}

func (JSONSerializer) Serialize(v any) (string, error) {
	if v == nil {
		return NullLiteral, nil
	}

	if err, ok := v.(error); ok {
		data, marshalErr := json.Marshal(err.Error())
		if marshalErr != nil {
			return "", fmt.Errorf("serde: marshal error message: %w", marshalErr)
		}
		env := envelope{Kind: kindError, Type: fmt.Sprintf("%T", err), Data: data}
		out, marshalErr := json.Marshal(env)
		if marshalErr != nil {
			return "", fmt.Errorf("serde: marshal error envelope: %w", marshalErr)
		}
		return string(out), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serde: marshal value: %w", err)
	}
	env := envelope{Kind: kindValue, Data: data}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("serde: marshal value envelope: %w", err)
	}
	return string(out), nil
}

func (JSONSerializer) Deserialize(data string) (any, error) {
	if data == "" || data == NullLiteral {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("serde: unmarshal envelope: %w", err)
	}

	switch env.Kind {
	case kindError:
		var msg string
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				return nil, fmt.Errorf("serde: unmarshal error message: %w", err)
			}
		}
		return &SerializedError{OriginalType: env.Type, Message: msg}, nil
	case kindValue:
		if len(env.Data) == 0 {
			return nil, nil
		}
		var out any
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("serde: unmarshal value: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("serde: unknown envelope kind %q", env.Kind)
	}
}
