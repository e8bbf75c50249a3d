package message

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrTypeMismatch is matched by errors.Is for every *TypeMismatchError
var ErrTypeMismatch = errors.New("payload must be a string or a structured value")

// TypeMismatchError reports a value that is neither a string nor object-like.
type TypeMismatchError struct {
	// Type is the Go type that was received.
	Type string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("payload of type %s is the wrong type: %v", e.Type, ErrTypeMismatch)
}

// Is allows errors.Is to match TypeMismatchError with ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// Payload is a message body: either Raw or Structured.
// Only the types in this package implement it.
type Payload interface {
	payload()
}

// Raw is a string payload sent and received without encoding.
type Raw string

func (Raw) payload() {}

// Structured is a payload encoded with the codec before it is published.
// Inbound messages that decode successfully arrive as Structured too.
type Structured struct {
	Value any
}

func (Structured) payload() {}

// Object is the shape of a decoded JSON object.
type Object = map[string]any

// NewStructured wraps an object-like value (map, struct, slice or array).
func NewStructured(v any) (Structured, error) {
	if !ObjectLike(v) {
		return Structured{}, &TypeMismatchError{Type: typeName(v)}
	}
	return Structured{Value: v}, nil
}

// Of classifies an arbitrary value: strings become Raw, object-like values
// become Structured and everything else is a type mismatch.
func Of(v any) (Payload, error) {
	switch t := v.(type) {
	case Payload:
		return t, nil
	case string:
		return Raw(t), nil
	}
	s, err := NewStructured(v)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Check rejects payloads that cannot be published.
func Check(p Payload) error {
	switch t := p.(type) {
	case Raw:
		return nil
	case Structured:
		if !ObjectLike(t.Value) {
			return &TypeMismatchError{Type: typeName(t.Value)}
		}
		return nil
	default:
		return &TypeMismatchError{Type: typeName(p)}
	}
}

// ObjectLike reports whether v encodes to a JSON object or array.
// Arrays are treated as structured values.
func ObjectLike(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return true
	default:
		return false
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
