// Package codec encodes structured payloads for the store and decodes them
// back on a best-effort basis.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/rmacdonaldsmith/storemesh-go/pkg/message"
)

// ErrMalformed is returned by Decode for input that is not valid JSON
var ErrMalformed = errors.New("malformed structured value")

// Codec converts structured values to and from their string form.
type Codec interface {
	Encode(v any) (string, error)
	Decode(s string) (any, error)
}

// JSON is the default Codec.
type JSON struct{}

// Encode marshals v to a JSON string.
func (JSON) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(b), nil
}

// Decode unmarshals a JSON string. Syntax is checked with gjson first so
// plain text payloads are rejected without building a decoder.
func (JSON) Decode(s string) (any, error) {
	if !gjson.Valid(s) {
		return nil, ErrMalformed
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// DecodeMessage decodes an inbound payload. It never fails: anything the
// codec rejects is returned unchanged as message.Raw.
func DecodeMessage(c Codec, raw string) message.Payload {
	v, err := c.Decode(raw)
	if err != nil {
		return message.Raw(raw)
	}
	return message.Structured{Value: v}
}

// DecodeObject decodes raw and reports whether it is a JSON object.
// Malformed input and non-object values (arrays, scalars) are not found.
func DecodeObject(c Codec, raw string) (message.Object, bool) {
	v, err := c.Decode(raw)
	if err != nil {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	return obj, ok
}

var _ Codec = JSON{}
