package fastjson

import (
	"errors"
	"io"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Number is the literal type produced by DecodeValue for JSON numbers.
type Number = gojson.Number

// RawMessage is a raw encoded JSON value.
type RawMessage = gojson.RawMessage

// ErrTrailingData is returned by DecodeValue when the input holds more than one JSON value.
var ErrTrailingData = errors.New("unexpected data after top-level value")

// Marshal serializes v to JSON using the goccy encoder.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal deserializes JSON data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// NewEncoder creates a new JSON encoder that writes to w.
func NewEncoder(w io.Writer) *gojson.Encoder {
	return gojson.NewEncoder(w)
}

// NewDecoder creates a new JSON decoder that reads from r.
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}

// MarshalIndent is like Marshal but applies indentation for pretty-printing.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// DecodeValue decodes exactly one JSON value into the generic model
// (map[string]interface{}, []interface{}, string, bool, Number, nil).
// Numbers are kept as Number literals so callers decide on precision.
func DecodeValue(s string) (interface{}, error) {
	dec := gojson.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var extra interface{}
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return nil, ErrTrailingData
		}
		return nil, err
	}
	return v, nil
}
