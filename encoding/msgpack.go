// Package encoding provides centralized serialization for bucketd payloads.
// Journal records and broker messages MUST go through this package so the
// on-disk and on-wire formats stay consistent.
//
// Thread Safety: all functions are safe for concurrent use.
package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Supported payload formats
const (
	FormatMsgpack = "msgpack"
	FormatJSON    = "json"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Struct tags are shared with JSON so field names match across formats
	enc.SetCustomStructTag("json")

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data produced by Marshal.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	// Strings stay strings when decoding into interface{}
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}

// Encode serializes v using the named format. An empty format means msgpack.
func Encode(format string, v interface{}) ([]byte, error) {
	switch format {
	case "", FormatMsgpack:
		return Marshal(v)
	case FormatJSON:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unsupported payload format %q", format)
	}
}

// ValidFormat reports whether Encode understands the format.
func ValidFormat(format string) bool {
	return format == "" || format == FormatMsgpack || format == FormatJSON
}
