package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestID represents a JSON-RPC ID that can be either a string or a number.
// The original JSON token is retained so that responses echo the identifier
// byte-for-byte, including number formatting such as 1.0 or 1e3.
type RequestID struct {
	raw json.RawMessage
}

// NewRequestID creates a RequestID from a string or number.
func NewRequestID(value any) *RequestID {
	switch value.(type) {
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		b, err := json.Marshal(value)
		if err != nil {
			return &RequestID{}
		}
		return &RequestID{raw: b}
	default:
		return &RequestID{}
	}
}

// String returns the string representation of the ID. String IDs are
// returned unquoted; numbers are returned as they appeared on the wire.
func (id *RequestID) String() string {
	if id.IsNil() {
		return ""
	}
	if id.raw[0] == '"' {
		var s string
		if err := json.Unmarshal(id.raw, &s); err == nil {
			return s
		}
	}
	return string(id.raw)
}

// IsNil returns true if the ID is nil/empty
func (id *RequestID) IsNil() bool {
	return id == nil || len(id.raw) == 0
}

// MarshalJSON implements json.Marshaler. A nil ID encodes as null, which is
// what JSON-RPC requires when the request identifier could not be determined.
func (id *RequestID) MarshalJSON() ([]byte, error) {
	if id.IsNil() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON implements json.Unmarshaler. Only strings and numbers are
// accepted; null leaves the ID empty.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		id.raw = nil
		return nil
	}
	switch {
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
		}
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
		}
	default:
		return fmt.Errorf("JSON-RPC ID must be a string or number, got: %s", string(data))
	}
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}
