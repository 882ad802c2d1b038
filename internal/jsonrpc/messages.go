package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Message is the raw JSON representation of a JSON-RPC message.
type Message []byte

// Request is an inbound request envelope. SessionID carries the body-field
// form of the session identifier used by JSON-RPC style clients.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	ID             *RequestID      `json:"id,omitempty"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	SessionID      string          `json:"sessionId,omitempty"`
}

// Notification is a server-initiated message that expects no response.
type Notification struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response. Exactly one of Result or Error is
// set. ID is always encoded; it is null when the request id was unknown.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	ID             *RequestID      `json:"id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// NewResultResponse builds a successful JSON-RPC response object.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         resultBytes,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error JSON-RPC response with the given code.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// NewNotification builds a notification with params marshaled from v. A nil v
// produces a notification without params.
func NewNotification(method string, v any) (*Notification, error) {
	n := &Notification{JSONRPCVersion: ProtocolVersion, Method: method}
	if v == nil {
		return n, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	n.Params = b
	return n, nil
}

// rawRequest mirrors Request with every field left undecoded so that type
// mismatches can be reported as invalid requests instead of parse failures.
type rawRequest struct {
	JSONRPCVersion json.RawMessage `json:"jsonrpc"`
	ID             json.RawMessage `json:"id"`
	Method         json.RawMessage `json:"method"`
	Params         json.RawMessage `json:"params"`
	SessionID      json.RawMessage `json:"sessionId"`
}

// DecodeRequest parses and validates a request envelope.
//
// A payload that is not a JSON object yields an *Error with
// ErrorCodeParseError. A well-formed object whose fields violate the envelope
// rules yields ErrorCodeInvalidRequest; in that case the returned Request is
// non-nil and carries whatever ID could be recovered so the caller can echo it.
func DecodeRequest(data []byte) (*Request, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewError(ErrorCodeParseError, "invalid payload")
	}
	var raw rawRequest
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, NewError(ErrorCodeParseError, "invalid payload")
	}

	req := &Request{Params: raw.Params}

	if len(raw.ID) > 0 {
		var id RequestID
		if err := id.UnmarshalJSON(raw.ID); err != nil {
			return req, NewError(ErrorCodeInvalidRequest, "id must be a string or number")
		}
		if !id.IsNil() {
			req.ID = &id
		}
	}

	if err := decodeString(raw.JSONRPCVersion, &req.JSONRPCVersion); err != nil || req.JSONRPCVersion != ProtocolVersion {
		return req, Errorf(ErrorCodeInvalidRequest, "jsonrpc must be %q", ProtocolVersion)
	}
	if err := decodeString(raw.Method, &req.Method); err != nil || req.Method == "" {
		return req, NewError(ErrorCodeInvalidRequest, "method is required")
	}
	if req.ID == nil {
		return req, NewError(ErrorCodeInvalidRequest, "id is required")
	}
	if len(raw.SessionID) > 0 && !bytes.Equal(raw.SessionID, []byte("null")) {
		if err := decodeString(raw.SessionID, &req.SessionID); err != nil {
			return req, NewError(ErrorCodeInvalidRequest, "sessionId must be a string")
		}
	}
	if len(raw.Params) > 0 {
		switch raw.Params[0] {
		case '{', '[', 'n':
		default:
			return req, NewError(ErrorCodeInvalidRequest, "params must be an object or array")
		}
	}
	return req, nil
}

func decodeString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing")
	}
	return json.Unmarshal(raw, dst)
}
