// Package mcp implements the line-delimited JSON-RPC 2.0 engine that exposes
// the audit service to desktop assistant hosts over stdin and stdout.
package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// NotificationPrefix marks methods that never receive a reply.
const NotificationPrefix = "notifications/"

// HeartbeatMethod is the server-initiated keep-alive notification.
const HeartbeatMethod = "server/heartbeat"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object. Handlers return it to choose the code
// sent to the client; any other error becomes CodeInternalError.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with optional data.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func parseError(detail string) *Error {
	return NewError(CodeParseError, "Parse error", detail)
}

func invalidRequest(detail string) *Error {
	return NewError(CodeInvalidRequest, "Invalid Request", detail)
}

func methodNotFound(method string) *Error {
	return NewError(CodeMethodNotFound, "Method not found", map[string]string{"method": method})
}

// InvalidParams reports a params problem with optional structured data.
func InvalidParams(data any) *Error {
	return NewError(CodeInvalidParams, "Invalid params", data)
}

// InternalError wraps an unexpected failure.
func InternalError(data any) *Error {
	return NewError(CodeInternalError, "Internal error", data)
}

// Request is a structurally valid inbound message.
type Request struct {
	Method string
	Params json.RawMessage
	// ID is the raw id (number or string); nil for notifications.
	ID json.RawMessage
}

// IsNotification reports whether the message must not be answered.
func (r *Request) IsNotification() bool {
	return r.ID == nil || strings.HasPrefix(r.Method, NotificationPrefix)
}

// resultEnvelope keeps "result" even when null; field order is the wire order.
type resultEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	ID      json.RawMessage `json:"id"`
}

// errorEnvelope marshals a nil ID as null.
type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

type notificationEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// decodeRequest validates one line. It returns a *Error for lines that must be
// answered with an error, along with the best-effort id to answer with.
func decodeRequest(line []byte) (*Request, json.RawMessage, *Error) {
	if !json.Valid(line) {
		return nil, nil, parseError("invalid JSON")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil || fields == nil {
		return nil, nil, invalidRequest("message must be a JSON object")
	}

	id, ok := validID(fields["id"])
	if !ok {
		return nil, nil, invalidRequest("id must be a string, number or null")
	}

	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != Version {
		return nil, id, invalidRequest(`jsonrpc must be "2.0"`)
	}

	var method string
	if err := json.Unmarshal(fields["method"], &method); err != nil || method == "" {
		return nil, id, invalidRequest("method must be a non-empty string")
	}

	params := fields["params"]
	if isNull(params) {
		params = nil
	}

	return &Request{Method: method, Params: params, ID: id}, id, nil
}

// validID returns nil for an absent or null id.
func validID(raw json.RawMessage) (json.RawMessage, bool) {
	if isNull(raw) {
		return nil, true
	}
	switch raw[0] {
	case '"':
		if utf8.Valid(raw) {
			return raw, true
		}
		// Replies must be valid UTF-8; decoding substitutes U+FFFD.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		clean, err := json.Marshal(s)
		if err != nil {
			return nil, false
		}
		return clean, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return raw, true
	default:
		return nil, false
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
