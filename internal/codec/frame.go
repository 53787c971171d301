// Package codec implements the relay's control-channel wire format: newline
// delimited JSON objects, one per line, each carrying a discriminating "type"
// field (§4.A).
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Type is the frame discriminator carried in every message's "type" field.
type Type string

const (
	TypeRegister   Type = "register"
	TypeRegistered Type = "registered"
	TypeError      Type = "error"
	TypeRequest    Type = "request"
	TypeResponse   Type = "response"
)

// ErrUnknownFrameType is returned by Parse when a frame's "type" field does
// not match one of the defined variants. Unknown types are parse errors, not
// silently ignored frames.
var ErrUnknownFrameType = errors.New("codec: unknown frame type")

// Register is sent by a client once, immediately after connecting.
type Register struct {
	Type       Type   `json:"type"`
	Token      string `json:"token"`
	TargetPort int    `json:"targetPort"`
}

// Registered acknowledges a successful register.
type Registered struct {
	Type Type `json:"type"`
}

// Error is terminal: the sender closes the stream immediately after writing it.
type Error struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// Request carries one forwarded HTTP request, server to client. Body is
// base64-encoded on the wire; encoding/json does this transparently for a
// []byte field.
type Request struct {
	Type    Type        `json:"type"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Path    string      `json:"path"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// Response carries one forwarded HTTP response, client to server.
type Response struct {
	Type    Type        `json:"type"`
	ID      string      `json:"id"`
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// NewRegistered builds a ready-to-send Registered frame.
func NewRegistered() *Registered { return &Registered{Type: TypeRegistered} }

// NewError builds a ready-to-send Error frame.
func NewError(message string) *Error { return &Error{Type: TypeError, Message: message} }

// NewRequest builds a ready-to-send Request frame.
func NewRequest(id, method, path string, headers http.Header, body []byte) *Request {
	return &Request{Type: TypeRequest, ID: id, Method: method, Path: path, Headers: headers, Body: body}
}

// NewResponse builds a ready-to-send Response frame.
func NewResponse(id string, status int, headers http.Header, body []byte) *Response {
	return &Response{Type: TypeResponse, ID: id, Status: status, Headers: headers, Body: body}
}

// Parse inspects raw's "type" field with gjson (cheap enough to run on every
// inbound line without committing to a full unmarshal of the wrong shape),
// then unmarshals into the matching concrete type.
func Parse(raw []byte) (any, error) {
	t := gjson.GetBytes(raw, "type")
	if !t.Exists() {
		return nil, fmt.Errorf("%w: missing \"type\" field", ErrUnknownFrameType)
	}

	switch Type(t.String()) {
	case TypeRegister:
		var f Register
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("codec: malformed register frame: %w", err)
		}
		return &f, nil
	case TypeRegistered:
		var f Registered
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("codec: malformed registered frame: %w", err)
		}
		return &f, nil
	case TypeError:
		var f Error
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("codec: malformed error frame: %w", err)
		}
		return &f, nil
	case TypeRequest:
		var f Request
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("codec: malformed request frame: %w", err)
		}
		return &f, nil
	case TypeResponse:
		var f Response
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("codec: malformed response frame: %w", err)
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, t.String())
	}
}
