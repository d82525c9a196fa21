// Package jsonrpc serves the method table as JSON-RPC 2.0 over HTTP POST.
package jsonrpc

import (
	"bytes"
	"encoding/json"

	"github.com/blockberries/nodegate/rpc"
)

// Version is the only accepted protocol version.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request carries no id and expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpc.Error      `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// NewResponse creates a successful response.
func NewResponse(id json.RawMessage, result any) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, Result: data, ID: id}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id json.RawMessage, err *rpc.Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: id}
}

// BatchRequest is a batch of JSON-RPC requests.
type BatchRequest []Request

// BatchResponse is a batch of JSON-RPC responses.
type BatchResponse []Response

// IsBatch reports whether body holds a batch.
func IsBatch(body []byte) bool {
	body = bytes.TrimLeft(body, " \t\r\n")
	return len(body) > 0 && body[0] == '['
}
