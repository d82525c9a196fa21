package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/types"
)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Data)
	}
	return e.Message
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Gateway error codes, in the implementation-defined server error range.
const (
	CodeUnauthenticated  = -32001
	CodeUnauthorized     = -32003
	CodeChainUnavailable = -32010
	CodeChainIntegrity   = -32011
)

// NewError creates an error with optional data.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// Standard errors.
var (
	ErrParseError     = &Error{Code: CodeParseError, Message: "Parse error"}
	ErrInvalidRequest = &Error{Code: CodeInvalidRequest, Message: "Invalid Request"}
	ErrMethodNotFound = &Error{Code: CodeMethodNotFound, Message: "Method not found"}
	ErrInternalError  = &Error{Code: CodeInternalError, Message: "Internal error"}
)

// ToError maps err onto its wire error. Errors outside the gateway's
// taxonomy become an opaque internal error; callers log the original.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	if _, ok := types.IsChainIntegrity(err); ok {
		return NewError(CodeChainIntegrity, "Chain integrity violation", err.Error())
	}

	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		return NewError(CodeUnauthenticated, "Unauthenticated", err.Error())
	case errors.Is(err, types.ErrUnauthorized):
		return NewError(CodeUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, types.ErrInvalidArgument):
		return NewError(CodeInvalidParams, "Invalid params", err.Error())
	case errors.Is(err, types.ErrChainUnavailable):
		return NewError(CodeChainUnavailable, "Chain unavailable", err.Error())
	default:
		return ErrInternalError
	}
}

// IsInternal reports whether err maps to an opaque internal error that
// should be logged by the transport.
func IsInternal(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return ToError(err).Code == CodeInternalError
}

// HTTPStatus returns the HTTP status for a request that failed as a whole
// with err. Per-call errors inside a JSON-RPC response use 200.
func HTTPStatus(err error) int {
	switch ToError(err).Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeParseError, CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

// Outcome returns the metrics outcome label for err.
func Outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	switch ToError(err).Code {
	case CodeUnauthenticated:
		return metrics.OutcomeUnauthenticated
	case CodeUnauthorized:
		return metrics.OutcomeUnauthorized
	case CodeInvalidParams, CodeInvalidRequest, CodeParseError:
		return metrics.OutcomeInvalidArgument
	case CodeChainUnavailable:
		return metrics.OutcomeChainUnavailable
	case CodeChainIntegrity:
		return metrics.OutcomeChainIntegrity
	case CodeMethodNotFound:
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeInternal
	}
}
