package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/internal/bufpool"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	"github.com/blockberries/nodegate/rpc"
)

// DefaultMaxBodyBytes bounds a request body when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Handler is an http.Handler answering JSON-RPC 2.0 requests. The token
// check runs before the body is read; a failure answers 401 for the whole
// request, batch included.
type Handler struct {
	dispatcher   *rpc.Dispatcher
	maxBodyBytes int64
	maxBatch     int
	logger       *logging.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodyBytes bounds the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// WithMaxBatch bounds the number of requests in a batch. 0 means unlimited.
func WithMaxBatch(n int) Option {
	return func(h *Handler) {
		h.maxBatch = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler creates a JSON-RPC handler dispatching to d.
func NewHandler(d *rpc.Dispatcher, opts ...Option) *Handler {
	h := &Handler{
		dispatcher:   d,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("jsonrpc")
	return h
}

// ServeHTTP handles a JSON-RPC request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principal, err := h.dispatcher.Authenticate(metrics.TransportHTTP, auth.FromHTTPRequest(r))
	if err != nil {
		w.Header().Set("WWW-Authenticate", "Bearer")
		h.writeJSON(w, http.StatusUnauthorized, NewErrorResponse(nil, rpc.ToError(err)))
		return
	}

	buf := bufpool.Get(int(r.ContentLength))
	defer bufpool.Put(buf)
	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge,
				NewErrorResponse(nil, rpc.NewError(rpc.CodeInvalidRequest, "Invalid Request", "request body too large")))
			return
		}
		h.writeJSON(w, http.StatusBadRequest, NewErrorResponse(nil, rpc.ErrParseError))
		return
	}

	body := buf.Bytes()
	ctx := auth.NewContext(r.Context(), principal)

	if IsBatch(body) {
		h.handleBatch(ctx, w, principal, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, NewErrorResponse(nil, rpc.ErrParseError))
		return
	}

	resp := h.Process(ctx, metrics.TransportHTTP, principal, &req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleBatch(ctx context.Context, w http.ResponseWriter, p *auth.Principal, body []byte) {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		h.writeJSON(w, http.StatusBadRequest, NewErrorResponse(nil, rpc.ErrParseError))
		return
	}
	if len(batch) == 0 {
		h.writeJSON(w, http.StatusBadRequest, NewErrorResponse(nil, rpc.ErrInvalidRequest))
		return
	}
	if h.maxBatch > 0 && len(batch) > h.maxBatch {
		h.writeJSON(w, http.StatusBadRequest,
			NewErrorResponse(nil, rpc.NewError(rpc.CodeInvalidRequest, "Invalid Request", "batch too large")))
		return
	}

	responses := make(BatchResponse, 0, len(batch))
	for _, raw := range batch {
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			responses = append(responses, *NewErrorResponse(nil, rpc.ErrInvalidRequest))
			continue
		}
		if resp := h.Process(ctx, metrics.TransportHTTP, p, &req); resp != nil {
			responses = append(responses, *resp)
		}
	}

	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, responses)
}

// Process runs a single request for p. It returns nil for notifications.
func (h *Handler) Process(ctx context.Context, transport string, p *auth.Principal, req *Request) *Response {
	if req.JSONRPC != Version || req.Method == "" {
		return NewErrorResponse(req.ID, rpc.ErrInvalidRequest)
	}

	result, rpcErr := h.dispatcher.Call(ctx, transport, p, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := NewResponse(req.ID, result)
	if err != nil {
		h.logger.Error("failed to encode result", logging.Method(req.Method), logging.Error(err))
		return NewErrorResponse(req.ID, rpc.ErrInternalError)
	}
	return resp
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	buf := bufpool.Get(0)
	defer bufpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
