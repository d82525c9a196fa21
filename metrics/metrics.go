// Package metrics collects gateway request, walk and stream metrics.
package metrics

import (
	"net/http"
	"time"
)

// Metrics defines the interface for collecting gateway metrics.
// All methods are designed to be thread-safe and non-blocking.
type Metrics interface {
	// Request metrics
	IncRequests(transport, method, outcome string)
	ObserveRequestDuration(transport, method string, d time.Duration)
	IncAuthFailures(transport, reason string)
	IncRateLimited(transport string)

	// Chain metrics
	SetTipHeight(height int64)
	SetStagedTransactions(count int)
	ObserveWalk(scanned, returned int)

	// Stream metrics
	IncActiveStreams(transport string)
	DecActiveStreams(transport string)
	IncNotifications(kind string)

	// Handler serves the collected metrics.
	Handler() http.Handler
}

// Transport labels.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportGRPC      = "grpc"
)

// Outcome labels. Error outcomes use the error class name.
const (
	OutcomeOK               = "ok"
	OutcomeUnauthenticated  = "unauthenticated"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeInvalidArgument  = "invalid_argument"
	OutcomeChainUnavailable = "chain_unavailable"
	OutcomeChainIntegrity   = "chain_integrity"
	OutcomeNotFound         = "method_not_found"
	OutcomeInternal         = "internal"
)

// Auth failure reason labels.
const (
	ReasonMissingToken = "missing_token"
	ReasonBadToken     = "bad_token"
	ReasonMissingClaim = "missing_claim"
)
