package metrics

import (
	"net/http"
	"time"
)

// NopMetrics is a no-op implementation of the Metrics interface.
// Use this when metrics collection is disabled.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// Request metrics (no-op)

func (m *NopMetrics) IncRequests(transport, method, outcome string)                    {}
func (m *NopMetrics) ObserveRequestDuration(transport, method string, d time.Duration) {}
func (m *NopMetrics) IncAuthFailures(transport, reason string)                         {}
func (m *NopMetrics) IncRateLimited(transport string)                                  {}

// Chain metrics (no-op)

func (m *NopMetrics) SetTipHeight(height int64)         {}
func (m *NopMetrics) SetStagedTransactions(count int)   {}
func (m *NopMetrics) ObserveWalk(scanned, returned int) {}

// Stream metrics (no-op)

func (m *NopMetrics) IncActiveStreams(transport string) {}
func (m *NopMetrics) DecActiveStreams(transport string) {}
func (m *NopMetrics) IncNotifications(kind string)      {}

// Handler returns a handler that answers 404.
func (m *NopMetrics) Handler() http.Handler {
	return http.NotFoundHandler()
}

var _ Metrics = (*NopMetrics)(nil)
