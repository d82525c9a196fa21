package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blockberries/nodegate/auth"
	"github.com/blockberries/nodegate/logging"
	"github.com/blockberries/nodegate/metrics"
	tracing "github.com/blockberries/nodegate/tracing/otel"
	"github.com/blockberries/nodegate/types"
)

// Dispatcher runs table methods on behalf of every transport. It performs
// the per-method claim check, decodes arguments, and records the outcome.
type Dispatcher struct {
	table    *Table
	resolver Resolver
	gate     *auth.Gate
	logger   *logging.Logger
	metrics  metrics.Metrics
	tracer   *tracing.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// WithTable replaces the method table.
func WithTable(t *Table) Option {
	return func(d *Dispatcher) {
		d.table = t
	}
}

// NewDispatcher creates a dispatcher over resolver guarded by gate.
func NewDispatcher(resolver Resolver, gate *auth.Gate, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:    NewTable(Methods()),
		resolver: resolver,
		gate:     gate,
		logger:   logging.NewNopLogger(),
		metrics:  metrics.NewNopMetrics(),
		tracer:   tracing.NewTracer("nodegate/rpc"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("rpc")
	return d
}

// Table returns the method table.
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Gate returns the access gate.
func (d *Dispatcher) Gate() *auth.Gate {
	return d.gate
}

// Call runs method name for principal p. The returned error is nil on
// success and otherwise already mapped to its wire form; internal errors
// and panics are logged with their details and returned opaque.
func (d *Dispatcher) Call(ctx context.Context, transport string, p *auth.Principal, name string, params json.RawMessage) (result any, rpcErr *Error) {
	start := time.Now()
	method := name

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in method handler",
				logging.Transport(transport),
				logging.Method(method),
				logging.Error(fmt.Errorf("%v", r)))
			result, rpcErr = nil, ErrInternalError
		}
		var err error
		if rpcErr != nil {
			err = rpcErr
		}
		d.metrics.IncRequests(transport, method, Outcome(err))
		d.metrics.ObserveRequestDuration(transport, method, time.Since(start))
	}()

	m, ok := d.table.Lookup(name)
	if !ok {
		method = "unknown"
		return nil, ErrMethodNotFound
	}
	method = m.Name

	if err := d.gate.Authorize(p, m.Name); err != nil {
		d.metrics.IncAuthFailures(transport, metrics.ReasonMissingClaim)
		d.logger.Debug("method denied",
			logging.Transport(transport),
			logging.Method(m.Name),
			logging.Reason(err.Error()))
		return nil, ToError(err)
	}

	args, err := DecodeArgs(m, params)
	if err != nil {
		return nil, ToError(err)
	}

	ctx, span := d.tracer.StartSpan(ctx, "rpc."+m.Name,
		attribute.String("rpc.transport", transport),
		attribute.String("rpc.method", m.Name))
	defer span.End()

	result, err = m.Call(ctx, d.resolver, args)
	if err != nil {
		span.RecordError(err)
		if IsInternal(err) {
			d.logger.Error("unhandled error",
				logging.Transport(transport),
				logging.Method(m.Name),
				logging.Error(err))
		}
		return nil, ToError(err)
	}
	return result, nil
}

// Authenticate runs the gate's token check and records failures.
func (d *Dispatcher) Authenticate(transport string, c auth.Credentials) (*auth.Principal, error) {
	p, err := d.gate.Authenticate(c)
	if err != nil {
		reason := metrics.ReasonBadToken
		if c.Token == "" {
			reason = metrics.ReasonMissingToken
		}
		d.metrics.IncAuthFailures(transport, reason)
		d.metrics.IncRequests(transport, "unknown", metrics.OutcomeUnauthenticated)
		d.logger.Debug("request rejected",
			logging.Transport(transport),
			logging.RemoteAddr(c.RemoteAddr),
			logging.Reason(reason))
		return nil, err
	}
	return p, nil
}

// IsUnauthenticated reports whether err rejects a whole request.
func IsUnauthenticated(err error) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == CodeUnauthenticated
	}
	return errors.Is(err, types.ErrUnauthenticated)
}
