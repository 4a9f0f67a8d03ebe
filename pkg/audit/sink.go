package audit

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/perfhub/pkg/contextkeys"
)

// Sink persists audit events
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// NoopSink discards events
type NoopSink struct{}

// Record implements Sink
func (NoopSink) Record(context.Context, *Event) error { return nil }

// WithSink adds a sink to the context
func WithSink(ctx context.Context, sink Sink) context.Context {
	return contextkeys.WithAuditSink(ctx, sink)
}

// FromContext returns the sink stored in ctx, or a NoopSink
func FromContext(ctx context.Context) Sink {
	if sink, ok := ctx.Value(contextkeys.AuditSinkKey).(Sink); ok {
		return sink
	}
	return NoopSink{}
}

// MultiSink fans an event out to several sinks. Every sink is attempted and
// the failures are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink writing to every non-nil sink given
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Record implements Sink
func (m *MultiSink) Record(ctx context.Context, event *Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Middleware makes a sink available to downstream handlers
type Middleware struct {
	sink Sink
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(sink Sink) *Middleware {
	return &Middleware{sink: sink}
}

// Handler wraps an HTTP handler with the audit sink
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithSink(r.Context(), m.sink)))
	})
}
