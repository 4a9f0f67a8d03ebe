package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/platinummonkey/perfhub"

// OTelMetrics records authorization metrics through the global OpenTelemetry meter
type OTelMetrics struct {
	decisions     metric.Int64Counter
	checkDuration metric.Float64Histogram
	cacheLookups  metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(meterName))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.decisions, err = meter.Int64Counter(
		"authz.decisions",
		metric.WithDescription("Total number of permission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.decisions counter: %w", err)
	}

	m.checkDuration, err = meter.Float64Histogram(
		"authz.check.duration",
		metric.WithDescription("Permission check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.check.duration histogram: %w", err)
	}

	m.cacheLookups, err = meter.Int64Counter(
		"authz.cache.lookups",
		metric.WithDescription("Total number of authorization cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authz.cache.lookups counter: %w", err)
	}

	return m, nil
}

// ObserveDecision records a permission decision
func (m *OTelMetrics) ObserveDecision(allowed bool, code string, duration time.Duration) {
	ctx := context.Background()
	result := attribute.String("result", resultLabel(allowed))
	m.decisions.Add(ctx, 1, metric.WithAttributes(result, attribute.String("code", code)))
	m.checkDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(result))
}

// ObserveCacheLookup records a cache hit or miss
func (m *OTelMetrics) ObserveCacheLookup(kind string, hit bool) {
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("hit", hit),
	))
}

// Recorder is the metrics surface of the authorization engine
type Recorder interface {
	ObserveDecision(allowed bool, code string, duration time.Duration)
	ObserveCacheLookup(kind string, hit bool)
}

// Recorders fans observations out to several recorders
type Recorders []Recorder

// ObserveDecision records the decision on every recorder
func (rs Recorders) ObserveDecision(allowed bool, code string, duration time.Duration) {
	for _, r := range rs {
		r.ObserveDecision(allowed, code, duration)
	}
}

// ObserveCacheLookup records the lookup on every recorder
func (rs Recorders) ObserveCacheLookup(kind string, hit bool) {
	for _, r := range rs {
		r.ObserveCacheLookup(kind, hit)
	}
}
