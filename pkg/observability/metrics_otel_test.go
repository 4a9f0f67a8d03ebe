package observability

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetrics_Records(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewOTelMetricsWithMeter(provider.Meter(meterName))
	if err != nil {
		t.Fatalf("NewOTelMetricsWithMeter() error = %v", err)
	}

	m.ObserveDecision(false, "permission_not_granted", time.Millisecond)
	m.ObserveDecision(true, "", time.Millisecond)
	m.ObserveCacheLookup("membership", true)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			if md.Name == "authz.decisions" {
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("authz.decisions data is %T", md.Data)
				}
				var total int64
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
				if total != 2 {
					t.Errorf("decisions total = %d, want 2", total)
				}
			}
		}
	}

	for _, name := range []string{"authz.decisions", "authz.check.duration", "authz.cache.lookups"} {
		if !found[name] {
			t.Errorf("metric %s not collected", name)
		}
	}
}
