package middleware_test

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/leftonspace/conduit/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordsDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		return nil, nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "conduit.job.duration")
	if metric == nil {
		t.Fatal("conduit.job.duration metric not found")
	}

	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("expected Histogram[float64] data type")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points recorded for duration")
	}
	if hist.DataPoints[0].Count != 1 {
		t.Errorf("expected count=1, got %d", hist.DataPoints[0].Count)
	}
}

func TestMetrics_StatusAttribute(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		want       string
	}{
		{"success", nil, "ok"},
		{"failure", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, mp := setupTestMeter()
			m := middleware.MetricsWithMeter(mp.Meter("test"))

			_, _ = m(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
				return nil, tt.handlerErr
			})

			rm := collectMetrics(t, reader)
			metric := findMetric(rm, "conduit.job.executions")
			if metric == nil {
				t.Fatal("conduit.job.executions metric not found")
			}
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatal("expected Sum[int64] data type")
			}
			if len(sum.DataPoints) == 0 {
				t.Fatal("no data points recorded")
			}
			if sum.DataPoints[0].Value != 1 {
				t.Errorf("value = %d, want 1", sum.DataPoints[0].Value)
			}

			found := false
			for _, attr := range sum.DataPoints[0].Attributes.ToSlice() {
				if string(attr.Key) == "status" && attr.Value.AsString() == tt.want {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected status=%s attribute on executions counter", tt.want)
			}
		})
	}
}

func TestMetrics_QueueAndDependencyAttributes(t *testing.T) {
	reader, mp := setupTestMeter()
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	_, _ = m(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		return nil, nil
	})

	rm := collectMetrics(t, reader)
	metric := findMetric(rm, "conduit.job.executions")
	if metric == nil {
		t.Fatal("conduit.job.executions metric not found")
	}
	sum := metric.Data.(metricdata.Sum[int64])

	got := map[string]string{}
	for _, attr := range sum.DataPoints[0].Attributes.ToSlice() {
		got[string(attr.Key)] = attr.Value.AsString()
	}
	if got["queue"] != "invoices" {
		t.Errorf("queue attribute = %q, want invoices", got["queue"])
	}
	if got["dependency"] != "tax-authority" {
		t.Errorf("dependency attribute = %q, want tax-authority", got["dependency"])
	}
}
