package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics holds the OpenTelemetry counterparts of the stage metrics
type OTelMetrics struct {
	stageRuns              metric.Int64Counter
	stageDuration          metric.Float64Histogram
	countersWrittenCounter metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return newOTelMetrics(otel.Meter(instrumentationName))
}

func newOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.stageRuns, err = meter.Int64Counter(
		"repostats.stage.runs",
		metric.WithDescription("Indexer stage runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage runs counter: %w", err)
	}

	m.stageDuration, err = meter.Float64Histogram(
		"repostats.stage.duration",
		metric.WithDescription("Indexer stage duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	m.countersWrittenCounter, err = meter.Int64Counter(
		"repostats.counters.written",
		metric.WithDescription("Stats counters written"),
		metric.WithUnit("{counter}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counters written counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) stageFinished(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.stageRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *OTelMetrics) countersWritten(kind, metricName, window string, n int) {
	if m == nil {
		return
	}
	m.countersWrittenCounter.Add(context.Background(), int64(n), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("metric", metricName),
		attribute.String("window", window),
	))
}
