package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCyclesTotal          = "aibottrading_cycles_total"
	MetricEntriesSubmitted     = "aibottrading_entries_submitted_total"
	MetricExitLegsMissingTotal = "aibottrading_exit_legs_missing_total"
	MetricAbortsTotal          = "aibottrading_aborts_total"
	MetricStaleExitsCancelled  = "aibottrading_stale_exits_cancelled_total"
	MetricGatewayLatency       = "aibottrading_gateway_latency_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	CyclesTotal         metric.Int64Counter
	EntriesSubmitted    metric.Int64Counter
	ExitLegsMissing     metric.Int64Counter
	AbortsTotal         metric.Int64Counter
	StaleExitsCancelled metric.Int64Counter
	GatewayLatency      metric.Float64Histogram

	initialized bool
	mu          sync.Mutex
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.CyclesTotal, err = meter.Int64Counter(MetricCyclesTotal,
		metric.WithDescription("Completed evaluation cycles by outcome")); err != nil {
		return err
	}
	if m.EntriesSubmitted, err = meter.Int64Counter(MetricEntriesSubmitted,
		metric.WithDescription("Market entry orders submitted")); err != nil {
		return err
	}
	if m.ExitLegsMissing, err = meter.Int64Counter(MetricExitLegsMissingTotal,
		metric.WithDescription("Protective legs skipped or rejected")); err != nil {
		return err
	}
	if m.AbortsTotal, err = meter.Int64Counter(MetricAbortsTotal,
		metric.WithDescription("Sequences aborted before entry by reason")); err != nil {
		return err
	}
	if m.StaleExitsCancelled, err = meter.Int64Counter(MetricStaleExitsCancelled,
		metric.WithDescription("Stale protective orders cancelled")); err != nil {
		return err
	}
	if m.GatewayLatency, err = meter.Float64Histogram(MetricGatewayLatency,
		metric.WithDescription("Exchange gateway call latency in milliseconds")); err != nil {
		return err
	}

	m.initialized = true
	return nil
}

// RecordCycle increments the cycle counter for a symbol/outcome pair.
func (m *MetricsHolder) RecordCycle(ctx context.Context, symbol, outcome string) {
	if m.CyclesTotal == nil {
		return
	}
	m.CyclesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("outcome", outcome),
	))
}

// RecordAbort increments the abort counter for a symbol/reason pair.
func (m *MetricsHolder) RecordAbort(ctx context.Context, symbol, reason string) {
	if m.AbortsTotal == nil {
		return
	}
	m.AbortsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("reason", reason),
	))
}

// RecordMissingLeg increments the missing-leg counter.
func (m *MetricsHolder) RecordMissingLeg(ctx context.Context, symbol, leg string) {
	if m.ExitLegsMissing == nil {
		return
	}
	m.ExitLegsMissing.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("leg", leg),
	))
}
