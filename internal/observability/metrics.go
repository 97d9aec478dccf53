package observability

import (
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics bundles the OTel instruments shared across the consumer and
// producer, following the shape of the teacher's internal/observability
// Metrics struct but backed by real instruments instead of no-ops, since this
// repo wires the full OTel/Prometheus stack rather than stripping it.
type Metrics struct {
	MessagesProcessed otelmetric.Int64Counter
	MessagesFailed    otelmetric.Int64Counter
	HeartbeatExtends  otelmetric.Int64Counter
	HeartbeatFailures otelmetric.Int64Counter
	GuardErrors       otelmetric.Int64Counter
	ProcessingLatency otelmetric.Float64Histogram
	QueueDepthGauge   otelmetric.Int64UpDownCounter
}

// NewMetrics creates and registers the instruments against the global meter
// provider. Call SetupOpenTelemetry first so the provider is Prometheus-backed.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("taskbridge")

	processed, err := meter.Int64Counter("bridge_messages_processed_total")
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("bridge_messages_failed_total")
	if err != nil {
		return nil, err
	}
	hbExtend, err := meter.Int64Counter("bridge_heartbeat_extensions_total")
	if err != nil {
		return nil, err
	}
	hbFail, err := meter.Int64Counter("bridge_heartbeat_failures_total")
	if err != nil {
		return nil, err
	}
	guardErr, err := meter.Int64Counter("bridge_scalein_guard_errors_total")
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("bridge_processing_duration_seconds")
	if err != nil {
		return nil, err
	}
	queueDepth, err := meter.Int64UpDownCounter("bridge_in_flight_messages")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		MessagesProcessed: processed,
		MessagesFailed:    failed,
		HeartbeatExtends:  hbExtend,
		HeartbeatFailures: hbFail,
		GuardErrors:       guardErr,
		ProcessingLatency: latency,
		QueueDepthGauge:   queueDepth,
	}, nil
}

// Noop returns a Metrics whose instruments are backed by a no-op meter
// provider, for tests and for callers that disable metrics entirely.
func Noop() *Metrics {
	meter := noop.NewMeterProvider().Meter("taskbridge")
	processed, _ := meter.Int64Counter("bridge_messages_processed_total")
	failed, _ := meter.Int64Counter("bridge_messages_failed_total")
	hbExtend, _ := meter.Int64Counter("bridge_heartbeat_extensions_total")
	hbFail, _ := meter.Int64Counter("bridge_heartbeat_failures_total")
	guardErr, _ := meter.Int64Counter("bridge_scalein_guard_errors_total")
	latency, _ := meter.Float64Histogram("bridge_processing_duration_seconds")
	queueDepth, _ := meter.Int64UpDownCounter("bridge_in_flight_messages")
	return &Metrics{
		MessagesProcessed: processed,
		MessagesFailed:    failed,
		HeartbeatExtends:  hbExtend,
		HeartbeatFailures: hbFail,
		GuardErrors:       guardErr,
		ProcessingLatency: latency,
		QueueDepthGauge:   queueDepth,
	}
}
