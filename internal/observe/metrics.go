// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/parleyio/parley"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks voice-note transcription latency.
	STTDuration metric.Float64Histogram

	// SupervisorDuration tracks one supervisor run: model turns plus any
	// tool and agent hops until the final reply.
	SupervisorDuration metric.Float64Histogram

	// TTSDuration tracks reply speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ExchangeDuration tracks one full worker exchange: stream pickup to
	// outbound publish.
	ExchangeDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// StreamLag tracks how long a message sat in the inbound stream before
	// a worker picked it up.
	StreamLag metric.Float64Histogram

	// --- Counters ---

	// InboundMessages counts accepted webhook messages. Use with attribute:
	//   attribute.String("source", ...)
	InboundMessages metric.Int64Counter

	// Deliveries counts dispatcher outcomes. Use with attributes:
	//   attribute.String("source", ...), attribute.String("status", ...)
	Deliveries metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolValidationFailures counts schema rejections around tool calls.
	// Use with attributes:
	//   attribute.String("tool", ...), attribute.String("stage", ...)
	ToolValidationFailures metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveExchanges tracks worker exchanges currently in flight.
	ActiveExchanges metric.Int64UpDownCounter

	// ActiveDeliveries tracks dispatcher sends currently in flight.
	ActiveDeliveries metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets cover supervisor runs, which regularly take tens of seconds when
// several tool hops are involved.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("parley.stt.duration",
		metric.WithDescription("Latency of voice-note transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SupervisorDuration, err = m.Float64Histogram("parley.supervisor.duration",
		metric.WithDescription("Latency of one supervisor run, including tool and agent hops."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of reply speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExchangeDuration, err = m.Float64Histogram("parley.exchange.duration",
		metric.WithDescription("End-to-end worker exchange latency, pickup to publish."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("parley.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StreamLag, err = m.Float64Histogram("parley.stream.lag",
		metric.WithDescription("Time an inbound message waited in the stream before pickup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.InboundMessages, err = m.Int64Counter("parley.inbound.messages",
		metric.WithDescription("Total accepted webhook messages by source channel."),
	); err != nil {
		return nil, err
	}
	if met.Deliveries, err = m.Int64Counter("parley.deliveries",
		metric.WithDescription("Total dispatcher outcomes by source channel and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("parley.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolValidationFailures, err = m.Int64Counter("parley.tool.validation_failures",
		metric.WithDescription("Total tool schema rejections by tool name and stage."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveExchanges, err = m.Int64UpDownCounter("parley.active_exchanges",
		metric.WithDescription("Worker exchanges currently in flight."),
	); err != nil {
		return nil, err
	}
	if met.ActiveDeliveries, err = m.Int64UpDownCounter("parley.active_deliveries",
		metric.WithDescription("Dispatcher sends currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Before [InitProvider] runs this records into the no-op global
// provider, so library code may call it unconditionally. Panics if instrument
// creation fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordInboundMessage counts one accepted webhook message.
func (m *Metrics) RecordInboundMessage(ctx context.Context, source string) {
	m.InboundMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordDelivery counts one dispatcher outcome.
func (m *Metrics) RecordDelivery(ctx context.Context, source, status string) {
	m.Deliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest counts one provider API call with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordToolValidationFailure counts one schema rejection. Stage is "args"
// for pre-execution rejections and "result" for post-execution ones.
func (m *Metrics) RecordToolValidationFailure(ctx context.Context, tool, stage string) {
	m.ToolValidationFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("stage", stage),
		),
	)
}
