// Package o11y defines the metrics and tracing hooks used by the plcdash
// app runtime, the Socket.IO client and the simulator. The otel package
// implements them on OpenTelemetry and MemoryMetrics keeps counters in
// process. Components take a nil provider to mean "not instrumented"; the
// helpers below accept nil instruments so call sites need no guards.
package o11y

import (
	"context"
	"time"
)

type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter only goes up: events emitted, readings sent, plugins started.
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records durations in seconds, e.g. plugin setup or a
// simulator POST.
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge holds a current value such as socketio_connected (0 or 1).
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

type Label struct {
	Key   string
	Value string
}

type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// StartSpan starts a span named name carrying labels. With a nil provider
// it returns ctx unchanged and a span that does nothing.
func StartSpan(ctx context.Context, provider TracingProvider, name string, labels ...Label) (context.Context, Span) {
	if provider == nil {
		return ctx, noopSpan{}
	}

	ctx, span := provider.StartSpan(ctx, name)
	if len(labels) > 0 {
		span.SetAttributes(labels...)
	}
	return ctx, span
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span Span, err error) {
	if err != nil {
		span.SetStatus(SpanStatusError, err.Error())
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.End()
}

// Inc adds one to counter, if there is one.
func Inc(ctx context.Context, counter Counter, labels ...Label) {
	if counter != nil {
		counter.Add(ctx, 1, labels...)
	}
}

// ObserveSince records the seconds elapsed since start, if there is a
// histogram.
func ObserveSince(ctx context.Context, histogram Histogram, start time.Time, labels ...Label) {
	if histogram != nil {
		histogram.Record(ctx, time.Since(start).Seconds(), labels...)
	}
}

type noopSpan struct{}

func (noopSpan) SetAttributes(...Label)            {}
func (noopSpan) SetStatus(SpanStatusCode, string) {}
func (noopSpan) End()                             {}
