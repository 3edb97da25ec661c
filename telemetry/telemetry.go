// Package telemetry abstracts the TelemetryProvider capability the core
// depends on (spec.md §1): a tracer capable of starting producer/consumer
// spans. The concrete backend (exporter, sampler, ...) is deliberately out
// of scope; this package only defines the capability and a default no-op
// implementation, plus a thin adapter over go.opentelemetry.io/otel for
// callers that do want a real backend.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	apiTrace "go.opentelemetry.io/otel/trace"
)

// SpanKind distinguishes the role a span plays in the messaging flow.
type SpanKind int

// Recognized span kinds.
const (
	Internal SpanKind = iota
	Producer
	Consumer
)

func (k SpanKind) otel() apiTrace.SpanKind {
	switch k {
	case Producer:
		return apiTrace.SpanKindProducer
	case Consumer:
		return apiTrace.SpanKindConsumer
	default:
		return apiTrace.SpanKindInternal
	}
}

// Attributes is a lightweight key-value attribute set, keeping callers from
// depending on the otel attribute package directly.
type Attributes map[string]any

func (a Attributes) kv() []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(a))
	for k, v := range a {
		switch tv := v.(type) {
		case string:
			out = append(out, attribute.String(k, tv))
		case bool:
			out = append(out, attribute.Bool(k, tv))
		case int:
			out = append(out, attribute.Int(k, tv))
		case int64:
			out = append(out, attribute.Int64(k, tv))
		case float64:
			out = append(out, attribute.Float64(k, tv))
		default:
			out = append(out, attribute.String(k, toString(v)))
		}
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return "unsupported"
}

// SpanOption adjusts a span at Start time.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind  SpanKind
	attrs Attributes
}

// WithSpanKind sets the span's role.
func WithSpanKind(k SpanKind) SpanOption {
	return func(c *spanConfig) { c.kind = k }
}

// WithAttributes attaches attributes at span-start time.
func WithAttributes(attrs Attributes) SpanOption {
	return func(c *spanConfig) { c.attrs = attrs }
}

// Span is a single unit of tracing work. Callers must call End exactly once.
type Span interface {
	// SetAttributes attaches additional attributes to the span.
	SetAttributes(attrs Attributes)

	// End completes the span; a non-nil err marks it as failed.
	End(err error)
}

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
}

// Provider is the TelemetryProvider capability consumed by the publish and
// worker pipelines.
type Provider interface {
	Tracer() Tracer
}

// otelTracer adapts an apiTrace.Tracer into the Tracer interface.
type otelTracer struct {
	t apiTrace.Tracer
}

// NewOtelProvider wraps an OpenTelemetry TracerProvider's tracer for name.
func NewOtelProvider(tp apiTrace.TracerProvider, name string) Provider {
	return &otelProvider{t: &otelTracer{t: tp.Tracer(name)}}
}

type otelProvider struct{ t Tracer }

func (p *otelProvider) Tracer() Tracer { return p.t }

func (t *otelTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := spanConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	ctx, sp := t.t.Start(ctx, name, apiTrace.WithSpanKind(cfg.kind.otel()))
	if len(cfg.attrs) > 0 {
		sp.SetAttributes(cfg.attrs.kv()...)
	}
	return ctx, &otelSpan{sp: sp}
}

type otelSpan struct {
	sp apiTrace.Span
}

func (s *otelSpan) SetAttributes(attrs Attributes) {
	s.sp.SetAttributes(attrs.kv()...)
}

func (s *otelSpan) End(err error) {
	if err != nil {
		s.sp.RecordError(err)
		s.sp.SetStatus(codes.Error, err.Error())
	} else {
		s.sp.SetStatus(codes.Ok, "")
	}
	s.sp.End()
}

// noopProvider implements Provider without any tracing backend; it is the
// library default when no TelemetryProvider is supplied.
type noopProvider struct{}

// NoOp returns a Provider whose spans do nothing. Used as the default when
// a caller doesn't supply a TelemetryProvider.
func NoOp() Provider { return noopProvider{} }

func (noopProvider) Tracer() Tracer { return noopTracer{} }

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttributes(Attributes) {}
func (noopSpan) End(error)                {}
