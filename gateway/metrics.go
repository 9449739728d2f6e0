package gateway

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "verdantdo/gateway"
	mutationEventName   = "mutation"
	mutationEventDomain = "verdantdo.gateway"
	observabilityEvent  = "observability.event"
)

type mutationMetrics struct {
	logger    *log.Logger
	span      trace.Span
	start     time.Time
	op        string
	principal string
}

func newMutationMetrics(ctx context.Context, logger *log.Logger, op, principal string) (*mutationMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gateway."+op, trace.WithSpanKind(trace.SpanKindClient))
	return &mutationMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		op:        op,
		principal: principal,
	}, ctx
}

// Log records the outcome on the span and as one structured log entry, then
// ends the span.
func (m *mutationMetrics) Log(err *Error) {
	severityText, severityNumber, level := severityFor(err)
	attrs := []attribute.KeyValue{
		attribute.String("event.name", mutationEventName),
		attribute.String("event.domain", mutationEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
		attribute.String("mutation.op", m.op),
		attribute.String("enduser.id", m.principal),
		attribute.Float64("mutation.total_ms", durationToMillis(time.Since(m.start))),
	}
	if err != nil {
		attrs = append(attrs,
			attribute.String("mutation.kind", string(err.Kind)),
			attribute.String("error.message", err.Err.Error()))
	}
	m.span.SetAttributes(attrs[4:]...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(attrs...))
	if err != nil {
		m.span.RecordError(err.Err)
		m.span.SetStatus(codes.Error, err.Error())
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToMap(attrs[4:]),
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	m.logger.WithFields(fields).Log(level, observabilityEvent)
	m.span.End()
}

func severityFor(err *Error) (string, int, log.Level) {
	if err == nil {
		return "INFO", 9, log.InfoLevel
	}
	switch err.Kind {
	case KindInvalid, KindNotFound, KindPermissionDenied:
		return "WARN", 13, log.WarnLevel
	default:
		return "ERROR", 17, log.ErrorLevel
	}
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
