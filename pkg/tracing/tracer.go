// Package tracing wraps the global OTel tracer for pipeline code. With no
// TracerProvider registered every call is a no-op.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "title-doctor"

// Span attribute keys shared by pipeline spans.
const (
	JobIDKey = attribute.Key("titledoctor.job.id")
	StageKey = attribute.Key("titledoctor.stage")
)

// Start opens a span under the one in ctx. The caller ends it.
func Start(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// StartStage opens the span for one pipeline stage of jobID, named
// "pipeline.<stage>".
func StartStage(ctx context.Context, stage, jobID string) (context.Context, trace.Span) {
	return Start(ctx, "pipeline."+stage, JobIDKey.String(jobID), StageKey.String(stage))
}

// Fail records err on span and marks it as errored. A nil err is a no-op.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
