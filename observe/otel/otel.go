// Package otel turns the loop's event stream into OpenTelemetry traces. A run
// is one trace: a root span for the run, a child span per round and a
// grandchild per executed action. Approvals, captured frames and checkpoints
// become span events on whichever span is open.
package otel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/PipeOpsHQ/vnc-use-go/observe"
	"github.com/PipeOpsHQ/vnc-use-go/types"
)

const instrumentationName = "github.com/PipeOpsHQ/vnc-use-go/observe/otel"

const maxMessageLen = 1024

type openSpan struct {
	ctx  context.Context
	span trace.Span
}

func (o *openSpan) end(at time.Time) {
	if o != nil {
		o.span.End(trace.WithTimestamp(at))
	}
}

// runTrace holds the spans that are open for one run.
type runTrace struct {
	run    openSpan
	round  *openSpan
	action *openSpan
}

// innermost is the span that point-in-time events attach to.
func (r *runTrace) innermost() trace.Span {
	switch {
	case r.action != nil:
		return r.action.span
	case r.round != nil:
		return r.round.span
	}
	return r.run.span
}

// Sink implements observe.Sink. It is safe for concurrent runs.
type Sink struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*runTrace
}

// NewSink traces with tp, or with a no-op provider when tp is nil.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{tracer: tp.Tracer(instrumentationName), runs: map[string]*runTrace{}}
}

func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	if event.RunID == "" {
		return nil
	}
	event.Normalize()
	at := event.Timestamp

	s.mu.Lock()
	defer s.mu.Unlock()

	rt := s.runs[event.RunID]
	if rt == nil {
		if !opensTrace(event.Type) {
			return nil
		}
		rt = s.startRun(event)
	}

	switch event.Type {
	case types.EventRunStarted:
		rt.run.span.SetAttributes(attribute.String("vnc.task", truncate(event.Message)))

	case types.EventRoundStarted:
		rt.action.end(at)
		rt.action = nil
		rt.round.end(at)
		rt.round = s.child(rt.run.ctx, "vnc.round", at, attribute.Int("vnc.step", event.Step))

	case types.EventBeforeAction:
		parent := rt.run.ctx
		if rt.round != nil {
			parent = rt.round.ctx
		}
		rt.action.end(at)
		rt.action = s.child(parent, "vnc.action."+event.ActionName, at,
			attribute.String("vnc.action", event.ActionName),
			attribute.Int("vnc.step", event.Step),
		)

	case types.EventAfterAction:
		if rt.action == nil {
			return nil
		}
		if event.Message != "" {
			rt.action.span.SetAttributes(attribute.String("vnc.action.result", truncate(event.Message)))
		}
		markFailure(rt.action.span, event)
		rt.action.end(at)
		rt.action = nil

	case types.EventBeforePropose:
		// The round span already covers planning.

	case types.EventAfterPropose:
		span := rt.innermost()
		span.AddEvent("planner.proposed", trace.WithTimestamp(at), trace.WithAttributes(eventAttributes(event)...))
		markFailure(span, event)

	case types.EventRunSuspended, types.EventRunCompleted, types.EventRunFailed:
		s.finish(rt, event)

	default:
		rt.innermost().AddEvent(string(event.Type), trace.WithTimestamp(at), trace.WithAttributes(eventAttributes(event)...))
	}
	return nil
}

// opensTrace reports whether t may begin a trace. A resumed run arrives with
// loop events but without run.started; stragglers after the outcome do not.
func opensTrace(t types.EventType) bool {
	switch t {
	case types.EventRunStarted, types.EventRoundStarted, types.EventBeforePropose,
		types.EventBeforeAction, types.EventApprovalResolved:
		return true
	}
	return false
}

func (s *Sink) startRun(event observe.Event) *runTrace {
	ctx, span := s.tracer.Start(context.Background(), "vnc.run",
		trace.WithTimestamp(event.Timestamp),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("vnc.run.id", event.RunID),
			attribute.String("vnc.provider", event.Provider),
		),
	)
	rt := &runTrace{run: openSpan{ctx: ctx, span: span}}
	s.runs[event.RunID] = rt
	return rt
}

func (s *Sink) child(parent context.Context, name string, at time.Time, attrs ...attribute.KeyValue) *openSpan {
	ctx, span := s.tracer.Start(parent, name, trace.WithTimestamp(at), trace.WithAttributes(attrs...))
	return &openSpan{ctx: ctx, span: span}
}

// finish closes every open span of the run. A suspended run leaves its trace
// here; the resume starts a new one.
func (s *Sink) finish(rt *runTrace, event observe.Event) {
	at := event.Timestamp
	rt.action.end(at)
	rt.round.end(at)

	span := rt.run.span
	span.SetAttributes(
		attribute.String("vnc.status", string(event.Status)),
		attribute.Int("vnc.steps", event.Step),
	)
	switch event.Type {
	case types.EventRunCompleted:
		span.SetStatus(codes.Ok, "")
	case types.EventRunFailed:
		markFailure(span, event)
	case types.EventRunSuspended:
		span.AddEvent("run.suspended", trace.WithTimestamp(at), trace.WithAttributes(attribute.String("vnc.reason", event.Message)))
	}
	span.End(trace.WithTimestamp(at))
	delete(s.runs, event.RunID)
}

// Close ends the spans of runs that never reported an outcome.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, rt := range s.runs {
		rt.action.end(now)
		rt.round.end(now)
		rt.run.span.SetStatus(codes.Unset, "abandoned")
		rt.run.span.End(trace.WithTimestamp(now))
		delete(s.runs, id)
	}
}

func markFailure(span trace.Span, event observe.Event) {
	if !event.Failed() {
		return
	}
	span.SetStatus(codes.Error, event.Error)
	if event.Error != "" {
		span.RecordError(errors.New(event.Error), trace.WithTimestamp(event.Timestamp))
	}
}

func eventAttributes(event observe.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.Int("vnc.step", event.Step)}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("vnc.message", truncate(event.Message)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("vnc.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attributeOf("vnc.attr."+k, v))
	}
	return attrs
}

func attributeOf(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, truncate(fmt.Sprint(v)))
	}
}

func truncate(s string) string {
	if len(s) <= maxMessageLen {
		return s
	}
	return s[:maxMessageLen] + "..."
}
