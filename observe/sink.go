package observe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type Sink interface {
	Emit(ctx context.Context, event Event) error
}

type SinkFunc func(ctx context.Context, event Event) error

func (f SinkFunc) Emit(ctx context.Context, event Event) error { return f(ctx, event) }

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) error { return nil }

type multiSink []Sink

// NewMultiSink delivers every event to each non-nil sink in order. A failing
// sink does not stop delivery to the ones after it; the errors are joined.
func NewMultiSink(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return NoopSink{}
	case 1:
		return m[0]
	}
	return m
}

func (m multiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncSink hands events to a background goroutine so a slow sink never
// stalls the loop. When the buffer is full the event is dropped and counted.
type AsyncSink struct {
	next    Sink
	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

func NewAsyncSink(next Sink, buffer int) *AsyncSink {
	if next == nil {
		next = NoopSink{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{next: next, queue: make(chan Event, buffer), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for event := range s.queue {
			_ = s.next.Emit(context.Background(), event)
		}
	}()
	return s
}

func (s *AsyncSink) Emit(_ context.Context, event Event) error {
	event.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return nil
	}
	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many events were discarded because the buffer was
// full or the sink was already closed.
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Close flushes queued events. Events emitted afterwards are dropped.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

// LogSink writes one log line per event: warn for failures, debug otherwise.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Emit(_ context.Context, event Event) error {
	level := zap.DebugLevel
	if event.Failed() {
		level = zap.WarnLevel
	}
	ce := s.logger.Check(level, string(event.Type))
	if ce == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("run_id", event.RunID),
		zap.String("kind", string(event.Kind)),
		zap.String("status", string(event.Status)),
	}
	if event.Step > 0 {
		fields = append(fields, zap.Int("step", event.Step))
	}
	if event.ActionName != "" {
		fields = append(fields, zap.String("action", event.ActionName))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("duration_ms", event.DurationMs))
	}
	if event.Message != "" {
		fields = append(fields, zap.String("message", event.Message))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	ce.Write(fields...)
	return nil
}
