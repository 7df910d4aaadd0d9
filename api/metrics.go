package api

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
	tasksSpanName    = "boardsync.tasks.request"
	tasksEventName   = "tasks.request"
	tasksEventDomain = "boardsync"
)

type taskRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	route         string
	authDuration  time.Duration
	fetchDuration time.Duration
	tasksReturned int
	errorStage    string
}

func newTaskRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*taskRequestMetrics, context.Context) {
	tracer := otel.Tracer("boardsync/api")
	spanCtx, span := tracer.Start(ctx, tasksSpanName)
	return &taskRequestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		route:  route,
	}, spanCtx
}

func (m *taskRequestMetrics) ObserveAuth(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authDuration = duration
}

func (m *taskRequestMetrics) ObserveFetch(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.fetchDuration = duration
}

func (m *taskRequestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *taskRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log emits one structured observability event and closes the span.
func (m *taskRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	totalMs := durationToMillis(time.Since(m.start))
	fields := log.Fields{
		"event.name":     tasksEventName,
		"event.domain":   tasksEventDomain,
		"http.route":     m.route,
		"http.status":    status,
		"total_ms":       totalMs,
		"tasks_returned": m.tasksReturned,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("observability.event")

	if m.span != nil {
		attrs := []attribute.KeyValue{
			attribute.String("http.route", m.route),
			attribute.Int("http.status_code", status),
			attribute.Float64("boardsync.tasks.total_ms", totalMs),
			attribute.Int("boardsync.tasks.returned", m.tasksReturned),
		}
		if m.errorStage != "" {
			attrs = append(attrs, attribute.String("boardsync.tasks.error_stage", m.errorStage))
		}
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(attrs...))
		if err != nil {
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
