package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	listSpanName    = "GET /api/tasks"
	listEventName   = "tasks.list"
	listEventDomain = "tasklane.api"
	listRoute       = "/api/tasks"
)

// listRequestMetrics records the timing and shape of one task listing and
// reports it as a span plus an observability.event log entry.
type listRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	queryDuration time.Duration
	tasksReturned int
	groups        int
	sortBy        string
	group         string
	errorStage    string
}

func newListRequestMetrics(ctx context.Context, logger *log.Logger) (*listRequestMetrics, context.Context) {
	ctx, span := otel.Tracer("tasklane/api").Start(ctx, listSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &listRequestMetrics{logger: logger, span: span, start: time.Now()}, ctx
}

func (m *listRequestMetrics) ObserveQuery(d time.Duration) {
	if d > 0 {
		m.queryDuration = d
	}
}

func (m *listRequestMetrics) SetResult(tasks, groups int) {
	m.tasksReturned = tasks
	m.groups = groups
}

func (m *listRequestMetrics) SetQuery(sortBy, group string) {
	m.sortBy = sortBy
	m.group = group
}

func (m *listRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *listRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	defer m.span.End()

	severityText, severityNumber := severityForStatus(status, err)
	attrs := []attribute.KeyValue{
		attribute.String("http.route", listRoute),
		attribute.Int("http.status_code", status),
		attribute.Float64("tasklane.tasks.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Float64("tasklane.tasks.query_ms", durationToMillis(m.queryDuration)),
		attribute.Int("tasklane.tasks.returned", m.tasksReturned),
		attribute.Int("tasklane.tasks.groups", m.groups),
		attribute.String("tasklane.tasks.sort_by", m.sortBy),
		attribute.String("tasklane.tasks.group", m.group),
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("tasklane.tasks.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	m.span.SetAttributes(attrs...)

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", listEventName),
		attribute.String("event.domain", listEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))

	if severityNumber >= severityError {
		desc := http.StatusText(status)
		if err != nil {
			desc = err.Error()
		}
		m.span.SetStatus(codes.Error, desc)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger == nil {
		return
	}
	logAttrs := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		logAttrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	m.logger.WithFields(log.Fields{
		"event.name":      listEventName,
		"event.domain":    listEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"trace_id":        m.span.SpanContext().TraceID().String(),
		"attributes":      logAttrs,
	}).Log(levelForSeverity(severityNumber), "observability.event")
}

const (
	severityInfo  = 9
	severityWarn  = 13
	severityError = 17
)

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return "ERROR", severityError
	case status >= http.StatusBadRequest:
		return "WARN", severityWarn
	}
	return "INFO", severityInfo
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= severityError:
		return log.ErrorLevel
	case n >= severityWarn:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
