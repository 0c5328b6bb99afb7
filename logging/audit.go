package logging

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditEventPickerCreated   AuditEventType = "picker.created"
	AuditEventPickerClosed    AuditEventType = "picker.closed"
	AuditEventPickerExpired   AuditEventType = "picker.expired"
	AuditEventSelectionChosen AuditEventType = "selection.confirmed"
	AuditEventLinkCopied      AuditEventType = "selection.link_copied"
	AuditEventFallbackClosed  AuditEventType = "selection.fallback_dismissed"
)

// AuditOutcome represents the outcome of an action.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditEvent represents an audit log entry. Selections are the only artifact
// the picker exports, so every confirm is recorded.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      AuditEventType `json:"type"`
	SessionID string         `json:"session_id"`
	Outcome   AuditOutcome   `json:"outcome"`
	Details   map[string]any `json:"details,omitempty"`
	Request   *AuditRequest  `json:"request,omitempty"`
	Service   string         `json:"service"`
}

// AuditRequest represents the HTTP request context.
type AuditRequest struct {
	Method    string `json:"method"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

// AuditLogger provides structured audit logging.
type AuditLogger struct {
	logger  *slog.Logger
	service string
	now     func() time.Time
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(serviceName string, logger *Logger) *AuditLogger {
	base := slog.Default()
	if logger != nil {
		base = logger.Logger
	}

	return &AuditLogger{
		logger:  base.With("audit", true),
		service: serviceName,
		now:     time.Now,
	}
}

// Log logs an audit event.
func (l *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	event.Service = l.service
	event.Timestamp = l.now().UTC()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Outcome == "" {
		event.Outcome = AuditOutcomeSuccess
	}

	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("session_id", event.SessionID),
		slog.String("outcome", string(event.Outcome)),
		slog.Time("timestamp", event.Timestamp),
		slog.String("service", event.Service),
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if event.Request != nil {
		attrs = append(attrs, slog.Group("request",
			slog.String("method", event.Request.Method),
			slog.String("path", event.Request.Path),
			slog.String("request_id", event.Request.RequestID),
		))
	}
	if len(event.Details) > 0 {
		args := make([]any, 0, len(event.Details)*2)
		for k, v := range event.Details {
			args = append(args, k, v)
		}
		attrs = append(attrs, slog.Group("details", args...))
	}

	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", attrs...)
}

// LogSession logs an event against a picker session.
func (l *AuditLogger) LogSession(ctx context.Context, eventType AuditEventType, sessionID string, outcome AuditOutcome, details map[string]any) {
	l.Log(ctx, AuditEvent{
		Type:      eventType,
		SessionID: sessionID,
		Outcome:   outcome,
		Details:   details,
	})
}

// LogFromRequest logs a session event with HTTP request context.
func (l *AuditLogger) LogFromRequest(r *http.Request, eventType AuditEventType, sessionID string, outcome AuditOutcome, details map[string]any) {
	l.Log(r.Context(), AuditEvent{
		Type:      eventType,
		SessionID: sessionID,
		Outcome:   outcome,
		Details:   details,
		Request: &AuditRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	})
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from ctx.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
