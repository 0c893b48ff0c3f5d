package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that carries them.
type LogFields struct {
	IssueID   *string // committed issue id, e.g. "ISSUE-3F9K2A7QX"
	RunID     *uint64 // pipeline run generation
	Stage     *string // "capture", "ocr", "analysis"
	MessageID *string // Redis stream message ID
	Component string  // e.g. "diagno.pipeline.orchestrator"
}

// WithLogFields enriches context with structured log fields.
// Later non-nil values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.IssueID != nil {
		result.IssueID = next.IssueID
	}
	if next.RunID != nil {
		result.RunID = next.RunID
	}
	if next.Stage != nil {
		result.Stage = next.Stage
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

func (f LogFields) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 5)
	if f.IssueID != nil {
		attrs = append(attrs, slog.String("issue_id", *f.IssueID))
	}
	if f.RunID != nil {
		attrs = append(attrs, slog.Uint64("run_id", *f.RunID))
	}
	if f.Stage != nil {
		attrs = append(attrs, slog.String("stage", *f.Stage))
	}
	if f.MessageID != nil {
		attrs = append(attrs, slog.String("message_id", *f.MessageID))
	}
	if f.Component != "" {
		attrs = append(attrs, slog.String("component", f.Component))
	}
	return attrs
}

func Ptr[T any](v T) *T {
	return &v
}

// Truncate cuts s to maxLen bytes and appends "..." when it was longer.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
