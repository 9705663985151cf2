package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are added to every record logged with a context carrying them.
type LogFields struct {
	RequestID  string
	RemoteAddr string
	Component  string // e.g. "estimator.tcpapi"
}

// WithLogFields merges fields into ctx; non-empty values win.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := GetLogFields(ctx)
	if fields.RequestID != "" {
		merged.RequestID = fields.RequestID
	}
	if fields.RemoteAddr != "" {
		merged.RemoteAddr = fields.RemoteAddr
	}
	if fields.Component != "" {
		merged.Component = fields.Component
	}
	return context.WithValue(ctx, logFieldsKey, merged)
}

func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// Truncate shortens s to maxLen bytes for logging raw protocol lines.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
