package middleware

import "context"

type contextKey int

const (
	traceIDKey contextKey = iota
	subjectKey
)

// WithTraceID stores the request trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the request trace id, if any.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithSubject stores the authenticated account handle.
func WithSubject(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, subjectKey, handle)
}

// Subject returns the authenticated account handle, or "" for anonymous
// requests.
func Subject(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}
