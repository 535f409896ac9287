package message

import "context"

type traceKey struct{}

// WithTraceID stores a trace id on ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id carried by ctx, if any.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

// TraceIDOr returns the trace id of ctx or a new one.
func TraceIDOr(ctx context.Context) string {
	if id := TraceID(ctx); id != "" {
		return id
	}
	return NewTraceID()
}
