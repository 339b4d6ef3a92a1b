package observability

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDCtxKey contextKey = "request_id"

// RequestIDKey is the structured-logging attribute name for the request ID.
const RequestIDKey = "request_id"

// WithRequestID adds a request ID to the context. If id is empty, a new
// UUID is generated.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext extracts the request ID from context, if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDCtxKey).(string); ok {
		return id
	}
	return ""
}
