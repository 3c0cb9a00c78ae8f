package infrastructure

import (
	"context"

	"github.com/google/uuid"
)

// GenerateTraceID returns a fresh UUID v4 trace id
func GenerateTraceID() string {
	return uuid.NewString()
}

// EnsureTraceID returns ctx with a trace id, adding one if none is set.
// Background work such as timer firings and cron runs starts here so its
// log lines can still be correlated.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, GenerateTraceID())
}
