package api

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	contextKeySubject contextKey = iota
	contextKeyRequestID
)

// SetSubject returns a new context carrying the authenticated subject.
func SetSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, contextKeySubject, sub)
}

// SubjectFromContext returns the authenticated subject, or "".
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(contextKeySubject).(string)
	return s
}

// SetRequestID returns a new context with the request ID attached.
func SetRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(contextKeyRequestID).(uuid.UUID)
	return id
}
