package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithSessionID adds the console session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithCompany adds the selected company to the context.
func WithCompany(ctx context.Context, company string) context.Context {
	return context.WithValue(ctx, ContextKeyCompany, company)
}

// WithResearchSessionID adds a backend research session ID to the context.
func WithResearchSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyResearchSessionID, id)
}

// WithOperation adds an operation name to the context.
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, ContextKeyOperation, operation)
}

// GenerateRequestID generates a new request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}
