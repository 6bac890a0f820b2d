// Package context carries per-operation metadata through context.Context.
package context

import (
	"context"

	"viewsync/internal/core/id"
)

// Operation identifies one flush or delete call for log correlation.
type Operation struct {
	ID      string
	Kind    string // "flush", "remove", ...
	TraceID string
}

type operationKey struct{}

// WithOperation adds Operation to context.
func WithOperation(ctx context.Context, op *Operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// GetOperation returns Operation from context.
func GetOperation(ctx context.Context) *Operation {
	if v, ok := ctx.Value(operationKey{}).(*Operation); ok {
		return v
	}
	return nil
}

// GetOperationID returns the operation ID from context or empty string.
func GetOperationID(ctx context.Context) string {
	if op := GetOperation(ctx); op != nil {
		return op.ID
	}
	return ""
}

// NewOperation creates an Operation with a generated time-ordered ID.
// The trace ID is inherited from an enclosing operation when present.
func NewOperation(ctx context.Context, kind string) *Operation {
	op := &Operation{
		ID:   id.New().String(),
		Kind: kind,
	}
	if parent := GetOperation(ctx); parent != nil {
		op.TraceID = parent.TraceID
	} else {
		op.TraceID = id.New().String()
	}
	return op
}

// StartOperation attaches a fresh Operation to ctx unless one is already present.
func StartOperation(ctx context.Context, kind string) context.Context {
	if GetOperation(ctx) != nil {
		return ctx
	}
	return WithOperation(ctx, NewOperation(ctx, kind))
}
