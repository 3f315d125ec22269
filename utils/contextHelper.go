package utils

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	ContextKeyCorrelationId contextKey = "CorrelationId"
	ContextKeySource        contextKey = "Source"
	ContextKeyBatchId       contextKey = "BatchId"
)

func stringFromContext(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

// EnsureCorrelationId returns ctx unchanged when it already carries a correlation id.
func EnsureCorrelationId(ctx context.Context) (context.Context, string) {
	if cid, ok := GetCorrelationIdFromContext(ctx); ok && cid != "" {
		return ctx, cid
	}
	cid := uuid.NewString()
	return SetCorrelationIdInContext(ctx, cid), cid
}

func GetSourceFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeySource)
}

func SetSourceInContext(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, ContextKeySource, source)
}

func GetBatchIdFromContext(ctx context.Context) (string, bool) {
	return stringFromContext(ctx, ContextKeyBatchId)
}

func SetBatchIdInContext(ctx context.Context, batchId string) context.Context {
	return context.WithValue(ctx, ContextKeyBatchId, batchId)
}
