// Package context carries request-scoped correlation values used by logging and tracing.
package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}

type tenantKey struct{}

type tenant struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithTenant records the authenticated tenant for log correlation.
func WithTenant(ctx context.Context, tenantType, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant{
		kind: strings.TrimSpace(tenantType),
		id:   strings.TrimSpace(tenantID),
	})
}

func TenantFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(tenantKey{}).(tenant)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}
