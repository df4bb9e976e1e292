package types

import "context"

// ContextKey is the typed key used for request-scoped values.
type ContextKey string

const (
	CtxTenantID   ContextKey = "ctx_tenant_id"
	CtxUserID     ContextKey = "ctx_user_id"
	CtxRequestID  ContextKey = "ctx_request_id"
	CtxSuperAdmin ContextKey = "ctx_super_admin"
)

// DefaultUserID is recorded as the actor for system-initiated writes
// (sweeps, webhook-driven transitions).
const DefaultUserID = "system"

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxTenantID, tenantID)
}

func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxTenantID).(string); ok {
		return v
	}
	return ""
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}

// GetUserID returns the acting user id, defaulting to the system actor so
// audit rows are never written with an empty actor.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxUserID).(string); ok && v != "" {
		return v
	}
	return DefaultUserID
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(CtxRequestID).(string); ok {
		return v
	}
	return ""
}

// SetSuperAdmin grants the bypass capability on the context. It is evaluated
// exactly once, at the metering service boundary.
func SetSuperAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, CtxSuperAdmin, true)
}

func IsSuperAdmin(ctx context.Context) bool {
	v, ok := ctx.Value(CtxSuperAdmin).(bool)
	return ok && v
}
