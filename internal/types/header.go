package types

// HTTP headers carrying caller identity, echoed into the request context by
// the context middleware.
const (
	HeaderTenantID      = "X-Tenant-ID"
	HeaderUserID        = "X-User-ID"
	HeaderRequestID     = "X-Request-ID"
	HeaderAdminOverride = "X-Admin-Override"
)
