package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/storyforge/metering/internal/types"
)

// ContextMiddleware copies the caller identity headers into the request
// context so every layer below sees the same tenant, user, and request id.
func ContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if tenantID := c.GetHeader(types.HeaderTenantID); tenantID != "" {
			ctx = types.SetTenantID(ctx, tenantID)
		}
		if userID := c.GetHeader(types.HeaderUserID); userID != "" {
			ctx = types.SetUserID(ctx, userID)
		}

		requestID := c.GetHeader(types.HeaderRequestID)
		if requestID == "" {
			requestID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REQUEST)
		}
		ctx = types.SetRequestID(ctx, requestID)
		c.Header(types.HeaderRequestID, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminOverrideMiddleware marks the request as an operator override when the
// admin header matches the configured token. Overrides are always allowed
// through quota checks and never deduct credit, so the token must stay
// server-side.
func AdminOverrideMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token != "" && c.GetHeader(types.HeaderAdminOverride) == token {
			c.Request = c.Request.WithContext(types.SetSuperAdmin(c.Request.Context()))
		}
		c.Next()
	}
}
