package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LockScope represents the scope of a database advisory lock.
type LockScope string

const (
	// LockScopeQuota serializes all mutations of one tenant's quota snapshot:
	// spend, reservation commit/release, rollover, seat changes and status
	// transitions all contend on the same key.
	LockScopeQuota LockScope = "quota"
)

// LockRequest describes an advisory lock acquisition.
type LockRequest struct {
	Key     string
	Timeout *time.Duration
}

// GetTimeout returns the requested timeout, defaulting to 30 seconds.
func (r LockRequest) GetTimeout() time.Duration {
	if r.Timeout == nil {
		return 30 * time.Second
	}
	return *r.Timeout
}

// GenerateLockKey builds a deterministic lock key from a scope and params.
// Params are sorted so the same logical lock always hashes to the same
// advisory lock id. Format: scope:key1=value1:key2=value2.
func GenerateLockKey(scope LockScope, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		b.WriteString(fmt.Sprintf(":%s=%v", k, params[k]))
	}
	return b.String()
}

// QuotaLockKey is the per-tenant lock key used by every snapshot mutation.
func QuotaLockKey(tenantID string) string {
	return GenerateLockKey(LockScopeQuota, map[string]interface{}{
		"tenant_id": tenantID,
	})
}
