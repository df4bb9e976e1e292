package types

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// UUID prefixes for entity ids. The prefix makes ids self-describing in logs
// and support tooling.
const (
	UUID_PREFIX_TENANT             = "tenant"
	UUID_PREFIX_QUOTA_SNAPSHOT     = "snap"
	UUID_PREFIX_LEDGER_ENTRY       = "ledger"
	UUID_PREFIX_ADDON_CREDIT       = "cred"
	UUID_PREFIX_STATE_TRANSITION   = "strn"
	UUID_PREFIX_RESERVATION        = "rsv"
	UUID_PREFIX_REQUEST            = "req"
	UUID_PREFIX_WEBHOOK_EVENT      = "whevt"
)

// GenerateUUID returns a lowercase ULID.
func GenerateUUID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String())
}

// GenerateUUIDWithPrefix returns a prefixed lowercase ULID, e.g. "tenant_01h...".
func GenerateUUIDWithPrefix(prefix string) string {
	if prefix == "" {
		return GenerateUUID()
	}
	return prefix + "_" + GenerateUUID()
}
