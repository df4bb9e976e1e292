package types

import "time"

// Status is the generic row lifecycle status shared by all entities.
type Status string

const (
	StatusPublished Status = "published"
	StatusDeleted   Status = "deleted"
	StatusArchived  Status = "archived"
)

// RunMode identifies the deployment mode of the process.
type RunMode string

const (
	RunModeAPI  RunMode = "api"
	RunModeCron RunMode = "cron"
)

// LogLevel controls logger verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// BaseModel holds the tenant scoping and audit columns shared by all
// persisted entities.
type BaseModel struct {
	TenantID  string    `json:"tenant_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedBy string    `json:"updated_by"`
}

// GetDefaultBaseModel returns a BaseModel stamped with the current time and
// the acting user from the context.
func GetDefaultBaseModel(tenantID, userID string) BaseModel {
	now := time.Now().UTC()
	return BaseModel{
		TenantID:  tenantID,
		Status:    StatusPublished,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: userID,
		UpdatedBy: userID,
	}
}
