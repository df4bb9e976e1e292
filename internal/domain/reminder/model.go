package reminder

import (
	"time"

	ierr "github.com/storyforge/metering/internal/errors"
)

// GraceReminder records that a payment-failure reminder for one milestone
// day was sent to a tenant. The (tenant, milestone) pair is unique, which is
// what makes reminder delivery exactly-once across sweep re-runs.
type GraceReminder struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	MilestoneDay int       `json:"milestone_day"`
	SentAt       time.Time `json:"sent_at"`
}

// Validate validates the grace reminder
func (r *GraceReminder) Validate() error {
	if r.TenantID == "" {
		return ierr.NewError("tenant_id is required").Mark(ierr.ErrValidation)
	}
	if r.MilestoneDay <= 0 {
		return ierr.NewError("milestone_day must be positive").Mark(ierr.ErrValidation)
	}
	return nil
}
