package transition

import (
	"time"

	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// Record is one immutable audit row for a subscription status change.
type Record struct {
	ID              string                   `json:"id"`
	TenantID        string                   `json:"tenant_id"`
	FromStatus      types.SubscriptionStatus `json:"from_status"`
	ToStatus        types.SubscriptionStatus `json:"to_status"`
	Reason          types.TransitionReason   `json:"reason"`
	ActorID         string                   `json:"actor_id"`
	ExternalEventID *string                  `json:"external_event_id,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// Validate validates the transition record
func (r *Record) Validate() error {
	if r.TenantID == "" {
		return ierr.NewError("tenant_id is required").Mark(ierr.ErrValidation)
	}
	if !r.FromStatus.Validate() || !r.ToStatus.Validate() {
		return ierr.NewError("invalid status in transition record").Mark(ierr.ErrValidation)
	}
	if r.ActorID == "" {
		return ierr.NewError("actor_id is required").Mark(ierr.ErrValidation)
	}
	return nil
}
