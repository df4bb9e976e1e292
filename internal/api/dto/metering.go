package dto

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
	"github.com/storyforge/metering/internal/validator"
)

// ReserveRequest asks to earmark quota for downstream AI work. The
// correlation id doubles as the idempotency key: retries with the same id
// return the original outcome without re-deducting.
type ReserveRequest struct {
	TenantID      string          `json:"tenant_id" binding:"required" validate:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	CorrelationID string          `json:"correlation_id" binding:"required" validate:"required"`
}

// Validate validates the reserve request
func (r *ReserveRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").
			WithReportableDetails(map[string]interface{}{"amount": r.Amount}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ReserveResponse reports the outcome of a reservation.
type ReserveResponse struct {
	Allowed   bool            `json:"allowed"`
	Remaining decimal.Decimal `json:"remaining"`
	NearLimit bool            `json:"near_limit"`
	Reason    string          `json:"reason,omitempty"`
}

// SpendRequest is the single-phase variant of ReserveRequest for callers
// that cannot straddle two calls.
type SpendRequest struct {
	TenantID      string          `json:"tenant_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount" binding:"required"`
	CorrelationID string          `json:"correlation_id" binding:"required"`
}

// Validate validates the spend request
func (r *SpendRequest) Validate() error {
	rr := ReserveRequest{TenantID: r.TenantID, Amount: r.Amount, CorrelationID: r.CorrelationID}
	return rr.Validate()
}

// SpendResponse reports the outcome of a single-phase spend.
type SpendResponse struct {
	Allowed   bool            `json:"allowed"`
	Remaining decimal.Decimal `json:"remaining"`
	NearLimit bool            `json:"near_limit"`
	Reason    string          `json:"reason,omitempty"`
}

// CommitRequest finalizes a reservation.
type CommitRequest struct {
	CorrelationID string `json:"correlation_id" binding:"required"`
}

// CommitResponse reports the outcome of a commit.
type CommitResponse struct {
	Committed bool            `json:"committed"`
	Remaining decimal.Decimal `json:"remaining"`
	NearLimit bool            `json:"near_limit"`
}

// ReleaseRequest returns an uncommitted reservation to the pool.
type ReleaseRequest struct {
	CorrelationID string `json:"correlation_id" binding:"required"`
}

// ReleaseResponse reports the outcome of a release.
type ReleaseResponse struct {
	Released  bool            `json:"released"`
	Remaining decimal.Decimal `json:"remaining"`
}

// SnapshotResponse is the tenant's current entitlement view.
type SnapshotResponse struct {
	TenantID                 string                             `json:"tenant_id"`
	PeriodStart              time.Time                          `json:"period_start"`
	PeriodEnd                time.Time                          `json:"period_end"`
	Allowance                decimal.Decimal                    `json:"allowance"`
	Consumed                 decimal.Decimal                    `json:"consumed"`
	Pending                  decimal.Decimal                    `json:"pending"`
	Remaining                decimal.Decimal                    `json:"remaining"`
	BucketBreakdown          map[types.CreditBucket]BucketView  `json:"bucket_breakdown"`
	SubscriptionStatus       types.SubscriptionStatus           `json:"subscription_status"`
	OverLimit                bool                               `json:"over_limit"`
	NearLimit                bool                               `json:"near_limit"`
	GracePeriodDaysRemaining int                                `json:"grace_period_days_remaining"`
}

// BucketView is one bucket's granted and remaining balance.
type BucketView struct {
	Granted   decimal.Decimal `json:"granted"`
	Remaining decimal.Decimal `json:"remaining"`
}

// UpdateSeatsRequest changes a seat-priced tenant's seat count.
type UpdateSeatsRequest struct {
	SeatCount int `json:"seat_count" binding:"required,gt=0"`
}

// AuditLogEntry is one state transition in the audit trail.
type AuditLogEntry struct {
	ID              string                   `json:"id"`
	FromStatus      types.SubscriptionStatus `json:"from_status"`
	ToStatus        types.SubscriptionStatus `json:"to_status"`
	Reason          types.TransitionReason   `json:"reason"`
	ActorID         string                   `json:"actor_id"`
	ExternalEventID *string                  `json:"external_event_id,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}

// AuditLogResponse is the ordered transition history for a tenant.
type AuditLogResponse struct {
	Items []AuditLogEntry `json:"items"`
	Total int             `json:"total"`
}
