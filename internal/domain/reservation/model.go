package reservation

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// BucketDebit is one bucket's share of a planned deduction.
type BucketDebit struct {
	Bucket types.CreditBucket `json:"bucket"`
	Amount decimal.Decimal    `json:"amount"`
	// CreditID is set when the bucket is funded by an add-on credit row.
	CreditID string `json:"credit_id,omitempty"`
}

// Reservation is a two-phase earmark of quota: Reserve moves the amount from
// available to pending, Commit moves pending to consumed, Release returns it.
// The correlation id doubles as the idempotency key for all three calls.
type Reservation struct {
	ID            string                 `json:"id"`
	CorrelationID string                 `json:"correlation_id"`
	TenantID      string                 `json:"tenant_id"`
	SnapshotID    string                 `json:"snapshot_id"`
	Amount        decimal.Decimal        `json:"amount"`
	State         types.ReservationState `json:"state"`
	BucketPlan    []BucketDebit          `json:"bucket_plan"`
	ExpiresAt     time.Time              `json:"expires_at"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Open reports whether the reservation is still holding quota.
func (r *Reservation) Open() bool {
	return r.State == types.ReservationStatePending
}

// ExpiredAt reports whether an open reservation has outlived its TTL.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.Open() && !now.Before(r.ExpiresAt)
}

// Validate validates the reservation
func (r *Reservation) Validate() error {
	if r.CorrelationID == "" {
		return ierr.NewError("correlation_id is required").Mark(ierr.ErrValidation)
	}
	if r.TenantID == "" {
		return ierr.NewError("tenant_id is required").Mark(ierr.ErrValidation)
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").Mark(ierr.ErrValidation)
	}
	return nil
}
