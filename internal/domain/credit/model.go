package credit

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// AddOnCredit is a purchased credit bucket: a recurring booster or a
// one-time pack with an expiry.
type AddOnCredit struct {
	ID              string             `json:"id"`
	CreditType      types.CreditType   `json:"credit_type"`
	AmountGranted   decimal.Decimal    `json:"amount_granted"`
	AmountConsumed  decimal.Decimal    `json:"amount_consumed"`
	ExpiresAt       *time.Time         `json:"expires_at,omitempty"`
	CreditStatus    types.CreditStatus `json:"credit_status"`
	ExternalEventID string             `json:"external_event_id,omitempty"`
	types.BaseModel
}

// Remaining returns the unconsumed balance.
func (c *AddOnCredit) Remaining() decimal.Decimal {
	return c.AmountGranted.Sub(c.AmountConsumed)
}

// Expired reports whether the credit's expiry has passed at the given time.
func (c *AddOnCredit) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Consumable reports whether the credit can fund a debit at the given time.
func (c *AddOnCredit) Consumable(now time.Time) bool {
	return c.CreditStatus == types.CreditStatusActive &&
		!c.Expired(now) &&
		c.Remaining().IsPositive()
}

// Validate validates the add-on credit
func (c *AddOnCredit) Validate() error {
	if c.TenantID == "" {
		return ierr.NewError("tenant_id is required").Mark(ierr.ErrValidation)
	}
	if !c.CreditType.Validate() {
		return ierr.NewError("invalid credit_type").
			WithReportableDetails(map[string]interface{}{"credit_type": c.CreditType}).
			Mark(ierr.ErrValidation)
	}
	if !c.AmountGranted.IsPositive() {
		return ierr.NewError("amount_granted must be positive").Mark(ierr.ErrValidation)
	}
	if c.AmountConsumed.IsNegative() || c.AmountConsumed.GreaterThan(c.AmountGranted) {
		return ierr.NewError("amount_consumed must be between zero and amount_granted").Mark(ierr.ErrValidation)
	}
	if c.CreditType == types.CreditTypePack && c.ExpiresAt == nil {
		return ierr.NewError("pack credits require an expiry").Mark(ierr.ErrValidation)
	}
	return nil
}
