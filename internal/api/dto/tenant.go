package dto

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/domain/tenant"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
	"github.com/storyforge/metering/internal/validator"
)

// CreateTenantRequest registers a new subscription holder.
type CreateTenantRequest struct {
	Name          string                   `json:"name" binding:"required" validate:"required"`
	Tier          types.SubscriptionTier   `json:"tier" binding:"required" validate:"required"`
	Status        types.SubscriptionStatus `json:"status"`
	SeatCount     int                      `json:"seat_count" validate:"gte=0"`
	BillingAnchor time.Time                `json:"billing_anchor"`
	TrialEndsAt   *time.Time               `json:"trial_ends_at,omitempty"`
}

// Validate validates the create tenant request
func (r *CreateTenantRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.Tier.Validate() {
		return ierr.NewError("invalid tier").
			WithReportableDetails(map[string]interface{}{"tier": r.Tier}).
			Mark(ierr.ErrValidation)
	}
	if r.BillingAnchor.After(time.Now().UTC()) {
		return ierr.NewError("billing_anchor cannot be in the future").
			WithHint("The billing anchor must be the subscription's actual start time").
			WithReportableDetails(map[string]interface{}{"billing_anchor": r.BillingAnchor}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ToTenant converts the request into a domain tenant.
func (r *CreateTenantRequest) ToTenant(actorID string) *tenant.Tenant {
	status := r.Status
	if status == "" {
		status = types.SubscriptionStatusTrialing
	}
	anchor := r.BillingAnchor
	if anchor.IsZero() {
		anchor = time.Now().UTC()
	}

	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	return &tenant.Tenant{
		ID:                 id,
		Name:               r.Name,
		Tier:               r.Tier,
		SubscriptionStatus: status,
		SeatCount:          r.SeatCount,
		BillingAnchor:      anchor,
		TrialEndsAt:        r.TrialEndsAt,
		BaseModel:          types.GetDefaultBaseModel(id, actorID),
	}
}

// TenantResponse is the external view of a tenant.
type TenantResponse struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Tier               types.SubscriptionTier   `json:"tier"`
	SubscriptionStatus types.SubscriptionStatus `json:"subscription_status"`
	SeatCount          int                      `json:"seat_count"`
	BillingAnchor      time.Time                `json:"billing_anchor"`
	TrialEndsAt        *time.Time               `json:"trial_ends_at,omitempty"`
	CreatedAt          time.Time                `json:"created_at"`
}

// FromTenant converts a domain tenant into the response view.
func FromTenant(t *tenant.Tenant) *TenantResponse {
	return &TenantResponse{
		ID:                 t.ID,
		Name:               t.Name,
		Tier:               t.Tier,
		SubscriptionStatus: t.SubscriptionStatus,
		SeatCount:          t.SeatCount,
		BillingAnchor:      t.BillingAnchor,
		TrialEndsAt:        t.TrialEndsAt,
		CreatedAt:          t.CreatedAt,
	}
}

// GrantCreditRequest grants an add-on credit to a tenant.
type GrantCreditRequest struct {
	TenantID        string           `json:"tenant_id" validate:"required"`
	CreditType      types.CreditType `json:"credit_type" binding:"required" validate:"required"`
	Amount          decimal.Decimal  `json:"amount" binding:"required"`
	ExpiresAt       *time.Time       `json:"expires_at,omitempty"`
	ExternalEventID string           `json:"external_event_id,omitempty"`
}

// Validate validates the grant credit request
func (r *GrantCreditRequest) Validate() error {
	if err := validator.ValidateRequest(r); err != nil {
		return err
	}
	if !r.CreditType.Validate() {
		return ierr.NewError("invalid credit_type").
			WithReportableDetails(map[string]interface{}{"credit_type": r.CreditType}).
			Mark(ierr.ErrValidation)
	}
	if !r.Amount.IsPositive() {
		return ierr.NewError("amount must be positive").Mark(ierr.ErrValidation)
	}
	if r.CreditType == types.CreditTypePack && r.ExpiresAt == nil {
		return ierr.NewError("pack credits require an expiry").
			WithHint("One-time packs must carry an expiry timestamp").
			Mark(ierr.ErrValidation)
	}
	return nil
}
