package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/api/dto"
	"github.com/storyforge/metering/internal/config"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/service"
	"github.com/storyforge/metering/internal/types"
	svix "github.com/svix/svix-webhooks/go"
)

// Billing provider event types handled by the metering core.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPaymentSucceeded     = "invoice.payment_succeeded"
	EventPaymentFailed        = "invoice.payment_failed"
	EventAddOnPurchased       = "addon.purchased"
)

// Event is the provider-neutral webhook envelope. The provider's event id is
// the idempotency key: replays cause no duplicate transitions or grants.
type Event struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// AddOnPurchaseData is the payload of an addon.purchased event.
type AddOnPurchaseData struct {
	CreditType types.CreditType `json:"credit_type"`
	Amount     decimal.Decimal  `json:"amount"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
}

// SubscriptionUpdateData is the payload of a subscription.updated event.
type SubscriptionUpdateData struct {
	Status types.SubscriptionStatus `json:"status"`
}

// Handler processes billing-provider webhooks.
type Handler struct {
	cfg       *config.Configuration
	logger    *logger.Logger
	verifier  *svix.Webhook
	lifecycle service.LifecycleService
	tenants   service.TenantService
}

// NewHandler creates a new webhook handler. Signature verification is
// enabled when a signing secret is configured.
func NewHandler(
	cfg *config.Configuration,
	log *logger.Logger,
	lifecycle service.LifecycleService,
	tenants service.TenantService,
) (*Handler, error) {
	var verifier *svix.Webhook
	if cfg.Webhook.SigningSecret != "" {
		wh, err := svix.NewWebhook(cfg.Webhook.SigningSecret)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Invalid webhook signing secret").
				Mark(ierr.ErrValidation)
		}
		verifier = wh
	}

	return &Handler{
		cfg:       cfg,
		logger:    log,
		verifier:  verifier,
		lifecycle: lifecycle,
		tenants:   tenants,
	}, nil
}

// HandleBillingEvent is the gin handler for POST /webhooks/billing.
func (h *Handler) HandleBillingEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(body, c.Request.Header); err != nil {
			h.logger.Warnw("rejected webhook with invalid signature", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}
	if event.ID == "" || event.TenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event id and tenant id are required"})
		return
	}

	if err := h.process(c, &event); err != nil {
		// Replays are acknowledged so the provider stops retrying.
		if ierr.IsAlreadyExists(err) {
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		status := ierr.HTTPStatusFromErr(err)
		h.logger.Errorw("failed to process billing event",
			"event_id", event.ID,
			"event_type", event.Type,
			"tenant_id", event.TenantID,
			"error", err,
		)
		c.JSON(status, ierr.NewErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *Handler) process(c *gin.Context, event *Event) error {
	ctx := c.Request.Context()
	eventID := event.ID

	h.logger.Infow("processing billing event",
		"event_id", eventID,
		"event_type", event.Type,
		"tenant_id", event.TenantID,
	)

	switch event.Type {
	case EventCheckoutCompleted:
		return h.lifecycle.TransitionStatus(ctx, event.TenantID,
			types.SubscriptionStatusActive, types.TransitionReasonCheckoutCompleted, &eventID)

	case EventSubscriptionUpdated:
		var data SubscriptionUpdateData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return ierr.WithError(err).
				WithHint("Malformed subscription.updated payload").
				Mark(ierr.ErrValidation)
		}
		return h.lifecycle.TransitionStatus(ctx, event.TenantID,
			data.Status, types.TransitionReasonProviderUpdated, &eventID)

	case EventSubscriptionCanceled:
		return h.lifecycle.TransitionStatus(ctx, event.TenantID,
			types.SubscriptionStatusCanceled, types.TransitionReasonProviderCanceled, &eventID)

	case EventPaymentSucceeded:
		return h.lifecycle.HandlePaymentSucceeded(ctx, event.TenantID, &eventID)

	case EventPaymentFailed:
		return h.lifecycle.HandlePaymentFailed(ctx, event.TenantID, &eventID)

	case EventAddOnPurchased:
		var data AddOnPurchaseData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return ierr.WithError(err).
				WithHint("Malformed addon.purchased payload").
				Mark(ierr.ErrValidation)
		}
		return h.tenants.GrantAddOnCredit(ctx, &dto.GrantCreditRequest{
			TenantID:        event.TenantID,
			CreditType:      data.CreditType,
			Amount:          data.Amount,
			ExpiresAt:       data.ExpiresAt,
			ExternalEventID: eventID,
		})

	default:
		h.logger.Warnw("ignoring unhandled billing event type",
			"event_id", eventID,
			"event_type", event.Type,
		)
		return nil
	}
}
