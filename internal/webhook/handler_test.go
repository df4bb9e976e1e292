package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/service"
	"github.com/storyforge/metering/internal/testutil"
	"github.com/storyforge/metering/internal/types"
	"github.com/stretchr/testify/suite"
)

type WebhookHandlerSuite struct {
	testutil.BaseServiceTestSuite
	router   *gin.Engine
	tenantID string
}

func TestWebhookHandler(t *testing.T) {
	suite.Run(t, new(WebhookHandlerSuite))
}

func (s *WebhookHandlerSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	gin.SetMode(gin.TestMode)

	params := service.ServiceParams{
		Logger:          s.GetLogger(),
		Config:          s.GetConfig(),
		DB:              s.GetDB(),
		SnapshotCache:   s.GetSnapshotCache(),
		TenantRepo:      s.GetStores().TenantRepo,
		QuotaRepo:       s.GetStores().QuotaRepo,
		LedgerRepo:      s.GetStores().LedgerRepo,
		CreditRepo:      s.GetStores().CreditRepo,
		TransitionRepo:  s.GetStores().TransitionRepo,
		ReservationRepo: s.GetStores().ReservationRepo,
		ReminderRepo:    s.GetStores().ReminderRepo,
	}
	lifecycle := service.NewLifecycleService(params, service.NewLogNotifier(s.GetLogger()))
	tenants := service.NewTenantService(params)

	// No signing secret configured, so verification is skipped.
	handler, err := NewHandler(s.GetConfig(), s.GetLogger(), lifecycle, tenants)
	s.Require().NoError(err)

	s.router = gin.New()
	s.router.POST("/webhooks/billing", handler.HandleBillingEvent)

	id := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_TENANT)
	t := &tenant.Tenant{
		ID:                 id,
		Name:               "Hook Line",
		Tier:               types.SubscriptionTierPro,
		SubscriptionStatus: types.SubscriptionStatusTrialing,
		BillingAnchor:      time.Now().UTC().AddDate(0, 0, -5),
		BaseModel:          types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().TenantRepo.Create(s.GetContext(), t))

	snap := &quota.Snapshot{
		ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_QUOTA_SNAPSHOT),
		TenantID:      id,
		PeriodStart:   t.BillingAnchor,
		PeriodEnd:     t.BillingAnchor.AddDate(0, 1, 0),
		BaseAllowance: decimal.NewFromInt(1500),
		Current:       true,
		BaseModel:     types.GetDefaultBaseModel(id, types.DefaultUserID),
	}
	s.Require().NoError(s.GetStores().QuotaRepo.Create(s.GetContext(), snap))
	s.tenantID = id
}

func (s *WebhookHandlerSuite) post(body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *WebhookHandlerSuite) postEvent(id, eventType string, data interface{}) *httptest.ResponseRecorder {
	event := map[string]interface{}{
		"id":        id,
		"type":      eventType,
		"tenant_id": s.tenantID,
	}
	if data != nil {
		event["data"] = data
	}
	body, err := json.Marshal(event)
	s.Require().NoError(err)
	return s.post(body)
}

func (s *WebhookHandlerSuite) status(w *httptest.ResponseRecorder) string {
	var resp map[string]string
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["status"]
}

func (s *WebhookHandlerSuite) tenantStatus() types.SubscriptionStatus {
	t, err := s.GetStores().TenantRepo.Get(s.GetContext(), s.tenantID)
	s.Require().NoError(err)
	return t.SubscriptionStatus
}

func (s *WebhookHandlerSuite) TestCheckoutCompletedActivates() {
	w := s.postEvent("evt_1", EventCheckoutCompleted, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("processed", s.status(w))
	s.Equal(types.SubscriptionStatusActive, s.tenantStatus())
}

func (s *WebhookHandlerSuite) TestPaymentFailureAndRecovery() {
	s.postEvent("evt_1", EventCheckoutCompleted, nil)

	w := s.postEvent("evt_2", EventPaymentFailed, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(types.SubscriptionStatusPastDue, s.tenantStatus())

	w = s.postEvent("evt_3", EventPaymentSucceeded, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(types.SubscriptionStatusActive, s.tenantStatus())
}

func (s *WebhookHandlerSuite) TestPaymentFailedReplayAcknowledged() {
	s.postEvent("evt_1", EventCheckoutCompleted, nil)

	w := s.postEvent("evt_2", EventPaymentFailed, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("processed", s.status(w))

	// The provider redelivers the same event. It must be acknowledged
	// with a 200 and leave a single audit row behind.
	w = s.postEvent("evt_2", EventPaymentFailed, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("already_processed", s.status(w))

	records, err := s.GetStores().TransitionRepo.ListByTenant(s.GetContext(), s.tenantID, nil)
	s.Require().NoError(err)
	s.Len(records, 2)
}

func (s *WebhookHandlerSuite) TestSubscriptionCanceled() {
	s.postEvent("evt_1", EventCheckoutCompleted, nil)

	w := s.postEvent("evt_2", EventSubscriptionCanceled, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal(types.SubscriptionStatusCanceled, s.tenantStatus())
}

func (s *WebhookHandlerSuite) TestSubscriptionUpdatedAppliesStatus() {
	s.postEvent("evt_1", EventCheckoutCompleted, nil)

	w := s.postEvent("evt_2", EventSubscriptionUpdated, SubscriptionUpdateData{
		Status: types.SubscriptionStatusPaused,
	})
	s.Equal(http.StatusOK, w.Code)
	s.Equal(types.SubscriptionStatusPaused, s.tenantStatus())
}

func (s *WebhookHandlerSuite) TestAddOnPurchaseGrantsCredit() {
	expiry := time.Now().UTC().AddDate(0, 2, 0)
	w := s.postEvent("evt_pack", EventAddOnPurchased, AddOnPurchaseData{
		CreditType: types.CreditTypePack,
		Amount:     decimal.NewFromInt(500),
		ExpiresAt:  &expiry,
	})
	s.Equal(http.StatusOK, w.Code)
	s.Equal("processed", s.status(w))

	credits, err := s.GetStores().CreditRepo.ListActive(s.GetContext(), s.tenantID)
	s.Require().NoError(err)
	s.Require().Len(credits, 1)
	s.Equal(types.CreditTypePack, credits[0].CreditType)
	s.Equal("500", credits[0].AmountGranted.String())
	s.Equal("evt_pack", credits[0].ExternalEventID)
}

func (s *WebhookHandlerSuite) TestAddOnPurchaseReplayAcknowledged() {
	payload := AddOnPurchaseData{
		CreditType: types.CreditTypeBooster,
		Amount:     decimal.NewFromInt(200),
	}
	w := s.postEvent("evt_boost", EventAddOnPurchased, payload)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("processed", s.status(w))

	// The redelivered event is acknowledged without a second grant.
	w = s.postEvent("evt_boost", EventAddOnPurchased, payload)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("already_processed", s.status(w))

	credits, err := s.GetStores().CreditRepo.ListActive(s.GetContext(), s.tenantID)
	s.Require().NoError(err)
	s.Len(credits, 1)
}

func (s *WebhookHandlerSuite) TestUnknownEventTypeAcknowledged() {
	w := s.postEvent("evt_x", "invoice.finalized", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("processed", s.status(w))
}

func (s *WebhookHandlerSuite) TestMalformedBodyRejected() {
	w := s.post([]byte("{not json"))
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *WebhookHandlerSuite) TestMissingIdentifiersRejected() {
	w := s.post([]byte(`{"type": "checkout.completed"}`))
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *WebhookHandlerSuite) TestUnknownTenantReturnsNotFound() {
	body, err := json.Marshal(map[string]interface{}{
		"id":        "evt_404",
		"type":      EventCheckoutCompleted,
		"tenant_id": fmt.Sprintf("tenant_%s", "missing"),
	})
	s.Require().NoError(err)
	w := s.post(body)
	s.Equal(http.StatusNotFound, w.Code)
}
