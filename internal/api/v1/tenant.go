package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/storyforge/metering/internal/api/dto"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/service"
)

// TenantHandler exposes tenant provisioning and seat management over HTTP.
type TenantHandler struct {
	tenantService   service.TenantService
	seatPoolService service.SeatPoolService
	logger          *logger.Logger
}

// NewTenantHandler creates a new tenant handler
func NewTenantHandler(tenantService service.TenantService, seatPoolService service.SeatPoolService, logger *logger.Logger) *TenantHandler {
	return &TenantHandler{
		tenantService:   tenantService,
		seatPoolService: seatPoolService,
		logger:          logger,
	}
}

// CreateTenant handles POST /v1/tenants
func (h *TenantHandler) CreateTenant(c *gin.Context) {
	var req dto.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid tenant payload").Mark(ierr.ErrValidation)))
		return
	}

	resp, err := h.tenantService.CreateTenant(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetTenant handles GET /v1/tenants/:id
func (h *TenantHandler) GetTenant(c *gin.Context) {
	resp, err := h.tenantService.GetTenant(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GrantCredit handles POST /v1/tenants/:id/credits
func (h *TenantHandler) GrantCredit(c *gin.Context) {
	var req dto.GrantCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid credit grant payload").Mark(ierr.ErrValidation)))
		return
	}
	req.TenantID = c.Param("id")

	if err := h.tenantService.GrantAddOnCredit(c.Request.Context(), &req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "credit granted"})
}

// UpdateSeats handles PUT /v1/tenants/:id/seats
func (h *TenantHandler) UpdateSeats(c *gin.Context) {
	var req dto.UpdateSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid seat update payload").Mark(ierr.ErrValidation)))
		return
	}

	if err := h.seatPoolService.ChangeSeats(c.Request.Context(), c.Param("id"), req.SeatCount); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "seat count updated"})
}
