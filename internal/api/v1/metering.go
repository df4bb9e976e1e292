package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/storyforge/metering/internal/api/dto"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/service"
	"github.com/storyforge/metering/internal/types"
)

// MeteringHandler exposes the metering API over HTTP.
type MeteringHandler struct {
	meteringService service.MeteringService
	logger          *logger.Logger
}

// NewMeteringHandler creates a new metering handler
func NewMeteringHandler(meteringService service.MeteringService, logger *logger.Logger) *MeteringHandler {
	return &MeteringHandler{
		meteringService: meteringService,
		logger:          logger,
	}
}

// Reserve handles POST /v1/metering/reserve
func (h *MeteringHandler) Reserve(c *gin.Context) {
	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid reserve request").Mark(ierr.ErrValidation)))
		return
	}

	resp, err := h.meteringService.Reserve(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Commit handles POST /v1/metering/commit
func (h *MeteringHandler) Commit(c *gin.Context) {
	var req dto.CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid commit request").Mark(ierr.ErrValidation)))
		return
	}

	resp, err := h.meteringService.Commit(c.Request.Context(), req.CorrelationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Release handles POST /v1/metering/release
func (h *MeteringHandler) Release(c *gin.Context) {
	var req dto.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid release request").Mark(ierr.ErrValidation)))
		return
	}

	resp, err := h.meteringService.Release(c.Request.Context(), req.CorrelationID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Spend handles POST /v1/metering/spend
func (h *MeteringHandler) Spend(c *gin.Context) {
	var req dto.SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid spend request").Mark(ierr.ErrValidation)))
		return
	}

	resp, err := h.meteringService.Spend(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetSnapshot handles GET /v1/tenants/:id/snapshot
func (h *MeteringHandler) GetSnapshot(c *gin.Context) {
	resp, err := h.meteringService.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetAuditLog handles GET /v1/tenants/:id/audit-log
func (h *MeteringHandler) GetAuditLog(c *gin.Context) {
	var timeRange types.TimeRangeFilter
	if err := c.ShouldBindQuery(&timeRange); err != nil {
		c.JSON(http.StatusBadRequest, ierr.NewErrorResponse(
			ierr.WithError(err).WithHint("Invalid time range").Mark(ierr.ErrValidation)))
		return
	}

	resp, err := h.meteringService.GetAuditLog(c.Request.Context(), c.Param("id"), &timeRange)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// respondError writes the standard error body with the mapped status code.
func respondError(c *gin.Context, err error) {
	c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
}
