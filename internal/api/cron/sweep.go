package cron

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/service"
)

// SweepHandler exposes the periodic maintenance jobs as cron endpoints.
// Every job is idempotent, so an external scheduler may safely retry or
// double-fire any of them.
type SweepHandler struct {
	sweepService service.SweepService
	logger       *logger.Logger
}

// NewSweepHandler creates a new sweep cron handler
func NewSweepHandler(sweepService service.SweepService, logger *logger.Logger) *SweepHandler {
	return &SweepHandler{
		sweepService: sweepService,
		logger:       logger,
	}
}

// Rollover handles POST /cron/rollover
func (h *SweepHandler) Rollover(c *gin.Context) {
	h.logger.Infow("starting rollover sweep")
	if err := h.sweepService.RolloverSweep(c.Request.Context()); err != nil {
		h.logger.Errorw("rollover sweep failed", "error", err)
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rollover sweep completed"})
}

// Grace handles POST /cron/grace
func (h *SweepHandler) Grace(c *gin.Context) {
	h.logger.Infow("starting grace sweep")
	if err := h.sweepService.GraceSweep(c.Request.Context()); err != nil {
		h.logger.Errorw("grace sweep failed", "error", err)
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "grace sweep completed"})
}

// PackExpiry handles POST /cron/expiry
func (h *SweepHandler) PackExpiry(c *gin.Context) {
	h.logger.Infow("starting pack expiry sweep")
	if err := h.sweepService.PackExpirySweep(c.Request.Context()); err != nil {
		h.logger.Errorw("pack expiry sweep failed", "error", err)
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pack expiry sweep completed"})
}

// Reservations handles POST /cron/reservations
func (h *SweepHandler) Reservations(c *gin.Context) {
	h.logger.Infow("starting reservation sweep")
	if err := h.sweepService.ReservationSweep(c.Request.Context()); err != nil {
		h.logger.Errorw("reservation sweep failed", "error", err)
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reservation sweep completed"})
}
