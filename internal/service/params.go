package service

import (
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/config"
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/reminder"
	"github.com/storyforge/metering/internal/domain/reservation"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/domain/transition"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
)

// ServiceParams holds common dependencies for services. Each service embeds
// it so construction stays uniform and fx wiring stays flat.
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	// SnapshotCache holds the read-side snapshot views. Every service that
	// mutates quota state invalidates the tenant's entry so GetSnapshot
	// never serves a stale allowance for a full TTL.
	SnapshotCache cache.Cache

	TenantRepo      tenant.Repository
	QuotaRepo       quota.Repository
	LedgerRepo      ledger.Repository
	CreditRepo      credit.Repository
	TransitionRepo  transition.Repository
	ReservationRepo reservation.Repository
	ReminderRepo    reminder.Repository
}
