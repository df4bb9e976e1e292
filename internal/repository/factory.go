package repository

import (
	"github.com/storyforge/metering/internal/domain/credit"
	"github.com/storyforge/metering/internal/domain/ledger"
	"github.com/storyforge/metering/internal/domain/quota"
	"github.com/storyforge/metering/internal/domain/reminder"
	"github.com/storyforge/metering/internal/domain/reservation"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/domain/transition"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	pgRepo "github.com/storyforge/metering/internal/repository/postgres"
)

// Repositories bundles all persistence interfaces for injection.
type Repositories struct {
	Tenant      tenant.Repository
	Quota       quota.Repository
	Ledger      ledger.Repository
	Credit      credit.Repository
	Transition  transition.Repository
	Reservation reservation.Repository
	Reminder    reminder.Repository
}

// NewRepositories wires the postgres implementations.
func NewRepositories(client postgres.IClient, log *logger.Logger) *Repositories {
	return &Repositories{
		Tenant:      pgRepo.NewTenantRepository(client, log),
		Quota:       pgRepo.NewQuotaRepository(client, log),
		Ledger:      pgRepo.NewLedgerRepository(client, log),
		Credit:      pgRepo.NewCreditRepository(client, log),
		Transition:  pgRepo.NewTransitionRepository(client, log),
		Reservation: pgRepo.NewReservationRepository(client, log),
		Reminder:    pgRepo.NewReminderRepository(client, log),
	}
}
