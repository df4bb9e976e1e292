package postgres

import (
	"context"

	domainReminder "github.com/storyforge/metering/internal/domain/reminder"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
)

type reminderRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewReminderRepository creates a new grace reminder repository
func NewReminderRepository(client postgres.IClient, logger *logger.Logger) domainReminder.Repository {
	return &reminderRepository{client: client, logger: logger}
}

func (r *reminderRepository) Create(ctx context.Context, rem *domainReminder.GraceReminder) error {
	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO grace_reminders (id, tenant_id, milestone_day, sent_at)
		VALUES ($1, $2, $3, $4)
	`, rem.ID, rem.TenantID, rem.MilestoneDay, rem.SentAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Reminder for this milestone was already sent").
				WithReportableDetails(map[string]interface{}{
					"tenant_id":     rem.TenantID,
					"milestone_day": rem.MilestoneDay,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to record grace reminder").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *reminderRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domainReminder.GraceReminder, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, milestone_day, sent_at
		FROM grace_reminders
		WHERE tenant_id = $1
		ORDER BY milestone_day
	`, tenantID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list grace reminders").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var reminders []*domainReminder.GraceReminder
	for rows.Next() {
		var rem domainReminder.GraceReminder
		if err := rows.Scan(&rem.ID, &rem.TenantID, &rem.MilestoneDay, &rem.SentAt); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan grace reminder row").
				Mark(ierr.ErrDatabase)
		}
		reminders = append(reminders, &rem)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate grace reminder rows").
			Mark(ierr.ErrDatabase)
	}
	return reminders, nil
}
