package postgres

import (
	"context"
	"database/sql"

	domainTransition "github.com/storyforge/metering/internal/domain/transition"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/types"
)

type transitionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewTransitionRepository creates a new state transition audit repository
func NewTransitionRepository(client postgres.IClient, logger *logger.Logger) domainTransition.Repository {
	return &transitionRepository{client: client, logger: logger}
}

func (r *transitionRepository) Create(ctx context.Context, rec *domainTransition.Record) error {
	r.logger.Debugw("recording state transition",
		"tenant_id", rec.TenantID,
		"from", rec.FromStatus,
		"to", rec.ToStatus,
		"reason", rec.Reason,
	)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO state_transitions
			(id, tenant_id, from_status, to_status, reason, actor_id, external_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID, rec.TenantID, rec.FromStatus, rec.ToStatus,
		rec.Reason, rec.ActorID, rec.ExternalEventID, rec.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A transition for this provider event already exists").
				WithReportableDetails(map[string]interface{}{
					"external_event_id": rec.ExternalEventID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to record state transition").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *transitionRepository) GetByEventID(ctx context.Context, tenantID, externalEventID string) (*domainTransition.Record, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, from_status, to_status, reason, actor_id, external_event_id, created_at
		FROM state_transitions
		WHERE tenant_id = $1 AND external_event_id = $2
	`, tenantID, externalEventID)

	var rec domainTransition.Record
	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.FromStatus, &rec.ToStatus,
		&rec.Reason, &rec.ActorID, &rec.ExternalEventID, &rec.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("state transition not found").
				WithReportableDetails(map[string]interface{}{
					"tenant_id":         tenantID,
					"external_event_id": externalEventID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get state transition by event id").
			Mark(ierr.ErrDatabase)
	}
	return &rec, nil
}

func (r *transitionRepository) ListByTenant(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) ([]*domainTransition.Record, error) {
	query := `
		SELECT id, tenant_id, from_status, to_status, reason, actor_id, external_event_id, created_at
		FROM state_transitions
		WHERE tenant_id = $1
	`
	args := []interface{}{tenantID}

	if timeRange != nil && timeRange.StartTime != nil {
		args = append(args, *timeRange.StartTime)
		query += ` AND created_at >= $2`
	}
	if timeRange != nil && timeRange.EndTime != nil {
		args = append(args, *timeRange.EndTime)
		if len(args) == 3 {
			query += ` AND created_at < $3`
		} else {
			query += ` AND created_at < $2`
		}
	}
	query += ` ORDER BY created_at`

	rows, err := r.client.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list state transitions").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var records []*domainTransition.Record
	for rows.Next() {
		var rec domainTransition.Record
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.FromStatus, &rec.ToStatus,
			&rec.Reason, &rec.ActorID, &rec.ExternalEventID, &rec.CreatedAt,
		); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan state transition row").
				Mark(ierr.ErrDatabase)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate state transition rows").
			Mark(ierr.ErrDatabase)
	}
	return records, nil
}
