package postgres

import (
	"context"
	"database/sql"

	domainQuota "github.com/storyforge/metering/internal/domain/quota"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/types"
)

type quotaRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewQuotaRepository creates a new quota snapshot repository
func NewQuotaRepository(client postgres.IClient, logger *logger.Logger) domainQuota.Repository {
	return &quotaRepository{client: client, logger: logger}
}

const snapshotColumns = `
	id, tenant_id, period_start, period_end,
	base_allowance, rollover_balance, booster_credits, pack_credits,
	consumed, pending, over_limit, current,
	status, created_at, updated_at, created_by, updated_by
`

func (r *quotaRepository) Create(ctx context.Context, s *domainQuota.Snapshot) error {
	r.logger.Debugw("creating quota snapshot",
		"snapshot_id", s.ID,
		"tenant_id", s.TenantID,
		"period_start", s.PeriodStart,
	)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO quota_snapshots (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		s.ID, s.TenantID, s.PeriodStart, s.PeriodEnd,
		s.BaseAllowance, s.RolloverBalance, s.BoosterCredits, s.PackCredits,
		s.Consumed, s.Pending, s.OverLimit, s.Current,
		s.Status, s.CreatedAt, s.UpdatedAt, s.CreatedBy, s.UpdatedBy,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("Tenant already has a current snapshot for this period").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create quota snapshot").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *quotaRepository) Get(ctx context.Context, id string) (*domainQuota.Snapshot, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM quota_snapshots
		WHERE id = $1
	`, id)

	s, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("quota snapshot not found").
				WithReportableDetails(map[string]interface{}{"snapshot_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get quota snapshot").
			Mark(ierr.ErrDatabase)
	}
	return s, nil
}

func (r *quotaRepository) GetCurrent(ctx context.Context, tenantID string) (*domainQuota.Snapshot, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM quota_snapshots
		WHERE tenant_id = $1 AND current = true
	`, tenantID)

	s, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("no current quota snapshot").
				WithHintf("Tenant %s has no current billing period snapshot", tenantID).
				WithReportableDetails(map[string]interface{}{"tenant_id": tenantID}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get quota snapshot").
			Mark(ierr.ErrDatabase)
	}
	return s, nil
}

func (r *quotaRepository) Update(ctx context.Context, s *domainQuota.Snapshot) error {
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE quota_snapshots
		SET base_allowance = $2, rollover_balance = $3, booster_credits = $4,
			pack_credits = $5, consumed = $6, pending = $7, over_limit = $8,
			current = $9, updated_at = $10, updated_by = $11
		WHERE id = $1
	`,
		s.ID, s.BaseAllowance, s.RolloverBalance, s.BoosterCredits,
		s.PackCredits, s.Consumed, s.Pending, s.OverLimit,
		s.Current, s.UpdatedAt, s.UpdatedBy,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update quota snapshot").
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewError("quota snapshot not found").
			WithReportableDetails(map[string]interface{}{"snapshot_id": s.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *quotaRepository) CloseCurrent(ctx context.Context, tenantID string) error {
	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE quota_snapshots
		SET current = false, updated_at = now()
		WHERE tenant_id = $1 AND current = true
	`, tenantID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to close current quota snapshot").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *quotaRepository) ListHistory(ctx context.Context, tenantID string, filter *types.QueryFilter) ([]*domainQuota.Snapshot, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM quota_snapshots
		WHERE tenant_id = $1
		ORDER BY period_start DESC
		LIMIT $2 OFFSET $3
	`, tenantID, filter.GetLimit(), filter.GetOffset())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list quota snapshots").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var snapshots []*domainQuota.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan quota snapshot row").
				Mark(ierr.ErrDatabase)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate quota snapshot rows").
			Mark(ierr.ErrDatabase)
	}
	return snapshots, nil
}

func scanSnapshot(row rowScanner) (*domainQuota.Snapshot, error) {
	var s domainQuota.Snapshot
	err := row.Scan(
		&s.ID, &s.TenantID, &s.PeriodStart, &s.PeriodEnd,
		&s.BaseAllowance, &s.RolloverBalance, &s.BoosterCredits, &s.PackCredits,
		&s.Consumed, &s.Pending, &s.OverLimit, &s.Current,
		&s.Status, &s.CreatedAt, &s.UpdatedAt, &s.CreatedBy, &s.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
