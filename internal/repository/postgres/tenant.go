package postgres

import (
	"context"
	"database/sql"

	domainTenant "github.com/storyforge/metering/internal/domain/tenant"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/types"
)

type tenantRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(client postgres.IClient, logger *logger.Logger) domainTenant.Repository {
	return &tenantRepository{client: client, logger: logger}
}

const tenantColumns = `
	id, name, tier, subscription_status, seat_count, billing_anchor,
	trial_ends_at, grace_started_at, grace_expires_at,
	status, created_at, updated_at, created_by, updated_by
`

func (r *tenantRepository) Create(ctx context.Context, t *domainTenant.Tenant) error {
	r.logger.Debugw("creating tenant", "tenant_id", t.ID, "tier", t.Tier)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		t.ID, t.Name, t.Tier, t.SubscriptionStatus, t.SeatCount, t.BillingAnchor,
		t.TrialEndsAt, t.GraceStartedAt, t.GraceExpiresAt,
		t.Status, t.CreatedAt, t.UpdatedAt, t.CreatedBy, t.UpdatedBy,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A tenant with this id already exists").
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create tenant").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *tenantRepository) Get(ctx context.Context, id string) (*domainTenant.Tenant, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE id = $1 AND status != $2
	`, id, types.StatusDeleted)

	t, err := scanTenant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("tenant not found").
				WithHintf("Tenant with ID %s was not found", id).
				WithReportableDetails(map[string]interface{}{"tenant_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get tenant").
			Mark(ierr.ErrDatabase)
	}
	return t, nil
}

func (r *tenantRepository) Update(ctx context.Context, t *domainTenant.Tenant) error {
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE tenants
		SET name = $2, tier = $3, subscription_status = $4, seat_count = $5,
			billing_anchor = $6, trial_ends_at = $7, grace_started_at = $8,
			grace_expires_at = $9, updated_at = $10, updated_by = $11
		WHERE id = $1
	`,
		t.ID, t.Name, t.Tier, t.SubscriptionStatus, t.SeatCount,
		t.BillingAnchor, t.TrialEndsAt, t.GraceStartedAt,
		t.GraceExpiresAt, t.UpdatedAt, t.UpdatedBy,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update tenant").
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewError("tenant not found").
			WithReportableDetails(map[string]interface{}{"tenant_id": t.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *tenantRepository) ListByStatus(ctx context.Context, status types.SubscriptionStatus) ([]*domainTenant.Tenant, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE subscription_status = $1 AND status != $2
		ORDER BY created_at
	`, status, types.StatusDeleted)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list tenants by status").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectTenants(rows)
}

func (r *tenantRepository) List(ctx context.Context, filter *types.QueryFilter) ([]*domainTenant.Tenant, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+tenantColumns+`
		FROM tenants
		WHERE status != $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, types.StatusDeleted, filter.GetLimit(), filter.GetOffset())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list tenants").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectTenants(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*domainTenant.Tenant, error) {
	var t domainTenant.Tenant
	err := row.Scan(
		&t.ID, &t.Name, &t.Tier, &t.SubscriptionStatus, &t.SeatCount, &t.BillingAnchor,
		&t.TrialEndsAt, &t.GraceStartedAt, &t.GraceExpiresAt,
		&t.Status, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTenants(rows *sql.Rows) ([]*domainTenant.Tenant, error) {
	var tenants []*domainTenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan tenant row").
				Mark(ierr.ErrDatabase)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate tenant rows").
			Mark(ierr.ErrDatabase)
	}
	return tenants, nil
}
