package postgres

import (
	"context"
	"database/sql"
	"time"

	domainCredit "github.com/storyforge/metering/internal/domain/credit"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/types"
)

type creditRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewCreditRepository creates a new add-on credit repository
func NewCreditRepository(client postgres.IClient, logger *logger.Logger) domainCredit.Repository {
	return &creditRepository{client: client, logger: logger}
}

const creditColumns = `
	id, tenant_id, credit_type, amount_granted, amount_consumed,
	expires_at, credit_status, external_event_id,
	status, created_at, updated_at, created_by, updated_by
`

func (r *creditRepository) Create(ctx context.Context, c *domainCredit.AddOnCredit) error {
	r.logger.Debugw("creating add-on credit",
		"credit_id", c.ID,
		"tenant_id", c.TenantID,
		"credit_type", c.CreditType,
		"amount", c.AmountGranted,
	)

	_, err := r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO addon_credits (`+creditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		c.ID, c.TenantID, c.CreditType, c.AmountGranted, c.AmountConsumed,
		c.ExpiresAt, c.CreditStatus, c.ExternalEventID,
		c.Status, c.CreatedAt, c.UpdatedAt, c.CreatedBy, c.UpdatedBy,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A credit for this purchase event already exists").
				WithReportableDetails(map[string]interface{}{
					"external_event_id": c.ExternalEventID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create add-on credit").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *creditRepository) Get(ctx context.Context, id string) (*domainCredit.AddOnCredit, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+creditColumns+`
		FROM addon_credits
		WHERE id = $1
	`, id)

	c, err := scanCredit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("add-on credit not found").
				WithReportableDetails(map[string]interface{}{"credit_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get add-on credit").
			Mark(ierr.ErrDatabase)
	}
	return c, nil
}

func (r *creditRepository) Update(ctx context.Context, c *domainCredit.AddOnCredit) error {
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE addon_credits
		SET amount_consumed = $2, credit_status = $3, updated_at = $4, updated_by = $5
		WHERE id = $1
	`, c.ID, c.AmountConsumed, c.CreditStatus, c.UpdatedAt, c.UpdatedBy)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update add-on credit").
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewError("add-on credit not found").
			WithReportableDetails(map[string]interface{}{"credit_id": c.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *creditRepository) GetByEventID(ctx context.Context, tenantID, externalEventID string) (*domainCredit.AddOnCredit, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+creditColumns+`
		FROM addon_credits
		WHERE tenant_id = $1 AND external_event_id = $2
	`, tenantID, externalEventID)

	c, err := scanCredit(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("add-on credit not found").
				WithReportableDetails(map[string]interface{}{
					"tenant_id":         tenantID,
					"external_event_id": externalEventID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get add-on credit by event id").
			Mark(ierr.ErrDatabase)
	}
	return c, nil
}

func (r *creditRepository) ListActive(ctx context.Context, tenantID string) ([]*domainCredit.AddOnCredit, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+creditColumns+`
		FROM addon_credits
		WHERE tenant_id = $1 AND credit_status = $2
			AND (expires_at IS NULL OR expires_at > now())
		ORDER BY expires_at ASC NULLS LAST, created_at ASC
	`, tenantID, types.CreditStatusActive)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list active add-on credits").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectCredits(rows)
}

func (r *creditRepository) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*domainCredit.AddOnCredit, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+creditColumns+`
		FROM addon_credits
		WHERE credit_status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY tenant_id, expires_at
	`, types.CreditStatusActive, cutoff)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list expired add-on credits").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	return collectCredits(rows)
}

func scanCredit(row rowScanner) (*domainCredit.AddOnCredit, error) {
	var c domainCredit.AddOnCredit
	err := row.Scan(
		&c.ID, &c.TenantID, &c.CreditType, &c.AmountGranted, &c.AmountConsumed,
		&c.ExpiresAt, &c.CreditStatus, &c.ExternalEventID,
		&c.Status, &c.CreatedAt, &c.UpdatedAt, &c.CreatedBy, &c.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCredits(rows *sql.Rows) ([]*domainCredit.AddOnCredit, error) {
	var credits []*domainCredit.AddOnCredit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan add-on credit row").
				Mark(ierr.ErrDatabase)
		}
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate add-on credit rows").
			Mark(ierr.ErrDatabase)
	}
	return credits, nil
}
