package postgres

import (
	"context"

	domainLedger "github.com/storyforge/metering/internal/domain/ledger"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
	"github.com/storyforge/metering/internal/types"
)

type ledgerRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(client postgres.IClient, logger *logger.Logger) domainLedger.Repository {
	return &ledgerRepository{client: client, logger: logger}
}

const ledgerColumns = `
	id, tenant_id, snapshot_id, correlation_id,
	amount, bucket, entry_type, actor_id, created_at
`

func (r *ledgerRepository) Append(ctx context.Context, entries ...*domainLedger.Entry) error {
	querier := r.client.Querier(ctx)
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}

		_, err := querier.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+ledgerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			e.ID, e.TenantID, e.SnapshotID, e.CorrelationID,
			e.Amount, e.Bucket, e.EntryType, e.ActorID, e.CreatedAt,
		)
		if err != nil {
			if postgres.IsUniqueViolation(err) {
				return ierr.WithError(err).
					WithHint("A ledger entry with this correlation id already exists").
					WithReportableDetails(map[string]interface{}{
						"correlation_id": e.CorrelationID,
						"bucket":         e.Bucket,
					}).
					Mark(ierr.ErrAlreadyExists)
			}
			return ierr.WithError(err).
				WithHint("Failed to append ledger entry").
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *ledgerRepository) GetByCorrelationID(ctx context.Context, tenantID, correlationID string) ([]*domainLedger.Entry, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE tenant_id = $1 AND correlation_id = $2
		ORDER BY created_at
	`, tenantID, correlationID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to get ledger entries").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var entries []*domainLedger.Entry
	for rows.Next() {
		var e domainLedger.Entry
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.SnapshotID, &e.CorrelationID,
			&e.Amount, &e.Bucket, &e.EntryType, &e.ActorID, &e.CreatedAt,
		); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan ledger entry row").
				Mark(ierr.ErrDatabase)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate ledger entry rows").
			Mark(ierr.ErrDatabase)
	}
	return entries, nil
}

func (r *ledgerRepository) ListByTenant(ctx context.Context, tenantID string, timeRange *types.TimeRangeFilter) ([]*domainLedger.Entry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
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
			WithHint("Failed to list ledger entries").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var entries []*domainLedger.Entry
	for rows.Next() {
		var e domainLedger.Entry
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.SnapshotID, &e.CorrelationID,
			&e.Amount, &e.Bucket, &e.EntryType, &e.ActorID, &e.CreatedAt,
		); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan ledger entry row").
				Mark(ierr.ErrDatabase)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate ledger entry rows").
			Mark(ierr.ErrDatabase)
	}
	return entries, nil
}
