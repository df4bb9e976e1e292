package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	domainReservation "github.com/storyforge/metering/internal/domain/reservation"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/postgres"
)

type reservationRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(client postgres.IClient, logger *logger.Logger) domainReservation.Repository {
	return &reservationRepository{client: client, logger: logger}
}

const reservationColumns = `
	id, correlation_id, tenant_id, snapshot_id, amount, state,
	bucket_plan, expires_at, created_at, updated_at
`

func (r *reservationRepository) Create(ctx context.Context, rsv *domainReservation.Reservation) error {
	plan, err := json.Marshal(rsv.BucketPlan)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode bucket plan").
			Mark(ierr.ErrInternal)
	}

	_, err = r.client.Querier(ctx).ExecContext(ctx, `
		INSERT INTO quota_reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rsv.ID, rsv.CorrelationID, rsv.TenantID, rsv.SnapshotID, rsv.Amount,
		rsv.State, plan, rsv.ExpiresAt, rsv.CreatedAt, rsv.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("A reservation with this correlation id already exists").
				WithReportableDetails(map[string]interface{}{
					"correlation_id": rsv.CorrelationID,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create reservation").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *reservationRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*domainReservation.Reservation, error) {
	row := r.client.Querier(ctx).QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM quota_reservations
		WHERE correlation_id = $1
	`, correlationID)

	rsv, err := scanReservation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("reservation not found").
				WithHintf("No reservation exists for correlation id %s", correlationID).
				WithReportableDetails(map[string]interface{}{"correlation_id": correlationID}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get reservation").
			Mark(ierr.ErrDatabase)
	}
	return rsv, nil
}

func (r *reservationRepository) Update(ctx context.Context, rsv *domainReservation.Reservation) error {
	res, err := r.client.Querier(ctx).ExecContext(ctx, `
		UPDATE quota_reservations
		SET state = $2, updated_at = $3
		WHERE id = $1
	`, rsv.ID, rsv.State, rsv.UpdatedAt)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update reservation").
			Mark(ierr.ErrDatabase)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ierr.NewError("reservation not found").
			WithReportableDetails(map[string]interface{}{"reservation_id": rsv.ID}).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *reservationRepository) ListExpiredBefore(ctx context.Context, cutoff time.Time) ([]*domainReservation.Reservation, error) {
	rows, err := r.client.Querier(ctx).QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM quota_reservations
		WHERE state = 'pending' AND expires_at <= $1
		ORDER BY tenant_id, expires_at
	`, cutoff)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list expired reservations").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var reservations []*domainReservation.Reservation
	for rows.Next() {
		rsv, err := scanReservation(rows)
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to scan reservation row").
				Mark(ierr.ErrDatabase)
		}
		reservations = append(reservations, rsv)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to iterate reservation rows").
			Mark(ierr.ErrDatabase)
	}
	return reservations, nil
}

func scanReservation(row rowScanner) (*domainReservation.Reservation, error) {
	var rsv domainReservation.Reservation
	var plan []byte
	err := row.Scan(
		&rsv.ID, &rsv.CorrelationID, &rsv.TenantID, &rsv.SnapshotID, &rsv.Amount,
		&rsv.State, &plan, &rsv.ExpiresAt, &rsv.CreatedAt, &rsv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(plan) > 0 {
		if err := json.Unmarshal(plan, &rsv.BucketPlan); err != nil {
			return nil, err
		}
	}
	return &rsv, nil
}
