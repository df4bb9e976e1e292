package service

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/storyforge/metering/internal/cache"
	"github.com/storyforge/metering/internal/domain/reminder"
	"github.com/storyforge/metering/internal/domain/tenant"
	"github.com/storyforge/metering/internal/domain/transition"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/logger"
	"github.com/storyforge/metering/internal/types"
)

// Notifier delivers tenant-facing notifications. The metering core only
// needs fire-and-forget semantics; delivery guarantees come from the
// grace_reminders table, not the transport.
type Notifier interface {
	SendGraceReminder(ctx context.Context, tenantID string, milestoneDay int, daysRemaining int) error
}

// logNotifier is the default notifier; real deployments plug in the email
// service.
type logNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(log *logger.Logger) Notifier {
	return &logNotifier{logger: log}
}

func (n *logNotifier) SendGraceReminder(ctx context.Context, tenantID string, milestoneDay, daysRemaining int) error {
	n.logger.Infow("grace reminder",
		"tenant_id", tenantID,
		"milestone_day", milestoneDay,
		"days_remaining", daysRemaining,
	)
	return nil
}

// LifecycleService governs the subscription status state machine and the
// payment-failure grace window.
type LifecycleService interface {
	// TransitionStatus moves a tenant to a new status. Invalid moves are
	// rejected with ErrInvalidOperation and logged, never coerced. The
	// audit record is written in the same transaction, before success is
	// returned. A transition whose external event id was already recorded
	// returns ErrAlreadyExists so webhook replays write no second row.
	TransitionStatus(ctx context.Context, tenantID string, to types.SubscriptionStatus, reason types.TransitionReason, externalEventID *string) error

	// HandlePaymentFailed moves the tenant to past_due and opens the grace
	// window.
	HandlePaymentFailed(ctx context.Context, tenantID string, externalEventID *string) error

	// HandlePaymentSucceeded reactivates a past_due tenant and clears the
	// grace window.
	HandlePaymentSucceeded(ctx context.Context, tenantID string, externalEventID *string) error

	// EnforceGrace processes one past_due tenant: cancels it when the grace
	// window has elapsed, otherwise sends any reminder milestones that have
	// arrived and were not yet sent.
	EnforceGrace(ctx context.Context, t *tenant.Tenant, now time.Time) error
}

type lifecycleService struct {
	ServiceParams
	notifier Notifier
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(p ServiceParams, notifier Notifier) LifecycleService {
	return &lifecycleService{ServiceParams: p, notifier: notifier}
}

func (s *lifecycleService) TransitionStatus(ctx context.Context, tenantID string, to types.SubscriptionStatus, reason types.TransitionReason, externalEventID *string) error {
	if !to.Validate() {
		return ierr.NewError("invalid subscription status").
			WithReportableDetails(map[string]interface{}{"status": to}).
			Mark(ierr.ErrValidation)
	}

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.DB.LockKey(ctx, types.QuotaLockKey(tenantID), s.Config.Metering.LockTimeout); err != nil {
			return ierr.WithError(err).
				WithHint("Could not acquire the tenant quota lock").
				Mark(ierr.ErrDatabase)
		}
		return s.transitionLocked(ctx, tenantID, to, reason, externalEventID)
	})
}

// transitionLocked performs the transition inside an already-locked
// transaction.
func (s *lifecycleService) transitionLocked(ctx context.Context, tenantID string, to types.SubscriptionStatus, reason types.TransitionReason, externalEventID *string) error {
	// Replay detection happens by lookup, not by letting the insert hit
	// the unique index: a constraint violation aborts the surrounding
	// transaction, which would turn an acknowledged replay into a failed
	// commit.
	if externalEventID != nil && *externalEventID != "" {
		if _, err := s.TransitionRepo.GetByEventID(ctx, tenantID, *externalEventID); err == nil {
			s.Logger.Infow("skipping replayed provider event",
				"tenant_id", tenantID,
				"external_event_id", *externalEventID,
			)
			return ierr.NewError("provider event already processed").
				WithReportableDetails(map[string]interface{}{
					"tenant_id":         tenantID,
					"external_event_id": *externalEventID,
				}).
				Mark(ierr.ErrAlreadyExists)
		} else if !ierr.IsNotFound(err) {
			return err
		}
	}

	t, err := s.TenantRepo.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	from := t.SubscriptionStatus
	if from == to {
		// Replayed provider events land here; the grace window must not be
		// reset by a duplicate past_due notification.
		s.Logger.Infow("status unchanged, skipping transition",
			"tenant_id", tenantID,
			"status", to,
		)
		return nil
	}
	if !from.CanTransitionTo(to) {
		s.Logger.Errorw("rejected invalid status transition",
			"tenant_id", tenantID,
			"from", from,
			"to", to,
			"reason", reason,
		)
		return ierr.NewError("invalid status transition").
			WithHintf("Cannot move a subscription from %s to %s", from, to).
			WithReportableDetails(map[string]interface{}{
				"from": from,
				"to":   to,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	now := time.Now().UTC()
	t.SubscriptionStatus = to

	switch to {
	case types.SubscriptionStatusPastDue:
		graceEnd := now.AddDate(0, 0, s.Config.Metering.GracePeriodDays)
		t.GraceStartedAt = &now
		t.GraceExpiresAt = &graceEnd
	case types.SubscriptionStatusActive, types.SubscriptionStatusCanceled:
		t.GraceStartedAt = nil
		t.GraceExpiresAt = nil
	}

	t.UpdatedAt = now
	t.UpdatedBy = types.GetUserID(ctx)
	if err := s.TenantRepo.Update(ctx, t); err != nil {
		return err
	}

	rec := &transition.Record{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_STATE_TRANSITION),
		TenantID:        tenantID,
		FromStatus:      from,
		ToStatus:        to,
		Reason:          reason,
		ActorID:         types.GetUserID(ctx),
		ExternalEventID: externalEventID,
		CreatedAt:       now,
	}
	if err := s.TransitionRepo.Create(ctx, rec); err != nil {
		return err
	}

	// The snapshot view carries the subscription status and grace window.
	s.SnapshotCache.Delete(cache.SnapshotKey(tenantID))
	s.Logger.Infow("subscription status changed",
		"tenant_id", tenantID,
		"from", from,
		"to", to,
		"reason", reason,
	)
	return nil
}

func (s *lifecycleService) HandlePaymentFailed(ctx context.Context, tenantID string, externalEventID *string) error {
	return s.TransitionStatus(ctx, tenantID, types.SubscriptionStatusPastDue, types.TransitionReasonPaymentFailed, externalEventID)
}

func (s *lifecycleService) HandlePaymentSucceeded(ctx context.Context, tenantID string, externalEventID *string) error {
	return s.TransitionStatus(ctx, tenantID, types.SubscriptionStatusActive, types.TransitionReasonPaymentSucceeded, externalEventID)
}

func (s *lifecycleService) EnforceGrace(ctx context.Context, t *tenant.Tenant, now time.Time) error {
	if t.SubscriptionStatus != types.SubscriptionStatusPastDue || t.GraceStartedAt == nil {
		return nil
	}

	// Reminders are evaluated before cancellation so the final milestone
	// still goes out on the sweep run that cancels the tenant.
	elapsedDays := int(now.Sub(*t.GraceStartedAt).Hours() / 24)
	sent, err := s.ReminderRepo.ListByTenant(ctx, t.ID)
	if err != nil {
		return err
	}
	sentDays := lo.Map(sent, func(r *reminder.GraceReminder, _ int) int { return r.MilestoneDay })

	for _, milestone := range s.Config.Metering.ReminderMilestones {
		if elapsedDays < milestone || lo.Contains(sentDays, milestone) {
			continue
		}

		// Record first: the unique (tenant, milestone) row is what makes
		// delivery exactly-once across concurrent sweep runs.
		rec := &reminder.GraceReminder{
			ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REQUEST),
			TenantID:     t.ID,
			MilestoneDay: milestone,
			SentAt:       now,
		}
		if err := s.ReminderRepo.Create(ctx, rec); err != nil {
			if ierr.IsAlreadyExists(err) {
				continue
			}
			return err
		}

		if err := s.notifier.SendGraceReminder(ctx, t.ID, milestone, t.GraceDaysRemaining(now)); err != nil {
			s.Logger.Errorw("failed to send grace reminder",
				"tenant_id", t.ID,
				"milestone_day", milestone,
				"error", err,
			)
		}
	}

	if t.GraceExpiresAt != nil && !now.Before(*t.GraceExpiresAt) {
		return s.TransitionStatus(ctx, t.ID, types.SubscriptionStatusCanceled, types.TransitionReasonGraceElapsed, nil)
	}

	return nil
}
