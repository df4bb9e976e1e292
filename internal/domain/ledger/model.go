package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	ierr "github.com/storyforge/metering/internal/errors"
	"github.com/storyforge/metering/internal/types"
)

// Entry is one immutable row in the usage ledger. Amount is signed: negative
// for debits, positive for grants. Entries are append-only and never deleted.
type Entry struct {
	ID            string                `json:"id"`
	TenantID      string                `json:"tenant_id"`
	SnapshotID    string                `json:"snapshot_id"`
	CorrelationID string                `json:"correlation_id"`
	Amount        decimal.Decimal       `json:"amount"`
	Bucket        types.CreditBucket    `json:"bucket"`
	EntryType     types.LedgerEntryType `json:"entry_type"`
	ActorID       string                `json:"actor_id"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Validate validates the ledger entry
func (e *Entry) Validate() error {
	if e.TenantID == "" {
		return ierr.NewError("tenant_id is required").Mark(ierr.ErrValidation)
	}
	if e.CorrelationID == "" {
		return ierr.NewError("correlation_id is required").Mark(ierr.ErrValidation)
	}
	if e.Amount.IsZero() {
		return ierr.NewError("amount cannot be zero").Mark(ierr.ErrValidation)
	}
	switch e.EntryType {
	case types.LedgerEntryTypeDebit:
		if e.Amount.IsPositive() {
			return ierr.NewError("debit entries must carry a negative amount").Mark(ierr.ErrValidation)
		}
	case types.LedgerEntryTypeCredit, types.LedgerEntryTypeRelease:
		if e.Amount.IsNegative() {
			return ierr.NewError("credit entries must carry a positive amount").Mark(ierr.ErrValidation)
		}
	case types.LedgerEntryTypeForfeit:
		if e.Amount.IsPositive() {
			return ierr.NewError("forfeit entries must carry a negative amount").Mark(ierr.ErrValidation)
		}
	case types.LedgerEntryTypeBypass:
		if e.Amount.IsPositive() {
			return ierr.NewError("bypass entries must carry a negative amount").Mark(ierr.ErrValidation)
		}
	default:
		return ierr.NewError("invalid entry_type").
			WithReportableDetails(map[string]interface{}{"entry_type": e.EntryType}).
			Mark(ierr.ErrValidation)
	}
	return nil
}
