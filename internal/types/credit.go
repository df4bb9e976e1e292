package types

// CreditBucket identifies which pool a ledger entry drew from or granted to.
// Debits consume buckets in the fixed priority order returned by
// CreditBucketPriority.
type CreditBucket string

const (
	CreditBucketBase     CreditBucket = "base"
	CreditBucketRollover CreditBucket = "rollover"
	CreditBucketBooster  CreditBucket = "booster"
	CreditBucketPack     CreditBucket = "pack"
)

// CreditBucketPriority is the consumption order. Regenerating credit (base,
// rollover) is drawn first; purchased add-on credit last.
func CreditBucketPriority() []CreditBucket {
	return []CreditBucket{
		CreditBucketBase,
		CreditBucketRollover,
		CreditBucketBooster,
		CreditBucketPack,
	}
}

// CreditType distinguishes add-on credit products.
type CreditType string

const (
	// CreditTypeBooster is a recurring add-on refreshed each period.
	CreditTypeBooster CreditType = "booster"
	// CreditTypePack is a one-time purchase with an expiry.
	CreditTypePack CreditType = "pack"
)

// Validate checks the credit type is known.
func (t CreditType) Validate() bool {
	return t == CreditTypeBooster || t == CreditTypePack
}

// Bucket returns the ledger bucket this credit type funds.
func (t CreditType) Bucket() CreditBucket {
	if t == CreditTypeBooster {
		return CreditBucketBooster
	}
	return CreditBucketPack
}

// CreditStatus is the add-on credit lifecycle status.
type CreditStatus string

const (
	CreditStatusActive   CreditStatus = "active"
	CreditStatusExpired  CreditStatus = "expired"
	CreditStatusCanceled CreditStatus = "canceled"
)

// LedgerEntryType classifies ledger rows.
type LedgerEntryType string

const (
	// LedgerEntryTypeDebit records consumption against a bucket.
	LedgerEntryTypeDebit LedgerEntryType = "debit"
	// LedgerEntryTypeCredit records a grant (period allowance, rollover,
	// add-on purchase).
	LedgerEntryTypeCredit LedgerEntryType = "credit"
	// LedgerEntryTypeForfeit records unused pack balance lost at expiry.
	LedgerEntryTypeForfeit LedgerEntryType = "forfeit"
	// LedgerEntryTypeRelease records a reservation returned unspent.
	LedgerEntryTypeRelease LedgerEntryType = "release"
	// LedgerEntryTypeBypass records a super-admin spend that skipped the
	// entitlement check. Nothing is deducted from the quota, but the usage
	// still shows up in the audit trail.
	LedgerEntryTypeBypass LedgerEntryType = "bypass"
)

// ReservationState is the two-phase reservation lifecycle.
type ReservationState string

const (
	ReservationStatePending   ReservationState = "pending"
	ReservationStateCommitted ReservationState = "committed"
	ReservationStateReleased  ReservationState = "released"
	ReservationStateExpired   ReservationState = "expired"
)
