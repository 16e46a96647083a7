package models

// Enum types for the collection ledger. Values are stored as strings so the
// tables stay readable in ad hoc SQL during incident review.

type CollectionStatus string

const (
	CollectionStatusPending    CollectionStatus = "PENDING"
	CollectionStatusProcessing CollectionStatus = "PROCESSING"
	CollectionStatusCollected  CollectionStatus = "COLLECTED"
	CollectionStatusFailed     CollectionStatus = "FAILED"
)

func (s CollectionStatus) Terminal() bool {
	return s == CollectionStatusCollected
}

type CollectionType string

const (
	CollectionTypeCommission CollectionType = "COMMISSION"
	CollectionTypeBoothRent  CollectionType = "BOOTH_RENT"
)

func (t CollectionType) Valid() bool {
	return t == CollectionTypeCommission || t == CollectionTypeBoothRent
}

type CollectionMethod string

const (
	CollectionMethodACH  CollectionMethod = "ACH"
	CollectionMethodCard CollectionMethod = "CARD"
)

func (m CollectionMethod) Valid() bool {
	return m == CollectionMethodACH || m == CollectionMethodCard
}

type CollectionFrequency string

const (
	CollectionFrequencyDaily   CollectionFrequency = "DAILY"
	CollectionFrequencyWeekly  CollectionFrequency = "WEEKLY"
	CollectionFrequencyMonthly CollectionFrequency = "MONTHLY"
)

func (f CollectionFrequency) Valid() bool {
	switch f {
	case CollectionFrequencyDaily, CollectionFrequencyWeekly, CollectionFrequencyMonthly:
		return true
	}
	return false
}

// PeriodDays is the calendar-day length of one billing period.
// Monthly uses 30 regardless of the actual month length; this matches the
// billing behavior the product signed off on (see DESIGN.md open questions).
func (f CollectionFrequency) PeriodDays() int {
	switch f {
	case CollectionFrequencyDaily:
		return 1
	case CollectionFrequencyWeekly:
		return 7
	case CollectionFrequencyMonthly:
		return 30
	}
	return 0
}

// PaymentMode describes how a barber processes customer payments.
// Decentralized/hybrid barbers settle through their own processor, so the
// platform collects commission after the fact.
type PaymentMode string

const (
	PaymentModePlatform      PaymentMode = "PLATFORM"
	PaymentModeDecentralized PaymentMode = "DECENTRALIZED"
	PaymentModeHybrid        PaymentMode = "HYBRID"
)

func (m PaymentMode) CollectsCommission() bool {
	return m == PaymentModeDecentralized || m == PaymentModeHybrid
}

type ExternalTransactionStatus string

const (
	ExternalTransactionStatusSucceeded ExternalTransactionStatus = "SUCCEEDED"
	ExternalTransactionStatusCompleted ExternalTransactionStatus = "COMPLETED"
	ExternalTransactionStatusFailed    ExternalTransactionStatus = "FAILED"
	ExternalTransactionStatusRefunded  ExternalTransactionStatus = "REFUNDED"
)

// CommissionEligible reports whether a transaction can owe commission.
func (s ExternalTransactionStatus) CommissionEligible() bool {
	return s == ExternalTransactionStatusSucceeded || s == ExternalTransactionStatusCompleted
}

// Outbox publish lifecycle for collection events.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type CollectionEventType string

const (
	CollectionEventCollected      CollectionEventType = "collection.collected"
	CollectionEventFailed         CollectionEventType = "collection.failed"
	CollectionEventRetryScheduled CollectionEventType = "collection.retry_scheduled"
)
