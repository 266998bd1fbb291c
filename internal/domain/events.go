package domain

const (
	EventFundsAllocated      = "matching.funds_allocated"
	EventFundsReleased       = "matching.funds_released"
	EventDonationReallocated = "matching.donation_reallocated"
	EventOverMatchedDetected = "matching.over_matched_detected"
	EventDonationCreated     = "donation.created"
	EventDonationUpdated     = "donation.updated"
	EventDonationCancelled   = "donation.cancelled"
	EventDonationRefunded    = "donation.refunded"
	EventFundingSynced       = "funding.synced"
)

func IsEmittedEvent(eventType string) bool {
	switch eventType {
	case EventFundsAllocated, EventFundsReleased, EventDonationReallocated, EventOverMatchedDetected:
		return true
	default:
		return false
	}
}

// Release reasons recorded on matching.funds_released.
const (
	ReleaseReasonCancelled    = "cancelled"
	ReleaseReasonRefunded     = "refunded"
	ReleaseReasonExpired      = "expired"
	ReleaseReasonReallocation = "reallocation"
	ReleaseReasonManual       = "manual"
)

func IsReleaseReason(reason string) bool {
	switch reason {
	case ReleaseReasonCancelled, ReleaseReasonRefunded, ReleaseReasonExpired, ReleaseReasonReallocation, ReleaseReasonManual:
		return true
	default:
		return false
	}
}
