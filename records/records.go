// Package records defines the merchant-side payment, subscription, and
// refund records mutated by the convergence engine, together with the store
// contracts their persistence backends must satisfy.
package records

import (
	"context"
	"errors"
)

// Store lookup errors shared by all backends.
var (
	ErrEmptyID   = errors.New("records: empty id")
	ErrNilRecord = errors.New("records: nil record")
)

// PaymentStatus is the lifecycle status of a PaymentRecord.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCanceled  PaymentStatus = "canceled"
)

// PaymentPrecedence orders payment statuses so that equal-timestamp events
// never regress a stronger state. Unknown statuses rank lowest.
func PaymentPrecedence(s PaymentStatus) int {
	switch s {
	case PaymentPending:
		return 0
	case PaymentFailed:
		return 1
	case PaymentSucceeded:
		return 2
	case PaymentCanceled:
		return 3
	default:
		return -1
	}
}

// SubscriptionStatus is the lifecycle status of a SubscriptionRecord.
type SubscriptionStatus string

const (
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
)

// SubscriptionPrecedence orders subscription statuses for the equal-timestamp
// tie break.
func SubscriptionPrecedence(s SubscriptionStatus) int {
	switch s {
	case SubscriptionIncomplete:
		return 0
	case SubscriptionPastDue:
		return 1
	case SubscriptionActive:
		return 2
	case SubscriptionCanceled:
		return 3
	default:
		return -1
	}
}

// RefundStatus is the lifecycle status of a RefundRecord.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

// PaymentRecord tracks a single merchant payment across checkout and webhook
// convergence. BusinessPaymentID is the stable merchant identifier; the
// provider-assigned PaymentIntentID may arrive later via webhook metadata.
// LastEventCreatedAt holds the unix creation time of the newest applied
// event, zero when no timestamped event has been applied yet.
type PaymentRecord struct {
	UserID             string
	BusinessPaymentID  string
	Status             PaymentStatus
	PaymentIntentID    string
	ChargeID           string
	PromotionOutcome   string
	PromotionCouponID  string
	PromotionCodeID    string
	LastEventCreatedAt int64
}

// SubscriptionRecord tracks a recurring billing agreement.
type SubscriptionRecord struct {
	UserID                 string
	BusinessSubscriptionID string
	Status                 SubscriptionStatus
	CustomerID             string
	SubscriptionID         string
	PromotionOutcome       string
	PromotionCouponID      string
	PromotionCodeID        string
	LastEventCreatedAt     int64
}

// RefundRecord tracks a refund issued against a payment. BusinessPaymentID
// references the parent PaymentRecord by value only.
type RefundRecord struct {
	UserID            string
	BusinessRefundID  string
	BusinessPaymentID string
	Status            RefundStatus
	PaymentIntentID   string
	RefundID          string
}

// PaymentStore persists payment records keyed by business payment id with a
// secondary payment-intent-id index. Save is an atomic upsert: when the
// provider id changes, the stale index mapping is removed and the new one
// installed in the same step.
type PaymentStore interface {
	Save(ctx context.Context, rec *PaymentRecord) error
	GetByBusinessID(ctx context.Context, businessPaymentID string) (*PaymentRecord, error)
	GetByProviderID(ctx context.Context, paymentIntentID string) (*PaymentRecord, error)
}

// SubscriptionStore persists subscription records keyed by business
// subscription id with a secondary subscription-id index.
type SubscriptionStore interface {
	Save(ctx context.Context, rec *SubscriptionRecord) error
	GetByBusinessID(ctx context.Context, businessSubscriptionID string) (*SubscriptionRecord, error)
	GetByProviderID(ctx context.Context, subscriptionID string) (*SubscriptionRecord, error)
}

// RefundStore persists refund records keyed by business refund id with a
// secondary refund-id index.
type RefundStore interface {
	Save(ctx context.Context, rec *RefundRecord) error
	GetByBusinessID(ctx context.Context, businessRefundID string) (*RefundRecord, error)
	GetByProviderID(ctx context.Context, refundID string) (*RefundRecord, error)
}
