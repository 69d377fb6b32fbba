// Package storage provides the gorm-backed implementations of the dedupe
// and record stores. Production deployments run it on postgres; tests run
// the same code on in-memory sqlite.
package storage

import (
	"time"

	"gorm.io/gorm"
)

// WebhookEvent is the persisted dedupe ledger row. State is derived from
// the nullable succeeded column: NULL means a Processing claim is open,
// true/false mean a recorded outcome. The primary key on event_id is the
// persistence primitive that makes TryBegin an atomic test-and-set.
type WebhookEvent struct {
	EventID      string `gorm:"primaryKey;size:255"`
	StartedAt    time.Time
	Succeeded    *bool
	ErrorMessage *string `gorm:"size:2048"`
	RecordedAt   *time.Time
}

// Payment is the persisted form of records.PaymentRecord. The unique index
// on payment_intent_id doubles as the provider-id lookup index and enforces
// the one-business-id-per-provider-id invariant; nullable so unlinked
// records do not collide.
type Payment struct {
	BusinessPaymentID  string  `gorm:"primaryKey;size:255"`
	UserID             string  `gorm:"size:255;index"`
	Status             string  `gorm:"size:32"`
	PaymentIntentID    *string `gorm:"size:255;uniqueIndex"`
	ChargeID           *string `gorm:"size:255"`
	PromotionOutcome   *string `gorm:"size:64"`
	PromotionCouponID  *string `gorm:"size:255"`
	PromotionCodeID    *string `gorm:"size:255"`
	LastEventCreatedAt int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Subscription is the persisted form of records.SubscriptionRecord.
type Subscription struct {
	BusinessSubscriptionID string  `gorm:"primaryKey;size:255"`
	UserID                 string  `gorm:"size:255;index"`
	Status                 string  `gorm:"size:32"`
	CustomerID             *string `gorm:"size:255"`
	SubscriptionID         *string `gorm:"size:255;uniqueIndex"`
	PromotionOutcome       *string `gorm:"size:64"`
	PromotionCouponID      *string `gorm:"size:255"`
	PromotionCodeID        *string `gorm:"size:255"`
	LastEventCreatedAt     int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Refund is the persisted form of records.RefundRecord.
type Refund struct {
	BusinessRefundID  string  `gorm:"primaryKey;size:255"`
	UserID            string  `gorm:"size:255;index"`
	BusinessPaymentID string  `gorm:"size:255;index"`
	Status            string  `gorm:"size:32"`
	PaymentIntentID   *string `gorm:"size:255"`
	RefundID          *string `gorm:"size:255;uniqueIndex"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AutoMigrate creates or updates the toolkit's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&WebhookEvent{},
		&Payment{},
		&Subscription{},
		&Refund{},
	)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
