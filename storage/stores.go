package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paywatch/records"
)

// PaymentStore implements records.PaymentStore on gorm. Upserts are keyed by
// business payment id; the provider-id index is the unique column on
// payment_intent_id, so rewriting the provider id atomically retires the old
// mapping with the row update.
type PaymentStore struct {
	db *gorm.DB
}

// NewPaymentStore wires a PaymentStore.
func NewPaymentStore(db *gorm.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) Save(ctx context.Context, rec *records.PaymentRecord) error {
	if rec == nil {
		return records.ErrNilRecord
	}
	if rec.BusinessPaymentID == "" {
		return records.ErrEmptyID
	}
	row := Payment{
		BusinessPaymentID:  rec.BusinessPaymentID,
		UserID:             rec.UserID,
		Status:             string(rec.Status),
		PaymentIntentID:    strPtr(rec.PaymentIntentID),
		ChargeID:           strPtr(rec.ChargeID),
		PromotionOutcome:   strPtr(rec.PromotionOutcome),
		PromotionCouponID:  strPtr(rec.PromotionCouponID),
		PromotionCodeID:    strPtr(rec.PromotionCodeID),
		LastEventCreatedAt: rec.LastEventCreatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_payment_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: save payment %s: %w", rec.BusinessPaymentID, err)
	}
	return nil
}

func (s *PaymentStore) GetByBusinessID(ctx context.Context, id string) (*records.PaymentRecord, error) {
	if id == "" {
		return nil, records.ErrEmptyID
	}
	var row Payment
	err := s.db.WithContext(ctx).First(&row, "business_payment_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load payment %s: %w", id, err)
	}
	return paymentFromRow(row), nil
}

func (s *PaymentStore) GetByProviderID(ctx context.Context, id string) (*records.PaymentRecord, error) {
	if id == "" {
		return nil, records.ErrEmptyID
	}
	var row Payment
	err := s.db.WithContext(ctx).First(&row, "payment_intent_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load payment by provider id %s: %w", id, err)
	}
	return paymentFromRow(row), nil
}

func paymentFromRow(row Payment) *records.PaymentRecord {
	return &records.PaymentRecord{
		UserID:             row.UserID,
		BusinessPaymentID:  row.BusinessPaymentID,
		Status:             records.PaymentStatus(row.Status),
		PaymentIntentID:    strVal(row.PaymentIntentID),
		ChargeID:           strVal(row.ChargeID),
		PromotionOutcome:   strVal(row.PromotionOutcome),
		PromotionCouponID:  strVal(row.PromotionCouponID),
		PromotionCodeID:    strVal(row.PromotionCodeID),
		LastEventCreatedAt: row.LastEventCreatedAt,
	}
}

// SubscriptionStore implements records.SubscriptionStore on gorm.
type SubscriptionStore struct {
	db *gorm.DB
}

// NewSubscriptionStore wires a SubscriptionStore.
func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) Save(ctx context.Context, rec *records.SubscriptionRecord) error {
	if rec == nil {
		return records.ErrNilRecord
	}
	if rec.BusinessSubscriptionID == "" {
		return records.ErrEmptyID
	}
	row := Subscription{
		BusinessSubscriptionID: rec.BusinessSubscriptionID,
		UserID:                 rec.UserID,
		Status:                 string(rec.Status),
		CustomerID:             strPtr(rec.CustomerID),
		SubscriptionID:         strPtr(rec.SubscriptionID),
		PromotionOutcome:       strPtr(rec.PromotionOutcome),
		PromotionCouponID:      strPtr(rec.PromotionCouponID),
		PromotionCodeID:        strPtr(rec.PromotionCodeID),
		LastEventCreatedAt:     rec.LastEventCreatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_subscription_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: save subscription %s: %w", rec.BusinessSubscriptionID, err)
	}
	return nil
}

func (s *SubscriptionStore) GetByBusinessID(ctx context.Context, id string) (*records.SubscriptionRecord, error) {
	if id == "" {
		return nil, records.ErrEmptyID
	}
	var row Subscription
	err := s.db.WithContext(ctx).First(&row, "business_subscription_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load subscription %s: %w", id, err)
	}
	return subscriptionFromRow(row), nil
}

func (s *SubscriptionStore) GetByProviderID(ctx context.Context, id string) (*records.SubscriptionRecord, error) {
	if id == "" {
		return nil, records.ErrEmptyID
	}
	var row Subscription
	err := s.db.WithContext(ctx).First(&row, "subscription_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load subscription by provider id %s: %w", id, err)
	}
	return subscriptionFromRow(row), nil
}

func subscriptionFromRow(row Subscription) *records.SubscriptionRecord {
	return &records.SubscriptionRecord{
		UserID:                 row.UserID,
		BusinessSubscriptionID: row.BusinessSubscriptionID,
		Status:                 records.SubscriptionStatus(row.Status),
		CustomerID:             strVal(row.CustomerID),
		SubscriptionID:         strVal(row.SubscriptionID),
		PromotionOutcome:       strVal(row.PromotionOutcome),
		PromotionCouponID:      strVal(row.PromotionCouponID),
		PromotionCodeID:        strVal(row.PromotionCodeID),
		LastEventCreatedAt:     row.LastEventCreatedAt,
	}
}

// RefundStore implements records.RefundStore on gorm.
type RefundStore struct {
	db *gorm.DB
}

// NewRefundStore wires a RefundStore.
func NewRefundStore(db *gorm.DB) *RefundStore {
	return &RefundStore{db: db}
}

func (s *RefundStore) Save(ctx context.Context, rec *records.RefundRecord) error {
	if rec == nil {
		return records.ErrNilRecord
	}
	if rec.BusinessRefundID == "" {
		return records.ErrEmptyID
	}
	row := Refund{
		BusinessRefundID:  rec.BusinessRefundID,
		UserID:            rec.UserID,
		BusinessPaymentID: rec.BusinessPaymentID,
		Status:            string(rec.Status),
		PaymentIntentID:   strPtr(rec.PaymentIntentID),
		RefundID:          strPtr(rec.RefundID),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "business_refund_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("storage: save refund %s: %w", rec.BusinessRefundID, err)
	}
	return nil
}

func (s *RefundStore) GetByBusinessID(ctx context.Context, id string) (*records.RefundRecord, error) {
	if id == "" {
		return nil, records.ErrEmptyID
	}
	var row Refund
	err := s.db.WithContext(ctx).First(&row, "business_refund_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load refund %s: %w", id, err)
	}
	return refundFromRow(row), nil
}

func (s *RefundStore) GetByProviderID(ctx context.Context, id string) (*records.RefundRecord, error) {
	if id == "" {
		return nil, records.ErrEmptyID
	}
	var row Refund
	err := s.db.WithContext(ctx).First(&row, "refund_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load refund by provider id %s: %w", id, err)
	}
	return refundFromRow(row), nil
}

func refundFromRow(row Refund) *records.RefundRecord {
	return &records.RefundRecord{
		UserID:            row.UserID,
		BusinessRefundID:  row.BusinessRefundID,
		BusinessPaymentID: row.BusinessPaymentID,
		Status:            records.RefundStatus(row.Status),
		PaymentIntentID:   strVal(row.PaymentIntentID),
		RefundID:          strVal(row.RefundID),
	}
}
