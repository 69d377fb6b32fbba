// Package refunds stages merchant-initiated refunds against settled
// payments. The webhook pipeline, not this package, converges the refund
// record to its terminal status.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	stripe "github.com/stripe/stripe-go/v81"

	"paywatch/idempotency"
	"paywatch/records"
)

// Guardrail violations. All map to client errors at the HTTP layer.
var (
	ErrInvalidRequest     = errors.New("refunds: invalid request")
	ErrPaymentNotFound    = errors.New("refunds: payment not found")
	ErrPaymentNotOwned    = errors.New("refunds: payment not owned by user")
	ErrPaymentNotSettled  = errors.New("refunds: payment not in succeeded state")
	ErrPaymentNotLinked   = errors.New("refunds: payment has no payment intent")
	ErrProviderRefundFail = errors.New("refunds: provider refund failed")
)

// RefundAPI is the provider write this package needs.
type RefundAPI interface {
	CreateRefund(ctx context.Context, paymentIntentID, idempotencyKey string) (*stripe.Refund, error)
}

// Request describes one refund intent. IdempotencyKey is optional; when
// empty a deterministic key is derived from the business refund id.
type Request struct {
	UserID            string `json:"user_id"`
	BusinessRefundID  string `json:"business_refund_id"`
	BusinessPaymentID string `json:"business_payment_id"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
}

// Response reports the staged refund.
type Response struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// Creator validates refund requests against the payment ledger and stages
// them with the provider.
type Creator struct {
	payments records.PaymentStore
	refunds  records.RefundStore
	api      RefundAPI
	log      *slog.Logger
}

// NewCreator wires a Creator.
func NewCreator(payments records.PaymentStore, refunds records.RefundStore, api RefundAPI, log *slog.Logger) *Creator {
	if log == nil {
		log = slog.Default()
	}
	return &Creator{payments: payments, refunds: refunds, api: api, log: log}
}

// Create runs the guardrails, persists a Pending refund record, and asks
// the provider for the refund. The record is saved before the provider
// call so a crash mid-flight leaves a correlatable Pending row the webhook
// converges later.
func (c *Creator) Create(ctx context.Context, req Request) (*Response, error) {
	userID := strings.TrimSpace(req.UserID)
	businessRefundID := strings.TrimSpace(req.BusinessRefundID)
	businessPaymentID := strings.TrimSpace(req.BusinessPaymentID)
	if userID == "" || businessRefundID == "" || businessPaymentID == "" {
		return nil, fmt.Errorf("%w: user_id, business_refund_id, and business_payment_id are required", ErrInvalidRequest)
	}

	payment, err := c.payments.GetByBusinessID(ctx, businessPaymentID)
	if err != nil {
		return nil, fmt.Errorf("refunds: load payment %s: %w", businessPaymentID, err)
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, businessPaymentID)
	}
	if payment.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotOwned, businessPaymentID)
	}
	if payment.Status != records.PaymentSucceeded {
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotSettled, payment.Status)
	}
	if payment.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotLinked, businessPaymentID)
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key, err = idempotency.Key(idempotency.ScopeRefund, businessRefundID)
		if err != nil {
			return nil, fmt.Errorf("refunds: derive idempotency key: %w", err)
		}
	}

	rec := &records.RefundRecord{
		UserID:            userID,
		BusinessRefundID:  businessRefundID,
		BusinessPaymentID: businessPaymentID,
		Status:            records.RefundPending,
		PaymentIntentID:   payment.PaymentIntentID,
	}
	if err := c.refunds.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("refunds: stage refund %s: %w", businessRefundID, err)
	}

	ref, err := c.api.CreateRefund(ctx, payment.PaymentIntentID, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderRefundFail, err)
	}

	rec.RefundID = ref.ID
	if err := c.refunds.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("refunds: link refund %s: %w", businessRefundID, err)
	}

	c.log.InfoContext(ctx, "refund staged",
		slog.String("business_refund_id", businessRefundID),
		slog.String("business_payment_id", businessPaymentID),
		slog.String("payment_intent_id", payment.PaymentIntentID),
		slog.String("refund_id", ref.ID),
	)
	return &Response{RefundID: ref.ID, Status: string(rec.Status)}, nil
}
