// Package engine applies parsed provider events to payment, subscription,
// and refund records under monotonic precedence and timestamp guards. It is
// stateless apart from its store references; every mutation flows through a
// record store's atomic upsert.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"paywatch/observability"
	"paywatch/records"
	"paywatch/webhook"
)

// Failure kinds raised during processing. Both are recorded as failed
// outcomes and retried on redelivery.
var (
	ErrMissingLinkedID = errors.New("engine: missing linked id")
	ErrRecordNotFound  = errors.New("engine: record not found")
)

// Modules toggles the three record families. A disabled module turns its
// events into silent no-op successes so dedupe records success and the
// provider stops retrying.
type Modules struct {
	Payments bool
	Billing  bool
	Refunds  bool
}

// AllModules enables every record family.
func AllModules() Modules {
	return Modules{Payments: true, Billing: true, Refunds: true}
}

// IDResolver is the thin-event fallback used when a parsed event carries no
// direct linked id. lookup.Resolver satisfies it.
type IDResolver interface {
	PaymentIntentID(ctx context.Context, objectID string) (string, error)
	SubscriptionID(ctx context.Context, objectID string) (string, error)
}

// Engine is the convergence core. Process is safe for concurrent use; the
// dedupe layer upstream guarantees each event id reaches it at most once
// per claim.
type Engine struct {
	payments      records.PaymentStore
	subscriptions records.SubscriptionStore
	refunds       records.RefundStore
	resolver      IDResolver
	modules       Modules
	log           *slog.Logger
	metrics       *observability.PipelineMetrics
}

// New wires an Engine over its stores. resolver may be nil when no provider
// client is available; thin events then fail with a missing-linked-id
// outcome instead of a lookup.
func New(payments records.PaymentStore, subscriptions records.SubscriptionStore, refunds records.RefundStore, resolver IDResolver, modules Modules, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		payments:      payments,
		subscriptions: subscriptions,
		refunds:       refunds,
		resolver:      resolver,
		modules:       modules,
		log:           log,
		metrics:       observability.Pipeline(),
	}
}

// Process dispatches one parsed event and returns its outcome. Errors never
// escape as Go errors across the pipeline boundary; they are folded into a
// failed Outcome so the dedupe layer can persist them.
func (e *Engine) Process(ctx context.Context, ev *webhook.ParsedEvent) webhook.Outcome {
	if ev == nil {
		return webhook.Failure(fmt.Errorf("engine: nil event"))
	}
	switch ev.Type {
	case "payment_intent.succeeded":
		return e.processPayment(ctx, ev, records.PaymentSucceeded)
	case "payment_intent.payment_failed":
		return e.processPayment(ctx, ev, records.PaymentFailed)
	case "payment_intent.canceled":
		return e.processPayment(ctx, ev, records.PaymentCanceled)
	case "invoice.payment_succeeded":
		return e.processSubscription(ctx, ev, records.SubscriptionActive)
	case "invoice.payment_failed":
		return e.processSubscription(ctx, ev, records.SubscriptionPastDue)
	case "customer.subscription.deleted":
		return e.processSubscription(ctx, ev, records.SubscriptionCanceled)
	case "customer.subscription.created", "customer.subscription.updated":
		status, ok := mapSubscriptionStatus(ev.ObjectStatus)
		if !ok {
			return e.ignore(ev, "unmapped subscription status")
		}
		return e.processSubscription(ctx, ev, status)
	case "refund.created", "refund.updated":
		status, ok := mapRefundStatus(ev.ObjectStatus)
		if !ok {
			return e.ignore(ev, "unmapped refund status")
		}
		return e.processRefund(ctx, ev, status)
	case "refund.failed":
		return e.processRefund(ctx, ev, records.RefundFailed)
	default:
		return e.ignore(ev, "unhandled event type")
	}
}

// SupportedEventTypes lists every event type the dispatch above applies.
// The reconciler filters its provider listing to this set.
func SupportedEventTypes() []string {
	return []string{
		"payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.canceled",
		"invoice.payment_succeeded",
		"invoice.payment_failed",
		"customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"refund.created",
		"refund.updated",
		"refund.failed",
	}
}

func mapSubscriptionStatus(objectStatus string) (records.SubscriptionStatus, bool) {
	switch strings.TrimSpace(objectStatus) {
	case "active", "trialing":
		return records.SubscriptionActive, true
	case "past_due":
		return records.SubscriptionPastDue, true
	case "incomplete":
		return records.SubscriptionIncomplete, true
	case "canceled":
		return records.SubscriptionCanceled, true
	default:
		return "", false
	}
}

func mapRefundStatus(objectStatus string) (records.RefundStatus, bool) {
	switch strings.TrimSpace(objectStatus) {
	case "succeeded":
		return records.RefundSucceeded, true
	case "failed":
		return records.RefundFailed, true
	case "pending":
		return records.RefundPending, true
	default:
		return "", false
	}
}

func (e *Engine) processPayment(ctx context.Context, ev *webhook.ParsedEvent, incoming records.PaymentStatus) webhook.Outcome {
	if !e.modules.Payments {
		return e.ignore(ev, "payments module disabled")
	}
	pid, err := e.resolvePaymentIntentID(ctx, ev)
	if err != nil {
		return webhook.Failure(err)
	}
	if pid == "" {
		return webhook.Failure(fmt.Errorf("%w: event %s has no payment intent", ErrMissingLinkedID, ev.ID))
	}
	rec, err := e.findPayment(ctx, pid, ev.BusinessPaymentID)
	if err != nil {
		return webhook.Failure(err)
	}
	if rec == nil {
		return webhook.Failure(fmt.Errorf("%w: no payment for intent %s (event %s)", ErrRecordNotFound, pid, ev.ID))
	}

	if !admitPayment(rec, incoming, ev.CreatedAt) {
		return e.ignore(ev, "payment transition rejected by guards")
	}

	rec.Status = incoming
	rec.PaymentIntentID = pid
	if ev.CreatedAt > 0 && ev.CreatedAt > rec.LastEventCreatedAt {
		rec.LastEventCreatedAt = ev.CreatedAt
	}
	if err := e.payments.Save(ctx, rec); err != nil {
		return webhook.Failure(fmt.Errorf("engine: save payment %s: %w", rec.BusinessPaymentID, err))
	}
	e.metrics.RecordTransition("payment", string(incoming))
	e.log.InfoContext(ctx, "payment transition applied",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("business_payment_id", rec.BusinessPaymentID),
		slog.String("payment_intent_id", pid),
		slog.String("status", string(incoming)),
	)
	return webhook.Success()
}

// admitPayment is the payment admission predicate: terminal guards first,
// then the timestamp/precedence ladder.
func admitPayment(rec *records.PaymentRecord, incoming records.PaymentStatus, createdAt int64) bool {
	if rec.Status == records.PaymentSucceeded && incoming != records.PaymentSucceeded {
		return false
	}
	if rec.Status == records.PaymentCanceled && incoming != records.PaymentCanceled {
		return false
	}
	if rec.LastEventCreatedAt > 0 && createdAt > 0 {
		if createdAt < rec.LastEventCreatedAt {
			return false
		}
		if createdAt == rec.LastEventCreatedAt {
			return records.PaymentPrecedence(incoming) >= records.PaymentPrecedence(rec.Status)
		}
	}
	return true
}

func (e *Engine) processSubscription(ctx context.Context, ev *webhook.ParsedEvent, incoming records.SubscriptionStatus) webhook.Outcome {
	if !e.modules.Billing {
		return e.ignore(ev, "billing module disabled")
	}
	sid, err := e.resolveSubscriptionID(ctx, ev)
	if err != nil {
		return webhook.Failure(err)
	}
	if sid == "" {
		return webhook.Failure(fmt.Errorf("%w: event %s has no subscription", ErrMissingLinkedID, ev.ID))
	}
	rec, err := e.findSubscription(ctx, sid, ev.BusinessSubscriptionID)
	if err != nil {
		return webhook.Failure(err)
	}
	if rec == nil {
		return webhook.Failure(fmt.Errorf("%w: no subscription for %s (event %s)", ErrRecordNotFound, sid, ev.ID))
	}

	if !admitSubscription(rec, incoming, ev.CreatedAt) {
		return e.ignore(ev, "subscription transition rejected by guards")
	}

	rec.Status = incoming
	rec.SubscriptionID = sid
	if ev.CustomerID != "" {
		rec.CustomerID = ev.CustomerID
	}
	if ev.CreatedAt > 0 && ev.CreatedAt > rec.LastEventCreatedAt {
		rec.LastEventCreatedAt = ev.CreatedAt
	}
	if err := e.subscriptions.Save(ctx, rec); err != nil {
		return webhook.Failure(fmt.Errorf("engine: save subscription %s: %w", rec.BusinessSubscriptionID, err))
	}
	e.metrics.RecordTransition("subscription", string(incoming))
	e.log.InfoContext(ctx, "subscription transition applied",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("business_subscription_id", rec.BusinessSubscriptionID),
		slog.String("subscription_id", sid),
		slog.String("status", string(incoming)),
	)
	return webhook.Success()
}

func admitSubscription(rec *records.SubscriptionRecord, incoming records.SubscriptionStatus, createdAt int64) bool {
	if rec.Status == records.SubscriptionCanceled && incoming != records.SubscriptionCanceled {
		return false
	}
	if rec.LastEventCreatedAt > 0 && createdAt > 0 {
		if createdAt < rec.LastEventCreatedAt {
			return false
		}
		if createdAt == rec.LastEventCreatedAt {
			return records.SubscriptionPrecedence(incoming) >= records.SubscriptionPrecedence(rec.Status)
		}
	}
	return true
}

func (e *Engine) processRefund(ctx context.Context, ev *webhook.ParsedEvent, incoming records.RefundStatus) webhook.Outcome {
	if !e.modules.Refunds {
		return e.ignore(ev, "refunds module disabled")
	}
	rid := ev.RefundID
	if rid == "" {
		rid = ev.ObjectID
	}
	if rid == "" {
		return webhook.Failure(fmt.Errorf("%w: event %s has no refund id", ErrMissingLinkedID, ev.ID))
	}
	rec, err := e.refunds.GetByProviderID(ctx, rid)
	if err != nil {
		return webhook.Failure(fmt.Errorf("engine: load refund %s: %w", rid, err))
	}
	if rec == nil {
		return webhook.Failure(fmt.Errorf("%w: no refund for %s (event %s)", ErrRecordNotFound, rid, ev.ID))
	}

	// Refund lifecycle is not re-entrant: no ladder, the latest event wins.
	rec.Status = incoming
	rec.RefundID = rid
	if ev.PaymentIntentID != "" {
		rec.PaymentIntentID = ev.PaymentIntentID
	}
	if err := e.refunds.Save(ctx, rec); err != nil {
		return webhook.Failure(fmt.Errorf("engine: save refund %s: %w", rec.BusinessRefundID, err))
	}
	e.metrics.RecordTransition("refund", string(incoming))
	e.log.InfoContext(ctx, "refund transition applied",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("business_refund_id", rec.BusinessRefundID),
		slog.String("refund_id", rid),
		slog.String("status", string(incoming)),
	)
	return webhook.Success()
}

// resolvePaymentIntentID prefers the parsed linkage and falls back to the
// provider lookup for thin events.
func (e *Engine) resolvePaymentIntentID(ctx context.Context, ev *webhook.ParsedEvent) (string, error) {
	if ev.PaymentIntentID != "" {
		return ev.PaymentIntentID, nil
	}
	if e.resolver == nil || ev.ObjectID == "" {
		return "", nil
	}
	pid, err := e.resolver.PaymentIntentID(ctx, ev.ObjectID)
	if err != nil {
		return "", fmt.Errorf("engine: resolve payment intent for %s: %w", ev.ObjectID, err)
	}
	return pid, nil
}

func (e *Engine) resolveSubscriptionID(ctx context.Context, ev *webhook.ParsedEvent) (string, error) {
	if ev.SubscriptionID != "" {
		return ev.SubscriptionID, nil
	}
	if e.resolver == nil || ev.ObjectID == "" {
		return "", nil
	}
	sid, err := e.resolver.SubscriptionID(ctx, ev.ObjectID)
	if err != nil {
		return "", fmt.Errorf("engine: resolve subscription for %s: %w", ev.ObjectID, err)
	}
	return sid, nil
}

// findPayment looks up by provider id first and falls back to the business
// id carried in event metadata, covering records staged before the provider
// assigned an intent id.
func (e *Engine) findPayment(ctx context.Context, pid, businessID string) (*records.PaymentRecord, error) {
	rec, err := e.payments.GetByProviderID(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("engine: load payment by intent %s: %w", pid, err)
	}
	if rec != nil || businessID == "" {
		return rec, nil
	}
	rec, err = e.payments.GetByBusinessID(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("engine: load payment %s: %w", businessID, err)
	}
	return rec, nil
}

func (e *Engine) findSubscription(ctx context.Context, sid, businessID string) (*records.SubscriptionRecord, error) {
	rec, err := e.subscriptions.GetByProviderID(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("engine: load subscription by id %s: %w", sid, err)
	}
	if rec != nil || businessID == "" {
		return rec, nil
	}
	rec, err = e.subscriptions.GetByBusinessID(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("engine: load subscription %s: %w", businessID, err)
	}
	return rec, nil
}

// ignore records a silent no-op success: the event is acknowledged, the
// dedupe entry closes as Succeeded, and the provider stops retrying.
func (e *Engine) ignore(ev *webhook.ParsedEvent, reason string) webhook.Outcome {
	e.metrics.RecordEvent(ev.Type, "ignored")
	e.log.Debug("event ignored",
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("reason", reason),
	)
	return webhook.Success()
}
