package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"paywatch/records"
	"paywatch/webhook"
)

type fakeResolver struct {
	paymentIntents map[string]string
	subscriptions  map[string]string
	err            error
}

func (f *fakeResolver) PaymentIntentID(_ context.Context, objectID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.paymentIntents[objectID], nil
}

func (f *fakeResolver) SubscriptionID(_ context.Context, objectID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.subscriptions[objectID], nil
}

type fixture struct {
	payments      *records.MemoryPaymentStore
	subscriptions *records.MemorySubscriptionStore
	refunds       *records.MemoryRefundStore
	engine        *Engine
}

func newFixture(t *testing.T, resolver IDResolver) *fixture {
	t.Helper()
	f := &fixture{
		payments:      records.NewMemoryPaymentStore(),
		subscriptions: records.NewMemorySubscriptionStore(),
		refunds:       records.NewMemoryRefundStore(),
	}
	f.engine = New(f.payments, f.subscriptions, f.refunds, resolver, AllModules(), nil)
	return f
}

func paymentEvent(id, eventType, pi string, created int64) *webhook.ParsedEvent {
	return &webhook.ParsedEvent{
		ID:              id,
		Type:            eventType,
		CreatedAt:       created,
		ObjectID:        pi,
		ObjectKind:      webhook.KindPaymentIntent,
		PaymentIntentID: pi,
	}
}

func TestProcess_PaymentSucceeds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.payments.Save(ctx, &records.PaymentRecord{
		UserID:            "user_a",
		BusinessPaymentID: "biz_pay_1",
		Status:            records.PaymentPending,
		PaymentIntentID:   "pi_1",
	}))

	out := f.engine.Process(ctx, paymentEvent("evt_1", "payment_intent.succeeded", "pi_1", 1700000000))
	require.True(t, out.Succeeded)

	rec, err := f.payments.GetByBusinessID(ctx, "biz_pay_1")
	require.NoError(t, err)
	require.Equal(t, records.PaymentSucceeded, rec.Status)
	require.Equal(t, int64(1700000000), rec.LastEventCreatedAt)
}

func TestProcess_TerminalSucceededRejectsRegression(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.payments.Save(ctx, &records.PaymentRecord{
		BusinessPaymentID:  "biz_pay_1",
		Status:             records.PaymentSucceeded,
		PaymentIntentID:    "pi_1",
		LastEventCreatedAt: 1700000000,
	}))

	// A late failure against a terminal payment is a silent no-op success.
	out := f.engine.Process(ctx, paymentEvent("evt_2", "payment_intent.payment_failed", "pi_1", 1700000100))
	require.True(t, out.Succeeded)

	rec, err := f.payments.GetByBusinessID(ctx, "biz_pay_1")
	require.NoError(t, err)
	require.Equal(t, records.PaymentSucceeded, rec.Status)
	require.Equal(t, int64(1700000000), rec.LastEventCreatedAt, "rejected transition leaves the timestamp untouched")
}

func TestProcess_StaleTimestampRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.payments.Save(ctx, &records.PaymentRecord{
		BusinessPaymentID:  "biz_pay_1",
		Status:             records.PaymentFailed,
		PaymentIntentID:    "pi_1",
		LastEventCreatedAt: 1700000200,
	}))

	out := f.engine.Process(ctx, paymentEvent("evt_3", "payment_intent.succeeded", "pi_1", 1700000100))
	require.True(t, out.Succeeded)

	rec, err := f.payments.GetByBusinessID(ctx, "biz_pay_1")
	require.NoError(t, err)
	require.Equal(t, records.PaymentFailed, rec.Status)
}

func TestProcess_EqualTimestampPrecedence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.payments.Save(ctx, &records.PaymentRecord{
		BusinessPaymentID: "biz_pay_e",
		Status:            records.PaymentPending,
		PaymentIntentID:   "pi_e",
	}))

	out := f.engine.Process(ctx, paymentEvent("evt_f", "payment_intent.payment_failed", "pi_e", 1700000300))
	require.True(t, out.Succeeded)
	out = f.engine.Process(ctx, paymentEvent("evt_s", "payment_intent.succeeded", "pi_e", 1700000300))
	require.True(t, out.Succeeded)

	rec, err := f.payments.GetByBusinessID(ctx, "biz_pay_e")
	require.NoError(t, err)
	require.Equal(t, records.PaymentSucceeded, rec.Status, "equal timestamps resolve by precedence")
	require.Equal(t, int64(1700000300), rec.LastEventCreatedAt)

	// The reverse order must not regress the stronger state.
	out = f.engine.Process(ctx, paymentEvent("evt_f2", "payment_intent.payment_failed", "pi_e", 1700000300))
	require.True(t, out.Succeeded)
	rec, err = f.payments.GetByBusinessID(ctx, "biz_pay_e")
	require.NoError(t, err)
	require.Equal(t, records.PaymentSucceeded, rec.Status)
}

func TestProcess_UntimestampedEventStillGuarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.payments.Save(ctx, &records.PaymentRecord{
		BusinessPaymentID:  "biz_pay_1",
		Status:             records.PaymentPending,
		PaymentIntentID:    "pi_1",
		LastEventCreatedAt: 1700000000,
	}))

	out := f.engine.Process(ctx, paymentEvent("evt_nt", "payment_intent.succeeded", "pi_1", 0))
	require.True(t, out.Succeeded)

	rec, err := f.payments.GetByBusinessID(ctx, "biz_pay_1")
	require.NoError(t, err)
	require.Equal(t, records.PaymentSucceeded, rec.Status, "missing created_at skips the timestamp gate")
	require.Equal(t, int64(1700000000), rec.LastEventCreatedAt, "missing created_at never moves the watermark")
}

func TestProcess_OutOfOrderCancelBeatsLateSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.subscriptions.Save(ctx, &records.SubscriptionRecord{
		BusinessSubscriptionID: "biz_sub_1",
		Status:                 records.SubscriptionActive,
		SubscriptionID:         "sub_1",
	}))

	out := f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:             "evt_a",
		Type:           "customer.subscription.deleted",
		CreatedAt:      1700000100,
		ObjectID:       "sub_1",
		ObjectKind:     webhook.KindSubscription,
		SubscriptionID: "sub_1",
	})
	require.True(t, out.Succeeded)

	out = f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:             "evt_b",
		Type:           "invoice.payment_succeeded",
		CreatedAt:      1700000000,
		ObjectID:       "in_1",
		ObjectKind:     webhook.KindInvoice,
		SubscriptionID: "sub_1",
	})
	require.True(t, out.Succeeded, "terminal-canceled rejection is a no-op success, not a failure")

	rec, err := f.subscriptions.GetByBusinessID(ctx, "biz_sub_1")
	require.NoError(t, err)
	require.Equal(t, records.SubscriptionCanceled, rec.Status)
	require.Equal(t, int64(1700000100), rec.LastEventCreatedAt)
}

func TestProcess_SubscriptionStatusMapping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.subscriptions.Save(ctx, &records.SubscriptionRecord{
		BusinessSubscriptionID: "biz_sub_1",
		Status:                 records.SubscriptionIncomplete,
		SubscriptionID:         "sub_1",
	}))

	cases := []struct {
		objectStatus string
		want         records.SubscriptionStatus
	}{
		{"trialing", records.SubscriptionActive},
		{"past_due", records.SubscriptionPastDue},
		{"active", records.SubscriptionActive},
	}
	created := int64(1700000000)
	for _, tc := range cases {
		created++
		out := f.engine.Process(ctx, &webhook.ParsedEvent{
			ID:             "evt_" + tc.objectStatus,
			Type:           "customer.subscription.updated",
			CreatedAt:      created,
			ObjectID:       "sub_1",
			ObjectKind:     webhook.KindSubscription,
			ObjectStatus:   tc.objectStatus,
			SubscriptionID: "sub_1",
		})
		require.True(t, out.Succeeded)
		rec, err := f.subscriptions.GetByBusinessID(ctx, "biz_sub_1")
		require.NoError(t, err)
		require.Equal(t, tc.want, rec.Status)
	}

	// Unmapped statuses are ignored without touching the record.
	out := f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:             "evt_paused",
		Type:           "customer.subscription.updated",
		CreatedAt:      created + 1,
		ObjectID:       "sub_1",
		ObjectStatus:   "paused",
		SubscriptionID: "sub_1",
	})
	require.True(t, out.Succeeded)
	rec, err := f.subscriptions.GetByBusinessID(ctx, "biz_sub_1")
	require.NoError(t, err)
	require.Equal(t, records.SubscriptionActive, rec.Status)
}

func TestProcess_ThinInvoiceUsesResolver(t *testing.T) {
	ctx := context.Background()
	resolver := &fakeResolver{subscriptions: map[string]string{"in_x": "sub_x"}}
	f := newFixture(t, resolver)
	require.NoError(t, f.subscriptions.Save(ctx, &records.SubscriptionRecord{
		BusinessSubscriptionID: "biz_sub_x",
		Status:                 records.SubscriptionIncomplete,
		SubscriptionID:         "sub_x",
	}))

	out := f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:         "evt_thin",
		Type:       "invoice.payment_succeeded",
		CreatedAt:  1700000000,
		ObjectID:   "in_x",
		ObjectKind: webhook.KindInvoice,
		InvoiceID:  "in_x",
	})
	require.True(t, out.Succeeded)

	rec, err := f.subscriptions.GetByBusinessID(ctx, "biz_sub_x")
	require.NoError(t, err)
	require.Equal(t, records.SubscriptionActive, rec.Status)
}

func TestProcess_ThinEventWithoutLinkageFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeResolver{})

	out := f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:         "evt_thin",
		Type:       "invoice.payment_succeeded",
		ObjectID:   "in_orphan",
		ObjectKind: webhook.KindInvoice,
	})
	require.False(t, out.Succeeded)
	require.Contains(t, out.ErrorMessage, "missing linked id")
}

func TestProcess_RecordNotFoundFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	out := f.engine.Process(ctx, paymentEvent("evt_x", "payment_intent.succeeded", "pi_missing", 1700000000))
	require.False(t, out.Succeeded)
	require.Contains(t, out.ErrorMessage, "record not found")
	require.Contains(t, out.ErrorMessage, "evt_x")
}

func TestProcess_MetadataFallbackLinksProviderID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.payments.Save(ctx, &records.PaymentRecord{
		UserID:            "user_a",
		BusinessPaymentID: "biz_pay_1",
		Status:            records.PaymentPending,
	}))

	ev := paymentEvent("evt_meta", "payment_intent.succeeded", "pi_new", 1700000000)
	ev.BusinessPaymentID = "biz_pay_1"
	out := f.engine.Process(ctx, ev)
	require.True(t, out.Succeeded)

	// The apply wrote the provider id onto the record, so the secondary
	// index now resolves it.
	rec, err := f.payments.GetByProviderID(ctx, "pi_new")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "biz_pay_1", rec.BusinessPaymentID)
	require.Equal(t, records.PaymentSucceeded, rec.Status)
}

func TestProcess_RefundLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.refunds.Save(ctx, &records.RefundRecord{
		UserID:            "user_a",
		BusinessRefundID:  "biz_ref_1",
		BusinessPaymentID: "biz_pay_1",
		Status:            records.RefundPending,
		RefundID:          "re_1",
	}))

	out := f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:           "evt_r1",
		Type:         "refund.updated",
		ObjectID:     "re_1",
		ObjectKind:   webhook.KindRefund,
		ObjectStatus: "succeeded",
		RefundID:     "re_1",
	})
	require.True(t, out.Succeeded)

	rec, err := f.refunds.GetByBusinessID(ctx, "biz_ref_1")
	require.NoError(t, err)
	require.Equal(t, records.RefundSucceeded, rec.Status)

	out = f.engine.Process(ctx, &webhook.ParsedEvent{
		ID:         "evt_r2",
		Type:       "refund.failed",
		ObjectID:   "re_1",
		ObjectKind: webhook.KindRefund,
		RefundID:   "re_1",
	})
	require.True(t, out.Succeeded, "refunds have no ladder; latest event wins")
	rec, err = f.refunds.GetByBusinessID(ctx, "biz_ref_1")
	require.NoError(t, err)
	require.Equal(t, records.RefundFailed, rec.Status)
}

func TestProcess_UnknownTypeIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	out := f.engine.Process(ctx, &webhook.ParsedEvent{ID: "evt_u", Type: "charge.refunded"})
	require.True(t, out.Succeeded)
}

func TestProcess_DisabledModuleIsSilentSuccess(t *testing.T) {
	ctx := context.Background()
	payments := records.NewMemoryPaymentStore()
	require.NoError(t, payments.Save(ctx, &records.PaymentRecord{
		BusinessPaymentID: "biz_pay_1",
		Status:            records.PaymentPending,
		PaymentIntentID:   "pi_1",
	}))
	eng := New(payments, records.NewMemorySubscriptionStore(), records.NewMemoryRefundStore(), nil, Modules{Billing: true, Refunds: true}, nil)

	out := eng.Process(ctx, paymentEvent("evt_1", "payment_intent.succeeded", "pi_1", 1700000000))
	require.True(t, out.Succeeded)

	rec, err := payments.GetByBusinessID(ctx, "biz_pay_1")
	require.NoError(t, err)
	require.Equal(t, records.PaymentPending, rec.Status, "disabled module never touches records")
}
