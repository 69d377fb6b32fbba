package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPaymentStore_SaveAndLookup(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPaymentStore()

	rec := &PaymentRecord{
		UserID:            "user_a",
		BusinessPaymentID: "biz_pay_1",
		Status:            PaymentPending,
		PaymentIntentID:   "pi_1",
	}
	require.NoError(t, store.Save(ctx, rec))

	byBiz, err := store.GetByBusinessID(ctx, "biz_pay_1")
	require.NoError(t, err)
	require.NotNil(t, byBiz)
	require.Equal(t, PaymentPending, byBiz.Status)

	byProv, err := store.GetByProviderID(ctx, "pi_1")
	require.NoError(t, err)
	require.NotNil(t, byProv)
	require.Equal(t, "biz_pay_1", byProv.BusinessPaymentID)
}

func TestMemoryPaymentStore_ReindexOnProviderIDChange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPaymentStore()

	require.NoError(t, store.Save(ctx, &PaymentRecord{BusinessPaymentID: "biz_1", Status: PaymentPending, PaymentIntentID: "pi_old"}))
	require.NoError(t, store.Save(ctx, &PaymentRecord{BusinessPaymentID: "biz_1", Status: PaymentSucceeded, PaymentIntentID: "pi_new"}))

	stale, err := store.GetByProviderID(ctx, "pi_old")
	require.NoError(t, err)
	require.Nil(t, stale)

	fresh, err := store.GetByProviderID(ctx, "pi_new")
	require.NoError(t, err)
	require.NotNil(t, fresh)
	require.Equal(t, PaymentSucceeded, fresh.Status)
}

func TestMemoryPaymentStore_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPaymentStore()
	require.NoError(t, store.Save(ctx, &PaymentRecord{BusinessPaymentID: "biz_1", Status: PaymentPending}))

	snap, err := store.GetByBusinessID(ctx, "biz_1")
	require.NoError(t, err)
	snap.Status = PaymentFailed

	again, err := store.GetByBusinessID(ctx, "biz_1")
	require.NoError(t, err)
	require.Equal(t, PaymentPending, again.Status)
}

func TestMemoryPaymentStore_Rejections(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPaymentStore()

	require.ErrorIs(t, store.Save(ctx, nil), ErrNilRecord)
	require.ErrorIs(t, store.Save(ctx, &PaymentRecord{}), ErrEmptyID)
	_, err := store.GetByBusinessID(ctx, "")
	require.ErrorIs(t, err, ErrEmptyID)
	_, err = store.GetByProviderID(ctx, "")
	require.ErrorIs(t, err, ErrEmptyID)
}

func TestMemorySubscriptionStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemorySubscriptionStore()

	require.NoError(t, store.Save(ctx, &SubscriptionRecord{
		UserID:                 "user_b",
		BusinessSubscriptionID: "biz_sub_1",
		Status:                 SubscriptionIncomplete,
		SubscriptionID:         "sub_1",
	}))

	rec, err := store.GetByProviderID(ctx, "sub_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, SubscriptionIncomplete, rec.Status)

	missing, err := store.GetByProviderID(ctx, "sub_unknown")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryRefundStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefundStore()

	require.NoError(t, store.Save(ctx, &RefundRecord{
		UserID:            "user_c",
		BusinessRefundID:  "biz_ref_1",
		BusinessPaymentID: "biz_pay_1",
		Status:            RefundPending,
		RefundID:          "re_1",
	}))

	rec, err := store.GetByProviderID(ctx, "re_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "biz_pay_1", rec.BusinessPaymentID)
}

func TestPrecedenceLadders(t *testing.T) {
	require.Greater(t, PaymentPrecedence(PaymentSucceeded), PaymentPrecedence(PaymentFailed))
	require.Greater(t, PaymentPrecedence(PaymentCanceled), PaymentPrecedence(PaymentSucceeded))
	require.Greater(t, PaymentPrecedence(PaymentFailed), PaymentPrecedence(PaymentPending))
	require.Equal(t, -1, PaymentPrecedence(PaymentStatus("bogus")))

	require.Greater(t, SubscriptionPrecedence(SubscriptionActive), SubscriptionPrecedence(SubscriptionPastDue))
	require.Greater(t, SubscriptionPrecedence(SubscriptionCanceled), SubscriptionPrecedence(SubscriptionActive))
	require.Greater(t, SubscriptionPrecedence(SubscriptionPastDue), SubscriptionPrecedence(SubscriptionIncomplete))
}
