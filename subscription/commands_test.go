package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
)

func seedWithUpstream(t *testing.T, l *testLedger, rec Subscription) {
	t.Helper()
	l.seed(t, rec)
	l.billing.subscriptions[rec.ID] = &stripe.Subscription{
		ID:                 rec.ID,
		Status:             stripe.SubscriptionStatusActive,
		CurrentPeriodStart: rec.CurrentPeriodStart.Unix(),
		CurrentPeriodEnd:   rec.CurrentPeriodEnd.Unix(),
		CancelAtPeriodEnd:  rec.CancelAtPeriodEnd,
	}
}

func TestCancelAtPeriodEnd(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	periodEnd := testNow.Add(time.Hour * 24 * 5)
	seedWithUpstream(t, l, activeRecord(testSubID, testWebsite, periodEnd))

	result, err := l.Cancel(ctx, CancelOption{SubscriptionID: testSubID})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, result.Status)
	assert.True(t, result.CancelAtPeriodEnd)
	assert.True(t, result.CurrentPeriodEnd.Equal(periodEnd))
	require.NotNil(t, result.CancelAt)
	assert.True(t, result.CancelAt.Equal(periodEnd))
	require.NotNil(t, result.CanceledAt)
	assert.True(t, result.CanceledAt.Equal(testNow))
	assert.False(t, result.Refundable)

	sub := l.mustGet(t, testSubID)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))
	assert.True(t, sub.IsEntitled(testNow))
	assert.Nil(t, sub.LastEventAt)

	assert.Equal(t, []string{"update:" + testSubID}, l.billing.calls)
	assert.Equal(t, []string{NoticeCanceled}, l.notifier.types())
}

func TestCancelImmediately(t *testing.T) {
	ctx := context.Background()

	t.Run("within refund window", func(t *testing.T) {
		l := newTestLedger(t)
		rec := activeRecord(testSubID, testWebsite, testNow.Add(time.Hour*24*29))
		rec.CurrentPeriodStart = testNow.Add(-time.Hour * 24)
		seedWithUpstream(t, l, rec)

		result, err := l.Cancel(ctx, CancelOption{SubscriptionID: testSubID, UserID: testUser, Immediate: true})
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, result.Status)
		assert.False(t, result.CancelAtPeriodEnd)
		assert.False(t, result.CurrentPeriodEnd.After(testNow))
		assert.True(t, result.Refundable)

		sub := l.mustGet(t, testSubID)
		assert.Equal(t, StatusCanceled, sub.Status)
		require.NotNil(t, sub.EndedAt)
		assert.True(t, sub.EndedAt.Equal(testNow))
		assert.False(t, sub.IsEntitled(testNow))
		assert.Equal(t, []string{"cancel:" + testSubID}, l.billing.calls)
	})

	t.Run("outside refund window", func(t *testing.T) {
		l := newTestLedger(t)
		rec := activeRecord(testSubID, testWebsite, testNow.Add(time.Hour*24*5))
		seedWithUpstream(t, l, rec)

		result, err := l.Cancel(ctx, CancelOption{SubscriptionID: testSubID, Immediate: true})
		require.NoError(t, err)
		assert.False(t, result.Refundable)
	})
}

func TestCancelPreconditions(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	seedWithUpstream(t, l, activeRecord(testSubID, testWebsite, testNow.Add(time.Hour)))
	canceled := activeRecord("sub_2Done", testWebsite, testNow.Add(time.Hour))
	canceled.Status = StatusCanceled
	seedWithUpstream(t, l, canceled)

	_, err := l.Cancel(ctx, CancelOption{SubscriptionID: "not-a-sub"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = l.Cancel(ctx, CancelOption{SubscriptionID: "sub_Missing"})
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	_, err = l.Cancel(ctx, CancelOption{SubscriptionID: testSubID, UserID: otherUser})
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = l.Cancel(ctx, CancelOption{SubscriptionID: "sub_2Done"})
	assert.ErrorIs(t, err, ErrAlreadyCanceled)

	assert.Empty(t, l.billing.calls)
}

func TestCancelProviderErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing upstream", func(t *testing.T) {
		l := newTestLedger(t)
		l.seed(t, activeRecord(testSubID, testWebsite, testNow.Add(time.Hour)))

		_, err := l.Cancel(ctx, CancelOption{SubscriptionID: testSubID, Immediate: true})
		assert.ErrorIs(t, err, ErrNotFoundUpstream)

		sub := l.mustGet(t, testSubID)
		assert.Equal(t, StatusActive, sub.Status)
	})

	t.Run("invalid request", func(t *testing.T) {
		l := newTestLedger(t)
		seedWithUpstream(t, l, activeRecord(testSubID, testWebsite, testNow.Add(time.Hour)))
		l.billing.err = &stripe.Error{
			Type:           stripe.ErrorTypeInvalidRequest,
			HTTPStatusCode: 400,
			Msg:            "Subscription cannot be updated",
		}

		_, err := l.Cancel(ctx, CancelOption{SubscriptionID: testSubID})
		assert.ErrorIs(t, err, ErrInvalidUpstreamRequest)
	})

	t.Run("other failure", func(t *testing.T) {
		l := newTestLedger(t)
		seedWithUpstream(t, l, activeRecord(testSubID, testWebsite, testNow.Add(time.Hour)))
		l.billing.err = errors.New("connection reset")

		_, err := l.Cancel(ctx, CancelOption{SubscriptionID: testSubID})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotFoundUpstream))
		assert.False(t, errors.Is(err, ErrInvalidUpstreamRequest))

		sub := l.mustGet(t, testSubID)
		assert.False(t, sub.CancelAtPeriodEnd)
	})
}

func TestReactivate(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	periodEnd := testNow.Add(time.Hour * 24 * 5)
	seedWithUpstream(t, l, activeRecord(testSubID, testWebsite, periodEnd))

	_, err := l.Reactivate(ctx, testSubID, testUser)
	assert.ErrorIs(t, err, ErrNotScheduledForCancellation)
	assert.Empty(t, l.billing.calls)

	_, err = l.Cancel(ctx, CancelOption{SubscriptionID: testSubID})
	require.NoError(t, err)

	_, err = l.Reactivate(ctx, testSubID, otherUser)
	assert.ErrorIs(t, err, ErrNotOwner)

	sub, err := l.Reactivate(ctx, testSubID, testUser)
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Nil(t, sub.CancelAt)
	assert.Nil(t, sub.CanceledAt)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))

	stored := l.mustGet(t, testSubID)
	assert.False(t, stored.CancelAtPeriodEnd)
	assert.Nil(t, stored.CanceledAt)

	assert.Equal(t, []string{NoticeCanceled, NoticeReactivated}, l.notifier.types())

	_, err = l.Reactivate(ctx, "bogus", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSynchronize(t *testing.T) {
	ctx := context.Background()

	t.Run("applies provider state", func(t *testing.T) {
		l := newTestLedger(t)
		rec := activeRecord(testSubID, testWebsite, testNow.Add(-time.Hour))
		l.seed(t, rec)
		renewed := testNow.Add(time.Hour * 24 * 30)
		l.billing.subscriptions[testSubID] = upstreamSubscription(testSubID, stripe.SubscriptionStatusActive, testNow.Add(-time.Hour), renewed, nil)

		sub, err := l.Synchronize(ctx, testSubID)
		require.NoError(t, err)
		assert.True(t, sub.CurrentPeriodEnd.Equal(renewed))
		assert.True(t, sub.IsEntitled(testNow))
		assert.Nil(t, sub.LastEventAt)
	})

	t.Run("missing upstream marks canceled", func(t *testing.T) {
		l := newTestLedger(t)
		l.seed(t, activeRecord(testSubID, testWebsite, testNow.Add(-time.Hour)))

		sub, err := l.Synchronize(ctx, testSubID)
		require.NoError(t, err)
		assert.Equal(t, StatusCanceled, sub.Status)
		require.NotNil(t, sub.EndedAt)
		assert.Equal(t, []string{NoticeSynchronized}, l.notifier.types())
	})

	t.Run("unknown locally", func(t *testing.T) {
		l := newTestLedger(t)
		_, err := l.Synchronize(ctx, testSubID)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}
