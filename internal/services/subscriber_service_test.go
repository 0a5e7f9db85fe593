package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
)

func newTestSubscriberService(t *testing.T) (SubscriberService, *storeHarness) {
	t.Helper()
	h := newStoreHarness(t)
	svc, err := NewSubscriberService(SubscriberServiceDeps{
		Subscribers: h.repos.Subscribers(),
		Orders:      h.repos.Orders(),
		Settings:    h.settings,
		Coupons:     h.coupons,
		Events:      h.events,
		Clock:       func() time.Time { return h.now },
		IDGenerator: sequentialIDs(),
	})
	require.NoError(t, err)
	return svc, h
}

func enableWelcomeCoupon(t *testing.T, h *storeHarness, newUsersOnly bool) {
	t.Helper()
	_, err := h.settings.UpdateSubscribe(context.Background(), domain.SubscribeConfig{
		Enabled:       true,
		DiscountType:  domain.DiscountTypePercentage,
		DiscountValue: 10,
		NewUsersOnly:  newUsersOnly,
	})
	require.NoError(t, err)
}

func TestSubscribeWithoutPromotion(t *testing.T) {
	svc, h := newTestSubscriberService(t)

	result, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: "  Sana@Example.PK "})
	require.NoError(t, err)
	require.True(t, result.Created)
	require.Equal(t, "sana@example.pk", result.Subscriber.Email)
	require.Nil(t, result.Coupon)
	require.Nil(t, result.Subscriber.CouponCode)
	require.Equal(t, []string{subscriberEventCreated}, h.events.types())
}

func TestSubscribeIssuesSingleUseWelcomeCoupon(t *testing.T) {
	svc, h := newTestSubscriberService(t)
	ctx := context.Background()
	enableWelcomeCoupon(t, h, false)

	result, err := svc.Subscribe(ctx, SubscribeCommand{Email: "sana@example.pk"})
	require.NoError(t, err)
	require.NotNil(t, result.Coupon)
	require.Equal(t, "WELCOME-ID0002", result.Coupon.Code)
	require.Equal(t, 1, *result.Coupon.UsageLimit)
	require.Equal(t, 1, result.Coupon.MaxUsesPerUser)
	require.EqualValues(t, 10, result.Coupon.DiscountValue)
	require.Equal(t, result.Coupon.Code, derefString(result.Subscriber.CouponCode))

	quote, err := h.pricing.Quote(ctx, QuoteCommand{Items: []LineItem{{ProductID: "prd_a", Price: 2000, Quantity: 1}}, CouponCode: result.Coupon.Code})
	require.NoError(t, err)
	require.EqualValues(t, 200, quote.Totals.Discount)
}

func TestSubscribeIsIdempotentPerEmail(t *testing.T) {
	svc, h := newTestSubscriberService(t)
	ctx := context.Background()
	enableWelcomeCoupon(t, h, false)

	first, err := svc.Subscribe(ctx, SubscribeCommand{Email: "sana@example.pk"})
	require.NoError(t, err)
	again, err := svc.Subscribe(ctx, SubscribeCommand{Email: "SANA@example.pk"})
	require.NoError(t, err)

	require.False(t, again.Created)
	require.Nil(t, again.Coupon)
	require.Equal(t, first.Subscriber.ID, again.Subscriber.ID)
	require.Len(t, h.events.types(), 1)
}

func TestSubscribeNewUsersOnlySkipsPastCustomers(t *testing.T) {
	svc, h := newTestSubscriberService(t)
	ctx := context.Background()
	enableWelcomeCoupon(t, h, true)
	h.addProduct(t, "prd_oud", 1500, 5)
	placeTestOrder(t, h, "prd_oud", 1)

	returning, err := svc.Subscribe(ctx, SubscribeCommand{Email: "ayesha@example.com"})
	require.NoError(t, err)
	require.True(t, returning.Created)
	require.Nil(t, returning.Coupon)

	fresh, err := svc.Subscribe(ctx, SubscribeCommand{Email: "new@example.com"})
	require.NoError(t, err)
	require.NotNil(t, fresh.Coupon)
}

func TestSubscribeRetriesWelcomeCodeCollisions(t *testing.T) {
	svc, h := newTestSubscriberService(t)
	enableWelcomeCoupon(t, h, false)
	h.addCoupon(t, domain.Coupon{Code: "WELCOME-ID0002", DiscountType: domain.DiscountTypeFixed, DiscountValue: 100, IsActive: true})

	result, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: "sana@example.pk"})
	require.NoError(t, err)
	require.Equal(t, "WELCOME-ID0003", result.Coupon.Code)
}

func TestSubscribeRejectsInvalidEmail(t *testing.T) {
	svc, _ := newTestSubscriberService(t)
	for _, email := range []string{"", "not-an-email", "a@"} {
		_, err := svc.Subscribe(context.Background(), SubscribeCommand{Email: email})
		require.ErrorIs(t, err, ErrSubscriberInvalidInput, email)
	}
}
