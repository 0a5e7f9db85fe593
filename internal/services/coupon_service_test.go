package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
)

func TestNormalizeCouponCode(t *testing.T) {
	cases := map[string]string{
		"  save10 ": "SAVE10",
		"ＳＡＶＥ１０":    "SAVE10",
		"eid-2026":  "EID-2026",
		"":          "",
	}
	for input, want := range cases {
		require.Equal(t, want, NormalizeCouponCode(input), "input %q", input)
	}
}

func TestCouponDiscountIsClamped(t *testing.T) {
	percent := domain.Coupon{DiscountType: domain.DiscountTypePercentage, DiscountValue: 15}
	fixed := domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: 1000}

	require.EqualValues(t, 150, CouponDiscount(percent, 1000))
	require.EqualValues(t, 2, CouponDiscount(percent, 10), "1.5 rounds half away from zero")
	require.EqualValues(t, 800, CouponDiscount(fixed, 800))
	require.EqualValues(t, 1000, CouponDiscount(fixed, 5000))
	require.Zero(t, CouponDiscount(fixed, 0))
	require.Zero(t, CouponDiscount(domain.Coupon{DiscountType: domain.DiscountTypeFixed, DiscountValue: -5}, 100))
}

func TestCouponValidateReasons(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	past := h.now.Add(-48 * time.Hour)
	future := h.now.Add(48 * time.Hour)
	yesterday := h.now.Add(-24 * time.Hour)

	h.addCoupon(t, domain.Coupon{Code: "ACTIVE", DiscountType: domain.DiscountTypeFixed, DiscountValue: 300, IsActive: true})
	h.addCoupon(t, domain.Coupon{Code: "OFF", DiscountType: domain.DiscountTypeFixed, DiscountValue: 300, IsActive: false})
	h.addCoupon(t, domain.Coupon{Code: "OLD", DiscountType: domain.DiscountTypeFixed, DiscountValue: 300, IsActive: true, StartDate: &past, ExpiryDate: &yesterday})
	h.addCoupon(t, domain.Coupon{Code: "SOON", DiscountType: domain.DiscountTypeFixed, DiscountValue: 300, IsActive: true, StartDate: &future})
	h.addCoupon(t, domain.Coupon{Code: "USED", DiscountType: domain.DiscountTypeFixed, DiscountValue: 300, IsActive: true, UsageLimit: valuePtr(2), UsedCount: 2})

	cases := []struct {
		code   string
		valid  bool
		reason CouponRejection
	}{
		{code: "active", valid: true},
		{code: "MISSING", reason: CouponRejectionNotFound},
		{code: "OFF", reason: CouponRejectionNotFound},
		{code: "OLD", reason: CouponRejectionExpired},
		{code: "SOON", reason: CouponRejectionExpired},
		{code: "USED", reason: CouponRejectionLimitReached},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			result, err := h.coupons.Validate(ctx, ValidateCouponCommand{Code: tc.code, Subtotal: 2000})
			require.NoError(t, err)
			require.Equal(t, tc.valid, result.Valid)
			require.Equal(t, tc.reason, result.Reason)
			if tc.valid {
				require.EqualValues(t, 300, result.DiscountAmount)
				require.Equal(t, "ACTIVE", result.Code)
			} else {
				require.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestCouponValidatePerUserLimitOnlyForSignedInUsers(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addCoupon(t, domain.Coupon{Code: "ONCE", DiscountType: domain.DiscountTypePercentage, DiscountValue: 10, IsActive: true, MaxUsesPerUser: 1})

	_, err := h.coupons.Redeem(ctx, RedeemCouponCommand{Code: "ONCE", UserID: "user-1", OrderID: "ord_1"})
	require.NoError(t, err)

	member, err := h.coupons.Validate(ctx, ValidateCouponCommand{Code: "ONCE", Subtotal: 1000, UserID: "user-1"})
	require.NoError(t, err)
	require.False(t, member.Valid)
	require.Equal(t, CouponRejectionLimitReached, member.Reason)

	guest, err := h.coupons.Validate(ctx, ValidateCouponCommand{Code: "ONCE", Subtotal: 1000})
	require.NoError(t, err)
	require.True(t, guest.Valid)

	other, err := h.coupons.Validate(ctx, ValidateCouponCommand{Code: "ONCE", Subtotal: 1000, UserID: "user-2"})
	require.NoError(t, err)
	require.True(t, other.Valid)
}

func TestCouponValidateDisabledBySettings(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addCoupon(t, domain.Coupon{Code: "ACTIVE", DiscountType: domain.DiscountTypeFixed, DiscountValue: 100, IsActive: true})
	_, err := h.settings.UpdateCoupon(ctx, domain.CouponConfig{Enabled: false})
	require.NoError(t, err)

	result, err := h.coupons.Validate(ctx, ValidateCouponCommand{Code: "ACTIVE", Subtotal: 1000})
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, CouponRejectionDisabled, result.Reason)
}

func TestCouponConcurrentRedemptionsRespectUsageLimit(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	const limit, attempts = 5, 30
	h.addCoupon(t, domain.Coupon{Code: "RUSH", DiscountType: domain.DiscountTypeFixed, DiscountValue: 100, IsActive: true, UsageLimit: valuePtr(limit)})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		limited   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coupons.Redeem(ctx, RedeemCouponCommand{Code: "RUSH"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrCouponLimitReached):
				limited++
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, limit, succeeded)
	require.Equal(t, attempts-limit, limited)
	require.Equal(t, limit, h.usedCount(t, "RUSH"))
}

func TestCouponReleaseNeverDropsBelowZero(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addCoupon(t, domain.Coupon{Code: "BACK", DiscountType: domain.DiscountTypeFixed, DiscountValue: 100, IsActive: true})

	_, err := h.coupons.Redeem(ctx, RedeemCouponCommand{Code: "BACK", UserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, h.coupons.Release(ctx, RedeemCouponCommand{Code: "BACK", UserID: "u1"}))
	require.NoError(t, h.coupons.Release(ctx, RedeemCouponCommand{Code: "BACK", UserID: "u1"}))
	require.Zero(t, h.usedCount(t, "BACK"))
}

func TestCouponCreateValidatesAndUpdatePreservesUsage(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()

	_, err := h.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "TOO MUCH", DiscountType: domain.DiscountTypeFixed, DiscountValue: 10})
	require.ErrorIs(t, err, ErrCouponInvalidInput)
	_, err = h.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "HALF", DiscountType: domain.DiscountTypePercentage, DiscountValue: 150})
	require.ErrorIs(t, err, ErrCouponInvalidInput)

	created, err := h.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "eid", DiscountType: domain.DiscountTypePercentage, DiscountValue: 20, IsActive: true})
	require.NoError(t, err)
	require.Equal(t, "EID", created.Code)

	_, err = h.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "EID", DiscountType: domain.DiscountTypeFixed, DiscountValue: 10})
	require.ErrorIs(t, err, ErrCouponConflict)

	_, err = h.coupons.Redeem(ctx, RedeemCouponCommand{Code: "EID"})
	require.NoError(t, err)

	updated, err := h.coupons.UpdateCoupon(ctx, UpsertCouponCommand{Code: "EID", DiscountType: domain.DiscountTypeFixed, DiscountValue: 500, IsActive: true})
	require.NoError(t, err)
	require.Equal(t, 1, updated.UsedCount)
	require.Equal(t, created.CreatedAt, updated.CreatedAt)
	require.Equal(t, domain.DiscountTypeFixed, updated.DiscountType)
}
