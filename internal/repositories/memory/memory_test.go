package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

func TestProductRepositoryReserveStockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	require.NoError(t, repo.Insert(ctx, domain.Product{ID: "prd_a", Slug: "a", Stock: 5}))
	require.NoError(t, repo.Insert(ctx, domain.Product{ID: "prd_b", Slug: "b", Stock: 1}))

	err := repo.ReserveStock(ctx, []repositories.StockLine{
		{ProductID: "prd_a", Quantity: 2},
		{ProductID: "prd_b", Quantity: 2},
	})
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, repositories.StockErrorInsufficient, stockErr.Code)
	require.Equal(t, "prd_b", stockErr.ProductID)

	a, err := repo.FindByID(ctx, "prd_a")
	require.NoError(t, err)
	require.Equal(t, 5, a.Stock, "first line must not be decremented when a later line fails")
}

func TestProductRepositoryReserveStockMergesDuplicateLines(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	require.NoError(t, repo.Insert(ctx, domain.Product{ID: "prd_a", Slug: "a", Stock: 3}))

	err := repo.ReserveStock(ctx, []repositories.StockLine{
		{ProductID: "prd_a", Quantity: 2},
		{ProductID: "prd_a", Quantity: 2},
	})
	require.Error(t, err)

	a, _ := repo.FindByID(ctx, "prd_a")
	require.Equal(t, 3, a.Stock)
}

func TestProductRepositoryConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	const stock, buyers = 7, 40
	require.NoError(t, repo.Insert(ctx, domain.Product{
		ID:       "prd_oud",
		Slug:     "oud",
		Variants: []domain.ProductVariant{{ID: "50ml", Stock: stock}},
	}))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.ReserveStock(ctx, []repositories.StockLine{{ProductID: "prd_oud", VariantID: "50ml", Quantity: 1}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, stock, succeeded)
	product, err := repo.FindByID(ctx, "prd_oud")
	require.NoError(t, err)
	require.Equal(t, 0, product.Variants[0].Stock)
}

func TestProductRepositoryUpdateKeepsStoredStock(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	product := domain.Product{ID: "prd_a", Slug: "a", Price: 100, Stock: 5,
		Variants: []domain.ProductVariant{{ID: "var_a", Name: "6ml", Stock: 4}}}
	require.NoError(t, repo.Insert(ctx, product))

	// A definition read before these reservations must not put the units back.
	require.NoError(t, repo.ReserveStock(ctx, []repositories.StockLine{
		{ProductID: "prd_a", Quantity: 3},
		{ProductID: "prd_a", VariantID: "var_a", Quantity: 4},
	}))
	product.Price = 150
	require.NoError(t, repo.Update(ctx, product))

	stored, err := repo.FindByID(ctx, "prd_a")
	require.NoError(t, err)
	require.EqualValues(t, 150, stored.Price)
	require.Equal(t, 2, stored.Stock)
	require.Equal(t, 0, stored.Variants[0].Stock)

	err = repo.ReserveStock(ctx, []repositories.StockLine{{ProductID: "prd_a", Quantity: 3}})
	var stockErr *repositories.StockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, repositories.StockErrorInsufficient, stockErr.Code)
}

func TestProductRepositoryConcurrentUpdatesAndReservations(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository()
	product := domain.Product{ID: "prd_a", Slug: "a", Price: 100, Stock: 20}
	require.NoError(t, repo.Insert(ctx, product))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.ReserveStock(ctx, []repositories.StockLine{{ProductID: "prd_a", Quantity: 1}}))
		}()
		go func(price int64) {
			defer wg.Done()
			edit := product
			edit.Price = price
			assert.NoError(t, repo.Update(ctx, edit))
		}(int64(100 + i))
	}
	wg.Wait()

	stored, err := repo.FindByID(ctx, "prd_a")
	require.NoError(t, err)
	require.Equal(t, 0, stored.Stock)
}

func TestProductRepositoryRestoreMissingProduct(t *testing.T) {
	repo := NewProductRepository()
	err := repo.RestoreStock(context.Background(), repositories.StockLine{ProductID: "gone", Quantity: 1})
	var stockErr *repositories.StockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, repositories.StockErrorProductNotFound, stockErr.Code)
}

func TestCouponRepositoryConcurrentRedemptionsRespectLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository()
	limit := 5
	require.NoError(t, repo.Insert(ctx, domain.Coupon{
		Code:           "EID25",
		DiscountType:   domain.DiscountTypePercentage,
		DiscountValue:  25,
		IsActive:       true,
		UsageLimit:     &limit,
		MaxUsesPerUser: domain.UnlimitedUsesPerUser,
	}))

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.Redeem(ctx, repositories.CouponRedemption{Code: "EID25", Now: time.Now()})
		}()
	}
	wg.Wait()

	coupon, err := repo.FindByCode(ctx, "EID25")
	require.NoError(t, err)
	require.Equal(t, limit, coupon.UsedCount)
}

func TestCouponRepositoryPerUserLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewCouponRepository()
	require.NoError(t, repo.Insert(ctx, domain.Coupon{Code: "ONCE", IsActive: true, MaxUsesPerUser: 1}))

	_, err := repo.Redeem(ctx, repositories.CouponRedemption{Code: "ONCE", UserID: "u1"})
	require.NoError(t, err)
	_, err = repo.Redeem(ctx, repositories.CouponRedemption{Code: "ONCE", UserID: "u1"})
	var couponErr *repositories.CouponError
	require.ErrorAs(t, err, &couponErr)
	require.Equal(t, repositories.CouponErrorLimitReached, couponErr.Code)

	// Guests are only bound by the global limit.
	_, err = repo.Redeem(ctx, repositories.CouponRedemption{Code: "ONCE"})
	require.NoError(t, err)

	require.NoError(t, repo.Release(ctx, repositories.CouponRedemption{Code: "ONCE", UserID: "u1"}))
	usage, err := repo.UserUsage(ctx, "ONCE", "u1")
	require.NoError(t, err)
	require.Zero(t, usage)
}

func TestOrderRepositoryPatchKeepsTotals(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Insert(ctx, domain.Order{ID: "ord_1", Subtotal: 100, TotalAmount: 100, Status: domain.OrderStatusPending}))

	status := domain.OrderStatusShipped
	courier := "TCS"
	courierPtr := &courier
	updated, err := repo.Patch(ctx, "ord_1", domain.OrderPatch{Status: &status, CourierCompany: &courierPtr})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, updated.Status)
	require.Equal(t, "TCS", *updated.CourierCompany)
	require.Equal(t, int64(100), updated.TotalAmount)
}
