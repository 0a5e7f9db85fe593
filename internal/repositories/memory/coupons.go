package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

// CouponRepository stores coupons and per-user usage in memory.
type CouponRepository struct {
	mu      sync.Mutex
	coupons map[string]domain.Coupon
	usage   map[string]map[string]int
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		coupons: make(map[string]domain.Coupon),
		usage:   make(map[string]map[string]int),
	}
}

func (r *CouponRepository) Insert(_ context.Context, coupon domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[coupon.Code]; ok {
		return conflict("coupon.insert", coupon.Code)
	}
	r.coupons[coupon.Code] = cloneCoupon(coupon)
	return nil
}

// Update replaces the coupon definition but keeps the stored usedCount, which only Redeem and
// Release may change.
func (r *CouponRepository) Update(_ context.Context, coupon domain.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.coupons[coupon.Code]
	if !ok {
		return notFound("coupon.update", coupon.Code)
	}
	coupon.UsedCount = existing.UsedCount
	r.coupons[coupon.Code] = cloneCoupon(coupon)
	return nil
}

func (r *CouponRepository) Delete(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.coupons[code]; !ok {
		return notFound("coupon.delete", code)
	}
	delete(r.coupons, code)
	delete(r.usage, code)
	return nil
}

func (r *CouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coupon, ok := r.coupons[code]
	if !ok {
		return domain.Coupon{}, notFound("coupon.get", code)
	}
	return cloneCoupon(coupon), nil
}

func (r *CouponRepository) List(_ context.Context) ([]domain.Coupon, error) {
	r.mu.Lock()
	result := make([]domain.Coupon, 0, len(r.coupons))
	for _, coupon := range r.coupons {
		result = append(result, cloneCoupon(coupon))
	}
	r.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (r *CouponRepository) UserUsage(_ context.Context, code, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage[code][userID], nil
}

func (r *CouponRepository) Redeem(_ context.Context, req repositories.CouponRedemption) (domain.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.coupons[req.Code]
	if !ok {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon not found")
	}
	if !coupon.IsActive {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInactive, "coupon inactive")
	}
	if !repositories.CouponInWindow(coupon, req.Now) {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInactive, "coupon outside validity window")
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorLimitReached, "usage limit reached")
	}
	if req.UserID != "" && coupon.PerUserLimited() && r.usage[req.Code][req.UserID] >= coupon.MaxUsesPerUser {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorLimitReached, "per-user limit reached")
	}

	coupon.UsedCount++
	coupon.UpdatedAt = req.Now
	r.coupons[req.Code] = coupon
	if req.UserID != "" {
		if r.usage[req.Code] == nil {
			r.usage[req.Code] = make(map[string]int)
		}
		r.usage[req.Code][req.UserID]++
	}
	return cloneCoupon(coupon), nil
}

func (r *CouponRepository) Release(_ context.Context, req repositories.CouponRedemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.coupons[req.Code]
	if !ok {
		return notFound("coupon.release", req.Code)
	}
	if coupon.UsedCount > 0 {
		coupon.UsedCount--
	}
	coupon.UpdatedAt = req.Now
	r.coupons[req.Code] = coupon
	if req.UserID != "" && r.usage[req.Code][req.UserID] > 0 {
		r.usage[req.Code][req.UserID]--
	}
	return nil
}

func cloneCoupon(c domain.Coupon) domain.Coupon {
	c.StartDate = cloneTimePtr(c.StartDate)
	c.ExpiryDate = cloneTimePtr(c.ExpiryDate)
	if c.UsageLimit != nil {
		limit := *c.UsageLimit
		c.UsageLimit = &limit
	}
	return c
}
