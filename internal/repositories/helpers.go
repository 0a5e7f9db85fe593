package repositories

import (
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
)

// MergeStockLines folds lines that address the same product and variant into one, preserving the
// order of first appearance.
func MergeStockLines(lines []StockLine) []StockLine {
	type key struct{ product, variant string }
	index := make(map[key]int, len(lines))
	merged := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		k := key{line.ProductID, line.VariantID}
		if i, ok := index[k]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[k] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

// CouponInWindow reports whether now falls inside the coupon's optional start and expiry dates.
func CouponInWindow(coupon domain.Coupon, now time.Time) bool {
	if coupon.StartDate != nil && now.Before(*coupon.StartDate) {
		return false
	}
	if coupon.ExpiryDate != nil && now.After(*coupon.ExpiryDate) {
		return false
	}
	return true
}

// KeepStoredStock copies the stock counters of stored onto next. Variants that are new in next
// keep the opening stock they were created with. Repositories call it inside the same atomic
// section that reads stored, so a definition update never rewrites a concurrent reservation.
func KeepStoredStock(stored, next domain.Product) domain.Product {
	next.Stock = stored.Stock
	next.Variants = append([]domain.ProductVariant(nil), next.Variants...)
	for i := range next.Variants {
		if current, ok := stored.Variant(next.Variants[i].ID); ok {
			next.Variants[i].Stock = current.Stock
		}
	}
	return next
}
