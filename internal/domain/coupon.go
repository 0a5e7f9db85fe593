package domain

import "time"

// UnlimitedUsesPerUser is the sentinel stored by the dashboard for "no per-user cap".
const UnlimitedUsesPerUser = 1_000_000

// DiscountType selects how a coupon's value is interpreted.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercentage || t == DiscountTypeFixed
}

// Coupon is a discount code. Code is stored upper-cased.
type Coupon struct {
	Code           string
	Description    string
	DiscountType   DiscountType
	DiscountValue  int64
	IsActive       bool
	StartDate      *time.Time
	ExpiryDate     *time.Time
	UsageLimit     *int
	MaxUsesPerUser int
	UsedCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PerUserLimited reports whether MaxUsesPerUser caps individual users.
func (c Coupon) PerUserLimited() bool {
	return c.MaxUsesPerUser > 0 && c.MaxUsesPerUser < UnlimitedUsesPerUser
}

// CouponUsage counts redemptions of one coupon by one user.
type CouponUsage struct {
	Code      string
	UserID    string
	Count     int
	UpdatedAt time.Time
}
