package domain

import "time"

// SettingsKey identifies one settings document.
type SettingsKey string

const (
	SettingsKeyShipping  SettingsKey = "shipping"
	SettingsKeyTax       SettingsKey = "tax"
	SettingsKeySubscribe SettingsKey = "subscribe"
	SettingsKeyCoupon    SettingsKey = "coupon"
)

// ShippingConfig drives the flat shipping charge.
type ShippingConfig struct {
	StandardRate          int64
	FreeShippingThreshold int64
}

// TaxConfig holds the storewide tax rate as a percentage.
type TaxConfig struct {
	Enabled bool
	Rate    float64
}

// SubscribeConfig controls the newsletter welcome coupon.
type SubscribeConfig struct {
	Enabled       bool
	DiscountType  DiscountType
	DiscountValue int64
	NewUsersOnly  bool
}

// CouponConfig toggles coupon entry at checkout.
type CouponConfig struct {
	Enabled bool
}

// Settings is the resolved set of runtime settings.
type Settings struct {
	Shipping  ShippingConfig
	Tax       TaxConfig
	Subscribe SubscribeConfig
	Coupon    CouponConfig
	UpdatedAt time.Time
}

// StoredSettings is what the store returned; nil sections were never saved.
type StoredSettings struct {
	Shipping  *ShippingConfig
	Tax       *TaxConfig
	Subscribe *SubscribeConfig
	Coupon    *CouponConfig
	UpdatedAt time.Time
}

// DefaultSettings are used for sections that have never been saved.
func DefaultSettings() Settings {
	return Settings{
		Shipping: ShippingConfig{StandardRate: 200, FreeShippingThreshold: 5000},
		Tax:      TaxConfig{Enabled: false},
		Subscribe: SubscribeConfig{
			Enabled:      false,
			DiscountType: DiscountTypePercentage,
		},
		Coupon: CouponConfig{Enabled: true},
	}
}
