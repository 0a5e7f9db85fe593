package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrPricingInvalidInput signals bad cart data such as negative prices or an oversized discount.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
)

// ComputeTotals prices items against the shipping and tax settings. discount must already be
// resolved to an amount and may not exceed the subtotal.
func ComputeTotals(items []LineItem, shipping ShippingConfig, tax TaxConfig, discount int64) (Totals, error) {
	if shipping.StandardRate < 0 || shipping.FreeShippingThreshold < 0 {
		return Totals{}, fmt.Errorf("%w: shipping settings must be non-negative", ErrPricingInvalidInput)
	}
	if tax.Enabled && (tax.Rate < 0 || math.IsNaN(tax.Rate)) {
		return Totals{}, fmt.Errorf("%w: tax rate must be non-negative", ErrPricingInvalidInput)
	}
	if discount < 0 {
		return Totals{}, fmt.Errorf("%w: discount must be non-negative", ErrPricingInvalidInput)
	}

	var subtotal int64
	for i, item := range items {
		if item.Price < 0 {
			return Totals{}, fmt.Errorf("%w: item %d has a negative price", ErrPricingInvalidInput, i)
		}
		if item.Quantity < 1 {
			return Totals{}, fmt.Errorf("%w: item %d quantity must be at least 1", ErrPricingInvalidInput, i)
		}
		qty := int64(item.Quantity)
		if item.Price > 0 && qty > math.MaxInt64/item.Price {
			return Totals{}, fmt.Errorf("%w: item %d line total overflows", ErrPricingInvalidInput, i)
		}
		line := item.Price * qty
		if subtotal > math.MaxInt64-line {
			return Totals{}, fmt.Errorf("%w: subtotal overflows", ErrPricingInvalidInput)
		}
		subtotal += line
	}
	if discount > subtotal {
		return Totals{}, fmt.Errorf("%w: discount %d exceeds subtotal %d", ErrPricingInvalidInput, discount, subtotal)
	}

	shippingCost := shipping.StandardRate
	if subtotal >= shipping.FreeShippingThreshold {
		shippingCost = 0
	}

	var taxAmount int64
	if tax.Enabled && tax.Rate > 0 {
		taxAmount = roundHalfAway(float64(subtotal) * tax.Rate / 100)
	}

	return Totals{
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
		Tax:          taxAmount,
		Discount:     discount,
		TotalAmount:  subtotal + taxAmount + shippingCost - discount,
	}, nil
}

// PricingServiceDeps bundles collaborators required to quote carts.
type PricingServiceDeps struct {
	Settings SettingsService
	Coupons  CouponService
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type pricingService struct {
	settings SettingsService
	coupons  CouponService
	logger   logFunc
}

// NewPricingService constructs the quote entry point shared by cart preview, checkout and admin
// order creation.
func NewPricingService(deps PricingServiceDeps) (PricingService, error) {
	if deps.Settings == nil {
		return nil, errors.New("pricing service: settings service is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("pricing service: coupon service is required")
	}
	return &pricingService{
		settings: deps.Settings,
		coupons:  deps.Coupons,
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *pricingService) Quote(ctx context.Context, cmd QuoteCommand) (Quote, error) {
	if len(cmd.Items) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one item is required", ErrPricingInvalidInput)
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return Quote{}, err
	}

	base, err := ComputeTotals(cmd.Items, settings.Shipping, settings.Tax, 0)
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{Totals: base, Settings: settings}
	if strings.TrimSpace(cmd.CouponCode) == "" {
		return quote, nil
	}

	validation, err := s.coupons.Validate(ctx, ValidateCouponCommand{
		Code:     cmd.CouponCode,
		Subtotal: base.Subtotal,
		UserID:   cmd.UserID,
	})
	if err != nil {
		return Quote{}, err
	}
	quote.Coupon = &validation
	if !validation.Valid {
		s.logger(ctx, "pricing.coupon.rejected", map[string]any{
			"code":   validation.Code,
			"reason": string(validation.Reason),
		})
		return quote, nil
	}

	totals, err := ComputeTotals(cmd.Items, settings.Shipping, settings.Tax, validation.DiscountAmount)
	if err != nil {
		return Quote{}, err
	}
	quote.Totals = totals
	return quote, nil
}
