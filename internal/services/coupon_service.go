package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

const couponCodeMaxLength = 40

var (
	// ErrCouponInvalidInput signals malformed coupon payloads.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon does not exist.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponConflict indicates a duplicate code.
	ErrCouponConflict = errors.New("coupon: conflict")
	// ErrCouponInactive indicates the coupon is switched off or outside its window at redemption.
	ErrCouponInactive = errors.New("coupon: inactive")
	// ErrCouponLimitReached indicates a usage cap was hit, possibly by a concurrent redemption.
	ErrCouponLimitReached = errors.New("coupon: limit reached")
	// ErrCouponUnavailable indicates the coupon store could not be reached.
	ErrCouponUnavailable = errors.New("coupon: repository unavailable")
)

var couponUpper = cases.Upper(language.Und)

// NormalizeCouponCode folds compatibility characters and upper-cases the code.
func NormalizeCouponCode(code string) string {
	code = norm.NFKC.String(strings.TrimSpace(code))
	return couponUpper.String(code)
}

// CouponServiceDeps bundles collaborators for the coupon service.
type CouponServiceDeps struct {
	Coupons  repositories.CouponRepository
	Settings SettingsService
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons  repositories.CouponRepository
	settings SettingsService
	clock    func() time.Time
	logger   logFunc
}

// NewCouponService constructs a CouponService. Settings is optional; without it coupons are always
// enabled.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	return &couponService{
		coupons:  deps.Coupons,
		settings: deps.Settings,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponValidation{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if cmd.Subtotal < 0 {
		return CouponValidation{}, fmt.Errorf("%w: subtotal must be non-negative", ErrCouponInvalidInput)
	}

	if s.settings != nil {
		settings, err := s.settings.Get(ctx)
		if err != nil {
			return CouponValidation{}, err
		}
		if !settings.Coupon.Enabled {
			return rejectCoupon(code, CouponRejectionDisabled), nil
		}
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrCouponNotFound) {
			return rejectCoupon(code, CouponRejectionNotFound), nil
		}
		return CouponValidation{}, mapped
	}
	if !coupon.IsActive {
		return rejectCoupon(code, CouponRejectionNotFound), nil
	}
	if !repositories.CouponInWindow(coupon, s.clock()) {
		return rejectCoupon(code, CouponRejectionExpired), nil
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return rejectCoupon(code, CouponRejectionLimitReached), nil
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID != "" && coupon.PerUserLimited() {
		used, err := s.coupons.UserUsage(ctx, code, userID)
		if err != nil {
			return CouponValidation{}, s.mapRepositoryError(err)
		}
		if used >= coupon.MaxUsesPerUser {
			return rejectCoupon(code, CouponRejectionLimitReached), nil
		}
	}

	return CouponValidation{
		Valid:          true,
		Code:           code,
		DiscountType:   coupon.DiscountType,
		DiscountValue:  coupon.DiscountValue,
		DiscountAmount: CouponDiscount(coupon, cmd.Subtotal),
	}, nil
}

// CouponDiscount computes the discount coupon grants on subtotal, clamped to [0, subtotal].
func CouponDiscount(coupon Coupon, subtotal int64) int64 {
	if subtotal <= 0 || coupon.DiscountValue <= 0 {
		return 0
	}
	var amount int64
	switch coupon.DiscountType {
	case domain.DiscountTypePercentage:
		amount = roundHalfAway(float64(subtotal) * float64(coupon.DiscountValue) / 100)
	case domain.DiscountTypeFixed:
		amount = coupon.DiscountValue
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

func rejectCoupon(code string, reason CouponRejection) CouponValidation {
	return CouponValidation{
		Valid:   false,
		Code:    code,
		Reason:  reason,
		Message: couponRejectionMessage(reason),
	}
}

func couponRejectionMessage(reason CouponRejection) string {
	switch reason {
	case CouponRejectionNotFound:
		return "Invalid coupon code"
	case CouponRejectionExpired:
		return "This coupon has expired"
	case CouponRejectionLimitReached:
		return "This coupon has reached its usage limit"
	case CouponRejectionDisabled:
		return "Coupons are currently disabled"
	default:
		return "Coupon cannot be applied"
	}
}

func (s *couponService) Redeem(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.Redeem(ctx, repositories.CouponRedemption{
		Code:    code,
		UserID:  strings.TrimSpace(cmd.UserID),
		OrderID: strings.TrimSpace(cmd.OrderID),
		Now:     s.clock(),
	})
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.redeemed", map[string]any{
		"code":      code,
		"orderId":   cmd.OrderID,
		"usedCount": coupon.UsedCount,
	})
	return coupon, nil
}

func (s *couponService) Release(ctx context.Context, cmd RedeemCouponCommand) error {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Release(ctx, repositories.CouponRedemption{
		Code:    code,
		UserID:  strings.TrimSpace(cmd.UserID),
		OrderID: strings.TrimSpace(cmd.OrderID),
		Now:     s.clock(),
	}); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	now := s.clock()
	coupon.CreatedAt = now
	coupon.UpdatedAt = now
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	coupon, err := s.buildCoupon(cmd)
	if err != nil {
		return Coupon{}, err
	}
	existing, err := s.coupons.FindByCode(ctx, coupon.Code)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = s.clock()
	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) DeleteCoupon(ctx context.Context, code string) error {
	code = NormalizeCouponCode(code)
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Delete(ctx, code); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	code = NormalizeCouponCode(code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context) ([]Coupon, error) {
	coupons, err := s.coupons.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	sort.SliceStable(coupons, func(i, j int) bool {
		return coupons[i].CreatedAt.After(coupons[j].CreatedAt)
	})
	return coupons, nil
}

func (s *couponService) buildCoupon(cmd UpsertCouponCommand) (Coupon, error) {
	code := NormalizeCouponCode(cmd.Code)
	switch {
	case code == "":
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	case len(code) > couponCodeMaxLength:
		return Coupon{}, fmt.Errorf("%w: code must be at most %d characters", ErrCouponInvalidInput, couponCodeMaxLength)
	case strings.ContainsAny(code, " /"):
		return Coupon{}, fmt.Errorf("%w: code must not contain spaces or slashes", ErrCouponInvalidInput)
	case !cmd.DiscountType.Valid():
		return Coupon{}, fmt.Errorf("%w: unsupported discount type %q", ErrCouponInvalidInput, cmd.DiscountType)
	case cmd.DiscountValue <= 0:
		return Coupon{}, fmt.Errorf("%w: discount value must be positive", ErrCouponInvalidInput)
	case cmd.DiscountType == domain.DiscountTypePercentage && cmd.DiscountValue > 100:
		return Coupon{}, fmt.Errorf("%w: percentage discount must be at most 100", ErrCouponInvalidInput)
	case cmd.UsageLimit != nil && *cmd.UsageLimit < 0:
		return Coupon{}, fmt.Errorf("%w: usage limit must be non-negative", ErrCouponInvalidInput)
	}
	if cmd.StartDate != nil && cmd.ExpiryDate != nil && cmd.ExpiryDate.Before(*cmd.StartDate) {
		return Coupon{}, fmt.Errorf("%w: expiry date precedes start date", ErrCouponInvalidInput)
	}

	coupon := Coupon{
		Code:           code,
		Description:    strings.TrimSpace(cmd.Description),
		DiscountType:   cmd.DiscountType,
		DiscountValue:  cmd.DiscountValue,
		IsActive:       cmd.IsActive,
		MaxUsesPerUser: cmd.MaxUsesPerUser,
	}
	if cmd.StartDate != nil {
		coupon.StartDate = valuePtr(cmd.StartDate.UTC())
	}
	if cmd.ExpiryDate != nil {
		coupon.ExpiryDate = valuePtr(cmd.ExpiryDate.UTC())
	}
	if cmd.UsageLimit != nil {
		coupon.UsageLimit = valuePtr(*cmd.UsageLimit)
	}
	if coupon.MaxUsesPerUser < 0 {
		coupon.MaxUsesPerUser = 0
	}
	return coupon, nil
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorNotFound:
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repositories.CouponErrorInactive:
			return fmt.Errorf("%w: %v", ErrCouponInactive, err)
		case repositories.CouponErrorLimitReached:
			return fmt.Errorf("%w: %v", ErrCouponLimitReached, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
		}
	}
	return err
}
