package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

var (
	// ErrSettingsInvalidInput signals an out-of-range settings value.
	ErrSettingsInvalidInput = errors.New("settings: invalid input")
	// ErrSettingsUnavailable indicates the settings store could not be reached.
	ErrSettingsUnavailable = errors.New("settings: repository unavailable")
)

// SettingsServiceDeps bundles collaborators for the settings service.
type SettingsServiceDeps struct {
	Settings repositories.SettingsRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type settingsService struct {
	repo   repositories.SettingsRepository
	clock  func() time.Time
	logger logFunc
}

// NewSettingsService constructs a SettingsService. Reads are never cached so admin edits apply to
// the next quote.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: settings repository is required")
	}
	return &settingsService{
		repo:   deps.Settings,
		clock:  utcClock(deps.Clock),
		logger: loggerOrNoop(deps.Logger),
	}, nil
}

func (s *settingsService) Get(ctx context.Context) (Settings, error) {
	stored, err := s.repo.Load(ctx)
	if err != nil {
		return Settings{}, s.mapRepositoryError(err)
	}
	return ResolveSettings(stored), nil
}

// ResolveSettings fills never-saved sections with defaults.
func ResolveSettings(stored domain.StoredSettings) Settings {
	settings := domain.DefaultSettings()
	if stored.Shipping != nil {
		settings.Shipping = *stored.Shipping
	}
	if stored.Tax != nil {
		settings.Tax = *stored.Tax
	}
	if stored.Subscribe != nil {
		settings.Subscribe = *stored.Subscribe
	}
	if stored.Coupon != nil {
		settings.Coupon = *stored.Coupon
	}
	settings.UpdatedAt = stored.UpdatedAt
	return settings
}

func (s *settingsService) UpdateShipping(ctx context.Context, cfg ShippingConfig) (Settings, error) {
	if cfg.StandardRate < 0 || cfg.FreeShippingThreshold < 0 {
		return Settings{}, fmt.Errorf("%w: shipping amounts must be non-negative", ErrSettingsInvalidInput)
	}
	return s.save(ctx, domain.SettingsKeyShipping, cfg)
}

func (s *settingsService) UpdateTax(ctx context.Context, cfg TaxConfig) (Settings, error) {
	if math.IsNaN(cfg.Rate) || cfg.Rate < 0 || cfg.Rate > 100 {
		return Settings{}, fmt.Errorf("%w: tax rate must be between 0 and 100", ErrSettingsInvalidInput)
	}
	return s.save(ctx, domain.SettingsKeyTax, cfg)
}

func (s *settingsService) UpdateSubscribe(ctx context.Context, cfg SubscribeConfig) (Settings, error) {
	if cfg.DiscountType == "" {
		cfg.DiscountType = domain.DiscountTypePercentage
	}
	switch {
	case !cfg.DiscountType.Valid():
		return Settings{}, fmt.Errorf("%w: unsupported discount type %q", ErrSettingsInvalidInput, cfg.DiscountType)
	case cfg.DiscountValue < 0:
		return Settings{}, fmt.Errorf("%w: discount value must be non-negative", ErrSettingsInvalidInput)
	case cfg.DiscountType == domain.DiscountTypePercentage && cfg.DiscountValue > 100:
		return Settings{}, fmt.Errorf("%w: percentage discount must be at most 100", ErrSettingsInvalidInput)
	case cfg.Enabled && cfg.DiscountValue == 0:
		return Settings{}, fmt.Errorf("%w: an enabled welcome discount needs a value", ErrSettingsInvalidInput)
	}
	return s.save(ctx, domain.SettingsKeySubscribe, cfg)
}

func (s *settingsService) UpdateCoupon(ctx context.Context, cfg CouponConfig) (Settings, error) {
	return s.save(ctx, domain.SettingsKeyCoupon, cfg)
}

func (s *settingsService) save(ctx context.Context, key domain.SettingsKey, value any) (Settings, error) {
	if err := s.repo.Save(ctx, key, value, s.clock()); err != nil {
		return Settings{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "settings.updated", map[string]any{"key": string(key)})
	return s.Get(ctx)
}

func (s *settingsService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %v", ErrSettingsUnavailable, err)
	}
	return err
}
