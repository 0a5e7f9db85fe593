package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const settingsCollection = "settings"

var settingsKeys = []string{
	string(domain.SettingsKeyShipping),
	string(domain.SettingsKeyTax),
	string(domain.SettingsKeySubscribe),
	string(domain.SettingsKeyCoupon),
}

// SettingsRepository keeps one document per settings section, so sections save independently.
type SettingsRepository struct {
	base *pfirestore.BaseRepository[map[string]any]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[map[string]any](provider, settingsCollection, pfirestore.MapDecoder())
	return &SettingsRepository{base: base}, nil
}

// Load reads all sections in one round trip. Missing sections stay nil.
func (r *SettingsRepository) Load(ctx context.Context) (domain.StoredSettings, error) {
	docs, err := r.base.GetAll(ctx, settingsKeys)
	if err != nil {
		return domain.StoredSettings{}, err
	}
	var stored domain.StoredSettings
	for _, doc := range docs {
		data := doc.Data
		if updated, ok := data["updatedAt"].(time.Time); ok && updated.After(stored.UpdatedAt) {
			stored.UpdatedAt = updated
		}
		switch domain.SettingsKey(doc.ID) {
		case domain.SettingsKeyShipping:
			stored.Shipping = &domain.ShippingConfig{
				StandardRate:          int64Field(data, "standardRate"),
				FreeShippingThreshold: int64Field(data, "freeShippingThreshold"),
			}
		case domain.SettingsKeyTax:
			stored.Tax = &domain.TaxConfig{
				Enabled: boolField(data, "enabled"),
				Rate:    floatField(data, "rate"),
			}
		case domain.SettingsKeySubscribe:
			discountType, _ := data["discountType"].(string)
			stored.Subscribe = &domain.SubscribeConfig{
				Enabled:       boolField(data, "enabled"),
				DiscountType:  domain.DiscountType(discountType),
				DiscountValue: int64Field(data, "discountValue"),
				NewUsersOnly:  boolField(data, "newUsersOnly"),
			}
		case domain.SettingsKeyCoupon:
			stored.Coupon = &domain.CouponConfig{Enabled: boolField(data, "enabled")}
		}
	}
	return stored, nil
}

func (r *SettingsRepository) Save(ctx context.Context, key domain.SettingsKey, value any, updatedAt time.Time) error {
	var data map[string]any
	switch v := value.(type) {
	case domain.ShippingConfig:
		data = map[string]any{"standardRate": v.StandardRate, "freeShippingThreshold": v.FreeShippingThreshold}
	case domain.TaxConfig:
		data = map[string]any{"enabled": v.Enabled, "rate": v.Rate}
	case domain.SubscribeConfig:
		data = map[string]any{
			"enabled":       v.Enabled,
			"discountType":  string(v.DiscountType),
			"discountValue": v.DiscountValue,
			"newUsersOnly":  v.NewUsersOnly,
		}
	case domain.CouponConfig:
		data = map[string]any{"enabled": v.Enabled}
	default:
		return fmt.Errorf("settings: unsupported value %T for key %s", value, key)
	}
	data["updatedAt"] = updatedAt.UTC()
	return r.base.Set(ctx, string(key), data, firestore.MergeAll)
}

func int64Field(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func floatField(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func boolField(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}
