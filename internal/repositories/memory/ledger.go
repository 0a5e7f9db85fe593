package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

// ExpenseRepository stores monthly expenses in memory.
type ExpenseRepository struct {
	mu       sync.Mutex
	expenses map[string]domain.Expense
}

var _ repositories.ExpenseRepository = (*ExpenseRepository)(nil)

func NewExpenseRepository() *ExpenseRepository {
	return &ExpenseRepository{expenses: make(map[string]domain.Expense)}
}

func (r *ExpenseRepository) Upsert(_ context.Context, expense domain.Expense) (domain.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.expenses[expense.Month]; ok {
		expense.CreatedAt = existing.CreatedAt
	}
	r.expenses[expense.Month] = expense
	return expense, nil
}

func (r *ExpenseRepository) Delete(_ context.Context, month string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.expenses[month]; !ok {
		return notFound("expense.delete", month)
	}
	delete(r.expenses, month)
	return nil
}

func (r *ExpenseRepository) FindByMonth(_ context.Context, month string) (domain.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expense, ok := r.expenses[month]
	if !ok {
		return domain.Expense{}, notFound("expense.get", month)
	}
	return expense, nil
}

func (r *ExpenseRepository) FindByMonths(_ context.Context, months []string) (map[string]domain.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]domain.Expense, len(months))
	for _, month := range months {
		if expense, ok := r.expenses[month]; ok {
			result[month] = expense
		}
	}
	return result, nil
}

func (r *ExpenseRepository) List(_ context.Context, fromMonth, toMonth string) ([]domain.Expense, error) {
	r.mu.Lock()
	var result []domain.Expense
	for month, expense := range r.expenses {
		// YYYY-MM keys order lexically.
		if fromMonth != "" && month < fromMonth {
			continue
		}
		if toMonth != "" && month > toMonth {
			continue
		}
		result = append(result, expense)
	}
	r.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result, nil
}

// SettingsRepository stores settings documents in memory.
type SettingsRepository struct {
	mu     sync.Mutex
	stored domain.StoredSettings
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository() *SettingsRepository {
	return &SettingsRepository{}
}

func (r *SettingsRepository) Load(context.Context) (domain.StoredSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.stored
	if out.Shipping != nil {
		v := *out.Shipping
		out.Shipping = &v
	}
	if out.Tax != nil {
		v := *out.Tax
		out.Tax = &v
	}
	if out.Subscribe != nil {
		v := *out.Subscribe
		out.Subscribe = &v
	}
	if out.Coupon != nil {
		v := *out.Coupon
		out.Coupon = &v
	}
	return out, nil
}

func (r *SettingsRepository) Save(_ context.Context, key domain.SettingsKey, value any, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch v := value.(type) {
	case domain.ShippingConfig:
		r.stored.Shipping = &v
	case domain.TaxConfig:
		r.stored.Tax = &v
	case domain.SubscribeConfig:
		r.stored.Subscribe = &v
	case domain.CouponConfig:
		r.stored.Coupon = &v
	default:
		return fmt.Errorf("settings: unsupported value %T for key %s", value, key)
	}
	r.stored.UpdatedAt = updatedAt
	return nil
}

// CounterRepository hands out sequential numbers in memory.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if counterID == "" {
		return 0, &repositories.CounterError{CounterID: counterID, Message: "counter id is required"}
	}
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[counterID] += step
	return r.values[counterID], nil
}
