// Package memory implements the repository interfaces with mutex-guarded maps. It backs local
// development (API_REPOSITORY_BACKEND=memory) and the service tests.
package memory

import (
	"context"
	"time"

	"github.com/attarhouse/storefront/internal/repositories"
)

// Registry exposes in-memory repositories sharing one lifecycle.
type Registry struct {
	products    *ProductRepository
	categories  *CategoryRepository
	orders      *OrderRepository
	coupons     *CouponRepository
	expenses    *ExpenseRepository
	settings    *SettingsRepository
	reviews     *ReviewRepository
	subscribers *SubscriberRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs an empty in-memory registry.
func NewRegistry() *Registry {
	health, _ := repositories.NewDependencyHealthRepository("memory", nil, repositories.DependencyCheck{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	})
	return &Registry{
		products:    NewProductRepository(),
		categories:  NewCategoryRepository(),
		orders:      NewOrderRepository(),
		coupons:     NewCouponRepository(),
		expenses:    NewExpenseRepository(),
		settings:    NewSettingsRepository(),
		reviews:     NewReviewRepository(),
		subscribers: NewSubscriberRepository(),
		counters:    NewCounterRepository(),
		health:      health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Products() repositories.ProductRepository       { return r.products }
func (r *Registry) Categories() repositories.CategoryRepository    { return r.categories }
func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Coupons() repositories.CouponRepository         { return r.coupons }
func (r *Registry) Expenses() repositories.ExpenseRepository       { return r.expenses }
func (r *Registry) Settings() repositories.SettingsRepository      { return r.settings }
func (r *Registry) Reviews() repositories.ReviewRepository         { return r.reviews }
func (r *Registry) Subscribers() repositories.SubscriberRepository { return r.subscribers }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
