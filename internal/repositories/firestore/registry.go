// Package firestore implements the repository interfaces on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

// Registry wires every Firestore repository to one shared provider.
type Registry struct {
	provider    *pfirestore.Provider
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

// NewRegistry constructs all repositories. Extra checks are probed alongside Firestore by the
// health repository.
func NewRegistry(provider *pfirestore.Provider, version string, clock func() time.Time, extra ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.categories, err = NewCategoryRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, err
	}
	if reg.expenses, err = NewExpenseRepository(provider); err != nil {
		return nil, err
	}
	if reg.settings, err = NewSettingsRepository(provider); err != nil {
		return nil, err
	}
	if reg.reviews, err = NewReviewRepository(provider); err != nil {
		return nil, err
	}
	if reg.subscribers, err = NewSubscriberRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{
		Name:  "firestore",
		Check: provider.Ping,
	}}, extra...)
	if reg.health, err = repositories.NewDependencyHealthRepository(version, clock, checks...); err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

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
