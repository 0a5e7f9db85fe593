package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/platform/textutil"
	"github.com/attarhouse/storefront/internal/repositories"
)

// OrderRepository stores orders in memory.
type OrderRepository struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]domain.Order)}
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return conflict("order.insert", order.ID)
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) Patch(_ context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.patch", orderID)
	}
	if !patch.Matches(order) {
		return domain.Order{}, fmt.Errorf("order.patch %s: %w", orderID, repositories.ErrStaleOrder)
	}
	order = cloneOrder(order)
	patch.Apply(&order)
	r.orders[orderID] = order
	return cloneOrder(order), nil
}

func (r *OrderRepository) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[orderID]; !ok {
		return notFound("order.delete", orderID)
	}
	delete(r.orders, orderID)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order.get", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses[status] = struct{}{}
	}
	email := textutil.NormalizeEmail(filter.Email)

	r.mu.Lock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.UserID != "" && (order.UserID == nil || *order.UserID != filter.UserID) {
			continue
		}
		if email != "" && textutil.NormalizeEmail(order.ShippingAddress.Email) != email {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		if filter.Archived != nil && order.IsArchived != *filter.Archived {
			continue
		}
		if from := filter.DateRange.From; from != nil && order.CreatedAt.Before(*from) {
			continue
		}
		if to := filter.DateRange.To; to != nil && order.CreatedAt.After(*to) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	items, next, err := pagination.Window(matched, filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	r.mu.Lock()
	var result []domain.Order
	for _, order := range r.orders {
		if order.CreatedAt.Before(from) || !order.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	r.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *OrderRepository) CountByEmail(_ context.Context, email string) (int, error) {
	email = textutil.NormalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, order := range r.orders {
		if textutil.NormalizeEmail(order.ShippingAddress.Email) == email {
			count++
		}
	}
	return count, nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.LineItem(nil), o.Items...)
	o.StatusHistory = append([]domain.OrderStatusChange(nil), o.StatusHistory...)
	o.UserID = cloneStringPtr(o.UserID)
	o.CouponCode = cloneStringPtr(o.CouponCode)
	o.CourierCompany = cloneStringPtr(o.CourierCompany)
	o.TrackingID = cloneStringPtr(o.TrackingID)
	o.PaymentReference = cloneStringPtr(o.PaymentReference)
	o.PaidAt = cloneTimePtr(o.PaidAt)
	return o
}
