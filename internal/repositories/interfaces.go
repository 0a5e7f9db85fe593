package repositories

import (
	"context"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Categories() CategoryRepository
	Orders() OrderRepository
	Coupons() CouponRepository
	Expenses() ExpenseRepository
	Settings() SettingsRepository
	Reviews() ReviewRepository
	Subscribers() SubscriberRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists catalog products and owns their stock counters.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySlug(ctx context.Context, slug string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	CountByCategory(ctx context.Context, categoryID string) (int, error)

	// ReserveStock decrements every line if and only if all of them have enough stock.
	ReserveStock(ctx context.Context, lines []StockLine) error
	// RestoreStock increments a single line. A missing product or variant yields a StockError with
	// StockErrorProductNotFound.
	RestoreStock(ctx context.Context, line StockLine) error
	SetStock(ctx context.Context, line StockLine, updatedAt time.Time) (domain.Product, error)
	ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error)
}

// StockLine identifies a quantity of a product or one of its variants.
type StockLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// CategoryRepository persists catalog categories.
type CategoryRepository interface {
	Insert(ctx context.Context, category domain.Category) error
	Update(ctx context.Context, category domain.Category) error
	Delete(ctx context.Context, categoryID string) error
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
	List(ctx context.Context) ([]domain.Category, error)
}

// OrderRepository persists orders. Updates are field patches; totals are written once by Insert.
// Patch fails with ErrStaleOrder, without writing, when the stored order does not match the patch
// preconditions.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Patch(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListCreatedBetween returns every order created in [from, to), oldest first.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error)
	CountByEmail(ctx context.Context, email string) (int, error)
}

// CouponRepository persists coupons and their usage counters.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, code string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context) ([]domain.Coupon, error)
	UserUsage(ctx context.Context, code, userID string) (int, error)

	// Redeem re-checks the usage limits and increments the counters in one atomic step.
	Redeem(ctx context.Context, req CouponRedemption) (domain.Coupon, error)
	// Release reverses a redemption without letting counters drop below zero.
	Release(ctx context.Context, req CouponRedemption) error
}

// CouponRedemption identifies one use of a coupon.
type CouponRedemption struct {
	Code    string
	UserID  string
	OrderID string
	Now     time.Time
}

// ExpenseRepository persists monthly expense records keyed by YYYY-MM.
type ExpenseRepository interface {
	Upsert(ctx context.Context, expense domain.Expense) (domain.Expense, error)
	Delete(ctx context.Context, month string) error
	FindByMonth(ctx context.Context, month string) (domain.Expense, error)
	FindByMonths(ctx context.Context, months []string) (map[string]domain.Expense, error)
	List(ctx context.Context, fromMonth, toMonth string) ([]domain.Expense, error)
}

// SettingsRepository stores runtime settings documents.
type SettingsRepository interface {
	Load(ctx context.Context) (domain.StoredSettings, error)
	Save(ctx context.Context, key domain.SettingsKey, value any, updatedAt time.Time) error
}

// ReviewRepository persists product reviews.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) error
	UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, updatedAt time.Time) (domain.Review, error)
	Delete(ctx context.Context, reviewID string) error
	FindByID(ctx context.Context, reviewID string) (domain.Review, error)
	List(ctx context.Context, filter ReviewListFilter) (domain.CursorPage[domain.Review], error)
}

// SubscriberRepository persists newsletter subscribers.
type SubscriberRepository interface {
	Insert(ctx context.Context, subscriber domain.Subscriber) error
	FindByEmail(ctx context.Context, email string) (domain.Subscriber, error)
}

// CounterRepository exposes sequential counters used for human readable numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type ProductListFilter struct {
	CategoryID    string
	SubCategory   string
	PublishedOnly bool
	Pagination    domain.Pagination
}

type OrderListFilter struct {
	UserID     string
	Email      string
	Statuses   []domain.OrderStatus
	Archived   *bool
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type ReviewListFilter struct {
	ProductID  string
	Status     []domain.ReviewStatus
	Pagination domain.Pagination
}
