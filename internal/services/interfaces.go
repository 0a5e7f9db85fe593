package services

import (
	"context"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Product         = domain.Product
	ProductVariant  = domain.ProductVariant
	Category        = domain.Category
	LineItem        = domain.LineItem
	Totals          = domain.Totals
	Order           = domain.Order
	OrderStatus     = domain.OrderStatus
	PaymentMethod   = domain.PaymentMethod
	ShippingAddress = domain.ShippingAddress
	Coupon          = domain.Coupon
	Expense         = domain.Expense
	Settings        = domain.Settings
	ShippingConfig  = domain.ShippingConfig
	TaxConfig       = domain.TaxConfig
	SubscribeConfig = domain.SubscribeConfig
	CouponConfig    = domain.CouponConfig
	Review          = domain.Review
	ReviewStatus    = domain.ReviewStatus
	Subscriber      = domain.Subscriber
	ProfitReport    = domain.ProfitReport
	CustomerSummary = domain.CustomerSummary
)

// PricingService quotes carts with the settings in force at call time. Cart preview, checkout and
// admin order creation all price through it.
type PricingService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (Quote, error)
}

// CouponService validates, redeems and administers discount codes.
type CouponService interface {
	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidation, error)
	Redeem(ctx context.Context, cmd RedeemCouponCommand) (Coupon, error)
	Release(ctx context.Context, cmd RedeemCouponCommand) error
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
	GetCoupon(ctx context.Context, code string) (Coupon, error)
	ListCoupons(ctx context.Context) ([]Coupon, error)
}

// InventoryService reserves and restores product stock.
type InventoryService interface {
	Reserve(ctx context.Context, cmd ReserveStockCommand) error
	Restore(ctx context.Context, cmd RestoreStockCommand) RestoreResult
	SetStock(ctx context.Context, cmd SetStockCommand) (Product, error)
	ListLowStock(ctx context.Context, threshold int) ([]Product, error)
}

// OrderService is the order ledger: it persists pricing snapshots and applies field-level updates.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Uncancel(ctx context.Context, cmd OrderActionCommand) (Order, error)
	MarkReturned(ctx context.Context, cmd OrderActionCommand) (Order, error)
	Unreturn(ctx context.Context, cmd OrderActionCommand) (Order, error)
	SetPaid(ctx context.Context, cmd SetOrderPaymentCommand) (Order, error)
	UpdateTracking(ctx context.Context, cmd UpdateTrackingCommand) (Order, error)
	UpdateShippingAddress(ctx context.Context, cmd UpdateShippingAddressCommand) (Order, error)
	SetArchived(ctx context.Context, cmd SetArchivedCommand) (Order, error)
	Delete(ctx context.Context, cmd OrderActionCommand) error
}

// CheckoutService turns carts into orders: price, reserve stock, redeem coupon, persist, pay.
type CheckoutService interface {
	QuoteCart(ctx context.Context, cmd QuoteCartCommand) (Quote, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	CreateAdminOrder(ctx context.Context, cmd AdminOrderCommand) (Order, error)
}

// PaymentService bridges orders and external gateways.
type PaymentService interface {
	Start(ctx context.Context, cmd StartPaymentCommand) (payments.Session, error)
	Confirm(ctx context.Context, cmd ConfirmPaymentCommand) (PaymentOutcome, error)
}

// AnalyticsService builds read-only financial reports from orders and expenses.
type AnalyticsService interface {
	ComputeReport(ctx context.Context, rng ReportRange) (ProfitReport, error)
	ListCustomers(ctx context.Context, query CustomerQuery) ([]CustomerSummary, error)
}

// SettingsService reads and updates runtime settings. Reads always hit the store.
type SettingsService interface {
	Get(ctx context.Context) (Settings, error)
	UpdateShipping(ctx context.Context, cfg ShippingConfig) (Settings, error)
	UpdateTax(ctx context.Context, cfg TaxConfig) (Settings, error)
	UpdateSubscribe(ctx context.Context, cfg SubscribeConfig) (Settings, error)
	UpdateCoupon(ctx context.Context, cfg CouponConfig) (Settings, error)
}

// ExpenseService manages monthly expense records.
type ExpenseService interface {
	Upsert(ctx context.Context, cmd UpsertExpenseCommand) (Expense, error)
	Get(ctx context.Context, month string) (Expense, error)
	List(ctx context.Context, year int) ([]Expense, error)
	Delete(ctx context.Context, month string) error
}

// CatalogService manages products and categories.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	GetProduct(ctx context.Context, productID string) (Product, error)
	GetProductBySlug(ctx context.Context, slug string) (Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error)
	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error
	ListCategories(ctx context.Context) ([]Category, error)
	ProductImageUploadURL(ctx context.Context, cmd ProductImageUploadCommand) (SignedUpload, error)
}

// SystemService reports process metadata and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.HealthReport, error)
}

// ReviewService handles product reviews and their moderation.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	ListProductReviews(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error)
	ListReviews(ctx context.Context, filter ReviewListFilter) (domain.CursorPage[Review], error)
	Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error)
	Delete(ctx context.Context, reviewID string) error
}

// SubscriberService records newsletter sign-ups and issues welcome coupons.
type SubscriberService interface {
	Subscribe(ctx context.Context, cmd SubscribeCommand) (SubscribeResult, error)
}

// EventPublisher delivers domain events to the outreach pipeline (email, WhatsApp).
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// CheckoutMetrics records checkout counters.
type CheckoutMetrics interface {
	OrderPlaced(ctx context.Context, method PaymentMethod, total int64)
	StockRejected(ctx context.Context)
	CouponRedeemed(ctx context.Context, code string)
}

// ImageSigner issues signed upload URLs for product images.
type ImageSigner interface {
	SignedUploadURL(ctx context.Context, objectPath, contentType string) (SignedUpload, error)
}

// Event is a domain event published after a state change.
type Event struct {
	Type        string
	AggregateID string
	OccurredAt  time.Time
	Data        map[string]any
}

// Commands & DTOs ----------------------------------------------------------

type QuoteCommand struct {
	Items      []LineItem
	CouponCode string
	UserID     string
}

type Quote struct {
	Totals   Totals
	Settings Settings
	Coupon   *CouponValidation
}

type CouponRejection string

const (
	CouponRejectionNotFound     CouponRejection = "not_found"
	CouponRejectionExpired      CouponRejection = "expired"
	CouponRejectionLimitReached CouponRejection = "limit_reached"
	CouponRejectionDisabled     CouponRejection = "disabled"
)

type ValidateCouponCommand struct {
	Code     string
	Subtotal int64
	UserID   string
}

type CouponValidation struct {
	Valid          bool
	Code           string
	DiscountType   domain.DiscountType
	DiscountValue  int64
	DiscountAmount int64
	Reason         CouponRejection
	Message        string
}

type RedeemCouponCommand struct {
	Code    string
	UserID  string
	OrderID string
}

type UpsertCouponCommand struct {
	Code           string
	Description    string
	DiscountType   domain.DiscountType
	DiscountValue  int64
	IsActive       bool
	StartDate      *time.Time
	ExpiryDate     *time.Time
	UsageLimit     *int
	MaxUsesPerUser int
}

type StockLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

type ReserveStockCommand struct {
	OrderID string
	Lines   []StockLine
}

type RestoreStockCommand struct {
	OrderID string
	Reason  string
	Lines   []StockLine
}

type RestoreResult struct {
	Restored []StockLine
	Skipped  []StockLine
}

type SetStockCommand struct {
	ProductID string
	VariantID string
	Stock     int
	ActorID   string
}

type CreateOrderCommand struct {
	// OrderID pre-allocates the id; a fresh one is generated when empty.
	OrderID          string
	UserID           string
	Items            []LineItem
	ShippingAddress  ShippingAddress
	PaymentMethod    PaymentMethod
	Totals           Totals
	CouponCode       string
	IsPaid           bool
	PaymentReference string
	StockReserved    bool
	Source           domain.OrderSource
	ActorID          string
}

type OrderListFilter struct {
	UserID     string
	Email      string
	Statuses   []OrderStatus
	Archived   *bool
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type SetOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
	Reason  string
}

type OrderActionCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

type SetOrderPaymentCommand struct {
	OrderID   string
	IsPaid    bool
	Reference string
	ActorID   string
}

type UpdateTrackingCommand struct {
	OrderID        string
	CourierCompany string
	TrackingID     string
	ActorID        string
}

type UpdateShippingAddressCommand struct {
	OrderID         string
	ShippingAddress ShippingAddress
	ActorID         string
}

type SetArchivedCommand struct {
	OrderID  string
	Archived bool
	ActorID  string
}

type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

type QuoteCartCommand struct {
	UserID     string
	Items      []CartLine
	CouponCode string
}

type PlaceOrderCommand struct {
	UserID          string
	Items           []CartLine
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	CouponCode      string
	ExpectedTotals  *Totals
	IdempotencyKey  string
}

type PlaceOrderResult struct {
	Order        Order
	Payment      *payments.Session
	PaymentError error
}

type AdminOrderLine struct {
	CartLine
	UnitPrice *int64
}

type AdminOrderCommand struct {
	UserID          string
	Items           []AdminOrderLine
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	CouponCode      string
	MarkPaid        bool
	ActorID         string
}

type StartPaymentCommand struct {
	OrderID        string
	IdempotencyKey string
}

type ConfirmPaymentCommand struct {
	Method PaymentMethod
	Values map[string]string
}

type PaymentOutcome struct {
	Order  Order
	Status payments.Status
}

type ReportRange struct {
	Start time.Time
	End   time.Time
}

type CustomerQuery struct {
	Range *ReportRange
	Limit int
}

type UpsertExpenseCommand struct {
	Month             string
	Advertising       int64
	Packaging         int64
	ReturnShipping    int64
	StaffSalary       int64
	Rent              int64
	Utilities         int64
	Other             int64
	PackagingPerOrder int64
	ShippingPerOrder  int64
	Notes             string
}

type UpsertProductCommand struct {
	ProductID   string
	Name        string
	Slug        string
	Description string
	Price       int64
	CostPerItem *int64
	Stock       int
	CategoryID  string
	SubCategory string
	FragranceID *string
	FormatID    *string
	Images      []string
	Variants    []ProductVariant
	IsPublished bool
}

type ProductListFilter struct {
	CategoryID    string
	SubCategory   string
	PublishedOnly bool
	Pagination    Pagination
}

type UpsertCategoryCommand struct {
	CategoryID    string
	Name          string
	Slug          string
	SubCategories []string
}

type ProductImageUploadCommand struct {
	ProductID   string
	FileName    string
	ContentType string
}

type SignedUpload struct {
	URL       string
	Method    string
	ObjectURL string
	Headers   map[string]string
	ExpiresAt time.Time
}

type CreateReviewCommand struct {
	ProductID string
	UserID    string
	OrderID   string
	Rating    int
	Title     string
	Body      string
}

type ReviewListFilter struct {
	ProductID  string
	Status     []ReviewStatus
	Pagination Pagination
}

type ModerateReviewCommand struct {
	ReviewID string
	Action   string
	ActorID  string
}

type SubscribeCommand struct {
	Email string
}

type SubscribeResult struct {
	Subscriber Subscriber
	Coupon     *Coupon
	Created    bool
}
