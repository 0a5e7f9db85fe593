package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/config"
	"github.com/attarhouse/storefront/internal/platform/observability"
	"github.com/attarhouse/storefront/internal/platform/storage"
	"github.com/attarhouse/storefront/internal/repositories"
	"github.com/attarhouse/storefront/internal/services"
)

// Services bundles the service-layer contracts handlers depend on. Payments is nil when no
// online gateway is configured.
type Services struct {
	Settings    services.SettingsService
	Pricing     services.PricingService
	Coupons     services.CouponService
	Inventory   services.InventoryService
	Orders      services.OrderService
	Payments    services.PaymentService
	Checkout    services.CheckoutService
	Catalog     services.CatalogService
	Reviews     services.ReviewService
	Subscribers services.SubscriberService
	Expenses    services.ExpenseService
	Analytics   services.AnalyticsService
	System      services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	// Location is the business timezone used for report buckets and admin date filters.
	Location *time.Location
}

type options struct {
	logger   *zap.Logger
	events   services.EventPublisher
	metrics  services.CheckoutMetrics
	gateway  *payments.Manager
	state    *payments.StateSigner
	uploader *storage.Uploader
	clock    func() time.Time
	build    services.BuildInfo
}

// Option customises container wiring.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventPublisher sets the transport for order, review and subscriber events.
func WithEventPublisher(events services.EventPublisher) Option {
	return func(o *options) { o.events = events }
}

func WithCheckoutMetrics(metrics services.CheckoutMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithPayments enables the online payment bridge. Both arguments are required together.
func WithPayments(gateway *payments.Manager, state *payments.StateSigner) Option {
	return func(o *options) {
		o.gateway = gateway
		o.state = state
	}
}

// WithImageUploader enables signed product image uploads.
func WithImageUploader(uploader *storage.Uploader) Option {
	return func(o *options) { o.uploader = uploader }
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// NewContainer builds every service on top of reg.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.build.Environment == "" {
		o.build.Environment = cfg.Environment
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock().UTC()
	}

	loc := services.ReportLocation(cfg.Analytics.Timezone)
	svc, err := buildServices(ctx, cfg, reg, o, loc)
	if err != nil {
		return nil, err
	}
	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Location:     loc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, o options, loc *time.Location) (Services, error) {
	var svc Services
	logger := func(name string) func(context.Context, string, map[string]any) {
		return observability.ServiceLogger(o.logger, name)
	}

	var err error
	if svc.Settings, err = services.NewSettingsService(services.SettingsServiceDeps{
		Settings: reg.Settings(),
		Clock:    o.clock,
		Logger:   logger("settings"),
	}); err != nil {
		return Services{}, fmt.Errorf("build settings service: %w", err)
	}

	if svc.Coupons, err = services.NewCouponService(services.CouponServiceDeps{
		Coupons:  reg.Coupons(),
		Settings: svc.Settings,
		Clock:    o.clock,
		Logger:   logger("coupons"),
	}); err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}

	if svc.Pricing, err = services.NewPricingService(services.PricingServiceDeps{
		Settings: svc.Settings,
		Coupons:  svc.Coupons,
		Logger:   logger("pricing"),
	}); err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}

	if svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Metrics:  o.metrics,
		Clock:    o.clock,
		Logger:   logger("inventory"),
	}); err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	if svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:    reg.Orders(),
		Counters:  reg.Counters(),
		Inventory: svc.Inventory,
		Events:    o.events,
		Clock:     o.clock,
		Logger:    logger("orders"),
	}); err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if o.gateway != nil && o.state != nil {
		if svc.Payments, err = services.NewPaymentService(services.PaymentServiceDeps{
			Orders:          svc.Orders,
			Gateway:         o.gateway,
			State:           o.state,
			CallbackBaseURL: cfg.Payments.CallbackBaseURL,
			Clock:           o.clock,
			Logger:          logger("payments"),
		}); err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
	}

	if svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Products:  reg.Products(),
		Pricing:   svc.Pricing,
		Coupons:   svc.Coupons,
		Inventory: svc.Inventory,
		Orders:    svc.Orders,
		Payments:  svc.Payments,
		Metrics:   o.metrics,
		Clock:     o.clock,
		Logger:    logger("checkout"),
	}); err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	catalogDeps := services.CatalogServiceDeps{
		Products:   reg.Products(),
		Categories: reg.Categories(),
		Clock:      o.clock,
		Logger:     logger("catalog"),
	}
	if o.uploader != nil {
		catalogDeps.Images = imageSigner{uploader: o.uploader}
	}
	if svc.Catalog, err = services.NewCatalogService(catalogDeps); err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}

	if svc.Reviews, err = services.NewReviewService(services.ReviewServiceDeps{
		Reviews:  reg.Reviews(),
		Products: reg.Products(),
		Orders:   reg.Orders(),
		Events:   o.events,
		Clock:    o.clock,
		Logger:   logger("reviews"),
	}); err != nil {
		return Services{}, fmt.Errorf("build review service: %w", err)
	}

	if svc.Subscribers, err = services.NewSubscriberService(services.SubscriberServiceDeps{
		Subscribers: reg.Subscribers(),
		Orders:      reg.Orders(),
		Settings:    svc.Settings,
		Coupons:     svc.Coupons,
		Events:      o.events,
		Clock:       o.clock,
		Logger:      logger("subscribers"),
	}); err != nil {
		return Services{}, fmt.Errorf("build subscriber service: %w", err)
	}

	if svc.Expenses, err = services.NewExpenseService(services.ExpenseServiceDeps{
		Expenses: reg.Expenses(),
		Clock:    o.clock,
		Logger:   logger("expenses"),
	}); err != nil {
		return Services{}, fmt.Errorf("build expense service: %w", err)
	}

	if svc.Analytics, err = services.NewAnalyticsService(services.AnalyticsServiceDeps{
		Orders:   reg.Orders(),
		Expenses: reg.Expenses(),
		Products: reg.Products(),
		Location: loc,
		Clock:    o.clock,
		Logger:   logger("analytics"),
	}); err != nil {
		return Services{}, fmt.Errorf("build analytics service: %w", err)
	}

	if svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		Health: reg.Health(),
		Clock:  o.clock,
		Build:  o.build,
	}); err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}

	return svc, nil
}

// imageSigner adapts the bucket uploader to the catalog service.
type imageSigner struct {
	uploader *storage.Uploader
}

func (s imageSigner) SignedUploadURL(ctx context.Context, objectPath, contentType string) (services.SignedUpload, error) {
	upload, err := s.uploader.SignedUploadURL(ctx, objectPath, contentType)
	if err != nil {
		return services.SignedUpload{}, err
	}
	return services.SignedUpload{
		URL:       upload.URL,
		Method:    upload.Method,
		ObjectURL: upload.ObjectURL,
		Headers:   upload.Headers,
		ExpiresAt: upload.ExpiresAt,
	}, nil
}
