package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/attarhouse/storefront/internal/di"
	"github.com/attarhouse/storefront/internal/handlers"
	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/config"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/idempotency"
	"github.com/attarhouse/storefront/internal/platform/jobs"
	"github.com/attarhouse/storefront/internal/platform/observability"
	"github.com/attarhouse/storefront/internal/platform/secrets"
	"github.com/attarhouse/storefront/internal/platform/storage"
	"github.com/attarhouse/storefront/internal/repositories"
	firestoreRepo "github.com/attarhouse/storefront/internal/repositories/firestore"
	"github.com/attarhouse/storefront/internal/repositories/memory"
	"github.com/attarhouse/storefront/internal/services"
)

const meterName = "github.com/attarhouse/storefront"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

// closer collects shutdown hooks and runs them in reverse order.
type closer struct {
	fns []func(context.Context)
}

func (c *closer) add(fn func(context.Context)) { c.fns = append(c.fns, fn) }

func (c *closer) run(ctx context.Context) {
	for i := len(c.fns) - 1; i >= 0; i-- {
		c.fns[i](ctx)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"], zap.String("service", "attarhouse-api"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()
	logger := baseLogger.Named("api")

	var cleanup closer
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cleanup.run(closeCtx)
	}()

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return fmt.Errorf("init secret fetcher: %w", err)
	}
	cleanup.add(func(context.Context) {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	})

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return fmt.Errorf("load config: %w", err)
	}
	logger = logger.With(zap.String("environment", cfg.Environment))

	build := services.BuildInfo{
		Version:     firstNonEmpty(envValues["API_BUILD_VERSION"], "dev"),
		CommitSHA:   firstNonEmpty(envValues["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	}

	metrics, err := observability.NewCheckoutMetrics(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		return fmt.Errorf("init checkout metrics: %w", err)
	}

	var firestoreProvider *pfirestore.Provider
	if cfg.Repository.Backend == "firestore" || cfg.Idempotency.Backend == "firestore" {
		var providerOpts []pfirestore.ProviderOption
		if cfg.Firebase.CredentialsFile != "" {
			providerOpts = append(providerOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(cfg.Firebase.CredentialsFile)))
		}
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore, providerOpts...)
		cleanup.add(func(ctx context.Context) {
			if err := firestoreProvider.Close(ctx); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		})
	}

	idemStore, extraChecks, err := newIdempotencyStore(cfg, firestoreProvider, &cleanup, logger)
	if err != nil {
		return err
	}

	reg, err := newRegistry(cfg, firestoreProvider, build, extraChecks)
	if err != nil {
		return err
	}

	events, err := newEventPublisher(ctx, cfg, logger, &cleanup)
	if err != nil {
		return err
	}

	containerOpts := []di.Option{
		di.WithLogger(baseLogger),
		di.WithEventPublisher(events),
		di.WithCheckoutMetrics(metrics),
		di.WithBuildInfo(build),
	}
	if cfg.Payments.AnyGateway() {
		manager, state, err := newPaymentGateways(cfg, baseLogger)
		if err != nil {
			return err
		}
		containerOpts = append(containerOpts, di.WithPayments(manager, state))
	} else {
		logger.Warn("no online payment gateway configured; only cash on delivery is available")
	}
	if cfg.Storage.ProductImagesBucket != "" {
		uploader, err := newImageUploader(ctx, cfg)
		if err != nil {
			return err
		}
		containerOpts = append(containerOpts, di.WithImageUploader(uploader))
	}

	container, err := di.NewContainer(ctx, cfg, reg, containerOpts...)
	if err != nil {
		return fmt.Errorf("build container: %w", err)
	}
	cleanup.add(func(ctx context.Context) {
		if err := container.Close(ctx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	})

	authenticator, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}
	if authenticator == nil {
		logger.Warn("firebase project not configured; /me and /admin are disabled")
	}

	router := newRouter(cfg, container, build, authenticator, idemStore, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("attar house api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		runIdempotencyCleanup(groupCtx, idemStore, cfg.Idempotency, logger.Named("idempotency"))
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down; draining requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string { return strings.TrimSpace(env[key]) }
	opts := []secrets.Option{
		secrets.WithLogger(logger),
		secrets.WithEnvironment(firstNonEmpty(lookup("API_ENVIRONMENT"), "local")),
		secrets.WithDefaultProject(firstNonEmpty(lookup("API_SECRET_PROJECT_ID"), lookup("API_FIREBASE_PROJECT_ID"))),
		secrets.WithFallbackFile(firstNonEmpty(lookup("API_SECRET_FALLBACK_FILE"), ".secrets.local")),
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames makes the gateway signing key mandatory as soon as any online gateway has
// credentials.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	gatewayConfigured := false
	for _, key := range []string{"API_SAFEPAY_API_KEY", "API_JAZZCASH_MERCHANT_ID", "API_STRIPE_API_KEY"} {
		if strings.TrimSpace(env[key]) != "" {
			gatewayConfigured = true
		}
	}
	if gatewayConfigured {
		required = append(required, "Payments.StateSigningKey")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_IDEMPOTENCY_BACKEND"]), "redis") && strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Idempotency.Redis.Password")
	}
	return required
}

func newRegistry(cfg config.Config, provider *pfirestore.Provider, build services.BuildInfo, extra []repositories.DependencyCheck) (repositories.Registry, error) {
	switch cfg.Repository.Backend {
	case "firestore":
		reg, err := firestoreRepo.NewRegistry(provider, build.Version, time.Now, extra...)
		if err != nil {
			return nil, fmt.Errorf("init firestore registry: %w", err)
		}
		return reg, nil
	case "memory", "":
		return memory.NewRegistry(), nil
	default:
		return nil, fmt.Errorf("unsupported repository backend %q", cfg.Repository.Backend)
	}
}

func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider, cleanup *closer, logger *zap.Logger) (idempotency.Store, []repositories.DependencyCheck, error) {
	switch cfg.Idempotency.Backend {
	case "firestore":
		store, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return nil, nil, fmt.Errorf("init firestore idempotency store: %w", err)
		}
		return store, nil, nil
	case "redis":
		client := idempotency.NewRedisClient(cfg.Idempotency.Redis.Addr, cfg.Idempotency.Redis.Password, cfg.Idempotency.Redis.DB)
		cleanup.add(func(context.Context) {
			if err := client.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		})
		store, err := idempotency.NewRedisStore(client, "attarhouse:idem:")
		if err != nil {
			return nil, nil, fmt.Errorf("init redis idempotency store: %w", err)
		}
		check := repositories.DependencyCheck{Name: "redis", Timeout: time.Second, Check: store.Ping}
		return store, []repositories.DependencyCheck{check}, nil
	case "memory", "":
		return idempotency.NewMemoryStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency backend %q", cfg.Idempotency.Backend)
	}
}

func runIdempotencyCleanup(ctx context.Context, store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	if cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		}
	}
}

func newEventPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger, cleanup *closer) (services.EventPublisher, error) {
	switch cfg.Events.Backend {
	case "pubsub":
		var clientOpts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubEventPublisher(client.Topic(cfg.Events.PubSubTopic))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		cleanup.add(func(context.Context) {
			publisher.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		})
		return publisher, nil
	case "kafka":
		publisher, err := jobs.NewKafkaEventPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		if err != nil {
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		cleanup.add(func(context.Context) {
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka close error", zap.Error(err))
			}
		})
		return publisher, nil
	case "log", "":
		return jobs.NewLogEventPublisher(logger.Named("events")), nil
	default:
		return nil, fmt.Errorf("unsupported events backend %q", cfg.Events.Backend)
	}
}

func newPaymentGateways(cfg config.Config, logger *zap.Logger) (*payments.Manager, *payments.StateSigner, error) {
	providers := make(map[string]payments.Provider)
	if c := cfg.Payments.Safepay; c.Enabled() {
		provider, err := payments.NewSafepayProvider(payments.SafepayConfig{
			APIKey:          c.APIKey,
			SecretKey:       c.SecretKey,
			Environment:     c.Environment,
			APIBaseURL:      c.APIBaseURL,
			CheckoutBaseURL: c.CheckoutBaseURL,
			HTTPClient:      &http.Client{Timeout: 15 * time.Second},
			Logger:          observability.ServiceLogger(logger, "safepay"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init safepay: %w", err)
		}
		providers["safepay"] = provider
	}
	if c := cfg.Payments.JazzCash; c.Enabled() {
		provider, err := payments.NewJazzCashProvider(payments.JazzCashConfig{
			MerchantID:    c.MerchantID,
			Password:      c.Password,
			IntegritySalt: c.IntegritySalt,
			PostURL:       c.PostURL,
			Location:      services.ReportLocation(cfg.Analytics.Timezone),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init jazzcash: %w", err)
		}
		providers["jazzcash"] = provider
	}
	if c := cfg.Payments.Stripe; c.Enabled() {
		provider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: c.APIKey,
			Logger: observability.ServiceLogger(logger, "stripe"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init stripe: %w", err)
		}
		providers["stripe"] = provider
	}
	manager, err := payments.NewManager(providers)
	if err != nil {
		return nil, nil, err
	}
	state, err := payments.NewStateSigner([]byte(cfg.Payments.StateSigningKey), cfg.Payments.StateTTL, nil)
	if err != nil {
		return nil, nil, err
	}
	return manager, state, nil
}

func newImageUploader(ctx context.Context, cfg config.Config) (*storage.Uploader, error) {
	var signer storage.Signer
	var err error
	switch {
	case cfg.Storage.SignerAccount != "":
		signer, err = storage.NewIAMSigner(ctx, cfg.Storage.SignerAccount)
	case cfg.Firebase.CredentialsFile != "":
		signer, err = storage.NewKeySignerFromFile(cfg.Firebase.CredentialsFile)
	default:
		return nil, errors.New("storage: set API_STORAGE_SIGNER_ACCOUNT or API_FIREBASE_CREDENTIALS_FILE to sign uploads")
	}
	if err != nil {
		return nil, fmt.Errorf("init upload signer: %w", err)
	}
	return storage.NewUploader(storage.UploaderConfig{
		Bucket:        cfg.Storage.ProductImagesBucket,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		TTL:           cfg.Storage.UploadURLTTL,
	}, signer)
}

func newAuthenticator(ctx context.Context, cfg config.Config) (*auth.Authenticator, error) {
	if cfg.Firebase.ProjectID == "" {
		return nil, nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, fmt.Errorf("init firebase verifier: %w", err)
	}
	return auth.NewAuthenticator(verifier), nil
}

func newRouter(cfg config.Config, container *di.Container, build services.BuildInfo, authn *auth.Authenticator, idem idempotency.Store, logger *zap.Logger) http.Handler {
	svc := container.Services
	projectID := cfg.Firestore.ProjectID

	idemMiddleware := idempotency.Middleware(idem,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	orderOpts := []handlers.OrderOption{
		handlers.WithOrderIdempotency(idemMiddleware, cfg.Idempotency.Header),
		handlers.WithOrderRateLimit(cfg.RateLimits.CheckoutPerMinute, nil),
	}
	if svc.Payments != nil {
		orderOpts = append(orderOpts, handlers.WithOrderPayments(svc.Payments))
	}
	orderHandlers := handlers.NewOrderHandlers(authn, svc.Checkout, svc.Orders, orderOpts...)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Catalog, svc.Settings)
	cartHandlers := handlers.NewCartHandlers(svc.Checkout, svc.Coupons, svc.Subscribers,
		handlers.WithCartRateLimit(cfg.RateLimits.CouponValidatePerMinute))
	reviewHandlers := handlers.NewReviewHandlers(authn, svc.Reviews)
	adminOrders := handlers.NewAdminOrderHandlers(svc.Checkout, svc.Orders, container.Location)
	adminCatalog := handlers.NewAdminCatalogHandlers(svc.Catalog, svc.Inventory, svc.Coupons)
	adminFinance := handlers.NewAdminFinanceHandlers(svc.Expenses, svc.Settings, svc.Analytics, container.Location)

	health := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(svc.System),
		handlers.WithHealthBuildInfo(build),
	)

	opts := []handlers.Option{
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithStorefrontRoutes(catalogHandlers.Routes, cartHandlers.Routes, orderHandlers.Routes, reviewHandlers.Routes),
		handlers.WithMeRoutes(orderHandlers.MeRoutes),
		handlers.WithAdminRoutes(adminOrders.Routes, adminCatalog.Routes, adminFinance.Routes, reviewHandlers.AdminRoutes),
	}
	if authn != nil {
		opts = append(opts,
			handlers.WithMeMiddlewares(authn.RequireFirebaseAuth()),
			handlers.WithAdminMiddlewares(authn.RequireFirebaseAuth(cfg.Auth.AdminRoles...)),
		)
	} else {
		opts = append(opts,
			handlers.WithMeMiddlewares(authUnavailable),
			handlers.WithAdminMiddlewares(authUnavailable),
		)
	}
	if svc.Payments != nil {
		paymentHandlers := handlers.NewPaymentHandlers(svc.Payments, cfg.Payments.StorefrontURL)
		opts = append(opts, handlers.WithPaymentRoutes(paymentHandlers.Routes))
	}
	return handlers.NewRouter(opts...)
}

func authUnavailable(http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("auth_unavailable", "authentication is not configured", http.StatusServiceUnavailable))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
