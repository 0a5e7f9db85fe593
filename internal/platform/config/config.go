package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultBasePath             = "/api/v1"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultLogLevel             = "info"
	defaultUploadURLTTL         = 15 * time.Minute
	defaultAdminRoles           = "admin,staff"
	defaultSafepayEnvironment   = "sandbox"
	defaultStateTTL             = 2 * time.Hour
	defaultEventsBackend        = "log"
	defaultIdempotencyBackend   = "memory"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultCouponValidateLimit  = 20
	defaultCheckoutLimit        = 10
	defaultReportTimezone       = "Asia/Karachi"
	defaultRepositoryBackend    = "memory"
	minStateSigningKeyLength    = 16
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Auth        AuthConfig
	Payments    PaymentsConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
	RateLimits  RateLimitConfig
	Analytics   AnalyticsConfig
	Repository  RepositoryConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	BasePath     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig controls product image uploads. An empty bucket disables uploads.
type StorageConfig struct {
	ProductImagesBucket string
	SignerAccount       string
	PublicBaseURL       string
	UploadURLTTL        time.Duration
}

// AuthConfig lists the custom-claim roles granted admin access.
type AuthConfig struct {
	AdminRoles []string
}

// PaymentsConfig collects gateway credentials and callback routing.
type PaymentsConfig struct {
	Safepay  SafepayConfig
	JazzCash JazzCashConfig
	Stripe   StripeConfig
	// CallbackBaseURL is the public API root gateways redirect back to.
	CallbackBaseURL string
	// StorefrontURL receives the customer after a confirmed or cancelled payment.
	StorefrontURL   string
	StateSigningKey string
	StateTTL        time.Duration
}

type SafepayConfig struct {
	APIKey          string
	SecretKey       string
	Environment     string
	APIBaseURL      string
	CheckoutBaseURL string
}

// Enabled reports whether Safepay credentials are present.
func (c SafepayConfig) Enabled() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

type JazzCashConfig struct {
	MerchantID    string
	Password      string
	IntegritySalt string
	PostURL       string
}

// Enabled reports whether JazzCash credentials are present.
func (c JazzCashConfig) Enabled() bool {
	return c.MerchantID != "" && c.Password != "" && c.IntegritySalt != ""
}

type StripeConfig struct {
	APIKey string
}

// Enabled reports whether a Stripe key is present.
func (c StripeConfig) Enabled() bool {
	return c.APIKey != ""
}

// AnyGateway reports whether at least one online gateway is configured.
func (c PaymentsConfig) AnyGateway() bool {
	return c.Safepay.Enabled() || c.JazzCash.Enabled() || c.Stripe.Enabled()
}

// EventsConfig selects the domain event transport.
type EventsConfig struct {
	Backend      string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Backend          string
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Redis            RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RateLimitConfig controls per-client throttling of public endpoints.
type RateLimitConfig struct {
	CouponValidatePerMinute int
	CheckoutPerMinute       int
}

// AnalyticsConfig controls report bucketing.
type AnalyticsConfig struct {
	Timezone string
}

// RepositoryConfig selects the persistence backend.
type RepositoryConfig struct {
	Backend string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers, safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map that wins over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Payments.StateSigningKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment (dotenv < process env < explicit map) so callers
// can build dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the configuration from defaults, the .env file, the process environment and an
// optional explicit map, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		LogLevel:    strings.ToLower(stringWithDefault(lookup, "API_LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			BasePath:     stringWithDefault(lookup, "API_SERVER_BASE_PATH", defaultBasePath),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ProductImagesBucket: stringWithDefault(lookup, "API_STORAGE_PRODUCT_IMAGES_BUCKET", ""),
			SignerAccount:       stringWithDefault(lookup, "API_STORAGE_SIGNER_ACCOUNT", ""),
			PublicBaseURL:       stringWithDefault(lookup, "API_STORAGE_PUBLIC_BASE_URL", ""),
			UploadURLTTL:        durationWithDefault(lookup, "API_STORAGE_UPLOAD_URL_TTL", defaultUploadURLTTL),
		},
		Auth: AuthConfig{
			AdminRoles: csvWithDefault(lookup, "API_AUTH_ADMIN_ROLES", defaultAdminRoles),
		},
		Payments: PaymentsConfig{
			Safepay: SafepayConfig{
				APIKey:          stringWithDefault(lookup, "API_SAFEPAY_API_KEY", ""),
				SecretKey:       stringWithDefault(lookup, "API_SAFEPAY_SECRET_KEY", ""),
				Environment:     strings.ToLower(stringWithDefault(lookup, "API_SAFEPAY_ENVIRONMENT", defaultSafepayEnvironment)),
				APIBaseURL:      stringWithDefault(lookup, "API_SAFEPAY_API_BASE_URL", ""),
				CheckoutBaseURL: stringWithDefault(lookup, "API_SAFEPAY_CHECKOUT_BASE_URL", ""),
			},
			JazzCash: JazzCashConfig{
				MerchantID:    stringWithDefault(lookup, "API_JAZZCASH_MERCHANT_ID", ""),
				Password:      stringWithDefault(lookup, "API_JAZZCASH_PASSWORD", ""),
				IntegritySalt: stringWithDefault(lookup, "API_JAZZCASH_INTEGRITY_SALT", ""),
				PostURL:       stringWithDefault(lookup, "API_JAZZCASH_POST_URL", ""),
			},
			Stripe: StripeConfig{
				APIKey: stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
			},
			CallbackBaseURL: stringWithDefault(lookup, "API_PAYMENTS_CALLBACK_BASE_URL", ""),
			StorefrontURL:   stringWithDefault(lookup, "API_PAYMENTS_STOREFRONT_URL", ""),
			StateSigningKey: stringWithDefault(lookup, "API_PAYMENTS_STATE_SIGNING_KEY", ""),
			StateTTL:        durationWithDefault(lookup, "API_PAYMENTS_STATE_TTL", defaultStateTTL),
		},
		Events: EventsConfig{
			Backend:      strings.ToLower(stringWithDefault(lookup, "API_EVENTS_BACKEND", defaultEventsBackend)),
			PubSubTopic:  stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers: csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS", ""),
			KafkaTopic:   stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", ""),
		},
		Idempotency: IdempotencyConfig{
			Backend:          strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			Redis: RedisConfig{
				Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
				Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
				DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
			},
		},
		RateLimits: RateLimitConfig{
			CouponValidatePerMinute: intWithDefault(lookup, "API_RATELIMIT_COUPON_VALIDATE_PER_MIN", defaultCouponValidateLimit),
			CheckoutPerMinute:       intWithDefault(lookup, "API_RATELIMIT_CHECKOUT_PER_MIN", defaultCheckoutLimit),
		},
		Analytics: AnalyticsConfig{
			Timezone: stringWithDefault(lookup, "API_ANALYTICS_TIMEZONE", defaultReportTimezone),
		},
		Repository: RepositoryConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "API_REPOSITORY_BACKEND", defaultRepositoryBackend)),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Payments.Safepay.APIKey", &cfg.Payments.Safepay.APIKey},
		{"Payments.Safepay.SecretKey", &cfg.Payments.Safepay.SecretKey},
		{"Payments.JazzCash.Password", &cfg.Payments.JazzCash.Password},
		{"Payments.JazzCash.IntegritySalt", &cfg.Payments.JazzCash.IntegritySalt},
		{"Payments.Stripe.APIKey", &cfg.Payments.Stripe.APIKey},
		{"Payments.StateSigningKey", &cfg.Payments.StateSigningKey},
		{"Idempotency.Redis.Password", &cfg.Idempotency.Redis.Password},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string
	add := func(field string) { invalid = append(invalid, field) }

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	if !strings.HasPrefix(cfg.Server.BasePath, "/") {
		add("Server.BasePath")
	}

	switch cfg.Repository.Backend {
	case "memory":
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	default:
		add("Repository.Backend")
	}

	if cfg.Storage.ProductImagesBucket != "" && cfg.Storage.UploadURLTTL <= 0 {
		add("Storage.UploadURLTTL")
	}

	if cfg.Payments.AnyGateway() {
		if len(cfg.Payments.StateSigningKey) < minStateSigningKeyLength {
			add("Payments.StateSigningKey")
		}
		if cfg.Payments.CallbackBaseURL == "" {
			add("Payments.CallbackBaseURL")
		}
		if cfg.Payments.StateTTL <= 0 {
			add("Payments.StateTTL")
		}
	}
	if cfg.Payments.Safepay.Enabled() && !slices.Contains([]string{"sandbox", "production"}, cfg.Payments.Safepay.Environment) {
		add("Payments.Safepay.Environment")
	}

	switch cfg.Events.Backend {
	case "log":
	case "pubsub":
		if cfg.Events.PubSubTopic == "" {
			add("Events.PubSubTopic")
		}
		if cfg.Firestore.ProjectID == "" {
			add("Firestore.ProjectID")
		}
	case "kafka":
		if len(cfg.Events.KafkaBrokers) == 0 {
			add("Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			add("Events.KafkaTopic")
		}
	default:
		add("Events.Backend")
	}

	switch cfg.Idempotency.Backend {
	case "memory":
	case "firestore":
		if cfg.Firestore.ProjectID == "" && cfg.Repository.Backend != "firestore" {
			add("Firestore.ProjectID")
		}
	case "redis":
		if cfg.Idempotency.Redis.Addr == "" {
			add("Idempotency.Redis.Addr")
		}
	default:
		add("Idempotency.Backend")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		add("Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		add("Idempotency.CleanupBatchSize")
	}
	if cfg.RateLimits.CouponValidatePerMinute <= 0 {
		add("RateLimits.CouponValidatePerMinute")
	}
	if cfg.RateLimits.CheckoutPerMinute <= 0 {
		add("RateLimits.CheckoutPerMinute")
	}
	if _, err := time.LoadLocation(cfg.Analytics.Timezone); err != nil {
		add("Analytics.Timezone")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: dedupe(invalid)}
	}
	return nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if !slices.Contains(out, value) {
			out = append(out, value)
		}
	}
	return out
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []missingSecret
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		missing = append(missing, missingSecret{name: trimmed, redacted: redactSecretName(trimmed)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// loadDotEnv parses path with godotenv. A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key, fallback string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
