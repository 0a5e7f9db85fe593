package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/platform/config"
	"github.com/attarhouse/storefront/internal/platform/storage"
	"github.com/attarhouse/storefront/internal/repositories/memory"
)

type fakeSigner struct{}

func (fakeSigner) Email() string { return "uploader@attar.iam.gserviceaccount.com" }

func (fakeSigner) SignBytes(context.Context, []byte) ([]byte, error) { return []byte("sig"), nil }

type fakeProvider struct{}

func (fakeProvider) CreatePayment(context.Context, payments.Request) (payments.Session, error) {
	return payments.Session{}, nil
}

func (fakeProvider) VerifyCallback(context.Context, payments.Callback) (payments.Result, error) {
	return payments.Result{}, nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil)
	require.Error(t, err)
}

func TestNewContainerWithoutGatewaysLeavesPaymentsNil(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{Environment: "test", Analytics: config.AnalyticsConfig{Timezone: "Asia/Karachi"}}

	container, err := NewContainer(ctx, cfg, memory.NewRegistry())
	require.NoError(t, err)
	defer container.Close(ctx)

	require.Nil(t, container.Services.Payments)
	require.NotNil(t, container.Services.Checkout)
	require.NotNil(t, container.Services.Analytics)
	require.NotNil(t, container.Services.Subscribers)
	require.Equal(t, "Asia/Karachi", container.Location.String())

	report, err := container.Services.System.HealthReport(ctx)
	require.NoError(t, err)
	require.Equal(t, "test", report.Environment)
}

func TestNewContainerWiresPaymentsAndUploads(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	manager, err := payments.NewManager(map[string]payments.Provider{"safepay": fakeProvider{}})
	require.NoError(t, err)
	state, err := payments.NewStateSigner([]byte("0123456789abcdef0123"), time.Hour, nil)
	require.NoError(t, err)
	uploader, err := storage.NewUploader(storage.UploaderConfig{Bucket: "attar-images"}, fakeSigner{},
		storage.WithUploaderClock(func() time.Time { return now }))
	require.NoError(t, err)

	cfg := config.Config{Payments: config.PaymentsConfig{CallbackBaseURL: "https://api.attarhouse.pk/api"}}
	container, err := NewContainer(ctx, cfg, memory.NewRegistry(),
		WithPayments(manager, state),
		WithImageUploader(uploader),
		WithClock(func() time.Time { return now }),
	)
	require.NoError(t, err)
	require.NotNil(t, container.Services.Payments)

	upload, err := imageSigner{uploader: uploader}.SignedUploadURL(ctx, "products/prd_1/images/01.png", "image/png")
	require.NoError(t, err)
	require.Equal(t, "PUT", upload.Method)
	require.Equal(t, "https://storage.googleapis.com/attar-images/products/prd_1/images/01.png", upload.ObjectURL)
	require.Equal(t, now.Add(15*time.Minute), upload.ExpiresAt)
}
