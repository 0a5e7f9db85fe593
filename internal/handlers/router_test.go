package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/services"
)

func TestRouterUnknownRouteReturnsJSON404(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != errorNotFoundCode {
		t.Fatalf("expected error code %q, got %v", errorNotFoundCode, body["error"])
	}
}

func TestRouterEmptyGroupsAnswerNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/api/v1/admin/orders", "/api/v1/me/orders", "/api/v1/payments/safepay/callback"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, rr.Code)
		}
	}
}

func TestRouterMountsRegistrarsUnderBasePathWithGroupMiddleware(t *testing.T) {
	var adminCalls int
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adminCalls++
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithBasePath("store/"),
		WithStorefrontRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
		WithAdminMiddlewares(guard),
		WithAdminRoutes(func(r chi.Router) {
			r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/store/ping", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected storefront route 204, got %d", rr.Code)
	}
	if adminCalls != 0 {
		t.Fatalf("admin middleware must not run for storefront routes")
	}

	req = httptest.NewRequest(http.MethodGet, "/store/admin/ping", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected admin route 202, got %d", rr.Code)
	}
	if adminCalls != 1 {
		t.Fatalf("expected admin middleware to run once, got %d", adminCalls)
	}
}

func TestHealthzReportsBuildInfo(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Second)
	health := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{Version: "1.4.0", Environment: "prod", StartedAt: started}),
		WithHealthClock(func() time.Time { return now }),
	)
	router := NewRouter(WithHealthHandlers(health))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.4.0" || body["uptime"] != "1m30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyzFailsWhenDependencyErrors(t *testing.T) {
	system := &stubSystemService{reportFn: func(ctx context.Context) (domain.HealthReport, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected readiness probe deadline")
		}
		return domain.HealthReport{
			Status: domain.HealthStatusError,
			Dependencies: map[string]domain.DependencyHealth{
				"firestore": {Status: domain.HealthStatusError, Detail: "unavailable", Latency: 25 * time.Millisecond},
			},
			GeneratedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}, nil
	}}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithHealthSystemService(system))))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	deps, ok := decodeBody(t, rr)["dependencies"].(map[string]any)
	if !ok {
		t.Fatalf("expected dependencies map")
	}
	firestore, ok := deps["firestore"].(map[string]any)
	if !ok || firestore["latencyMs"] != float64(25) {
		t.Fatalf("unexpected firestore dependency %v", deps["firestore"])
	}
}

func TestReadyzDegradedStillServes(t *testing.T) {
	system := &stubSystemService{reportFn: func(context.Context) (domain.HealthReport, error) {
		return domain.HealthReport{Status: domain.HealthStatusDegraded}, nil
	}}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithHealthSystemService(system))))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for degraded report, got %d", rr.Code)
	}
}
