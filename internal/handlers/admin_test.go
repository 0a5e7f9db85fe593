package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/services"
)

var karachi = time.FixedZone("PKT", 5*60*60)

func adminRouter(identity *auth.Identity, registrars ...RouteRegistrar) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if identity != nil {
				req = req.WithContext(auth.WithIdentity(req.Context(), identity))
			}
			next.ServeHTTP(w, req)
		})
	})
	for _, register := range registrars {
		register(r)
	}
	return r
}

func serveAdmin(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdminCancelWithoutBodyUsesActor(t *testing.T) {
	var received services.OrderActionCommand
	orders := &stubOrderService{cancelFn: func(_ context.Context, cmd services.OrderActionCommand) (services.Order, error) {
		received = cmd
		order := sampleOrder()
		order.Status = domain.OrderStatusCancelled
		return order, nil
	}}
	h := NewAdminOrderHandlers(&stubCheckoutService{}, orders, karachi)
	router := adminRouter(&auth.Identity{UID: "admin_1", Roles: []string{auth.RoleAdmin}}, h.Routes)

	rr := serveAdmin(router, http.MethodPost, "/orders/ord_1:cancel", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.OrderID != "ord_1" || received.ActorID != "admin_1" || received.Reason != "" {
		t.Fatalf("unexpected command %+v", received)
	}
	resp := decodeBody(t, rr)
	if resp["status"] != "Cancelled" || resp["paymentReference"] != "sp_ref_1" {
		t.Fatalf("expected admin payload with payment reference, got %v", resp)
	}
}

func TestAdminCancelPassesReason(t *testing.T) {
	var received services.OrderActionCommand
	orders := &stubOrderService{cancelFn: func(_ context.Context, cmd services.OrderActionCommand) (services.Order, error) {
		received = cmd
		return sampleOrder(), nil
	}}
	router := adminRouter(nil, NewAdminOrderHandlers(nil, orders, nil).Routes)

	rr := serveAdmin(router, http.MethodPost, "/orders/ord_1:cancel", `{"reason":" customer request "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if received.Reason != "customer request" {
		t.Fatalf("expected trimmed reason, got %q", received.Reason)
	}
}

func TestAdminCancelInvalidStateIsConflict(t *testing.T) {
	orders := &stubOrderService{cancelFn: func(context.Context, services.OrderActionCommand) (services.Order, error) {
		return services.Order{}, services.ErrOrderInvalidState
	}}
	router := adminRouter(nil, NewAdminOrderHandlers(nil, orders, nil).Routes)

	rr := serveAdmin(router, http.MethodPost, "/orders/ord_1:cancel", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := decodeBody(t, rr)["error"]; code != "invalid_state" {
		t.Fatalf("expected invalid_state, got %v", code)
	}
}

func TestAdminArchiveRequiresFlag(t *testing.T) {
	orders := &stubOrderService{archivedFn: func(context.Context, services.SetArchivedCommand) (services.Order, error) {
		t.Fatalf("service must not be called")
		return services.Order{}, nil
	}}
	router := adminRouter(nil, NewAdminOrderHandlers(nil, orders, nil).Routes)

	if rr := serveAdmin(router, http.MethodPut, "/orders/ord_1/archive", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminSetStatusForwardsCommand(t *testing.T) {
	var received services.SetOrderStatusCommand
	orders := &stubOrderService{statusFn: func(_ context.Context, cmd services.SetOrderStatusCommand) (services.Order, error) {
		received = cmd
		return sampleOrder(), nil
	}}
	router := adminRouter(&auth.Identity{UID: "staff_1"}, NewAdminOrderHandlers(nil, orders, nil).Routes)

	rr := serveAdmin(router, http.MethodPut, "/orders/ord_1/status", `{"status":"Shipped"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.Status != domain.OrderStatusShipped || received.ActorID != "staff_1" {
		t.Fatalf("unexpected command %+v", received)
	}
}

func TestAdminListOrdersParsesFilters(t *testing.T) {
	orders := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		if len(filter.Statuses) != 2 || filter.Statuses[0] != domain.OrderStatusPending || filter.Statuses[1] != domain.OrderStatusShipped {
			t.Fatalf("unexpected statuses %v", filter.Statuses)
		}
		if filter.Archived == nil || *filter.Archived {
			t.Fatalf("expected archived=false filter")
		}
		wantFrom := time.Date(2026, 3, 1, 0, 0, 0, 0, karachi)
		wantTo := time.Date(2026, 3, 31, 23, 59, 59, 999999999, karachi)
		if filter.DateRange.From == nil || !filter.DateRange.From.Equal(wantFrom) {
			t.Fatalf("unexpected from %v", filter.DateRange.From)
		}
		if filter.DateRange.To == nil || !filter.DateRange.To.Equal(wantTo) {
			t.Fatalf("unexpected to %v", filter.DateRange.To)
		}
		return domain.CursorPage[services.Order]{}, nil
	}}
	router := adminRouter(nil, NewAdminOrderHandlers(nil, orders, karachi).Routes)

	rr := serveAdmin(router, http.MethodGet, "/orders?status=Pending,Shipped&archived=false&from=2026-03-01&to=2026-03-31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr = serveAdmin(router, http.MethodGet, "/orders?from=03/01/2026", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rr.Code)
	}
}

func TestAdminOrdersUnavailableWithoutService(t *testing.T) {
	router := adminRouter(nil, NewAdminOrderHandlers(nil, nil, nil).Routes)

	if rr := serveAdmin(router, http.MethodGet, "/orders", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestAdminAnalyticsEndDateIsInclusive(t *testing.T) {
	var received services.ReportRange
	analytics := &stubAnalyticsService{reportFn: func(_ context.Context, rng services.ReportRange) (services.ProfitReport, error) {
		received = rng
		return services.ProfitReport{StartDate: rng.Start, EndDate: rng.End, OrdersCount: 3}, nil
	}}
	router := adminRouter(nil, NewAdminFinanceHandlers(nil, nil, analytics, karachi).Routes)

	rr := serveAdmin(router, http.MethodGet, "/analytics?startDate=2026-02-01&endDate=2026-02-28", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !received.Start.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, karachi)) || !received.End.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, karachi)) {
		t.Fatalf("unexpected range %+v", received)
	}
	resp := decodeBody(t, rr)
	if resp["startDate"] != "2026-02-01" || resp["endDate"] != "2026-02-28" {
		t.Fatalf("expected inclusive dates echoed back, got %v..%v", resp["startDate"], resp["endDate"])
	}
}

func TestAdminAnalyticsRejectsBadRanges(t *testing.T) {
	analytics := &stubAnalyticsService{reportFn: func(context.Context, services.ReportRange) (services.ProfitReport, error) {
		t.Fatalf("service must not be called")
		return services.ProfitReport{}, nil
	}}
	router := adminRouter(nil, NewAdminFinanceHandlers(nil, nil, analytics, nil).Routes)

	for _, query := range []string{
		"?startDate=2026-02-01",
		"?startDate=2026-02-10&endDate=2026-02-01",
		"?startDate=Feb&endDate=2026-02-01",
	} {
		if rr := serveAdmin(router, http.MethodGet, "/analytics"+query, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestAdminCustomersDefaultsLimit(t *testing.T) {
	analytics := &stubAnalyticsService{customersFn: func(_ context.Context, query services.CustomerQuery) ([]services.CustomerSummary, error) {
		if query.Limit != defaultCustomerLimit || query.Range != nil {
			t.Fatalf("unexpected query %+v", query)
		}
		return nil, nil
	}}
	router := adminRouter(nil, NewAdminFinanceHandlers(nil, nil, analytics, nil).Routes)

	rr := serveAdmin(router, http.MethodGet, "/customers", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	items, ok := decodeBody(t, rr)["items"].([]any)
	if !ok || len(items) != 0 {
		t.Fatalf("expected empty items array")
	}
}

func TestAdminSettingsSections(t *testing.T) {
	var received services.ShippingConfig
	settings := &stubSettingsService{shippingFn: func(_ context.Context, cfg services.ShippingConfig) (services.Settings, error) {
		received = cfg
		return services.Settings{Shipping: cfg}, nil
	}}
	router := adminRouter(nil, NewAdminFinanceHandlers(nil, settings, nil, nil).Routes)

	rr := serveAdmin(router, http.MethodPut, "/settings/shipping", `{"standardRate":250,"freeShippingThreshold":5000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.StandardRate != 250 || received.FreeShippingThreshold != 5000 {
		t.Fatalf("unexpected shipping config %+v", received)
	}
	if _, ok := decodeBody(t, rr)["subscribeConfig"]; !ok {
		t.Fatalf("admin settings payload should include the subscribe section")
	}

	if rr := serveAdmin(router, http.MethodPut, "/settings/payments", `{}`); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown section, got %d", rr.Code)
	}
}

func TestAdminSetStockRequiresValue(t *testing.T) {
	var received services.SetStockCommand
	inventory := &stubInventoryService{setStockFn: func(_ context.Context, cmd services.SetStockCommand) (services.Product, error) {
		received = cmd
		return services.Product{ID: cmd.ProductID, Stock: cmd.Stock}, nil
	}}
	router := adminRouter(nil, NewAdminCatalogHandlers(nil, inventory, nil).Routes)

	if rr := serveAdmin(router, http.MethodPut, "/products/prod_oud/stock", `{"variantId":"50ml"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without stock, got %d", rr.Code)
	}
	rr := serveAdmin(router, http.MethodPut, "/products/prod_oud/stock", `{"variantId":"50ml","stock":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if received.ProductID != "prod_oud" || received.VariantID != "50ml" || received.Stock != 0 {
		t.Fatalf("unexpected command %+v", received)
	}
}

func TestStorefrontProductFallsBackToID(t *testing.T) {
	cost := int64(900)
	catalog := &stubCatalogService{
		bySlugFn: func(context.Context, string) (services.Product, error) {
			return services.Product{}, services.ErrCatalogNotFound
		},
		byIDFn: func(_ context.Context, id string) (services.Product, error) {
			switch id {
			case "prod_oud":
				return services.Product{ID: id, Slug: "oud-royale", Price: 1500, CostPerItem: &cost, IsPublished: true}, nil
			case "prod_draft":
				return services.Product{ID: id, IsPublished: false}, nil
			}
			return services.Product{}, services.ErrCatalogNotFound
		},
	}
	router := adminRouter(nil, NewCatalogHandlers(catalog, nil).Routes)

	rr := serveAdmin(router, http.MethodGet, "/products/prod_oud", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decodeBody(t, rr)
	if resp["slug"] != "oud-royale" {
		t.Fatalf("unexpected product %v", resp)
	}
	if _, leaked := resp["costPerItem"]; leaked {
		t.Fatalf("storefront product must not expose cost")
	}

	if rr := serveAdmin(router, http.MethodGet, "/products/prod_draft", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unpublished product, got %d", rr.Code)
	}
	if rr := serveAdmin(router, http.MethodGet, "/products/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", rr.Code)
	}
}
