package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/services"
)

const defaultCustomerLimit = 100

// AdminFinanceHandlers serve expenses, runtime settings and the analytics reports.
type AdminFinanceHandlers struct {
	expenses  services.ExpenseService
	settings  services.SettingsService
	analytics services.AnalyticsService
	loc       *time.Location
}

// NewAdminFinanceHandlers constructs the finance endpoints. Report dates are read and rendered in
// loc, which must match the analytics service timezone.
func NewAdminFinanceHandlers(expenses services.ExpenseService, settings services.SettingsService, analytics services.AnalyticsService, loc *time.Location) *AdminFinanceHandlers {
	if loc == nil {
		loc = time.UTC
	}
	return &AdminFinanceHandlers{expenses: expenses, settings: settings, analytics: analytics, loc: loc}
}

// Routes registers the finance endpoints under /admin.
func (h *AdminFinanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/expenses", h.listExpenses)
	r.Get("/expenses/{month}", h.getExpense)
	r.Put("/expenses/{month}", h.upsertExpense)
	r.Delete("/expenses/{month}", h.deleteExpense)

	r.Get("/settings", h.getSettings)
	r.Put("/settings/{section}", h.updateSettings)

	r.Get("/analytics", h.report)
	r.Get("/customers", h.customers)
}

func (h *AdminFinanceHandlers) listExpenses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expenses == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("expense"))
		return
	}
	year := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2000 || parsed > 9999 {
			httpx.WriteError(ctx, w, httpx.BadRequest("year must be a four digit year"))
			return
		}
		year = parsed
	}
	expenses, err := h.expenses.List(ctx, year)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]expensePayload, 0, len(expenses))
	for _, expense := range expenses {
		items = append(items, expensePayloadFrom(expense))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminFinanceHandlers) getExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expenses == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("expense"))
		return
	}
	expense, err := h.expenses.Get(ctx, chi.URLParam(r, "month"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expensePayloadFrom(expense))
}

type expenseRequest struct {
	Advertising       int64  `json:"advertising"`
	Packaging         int64  `json:"packaging"`
	ReturnShipping    int64  `json:"returnShipping"`
	StaffSalary       int64  `json:"staffSalary"`
	Rent              int64  `json:"rent"`
	Utilities         int64  `json:"utilities"`
	Other             int64  `json:"other"`
	PackagingPerOrder int64  `json:"packagingPerOrder"`
	ShippingPerOrder  int64  `json:"shippingPerOrder"`
	Notes             string `json:"notes"`
}

func (h *AdminFinanceHandlers) upsertExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expenses == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("expense"))
		return
	}
	var req expenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	expense, err := h.expenses.Upsert(ctx, services.UpsertExpenseCommand{
		Month:             chi.URLParam(r, "month"),
		Advertising:       req.Advertising,
		Packaging:         req.Packaging,
		ReturnShipping:    req.ReturnShipping,
		StaffSalary:       req.StaffSalary,
		Rent:              req.Rent,
		Utilities:         req.Utilities,
		Other:             req.Other,
		PackagingPerOrder: req.PackagingPerOrder,
		ShippingPerOrder:  req.ShippingPerOrder,
		Notes:             req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, expensePayloadFrom(expense))
}

func (h *AdminFinanceHandlers) deleteExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.expenses == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("expense"))
		return
	}
	if err := h.expenses.Delete(ctx, chi.URLParam(r, "month")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminFinanceHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("settings"))
		return
	}
	settings, err := h.settings.Get(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSettingsPayload(settings, true))
}

func (h *AdminFinanceHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("settings"))
		return
	}
	var (
		settings services.Settings
		err      error
	)
	switch strings.ToLower(chi.URLParam(r, "section")) {
	case string(domain.SettingsKeyShipping):
		var req shippingSettingsPayload
		if err = httpx.DecodeJSON(r, &req); err == nil {
			settings, err = h.settings.UpdateShipping(ctx, services.ShippingConfig{
				StandardRate:          req.StandardRate,
				FreeShippingThreshold: req.FreeShippingThreshold,
			})
		}
	case string(domain.SettingsKeyTax):
		var req taxSettingsPayload
		if err = httpx.DecodeJSON(r, &req); err == nil {
			settings, err = h.settings.UpdateTax(ctx, services.TaxConfig{Enabled: req.Enabled, Rate: req.Rate})
		}
	case string(domain.SettingsKeySubscribe):
		var req subscribeSettingsPayload
		if err = httpx.DecodeJSON(r, &req); err == nil {
			settings, err = h.settings.UpdateSubscribe(ctx, services.SubscribeConfig{
				Enabled:       req.Enabled,
				DiscountType:  domain.DiscountType(strings.ToLower(strings.TrimSpace(req.DiscountType))),
				DiscountValue: req.DiscountValue,
				NewUsersOnly:  req.NewUsersOnly,
			})
		}
	case string(domain.SettingsKeyCoupon):
		var req couponSettingsPayload
		if err = httpx.DecodeJSON(r, &req); err == nil {
			settings, err = h.settings.UpdateCoupon(ctx, services.CouponConfig{Enabled: req.Enabled})
		}
	default:
		httpx.WriteError(ctx, w, httpx.NotFound("unknown settings section"))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSettingsPayload(settings, true))
}

func (h *AdminFinanceHandlers) report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.analytics == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("analytics"))
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	report, err := h.analytics.ComputeReport(ctx, rng)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReportPayload(report, h.loc))
}

func (h *AdminFinanceHandlers) customers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.analytics == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("analytics"))
		return
	}
	rng, err := h.parseRange(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	query := services.CustomerQuery{Limit: defaultCustomerLimit}
	if !rng.Start.IsZero() || !rng.End.IsZero() {
		query.Range = &rng
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.WriteError(ctx, w, httpx.BadRequest("limit must be a positive integer"))
			return
		}
		query.Limit = limit
	}
	customers, err := h.analytics.ListCustomers(ctx, query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]customerPayload, 0, len(customers))
	for _, customer := range customers {
		items = append(items, customerPayloadFrom(customer))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// parseRange reads startDate and endDate (YYYY-MM-DD, endDate inclusive). Both absent yields the
// zero range, which the analytics service treats as month to date.
func (h *AdminFinanceHandlers) parseRange(r *http.Request) (services.ReportRange, error) {
	query := r.URL.Query()
	rawStart := strings.TrimSpace(query.Get("startDate"))
	rawEnd := strings.TrimSpace(query.Get("endDate"))
	if rawStart == "" && rawEnd == "" {
		return services.ReportRange{}, nil
	}
	if rawStart == "" || rawEnd == "" {
		return services.ReportRange{}, httpx.BadRequest("startDate and endDate must be provided together")
	}
	start, err := time.ParseInLocation(time.DateOnly, rawStart, h.loc)
	if err != nil {
		return services.ReportRange{}, httpx.BadRequest("startDate must be YYYY-MM-DD")
	}
	end, err := time.ParseInLocation(time.DateOnly, rawEnd, h.loc)
	if err != nil {
		return services.ReportRange{}, httpx.BadRequest("endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return services.ReportRange{}, httpx.BadRequest("endDate must not be before startDate")
	}
	return services.ReportRange{Start: start, End: end.AddDate(0, 0, 1)}, nil
}
