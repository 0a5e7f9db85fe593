package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/services"
)

// CatalogHandlers serve the public product, category and storefront settings endpoints.
type CatalogHandlers struct {
	catalog  services.CatalogService
	settings services.SettingsService
}

func NewCatalogHandlers(catalog services.CatalogService, settings services.SettingsService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog, settings: settings}
}

// Routes registers the storefront catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/categories", h.listCategories)
	r.Get("/settings/storefront", h.storefrontSettings)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	query := r.URL.Query()
	pager, err := pagination.Parse(query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.catalog.ListProducts(ctx, services.ProductListFilter{
		CategoryID:    strings.TrimSpace(query.Get("category")),
		SubCategory:   strings.TrimSpace(query.Get("subCategory")),
		PublishedOnly: true,
		Pagination:    pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := productListResponse{Items: make([]productPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, product := range page.Items {
		resp.Items = append(resp.Items, buildProductPayload(product, false))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// getProduct resolves the path segment as a slug first and falls back to a product id.
func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	ref := strings.TrimSpace(chi.URLParam(r, "productID"))
	if ref == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest("product is required"))
		return
	}
	product, err := h.catalog.GetProductBySlug(ctx, ref)
	if errors.Is(err, services.ErrCatalogNotFound) {
		product, err = h.catalog.GetProduct(ctx, ref)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if !product.IsPublished {
		httpx.WriteError(ctx, w, httpx.NotFound("product not found"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product, false))
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		items = append(items, categoryPayloadFrom(category))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) storefrontSettings(w http.ResponseWriter, r *http.Request) {
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
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, buildSettingsPayload(settings, false))
}

func serviceUnavailable(name string) httpx.Error {
	return httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable)
}
