package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/services"
)

const defaultLowStockThreshold = 5

// AdminCatalogHandlers manage products, categories, stock levels and coupons.
type AdminCatalogHandlers struct {
	catalog   services.CatalogService
	inventory services.InventoryService
	coupons   services.CouponService
}

func NewAdminCatalogHandlers(catalog services.CatalogService, inventory services.InventoryService, coupons services.CouponService) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{catalog: catalog, inventory: inventory, coupons: coupons}
}

// Routes registers the catalog administration endpoints under /admin.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products:low-stock", h.listLowStock)
	r.Get("/products/{productID}", h.getProduct)
	r.Put("/products/{productID}", h.updateProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Put("/products/{productID}/stock", h.setStock)
	r.Post("/products/{productID}/images:upload-url", h.imageUploadURL)

	r.Get("/categories", h.listCategories)
	r.Post("/categories", h.createCategory)
	r.Put("/categories/{categoryID}", h.updateCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)

	r.Get("/coupons", h.listCoupons)
	r.Post("/coupons", h.createCoupon)
	r.Get("/coupons/{code}", h.getCoupon)
	r.Put("/coupons/{code}", h.updateCoupon)
	r.Delete("/coupons/{code}", h.deleteCoupon)
}

type variantRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	CostPerItem *int64 `json:"costPerItem"`
}

type productRequest struct {
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Description string           `json:"description"`
	Price       int64            `json:"price"`
	CostPerItem *int64           `json:"costPerItem"`
	Stock       int              `json:"stock"`
	CategoryID  string           `json:"category"`
	SubCategory string           `json:"subCategory"`
	FragranceID *string          `json:"fragrance"`
	FormatID    *string          `json:"format"`
	Images      []string         `json:"images"`
	Variants    []variantRequest `json:"variants"`
	IsPublished bool             `json:"isPublished"`
}

func (p productRequest) toCommand(productID string) services.UpsertProductCommand {
	cmd := services.UpsertProductCommand{
		ProductID:   productID,
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Price:       p.Price,
		CostPerItem: p.CostPerItem,
		Stock:       p.Stock,
		CategoryID:  strings.TrimSpace(p.CategoryID),
		SubCategory: strings.TrimSpace(p.SubCategory),
		FragranceID: p.FragranceID,
		FormatID:    p.FormatID,
		Images:      p.Images,
		IsPublished: p.IsPublished,
	}
	for _, v := range p.Variants {
		cmd.Variants = append(cmd.Variants, services.ProductVariant{
			ID:          strings.TrimSpace(v.ID),
			Name:        v.Name,
			Price:       v.Price,
			Stock:       v.Stock,
			CostPerItem: v.CostPerItem,
		})
	}
	return cmd
}

func (h *AdminCatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
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
		CategoryID:  strings.TrimSpace(query.Get("category")),
		SubCategory: strings.TrimSpace(query.Get("subCategory")),
		Pagination:  pager,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	resp := productListResponse{Items: make([]productPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, product := range page.Items {
		resp.Items = append(resp.Items, buildProductPayload(product, true))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminCatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	product, err := h.catalog.CreateProduct(ctx, req.toCommand(""))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildProductPayload(product, true))
}

func (h *AdminCatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product, true))
}

func (h *AdminCatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	var req productRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	product, err := h.catalog.UpdateProduct(ctx, req.toCommand(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product, true))
}

func (h *AdminCatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	if err := h.catalog.DeleteProduct(ctx, chi.URLParam(r, "productID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setStockRequest struct {
	VariantID string `json:"variantId"`
	Stock     *int   `json:"stock"`
}

func (h *AdminCatalogHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("inventory"))
		return
	}
	var req setStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if req.Stock == nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("stock is required"))
		return
	}
	product, err := h.inventory.SetStock(ctx, services.SetStockCommand{
		ProductID: chi.URLParam(r, "productID"),
		VariantID: strings.TrimSpace(req.VariantID),
		Stock:     *req.Stock,
		ActorID:   actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product, true))
}

func (h *AdminCatalogHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("inventory"))
		return
	}
	threshold := defaultLowStockThreshold
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.BadRequest("threshold must be a non-negative integer"))
			return
		}
		threshold = parsed
	}
	products, err := h.inventory.ListLowStock(ctx, threshold)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product, true))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"threshold": threshold, "items": items})
}

type imageUploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type imageUploadResponse struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	ObjectURL string            `json:"objectUrl"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt string            `json:"expiresAt"`
}

func (h *AdminCatalogHandlers) imageUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	var req imageUploadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	upload, err := h.catalog.ProductImageUploadURL(ctx, services.ProductImageUploadCommand{
		ProductID:   chi.URLParam(r, "productID"),
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, imageUploadResponse{
		URL:       upload.URL,
		Method:    upload.Method,
		ObjectURL: upload.ObjectURL,
		Headers:   upload.Headers,
		ExpiresAt: formatTime(upload.ExpiresAt),
	})
}

type categoryRequest struct {
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	SubCategories []string `json:"subCategories"`
}

func (h *AdminCatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
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

func (h *AdminCatalogHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	h.upsertCategory(w, r, "")
}

func (h *AdminCatalogHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	h.upsertCategory(w, r, chi.URLParam(r, "categoryID"))
}

func (h *AdminCatalogHandlers) upsertCategory(w http.ResponseWriter, r *http.Request, categoryID string) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cmd := services.UpsertCategoryCommand{
		CategoryID:    categoryID,
		Name:          req.Name,
		Slug:          req.Slug,
		SubCategories: req.SubCategories,
	}
	var (
		category services.Category
		err      error
		status   = http.StatusOK
	)
	if categoryID == "" {
		category, err = h.catalog.CreateCategory(ctx, cmd)
		status = http.StatusCreated
	} else {
		category, err = h.catalog.UpdateCategory(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, categoryPayloadFrom(category))
}

func (h *AdminCatalogHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("catalog"))
		return
	}
	if err := h.catalog.DeleteCategory(ctx, chi.URLParam(r, "categoryID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type couponRequest struct {
	Code           string `json:"code"`
	Description    string `json:"description"`
	DiscountType   string `json:"discountType"`
	DiscountValue  int64  `json:"discountValue"`
	IsActive       *bool  `json:"isActive"`
	StartDate      string `json:"startDate"`
	ExpiryDate     string `json:"expiryDate"`
	UsageLimit     *int   `json:"usageLimit"`
	MaxUsesPerUser int    `json:"maxUsesPerUser"`
}

func (c couponRequest) toCommand(code string) (services.UpsertCouponCommand, error) {
	start, err := parseOptionalTime(c.StartDate, "startDate")
	if err != nil {
		return services.UpsertCouponCommand{}, err
	}
	expiry, err := parseOptionalTime(c.ExpiryDate, "expiryDate")
	if err != nil {
		return services.UpsertCouponCommand{}, err
	}
	if code == "" {
		code = c.Code
	}
	active := true
	if c.IsActive != nil {
		active = *c.IsActive
	}
	return services.UpsertCouponCommand{
		Code:           code,
		Description:    c.Description,
		DiscountType:   domain.DiscountType(strings.ToLower(strings.TrimSpace(c.DiscountType))),
		DiscountValue:  c.DiscountValue,
		IsActive:       active,
		StartDate:      start,
		ExpiryDate:     expiry,
		UsageLimit:     c.UsageLimit,
		MaxUsesPerUser: c.MaxUsesPerUser,
	}, nil
}

func (h *AdminCatalogHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("coupon"))
		return
	}
	coupons, err := h.coupons.ListCoupons(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]couponPayload, 0, len(coupons))
	for _, coupon := range coupons {
		items = append(items, couponPayloadFrom(coupon))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *AdminCatalogHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("coupon"))
		return
	}
	coupon, err := h.coupons.GetCoupon(ctx, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, couponPayloadFrom(coupon))
}

func (h *AdminCatalogHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	h.upsertCoupon(w, r, "")
}

func (h *AdminCatalogHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	h.upsertCoupon(w, r, chi.URLParam(r, "code"))
}

func (h *AdminCatalogHandlers) upsertCoupon(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("coupon"))
		return
	}
	var req couponRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	cmd, err := req.toCommand(code)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	var (
		coupon services.Coupon
		status = http.StatusOK
	)
	if code == "" {
		coupon, err = h.coupons.CreateCoupon(ctx, cmd)
		status = http.StatusCreated
	} else {
		coupon, err = h.coupons.UpdateCoupon(ctx, cmd)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, couponPayloadFrom(coupon))
}

func (h *AdminCatalogHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("coupon"))
		return
	}
	if err := h.coupons.DeleteCoupon(ctx, chi.URLParam(r, "code")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseOptionalTime accepts RFC 3339 timestamps or plain YYYY-MM-DD dates (UTC midnight).
func parseOptionalTime(raw, field string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, httpx.BadRequest(field + " must be an RFC 3339 timestamp or YYYY-MM-DD")
	}
	return &t, nil
}
