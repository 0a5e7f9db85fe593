package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/attarhouse/storefront/internal/platform/auth"
	"github.com/attarhouse/storefront/internal/platform/httpx"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/services"
)

// ReviewHandlers expose product reviews to shoppers and the moderation queue to admins.
type ReviewHandlers struct {
	authn   *auth.Authenticator
	reviews services.ReviewService
}

func NewReviewHandlers(authn *auth.Authenticator, reviews services.ReviewService) *ReviewHandlers {
	return &ReviewHandlers{authn: authn, reviews: reviews}
}

// Routes registers the public listing and the authenticated submission endpoint.
func (h *ReviewHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products/{productID}/reviews", h.listProductReviews)
	if h.authn != nil {
		r.With(h.authn.RequireFirebaseAuth()).Post("/products/{productID}/reviews", h.createReview)
	} else {
		r.Post("/products/{productID}/reviews", h.createReview)
	}
}

// AdminRoutes registers moderation endpoints under /admin.
func (h *ReviewHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/reviews", h.listReviews)
	r.Put("/reviews/{reviewID}:moderate", h.moderateReview)
	r.Delete("/reviews/{reviewID}", h.deleteReview)
}

func (h *ReviewHandlers) listProductReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("review"))
		return
	}
	pager, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.reviews.ListProductReviews(ctx, chi.URLParam(r, "productID"), pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReviewList(page, false))
}

type createReviewRequest struct {
	OrderID string `json:"orderId"`
	Rating  int    `json:"rating"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}

func (h *ReviewHandlers) createReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("review"))
		return
	}
	uid := auth.UserID(ctx)
	if uid == "" {
		httpx.WriteError(ctx, w, unauthenticated())
		return
	}
	var req createReviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	review, err := h.reviews.Create(ctx, services.CreateReviewCommand{
		ProductID: chi.URLParam(r, "productID"),
		UserID:    uid,
		OrderID:   strings.TrimSpace(req.OrderID),
		Rating:    req.Rating,
		Title:     req.Title,
		Body:      req.Body,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, reviewPayloadFrom(review, false))
}

func (h *ReviewHandlers) listReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("review"))
		return
	}
	query := r.URL.Query()
	pager, err := pagination.Parse(query)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	filter := services.ReviewListFilter{
		ProductID:  strings.TrimSpace(query.Get("productId")),
		Pagination: pager,
	}
	for _, status := range splitCSV(query["status"]) {
		filter.Status = append(filter.Status, services.ReviewStatus(strings.ToLower(status)))
	}
	page, err := h.reviews.ListReviews(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildReviewList(page, true))
}

type moderateReviewRequest struct {
	Action string `json:"action"`
}

func (h *ReviewHandlers) moderateReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("review"))
		return
	}
	var req moderateReviewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	review, err := h.reviews.Moderate(ctx, services.ModerateReviewCommand{
		ReviewID: chi.URLParam(r, "reviewID"),
		Action:   req.Action,
		ActorID:  actorID(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reviewPayloadFrom(review, true))
}

func (h *ReviewHandlers) deleteReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reviews == nil {
		httpx.WriteError(ctx, w, serviceUnavailable("review"))
		return
	}
	if err := h.reviews.Delete(ctx, chi.URLParam(r, "reviewID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// splitCSV flattens repeated and comma-separated query values.
func splitCSV(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
