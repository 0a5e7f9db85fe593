package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const reviewsCollection = "reviews"

// ReviewRepository persists product reviews.
type ReviewRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[reviewDocument]
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewsCollection, nil)
	return &ReviewRepository{provider: provider, base: base}, nil
}

func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	return r.base.Create(ctx, review.ID, encodeReview(review))
}

func (r *ReviewRepository) UpdateStatus(ctx context.Context, reviewID string, status domain.ReviewStatus, updatedAt time.Time) (domain.Review, error) {
	if err := r.base.Update(ctx, reviewID, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}); err != nil {
		return domain.Review{}, err
	}
	return r.FindByID(ctx, reviewID)
}

func (r *ReviewRepository) Delete(ctx context.Context, reviewID string) error {
	return r.base.Delete(ctx, reviewID)
}

func (r *ReviewRepository) FindByID(ctx context.Context, reviewID string) (domain.Review, error) {
	doc, err := r.base.Get(ctx, reviewID)
	if err != nil {
		return domain.Review{}, err
	}
	return decodeReview(doc.ID, doc.Data), nil
}

func (r *ReviewRepository) List(ctx context.Context, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
	statuses := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		statuses = append(statuses, string(status))
	}
	var fetch int
	var pageErr error
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ProductID != "" {
			q = q.Where("productId", "==", filter.ProductID)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		q, fetch, pageErr = newestFirst(q, filter.Pagination)
		return q
	})
	if pageErr != nil {
		return domain.CursorPage[domain.Review]{}, pageErr
	}
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}
	return pageOf(docs, fetch, func(d reviewDocument) time.Time { return d.CreatedAt }, decodeReview)
}

type reviewDocument struct {
	ProductID string    `firestore:"productId"`
	UserID    string    `firestore:"userId"`
	OrderID   *string   `firestore:"orderId"`
	Rating    int       `firestore:"rating"`
	Title     string    `firestore:"title"`
	Body      string    `firestore:"body"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeReview(r domain.Review) reviewDocument {
	return reviewDocument{
		ProductID: r.ProductID,
		UserID:    r.UserID,
		OrderID:   r.OrderID,
		Rating:    r.Rating,
		Title:     r.Title,
		Body:      r.Body,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

func decodeReview(id string, d reviewDocument) domain.Review {
	return domain.Review{
		ID:        id,
		ProductID: d.ProductID,
		UserID:    d.UserID,
		OrderID:   d.OrderID,
		Rating:    d.Rating,
		Title:     d.Title,
		Body:      d.Body,
		Status:    domain.ReviewStatus(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
