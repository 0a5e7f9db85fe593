package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/repositories"
)

// CategoryRepository stores categories in memory.
type CategoryRepository struct {
	mu         sync.Mutex
	categories map[string]domain.Category
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

func NewCategoryRepository() *CategoryRepository {
	return &CategoryRepository{categories: make(map[string]domain.Category)}
}

func (r *CategoryRepository) Insert(_ context.Context, category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[category.ID]; ok {
		return conflict("category.insert", category.ID)
	}
	for _, existing := range r.categories {
		if existing.Slug == category.Slug {
			return conflict("category.insert", category.Slug)
		}
	}
	category.SubCategories = append([]string(nil), category.SubCategories...)
	r.categories[category.ID] = category
	return nil
}

func (r *CategoryRepository) Update(_ context.Context, category domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[category.ID]; !ok {
		return notFound("category.update", category.ID)
	}
	category.SubCategories = append([]string(nil), category.SubCategories...)
	r.categories[category.ID] = category
	return nil
}

func (r *CategoryRepository) Delete(_ context.Context, categoryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[categoryID]; !ok {
		return notFound("category.delete", categoryID)
	}
	delete(r.categories, categoryID)
	return nil
}

func (r *CategoryRepository) FindByID(_ context.Context, categoryID string) (domain.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	category, ok := r.categories[categoryID]
	if !ok {
		return domain.Category{}, notFound("category.get", categoryID)
	}
	category.SubCategories = append([]string(nil), category.SubCategories...)
	return category, nil
}

func (r *CategoryRepository) List(_ context.Context) ([]domain.Category, error) {
	r.mu.Lock()
	result := make([]domain.Category, 0, len(r.categories))
	for _, category := range r.categories {
		category.SubCategories = append([]string(nil), category.SubCategories...)
		result = append(result, category)
	}
	r.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// ReviewRepository stores reviews in memory.
type ReviewRepository struct {
	mu      sync.Mutex
	reviews map[string]domain.Review
}

var _ repositories.ReviewRepository = (*ReviewRepository)(nil)

func NewReviewRepository() *ReviewRepository {
	return &ReviewRepository{reviews: make(map[string]domain.Review)}
}

func (r *ReviewRepository) Insert(_ context.Context, review domain.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reviews[review.ID]; ok {
		return conflict("review.insert", review.ID)
	}
	r.reviews[review.ID] = review
	return nil
}

func (r *ReviewRepository) UpdateStatus(_ context.Context, reviewID string, status domain.ReviewStatus, updatedAt time.Time) (domain.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	review, ok := r.reviews[reviewID]
	if !ok {
		return domain.Review{}, notFound("review.updateStatus", reviewID)
	}
	review.Status = status
	review.UpdatedAt = updatedAt
	r.reviews[reviewID] = review
	return review, nil
}

func (r *ReviewRepository) Delete(_ context.Context, reviewID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reviews[reviewID]; !ok {
		return notFound("review.delete", reviewID)
	}
	delete(r.reviews, reviewID)
	return nil
}

func (r *ReviewRepository) FindByID(_ context.Context, reviewID string) (domain.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	review, ok := r.reviews[reviewID]
	if !ok {
		return domain.Review{}, notFound("review.get", reviewID)
	}
	return review, nil
}

func (r *ReviewRepository) List(_ context.Context, filter repositories.ReviewListFilter) (domain.CursorPage[domain.Review], error) {
	statuses := make(map[domain.ReviewStatus]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		statuses[status] = struct{}{}
	}
	r.mu.Lock()
	matched := make([]domain.Review, 0, len(r.reviews))
	for _, review := range r.reviews {
		if filter.ProductID != "" && review.ProductID != filter.ProductID {
			continue
		}
		if len(statuses) > 0 {
			if _, ok := statuses[review.Status]; !ok {
				continue
			}
		}
		matched = append(matched, review)
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	items, next, err := pagination.Window(matched, filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Review]{}, err
	}
	return domain.CursorPage[domain.Review]{Items: items, NextPageToken: next}, nil
}

// SubscriberRepository stores newsletter subscribers in memory keyed by email.
type SubscriberRepository struct {
	mu          sync.Mutex
	subscribers map[string]domain.Subscriber
}

var _ repositories.SubscriberRepository = (*SubscriberRepository)(nil)

func NewSubscriberRepository() *SubscriberRepository {
	return &SubscriberRepository{subscribers: make(map[string]domain.Subscriber)}
}

func (r *SubscriberRepository) Insert(_ context.Context, subscriber domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[subscriber.Email]; ok {
		return conflict("subscriber.insert", subscriber.Email)
	}
	r.subscribers[subscriber.Email] = subscriber
	return nil
}

func (r *SubscriberRepository) FindByEmail(_ context.Context, email string) (domain.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subscriber, ok := r.subscribers[email]
	if !ok {
		return domain.Subscriber{}, notFound("subscriber.get", email)
	}
	return subscriber, nil
}
