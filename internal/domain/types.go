package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is a sellable catalog entry. Price is the current list price and is only copied into
// orders at checkout time.
type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Price       int64
	CostPerItem *int64
	Stock       int
	CategoryID  string
	SubCategory string
	FragranceID *string
	FormatID    *string
	Images      []string
	Variants    []ProductVariant
	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductVariant is a size or format option carrying its own price and stock.
type ProductVariant struct {
	ID          string
	Name        string
	Price       int64
	Stock       int
	CostPerItem *int64
}

// Variant returns the variant with the given id.
func (p Product) Variant(id string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// Category groups products. SubCategories are free-form names denormalised onto products.
type Category struct {
	ID            string
	Name          string
	Slug          string
	SubCategories []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReviewStatus represents moderation state of a review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

// Review is a customer rating of a product.
type Review struct {
	ID        string
	ProductID string
	UserID    string
	OrderID   *string
	Rating    int
	Title     string
	Body      string
	Status    ReviewStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscriber is a newsletter sign-up, optionally rewarded with a welcome coupon.
type Subscriber struct {
	ID         string
	Email      string
	CouponCode *string
	CreatedAt  time.Time
}
