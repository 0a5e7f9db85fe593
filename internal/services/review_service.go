package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	reviewIDPrefix      = "rev_"
	reviewEventCreated  = "review.created"
	reviewEventApproved = "review.approved"
	reviewEventRejected = "review.rejected"

	reviewTitleMaxLength = 120
	reviewBodyMaxLength  = 4000

	// ReviewActionApprove publishes a pending review.
	ReviewActionApprove = "approve"
	// ReviewActionReject hides a review from the storefront.
	ReviewActionReject = "reject"
)

var (
	// ErrReviewInvalidInput indicates validation failures for review operations.
	ErrReviewInvalidInput = errors.New("review: invalid input")
	// ErrReviewNotFound indicates a review could not be located.
	ErrReviewNotFound = errors.New("review: not found")
	// ErrReviewInvalidState is returned when an invalid status transition is attempted.
	ErrReviewInvalidState = errors.New("review: invalid state transition")
)

// ReviewServiceDeps bundles collaborators required to construct a ReviewService.
type ReviewServiceDeps struct {
	Reviews     repositories.ReviewRepository
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type reviewService struct {
	reviews  repositories.ReviewRepository
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	events   EventPublisher
	policy   *bluemonday.Policy
	clock    func() time.Time
	newID    func() string
	logger   logFunc
}

// NewReviewService wires dependencies into a concrete ReviewService implementation. Orders is
// optional; without it an order reference on a review is stored unchecked.
func NewReviewService(deps ReviewServiceDeps) (ReviewService, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: review repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("review service: product repository is required")
	}
	return &reviewService{
		reviews:  deps.Reviews,
		products: deps.Products,
		orders:   deps.Orders,
		events:   deps.Events,
		policy:   bluemonday.StrictPolicy(),
		clock:    utcClock(deps.Clock),
		newID:    ulidGenerator(deps.IDGenerator),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *reviewService) Create(ctx context.Context, cmd CreateReviewCommand) (Review, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	userID := strings.TrimSpace(cmd.UserID)
	switch {
	case productID == "":
		return Review{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	case userID == "":
		return Review{}, fmt.Errorf("%w: user id is required", ErrReviewInvalidInput)
	case cmd.Rating < 1 || cmd.Rating > 5:
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrReviewInvalidInput)
	}

	title := s.sanitize(cmd.Title)
	body := s.sanitize(cmd.Body)
	switch {
	case body == "":
		return Review{}, fmt.Errorf("%w: review text is required", ErrReviewInvalidInput)
	case len(title) > reviewTitleMaxLength:
		return Review{}, fmt.Errorf("%w: title must be at most %d characters", ErrReviewInvalidInput, reviewTitleMaxLength)
	case len(body) > reviewBodyMaxLength:
		return Review{}, fmt.Errorf("%w: review must be at most %d characters", ErrReviewInvalidInput, reviewBodyMaxLength)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Review{}, fmt.Errorf("%w: product %s does not exist", ErrReviewInvalidInput, productID)
		}
		return Review{}, err
	}

	orderID := optionalString(cmd.OrderID)
	if orderID != nil && s.orders != nil {
		if err := s.checkOrder(ctx, *orderID, userID, productID); err != nil {
			return Review{}, err
		}
	}

	now := s.clock()
	review := Review{
		ID:        reviewIDPrefix + s.newID(),
		ProductID: productID,
		UserID:    userID,
		OrderID:   orderID,
		Rating:    cmd.Rating,
		Title:     title,
		Body:      body,
		Status:    domain.ReviewStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.reviews.Insert(ctx, review); err != nil {
		return Review{}, s.mapReviewError(err)
	}
	s.emit(ctx, reviewEventCreated, review, userID)
	return review, nil
}

// ListProductReviews returns approved reviews only.
func (s *reviewService) ListProductReviews(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[Review]{}, fmt.Errorf("%w: product id is required", ErrReviewInvalidInput)
	}
	page, err := s.reviews.List(ctx, repositories.ReviewListFilter{
		ProductID:  productID,
		Status:     []domain.ReviewStatus{domain.ReviewStatusApproved},
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

func (s *reviewService) ListReviews(ctx context.Context, filter ReviewListFilter) (domain.CursorPage[Review], error) {
	for _, status := range filter.Status {
		switch status {
		case domain.ReviewStatusPending, domain.ReviewStatusApproved, domain.ReviewStatusRejected:
		default:
			return domain.CursorPage[Review]{}, fmt.Errorf("%w: unknown status %q", ErrReviewInvalidInput, status)
		}
	}
	page, err := s.reviews.List(ctx, repositories.ReviewListFilter{
		ProductID:  strings.TrimSpace(filter.ProductID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Review]{}, s.mapReviewError(err)
	}
	return page, nil
}

// Moderate approves or rejects a review. Repeating the current decision is a no-op, and an
// approved review may later be rejected (and vice versa).
func (s *reviewService) Moderate(ctx context.Context, cmd ModerateReviewCommand) (Review, error) {
	reviewID := strings.TrimSpace(cmd.ReviewID)
	if reviewID == "" {
		return Review{}, fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	var target domain.ReviewStatus
	switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
	case ReviewActionApprove:
		target = domain.ReviewStatusApproved
	case ReviewActionReject:
		target = domain.ReviewStatusRejected
	default:
		return Review{}, fmt.Errorf("%w: unsupported moderation action %q", ErrReviewInvalidInput, cmd.Action)
	}

	review, err := s.reviews.FindByID(ctx, reviewID)
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}
	if review.Status == target {
		return review, nil
	}

	updated, err := s.reviews.UpdateStatus(ctx, reviewID, target, s.clock())
	if err != nil {
		return Review{}, s.mapReviewError(err)
	}
	eventType := reviewEventApproved
	if target == domain.ReviewStatusRejected {
		eventType = reviewEventRejected
	}
	s.emit(ctx, eventType, updated, cmd.ActorID)
	return updated, nil
}

func (s *reviewService) Delete(ctx context.Context, reviewID string) error {
	reviewID = strings.TrimSpace(reviewID)
	if reviewID == "" {
		return fmt.Errorf("%w: review id is required", ErrReviewInvalidInput)
	}
	if err := s.reviews.Delete(ctx, reviewID); err != nil {
		return s.mapReviewError(err)
	}
	s.logger(ctx, "review.deleted", map[string]any{"reviewId": reviewID})
	return nil
}

func (s *reviewService) checkOrder(ctx context.Context, orderID, userID, productID string) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: order not found", ErrReviewInvalidInput)
		}
		return err
	}
	if derefString(order.UserID) != userID {
		return fmt.Errorf("%w: order does not belong to user", ErrReviewInvalidInput)
	}
	for _, item := range order.Items {
		if item.ProductID == productID {
			return nil
		}
	}
	return fmt.Errorf("%w: order does not contain the product", ErrReviewInvalidInput)
}

// sanitize strips all markup and control characters and collapses runs of spaces while keeping
// line breaks.
func (s *reviewService) sanitize(input string) string {
	cleaned := s.policy.Sanitize(strings.TrimSpace(input))
	if cleaned == "" {
		return ""
	}
	normalized := strings.ReplaceAll(strings.ReplaceAll(cleaned, "\r\n", "\n"), "\r", "\n")
	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		line = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, line)
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *reviewService) emit(ctx context.Context, eventType string, review Review, actorID string) {
	publishEvent(ctx, s.events, s.logger, Event{
		Type:        eventType,
		AggregateID: review.ID,
		OccurredAt:  s.clock(),
		Data: map[string]any{
			"productId": review.ProductID,
			"rating":    review.Rating,
			"status":    string(review.Status),
			"actorId":   actorID,
		},
	})
}

func (s *reviewService) mapReviewError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrReviewNotFound, err)
	}
	return err
}
