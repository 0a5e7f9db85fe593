package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	subscriberIDPrefix        = "sub_"
	subscriberEventCreated    = "subscriber.created"
	welcomeCouponPrefix       = "WELCOME-"
	welcomeCouponSuffixLength = 6
	welcomeCouponAttempts     = 3
)

var (
	// ErrSubscriberInvalidInput indicates a malformed email address.
	ErrSubscriberInvalidInput = errors.New("subscriber: invalid input")
)

// SubscriberServiceDeps bundles collaborators for newsletter sign-ups.
type SubscriberServiceDeps struct {
	Subscribers repositories.SubscriberRepository
	Orders      repositories.OrderRepository
	Settings    SettingsService
	Coupons     CouponService
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type subscriberService struct {
	subscribers repositories.SubscriberRepository
	orders      repositories.OrderRepository
	settings    SettingsService
	coupons     CouponService
	events      EventPublisher
	clock       func() time.Time
	newID       func() string
	logger      logFunc
}

func NewSubscriberService(deps SubscriberServiceDeps) (SubscriberService, error) {
	switch {
	case deps.Subscribers == nil:
		return nil, errors.New("subscriber service: subscriber repository is required")
	case deps.Orders == nil:
		return nil, errors.New("subscriber service: order repository is required")
	case deps.Settings == nil:
		return nil, errors.New("subscriber service: settings service is required")
	case deps.Coupons == nil:
		return nil, errors.New("subscriber service: coupon service is required")
	}
	return &subscriberService{
		subscribers: deps.Subscribers,
		orders:      deps.Orders,
		settings:    deps.Settings,
		coupons:     deps.Coupons,
		events:      deps.Events,
		clock:       utcClock(deps.Clock),
		newID:       ulidGenerator(deps.IDGenerator),
		logger:      loggerOrNoop(deps.Logger),
	}, nil
}

// Subscribe records the email once. Repeated sign-ups return the existing subscriber and never
// mint a second welcome coupon.
func (s *subscriberService) Subscribe(ctx context.Context, cmd SubscribeCommand) (SubscribeResult, error) {
	email, err := normalizeSubscriberEmail(cmd.Email)
	if err != nil {
		return SubscribeResult{}, err
	}

	if existing, err := s.subscribers.FindByEmail(ctx, email); err == nil {
		return SubscribeResult{Subscriber: existing}, nil
	} else if !isRepositoryNotFound(err) {
		return SubscribeResult{}, err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return SubscribeResult{}, err
	}

	now := s.clock()
	subscriber := Subscriber{
		ID:        subscriberIDPrefix + s.newID(),
		Email:     email,
		CreatedAt: now,
	}

	var coupon *Coupon
	eligible, err := s.eligibleForCoupon(ctx, settings.Subscribe, email)
	if err != nil {
		return SubscribeResult{}, err
	}
	if eligible {
		issued, err := s.issueWelcomeCoupon(ctx, settings.Subscribe)
		if err != nil {
			return SubscribeResult{}, err
		}
		coupon = &issued
		subscriber.CouponCode = valuePtr(issued.Code)
	}

	if err := s.subscribers.Insert(ctx, subscriber); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			// Lost a race with a concurrent sign-up for the same email.
			s.discardCoupon(ctx, coupon)
			existing, findErr := s.subscribers.FindByEmail(ctx, email)
			if findErr != nil {
				return SubscribeResult{}, findErr
			}
			return SubscribeResult{Subscriber: existing}, nil
		}
		s.discardCoupon(ctx, coupon)
		return SubscribeResult{}, err
	}

	data := map[string]any{"email": email}
	if coupon != nil {
		data["couponCode"] = coupon.Code
	}
	publishEvent(ctx, s.events, s.logger, Event{
		Type:        subscriberEventCreated,
		AggregateID: subscriber.ID,
		OccurredAt:  now,
		Data:        data,
	})
	s.logger(ctx, "subscriber.created", map[string]any{"subscriberId": subscriber.ID, "coupon": coupon != nil})
	return SubscribeResult{Subscriber: subscriber, Coupon: coupon, Created: true}, nil
}

func (s *subscriberService) eligibleForCoupon(ctx context.Context, cfg SubscribeConfig, email string) (bool, error) {
	if !cfg.Enabled || cfg.DiscountValue <= 0 {
		return false, nil
	}
	if !cfg.NewUsersOnly {
		return true, nil
	}
	count, err := s.orders.CountByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (s *subscriberService) issueWelcomeCoupon(ctx context.Context, cfg SubscribeConfig) (Coupon, error) {
	discountType := cfg.DiscountType
	if !discountType.Valid() {
		discountType = domain.DiscountTypePercentage
	}
	var lastErr error
	for range welcomeCouponAttempts {
		coupon, err := s.coupons.CreateCoupon(ctx, UpsertCouponCommand{
			Code:           s.welcomeCode(),
			Description:    "Newsletter welcome discount",
			DiscountType:   discountType,
			DiscountValue:  cfg.DiscountValue,
			IsActive:       true,
			UsageLimit:     valuePtr(1),
			MaxUsesPerUser: 1,
		})
		if err == nil {
			return coupon, nil
		}
		if !errors.Is(err, ErrCouponConflict) {
			return Coupon{}, err
		}
		lastErr = err
	}
	return Coupon{}, fmt.Errorf("subscriber: could not allocate a welcome coupon: %w", lastErr)
}

func (s *subscriberService) welcomeCode() string {
	id := strings.ToUpper(s.newID())
	if len(id) > welcomeCouponSuffixLength {
		id = id[len(id)-welcomeCouponSuffixLength:]
	}
	return welcomeCouponPrefix + id
}

func (s *subscriberService) discardCoupon(ctx context.Context, coupon *Coupon) {
	if coupon == nil {
		return
	}
	if err := s.coupons.DeleteCoupon(ctx, coupon.Code); err != nil {
		s.logger(ctx, "subscriber.coupon.discard_failed", map[string]any{"code": coupon.Code, "error": err.Error()})
	}
}

func normalizeSubscriberEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: email is required", ErrSubscriberInvalidInput)
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", fmt.Errorf("%w: email is invalid", ErrSubscriberInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
