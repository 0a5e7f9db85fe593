package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	couponsCollection     = "coupons"
	couponUsageCollection = "usage"
)

// CouponRepository stores coupons keyed by code with per-user redemption counts in a usage
// subcollection.
type CouponRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[couponDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil)
	return &CouponRepository{provider: provider, base: base}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	return r.base.Create(ctx, coupon.Code, encodeCoupon(coupon))
}

// Update replaces the definition but keeps the stored usedCount.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, coupon.Code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		existing, err := r.base.Decode(snap)
		if err != nil {
			return err
		}
		doc := encodeCoupon(coupon)
		doc.UsedCount = existing.UsedCount
		return tx.Set(ref, doc)
	})
}

// Delete removes the coupon and its usage records.
func (r *CouponRepository) Delete(ctx context.Context, code string) error {
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return err
	}
	usage, err := ref.Collection(couponUsageCollection).DocumentRefs(ctx).GetAll()
	if err != nil {
		return pfirestore.WrapError("coupons.delete", err)
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	bw := client.BulkWriter(ctx)
	for _, doc := range usage {
		if _, err := bw.Delete(doc); err != nil {
			bw.End()
			return pfirestore.WrapError("coupons.delete", err)
		}
	}
	bw.End()
	return r.base.Delete(ctx, code)
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	doc, err := r.base.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCoupon(doc.ID, doc.Data), nil
}

func (r *CouponRepository) List(ctx context.Context) ([]domain.Coupon, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		result = append(result, decodeCoupon(doc.ID, doc.Data))
	}
	return result, nil
}

func (r *CouponRepository) UserUsage(ctx context.Context, code, userID string) (int, error) {
	ref, err := r.usageRef(ctx, code, userID)
	if err != nil {
		return 0, err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, pfirestore.WrapError("coupons.user_usage", err)
	}
	var usage couponUsageDocument
	if err := snap.DataTo(&usage); err != nil {
		return 0, fmt.Errorf("decode coupon usage %s/%s: %w", code, userID, err)
	}
	return usage.Count, nil
}

// Redeem re-reads the coupon and the user's usage inside a transaction, checks activity, window
// and limits, then increments both counters.
func (r *CouponRepository) Redeem(ctx context.Context, req repositories.CouponRedemption) (domain.Coupon, error) {
	var redeemed domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, req.Code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NewCouponError(repositories.CouponErrorNotFound, "coupon not found")
		}
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return err
		}
		coupon := decodeCoupon(req.Code, doc)

		var usageRef *firestore.DocumentRef
		usage := couponUsageDocument{UserID: req.UserID}
		if req.UserID != "" {
			usageRef = ref.Collection(couponUsageCollection).Doc(req.UserID)
			usageSnap, err := tx.Get(usageRef)
			switch {
			case status.Code(err) == codes.NotFound:
			case err != nil:
				return err
			default:
				if err := usageSnap.DataTo(&usage); err != nil {
					return err
				}
			}
		}

		if !coupon.IsActive {
			return repositories.NewCouponError(repositories.CouponErrorInactive, "coupon inactive")
		}
		if !repositories.CouponInWindow(coupon, req.Now) {
			return repositories.NewCouponError(repositories.CouponErrorInactive, "coupon outside validity window")
		}
		if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
			return repositories.NewCouponError(repositories.CouponErrorLimitReached, "usage limit reached")
		}
		if usageRef != nil && coupon.PerUserLimited() && usage.Count >= coupon.MaxUsesPerUser {
			return repositories.NewCouponError(repositories.CouponErrorLimitReached, "per-user limit reached")
		}

		now := req.Now.UTC()
		coupon.UsedCount++
		coupon.UpdatedAt = now
		if err := tx.Update(ref, []firestore.Update{
			{Path: "usedCount", Value: coupon.UsedCount},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if usageRef != nil {
			usage.Count++
			usage.LastOrderID = req.OrderID
			usage.UpdatedAt = now
			if err := tx.Set(usageRef, usage); err != nil {
				return err
			}
		}
		redeemed = coupon
		return nil
	})
	if err != nil {
		return domain.Coupon{}, unwrapCouponError("coupons.redeem", err)
	}
	return redeemed, nil
}

// Release decrements the counters, never below zero.
func (r *CouponRepository) Release(ctx context.Context, req repositories.CouponRedemption) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, req.Code)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return err
		}

		var usageRef *firestore.DocumentRef
		var usage couponUsageDocument
		if req.UserID != "" {
			usageRef = ref.Collection(couponUsageCollection).Doc(req.UserID)
			usageSnap, err := tx.Get(usageRef)
			switch {
			case status.Code(err) == codes.NotFound:
				usageRef = nil
			case err != nil:
				return err
			default:
				if err := usageSnap.DataTo(&usage); err != nil {
					return err
				}
			}
		}

		now := req.Now.UTC()
		if doc.UsedCount > 0 {
			doc.UsedCount--
		}
		if err := tx.Update(ref, []firestore.Update{
			{Path: "usedCount", Value: doc.UsedCount},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
		if usageRef != nil && usage.Count > 0 {
			return tx.Update(usageRef, []firestore.Update{
				{Path: "count", Value: usage.Count - 1},
				{Path: "updatedAt", Value: now},
			})
		}
		return nil
	})
}

func (r *CouponRepository) usageRef(ctx context.Context, code, userID string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("coupon repository: user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, code)
	if err != nil {
		return nil, err
	}
	return ref.Collection(couponUsageCollection).Doc(userID), nil
}

func unwrapCouponError(op string, err error) error {
	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		couponErr.Op = op
		return couponErr
	}
	return err
}

type couponDocument struct {
	Description    string     `firestore:"description"`
	DiscountType   string     `firestore:"discountType"`
	DiscountValue  int64      `firestore:"discountValue"`
	IsActive       bool       `firestore:"isActive"`
	StartDate      *time.Time `firestore:"startDate"`
	ExpiryDate     *time.Time `firestore:"expiryDate"`
	UsageLimit     *int       `firestore:"usageLimit"`
	MaxUsesPerUser int        `firestore:"maxUsesPerUser"`
	UsedCount      int        `firestore:"usedCount"`
	CreatedAt      time.Time  `firestore:"createdAt"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

type couponUsageDocument struct {
	UserID      string    `firestore:"userId"`
	Count       int       `firestore:"count"`
	LastOrderID string    `firestore:"lastOrderId"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func encodeCoupon(c domain.Coupon) couponDocument {
	return couponDocument{
		Description:    c.Description,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue,
		IsActive:       c.IsActive,
		StartDate:      timePtrUTC(c.StartDate),
		ExpiryDate:     timePtrUTC(c.ExpiryDate),
		UsageLimit:     c.UsageLimit,
		MaxUsesPerUser: c.MaxUsesPerUser,
		UsedCount:      c.UsedCount,
		CreatedAt:      c.CreatedAt.UTC(),
		UpdatedAt:      c.UpdatedAt.UTC(),
	}
}

func decodeCoupon(code string, d couponDocument) domain.Coupon {
	return domain.Coupon{
		Code:           code,
		Description:    d.Description,
		DiscountType:   domain.DiscountType(d.DiscountType),
		DiscountValue:  d.DiscountValue,
		IsActive:       d.IsActive,
		StartDate:      d.StartDate,
		ExpiryDate:     d.ExpiryDate,
		UsageLimit:     d.UsageLimit,
		MaxUsesPerUser: d.MaxUsesPerUser,
		UsedCount:      d.UsedCount,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}
