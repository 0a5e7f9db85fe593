package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/platform/textutil"
	"github.com/attarhouse/storefront/internal/repositories"
)

const subscribersCollection = "subscribers"

// SubscriberRepository keys subscribers by a hash of their normalised email so that a second
// sign-up with the same address collides on Create.
type SubscriberRepository struct {
	base *pfirestore.BaseRepository[subscriberDocument]
}

var _ repositories.SubscriberRepository = (*SubscriberRepository)(nil)

func NewSubscriberRepository(provider *pfirestore.Provider) (*SubscriberRepository, error) {
	if provider == nil {
		return nil, errors.New("subscriber repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[subscriberDocument](provider, subscribersCollection, nil)
	return &SubscriberRepository{base: base}, nil
}

func (r *SubscriberRepository) Insert(ctx context.Context, subscriber domain.Subscriber) error {
	return r.base.Create(ctx, subscriberKey(subscriber.Email), subscriberDocument{
		ID:         subscriber.ID,
		Email:      subscriber.Email,
		CouponCode: subscriber.CouponCode,
		CreatedAt:  subscriber.CreatedAt.UTC(),
	})
}

func (r *SubscriberRepository) FindByEmail(ctx context.Context, email string) (domain.Subscriber, error) {
	doc, err := r.base.Get(ctx, subscriberKey(email))
	if err != nil {
		return domain.Subscriber{}, err
	}
	return domain.Subscriber{
		ID:         doc.Data.ID,
		Email:      doc.Data.Email,
		CouponCode: doc.Data.CouponCode,
		CreatedAt:  doc.Data.CreatedAt,
	}, nil
}

func subscriberKey(email string) string {
	sum := sha256.Sum256([]byte(textutil.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

type subscriberDocument struct {
	ID         string    `firestore:"id"`
	Email      string    `firestore:"email"`
	CouponCode *string   `firestore:"couponCode"`
	CreatedAt  time.Time `firestore:"createdAt"`
}
