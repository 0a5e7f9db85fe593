package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/platform/textutil"
	"github.com/attarhouse/storefront/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders. Pricing fields are written once by Insert; Patch only touches
// the fields named in domain.OrderPatch.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{provider: provider, base: base}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	return r.base.Create(ctx, order.ID, encodeOrder(order))
}

// Patch applies the patch to the stored order inside a transaction and returns the result. The
// patch preconditions are checked against the snapshot read by the same transaction.
func (r *OrderRepository) Patch(ctx context.Context, orderID string, patch domain.OrderPatch) (domain.Order, error) {
	var patched domain.Order
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		order := decodeOrder(orderID, doc)
		if !patch.Matches(order) {
			return fmt.Errorf("order %s: %w", orderID, repositories.ErrStaleOrder)
		}
		patch.Apply(&order)
		if err := tx.Update(ref, patchUpdates(patch, encodeOrder(order))); err != nil {
			return err
		}
		patched = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return patched, nil
}

// patchUpdates lists only the fields the patch sets, taking their new values from the encoded
// order.
func patchUpdates(patch domain.OrderPatch, doc orderDocument) []firestore.Update {
	var updates []firestore.Update
	add := func(set bool, path string, value any) {
		if set {
			updates = append(updates, firestore.Update{Path: path, Value: value})
		}
	}
	add(patch.Status != nil, "status", doc.Status)
	add(patch.StatusChange != nil, "statusHistory", doc.StatusHistory)
	add(patch.IsPaid != nil, "isPaid", doc.IsPaid)
	add(patch.PaidAt != nil, "paidAt", doc.PaidAt)
	add(patch.PaymentReference != nil, "paymentReference", doc.PaymentReference)
	add(patch.CourierCompany != nil, "courierCompany", doc.CourierCompany)
	add(patch.TrackingID != nil, "trackingId", doc.TrackingID)
	add(patch.ShippingAddress != nil, "shippingAddress", doc.ShippingAddress)
	add(patch.ShippingAddress != nil, "emailLower", doc.EmailLower)
	add(patch.IsArchived != nil, "isArchived", doc.IsArchived)
	add(patch.StockReserved != nil, "stockReserved", doc.StockReserved)
	add(true, "updatedAt", doc.UpdatedAt)
	return updates
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.base.Delete(ctx, orderID)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	if len(statuses) > maxInValues {
		statuses = statuses[:maxInValues]
	}

	var fetch int
	var pageErr error
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if email := textutil.NormalizeEmail(filter.Email); email != "" {
			q = q.Where("emailLower", "==", email)
		}
		switch len(statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", statuses[0])
		default:
			q = q.Where("status", "in", statuses)
		}
		if filter.Archived != nil {
			q = q.Where("isArchived", "==", *filter.Archived)
		}
		if from := filter.DateRange.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.DateRange.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		q, fetch, pageErr = newestFirst(q, filter.Pagination)
		return q
	})
	if pageErr != nil {
		return domain.CursorPage[domain.Order]{}, pageErr
	}
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return pageOf(docs, fetch, func(d orderDocument) time.Time { return d.CreatedAt }, decodeOrder)
}

func (r *OrderRepository) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", ">=", from.UTC()).
			Where("createdAt", "<", to.UTC()).
			OrderBy("createdAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		result = append(result, decodeOrder(doc.ID, doc.Data))
	}
	return result, nil
}

func (r *OrderRepository) CountByEmail(ctx context.Context, email string) (int, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(ordersCollection).
		Where("emailLower", "==", textutil.NormalizeEmail(email))
	result, err := query.
		NewAggregationQuery().
		WithCount("count").
		Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count_by_email", err)
	}
	value, ok := result["count"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("orders.count_by_email: unexpected aggregation result %T", result["count"])
	}
	return int(value.GetIntegerValue()), nil
}

type orderDocument struct {
	OrderNumber      string                 `firestore:"orderNumber"`
	UserID           *string                `firestore:"userId"`
	Items            []lineItemDocument     `firestore:"items"`
	ShippingAddress  addressDocument        `firestore:"shippingAddress"`
	EmailLower       string                 `firestore:"emailLower"`
	PaymentMethod    string                 `firestore:"paymentMethod"`
	IsPaid           bool                   `firestore:"isPaid"`
	PaidAt           *time.Time             `firestore:"paidAt"`
	PaymentReference *string                `firestore:"paymentReference"`
	Status           string                 `firestore:"status"`
	Subtotal         int64                  `firestore:"subtotal"`
	Tax              int64                  `firestore:"tax"`
	ShippingCost     int64                  `firestore:"shippingCost"`
	Discount         int64                  `firestore:"discount"`
	CouponCode       *string                `firestore:"couponCode"`
	TotalAmount      int64                  `firestore:"totalAmount"`
	CourierCompany   *string                `firestore:"courierCompany"`
	TrackingID       *string                `firestore:"trackingId"`
	IsArchived       bool                   `firestore:"isArchived"`
	StockReserved    bool                   `firestore:"stockReserved"`
	Source           string                 `firestore:"source"`
	StatusHistory    []statusChangeDocument `firestore:"statusHistory"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

type lineItemDocument struct {
	ProductID   string  `firestore:"productId"`
	VariantID   *string `firestore:"variantId,omitempty"`
	Name        string  `firestore:"name"`
	Price       int64   `firestore:"price"`
	Quantity    int     `firestore:"quantity"`
	Image       string  `firestore:"image"`
	SubCategory string  `firestore:"subCategory"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Email      string `firestore:"email"`
	Phone      string `firestore:"phone"`
	Address    string `firestore:"address"`
	City       string `firestore:"city"`
	PostalCode string `firestore:"postalCode"`
}

type statusChangeDocument struct {
	From    string    `firestore:"from"`
	To      string    `firestore:"to"`
	ActorID string    `firestore:"actorId"`
	Reason  string    `firestore:"reason"`
	At      time.Time `firestore:"at"`
}

func encodeOrder(o domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, lineItemDocument{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Image:       item.Image,
			SubCategory: item.SubCategory,
		})
	}
	history := make([]statusChangeDocument, 0, len(o.StatusHistory))
	for _, change := range o.StatusHistory {
		history = append(history, statusChangeDocument{
			From:    string(change.From),
			To:      string(change.To),
			ActorID: change.ActorID,
			Reason:  change.Reason,
			At:      change.At.UTC(),
		})
	}
	return orderDocument{
		OrderNumber:      o.OrderNumber,
		UserID:           o.UserID,
		Items:            items,
		ShippingAddress:  addressDocument(o.ShippingAddress),
		EmailLower:       textutil.NormalizeEmail(o.ShippingAddress.Email),
		PaymentMethod:    string(o.PaymentMethod),
		IsPaid:           o.IsPaid,
		PaidAt:           timePtrUTC(o.PaidAt),
		PaymentReference: o.PaymentReference,
		Status:           string(o.Status),
		Subtotal:         o.Subtotal,
		Tax:              o.Tax,
		ShippingCost:     o.ShippingCost,
		Discount:         o.Discount,
		CouponCode:       o.CouponCode,
		TotalAmount:      o.TotalAmount,
		CourierCompany:   o.CourierCompany,
		TrackingID:       o.TrackingID,
		IsArchived:       o.IsArchived,
		StockReserved:    o.StockReserved,
		Source:           string(o.Source),
		StatusHistory:    history,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
}

func decodeOrder(id string, d orderDocument) domain.Order {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.LineItem{
			ProductID:   item.ProductID,
			VariantID:   item.VariantID,
			Name:        item.Name,
			Price:       item.Price,
			Quantity:    item.Quantity,
			Image:       item.Image,
			SubCategory: item.SubCategory,
		})
	}
	var history []domain.OrderStatusChange
	for _, change := range d.StatusHistory {
		history = append(history, domain.OrderStatusChange{
			From:    domain.OrderStatus(change.From),
			To:      domain.OrderStatus(change.To),
			ActorID: change.ActorID,
			Reason:  change.Reason,
			At:      change.At,
		})
	}
	return domain.Order{
		ID:               id,
		OrderNumber:      d.OrderNumber,
		UserID:           d.UserID,
		Items:            items,
		ShippingAddress:  domain.ShippingAddress(d.ShippingAddress),
		PaymentMethod:    domain.PaymentMethod(d.PaymentMethod),
		IsPaid:           d.IsPaid,
		PaidAt:           d.PaidAt,
		PaymentReference: d.PaymentReference,
		Status:           domain.OrderStatus(d.Status),
		Subtotal:         d.Subtotal,
		Tax:              d.Tax,
		ShippingCost:     d.ShippingCost,
		Discount:         d.Discount,
		CouponCode:       d.CouponCode,
		TotalAmount:      d.TotalAmount,
		CourierCompany:   d.CourierCompany,
		TrackingID:       d.TrackingID,
		IsArchived:       d.IsArchived,
		StockReserved:    d.StockReserved,
		Source:           domain.OrderSource(d.Source),
		StatusHistory:    history,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
