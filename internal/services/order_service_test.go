package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

func placeTestOrder(t *testing.T, h *storeHarness, productID string, qty int) Order {
	t.Helper()
	result, err := h.checkout.PlaceOrder(context.Background(), PlaceOrderCommand{
		UserID:          "user-1",
		Items:           []CartLine{{ProductID: productID, Quantity: qty}},
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	require.NoError(t, err)
	return result.Order
}

func TestOrderCancelThenUncancelRestoresPending(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 2)

	_, err := h.orders.SetPaid(ctx, SetOrderPaymentCommand{OrderID: order.ID, IsPaid: true, Reference: "cash-1"})
	require.NoError(t, err)
	_, err = h.orders.UpdateTracking(ctx, UpdateTrackingCommand{OrderID: order.ID, CourierCompany: "TCS", TrackingID: "TCS123"})
	require.NoError(t, err)
	require.Equal(t, 3, h.stockOf(t, "prd_oud"))

	cancelled, err := h.orders.Cancel(ctx, OrderActionCommand{OrderID: order.ID, ActorID: "admin-1", Reason: "customer request"})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.False(t, cancelled.StockReserved)
	require.Equal(t, 5, h.stockOf(t, "prd_oud"))

	restored, err := h.orders.Uncancel(ctx, OrderActionCommand{OrderID: order.ID, ActorID: "admin-1"})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, restored.Status)
	require.True(t, restored.StockReserved)
	require.Equal(t, 3, h.stockOf(t, "prd_oud"))

	require.True(t, restored.IsPaid)
	require.Equal(t, "cash-1", derefString(restored.PaymentReference))
	require.Equal(t, "TCS", derefString(restored.CourierCompany))
	require.Equal(t, "TCS123", derefString(restored.TrackingID))
	require.Equal(t, order.Totals(), restored.Totals())
	require.Len(t, restored.StatusHistory, 3)
}

func TestOrderCancelTwiceRestoresStockOnce(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 2)

	_, err := h.orders.Cancel(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	_, err = h.orders.SetStatus(ctx, SetOrderStatusCommand{OrderID: order.ID, Status: domain.OrderStatusReturned})
	require.NoError(t, err)
	require.Equal(t, 5, h.stockOf(t, "prd_oud"))
}

// barrierOrderRepo holds the first two FindByID calls until both have read the order, so two
// transitions start from the same snapshot.
type barrierOrderRepo struct {
	repositories.OrderRepository

	mu      sync.Mutex
	reads   int
	release chan struct{}
}

func newBarrierOrderRepo(inner repositories.OrderRepository) *barrierOrderRepo {
	return &barrierOrderRepo{OrderRepository: inner, release: make(chan struct{})}
}

func (r *barrierOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := r.OrderRepository.FindByID(ctx, orderID)
	r.mu.Lock()
	r.reads++
	held := r.reads <= 2
	if r.reads == 2 {
		close(r.release)
	}
	r.mu.Unlock()
	if held {
		<-r.release
	}
	return order, err
}

func newBarrierOrderService(t *testing.T, h *storeHarness) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    newBarrierOrderRepo(h.repos.Orders()),
		Counters:  h.repos.Counters(),
		Inventory: h.inventory,
		Events:    h.events,
		Clock:     func() time.Time { return h.now },
	})
	require.NoError(t, err)
	return svc
}

func TestOrderOverlappingTerminalTransitionsRestoreStockOnce(t *testing.T) {
	type action func(context.Context, OrderService, OrderActionCommand) (Order, error)
	cancel := func(ctx context.Context, svc OrderService, cmd OrderActionCommand) (Order, error) {
		return svc.Cancel(ctx, cmd)
	}
	markReturned := func(ctx context.Context, svc OrderService, cmd OrderActionCommand) (Order, error) {
		return svc.MarkReturned(ctx, cmd)
	}
	cases := map[string][2]action{
		"cancel and cancel":        {cancel, cancel},
		"cancel and mark returned": {cancel, markReturned},
	}
	for name, actions := range cases {
		t.Run(name, func(t *testing.T) {
			h := newStoreHarness(t)
			ctx := context.Background()
			h.addProduct(t, "prd_oud", 1500, 1)
			order := placeTestOrder(t, h, "prd_oud", 1)
			require.Zero(t, h.stockOf(t, "prd_oud"))
			svc := newBarrierOrderService(t, h)

			var wg sync.WaitGroup
			for _, act := range actions {
				wg.Add(1)
				go func(act action) {
					defer wg.Done()
					_, err := act(ctx, svc, OrderActionCommand{OrderID: order.ID, ActorID: "admin-1"})
					assert.NoError(t, err)
				}(act)
			}
			wg.Wait()

			require.Equal(t, 1, h.stockOf(t, "prd_oud"))
			stored, err := h.orders.GetOrder(ctx, order.ID)
			require.NoError(t, err)
			require.True(t, stored.Status.Terminal())
			require.False(t, stored.StockReserved)
		})
	}
}

func TestOrderOverlappingUncancelsReserveStockOnce(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 1)
	order := placeTestOrder(t, h, "prd_oud", 1)
	_, err := h.orders.Cancel(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, 1, h.stockOf(t, "prd_oud"))
	svc := newBarrierOrderService(t, h)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Uncancel(ctx, OrderActionCommand{OrderID: order.ID})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, ErrOrderInvalidState)
			failures++
		}
	}
	require.Equal(t, 1, failures)

	stored, err := h.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
	if stored.StockReserved {
		require.Zero(t, h.stockOf(t, "prd_oud"))
	} else {
		require.Equal(t, 1, h.stockOf(t, "prd_oud"))
	}
}

func TestOrderPatchRejectsStalePrecondition(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 1)

	_, err := h.repos.Orders().Patch(ctx, order.ID, domain.OrderPatch{
		Status:       valuePtr(domain.OrderStatusCancelled),
		ExpectStatus: valuePtr(domain.OrderStatusShipped),
	})
	require.ErrorIs(t, err, repositories.ErrStaleOrder)
	stored, err := h.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
}

func TestOrderUncancelRequiresCancelledStatus(t *testing.T) {
	h := newStoreHarness(t)
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 1)

	_, err := h.orders.Uncancel(context.Background(), OrderActionCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderInvalidState)
	_, err = h.orders.Unreturn(context.Background(), OrderActionCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderInvalidState)
}

func TestOrderUncancelWithoutStockStillReopens(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 2)
	order := placeTestOrder(t, h, "prd_oud", 2)

	_, err := h.orders.Cancel(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	placeTestOrder(t, h, "prd_oud", 2)

	reopened, err := h.orders.Uncancel(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, reopened.Status)
	require.False(t, reopened.StockReserved)
	require.Zero(t, h.stockOf(t, "prd_oud"))
}

func TestOrderMarkReturnedThenUnreturn(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 1)

	_, err := h.orders.SetStatus(ctx, SetOrderStatusCommand{OrderID: order.ID, Status: domain.OrderStatusDelivered})
	require.NoError(t, err)
	returned, err := h.orders.MarkReturned(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusReturned, returned.Status)
	require.Equal(t, 5, h.stockOf(t, "prd_oud"))

	reopened, err := h.orders.Unreturn(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, reopened.Status)
	require.Equal(t, 4, h.stockOf(t, "prd_oud"))
}

func TestOrderSetPaidTogglesPaidAt(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 1)

	paid, err := h.orders.SetPaid(ctx, SetOrderPaymentCommand{OrderID: order.ID, IsPaid: true})
	require.NoError(t, err)
	require.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	require.Equal(t, domain.OrderStatusPending, paid.Status)
	require.Contains(t, h.events.types(), orderEventPaid)

	unpaid, err := h.orders.SetPaid(ctx, SetOrderPaymentCommand{OrderID: order.ID, IsPaid: false})
	require.NoError(t, err)
	require.False(t, unpaid.IsPaid)
	require.Nil(t, unpaid.PaidAt)
}

func TestOrderDeleteOnlyWhenCancelled(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 1)

	err := h.orders.Delete(ctx, OrderActionCommand{OrderID: order.ID})
	require.ErrorIs(t, err, ErrOrderInvalidState)

	_, err = h.orders.Cancel(ctx, OrderActionCommand{OrderID: order.ID})
	require.NoError(t, err)
	require.NoError(t, h.orders.Delete(ctx, OrderActionCommand{OrderID: order.ID}))

	_, err = h.orders.GetOrder(ctx, order.ID)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderNumbersAreSequentialPerYear(t *testing.T) {
	h := newStoreHarness(t)
	h.addProduct(t, "prd_oud", 1500, 5)
	first := placeTestOrder(t, h, "prd_oud", 1)
	second := placeTestOrder(t, h, "prd_oud", 1)
	require.Equal(t, "AH-2026-000001", first.OrderNumber)
	require.Equal(t, "AH-2026-000002", second.OrderNumber)
}

func TestOrderCreateRejectsUnbalancedTotals(t *testing.T) {
	h := newStoreHarness(t)
	_, err := h.orders.Create(context.Background(), CreateOrderCommand{
		Items:           []LineItem{{ProductID: "prd_oud", Name: "Oud", Price: 1000, Quantity: 1}},
		ShippingAddress: testAddress(),
		PaymentMethod:   domain.PaymentMethodCOD,
		Totals:          domain.Totals{Subtotal: 1000, ShippingCost: 200, TotalAmount: 1000},
	})
	require.ErrorIs(t, err, ErrOrderInvalidInput)
}

func TestOrderUpdateShippingAddressValidates(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 1500, 5)
	order := placeTestOrder(t, h, "prd_oud", 1)

	_, err := h.orders.UpdateShippingAddress(ctx, UpdateShippingAddressCommand{OrderID: order.ID, ShippingAddress: ShippingAddress{FullName: "x"}})
	require.ErrorIs(t, err, ErrOrderInvalidInput)

	addr := testAddress()
	addr.City = "Karachi"
	updated, err := h.orders.UpdateShippingAddress(ctx, UpdateShippingAddressCommand{OrderID: order.ID, ShippingAddress: addr})
	require.NoError(t, err)
	require.Equal(t, "Karachi", updated.ShippingAddress.City)
	require.Equal(t, order.TotalAmount, updated.TotalAmount)
}
