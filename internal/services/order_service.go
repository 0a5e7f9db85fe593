package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/textutil"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
	orderEventPaid          = "order.paid"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix        = "ord_"
	orderNumberPrefix    = "AH"
	orderCounterIDPrefix = "orders-"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the operation is not allowed in the order's current status.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a duplicate order id.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Inventory   InventoryService
	Events      EventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	counters  repositories.CounterRepository
	inventory InventoryService
	events    EventPublisher
	clock     func() time.Time
	newID     func() string
	logger    logFunc
}

// NewOrderService wires dependencies into a concrete OrderService implementation. Inventory is
// optional; without it status changes never touch stock.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	return &orderService{
		orders:    deps.Orders,
		counters:  deps.Counters,
		inventory: deps.Inventory,
		events:    deps.Events,
		clock:     utcClock(deps.Clock),
		newID:     ulidGenerator(deps.IDGenerator),
		logger:    loggerOrNoop(deps.Logger),
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	items, err := validateOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	if !cmd.PaymentMethod.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	address, err := normalizeShippingAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	if err := validateOrderTotals(items, cmd.Totals); err != nil {
		return Order{}, err
	}

	now := s.clock()
	number, err := s.nextOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	source := cmd.Source
	if source == "" {
		source = domain.OrderSourceStorefront
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		orderID = NewOrderID(s.newID)
	}

	order := Order{
		ID:              orderID,
		OrderNumber:     number,
		UserID:          optionalString(cmd.UserID),
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   cmd.PaymentMethod,
		Status:          domain.OrderStatusPending,
		Subtotal:        cmd.Totals.Subtotal,
		Tax:             cmd.Totals.Tax,
		ShippingCost:    cmd.Totals.ShippingCost,
		Discount:        cmd.Totals.Discount,
		CouponCode:      optionalString(NormalizeCouponCode(cmd.CouponCode)),
		TotalAmount:     cmd.Totals.TotalAmount,
		StockReserved:   cmd.StockReserved,
		Source:          source,
		StatusHistory: []domain.OrderStatusChange{{
			To:      domain.OrderStatusPending,
			ActorID: strings.TrimSpace(cmd.ActorID),
			At:      now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.IsPaid {
		order.IsPaid = true
		order.PaidAt = valuePtr(now)
		order.PaymentReference = optionalString(cmd.PaymentReference)
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	publishEvent(ctx, s.events, s.logger, Event{
		Type:        orderEventCreated,
		AggregateID: order.ID,
		OccurredAt:  now,
		Data: map[string]any{
			"orderNumber":   order.OrderNumber,
			"email":         order.ShippingAddress.Email,
			"phone":         order.ShippingAddress.Phone,
			"paymentMethod": string(order.PaymentMethod),
			"totalAmount":   order.TotalAmount,
			"source":        string(order.Source),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Email:      textutil.NormalizeEmail(filter.Email),
		Statuses:   filter.Statuses,
		Archived:   filter.Archived,
		DateRange:  filter.DateRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// SetStatus writes any valid status regardless of the current one.
func (s *orderService) SetStatus(ctx context.Context, cmd SetOrderStatusCommand) (Order, error) {
	if !cmd.Status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}
	return s.transition(ctx, cmd.OrderID, cmd.Status, cmd.ActorID, cmd.Reason, nil)
}

func (s *orderService) Cancel(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusCancelled, cmd.ActorID, cmd.Reason, nil)
}

func (s *orderService) Uncancel(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusPending, cmd.ActorID, cmd.Reason, requireStatus(domain.OrderStatusCancelled))
}

func (s *orderService) MarkReturned(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusReturned, cmd.ActorID, cmd.Reason, nil)
}

func (s *orderService) Unreturn(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusPending, cmd.ActorID, cmd.Reason, requireStatus(domain.OrderStatusReturned))
}

func requireStatus(status OrderStatus) func(Order) error {
	return func(order Order) error {
		if order.Status != status {
			return fmt.Errorf("%w: order is %s, expected %s", ErrOrderInvalidState, order.Status, status)
		}
		return nil
	}
}

// maxTransitionAttempts bounds how often a transition re-reads an order that changed under it.
const maxTransitionAttempts = 3

// transition moves the order to target. The status write is conditional on the status and stock
// flag that were read, so of two overlapping calls only the one whose write lands restores or
// re-reserves stock; the other re-reads and sees the new state.
func (s *orderService) transition(ctx context.Context, orderID string, target OrderStatus, actorID, reason string, guard func(Order) error) (Order, error) {
	for attempt := 1; ; attempt++ {
		updated, err := s.tryTransition(ctx, orderID, target, actorID, reason, guard)
		if !errors.Is(err, repositories.ErrStaleOrder) {
			return updated, err
		}
		if attempt == maxTransitionAttempts {
			return Order{}, fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
}

func (s *orderService) tryTransition(ctx context.Context, orderID string, target OrderStatus, actorID, reason string, guard func(Order) error) (Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if guard != nil {
		if err := guard(order); err != nil {
			return Order{}, err
		}
	}
	if order.Status == target {
		return order, nil
	}

	now := s.clock()
	previous := order.Status
	patch := domain.OrderPatch{
		Status: valuePtr(target),
		StatusChange: &domain.OrderStatusChange{
			From:    previous,
			To:      target,
			ActorID: strings.TrimSpace(actorID),
			Reason:  strings.TrimSpace(reason),
			At:      now,
		},
		UpdatedAt:           now,
		ExpectStatus:        valuePtr(previous),
		ExpectStockReserved: valuePtr(order.StockReserved),
	}

	lines := StockLinesFromItems(order.Items)
	releasing := target.Terminal() && order.StockReserved
	reclaiming := !target.Terminal() && previous.Terminal() && !order.StockReserved && s.inventory != nil

	if releasing {
		patch.StockReserved = valuePtr(false)
	}
	if reclaiming {
		if err := s.inventory.Reserve(ctx, ReserveStockCommand{OrderID: order.ID, Lines: lines}); err != nil {
			reclaiming = false
			s.logger(ctx, "order.stock.rereserve.failed", map[string]any{
				"orderId": order.ID,
				"target":  string(target),
				"error":   err.Error(),
			})
		} else {
			patch.StockReserved = valuePtr(true)
		}
	}

	updated, err := s.orders.Patch(ctx, order.ID, patch)
	if err != nil {
		if reclaiming {
			s.inventory.Restore(ctx, RestoreStockCommand{OrderID: order.ID, Reason: "status_patch_failed", Lines: lines})
		}
		if errors.Is(err, repositories.ErrStaleOrder) {
			return Order{}, err
		}
		return Order{}, s.mapRepositoryError(err)
	}

	if releasing && s.inventory != nil {
		s.inventory.Restore(ctx, RestoreStockCommand{OrderID: order.ID, Reason: strings.ToLower(string(target)), Lines: lines})
	}

	publishEvent(ctx, s.events, s.logger, Event{
		Type:        orderEventStatusChanged,
		AggregateID: order.ID,
		OccurredAt:  now,
		Data: map[string]any{
			"orderNumber":    order.OrderNumber,
			"previousStatus": string(previous),
			"status":         string(target),
			"email":          order.ShippingAddress.Email,
			"phone":          order.ShippingAddress.Phone,
			"actor":          actorID,
		},
	})
	return updated, nil
}

// SetPaid toggles the payment flag without touching status.
func (s *orderService) SetPaid(ctx context.Context, cmd SetOrderPaymentCommand) (Order, error) {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	patch := domain.OrderPatch{IsPaid: valuePtr(cmd.IsPaid), UpdatedAt: now}
	if cmd.IsPaid {
		paidAt := order.PaidAt
		if !order.IsPaid || paidAt == nil {
			paidAt = valuePtr(now)
		}
		patch.PaidAt = &paidAt
	} else {
		var cleared *time.Time
		patch.PaidAt = &cleared
	}
	if ref := optionalString(cmd.Reference); ref != nil {
		patch.PaymentReference = &ref
	}

	updated, err := s.orders.Patch(ctx, order.ID, patch)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.IsPaid && !order.IsPaid {
		publishEvent(ctx, s.events, s.logger, Event{
			Type:        orderEventPaid,
			AggregateID: order.ID,
			OccurredAt:  now,
			Data: map[string]any{
				"orderNumber":   order.OrderNumber,
				"paymentMethod": string(order.PaymentMethod),
				"reference":     cmd.Reference,
				"totalAmount":   order.TotalAmount,
			},
		})
	}
	return updated, nil
}

func (s *orderService) UpdateTracking(ctx context.Context, cmd UpdateTrackingCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	courier := optionalString(cmd.CourierCompany)
	tracking := optionalString(cmd.TrackingID)
	updated, err := s.orders.Patch(ctx, orderID, domain.OrderPatch{
		CourierCompany: &courier,
		TrackingID:     &tracking,
		UpdatedAt:      s.clock(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "order.tracking.updated", map[string]any{
		"orderId": orderID,
		"courier": cmd.CourierCompany,
		"actor":   cmd.ActorID,
	})
	return updated, nil
}

func (s *orderService) UpdateShippingAddress(ctx context.Context, cmd UpdateShippingAddressCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	address, err := normalizeShippingAddress(cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	updated, err := s.orders.Patch(ctx, orderID, domain.OrderPatch{
		ShippingAddress: &address,
		UpdatedAt:       s.clock(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *orderService) SetArchived(ctx context.Context, cmd SetArchivedCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	updated, err := s.orders.Patch(ctx, orderID, domain.OrderPatch{
		IsArchived: valuePtr(cmd.Archived),
		UpdatedAt:  s.clock(),
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

// Delete removes a cancelled order. Every other status keeps its record.
func (s *orderService) Delete(ctx context.Context, cmd OrderActionCommand) error {
	order, err := s.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusCancelled {
		return fmt.Errorf("%w: only cancelled orders can be deleted", ErrOrderInvalidState)
	}
	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return s.mapRepositoryError(err)
	}
	publishEvent(ctx, s.events, s.logger, Event{
		Type:        orderEventDeleted,
		AggregateID: order.ID,
		OccurredAt:  s.clock(),
		Data:        map[string]any{"orderNumber": order.OrderNumber, "actor": cmd.ActorID},
	})
	return nil
}

// NewOrderID builds an order id from gen, or from a fresh ULID when gen is nil.
func NewOrderID(gen func() string) string {
	return orderIDPrefix + ulidGenerator(gen)()
}

func (s *orderService) nextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	year := now.Year()
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s%04d", orderCounterIDPrefix, year), 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate order number: %w", err)
	}
	return fmt.Sprintf("%s-%04d-%06d", orderNumberPrefix, year, seq), nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func validateOrderItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	out := make([]LineItem, 0, len(items))
	for i, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.Name = strings.TrimSpace(item.Name)
		switch {
		case item.ProductID == "":
			return nil, fmt.Errorf("%w: item %d product is required", ErrOrderInvalidInput, i)
		case item.Quantity < 1:
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		case item.Price < 0:
			return nil, fmt.Errorf("%w: item %d price must be non-negative", ErrOrderInvalidInput, i)
		}
		item.VariantID = optionalString(derefString(item.VariantID))
		out = append(out, item)
	}
	return out, nil
}

func validateOrderTotals(items []LineItem, totals Totals) error {
	if totals.Subtotal < 0 || totals.Tax < 0 || totals.ShippingCost < 0 || totals.Discount < 0 {
		return fmt.Errorf("%w: totals must be non-negative", ErrOrderInvalidInput)
	}
	if totals.Discount > totals.Subtotal {
		return fmt.Errorf("%w: discount exceeds subtotal", ErrOrderInvalidInput)
	}
	var subtotal int64
	for _, item := range items {
		subtotal += item.Price * int64(item.Quantity)
	}
	if subtotal != totals.Subtotal {
		return fmt.Errorf("%w: subtotal %d does not match items %d", ErrOrderInvalidInput, totals.Subtotal, subtotal)
	}
	if !totals.Balanced() {
		return fmt.Errorf("%w: total %d does not equal subtotal + tax + shipping - discount", ErrOrderInvalidInput, totals.TotalAmount)
	}
	return nil
}

func normalizeShippingAddress(addr ShippingAddress) (ShippingAddress, error) {
	addr = ShippingAddress{
		FullName:   strings.TrimSpace(addr.FullName),
		Email:      textutil.NormalizeEmail(addr.Email),
		Phone:      strings.TrimSpace(addr.Phone),
		Address:    strings.TrimSpace(addr.Address),
		City:       strings.TrimSpace(addr.City),
		PostalCode: strings.TrimSpace(addr.PostalCode),
	}
	var missing []string
	if addr.FullName == "" {
		missing = append(missing, "fullName")
	}
	if addr.Email == "" {
		missing = append(missing, "email")
	}
	if addr.Phone == "" {
		missing = append(missing, "phone")
	}
	if addr.Address == "" {
		missing = append(missing, "address")
	}
	if addr.City == "" {
		missing = append(missing, "city")
	}
	if len(missing) > 0 {
		return ShippingAddress{}, fmt.Errorf("%w: shipping address missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	if _, err := mail.ParseAddress(addr.Email); err != nil {
		return ShippingAddress{}, fmt.Errorf("%w: invalid email", ErrOrderInvalidInput)
	}
	return addr, nil
}
