package domain

import "time"

// OrderStatus is the fulfilment state of an order. Any status may be set at any time; the named
// transitions only document the usual paths.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
	OrderStatusReturned   OrderStatus = "Returned"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// Terminal reports whether the status releases the order's stock.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// PaymentMethod names how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD      PaymentMethod = "COD"
	PaymentMethodSafepay  PaymentMethod = "Safepay"
	PaymentMethodJazzCash PaymentMethod = "JazzCash"
	PaymentMethodOnline   PaymentMethod = "Online Payment"
)

// Valid reports whether m is a supported method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodSafepay, PaymentMethodJazzCash, PaymentMethodOnline:
		return true
	}
	return false
}

// Online reports whether the method redirects to an external gateway.
func (m PaymentMethod) Online() bool {
	return m.Valid() && m != PaymentMethodCOD
}

// OrderSource records which surface created the order.
type OrderSource string

const (
	OrderSourceStorefront OrderSource = "storefront"
	OrderSourceAdmin      OrderSource = "admin"
)

// ShippingAddress is the delivery contact captured on the order.
type ShippingAddress struct {
	FullName   string
	Email      string
	Phone      string
	Address    string
	City       string
	PostalCode string
}

// OrderStatusChange is one entry of an order's status history.
type OrderStatusChange struct {
	From    OrderStatus
	To      OrderStatus
	ActorID string
	Reason  string
	At      time.Time
}

// Order is an immutable pricing snapshot plus independently mutable fulfilment, payment, tracking
// and archive fields.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           *string
	Items            []LineItem
	ShippingAddress  ShippingAddress
	PaymentMethod    PaymentMethod
	IsPaid           bool
	PaidAt           *time.Time
	PaymentReference *string
	Status           OrderStatus
	Subtotal         int64
	Tax              int64
	ShippingCost     int64
	Discount         int64
	CouponCode       *string
	TotalAmount      int64
	CourierCompany   *string
	TrackingID       *string
	IsArchived       bool
	StockReserved    bool
	Source           OrderSource
	StatusHistory    []OrderStatusChange
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Totals returns the pricing snapshot of the order.
func (o Order) Totals() Totals {
	return Totals{
		Subtotal:     o.Subtotal,
		ShippingCost: o.ShippingCost,
		Tax:          o.Tax,
		Discount:     o.Discount,
		TotalAmount:  o.TotalAmount,
	}
}

// OrderPatch lists the fields that may change after creation. Items and totals are deliberately
// absent. Nil fields are left untouched.
type OrderPatch struct {
	Status           *OrderStatus
	StatusChange     *OrderStatusChange
	IsPaid           *bool
	PaidAt           **time.Time
	PaymentReference **string
	CourierCompany   **string
	TrackingID       **string
	ShippingAddress  *ShippingAddress
	IsArchived       *bool
	StockReserved    *bool
	UpdatedAt        time.Time

	// ExpectStatus and ExpectStockReserved make the patch conditional on the stored order.
	ExpectStatus        *OrderStatus
	ExpectStockReserved *bool
}

// Matches reports whether o satisfies the patch's preconditions.
func (p OrderPatch) Matches(o Order) bool {
	if p.ExpectStatus != nil && o.Status != *p.ExpectStatus {
		return false
	}
	if p.ExpectStockReserved != nil && o.StockReserved != *p.ExpectStockReserved {
		return false
	}
	return true
}

// Apply copies the patch onto o.
func (p OrderPatch) Apply(o *Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.StatusChange != nil {
		o.StatusHistory = append(o.StatusHistory, *p.StatusChange)
	}
	if p.IsPaid != nil {
		o.IsPaid = *p.IsPaid
	}
	if p.PaidAt != nil {
		o.PaidAt = *p.PaidAt
	}
	if p.PaymentReference != nil {
		o.PaymentReference = *p.PaymentReference
	}
	if p.CourierCompany != nil {
		o.CourierCompany = *p.CourierCompany
	}
	if p.TrackingID != nil {
		o.TrackingID = *p.TrackingID
	}
	if p.ShippingAddress != nil {
		o.ShippingAddress = *p.ShippingAddress
	}
	if p.IsArchived != nil {
		o.IsArchived = *p.IsArchived
	}
	if p.StockReserved != nil {
		o.StockReserved = *p.StockReserved
	}
	if !p.UpdatedAt.IsZero() {
		o.UpdatedAt = p.UpdatedAt
	}
}
