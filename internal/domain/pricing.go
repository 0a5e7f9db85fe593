package domain

// LineItem is one product or variant within a cart or order, carrying the unit price captured when
// it was added.
type LineItem struct {
	ProductID   string
	VariantID   *string
	Name        string
	Price       int64
	Quantity    int
	Image       string
	SubCategory string
}

// Totals is the pricing snapshot stored on every order.
type Totals struct {
	Subtotal     int64
	ShippingCost int64
	Tax          int64
	Discount     int64
	TotalAmount  int64
}

// Balanced reports whether TotalAmount equals subtotal + tax + shipping - discount.
func (t Totals) Balanced() bool {
	return t.TotalAmount == t.Subtotal+t.Tax+t.ShippingCost-t.Discount
}
