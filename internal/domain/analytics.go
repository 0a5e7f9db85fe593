package domain

import "time"

// ProfitReport is the profit and loss summary for a date range.
type ProfitReport struct {
	StartDate time.Time
	EndDate   time.Time

	OrdersCount       int
	CancelledOrders   int
	CancelledValue    int64
	ReturnedOrders    int
	AverageOrderValue int64

	GrossRevenue      int64
	NetRevenue        int64
	Subtotal          int64
	ShippingCollected int64
	TaxCollected      int64
	DiscountGiven     int64

	COGS             int64
	ItemsMissingCost int

	DeliveryCost           int64
	EstimatedDeliveryCost  int64
	DeliveryCostIsEstimate bool
	PackagingCost          int64
	AdvertisingCost        int64
	OtherExpenses          int64
	ReturnLosses           ReturnLosses

	// UnallocatedExpenses holds the monthly advertising, overhead and packaging of months that had
	// no revenue orders, pro-rated by how much of the month the range covers.
	UnallocatedExpenses int64

	GrossProfit int64
	NetProfit   int64
	GrossMargin float64
	NetMargin   float64

	SalesHistory         []SalesHistoryPoint
	CouponUsage          []CouponUsageSummary
	TopProducts          []TopProduct
	MissingExpenseMonths []string
}

// ReturnLosses splits losses from returned orders.
type ReturnLosses struct {
	Refunds        int64
	ReturnShipping int64
	Total          int64
}

// SalesHistoryPoint is one daily bucket.
type SalesHistoryPoint struct {
	Date   string
	Sales  int64
	Orders int
}

// CouponUsageSummary aggregates orders that used one coupon.
type CouponUsageSummary struct {
	Code          string
	UsageCount    int
	TotalDiscount int64
}

// TopProduct ranks products by units sold.
type TopProduct struct {
	ProductID string
	Name      string
	Quantity  int
	Revenue   int64
}

// CustomerSummary aggregates orders placed with one email address.
type CustomerSummary struct {
	Email       string
	FullName    string
	Phone       string
	UserID      *string
	OrderCount  int
	TotalSpent  int64
	LastOrderAt time.Time
}
