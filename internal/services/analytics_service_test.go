package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
)

type analyticsFixture struct {
	h   *storeHarness
	svc AnalyticsService
	loc *time.Location
}

func newAnalyticsFixture(t *testing.T) *analyticsFixture {
	t.Helper()
	h := newStoreHarness(t)
	loc := ReportLocation("Asia/Karachi")
	svc, err := NewAnalyticsService(AnalyticsServiceDeps{
		Orders:   h.repos.Orders(),
		Expenses: h.repos.Expenses(),
		Products: h.repos.Products(),
		Location: loc,
		Clock:    func() time.Time { return h.now },
	})
	require.NoError(t, err)

	cost := int64(1000)
	require.NoError(t, h.repos.Products().Insert(context.Background(), domain.Product{
		ID:          "prd_oud",
		Name:        "Royal Oud",
		Slug:        "royal-oud",
		Price:       2500,
		CostPerItem: &cost,
		Stock:       10,
		IsPublished: true,
		CreatedAt:   h.now,
		UpdatedAt:   h.now,
	}))
	return &analyticsFixture{h: h, svc: svc, loc: loc}
}

func (f *analyticsFixture) insertOrder(t *testing.T, order domain.Order) {
	t.Helper()
	if order.ShippingAddress.Email == "" {
		order.ShippingAddress = testAddress()
	}
	order.UpdatedAt = order.CreatedAt
	require.NoError(t, f.h.repos.Orders().Insert(context.Background(), order))
}

func (f *analyticsFixture) month(year int, month time.Month) ReportRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, f.loc)
	return ReportRange{Start: start, End: start.AddDate(0, 1, 0)}
}

func oudLine(qty int) []LineItem {
	return []LineItem{{ProductID: "prd_oud", Name: "Royal Oud", Price: 2500, Quantity: qty}}
}

func TestAnalyticsReportWithoutOrdersChargesMonthlyExpenses(t *testing.T) {
	f := newAnalyticsFixture(t)
	_, err := f.h.repos.Expenses().Upsert(context.Background(), Expense{Month: "2026-02", Advertising: 5000, Rent: 20000})
	require.NoError(t, err)

	report, err := f.svc.ComputeReport(context.Background(), f.month(2026, time.February))
	require.NoError(t, err)
	require.Zero(t, report.OrdersCount)
	require.Zero(t, report.GrossRevenue)
	require.Zero(t, report.AdvertisingCost)
	require.Zero(t, report.OtherExpenses)
	require.EqualValues(t, 25000, report.UnallocatedExpenses)
	require.EqualValues(t, -25000, report.NetProfit)
	require.Zero(t, report.GrossMargin)
	require.Zero(t, report.NetMargin)
	require.Zero(t, report.AverageOrderValue)
	require.Empty(t, report.MissingExpenseMonths)
	require.Empty(t, report.SalesHistory)
}

func TestAnalyticsReportAllocatesMonthlyExpenses(t *testing.T) {
	f := newAnalyticsFixture(t)
	ctx := context.Background()
	_, err := f.h.repos.Expenses().Upsert(ctx, Expense{
		Month:            "2026-03",
		Advertising:      600,
		Packaging:        300,
		ReturnShipping:   400,
		StaffSalary:      900,
		ShippingPerOrder: 150,
	})
	require.NoError(t, err)

	f.insertOrder(t, domain.Order{
		ID: "ord_1", Items: oudLine(2), Status: domain.OrderStatusPending,
		Subtotal: 5000, TotalAmount: 5000,
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	f.insertOrder(t, domain.Order{
		ID: "ord_2", Items: oudLine(1), Status: domain.OrderStatusDelivered,
		Subtotal: 2500, ShippingCost: 200, Discount: 250, CouponCode: valuePtr("SAVE10"), TotalAmount: 2450,
		CreatedAt: time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC),
	})
	f.insertOrder(t, domain.Order{
		ID: "ord_3", Items: oudLine(1), Status: domain.OrderStatusCancelled,
		Subtotal: 2500, ShippingCost: 200, TotalAmount: 2700,
		CreatedAt: time.Date(2026, 3, 6, 10, 0, 0, 0, time.UTC),
	})
	f.insertOrder(t, domain.Order{
		ID: "ord_4", Items: oudLine(1), Status: domain.OrderStatusReturned,
		Subtotal: 2500, ShippingCost: 200, TotalAmount: 2700,
		CreatedAt: time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC),
	})

	report, err := f.svc.ComputeReport(ctx, f.month(2026, time.March))
	require.NoError(t, err)

	require.Equal(t, 2, report.OrdersCount)
	require.Equal(t, 1, report.CancelledOrders)
	require.EqualValues(t, 2700, report.CancelledValue)
	require.Equal(t, 1, report.ReturnedOrders)
	require.EqualValues(t, 7450, report.GrossRevenue)
	require.EqualValues(t, 3000, report.COGS)
	require.Zero(t, report.ItemsMissingCost)

	require.EqualValues(t, 350, report.DeliveryCost)
	require.EqualValues(t, 150, report.EstimatedDeliveryCost)
	require.True(t, report.DeliveryCostIsEstimate)
	require.EqualValues(t, 300, report.PackagingCost)
	require.EqualValues(t, 600, report.AdvertisingCost)
	require.EqualValues(t, 900, report.OtherExpenses)
	require.Equal(t, returnLossesOf(2700, 400), report.ReturnLosses)

	require.EqualValues(t, 4450, report.GrossProfit)
	require.EqualValues(t, 1900, report.NetProfit)
	require.InDelta(t, 59.73, report.GrossMargin, 0.001)
	require.InDelta(t, 25.5, report.NetMargin, 0.001)
	require.EqualValues(t, 3725, report.AverageOrderValue)

	require.Len(t, report.SalesHistory, 2)
	require.Equal(t, "2026-03-02", report.SalesHistory[0].Date)
	require.EqualValues(t, 5000, report.SalesHistory[0].Sales)
	require.Equal(t, []domain.CouponUsageSummary{{Code: "SAVE10", UsageCount: 1, TotalDiscount: 250}}, report.CouponUsage)
	require.Equal(t, []domain.TopProduct{{ProductID: "prd_oud", Name: "Royal Oud", Quantity: 3, Revenue: 7500}}, report.TopProducts)
	require.Empty(t, report.MissingExpenseMonths)
}

func TestAnalyticsReportProratesExpensesOfMonthsWithoutOrders(t *testing.T) {
	f := newAnalyticsFixture(t)
	ctx := context.Background()
	_, err := f.h.repos.Expenses().Upsert(ctx, Expense{Month: "2026-02", Advertising: 2800, Packaging: 1400, Utilities: 1400})
	require.NoError(t, err)
	_, err = f.h.repos.Expenses().Upsert(ctx, Expense{Month: "2026-03", Advertising: 3100, PackagingPerOrder: 50})
	require.NoError(t, err)
	f.insertOrder(t, domain.Order{
		ID: "ord_1", Items: oudLine(1), Status: domain.OrderStatusPending,
		Subtotal: 2500, ShippingCost: 200, TotalAmount: 2700,
		CreatedAt: time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC),
	})

	// Half of February, which had no orders, and all of March, which carries its own expenses.
	report, err := f.svc.ComputeReport(ctx, ReportRange{
		Start: time.Date(2026, 2, 15, 0, 0, 0, 0, f.loc),
		End:   time.Date(2026, 4, 1, 0, 0, 0, 0, f.loc),
	})
	require.NoError(t, err)
	require.Equal(t, 1, report.OrdersCount)
	require.EqualValues(t, 3100, report.AdvertisingCost)
	require.EqualValues(t, 50, report.PackagingCost)
	require.EqualValues(t, 2800, report.UnallocatedExpenses)
	require.EqualValues(t, 2700-1000-200-50-3100-2800, report.NetProfit)
}

func TestAnalyticsReportFlagsMissingExpensesAndCosts(t *testing.T) {
	f := newAnalyticsFixture(t)
	f.insertOrder(t, domain.Order{
		ID:     "ord_1",
		Items:  []LineItem{{ProductID: "prd_gone", Name: "Retired Musk", Price: 1200, Quantity: 1}},
		Status: domain.OrderStatusPending, Subtotal: 1200, ShippingCost: 200, TotalAmount: 1400,
		CreatedAt: time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC),
	})

	report, err := f.svc.ComputeReport(context.Background(), f.month(2026, time.March))
	require.NoError(t, err)
	require.Equal(t, 1, report.ItemsMissingCost)
	require.Zero(t, report.COGS)
	require.Equal(t, []string{"2026-03"}, report.MissingExpenseMonths)
	require.EqualValues(t, 200, report.DeliveryCost)
	require.False(t, report.DeliveryCostIsEstimate)
	require.Equal(t, "Retired Musk", report.TopProducts[0].Name)
}

func TestAnalyticsRejectsInvalidRanges(t *testing.T) {
	f := newAnalyticsFixture(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, f.loc)
	cases := map[string]ReportRange{
		"missing end": {Start: start},
		"inverted":    {Start: start, End: start.Add(-time.Hour)},
		"too long":    {Start: start.AddDate(-4, 0, 0), End: start},
	}
	for name, rng := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.ComputeReport(context.Background(), rng)
			require.ErrorIs(t, err, ErrAnalyticsInvalidRange)
		})
	}
}

func TestAnalyticsListCustomersRanksBySpend(t *testing.T) {
	f := newAnalyticsFixture(t)
	bilal := ShippingAddress{FullName: "Bilal Ahmed", Email: "bilal@example.com", Phone: "+923331112222", Address: "1 Mall Road", City: "Lahore"}

	f.insertOrder(t, domain.Order{ID: "ord_1", Items: oudLine(1), Status: domain.OrderStatusDelivered, TotalAmount: 2700, CreatedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)})
	f.insertOrder(t, domain.Order{ID: "ord_2", Items: oudLine(1), Status: domain.OrderStatusCancelled, TotalAmount: 9000, CreatedAt: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)})
	f.insertOrder(t, domain.Order{ID: "ord_3", Items: oudLine(2), Status: domain.OrderStatusPending, TotalAmount: 5000, ShippingAddress: bilal, CreatedAt: time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)})

	customers, err := f.svc.ListCustomers(context.Background(), CustomerQuery{})
	require.NoError(t, err)
	require.Len(t, customers, 2)

	require.Equal(t, "bilal@example.com", customers[0].Email)
	require.EqualValues(t, 5000, customers[0].TotalSpent)

	require.Equal(t, "ayesha@example.com", customers[1].Email)
	require.Equal(t, 2, customers[1].OrderCount)
	require.EqualValues(t, 2700, customers[1].TotalSpent)
	require.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), customers[1].LastOrderAt)

	limited, err := f.svc.ListCustomers(context.Background(), CustomerQuery{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func returnLossesOf(refunds, shipping int64) domain.ReturnLosses {
	return domain.ReturnLosses{Refunds: refunds, ReturnShipping: shipping, Total: refunds + shipping}
}
