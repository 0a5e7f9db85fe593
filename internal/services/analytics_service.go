package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/textutil"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	defaultReportTimezone = "Asia/Karachi"
	reportMaxSpan         = 3 * 366 * 24 * time.Hour
	topProductsLimit      = 5
	salesHistoryLayout    = "2006-01-02"
)

var (
	// ErrAnalyticsInvalidRange indicates an empty, inverted or oversized report range.
	ErrAnalyticsInvalidRange = errors.New("analytics: invalid range")
)

// AnalyticsServiceDeps bundles collaborators for the analytics aggregator.
type AnalyticsServiceDeps struct {
	Orders   repositories.OrderRepository
	Expenses repositories.ExpenseRepository
	Products repositories.ProductRepository
	// Location buckets orders into days and months. Defaults to Asia/Karachi.
	Location *time.Location
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type analyticsService struct {
	orders   repositories.OrderRepository
	expenses repositories.ExpenseRepository
	products repositories.ProductRepository
	loc      *time.Location
	clock    func() time.Time
	logger   logFunc
}

func NewAnalyticsService(deps AnalyticsServiceDeps) (AnalyticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("analytics service: order repository is required")
	}
	if deps.Expenses == nil {
		return nil, errors.New("analytics service: expense repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("analytics service: product repository is required")
	}
	loc := deps.Location
	if loc == nil {
		loc = ReportLocation(defaultReportTimezone)
	}
	return &analyticsService{
		orders:   deps.Orders,
		expenses: deps.Expenses,
		products: deps.Products,
		loc:      loc,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

// ReportLocation loads name, falling back to a fixed UTC+5 zone when tzdata is unavailable.
func ReportLocation(name string) *time.Location {
	if strings.TrimSpace(name) == "" {
		name = defaultReportTimezone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("PKT", 5*60*60)
}

// monthStats holds the allocation denominators for one calendar month.
type monthStats struct {
	revenueOrders  int
	returnedOrders int
	expense        *Expense
}

// ComputeReport aggregates orders created in [rng.Start, rng.End). A zero range covers the current
// month to date.
func (s *analyticsService) ComputeReport(ctx context.Context, rng ReportRange) (ProfitReport, error) {
	start, end, err := s.normalizeRange(rng)
	if err != nil {
		return ProfitReport{}, err
	}

	monthFrom := time.Date(start.In(s.loc).Year(), start.In(s.loc).Month(), 1, 0, 0, 0, 0, s.loc)
	lastInstant := end.Add(-time.Nanosecond).In(s.loc)
	monthTo := time.Date(lastInstant.Year(), lastInstant.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, 1, 0)

	orders, err := s.orders.ListCreatedBetween(ctx, monthFrom.UTC(), monthTo.UTC())
	if err != nil {
		return ProfitReport{}, fmt.Errorf("analytics: load orders: %w", err)
	}

	var months []string
	for m := monthFrom; m.Before(monthTo); m = m.AddDate(0, 1, 0) {
		months = append(months, m.Format(domain.ExpenseMonthLayout))
	}
	expenses, err := s.expenses.FindByMonths(ctx, months)
	if err != nil {
		return ProfitReport{}, fmt.Errorf("analytics: load expenses: %w", err)
	}

	stats := make(map[string]*monthStats, len(months))
	for _, month := range months {
		st := &monthStats{}
		if expense, ok := expenses[month]; ok {
			st.expense = &expense
		}
		stats[month] = st
	}
	for _, order := range orders {
		st := stats[s.monthKey(order.CreatedAt)]
		if st == nil {
			continue
		}
		switch {
		case isRevenueOrder(order):
			st.revenueOrders++
		case order.Status == domain.OrderStatusReturned:
			st.returnedOrders++
		}
	}

	var inRange []Order
	productIDs := make(map[string]struct{})
	for _, order := range orders {
		if order.CreatedAt.Before(start) || !order.CreatedAt.Before(end) {
			continue
		}
		inRange = append(inRange, order)
		if isRevenueOrder(order) {
			for _, item := range order.Items {
				productIDs[item.ProductID] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(productIDs))
	for id := range productIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	products := map[string]Product{}
	if len(ids) > 0 {
		products, err = s.products.FindByIDs(ctx, ids)
		if err != nil {
			return ProfitReport{}, fmt.Errorf("analytics: load products: %w", err)
		}
	}

	report := ProfitReport{StartDate: start, EndDate: end}
	var (
		deliveryCost, estimatedDelivery   float64
		packagingCost, advertisingCost    float64
		otherExpenses, returnShippingLoss float64
		daily                             = map[string]*domain.SalesHistoryPoint{}
		coupons                           = map[string]*domain.CouponUsageSummary{}
		top                               = map[string]*domain.TopProduct{}
	)

	for _, order := range inRange {
		st := stats[s.monthKey(order.CreatedAt)]
		switch order.Status {
		case domain.OrderStatusCancelled:
			report.CancelledOrders++
			report.CancelledValue += order.TotalAmount
			continue
		case domain.OrderStatusReturned:
			report.ReturnedOrders++
			report.ReturnLosses.Refunds += order.TotalAmount
			if st != nil && st.expense != nil && st.returnedOrders > 0 {
				returnShippingLoss += float64(st.expense.ReturnShipping) / float64(st.returnedOrders)
			}
			continue
		}

		report.OrdersCount++
		report.GrossRevenue += order.TotalAmount
		report.Subtotal += order.Subtotal
		report.ShippingCollected += order.ShippingCost
		report.TaxCollected += order.Tax
		report.DiscountGiven += order.Discount

		for _, item := range order.Items {
			cost, ok := unitCost(products, item)
			if !ok {
				report.ItemsMissingCost++
			}
			report.COGS += cost * int64(item.Quantity)

			entry := top[item.ProductID]
			if entry == nil {
				entry = &domain.TopProduct{ProductID: item.ProductID, Name: item.Name}
				if product, ok := products[item.ProductID]; ok {
					entry.Name = product.Name
				}
				top[item.ProductID] = entry
			}
			entry.Quantity += item.Quantity
			entry.Revenue += item.Price * int64(item.Quantity)
		}

		if order.ShippingCost > 0 {
			deliveryCost += float64(order.ShippingCost)
		} else if st != nil && st.expense != nil {
			deliveryCost += float64(st.expense.ShippingPerOrder)
			estimatedDelivery += float64(st.expense.ShippingPerOrder)
		}

		if st != nil && st.expense != nil && st.revenueOrders > 0 {
			perOrder := float64(st.revenueOrders)
			if st.expense.PackagingPerOrder > 0 {
				packagingCost += float64(st.expense.PackagingPerOrder)
			} else {
				packagingCost += float64(st.expense.Packaging) / perOrder
			}
			advertisingCost += float64(st.expense.Advertising) / perOrder
			otherExpenses += float64(st.expense.OperatingExpenses()) / perOrder
		}

		day := order.CreatedAt.In(s.loc).Format(salesHistoryLayout)
		point := daily[day]
		if point == nil {
			point = &domain.SalesHistoryPoint{Date: day}
			daily[day] = point
		}
		point.Sales += order.TotalAmount
		point.Orders++

		if code := derefString(order.CouponCode); code != "" {
			usage := coupons[code]
			if usage == nil {
				usage = &domain.CouponUsageSummary{Code: code}
				coupons[code] = usage
			}
			usage.UsageCount++
			usage.TotalDiscount += order.Discount
		}
	}

	report.NetRevenue = report.GrossRevenue - report.TaxCollected
	report.DeliveryCost = roundHalfAway(deliveryCost)
	report.EstimatedDeliveryCost = roundHalfAway(estimatedDelivery)
	report.DeliveryCostIsEstimate = report.EstimatedDeliveryCost > 0
	report.PackagingCost = roundHalfAway(packagingCost)
	report.AdvertisingCost = roundHalfAway(advertisingCost)
	report.OtherExpenses = roundHalfAway(otherExpenses)
	report.ReturnLosses.ReturnShipping = roundHalfAway(returnShippingLoss)
	report.ReturnLosses.Total = report.ReturnLosses.Refunds + report.ReturnLosses.ReturnShipping
	report.UnallocatedExpenses = roundHalfAway(s.unallocatedExpenses(stats, monthFrom, monthTo, start, end))

	report.GrossProfit = report.GrossRevenue - report.COGS
	report.NetProfit = report.GrossProfit - report.DeliveryCost - report.PackagingCost -
		report.AdvertisingCost - report.OtherExpenses - report.ReturnLosses.ReturnShipping -
		report.UnallocatedExpenses
	if report.GrossRevenue > 0 {
		report.GrossMargin = round2(float64(report.GrossProfit) / float64(report.GrossRevenue) * 100)
		report.NetMargin = round2(float64(report.NetProfit) / float64(report.GrossRevenue) * 100)
	}
	if report.OrdersCount > 0 {
		report.AverageOrderValue = roundHalfAway(float64(report.GrossRevenue) / float64(report.OrdersCount))
	}

	report.SalesHistory = make([]domain.SalesHistoryPoint, 0, len(daily))
	for _, point := range daily {
		report.SalesHistory = append(report.SalesHistory, *point)
	}
	sort.Slice(report.SalesHistory, func(i, j int) bool {
		return report.SalesHistory[i].Date < report.SalesHistory[j].Date
	})

	report.CouponUsage = make([]domain.CouponUsageSummary, 0, len(coupons))
	for _, usage := range coupons {
		report.CouponUsage = append(report.CouponUsage, *usage)
	}
	sort.Slice(report.CouponUsage, func(i, j int) bool {
		a, b := report.CouponUsage[i], report.CouponUsage[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		return a.Code < b.Code
	})

	report.TopProducts = make([]domain.TopProduct, 0, len(top))
	for _, entry := range top {
		report.TopProducts = append(report.TopProducts, *entry)
	}
	sort.Slice(report.TopProducts, func(i, j int) bool {
		a, b := report.TopProducts[i], report.TopProducts[j]
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		return a.ProductID < b.ProductID
	})
	if len(report.TopProducts) > topProductsLimit {
		report.TopProducts = report.TopProducts[:topProductsLimit]
	}

	report.MissingExpenseMonths = []string{}
	for _, month := range months {
		if stats[month].expense == nil {
			report.MissingExpenseMonths = append(report.MissingExpenseMonths, month)
		}
	}

	s.logger(ctx, "analytics.report.computed", map[string]any{
		"start":         start,
		"end":           end,
		"orders":        report.OrdersCount,
		"missingMonths": len(report.MissingExpenseMonths),
	})
	return report, nil
}

// unallocatedExpenses sums the per-month pools that have no revenue order to carry them. Each month
// contributes the share of its length that falls inside [start, end).
func (s *analyticsService) unallocatedExpenses(stats map[string]*monthStats, monthFrom, monthTo, start, end time.Time) float64 {
	var total float64
	for m := monthFrom; m.Before(monthTo); m = m.AddDate(0, 1, 0) {
		st := stats[m.Format(domain.ExpenseMonthLayout)]
		if st == nil || st.expense == nil || st.revenueOrders > 0 {
			continue
		}
		pool := st.expense.Advertising + st.expense.OperatingExpenses()
		if st.expense.PackagingPerOrder == 0 {
			pool += st.expense.Packaging
		}
		next := m.AddDate(0, 1, 0)
		from, to := laterOf(m, start), earlierOf(next, end)
		if pool == 0 || !to.After(from) {
			continue
		}
		total += float64(pool) * float64(to.Sub(from)) / float64(next.Sub(m))
	}
	return total
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func earlierOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// ListCustomers groups orders by shipping email, highest spend first. Cancelled orders count toward
// orders but not spend.
func (s *analyticsService) ListCustomers(ctx context.Context, query CustomerQuery) ([]CustomerSummary, error) {
	var from, to time.Time
	if query.Range != nil {
		var err error
		from, to, err = s.normalizeRange(*query.Range)
		if err != nil {
			return nil, err
		}
	} else {
		to = s.clock().Add(time.Second)
	}

	orders, err := s.orders.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("analytics: load orders: %w", err)
	}

	byEmail := make(map[string]*CustomerSummary)
	for _, order := range orders {
		email := textutil.NormalizeEmail(order.ShippingAddress.Email)
		if email == "" {
			continue
		}
		summary := byEmail[email]
		if summary == nil {
			summary = &CustomerSummary{Email: email}
			byEmail[email] = summary
		}
		summary.OrderCount++
		if isRevenueOrder(order) {
			summary.TotalSpent += order.TotalAmount
		}
		// Orders arrive oldest first, so the latest order wins the contact fields.
		summary.FullName = order.ShippingAddress.FullName
		summary.Phone = order.ShippingAddress.Phone
		if order.UserID != nil {
			summary.UserID = cloneStringPtr(order.UserID)
		}
		if order.CreatedAt.After(summary.LastOrderAt) {
			summary.LastOrderAt = order.CreatedAt
		}
	}

	result := make([]CustomerSummary, 0, len(byEmail))
	for _, summary := range byEmail {
		result = append(result, *summary)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].TotalSpent != result[j].TotalSpent {
			return result[i].TotalSpent > result[j].TotalSpent
		}
		return result[i].Email < result[j].Email
	})
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func (s *analyticsService) normalizeRange(rng ReportRange) (time.Time, time.Time, error) {
	start, end := rng.Start, rng.End
	if start.IsZero() && end.IsZero() {
		now := s.clock().In(s.loc)
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
		end = now.Add(time.Nanosecond)
	}
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start and end are both required", ErrAnalyticsInvalidRange)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end must be after start", ErrAnalyticsInvalidRange)
	}
	if end.Sub(start) > reportMaxSpan {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range exceeds three years", ErrAnalyticsInvalidRange)
	}
	return start.UTC(), end.UTC(), nil
}

// Location exposes the report timezone so handlers parse dates the same way.
func (s *analyticsService) Location() *time.Location {
	return s.loc
}

func (s *analyticsService) monthKey(t time.Time) string {
	return t.In(s.loc).Format(domain.ExpenseMonthLayout)
}

func isRevenueOrder(order Order) bool {
	return !order.Status.Terminal()
}

// unitCost returns the current cost basis of item. Variant cost wins over product cost.
func unitCost(products map[string]Product, item LineItem) (int64, bool) {
	product, ok := products[item.ProductID]
	if !ok {
		return 0, false
	}
	if variantID := derefString(item.VariantID); variantID != "" {
		if variant, ok := product.Variant(variantID); ok && variant.CostPerItem != nil {
			return *variant.CostPerItem, true
		}
	}
	if product.CostPerItem != nil {
		return *product.CostPerItem, true
	}
	return 0, false
}
