package handlers

import (
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/payments"
	"github.com/attarhouse/storefront/internal/services"
)

type totalsPayload struct {
	Subtotal     int64 `json:"subtotal"`
	ShippingCost int64 `json:"shippingCost"`
	Tax          int64 `json:"tax"`
	Discount     int64 `json:"discount"`
	TotalAmount  int64 `json:"totalAmount"`
}

func totalsPayloadFrom(t services.Totals) totalsPayload {
	return totalsPayload{
		Subtotal:     t.Subtotal,
		ShippingCost: t.ShippingCost,
		Tax:          t.Tax,
		Discount:     t.Discount,
		TotalAmount:  t.TotalAmount,
	}
}

func (p *totalsPayload) toDomain() *services.Totals {
	if p == nil {
		return nil
	}
	return &services.Totals{
		Subtotal:     p.Subtotal,
		ShippingCost: p.ShippingCost,
		Tax:          p.Tax,
		Discount:     p.Discount,
		TotalAmount:  p.TotalAmount,
	}
}

type addressPayload struct {
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
}

func (p addressPayload) toDomain() services.ShippingAddress {
	return services.ShippingAddress{
		FullName:   p.FullName,
		Email:      p.Email,
		Phone:      p.Phone,
		Address:    p.Address,
		City:       p.City,
		PostalCode: p.PostalCode,
	}
}

func addressPayloadFrom(a services.ShippingAddress) addressPayload {
	return addressPayload{
		FullName:   a.FullName,
		Email:      a.Email,
		Phone:      a.Phone,
		Address:    a.Address,
		City:       a.City,
		PostalCode: a.PostalCode,
	}
}

type cartLinePayload struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

func (p cartLinePayload) toDomain() services.CartLine {
	return services.CartLine{
		ProductID: strings.TrimSpace(p.ProductID),
		VariantID: strings.TrimSpace(p.VariantID),
		Quantity:  p.Quantity,
	}
}

type lineItemPayload struct {
	Product     string  `json:"product"`
	VariantID   *string `json:"variantId,omitempty"`
	Name        string  `json:"name"`
	Price       int64   `json:"price"`
	Quantity    int     `json:"quantity"`
	Image       string  `json:"image,omitempty"`
	SubCategory string  `json:"subCategory,omitempty"`
}

func lineItemPayloadFrom(item services.LineItem) lineItemPayload {
	return lineItemPayload{
		Product:     item.ProductID,
		VariantID:   item.VariantID,
		Name:        item.Name,
		Price:       item.Price,
		Quantity:    item.Quantity,
		Image:       item.Image,
		SubCategory: item.SubCategory,
	}
}

type statusChangePayload struct {
	From    string `json:"from"`
	To      string `json:"to"`
	ActorID string `json:"actorId,omitempty"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	OrderNumber      string                `json:"orderNumber"`
	User             *string               `json:"user,omitempty"`
	Items            []lineItemPayload     `json:"items"`
	ShippingAddress  addressPayload        `json:"shippingAddress"`
	PaymentMethod    string                `json:"paymentMethod"`
	IsPaid           bool                  `json:"isPaid"`
	PaidAt           string                `json:"paidAt,omitempty"`
	PaymentReference *string               `json:"paymentReference,omitempty"`
	Status           string                `json:"status"`
	Subtotal         int64                 `json:"subtotal"`
	Tax              int64                 `json:"tax"`
	ShippingCost     int64                 `json:"shippingCost"`
	Discount         int64                 `json:"discount"`
	CouponCode       *string               `json:"couponCode,omitempty"`
	TotalAmount      int64                 `json:"totalAmount"`
	CourierCompany   *string               `json:"courierCompany,omitempty"`
	TrackingID       *string               `json:"trackingId,omitempty"`
	IsArchived       bool                  `json:"isArchived"`
	Source           string                `json:"source,omitempty"`
	StatusHistory    []statusChangePayload `json:"statusHistory,omitempty"`
	CreatedAt        string                `json:"createdAt"`
	UpdatedAt        string                `json:"updatedAt"`
}

// buildOrderPayload renders an order; the status history and payment reference are admin-only.
func buildOrderPayload(order services.Order, admin bool) orderPayload {
	items := make([]lineItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemPayloadFrom(item))
	}
	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		User:            order.UserID,
		Items:           items,
		ShippingAddress: addressPayloadFrom(order.ShippingAddress),
		PaymentMethod:   string(order.PaymentMethod),
		IsPaid:          order.IsPaid,
		PaidAt:          formatTimePtr(order.PaidAt),
		Status:          string(order.Status),
		Subtotal:        order.Subtotal,
		Tax:             order.Tax,
		ShippingCost:    order.ShippingCost,
		Discount:        order.Discount,
		CouponCode:      order.CouponCode,
		TotalAmount:     order.TotalAmount,
		CourierCompany:  order.CourierCompany,
		TrackingID:      order.TrackingID,
		IsArchived:      order.IsArchived,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if admin {
		payload.Source = string(order.Source)
		payload.PaymentReference = order.PaymentReference
		for _, change := range order.StatusHistory {
			payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
				From:    string(change.From),
				To:      string(change.To),
				ActorID: change.ActorID,
				Reason:  change.Reason,
				At:      formatTime(change.At),
			})
		}
	}
	return payload
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderList(page domain.CursorPage[services.Order], admin bool) orderListResponse {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order, admin))
	}
	return orderListResponse{Items: items, NextPageToken: page.NextPageToken}
}

type paymentSessionPayload struct {
	Provider    string            `json:"provider"`
	Reference   string            `json:"reference,omitempty"`
	RedirectURL string            `json:"redirectUrl,omitempty"`
	FormAction  string            `json:"formAction,omitempty"`
	FormFields  map[string]string `json:"formFields,omitempty"`
	ExpiresAt   string            `json:"expiresAt,omitempty"`
}

func paymentSessionPayloadFrom(session payments.Session) *paymentSessionPayload {
	return &paymentSessionPayload{
		Provider:    session.Provider,
		Reference:   session.Reference,
		RedirectURL: session.RedirectURL,
		FormAction:  session.FormAction,
		FormFields:  session.FormFields,
		ExpiresAt:   formatTimePtr(session.ExpiresAt),
	}
}

type variantPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	CostPerItem *int64 `json:"costPerItem,omitempty"`
}

type productPayload struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Description string           `json:"description,omitempty"`
	Price       int64            `json:"price"`
	CostPerItem *int64           `json:"costPerItem,omitempty"`
	Stock       int              `json:"stock"`
	CategoryID  string           `json:"category"`
	SubCategory string           `json:"subCategory,omitempty"`
	FragranceID *string          `json:"fragrance,omitempty"`
	FormatID    *string          `json:"format,omitempty"`
	Images      []string         `json:"images"`
	Variants    []variantPayload `json:"variants,omitempty"`
	IsPublished bool             `json:"isPublished"`
	CreatedAt   string           `json:"createdAt,omitempty"`
	UpdatedAt   string           `json:"updatedAt,omitempty"`
}

// buildProductPayload hides the cost basis from storefront callers.
func buildProductPayload(product services.Product, admin bool) productPayload {
	payload := productPayload{
		ID:          product.ID,
		Name:        product.Name,
		Slug:        product.Slug,
		Description: product.Description,
		Price:       product.Price,
		Stock:       product.Stock,
		CategoryID:  product.CategoryID,
		SubCategory: product.SubCategory,
		FragranceID: product.FragranceID,
		FormatID:    product.FormatID,
		Images:      append([]string{}, product.Images...),
		IsPublished: product.IsPublished,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
	if admin {
		payload.CostPerItem = product.CostPerItem
	}
	for _, v := range product.Variants {
		vp := variantPayload{ID: v.ID, Name: v.Name, Price: v.Price, Stock: v.Stock}
		if admin {
			vp.CostPerItem = v.CostPerItem
		}
		payload.Variants = append(payload.Variants, vp)
	}
	return payload
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

type categoryPayload struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	SubCategories []string `json:"subCategories"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

func categoryPayloadFrom(c services.Category) categoryPayload {
	return categoryPayload{
		ID:            c.ID,
		Name:          c.Name,
		Slug:          c.Slug,
		SubCategories: append([]string{}, c.SubCategories...),
		CreatedAt:     formatTime(c.CreatedAt),
		UpdatedAt:     formatTime(c.UpdatedAt),
	}
}

type couponPayload struct {
	Code           string `json:"code"`
	Description    string `json:"description,omitempty"`
	DiscountType   string `json:"discountType"`
	DiscountValue  int64  `json:"discountValue"`
	IsActive       bool   `json:"isActive"`
	StartDate      string `json:"startDate,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
	UsageLimit     *int   `json:"usageLimit,omitempty"`
	MaxUsesPerUser int    `json:"maxUsesPerUser"`
	UsedCount      int    `json:"usedCount"`
	CreatedAt      string `json:"createdAt,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

func couponPayloadFrom(c services.Coupon) couponPayload {
	return couponPayload{
		Code:           c.Code,
		Description:    c.Description,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  c.DiscountValue,
		IsActive:       c.IsActive,
		StartDate:      formatTimePtr(c.StartDate),
		ExpiryDate:     formatTimePtr(c.ExpiryDate),
		UsageLimit:     c.UsageLimit,
		MaxUsesPerUser: c.MaxUsesPerUser,
		UsedCount:      c.UsedCount,
		CreatedAt:      formatTime(c.CreatedAt),
		UpdatedAt:      formatTime(c.UpdatedAt),
	}
}

type couponValidationPayload struct {
	Valid          bool   `json:"valid"`
	Code           string `json:"code,omitempty"`
	DiscountType   string `json:"discountType,omitempty"`
	DiscountValue  int64  `json:"discountValue,omitempty"`
	DiscountAmount int64  `json:"discountAmount"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
}

func couponValidationPayloadFrom(v services.CouponValidation) couponValidationPayload {
	payload := couponValidationPayload{
		Valid:          v.Valid,
		Code:           v.Code,
		DiscountAmount: v.DiscountAmount,
		Reason:         string(v.Reason),
		Message:        v.Message,
	}
	if v.Valid {
		payload.DiscountType = string(v.DiscountType)
		payload.DiscountValue = v.DiscountValue
	}
	return payload
}

type shippingSettingsPayload struct {
	StandardRate          int64 `json:"standardRate"`
	FreeShippingThreshold int64 `json:"freeShippingThreshold"`
}

type taxSettingsPayload struct {
	Enabled bool    `json:"enabled"`
	Rate    float64 `json:"rate"`
}

type subscribeSettingsPayload struct {
	Enabled       bool   `json:"enabled"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
	NewUsersOnly  bool   `json:"newUsersOnly"`
}

type couponSettingsPayload struct {
	Enabled bool `json:"enabled"`
}

type settingsPayload struct {
	ShippingConfig  shippingSettingsPayload   `json:"shippingConfig"`
	TaxConfig       taxSettingsPayload        `json:"taxConfig"`
	SubscribeConfig *subscribeSettingsPayload `json:"subscribeConfig,omitempty"`
	CouponConfig    couponSettingsPayload     `json:"couponConfig"`
	UpdatedAt       string                    `json:"updatedAt,omitempty"`
}

// buildSettingsPayload omits the subscribe discount from the storefront view.
func buildSettingsPayload(s services.Settings, admin bool) settingsPayload {
	payload := settingsPayload{
		ShippingConfig: shippingSettingsPayload{
			StandardRate:          s.Shipping.StandardRate,
			FreeShippingThreshold: s.Shipping.FreeShippingThreshold,
		},
		TaxConfig:    taxSettingsPayload{Enabled: s.Tax.Enabled, Rate: s.Tax.Rate},
		CouponConfig: couponSettingsPayload{Enabled: s.Coupon.Enabled},
		UpdatedAt:    formatTime(s.UpdatedAt),
	}
	if admin {
		payload.SubscribeConfig = &subscribeSettingsPayload{
			Enabled:       s.Subscribe.Enabled,
			DiscountType:  string(s.Subscribe.DiscountType),
			DiscountValue: s.Subscribe.DiscountValue,
			NewUsersOnly:  s.Subscribe.NewUsersOnly,
		}
	}
	return payload
}

type expensePayload struct {
	Month             string `json:"month"`
	Advertising       int64  `json:"advertising"`
	Packaging         int64  `json:"packaging"`
	ReturnShipping    int64  `json:"returnShipping"`
	StaffSalary       int64  `json:"staffSalary"`
	Rent              int64  `json:"rent"`
	Utilities         int64  `json:"utilities"`
	Other             int64  `json:"other"`
	PackagingPerOrder int64  `json:"packagingPerOrder"`
	ShippingPerOrder  int64  `json:"shippingPerOrder"`
	Notes             string `json:"notes,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

func expensePayloadFrom(e services.Expense) expensePayload {
	return expensePayload{
		Month:             e.Month,
		Advertising:       e.Advertising,
		Packaging:         e.Packaging,
		ReturnShipping:    e.ReturnShipping,
		StaffSalary:       e.StaffSalary,
		Rent:              e.Rent,
		Utilities:         e.Utilities,
		Other:             e.Other,
		PackagingPerOrder: e.PackagingPerOrder,
		ShippingPerOrder:  e.ShippingPerOrder,
		Notes:             e.Notes,
		CreatedAt:         formatTime(e.CreatedAt),
		UpdatedAt:         formatTime(e.UpdatedAt),
	}
}

type reviewPayload struct {
	ID        string  `json:"id"`
	ProductID string  `json:"productId"`
	UserID    string  `json:"userId,omitempty"`
	OrderID   *string `json:"orderId,omitempty"`
	Rating    int     `json:"rating"`
	Title     string  `json:"title,omitempty"`
	Body      string  `json:"body"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt,omitempty"`
}

func reviewPayloadFrom(r services.Review, admin bool) reviewPayload {
	payload := reviewPayload{
		ID:        r.ID,
		ProductID: r.ProductID,
		Rating:    r.Rating,
		Title:     r.Title,
		Body:      r.Body,
		Status:    string(r.Status),
		CreatedAt: formatTime(r.CreatedAt),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
	if admin {
		payload.UserID = r.UserID
		payload.OrderID = r.OrderID
	}
	return payload
}

type reviewListResponse struct {
	Items         []reviewPayload `json:"items"`
	NextPageToken string          `json:"nextPageToken,omitempty"`
}

func buildReviewList(page domain.CursorPage[services.Review], admin bool) reviewListResponse {
	items := make([]reviewPayload, 0, len(page.Items))
	for _, review := range page.Items {
		items = append(items, reviewPayloadFrom(review, admin))
	}
	return reviewListResponse{Items: items, NextPageToken: page.NextPageToken}
}

type returnLossesPayload struct {
	Refunds        int64 `json:"refunds"`
	ReturnShipping int64 `json:"returnShipping"`
	Total          int64 `json:"total"`
}

type salesPointPayload struct {
	Date   string `json:"date"`
	Sales  int64  `json:"sales"`
	Orders int    `json:"orders"`
}

type couponUsagePayload struct {
	Code          string `json:"code"`
	UsageCount    int    `json:"usageCount"`
	TotalDiscount int64  `json:"totalDiscountValue"`
}

type topProductPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Revenue   int64  `json:"revenue"`
}

type profitReportPayload struct {
	StartDate              string               `json:"startDate"`
	EndDate                string               `json:"endDate"`
	OrdersCount            int                  `json:"ordersCount"`
	CancelledOrders        int                  `json:"cancelledOrders"`
	CancelledValue         int64                `json:"cancelledValue"`
	ReturnedOrders         int                  `json:"returnedOrders"`
	AverageOrderValue      int64                `json:"averageOrderValue"`
	GrossRevenue           int64                `json:"grossRevenue"`
	NetRevenue             int64                `json:"netRevenue"`
	Subtotal               int64                `json:"subtotal"`
	ShippingCollected      int64                `json:"shippingCollected"`
	TaxCollected           int64                `json:"taxCollected"`
	DiscountGiven          int64                `json:"discountGiven"`
	COGS                   int64                `json:"cogs"`
	ItemsMissingCost       int                  `json:"itemsMissingCost"`
	DeliveryCost           int64                `json:"deliveryCost"`
	EstimatedDeliveryCost  int64                `json:"estimatedDeliveryCost"`
	DeliveryCostIsEstimate bool                 `json:"deliveryCostIsEstimate"`
	PackagingCost          int64                `json:"totalPackagingCost"`
	AdvertisingCost        int64                `json:"advertisingCost"`
	OtherExpenses          int64                `json:"otherExpenses"`
	ReturnShippingLoss     int64                `json:"returnShippingLoss"`
	ReturnLosses           returnLossesPayload  `json:"returnLosses"`
	UnallocatedExpenses    int64                `json:"unallocatedExpenses"`
	GrossProfit            int64                `json:"grossProfit"`
	NetProfit              int64                `json:"netProfit"`
	GrossMargin            float64              `json:"grossMargin"`
	NetMargin              float64              `json:"netMargin"`
	SalesHistory           []salesPointPayload  `json:"salesHistory"`
	CouponUsage            []couponUsagePayload `json:"couponUsage"`
	TopProducts            []topProductPayload  `json:"topProducts"`
	MissingExpenseMonths   []string             `json:"missingExpenseMonths"`
}

// buildReportPayload renders dates in the report timezone; endDate is the inclusive last day.
func buildReportPayload(report services.ProfitReport, loc *time.Location) profitReportPayload {
	if loc == nil {
		loc = time.UTC
	}
	payload := profitReportPayload{
		StartDate:              report.StartDate.In(loc).Format(time.DateOnly),
		EndDate:                report.EndDate.Add(-time.Nanosecond).In(loc).Format(time.DateOnly),
		OrdersCount:            report.OrdersCount,
		CancelledOrders:        report.CancelledOrders,
		CancelledValue:         report.CancelledValue,
		ReturnedOrders:         report.ReturnedOrders,
		AverageOrderValue:      report.AverageOrderValue,
		GrossRevenue:           report.GrossRevenue,
		NetRevenue:             report.NetRevenue,
		Subtotal:               report.Subtotal,
		ShippingCollected:      report.ShippingCollected,
		TaxCollected:           report.TaxCollected,
		DiscountGiven:          report.DiscountGiven,
		COGS:                   report.COGS,
		ItemsMissingCost:       report.ItemsMissingCost,
		DeliveryCost:           report.DeliveryCost,
		EstimatedDeliveryCost:  report.EstimatedDeliveryCost,
		DeliveryCostIsEstimate: report.DeliveryCostIsEstimate,
		PackagingCost:          report.PackagingCost,
		AdvertisingCost:        report.AdvertisingCost,
		OtherExpenses:          report.OtherExpenses,
		ReturnShippingLoss:     report.ReturnLosses.ReturnShipping,
		ReturnLosses: returnLossesPayload{
			Refunds:        report.ReturnLosses.Refunds,
			ReturnShipping: report.ReturnLosses.ReturnShipping,
			Total:          report.ReturnLosses.Total,
		},
		UnallocatedExpenses:  report.UnallocatedExpenses,
		GrossProfit:          report.GrossProfit,
		NetProfit:            report.NetProfit,
		GrossMargin:          report.GrossMargin,
		NetMargin:            report.NetMargin,
		SalesHistory:         make([]salesPointPayload, 0, len(report.SalesHistory)),
		CouponUsage:          make([]couponUsagePayload, 0, len(report.CouponUsage)),
		TopProducts:          make([]topProductPayload, 0, len(report.TopProducts)),
		MissingExpenseMonths: append([]string{}, report.MissingExpenseMonths...),
	}
	for _, point := range report.SalesHistory {
		payload.SalesHistory = append(payload.SalesHistory, salesPointPayload{Date: point.Date, Sales: point.Sales, Orders: point.Orders})
	}
	for _, usage := range report.CouponUsage {
		payload.CouponUsage = append(payload.CouponUsage, couponUsagePayload{Code: usage.Code, UsageCount: usage.UsageCount, TotalDiscount: usage.TotalDiscount})
	}
	for _, top := range report.TopProducts {
		payload.TopProducts = append(payload.TopProducts, topProductPayload{ProductID: top.ProductID, Name: top.Name, Quantity: top.Quantity, Revenue: top.Revenue})
	}
	return payload
}

type customerPayload struct {
	Email       string  `json:"email"`
	FullName    string  `json:"fullName"`
	Phone       string  `json:"phone,omitempty"`
	UserID      *string `json:"userId,omitempty"`
	OrderCount  int     `json:"orderCount"`
	TotalSpent  int64   `json:"totalSpent"`
	LastOrderAt string  `json:"lastOrderAt"`
}

func customerPayloadFrom(c services.CustomerSummary) customerPayload {
	return customerPayload{
		Email:       c.Email,
		FullName:    c.FullName,
		Phone:       c.Phone,
		UserID:      c.UserID,
		OrderCount:  c.OrderCount,
		TotalSpent:  c.TotalSpent,
		LastOrderAt: formatTime(c.LastOrderAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
