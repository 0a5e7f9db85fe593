package domain

import "time"

// ExpenseMonthLayout is the time layout of Expense.Month.
const ExpenseMonthLayout = "2006-01"

// Expense is the monthly cost record entered by the merchant.
type Expense struct {
	Month             string
	Advertising       int64
	Packaging         int64
	ReturnShipping    int64
	StaffSalary       int64
	Rent              int64
	Utilities         int64
	Other             int64
	PackagingPerOrder int64
	ShippingPerOrder  int64
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OperatingExpenses sums the overhead categories allocated as "other expenses".
func (e Expense) OperatingExpenses() int64 {
	return e.StaffSalary + e.Rent + e.Utilities + e.Other
}
