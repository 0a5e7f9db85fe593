package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

var (
	// ErrExpenseInvalidInput signals a malformed month or a negative amount.
	ErrExpenseInvalidInput = errors.New("expense: invalid input")
	// ErrExpenseNotFound indicates no record exists for the month.
	ErrExpenseNotFound = errors.New("expense: not found")
)

// ExpenseServiceDeps bundles collaborators for the expense service.
type ExpenseServiceDeps struct {
	Expenses repositories.ExpenseRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type expenseService struct {
	expenses repositories.ExpenseRepository
	clock    func() time.Time
	logger   logFunc
}

func NewExpenseService(deps ExpenseServiceDeps) (ExpenseService, error) {
	if deps.Expenses == nil {
		return nil, errors.New("expense service: expense repository is required")
	}
	return &expenseService{
		expenses: deps.Expenses,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
	}, nil
}

func (s *expenseService) Upsert(ctx context.Context, cmd UpsertExpenseCommand) (Expense, error) {
	month, err := parseExpenseMonth(cmd.Month)
	if err != nil {
		return Expense{}, err
	}
	amounts := map[string]int64{
		"advertising":       cmd.Advertising,
		"packaging":         cmd.Packaging,
		"returnShipping":    cmd.ReturnShipping,
		"staffSalary":       cmd.StaffSalary,
		"rent":              cmd.Rent,
		"utilities":         cmd.Utilities,
		"other":             cmd.Other,
		"packagingPerOrder": cmd.PackagingPerOrder,
		"shippingPerOrder":  cmd.ShippingPerOrder,
	}
	for name, amount := range amounts {
		if amount < 0 {
			return Expense{}, fmt.Errorf("%w: %s must be non-negative", ErrExpenseInvalidInput, name)
		}
	}

	now := s.clock()
	saved, err := s.expenses.Upsert(ctx, Expense{
		Month:             month,
		Advertising:       cmd.Advertising,
		Packaging:         cmd.Packaging,
		ReturnShipping:    cmd.ReturnShipping,
		StaffSalary:       cmd.StaffSalary,
		Rent:              cmd.Rent,
		Utilities:         cmd.Utilities,
		Other:             cmd.Other,
		PackagingPerOrder: cmd.PackagingPerOrder,
		ShippingPerOrder:  cmd.ShippingPerOrder,
		Notes:             strings.TrimSpace(cmd.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return Expense{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "expense.upserted", map[string]any{"month": month})
	return saved, nil
}

func (s *expenseService) Get(ctx context.Context, month string) (Expense, error) {
	key, err := parseExpenseMonth(month)
	if err != nil {
		return Expense{}, err
	}
	expense, err := s.expenses.FindByMonth(ctx, key)
	if err != nil {
		return Expense{}, s.mapRepositoryError(err)
	}
	return expense, nil
}

// List returns the records of year in ascending month order, or every record when year is 0.
func (s *expenseService) List(ctx context.Context, year int) ([]Expense, error) {
	from, to := "", ""
	if year != 0 {
		if year < 2000 || year > 9999 {
			return nil, fmt.Errorf("%w: year %d out of range", ErrExpenseInvalidInput, year)
		}
		from = fmt.Sprintf("%04d-01", year)
		to = fmt.Sprintf("%04d-12", year)
	}
	expenses, err := s.expenses.List(ctx, from, to)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return expenses, nil
}

func (s *expenseService) Delete(ctx context.Context, month string) error {
	key, err := parseExpenseMonth(month)
	if err != nil {
		return err
	}
	if err := s.expenses.Delete(ctx, key); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *expenseService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrExpenseNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("expense: repository unavailable: %w", err)
		}
	}
	return err
}

func parseExpenseMonth(month string) (string, error) {
	month = strings.TrimSpace(month)
	parsed, err := time.Parse(domain.ExpenseMonthLayout, month)
	if err != nil {
		return "", fmt.Errorf("%w: month must be YYYY-MM", ErrExpenseInvalidInput)
	}
	return parsed.Format(domain.ExpenseMonthLayout), nil
}
