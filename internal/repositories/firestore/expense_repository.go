package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const expensesCollection = "expenses"

// ExpenseRepository stores one document per month, keyed by YYYY-MM.
type ExpenseRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[expenseDocument]
}

var _ repositories.ExpenseRepository = (*ExpenseRepository)(nil)

func NewExpenseRepository(provider *pfirestore.Provider) (*ExpenseRepository, error) {
	if provider == nil {
		return nil, errors.New("expense repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[expenseDocument](provider, expensesCollection, nil)
	return &ExpenseRepository{provider: provider, base: base}, nil
}

// Upsert writes the month, keeping the original createdAt when the month already exists.
func (r *ExpenseRepository) Upsert(ctx context.Context, expense domain.Expense) (domain.Expense, error) {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, expense.Month)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			existing, err := r.base.Decode(snap)
			if err != nil {
				return err
			}
			expense.CreatedAt = existing.CreatedAt
		}
		return tx.Set(ref, encodeExpense(expense))
	})
	if err != nil {
		return domain.Expense{}, err
	}
	return expense, nil
}

func (r *ExpenseRepository) Delete(ctx context.Context, month string) error {
	return r.base.Delete(ctx, month)
}

func (r *ExpenseRepository) FindByMonth(ctx context.Context, month string) (domain.Expense, error) {
	doc, err := r.base.Get(ctx, month)
	if err != nil {
		return domain.Expense{}, err
	}
	return decodeExpense(doc.Data), nil
}

func (r *ExpenseRepository) FindByMonths(ctx context.Context, months []string) (map[string]domain.Expense, error) {
	docs, err := r.base.GetAll(ctx, months)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.Expense, len(docs))
	for _, doc := range docs {
		result[doc.ID] = decodeExpense(doc.Data)
	}
	return result, nil
}

// List returns months in [fromMonth, toMonth]; either bound may be empty.
func (r *ExpenseRepository) List(ctx context.Context, fromMonth, toMonth string) ([]domain.Expense, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if fromMonth != "" {
			q = q.Where("month", ">=", fromMonth)
		}
		if toMonth != "" {
			q = q.Where("month", "<=", toMonth)
		}
		return q.OrderBy("month", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Expense, 0, len(docs))
	for _, doc := range docs {
		result = append(result, decodeExpense(doc.Data))
	}
	return result, nil
}

type expenseDocument struct {
	Month             string    `firestore:"month"`
	Advertising       int64     `firestore:"advertising"`
	Packaging         int64     `firestore:"packaging"`
	ReturnShipping    int64     `firestore:"returnShipping"`
	StaffSalary       int64     `firestore:"staffSalary"`
	Rent              int64     `firestore:"rent"`
	Utilities         int64     `firestore:"utilities"`
	Other             int64     `firestore:"other"`
	PackagingPerOrder int64     `firestore:"packagingPerOrder"`
	ShippingPerOrder  int64     `firestore:"shippingPerOrder"`
	Notes             string    `firestore:"notes"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func encodeExpense(e domain.Expense) expenseDocument {
	doc := expenseDocument(e)
	doc.CreatedAt = e.CreatedAt.UTC()
	doc.UpdatedAt = e.UpdatedAt.UTC()
	return doc
}

func decodeExpense(d expenseDocument) domain.Expense {
	return domain.Expense(d)
}
