package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/pagination"
	"github.com/attarhouse/storefront/internal/repositories"
)

// ProductRepository stores products in memory. Stock changes happen under the same lock as the
// availability check, which makes them conditional and atomic.
type ProductRepository struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository() *ProductRepository {
	return &ProductRepository{products: make(map[string]domain.Product)}
}

func (r *ProductRepository) Insert(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[product.ID]; ok {
		return conflict("product.insert", product.ID)
	}
	for _, existing := range r.products {
		if existing.Slug != "" && existing.Slug == product.Slug {
			return conflict("product.insert", product.Slug)
		}
	}
	r.products[product.ID] = cloneProduct(product)
	return nil
}

// Update replaces the definition but keeps the stored stock counters, read under the same lock.
func (r *ProductRepository) Update(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.products[product.ID]
	if !ok {
		return notFound("product.update", product.ID)
	}
	r.products[product.ID] = cloneProduct(repositories.KeepStoredStock(stored, product))
	return nil
}

func (r *ProductRepository) Delete(_ context.Context, productID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[productID]; !ok {
		return notFound("product.delete", productID)
	}
	delete(r.products, productID)
	return nil
}

func (r *ProductRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, notFound("product.get", productID)
	}
	return cloneProduct(product), nil
}

func (r *ProductRepository) FindBySlug(_ context.Context, slug string) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, product := range r.products {
		if product.Slug == slug {
			return cloneProduct(product), nil
		}
	}
	return domain.Product{}, notFound("product.getBySlug", slug)
}

func (r *ProductRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.products[id]; ok {
			result[id] = cloneProduct(product)
		}
	}
	return result, nil
}

func (r *ProductRepository) List(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	r.mu.Lock()
	matched := make([]domain.Product, 0, len(r.products))
	for _, product := range r.products {
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.SubCategory != "" && product.SubCategory != filter.SubCategory {
			continue
		}
		if filter.PublishedOnly && !product.IsPublished {
			continue
		}
		matched = append(matched, cloneProduct(product))
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	items, next, err := pagination.Window(matched, filter.Pagination)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return domain.CursorPage[domain.Product]{Items: items, NextPageToken: next}, nil
}

func (r *ProductRepository) CountByCategory(_ context.Context, categoryID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, product := range r.products {
		if product.CategoryID == categoryID {
			count++
		}
	}
	return count, nil
}

func (r *ProductRepository) ReserveStock(_ context.Context, lines []repositories.StockLine) error {
	lines = repositories.MergeStockLines(lines)
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check every line before touching any of them.
	for _, line := range lines {
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorInvalidInput, line, "quantity must be positive")
		}
		available, err := r.availableLocked(line)
		if err != nil {
			return err
		}
		if available < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInsufficient, line, "insufficient stock")
		}
	}
	for _, line := range lines {
		r.adjustLocked(line, -line.Quantity)
	}
	return nil
}

func (r *ProductRepository) RestoreStock(_ context.Context, line repositories.StockLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.availableLocked(line); err != nil {
		return err
	}
	r.adjustLocked(line, line.Quantity)
	return nil
}

func (r *ProductRepository) SetStock(_ context.Context, line repositories.StockLine, updatedAt time.Time) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.availableLocked(line)
	if err != nil {
		return domain.Product{}, err
	}
	r.adjustLocked(line, line.Quantity-current)
	product := r.products[line.ProductID]
	product.UpdatedAt = updatedAt
	r.products[line.ProductID] = product
	return cloneProduct(product), nil
}

func (r *ProductRepository) ListLowStock(_ context.Context, threshold int) ([]domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Product
	for _, product := range r.products {
		low := product.Stock <= threshold
		for _, variant := range product.Variants {
			if variant.Stock <= threshold {
				low = true
			}
		}
		if low {
			result = append(result, cloneProduct(product))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *ProductRepository) availableLocked(line repositories.StockLine) (int, error) {
	product, ok := r.products[line.ProductID]
	if !ok {
		return 0, repositories.NewStockError(repositories.StockErrorProductNotFound, line, "product not found")
	}
	if line.VariantID == "" {
		return product.Stock, nil
	}
	variant, ok := product.Variant(line.VariantID)
	if !ok {
		return 0, repositories.NewStockError(repositories.StockErrorProductNotFound, line, "variant not found")
	}
	return variant.Stock, nil
}

func (r *ProductRepository) adjustLocked(line repositories.StockLine, delta int) {
	product := r.products[line.ProductID]
	if line.VariantID == "" {
		product.Stock += delta
	} else {
		for i := range product.Variants {
			if product.Variants[i].ID == line.VariantID {
				product.Variants[i].Stock += delta
			}
		}
	}
	r.products[line.ProductID] = product
}

func cloneProduct(p domain.Product) domain.Product {
	p.Images = append([]string(nil), p.Images...)
	p.Variants = append([]domain.ProductVariant(nil), p.Variants...)
	return p
}
