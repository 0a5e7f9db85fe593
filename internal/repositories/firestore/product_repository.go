package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists products. Stock counters live on the product document and are only
// changed inside transactions that re-read them first.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert creates the product, rejecting duplicate IDs and slugs in the same transaction.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product repository: product id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if product.Slug != "" {
			taken, err := slugTaken(tx, client.Collection(productsCollection), product.Slug, product.ID)
			if err != nil {
				return err
			}
			if taken {
				return pfirestore.ConflictError("products.insert", product.Slug)
			}
		}
		ref, err := r.base.DocumentRef(ctx, product.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, encodeProduct(product))
	})
}

// Update replaces the product definition. Stock is never written here: the product-level counter
// is left out of the update and variant counters are carried over from the snapshot read in the
// same transaction. SetStock and the reservation paths own stock.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, product.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored productDocument
		if err := snap.DataTo(&stored); err != nil {
			return err
		}
		if product.Slug != "" {
			taken, err := slugTaken(tx, client.Collection(productsCollection), product.Slug, product.ID)
			if err != nil {
				return err
			}
			if taken {
				return pfirestore.ConflictError("products.update", product.Slug)
			}
		}
		merged := repositories.KeepStoredStock(decodeProduct(product.ID, stored), product)
		doc := encodeProduct(merged)
		return tx.Update(ref, doc.definitionUpdates())
	})
}

func slugTaken(tx *firestore.Transaction, coll *firestore.CollectionRef, slug, selfID string) (bool, error) {
	iter := tx.Documents(coll.Where("slug", "==", slug).Limit(2))
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if snap.Ref.ID != selfID {
			return true, nil
		}
	}
}

func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	return r.base.Delete(ctx, productID)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.NotFoundError("products.get_by_slug", slug)
	}
	return decodeProduct(docs[0].ID, docs[0].Data), nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	result := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		result[doc.ID] = decodeProduct(doc.ID, doc.Data)
	}
	return result, nil
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	var fetch int
	var pageErr error
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CategoryID != "" {
			q = q.Where("categoryId", "==", filter.CategoryID)
		}
		if filter.SubCategory != "" {
			q = q.Where("subCategory", "==", filter.SubCategory)
		}
		if filter.PublishedOnly {
			q = q.Where("isPublished", "==", true)
		}
		q, fetch, pageErr = newestFirst(q, filter.Pagination)
		return q
	})
	if pageErr != nil {
		return domain.CursorPage[domain.Product]{}, pageErr
	}
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return pageOf(docs, fetch, func(d productDocument) time.Time { return d.CreatedAt }, decodeProduct)
}

// CountByCategory runs a server-side count aggregation.
func (r *ProductRepository) CountByCategory(ctx context.Context, categoryID string) (int, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(productsCollection).
		Where("categoryId", "==", categoryID)
	agg := query.
		NewAggregationQuery().
		WithCount("count")
	result, err := agg.Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("products.count_by_category", err)
	}
	value, ok := result["count"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("products.count_by_category: unexpected aggregation result %T", result["count"])
	}
	return int(value.GetIntegerValue()), nil
}

// ReserveStock reads every affected product, verifies availability and writes the decrements in
// one transaction, so either all lines are reserved or none are.
func (r *ProductRepository) ReserveStock(ctx context.Context, lines []repositories.StockLine) error {
	lines = repositories.MergeStockLines(lines)
	for _, line := range lines {
		if line.Quantity <= 0 || strings.TrimSpace(line.ProductID) == "" {
			return repositories.NewStockError(repositories.StockErrorInvalidInput, line, "quantity must be positive")
		}
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, refs, err := r.readForStock(ctx, tx, lines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			doc := docs[line.ProductID]
			available, err := doc.available(line)
			if err != nil {
				return err
			}
			if available < line.Quantity {
				return repositories.NewStockError(repositories.StockErrorInsufficient, line, "insufficient stock")
			}
			doc.adjust(line, -line.Quantity)
		}
		for id, doc := range docs {
			if err := tx.Update(refs[id], doc.stockUpdates()); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxOp("products.reserve_stock"))
	return unwrapStockError("products.reserve_stock", err)
}

func (r *ProductRepository) RestoreStock(ctx context.Context, line repositories.StockLine) error {
	if line.Quantity <= 0 {
		return repositories.NewStockError(repositories.StockErrorInvalidInput, line, "quantity must be positive")
	}
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, refs, err := r.readForStock(ctx, tx, []repositories.StockLine{line})
		if err != nil {
			return err
		}
		doc := docs[line.ProductID]
		if _, err := doc.available(line); err != nil {
			return err
		}
		doc.adjust(line, line.Quantity)
		return tx.Update(refs[line.ProductID], doc.stockUpdates())
	}, pfirestore.WithTxOp("products.restore_stock"))
	return unwrapStockError("products.restore_stock", err)
}

func (r *ProductRepository) SetStock(ctx context.Context, line repositories.StockLine, updatedAt time.Time) (domain.Product, error) {
	if line.Quantity < 0 {
		return domain.Product{}, repositories.NewStockError(repositories.StockErrorInvalidInput, line, "stock cannot be negative")
	}
	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, refs, err := r.readForStock(ctx, tx, []repositories.StockLine{line})
		if err != nil {
			return err
		}
		doc := docs[line.ProductID]
		current, err := doc.available(line)
		if err != nil {
			return err
		}
		doc.adjust(line, line.Quantity-current)
		doc.UpdatedAt = updatedAt.UTC()
		updates := append(doc.stockUpdates(), firestore.Update{Path: "updatedAt", Value: doc.UpdatedAt})
		if err := tx.Update(refs[line.ProductID], updates); err != nil {
			return err
		}
		updated = decodeProduct(line.ProductID, *doc)
		return nil
	})
	if err != nil {
		return domain.Product{}, unwrapStockError("products.set_stock", err)
	}
	return updated, nil
}

// ListLowStock scans the catalog; variant stock lives inside an array and cannot be range-filtered
// server side.
func (r *ProductRepository) ListLowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	docs, err := r.base.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	var result []domain.Product
	for _, doc := range docs {
		low := doc.Data.Stock <= threshold
		for _, variant := range doc.Data.Variants {
			if variant.Stock <= threshold {
				low = true
			}
		}
		if low {
			result = append(result, decodeProduct(doc.ID, doc.Data))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *ProductRepository) readForStock(ctx context.Context, tx *firestore.Transaction, lines []repositories.StockLine) (map[string]*productDocument, map[string]*firestore.DocumentRef, error) {
	docs := make(map[string]*productDocument, len(lines))
	refs := make(map[string]*firestore.DocumentRef, len(lines))
	var ordered []*firestore.DocumentRef
	for _, line := range lines {
		if _, ok := refs[line.ProductID]; ok {
			continue
		}
		ref, err := r.base.DocumentRef(ctx, line.ProductID)
		if err != nil {
			return nil, nil, err
		}
		refs[line.ProductID] = ref
		ordered = append(ordered, ref)
	}
	snaps, err := tx.GetAll(ordered)
	if err != nil {
		return nil, nil, err
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			line := lineFor(lines, snap.Ref.ID)
			return nil, nil, repositories.NewStockError(repositories.StockErrorProductNotFound, line, "product not found")
		}
		doc, err := r.base.Decode(snap)
		if err != nil {
			return nil, nil, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		docs[snap.Ref.ID] = &doc
	}
	return docs, refs, nil
}

func lineFor(lines []repositories.StockLine, productID string) repositories.StockLine {
	for _, line := range lines {
		if line.ProductID == productID {
			return line
		}
	}
	return repositories.StockLine{ProductID: productID}
}

// unwrapStockError returns typed stock errors as-is so services can branch on their code.
func unwrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		stockErr.Op = op
		return stockErr
	}
	if status.Code(err) == codes.NotFound {
		return pfirestore.NotFoundError(op, "product")
	}
	return pfirestore.WrapError(op, err)
}

type productDocument struct {
	Name        string                   `firestore:"name"`
	Slug        string                   `firestore:"slug"`
	Description string                   `firestore:"description"`
	Price       int64                    `firestore:"price"`
	CostPerItem *int64                   `firestore:"costPerItem,omitempty"`
	Stock       int                      `firestore:"stock"`
	CategoryID  string                   `firestore:"categoryId"`
	SubCategory string                   `firestore:"subCategory"`
	FragranceID *string                  `firestore:"fragranceId,omitempty"`
	FormatID    *string                  `firestore:"formatId,omitempty"`
	Images      []string                 `firestore:"images"`
	Variants    []productVariantDocument `firestore:"variants"`
	IsPublished bool                     `firestore:"isPublished"`
	CreatedAt   time.Time                `firestore:"createdAt"`
	UpdatedAt   time.Time                `firestore:"updatedAt"`
}

type productVariantDocument struct {
	ID          string `firestore:"id"`
	Name        string `firestore:"name"`
	Price       int64  `firestore:"price"`
	Stock       int    `firestore:"stock"`
	CostPerItem *int64 `firestore:"costPerItem,omitempty"`
}

func (d *productDocument) available(line repositories.StockLine) (int, error) {
	if line.VariantID == "" {
		return d.Stock, nil
	}
	for _, v := range d.Variants {
		if v.ID == line.VariantID {
			return v.Stock, nil
		}
	}
	return 0, repositories.NewStockError(repositories.StockErrorProductNotFound, line, "variant not found")
}

func (d *productDocument) adjust(line repositories.StockLine, delta int) {
	if line.VariantID == "" {
		d.Stock += delta
		return
	}
	for i := range d.Variants {
		if d.Variants[i].ID == line.VariantID {
			d.Variants[i].Stock += delta
		}
	}
}

// definitionUpdates lists every field an admin edit may change. The product-level stock is absent;
// variants carry the stock merged from the transaction snapshot.
func (d *productDocument) definitionUpdates() []firestore.Update {
	return []firestore.Update{
		{Path: "name", Value: d.Name},
		{Path: "slug", Value: d.Slug},
		{Path: "description", Value: d.Description},
		{Path: "price", Value: d.Price},
		{Path: "costPerItem", Value: optionalField(d.CostPerItem)},
		{Path: "categoryId", Value: d.CategoryID},
		{Path: "subCategory", Value: d.SubCategory},
		{Path: "fragranceId", Value: optionalField(d.FragranceID)},
		{Path: "formatId", Value: optionalField(d.FormatID)},
		{Path: "images", Value: d.Images},
		{Path: "variants", Value: d.Variants},
		{Path: "isPublished", Value: d.IsPublished},
		{Path: "updatedAt", Value: d.UpdatedAt},
	}
}

// optionalField deletes the field for a nil pointer, matching omitempty on create.
func optionalField[T any](v *T) any {
	if v == nil {
		return firestore.Delete
	}
	return *v
}

func (d *productDocument) stockUpdates() []firestore.Update {
	return []firestore.Update{
		{Path: "stock", Value: d.Stock},
		{Path: "variants", Value: d.Variants},
	}
}

func encodeProduct(p domain.Product) productDocument {
	variants := make([]productVariantDocument, 0, len(p.Variants))
	for _, v := range p.Variants {
		variants = append(variants, productVariantDocument{
			ID:          v.ID,
			Name:        v.Name,
			Price:       v.Price,
			Stock:       v.Stock,
			CostPerItem: v.CostPerItem,
		})
	}
	images := p.Images
	if images == nil {
		images = []string{}
	}
	return productDocument{
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Price:       p.Price,
		CostPerItem: p.CostPerItem,
		Stock:       p.Stock,
		CategoryID:  p.CategoryID,
		SubCategory: p.SubCategory,
		FragranceID: p.FragranceID,
		FormatID:    p.FormatID,
		Images:      images,
		Variants:    variants,
		IsPublished: p.IsPublished,
		CreatedAt:   p.CreatedAt.UTC(),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func decodeProduct(id string, d productDocument) domain.Product {
	var variants []domain.ProductVariant
	for _, v := range d.Variants {
		variants = append(variants, domain.ProductVariant{
			ID:          v.ID,
			Name:        v.Name,
			Price:       v.Price,
			Stock:       v.Stock,
			CostPerItem: v.CostPerItem,
		})
	}
	return domain.Product{
		ID:          id,
		Name:        d.Name,
		Slug:        d.Slug,
		Description: d.Description,
		Price:       d.Price,
		CostPerItem: d.CostPerItem,
		Stock:       d.Stock,
		CategoryID:  d.CategoryID,
		SubCategory: d.SubCategory,
		FragranceID: d.FragranceID,
		FormatID:    d.FormatID,
		Images:      append([]string(nil), d.Images...),
		Variants:    variants,
		IsPublished: d.IsPublished,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
