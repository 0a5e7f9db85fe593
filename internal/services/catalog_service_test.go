package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/repositories"
)

type stubImageSigner struct {
	paths        []string
	contentTypes []string
}

func (s *stubImageSigner) SignedUploadURL(_ context.Context, objectPath, contentType string) (SignedUpload, error) {
	s.paths = append(s.paths, objectPath)
	s.contentTypes = append(s.contentTypes, contentType)
	return SignedUpload{
		URL:       "https://storage.example/upload/" + objectPath,
		Method:    "PUT",
		ObjectURL: "https://cdn.example/" + objectPath,
		Headers:   map[string]string{"Content-Type": contentType},
	}, nil
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ID%04d", n)
	}
}

func newTestCatalog(t *testing.T) (CatalogService, *storeHarness, *stubImageSigner) {
	t.Helper()
	h := newStoreHarness(t)
	signer := &stubImageSigner{}
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    h.repos.Products(),
		Categories:  h.repos.Categories(),
		Images:      signer,
		Clock:       func() time.Time { return h.now },
		IDGenerator: sequentialIDs(),
	})
	require.NoError(t, err)
	return svc, h, signer
}

func createAttarCategory(t *testing.T, svc CatalogService) Category {
	t.Helper()
	category, err := svc.CreateCategory(context.Background(), UpsertCategoryCommand{
		Name:          "Attars",
		SubCategories: []string{"Oud", " Musk ", "Oud", ""},
	})
	require.NoError(t, err)
	return category
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Royal Oud":           "royal-oud",
		"  Rosé & Amber 12ml": "rose-amber-12ml",
		"---":                 "",
		"Musk (Tahara)!":      "musk-tahara",
	}
	for input, want := range cases {
		require.Equal(t, want, Slugify(input), input)
	}
}

func TestCatalogCreateCategoryDedupesSubCategories(t *testing.T) {
	svc, _, _ := newTestCatalog(t)
	category := createAttarCategory(t, svc)

	require.Equal(t, "attars", category.Slug)
	require.Equal(t, []string{"Oud", "Musk"}, category.SubCategories)

	_, err := svc.CreateCategory(context.Background(), UpsertCategoryCommand{Name: "ATTARS"})
	require.ErrorIs(t, err, ErrCatalogConflict)
}

func TestCatalogCreateProductSanitizesAndValidates(t *testing.T) {
	svc, _, _ := newTestCatalog(t)
	ctx := context.Background()
	category := createAttarCategory(t, svc)

	product, err := svc.CreateProduct(ctx, UpsertProductCommand{
		Name:        " Royal Oud ",
		Description: `<p>Smoky <b>oud</b><script>alert(1)</script></p>`,
		Price:       4500,
		Stock:       12,
		CategoryID:  category.ID,
		SubCategory: "Oud",
		Images:      []string{" https://cdn.example/a.jpg ", ""},
		Variants:    []ProductVariant{{Name: "6ml", Price: 2500, Stock: 4}},
		IsPublished: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Royal Oud", product.Name)
	require.Equal(t, "royal-oud", product.Slug)
	require.NotContains(t, product.Description, "script")
	require.Contains(t, product.Description, "<b>oud</b>")
	require.Equal(t, []string{"https://cdn.example/a.jpg"}, product.Images)
	require.Len(t, product.Variants, 1)
	require.NotEmpty(t, product.Variants[0].ID)

	invalid := map[string]UpsertProductCommand{
		"missing name":      {Price: 10, CategoryID: category.ID},
		"negative price":    {Name: "X", Price: -1, CategoryID: category.ID},
		"unknown category":  {Name: "X", Price: 10, CategoryID: "cat_missing"},
		"wrong subcategory": {Name: "X", Price: 10, CategoryID: category.ID, SubCategory: "Bakhoor"},
		"unnamed variant":   {Name: "X", Price: 10, CategoryID: category.ID, Variants: []ProductVariant{{Price: 5}}},
	}
	for name, cmd := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateProduct(ctx, cmd)
			require.ErrorIs(t, err, ErrCatalogInvalidInput)
		})
	}
}

func TestCatalogSlugCollisions(t *testing.T) {
	svc, _, _ := newTestCatalog(t)
	ctx := context.Background()
	category := createAttarCategory(t, svc)

	first, err := svc.CreateProduct(ctx, UpsertProductCommand{Name: "Royal Oud", Price: 100, CategoryID: category.ID})
	require.NoError(t, err)
	second, err := svc.CreateProduct(ctx, UpsertProductCommand{Name: "Royal Oud", Price: 100, CategoryID: category.ID})
	require.NoError(t, err)
	require.NotEqual(t, first.Slug, second.Slug)
	require.Regexp(t, `^royal-oud-[a-z0-9]{6}$`, second.Slug)

	_, err = svc.CreateProduct(ctx, UpsertProductCommand{Name: "Other", Slug: "royal-oud", Price: 100, CategoryID: category.ID})
	require.ErrorIs(t, err, ErrCatalogConflict)

	found, err := svc.GetProductBySlug(ctx, "royal-oud")
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
}

func TestCatalogUpdateKeepsStock(t *testing.T) {
	svc, h, _ := newTestCatalog(t)
	ctx := context.Background()
	category := createAttarCategory(t, svc)

	product, err := svc.CreateProduct(ctx, UpsertProductCommand{
		Name: "Royal Oud", Price: 4500, Stock: 12, CategoryID: category.ID,
		Variants: []ProductVariant{{ID: "var_6ml", Name: "6ml", Price: 2500, Stock: 4}},
	})
	require.NoError(t, err)

	h.now = h.now.Add(time.Hour)
	updated, err := svc.UpdateProduct(ctx, UpsertProductCommand{
		ProductID: product.ID, Name: "Royal Oud", Price: 4800, Stock: 999, CategoryID: category.ID,
		Variants: []ProductVariant{{ID: "var_6ml", Name: "6ml", Price: 2600, Stock: 999}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 4800, updated.Price)
	require.Equal(t, 12, updated.Stock)
	require.Equal(t, 4, updated.Variants[0].Stock)
	require.EqualValues(t, 2600, updated.Variants[0].Price)
	require.Equal(t, product.CreatedAt, updated.CreatedAt)
	require.Equal(t, h.now, updated.UpdatedAt)

	_, err = svc.UpdateProduct(ctx, UpsertProductCommand{ProductID: "prd_missing", Name: "X", CategoryID: category.ID})
	require.ErrorIs(t, err, ErrCatalogNotFound)
}

// reservingProductRepo reserves stock right before each definition write, the way a checkout
// running between UpdateProduct's read and write would.
type reservingProductRepo struct {
	repositories.ProductRepository
	lines []repositories.StockLine
}

func (r *reservingProductRepo) Update(ctx context.Context, product domain.Product) error {
	if err := r.ProductRepository.ReserveStock(ctx, r.lines); err != nil {
		return err
	}
	return r.ProductRepository.Update(ctx, product)
}

func TestCatalogUpdateDoesNotUndoConcurrentReservation(t *testing.T) {
	h := newStoreHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 4500, 5, domain.ProductVariant{ID: "var_6ml", Name: "6ml", Price: 2500, Stock: 4})
	repo := &reservingProductRepo{
		ProductRepository: h.repos.Products(),
		lines: []repositories.StockLine{
			{ProductID: "prd_oud", Quantity: 3},
			{ProductID: "prd_oud", VariantID: "var_6ml", Quantity: 1},
		},
	}
	svc, err := NewCatalogService(CatalogServiceDeps{
		Products:    repo,
		Categories:  h.repos.Categories(),
		Clock:       func() time.Time { return h.now },
		IDGenerator: sequentialIDs(),
	})
	require.NoError(t, err)
	category := createAttarCategory(t, svc)

	updated, err := svc.UpdateProduct(ctx, UpsertProductCommand{
		ProductID: "prd_oud", Name: "Royal Oud", Price: 4800, CategoryID: category.ID,
		Variants: []ProductVariant{
			{ID: "var_6ml", Name: "6ml", Price: 2600},
			{ID: "var_12ml", Name: "12ml", Price: 4000, Stock: 2},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, updated.Stock)
	require.Equal(t, 2, h.stockOf(t, "prd_oud"))

	stored, err := h.repos.Products().FindByID(ctx, "prd_oud")
	require.NoError(t, err)
	require.EqualValues(t, 4800, stored.Price)
	small, _ := stored.Variant("var_6ml")
	require.Equal(t, 3, small.Stock)
	require.EqualValues(t, 2600, small.Price)
	large, ok := stored.Variant("var_12ml")
	require.True(t, ok)
	require.Equal(t, 2, large.Stock, "a new variant starts with its opening stock")
}

func TestCatalogDeleteCategoryInUse(t *testing.T) {
	svc, _, _ := newTestCatalog(t)
	ctx := context.Background()
	category := createAttarCategory(t, svc)
	product, err := svc.CreateProduct(ctx, UpsertProductCommand{Name: "Royal Oud", Price: 100, CategoryID: category.ID})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteCategory(ctx, category.ID), ErrCatalogConflict)
	require.NoError(t, svc.DeleteProduct(ctx, product.ID))
	require.NoError(t, svc.DeleteCategory(ctx, category.ID))

	categories, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	require.Empty(t, categories)
}

func TestCatalogProductImageUploadURL(t *testing.T) {
	svc, h, signer := newTestCatalog(t)
	ctx := context.Background()
	h.addProduct(t, "prd_oud", 4500, 3)

	upload, err := svc.ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_oud", FileName: "bottle", ContentType: "IMAGE/WEBP"})
	require.NoError(t, err)
	require.Equal(t, "PUT", upload.Method)
	require.Equal(t, []string{"products/prd_oud/images/id0001.webp"}, signer.paths)
	require.Equal(t, []string{"image/webp"}, signer.contentTypes)

	_, err = svc.ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_oud", FileName: "x.gif", ContentType: "image/gif"})
	require.ErrorIs(t, err, ErrCatalogInvalidInput)
	_, err = svc.ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_missing", FileName: "x.png", ContentType: "image/png"})
	require.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestCatalogListProductsFiltersPublished(t *testing.T) {
	svc, h, _ := newTestCatalog(t)
	ctx := context.Background()
	h.addProduct(t, "prd_a", 100, 1)
	hidden := h.addProduct(t, "prd_b", 100, 1)
	hidden.IsPublished = false
	require.NoError(t, h.repos.Products().Update(ctx, hidden))

	page, err := svc.ListProducts(ctx, ProductListFilter{PublishedOnly: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "prd_a", page.Items[0].ID)

	all, err := svc.ListProducts(ctx, ProductListFilter{})
	require.NoError(t, err)
	require.Len(t, all.Items, 2)
	require.IsType(t, domain.Product{}, all.Items[0])
}
