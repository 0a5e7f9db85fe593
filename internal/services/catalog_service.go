package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	domain "github.com/attarhouse/storefront/internal/domain"
	"github.com/attarhouse/storefront/internal/platform/storage"
	"github.com/attarhouse/storefront/internal/repositories"
)

const (
	productIDPrefix  = "prd_"
	categoryIDPrefix = "cat_"
	variantIDPrefix  = "var_"

	productNameMaxLength        = 160
	productDescriptionMaxLength = 8000
	productMaxImages            = 12
	productMaxVariants          = 20
)

var (
	// ErrCatalogInvalidInput signals invalid product or category data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product or category does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates a duplicate slug or a category still in use.
	ErrCatalogConflict = errors.New("catalog: conflict")
	// ErrCatalogUnavailable indicates an optional dependency such as image signing is not configured.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

var allowedImageContentTypes = []string{"image/jpeg", "image/png", "image/webp", "image/avif"}

// CatalogServiceDeps bundles collaborators for the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Categories  repositories.CategoryRepository
	Images      ImageSigner
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products   repositories.ProductRepository
	categories repositories.CategoryRepository
	images     ImageSigner
	policy     *bluemonday.Policy
	clock      func() time.Time
	newID      func() string
	logger     logFunc
}

func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("catalog service: category repository is required")
	}
	return &catalogService{
		products:   deps.Products,
		categories: deps.Categories,
		images:     deps.Images,
		policy:     newDescriptionPolicy(),
		clock:      utcClock(deps.Clock),
		newID:      ulidGenerator(deps.IDGenerator),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span", "ul", "li")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

var slugStripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lower-cases value, strips accents and joins alphanumeric runs with dashes.
func Slugify(value string) string {
	folded, _, err := transform.String(slugStripMarks, value)
	if err != nil {
		folded = value
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.buildProduct(ctx, cmd, nil)
	if err != nil {
		return Product{}, err
	}
	now := s.clock()
	product.ID = productIDPrefix + s.newID()
	product.CreatedAt = now
	product.UpdatedAt = now
	if product.Slug, err = s.uniqueSlug(ctx, product.Slug, strings.TrimSpace(cmd.Slug) != "", ""); err != nil {
		return Product{}, err
	}
	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "catalog.product.created", map[string]any{"productId": product.ID, "slug": product.Slug})
	return product, nil
}

// UpdateProduct replaces the product definition. The repository keeps the stored stock counters,
// which only reservations and SetStock may change; existing orders keep their captured prices.
func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	existing, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	product, err := s.buildProduct(ctx, cmd, &existing)
	if err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.clock()
	if product.Slug != existing.Slug {
		if product.Slug, err = s.uniqueSlug(ctx, product.Slug, strings.TrimSpace(cmd.Slug) != "", existing.ID); err != nil {
			return Product{}, err
		}
	}
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "catalog.product.updated", map[string]any{"productId": product.ID, "price": product.Price})
	if stored, err := s.products.FindByID(ctx, product.ID); err == nil {
		return stored, nil
	}
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "catalog.product.deleted", map[string]any{"productId": productID})
	return nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) GetProductBySlug(ctx context.Context, slug string) (Product, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return Product{}, fmt.Errorf("%w: slug is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindBySlug(ctx, slug)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[Product], error) {
	page, err := s.products.List(ctx, repositories.ProductListFilter{
		CategoryID:    strings.TrimSpace(filter.CategoryID),
		SubCategory:   strings.TrimSpace(filter.SubCategory),
		PublishedOnly: filter.PublishedOnly,
		Pagination:    filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	category, err := buildCategory(cmd)
	if err != nil {
		return Category{}, err
	}
	now := s.clock()
	category.ID = categoryIDPrefix + s.newID()
	category.CreatedAt = now
	category.UpdatedAt = now
	if err := s.ensureCategorySlugFree(ctx, category.Slug, ""); err != nil {
		return Category{}, err
	}
	if err := s.categories.Insert(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Category{}, fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	existing, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	category, err := buildCategory(cmd)
	if err != nil {
		return Category{}, err
	}
	category.ID = existing.ID
	category.CreatedAt = existing.CreatedAt
	category.UpdatedAt = s.clock()
	if err := s.ensureCategorySlugFree(ctx, category.Slug, existing.ID); err != nil {
		return Category{}, err
	}
	if err := s.categories.Update(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category id is required", ErrCatalogInvalidInput)
	}
	count, err := s.products.CountByCategory(ctx, categoryID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if count > 0 {
		return fmt.Errorf("%w: category still has %d products", ErrCatalogConflict, count)
	}
	if err := s.categories.Delete(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return categories, nil
}

func (s *catalogService) ProductImageUploadURL(ctx context.Context, cmd ProductImageUploadCommand) (SignedUpload, error) {
	if s.images == nil {
		return SignedUpload{}, fmt.Errorf("%w: image uploads are not configured", ErrCatalogUnavailable)
	}
	contentType := strings.ToLower(strings.TrimSpace(cmd.ContentType))
	if !slices.Contains(allowedImageContentTypes, contentType) {
		return SignedUpload{}, fmt.Errorf("%w: content type %q is not an allowed image type", ErrCatalogInvalidInput, cmd.ContentType)
	}
	if _, err := s.GetProduct(ctx, cmd.ProductID); err != nil {
		return SignedUpload{}, err
	}
	fileName := strings.TrimSpace(cmd.FileName)
	if path.Ext(fileName) == "" {
		fileName += "." + strings.TrimPrefix(contentType, "image/")
	}
	objectPath, err := storage.BuildObjectPath(storage.PurposeProductImage, storage.PathParams{
		ProductID: strings.TrimSpace(cmd.ProductID),
		UploadID:  strings.ToLower(s.newID()),
		FileName:  fileName,
	})
	if err != nil {
		return SignedUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	upload, err := s.images.SignedUploadURL(ctx, objectPath, contentType)
	if err != nil {
		return SignedUpload{}, fmt.Errorf("catalog: sign upload: %w", err)
	}
	return upload, nil
}

func (s *catalogService) buildProduct(ctx context.Context, cmd UpsertProductCommand, existing *Product) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	switch {
	case name == "":
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	case len(name) > productNameMaxLength:
		return Product{}, fmt.Errorf("%w: name must be at most %d characters", ErrCatalogInvalidInput, productNameMaxLength)
	case cmd.Price < 0:
		return Product{}, fmt.Errorf("%w: price must be non-negative", ErrCatalogInvalidInput)
	case cmd.Stock < 0:
		return Product{}, fmt.Errorf("%w: stock must be non-negative", ErrCatalogInvalidInput)
	case cmd.CostPerItem != nil && *cmd.CostPerItem < 0:
		return Product{}, fmt.Errorf("%w: cost per item must be non-negative", ErrCatalogInvalidInput)
	case len(cmd.Images) > productMaxImages:
		return Product{}, fmt.Errorf("%w: at most %d images are allowed", ErrCatalogInvalidInput, productMaxImages)
	case len(cmd.Variants) > productMaxVariants:
		return Product{}, fmt.Errorf("%w: at most %d variants are allowed", ErrCatalogInvalidInput, productMaxVariants)
	}

	description := s.policy.Sanitize(strings.TrimSpace(cmd.Description))
	if len(description) > productDescriptionMaxLength {
		return Product{}, fmt.Errorf("%w: description is too long", ErrCatalogInvalidInput)
	}

	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Product{}, fmt.Errorf("%w: category is required", ErrCatalogInvalidInput)
	}
	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		if errors.Is(s.mapRepositoryError(err), ErrCatalogNotFound) {
			return Product{}, fmt.Errorf("%w: category %s does not exist", ErrCatalogInvalidInput, categoryID)
		}
		return Product{}, s.mapRepositoryError(err)
	}
	subCategory := strings.TrimSpace(cmd.SubCategory)
	if subCategory != "" && len(category.SubCategories) > 0 && !slices.Contains(category.SubCategories, subCategory) {
		return Product{}, fmt.Errorf("%w: sub-category %q is not part of %s", ErrCatalogInvalidInput, subCategory, category.Name)
	}

	slug := Slugify(cmd.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return Product{}, fmt.Errorf("%w: a slug could not be derived from the name", ErrCatalogInvalidInput)
	}

	images := make([]string, 0, len(cmd.Images))
	for _, image := range cmd.Images {
		if image = strings.TrimSpace(image); image != "" {
			images = append(images, image)
		}
	}

	product := Product{
		Name:        name,
		Slug:        slug,
		Description: description,
		Price:       cmd.Price,
		CostPerItem: cloneInt64Ptr(cmd.CostPerItem),
		Stock:       cmd.Stock,
		CategoryID:  category.ID,
		SubCategory: subCategory,
		FragranceID: optionalString(derefString(cmd.FragranceID)),
		FormatID:    optionalString(derefString(cmd.FormatID)),
		Images:      images,
		IsPublished: cmd.IsPublished,
	}
	if existing != nil {
		product.Stock = existing.Stock
	}

	seen := make(map[string]struct{}, len(cmd.Variants))
	for i, variant := range cmd.Variants {
		variant.ID = strings.TrimSpace(variant.ID)
		variant.Name = strings.TrimSpace(variant.Name)
		switch {
		case variant.Name == "":
			return Product{}, fmt.Errorf("%w: variant %d name is required", ErrCatalogInvalidInput, i)
		case variant.Price < 0 || variant.Stock < 0:
			return Product{}, fmt.Errorf("%w: variant %d price and stock must be non-negative", ErrCatalogInvalidInput, i)
		case variant.CostPerItem != nil && *variant.CostPerItem < 0:
			return Product{}, fmt.Errorf("%w: variant %d cost must be non-negative", ErrCatalogInvalidInput, i)
		}
		if variant.ID == "" {
			variant.ID = variantIDPrefix + strings.ToLower(s.newID())
		}
		if _, dup := seen[variant.ID]; dup {
			return Product{}, fmt.Errorf("%w: duplicate variant id %s", ErrCatalogInvalidInput, variant.ID)
		}
		seen[variant.ID] = struct{}{}
		if existing != nil {
			if stored, ok := existing.Variant(variant.ID); ok {
				variant.Stock = stored.Stock
			}
		}
		variant.CostPerItem = cloneInt64Ptr(variant.CostPerItem)
		product.Variants = append(product.Variants, variant)
	}
	return product, nil
}

func (s *catalogService) uniqueSlug(ctx context.Context, slug string, explicit bool, selfID string) (string, error) {
	existing, err := s.products.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(s.mapRepositoryError(err), ErrCatalogNotFound) {
			return slug, nil
		}
		return "", s.mapRepositoryError(err)
	}
	if existing.ID == selfID {
		return slug, nil
	}
	if explicit {
		return "", fmt.Errorf("%w: slug %q is already used", ErrCatalogConflict, slug)
	}
	suffix := strings.ToLower(s.newID())
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return slug + "-" + suffix, nil
}

func (s *catalogService) ensureCategorySlugFree(ctx context.Context, slug, selfID string) error {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	for _, category := range categories {
		if category.Slug == slug && category.ID != selfID {
			return fmt.Errorf("%w: category slug %q is already used", ErrCatalogConflict, slug)
		}
	}
	return nil
}

func buildCategory(cmd UpsertCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	slug := Slugify(cmd.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	if slug == "" {
		return Category{}, fmt.Errorf("%w: a slug could not be derived from the name", ErrCatalogInvalidInput)
	}
	var subCategories []string
	for _, sub := range cmd.SubCategories {
		sub = strings.TrimSpace(sub)
		if sub == "" || slices.Contains(subCategories, sub) {
			continue
		}
		subCategories = append(subCategories, sub)
	}
	return Category{Name: name, Slug: slug, SubCategories: subCategories}, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorProductNotFound {
		return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}

func cloneInt64Ptr(value *int64) *int64 {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
