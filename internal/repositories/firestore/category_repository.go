package firestore

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/repositories"
)

const categoriesCollection = "categories"

// CategoryRepository persists catalog categories.
type CategoryRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[categoryDocument]
}

var _ repositories.CategoryRepository = (*CategoryRepository)(nil)

func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[categoryDocument](provider, categoriesCollection, nil)
	return &CategoryRepository{provider: provider, base: base}, nil
}

func (r *CategoryRepository) Insert(ctx context.Context, category domain.Category) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		taken, err := slugTaken(tx, client.Collection(categoriesCollection), category.Slug, category.ID)
		if err != nil {
			return err
		}
		if taken {
			return pfirestore.ConflictError("categories.insert", category.Slug)
		}
		ref, err := r.base.DocumentRef(ctx, category.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, encodeCategory(category))
	})
}

func (r *CategoryRepository) Update(ctx context.Context, category domain.Category) error {
	ref, err := r.base.DocumentRef(ctx, category.ID)
	if err != nil {
		return err
	}
	doc := encodeCategory(category)
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "name", Value: doc.Name},
		{Path: "slug", Value: doc.Slug},
		{Path: "subCategories", Value: doc.SubCategories},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	})
	return pfirestore.WrapError("categories.update", err)
}

func (r *CategoryRepository) Delete(ctx context.Context, categoryID string) error {
	return r.base.Delete(ctx, categoryID)
}

func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	doc, err := r.base.Get(ctx, categoryID)
	if err != nil {
		return domain.Category{}, err
	}
	return decodeCategory(doc.ID, doc.Data), nil
}

func (r *CategoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	result := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		result = append(result, decodeCategory(doc.ID, doc.Data))
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

type categoryDocument struct {
	Name          string    `firestore:"name"`
	Slug          string    `firestore:"slug"`
	SubCategories []string  `firestore:"subCategories"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func encodeCategory(c domain.Category) categoryDocument {
	subs := c.SubCategories
	if subs == nil {
		subs = []string{}
	}
	return categoryDocument{
		Name:          c.Name,
		Slug:          c.Slug,
		SubCategories: subs,
		CreatedAt:     c.CreatedAt.UTC(),
		UpdatedAt:     c.UpdatedAt.UTC(),
	}
}

func decodeCategory(id string, d categoryDocument) domain.Category {
	return domain.Category{
		ID:            id,
		Name:          d.Name,
		Slug:          d.Slug,
		SubCategories: append([]string(nil), d.SubCategories...),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
