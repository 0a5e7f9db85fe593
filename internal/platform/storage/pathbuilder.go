package storage

import (
	"fmt"
	"path"
	"strings"
)

// AssetPurpose selects the bucket layout for an upload.
type AssetPurpose string

const (
	PurposeProductImage  AssetPurpose = "product-image"
	PurposeCategoryImage AssetPurpose = "category-image"
)

// PathParams are the identifiers an object key is composed from. Which fields are required
// depends on the purpose.
type PathParams struct {
	ProductID  string
	CategoryID string
	UploadID   string
	FileName   string
}

// BuildObjectPath returns the object key for purpose. Product images are keyed by upload id so
// re-uploads never overwrite a published image; the original extension is kept lower-cased.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	switch purpose {
	case PurposeProductImage:
		segs, err := segments(
			field{"productID", params.ProductID},
			field{"uploadID", params.UploadID},
			field{"fileName", params.FileName},
		)
		if err != nil {
			return "", err
		}
		return "products/" + segs[0] + "/images/" + segs[1] + strings.ToLower(path.Ext(segs[2])), nil
	case PurposeCategoryImage:
		segs, err := segments(
			field{"categoryID", params.CategoryID},
			field{"fileName", params.FileName},
		)
		if err != nil {
			return "", err
		}
		return "categories/" + segs[0] + "/" + segs[1], nil
	default:
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
}

type field struct {
	name  string
	value string
}

// segments trims each value and rejects empty values and anything that could escape its prefix.
func segments(fields ...field) ([]string, error) {
	out := make([]string, len(fields))
	for i, f := range fields {
		v := strings.TrimSpace(f.value)
		switch {
		case v == "":
			return nil, fmt.Errorf("storage: %s is required", f.name)
		case strings.ContainsAny(v, `/\`), strings.Contains(v, ".."):
			return nil, fmt.Errorf("storage: %s %q is not a valid path segment", f.name, v)
		}
		out[i] = v
	}
	return out, nil
}
