package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	domain "github.com/attarhouse/storefront/internal/domain"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Parse reads pageSize and pageToken from the query string. The token is validated but kept opaque.
func Parse(values url.Values) (domain.Pagination, error) {
	size := DefaultPageSize
	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return domain.Pagination{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		size = parsed
	}
	if size > DefaultMaxPageSize {
		size = DefaultMaxPageSize
	}

	token := strings.TrimSpace(values.Get("pageToken"))
	if _, err := DecodeToken(token); err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{PageSize: size, PageToken: token}, nil
}

// Limit normalises a requested page size.
func Limit(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > DefaultMaxPageSize:
		return DefaultMaxPageSize
	default:
		return size
	}
}

// Window slices an in-memory result set according to the page, returning the items for this page
// and the token of the next one.
func Window[T any](items []T, page domain.Pagination) ([]T, string, error) {
	cursor, err := DecodeToken(page.PageToken)
	if err != nil {
		return nil, "", err
	}
	start := cursor.Offset
	if start > len(items) {
		start = len(items)
	}
	end := start + Limit(page.PageSize)
	if end > len(items) {
		end = len(items)
	}
	next := ""
	if end < len(items) {
		next, err = EncodeToken(Cursor{Offset: end})
		if err != nil {
			return nil, "", err
		}
	}
	return items[start:end], next, nil
}
