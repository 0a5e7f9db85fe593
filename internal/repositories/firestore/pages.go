package firestore

import (
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/attarhouse/storefront/internal/domain"
	pfirestore "github.com/attarhouse/storefront/internal/platform/firestore"
	"github.com/attarhouse/storefront/internal/platform/pagination"
)

// Firestore "in" filters accept at most this many values.
const maxInValues = 10

// newestFirst orders a query by createdAt then document ID, descending, and applies the page
// cursor. It returns the fetch limit, one more than the page size so the caller can tell whether
// another page exists.
func newestFirst(q firestore.Query, page domain.Pagination) (firestore.Query, int, error) {
	cursor, err := pagination.DecodeToken(page.PageToken)
	if err != nil {
		return q, 0, err
	}
	q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if len(cursor.After) == 2 {
		after, err := time.Parse(time.RFC3339Nano, cursor.After[0])
		if err != nil {
			return q, 0, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
		}
		q = q.StartAfter(after, cursor.After[1])
	}
	fetch := pagination.Limit(page.PageSize) + 1
	return q.Limit(fetch), fetch, nil
}

// pageOf trims the look-ahead document and encodes the cursor of the last returned item.
func pageOf[D any, T any](docs []pfirestore.Document[D], fetch int, createdAt func(D) time.Time, decode func(string, D) T) (domain.CursorPage[T], error) {
	next := ""
	if len(docs) == fetch {
		docs = docs[:len(docs)-1]
		last := docs[len(docs)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			After: []string{createdAt(last.Data).UTC().Format(time.RFC3339Nano), last.ID},
		})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		next = token
	}
	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decode(doc.ID, doc.Data))
	}
	return domain.CursorPage[T]{Items: items, NextPageToken: next}, nil
}

func timePtrUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
