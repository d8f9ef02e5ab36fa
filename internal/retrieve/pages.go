package retrieve

import (
	"context"
	"fmt"
	"time"
)

// Page is one page of a bounded paged retrieval. More reports whether
// the provider has further pages; an empty Items with More false is the
// explicit end-of-data value, never an error.
type Page[T any] struct {
	Items   []T
	Expires time.Time
	More    bool
}

// PageFunc fetches one page, 1-based.
type PageFunc[T any] func(ctx context.Context, page int) (Page[T], error)

// AllPages walks pages 1..N until the provider reports no further
// pages, returning the concatenated items and the freshest expiry
// signal seen across all pages.
func AllPages[T any](ctx context.Context, fetch PageFunc[T]) ([]T, time.Time, error) {
	var (
		items   []T
		expires time.Time
	)
	for page := 1; ; page++ {
		p, err := fetch(ctx, page)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("page %d: %w", page, err)
		}
		items = append(items, p.Items...)
		if p.Expires.After(expires) {
			expires = p.Expires
		}
		if !p.More {
			return items, expires, nil
		}
	}
}
