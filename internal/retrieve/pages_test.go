package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllPages_WalksToEnd(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	pages := [][]string{
		{"a", "b"},
		{"c"},
		{"d", "e"},
	}
	expiries := []time.Time{
		base.Add(time.Minute),
		base.Add(3 * time.Minute), // freshest
		base.Add(2 * time.Minute),
	}

	items, expires, err := AllPages(ctx, func(ctx context.Context, page int) (Page[string], error) {
		require.LessOrEqual(t, page, len(pages))
		return Page[string]{
			Items:   pages[page-1],
			Expires: expiries[page-1],
			More:    page < len(pages),
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, items)
	assert.Equal(t, base.Add(3*time.Minute), expires, "freshest expiry across pages wins")
}

func TestAllPages_SinglePage(t *testing.T) {
	ctx := context.Background()

	items, _, err := AllPages(ctx, func(ctx context.Context, page int) (Page[int], error) {
		return Page[int]{Items: []int{1, 2, 3}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, items)
}

func TestAllPages_PropagatesError(t *testing.T) {
	ctx := context.Background()

	_, _, err := AllPages(ctx, func(ctx context.Context, page int) (Page[int], error) {
		if page == 2 {
			return Page[int]{}, assert.AnError
		}
		return Page[int]{Items: []int{page}, More: true}, nil
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestFeedCursor_RoundTrip(t *testing.T) {
	c := FeedCursor{HighWaterMark: 10000, BackfillLow: 7441}
	parsed, err := ParseFeedCursor(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	empty, err := ParseFeedCursor("")
	require.NoError(t, err)
	assert.Equal(t, FeedCursor{}, empty)

	_, err = ParseFeedCursor("1000|2000|3000")
	assert.Error(t, err, "legacy delimiter-joined cursors are rejected, not misparsed")
}

func TestSnapshotCursor_RoundTrip(t *testing.T) {
	// An etag containing a delimiter-ish value survives unharmed; the
	// structured encoding has no unescaped-separator failure mode.
	c := SnapshotCursor{ETag: `W/"abc|def;123"`}
	parsed, err := ParseSnapshotCursor(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)
}
