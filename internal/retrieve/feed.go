package retrieve

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Record is one item of a monotonic-ID feed.
type Record interface {
	FeedID() int64
}

// LatestFunc fetches the provider's most recent window of records. The
// provider guarantees only recency per call, not a complete export, and
// has no explicit end-of-data signal in this direction.
type LatestFunc[R Record] func(ctx context.Context) ([]R, error)

// BeforeFunc fetches records with IDs strictly below beforeID. An empty
// slice is the explicit end of the provider's history.
type BeforeFunc[R Record] func(ctx context.Context, beforeID int64) ([]R, error)

// WalkResult is the outcome of one feed cycle: the records owed to the
// store, in ascending ID order, and the cursor to persist for the next
// cycle.
type WalkResult[R Record] struct {
	Records []R
	Cursor  FeedCursor
	CapHit  bool
}

// WalkFeed runs one cycle of the two-directional walk over an
// append-only feed too large to fetch in a single cycle.
//
// Forward walk: fetch the latest window repeatedly until the maximum
// observed ID stops increasing, or the per-cycle cap is hit. A stalled
// maximum is the only forward termination signal the provider offers;
// it means a provider returning the identical window twice reads as
// end-of-data.
//
// Backward walk: while the cap is unreached and the backfill is
// incomplete, fetch records below the lowest ID covered so far until
// the provider returns an empty page.
//
// Records already covered by the cursor are never re-emitted within the
// covered interval. The walk descends contiguously from the newest
// observed ID until it merges with the covered interval (or the start
// of history), so a burst of new records larger than the provider's
// latest window still gets backfilled and a backlog of N records is
// fully captured within ceil(N/cap) cycles. A cap interrupt while the
// feed was previously fully backfilled narrows the cursor to the
// contiguous top region; later cycles may then re-emit old records,
// which append-only reconciliation absorbs.
func WalkFeed[R Record](ctx context.Context, cursor FeedCursor, limit int, latest LatestFunc[R], before BeforeFunc[R]) (WalkResult[R], error) {
	if limit <= 0 {
		limit = math.MaxInt
	}

	kept := make(map[int64]R)
	capHit := false
	// done means the contiguous region anchored at maxSeen reaches the
	// start of history, directly or through the covered interval.
	done := false
	// low is the bottom of the contiguous region anchored at maxSeen. It
	// is derived only from observations this cycle: trusting the cursor
	// here would skip the gap a burst opens above the old high-water-mark.
	var maxSeen, low int64

	covered := func(id int64) bool {
		if id > cursor.HighWaterMark {
			return false
		}
		if cursor.BackfillDone {
			return true
		}
		return cursor.BackfillLow > 0 && id >= cursor.BackfillLow
	}

	// keepPage records one page's worth of observations, newest first so
	// that when the cap interrupts mid-page everything kept sits above
	// everything dropped. Touching the covered interval extends the
	// contiguous region down to its bottom.
	keepPage := func(page []R) {
		sort.Slice(page, func(i, j int) bool { return page[i].FeedID() > page[j].FeedID() })
		for _, r := range page {
			id := r.FeedID()
			if id > maxSeen {
				maxSeen = id
			}
			if covered(id) {
				if cursor.BackfillDone {
					done = true
				} else if low == 0 || cursor.BackfillLow < low {
					low = cursor.BackfillLow
				}
				continue
			}
			if _, dup := kept[id]; dup {
				continue
			}
			if len(kept) >= limit {
				capHit = true
				return
			}
			kept[id] = r
			if low == 0 || id < low {
				low = id
			}
		}
	}

	// Forward walk.
	prevMax := int64(-1)
	for !capHit {
		page, err := latest(ctx)
		if err != nil {
			return WalkResult[R]{}, fmt.Errorf("fetch latest: %w", err)
		}
		if len(page) == 0 {
			break
		}
		keepPage(page)
		if maxSeen == prevMax {
			break
		}
		prevMax = maxSeen
	}

	if maxSeen == 0 {
		// Nothing observed this cycle; keep the cursor as it was.
		return WalkResult[R]{Cursor: cursor}, nil
	}

	// Backward walk: descend below the contiguous region until it merges
	// with the covered interval or the provider's history runs out.
	for !done && !capHit && low > 0 {
		page, err := before(ctx, low)
		if err != nil {
			return WalkResult[R]{}, fmt.Errorf("fetch before %d: %w", low, err)
		}
		if len(page) == 0 {
			done = true
			break
		}
		keepPage(page)
	}

	records := make([]R, 0, len(kept))
	for _, r := range kept {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].FeedID() < records[j].FeedID() })

	next := FeedCursor{
		HighWaterMark: cursor.HighWaterMark,
		BackfillDone:  done,
	}
	if maxSeen > next.HighWaterMark {
		next.HighWaterMark = maxSeen
	}
	if !done && low > 0 {
		next.BackfillLow = low
	}
	return WalkResult[R]{Records: records, Cursor: next, CapHit: capHit}, nil
}
